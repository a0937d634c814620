// ABOUTME: Admin HTTP API exposing health probes, conversation state and the event ledger
// ABOUTME: The /api routes require a bearer JWT when auth.jwt_secret is configured

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/taskbot/internal/auth"
	"github.com/2389/taskbot/internal/bot"
)

// BotEventResponse is one ledger entry in GET /api/conversations/{id}/events.
type BotEventResponse struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// ConversationEventsResponse is the JSON response for GET /api/conversations/{id}/events.
type ConversationEventsResponse struct {
	ConversationID string             `json:"conversation_id"`
	Events         []BotEventResponse `json:"events"`
}

// ListConversationsResponse is the JSON response for GET /api/conversations.
type ListConversationsResponse struct {
	Conversations []bot.Snapshot `json:"conversations"`
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

func (s *Server) routes(verifier auth.TokenVerifier) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)

	requireAuth := auth.RequireBearer(verifier)
	mux.Handle("GET /api/conversations", requireAuth(http.HandlerFunc(s.handleListConversations)))
	mux.Handle("GET /api/conversations/{id}", requireAuth(http.HandlerFunc(s.handleGetConversation)))
	mux.Handle("GET /api/conversations/{id}/events", requireAuth(http.HandlerFunc(s.handleConversationEvents)))
	return mux
}

// handleHealth returns 200 OK if the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 once the frontends are running and the database answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("frontends not started"))
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d frontends)", len(s.frontends))
}

// handleListConversations returns a snapshot of every conversation in memory.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ListConversationsResponse{Conversations: s.engine.Table().Snapshots()})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, _, ok := bot.SplitConversationKey(id); !ok {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	st, ok := s.engine.Table().Get(id)
	if !ok {
		s.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st.Snapshot())
}

// handleConversationEvents returns the most recent ledger entries of a
// conversation in chronological order, optionally limited by ?limit=N.
func (s *Server) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, _, ok := bot.SplitConversationKey(id); !ok {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	limit := defaultEventLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxEventLimit)
	}

	events, err := s.store.ListBotEvents(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to list bot events", "conversation_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ConversationEventsResponse{
		ConversationID: id,
		Events:         make([]BotEventResponse, len(events)),
	}
	for i, ev := range events {
		response.Events[i] = BotEventResponse{
			ID:        ev.ID,
			Direction: string(ev.Direction),
			Kind:      ev.Kind,
			Body:      ev.Body,
			CreatedAt: ev.CreatedAt.Format(time.RFC3339),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
