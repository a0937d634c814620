// ABOUTME: Bot event ledger recording inbound and outbound chat traffic
// ABOUTME: Provides BotEvent struct and append/list operations per conversation

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventDirection tells whether an event came from the user or from the bot
type EventDirection string

const (
	EventDirectionInbound  EventDirection = "inbound"
	EventDirectionOutbound EventDirection = "outbound"
)

// Event kinds recorded in the ledger.
const (
	EventKindText     = "text"
	EventKindCallback = "callback"
	EventKindMessage  = "message"
)

// BotEvent is one entry of the conversation ledger.
type BotEvent struct {
	ID             string // UUID
	ConversationID string // e.g. "telegram:12345"
	Direction      EventDirection
	Kind           string
	Body           string
	CreatedAt      time.Time
}

// EventStore persists the conversation ledger.
type EventStore interface {
	SaveBotEvent(ctx context.Context, event *BotEvent) error
	ListBotEvents(ctx context.Context, conversationID string, limit int) ([]*BotEvent, error)
}

// defaultEventLimit caps ListBotEvents when no limit is given.
const defaultEventLimit = 100

// SaveBotEvent appends an event to the ledger. A missing ID or timestamp is
// filled in.
func (s *SQLiteStore) SaveBotEvent(ctx context.Context, event *BotEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_events (event_id, conversation_id, direction, kind, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.ConversationID,
		string(event.Direction),
		event.Kind,
		event.Body,
		formatTime(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting bot event: %w", err)
	}
	return nil
}

// ListBotEvents returns the most recent events of a conversation in
// chronological order. A limit <= 0 uses the default of 100.
func (s *SQLiteStore) ListBotEvents(ctx context.Context, conversationID string, limit int) ([]*BotEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, conversation_id, direction, kind, body, created_at FROM (
			SELECT rowid AS seq, * FROM bot_events
			WHERE conversation_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		) ORDER BY created_at ASC, seq ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying bot events: %w", err)
	}
	defer rows.Close()

	var events []*BotEvent
	for rows.Next() {
		var e BotEvent
		var direction, createdAt string
		if err := rows.Scan(&e.ID, &e.ConversationID, &direction, &e.Kind, &e.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning bot event: %w", err)
		}
		e.Direction = EventDirection(direction)
		e.CreatedAt = parseTime(createdAt)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bot events: %w", err)
	}
	return events, nil
}
