// ABOUTME: Outbound message gateway contract and a mux routing sends by frontend
// ABOUTME: Conversation IDs are "<frontend>:<native id>", e.g. "telegram:42"

package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownFrontend is returned when no gateway is registered for a conversation's frontend.
var ErrUnknownFrontend = errors.New("unknown frontend")

// MessageGateway delivers text with an optional single-column keyboard.
type MessageGateway interface {
	Send(ctx context.Context, conversationID, text string, buttons []Button) error
}

// ConversationKey joins a frontend name and its native chat ID.
func ConversationKey(frontend, nativeID string) string {
	return frontend + ":" + nativeID
}

// SplitConversationKey splits a conversation ID at its first colon.
func SplitConversationKey(key string) (frontend, nativeID string, ok bool) {
	frontend, nativeID, ok = strings.Cut(key, ":")
	if !ok || frontend == "" || nativeID == "" {
		return "", "", false
	}
	return frontend, nativeID, true
}

// GatewayMux sends each message through the gateway registered for the
// conversation's frontend.
type GatewayMux struct {
	mu       sync.RWMutex
	gateways map[string]MessageGateway
}

// NewGatewayMux creates an empty mux.
func NewGatewayMux() *GatewayMux {
	return &GatewayMux{gateways: make(map[string]MessageGateway)}
}

// Register routes conversations of frontend to g, replacing any previous gateway.
func (m *GatewayMux) Register(frontend string, g MessageGateway) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateways[frontend] = g
}

// Frontends returns the registered frontend names.
func (m *GatewayMux) Frontends() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.gateways))
	for name := range m.gateways {
		names = append(names, name)
	}
	return names
}

// Send implements MessageGateway.
func (m *GatewayMux) Send(ctx context.Context, conversationID, text string, buttons []Button) error {
	frontend, _, ok := SplitConversationKey(conversationID)
	if !ok {
		return fmt.Errorf("%w: malformed conversation id %q", ErrUnknownFrontend, conversationID)
	}

	m.mu.RLock()
	g, ok := m.gateways[frontend]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFrontend, frontend)
	}
	return g.Send(ctx, conversationID, text, buttons)
}
