// ABOUTME: Inbound event envelope and the classifier that turns it into text or callback events
// ABOUTME: Events without a conversation or without text/callback payload are dropped

package bot

import "strings"

// Event is either a TextEvent or a CallbackEvent.
type Event interface {
	ConversationID() string
	isEvent()
}

// TextEvent is a free-text message typed by the user.
type TextEvent struct {
	Conversation string
	Text         string
}

// CallbackEvent is a button press echoing the button's token.
type CallbackEvent struct {
	Conversation string
	Token        string
}

func (e TextEvent) ConversationID() string     { return e.Conversation }
func (e CallbackEvent) ConversationID() string { return e.Conversation }
func (TextEvent) isEvent()                     {}
func (CallbackEvent) isEvent()                 {}

// Inbound is what a transport adapter hands to the engine. Text and
// CallbackToken are nil when the update carried no such payload.
type Inbound struct {
	DeliveryID     string // unique per transport delivery, used for dedupe
	ConversationID string // frontend-qualified, e.g. "telegram:42"
	Sender         string
	Text           *string
	CallbackToken  *string
}

// Classify turns an inbound update into an Event. A callback wins over text.
// It returns false for updates the engine cannot answer: no conversation,
// or neither a callback nor non-blank text.
func Classify(in Inbound) (Event, bool) {
	if in.ConversationID == "" {
		return nil, false
	}
	if in.CallbackToken != nil {
		return CallbackEvent{Conversation: in.ConversationID, Token: *in.CallbackToken}, true
	}
	if in.Text != nil && strings.TrimSpace(*in.Text) != "" {
		return TextEvent{Conversation: in.ConversationID, Text: *in.Text}, true
	}
	return nil, false
}

// TextInbound builds an Inbound carrying text.
func TextInbound(deliveryID, conversationID, text string) Inbound {
	return Inbound{DeliveryID: deliveryID, ConversationID: conversationID, Text: &text}
}

// CallbackInbound builds an Inbound carrying a callback token.
func CallbackInbound(deliveryID, conversationID, token string) Inbound {
	return Inbound{DeliveryID: deliveryID, ConversationID: conversationID, CallbackToken: &token}
}
