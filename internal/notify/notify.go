// Package notify publishes realtime message events for live dashboard
// consumers outside this core.
package notify

import (
	"time"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

// Event names.
const (
	EventMessageSent     = "message.sent"
	EventMessageReceived = "message.received"
)

// MessageEvent is the payload delivered to realtime consumers.
type MessageEvent struct {
	Event           string    `json:"event"`
	ConversationKey string    `json:"conversation_key"`
	MessageKey      string    `json:"message_key"`
	ContactID       uint      `json:"contact_id"`
	Direction       string    `json:"direction"`
	Type            string    `json:"type"`
	Content         string    `json:"content,omitempty"`
	At              time.Time `json:"at"`
}

// Sink receives message lifecycle events. Implementations must not block the
// caller on consumer slowness.
type Sink interface {
	MessageSent(conv *model.Conversation, msg *model.Message)
	MessageReceived(conv *model.Conversation, msg *model.Message)
}

// NopSink discards all events; used in tests and when NATS is not configured.
type NopSink struct{}

// MessageSent implements Sink.
func (NopSink) MessageSent(*model.Conversation, *model.Message) {}

// MessageReceived implements Sink.
func (NopSink) MessageReceived(*model.Conversation, *model.Message) {}
