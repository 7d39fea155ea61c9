package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/simsocial/conversation-orchestrator/internal/model"
	"github.com/simsocial/conversation-orchestrator/pkg/logger"
)

// SubjectPrefix is the prefix for all realtime chat subjects.
const SubjectPrefix = "chat"

// NATSSink publishes message events to NATS subjects of the form
// chat.<conversation_key>.<sent|received>.
type NATSSink struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// Config holds NATS connection configuration.
type Config struct {
	URL   string
	Token string
}

// Connect establishes the NATS connection for the realtime sink.
func Connect(cfg Config, log *logger.Logger) (*NATSSink, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: connect to NATS: %w", err)
	}
	return &NATSSink{conn: nc, logger: log}, nil
}

// Close closes the NATS connection.
func (s *NATSSink) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// IsConnected reports connection health for readiness checks.
func (s *NATSSink) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// MessageSent implements Sink.
func (s *NATSSink) MessageSent(conv *model.Conversation, msg *model.Message) {
	s.publish(EventMessageSent, conv, msg)
}

// MessageReceived implements Sink.
func (s *NATSSink) MessageReceived(conv *model.Conversation, msg *model.Message) {
	s.publish(EventMessageReceived, conv, msg)
}

func (s *NATSSink) publish(event string, conv *model.Conversation, msg *model.Message) {
	suffix := "received"
	if event == EventMessageSent {
		suffix = "sent"
	}
	subject := fmt.Sprintf("%s.%s.%s", SubjectPrefix, conv.ConversationKey, suffix)

	payload := MessageEvent{
		Event:           event,
		ConversationKey: conv.ConversationKey,
		MessageKey:      msg.MessageKey,
		ContactID:       msg.ContactID,
		Direction:       msg.Direction,
		Type:            msg.Type,
		Content:         msg.Text(),
		At:              time.Now(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal notify event", zap.Error(err))
		return
	}
	// Realtime events are best-effort; a publish failure never fails the send.
	if err := s.conn.Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish notify event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
