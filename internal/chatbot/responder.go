package chatbot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simsocial/conversation-orchestrator/internal/model"
	"github.com/simsocial/conversation-orchestrator/internal/notify"
	"github.com/simsocial/conversation-orchestrator/internal/speech"
	"github.com/simsocial/conversation-orchestrator/internal/store"
	"github.com/simsocial/conversation-orchestrator/internal/transport"
	"github.com/simsocial/conversation-orchestrator/pkg/logger"
	"github.com/simsocial/conversation-orchestrator/pkg/metrics"
)

// Responder sends outbound messages and records them. Every successful
// transport send produces exactly one message row carrying the transport's
// message id, so delivery callbacks can be correlated later. A failed send
// records nothing.
type Responder struct {
	store       *store.Store
	transport   transport.Transport
	sink        notify.Sink
	synthesizer speech.Synthesizer // nil when voice replies are disabled
	logger      *logger.Logger
}

// NewResponder creates a responder. synthesizer may be nil.
func NewResponder(st *store.Store, tr transport.Transport, sink notify.Sink, synth speech.Synthesizer, log *logger.Logger) *Responder {
	return &Responder{
		store:       st,
		transport:   tr,
		sink:        sink,
		synthesizer: synth,
		logger:      log,
	}
}

// SendText sends a plain text reply.
func (r *Responder) SendText(ctx context.Context, conv *model.Conversation, body string) (*model.Message, error) {
	result, err := r.transport.SendText(ctx, &conv.Account, conv.Contact.PhoneNumber, body)
	if err != nil {
		return nil, err
	}
	return r.record(ctx, conv, result, model.TypeText, body, nil)
}

// SendVoiceOrText replies with synthesized audio when preferAudio is set and
// a synthesizer is available, falling back to text when synthesis or the
// audio send fails. The contact still gets an answer either way.
func (r *Responder) SendVoiceOrText(ctx context.Context, conv *model.Conversation, body string, preferAudio bool) (*model.Message, error) {
	if preferAudio && r.synthesizer != nil {
		audioURL, err := r.synthesizer.Synthesize(ctx, body, conv.ConversationKey)
		if err == nil {
			result, err := r.transport.SendAudio(ctx, &conv.Account, conv.Contact.PhoneNumber, audioURL)
			if err == nil {
				return r.record(ctx, conv, result, model.TypeAudio, body, &model.Media{URL: audioURL, MimeType: "audio/mpeg"})
			}
			r.logger.Warn("audio send failed, falling back to text",
				zap.Uint("conversation_id", conv.ID),
				zap.Error(err),
			)
		} else {
			r.logger.Warn("speech synthesis failed, falling back to text",
				zap.Uint("conversation_id", conv.ID),
				zap.Error(err),
			)
		}
	}
	return r.SendText(ctx, conv, body)
}

// SendForm sends an interactive structured-input form.
func (r *Responder) SendForm(ctx context.Context, conv *model.Conversation, form *transport.Form) (*model.Message, error) {
	result, err := r.transport.SendInteractiveForm(ctx, &conv.Account, conv.Contact.PhoneNumber, form)
	if err != nil {
		return nil, err
	}
	return r.record(ctx, conv, result, model.TypeInteractive, form.Body, nil)
}

func (r *Responder) record(ctx context.Context, conv *model.Conversation, result *transport.SendResult, msgType, content string, media *model.Media) (*model.Message, error) {
	now := time.Now()
	msg := &model.Message{
		MessageKey:     uuid.NewString(),
		ExternalID:     result.MessageID,
		ConversationID: conv.ID,
		ContactID:      conv.ContactID,
		Direction:      model.DirectionOutbound,
		Type:           msgType,
		Status:         model.MessageSent,
		Content:        &content,
		Media:          media,
		IsAIGenerated:  true,
		SentAt:         &now,
	}
	if _, err := r.store.InsertMessage(ctx, msg); err != nil {
		// The contact received the message; the row failed. Log loudly and
		// surface the error so the caller can decide.
		r.logger.Error("outbound message sent but not recorded",
			zap.Uint("conversation_id", conv.ID),
			zap.String("external_id", result.MessageID),
			zap.Error(err),
		)
		return nil, err
	}
	if err := r.store.TouchConversation(ctx, conv.ID); err != nil {
		r.logger.Warn("touch conversation failed", zap.Uint("conversation_id", conv.ID), zap.Error(err))
	}
	metrics.MessagesTotal.WithLabelValues(model.DirectionOutbound, msgType).Inc()
	r.sink.MessageSent(conv, msg)
	return msg, nil
}
