package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simsocial/conversation-orchestrator/internal/model"
	"github.com/simsocial/conversation-orchestrator/internal/notify"
	"github.com/simsocial/conversation-orchestrator/internal/queue"
	"github.com/simsocial/conversation-orchestrator/internal/speech"
	"github.com/simsocial/conversation-orchestrator/internal/storage"
	"github.com/simsocial/conversation-orchestrator/internal/store"
	"github.com/simsocial/conversation-orchestrator/internal/transport"
	"github.com/simsocial/conversation-orchestrator/pkg/logger"
	"github.com/simsocial/conversation-orchestrator/pkg/metrics"
)

// Dialogue is the engine surface the gate routes accepted messages into.
type Dialogue interface {
	HandleInbound(ctx context.Context, conv *model.Conversation, msg *model.Message, fresh bool) error
	HandleFormReply(ctx context.Context, conv *model.Conversation, msg *model.Message) error
	Escalate(ctx context.Context, conversationID uint, cause error)
}

// Gate validates, deduplicates and persists inbound events, then routes them
// asynchronously. Replays of the same upstream event are absorbed here; at
// most one message row and one engine invocation happen per external id.
type Gate struct {
	store        *store.Store
	queue        *queue.Queue
	objects      storage.ObjectStore
	transport    transport.Transport
	dialogue     Dialogue
	sink         notify.Sink
	transcriber  speech.Transcriber // nil disables transcription
	reopenWindow time.Duration
	logger       *logger.Logger
}

// NewGate wires the ingestion gate.
func NewGate(st *store.Store, q *queue.Queue, objects storage.ObjectStore, tr transport.Transport, dialogue Dialogue, sink notify.Sink, transcriber speech.Transcriber, reopenWindow time.Duration, log *logger.Logger) *Gate {
	return &Gate{
		store:        st,
		queue:        q,
		objects:      objects,
		transport:    tr,
		dialogue:     dialogue,
		sink:         sink,
		transcriber:  transcriber,
		reopenWindow: reopenWindow,
		logger:       log,
	}
}

// Process walks a decoded payload and handles every message and status it
// carries. Individual event failures are logged and do not abort the batch.
func (g *Gate) Process(ctx context.Context, payload *Payload) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value

			account, err := g.store.AccountByPhoneNumberID(ctx, value.Metadata.PhoneNumberID)
			if err != nil {
				g.logger.Error("account lookup failed",
					zap.String("phone_number_id", value.Metadata.PhoneNumberID),
					zap.Error(err),
				)
				continue
			}
			if account == nil {
				// Events for unknown numbers are dropped, never guessed.
				g.logger.Warn("event for unknown phone number id, dropping",
					zap.String("phone_number_id", value.Metadata.PhoneNumberID),
				)
				metrics.WebhookEventsTotal.WithLabelValues("message", "unknown_account").Inc()
				continue
			}

			for i := range value.Messages {
				if err := g.handleMessage(ctx, entry.ID, account, &value, &value.Messages[i]); err != nil {
					g.logger.Error("message ingestion failed",
						zap.String("external_id", value.Messages[i].ID),
						zap.Error(err),
					)
					metrics.WebhookEventsTotal.WithLabelValues("message", "error").Inc()
				}
			}
			for i := range value.Statuses {
				if err := g.handleStatus(ctx, &value.Statuses[i]); err != nil {
					g.logger.Error("status ingestion failed",
						zap.String("external_id", value.Statuses[i].ID),
						zap.Error(err),
					)
					metrics.WebhookEventsTotal.WithLabelValues("status", "error").Inc()
				}
			}
		}
	}
}

func (g *Gate) handleMessage(ctx context.Context, businessAccountID string, account *model.Account, value *Value, wire *WireMessage) error {
	// Replays are dropped before any contact or conversation writes; a
	// redelivered event must not refresh last_seen or reopen a closed
	// conversation. The unique index on external_id backstops concurrent
	// deliveries that pass this check together.
	existing, err := g.store.MessageByExternalID(ctx, wire.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		metrics.WebhookEventsTotal.WithLabelValues("message", "duplicate").Inc()
		return nil
	}

	contact, err := g.store.UpsertContact(ctx, wire.From, profileName(value, wire.From))
	if err != nil {
		return err
	}

	conv, fresh, err := g.store.ResolveConversation(ctx, account, contact, g.reopenWindow)
	if err != nil {
		return err
	}
	conv.Account = *account
	conv.Contact = *contact

	msg := &model.Message{
		MessageKey:     uuid.NewString(),
		ExternalID:     wire.ID,
		ConversationID: conv.ID,
		ContactID:      contact.ID,
		Direction:      model.DirectionInbound,
		Type:           wire.Type,
		Status:         model.MessageDelivered,
		Content:        wire.content(),
		Media:          mediaBlob(wire),
		Metadata:       metadataBlob(wire),
	}
	duplicate, err := g.store.InsertMessage(ctx, msg)
	if err != nil {
		return err
	}
	if duplicate {
		metrics.WebhookEventsTotal.WithLabelValues("message", "duplicate").Inc()
		return nil
	}
	metrics.WebhookEventsTotal.WithLabelValues("message", "accepted").Inc()
	metrics.MessagesTotal.WithLabelValues(model.DirectionInbound, wire.Type).Inc()

	// Raw payload audit, keyed for traceability. Best effort.
	auditKey := storage.RawPayloadKey(businessAccountID, value.Metadata.PhoneNumberID, wire.From, wire.ID)
	if _, err := g.objects.PutJSON(auditKey, wire); err != nil {
		g.logger.Warn("raw payload audit failed", zap.String("key", auditKey), zap.Error(err))
	}

	if err := g.store.RecordInboundActivity(ctx, conv, wire.At()); err != nil {
		g.logger.Warn("record inbound activity failed", zap.Uint("conversation_id", conv.ID), zap.Error(err))
	}
	g.sink.MessageReceived(conv, msg)

	if err := g.transport.MarkRead(ctx, account, wire.ID); err != nil {
		g.logger.Warn("mark read failed", zap.String("external_id", wire.ID), zap.Error(err))
	}

	g.route(account, conv, msg, wire, fresh)
	return nil
}

// route hands the accepted message to the right processor on the queue.
// Form replies bypass the dialogue engine; audio goes through download and
// transcription first; remaining media types only get their download job.
func (g *Gate) route(account *model.Account, conv *model.Conversation, msg *model.Message, wire *WireMessage, fresh bool) {
	conversationID := conv.ID

	if wire.isFormReply() {
		g.queue.Enqueue(queue.Task{
			Name: "form_reply",
			Run: func(taskCtx context.Context) error {
				return g.dialogue.HandleFormReply(taskCtx, conv, msg)
			},
			OnPermanentFailure: func(taskCtx context.Context, err error) {
				g.dialogue.Escalate(taskCtx, conversationID, err)
			},
		})
		return
	}

	if wire.Type == model.TypeAudio && conv.IsAIHandled && g.transcriber != nil {
		g.queue.Enqueue(queue.Task{
			Name: "audio_message",
			Run: func(taskCtx context.Context) error {
				return g.processAudio(taskCtx, account, conv, msg, fresh)
			},
			OnPermanentFailure: func(taskCtx context.Context, err error) {
				g.dialogue.Escalate(taskCtx, conversationID, err)
			},
		})
		return
	}

	if msg.Media != nil {
		g.queue.Enqueue(queue.Task{
			Name: "media_download",
			Run: func(taskCtx context.Context) error {
				_, err := g.downloadMedia(taskCtx, account, msg)
				return err
			},
		})
	}

	if conv.IsAIHandled {
		g.queue.Enqueue(queue.Task{
			Name: "dialogue",
			Run: func(taskCtx context.Context) error {
				return g.dialogue.HandleInbound(taskCtx, conv, msg, fresh)
			},
			OnPermanentFailure: func(taskCtx context.Context, err error) {
				g.dialogue.Escalate(taskCtx, conversationID, err)
			},
		})
	}
}

func (g *Gate) handleStatus(ctx context.Context, status *WireStatus) error {
	msg, err := g.store.MessageByExternalID(ctx, status.ID)
	if err != nil {
		return err
	}
	if msg == nil {
		// Campaign template sends have no conversation message row; they
		// correlate by recipient external id instead.
		matched, err := g.store.CorrelateCampaignStatus(ctx, status.ID, status.Status)
		if err != nil {
			return err
		}
		if !matched {
			// Callback for a message this instance never sent. Not an error.
			metrics.WebhookEventsTotal.WithLabelValues("status", "unknown").Inc()
			return nil
		}
		metrics.WebhookEventsTotal.WithLabelValues("status", "accepted").Inc()
		return nil
	}
	if statusApplied(msg, status.Status) {
		metrics.WebhookEventsTotal.WithLabelValues("status", "duplicate").Inc()
		return nil
	}

	if err := g.store.UpdateMessageStatus(ctx, msg, status.Status, status.ErrorText(), status.At()); err != nil {
		return err
	}
	metrics.WebhookEventsTotal.WithLabelValues("status", "accepted").Inc()
	return nil
}

// statusApplied reports whether a callback for this status was already
// processed. Callbacks arrive at least once; the per-transition timestamps
// double as receipts, so a replayed callback is a no-op.
func statusApplied(msg *model.Message, status string) bool {
	switch status {
	case model.MessageSent:
		return msg.SentAt != nil
	case model.MessageDelivered:
		return msg.DeliveredAt != nil
	case model.MessageRead:
		return msg.ReadAt != nil
	default:
		return msg.Status == status
	}
}

// profileName returns the sender's display name from the contacts block, or
// "" when absent.
func profileName(value *Value, waID string) string {
	for _, c := range value.Contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}

func mediaBlob(wire *WireMessage) *model.Media {
	media := wire.media()
	if media == nil {
		return nil
	}
	return &model.Media{
		ID:       media.ID,
		MimeType: media.MimeType,
		SHA256:   media.SHA256,
		Caption:  media.Caption,
	}
}

// metadataBlob keeps the interactive reply payload on the row so the form
// handler can parse it later.
func metadataBlob(wire *WireMessage) map[string]any {
	if wire.Interactive == nil {
		return nil
	}
	interactive := map[string]any{"type": wire.Interactive.Type}
	if wire.Interactive.NFMReply != nil {
		interactive["nfm_reply"] = map[string]any{
			"name":          wire.Interactive.NFMReply.Name,
			"body":          wire.Interactive.NFMReply.Body,
			"response_json": wire.Interactive.NFMReply.ResponseJSON,
		}
	}
	if wire.Interactive.ButtonReply != nil {
		interactive["button_reply"] = map[string]any{
			"id":    wire.Interactive.ButtonReply.ID,
			"title": wire.Interactive.ButtonReply.Title,
		}
	}
	if wire.Interactive.ListReply != nil {
		interactive["list_reply"] = map[string]any{
			"id":    wire.Interactive.ListReply.ID,
			"title": wire.Interactive.ListReply.Title,
		}
	}
	return map[string]any{"interactive": interactive}
}
