package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/simsocial/conversation-orchestrator/internal/queue"
	"github.com/simsocial/conversation-orchestrator/internal/webhook"
	"github.com/simsocial/conversation-orchestrator/pkg/logger"
)

// maxWebhookBody caps the accepted payload size (1 MiB).
const maxWebhookBody = 1 << 20

// WebhookHandler terminates the messaging platform's webhook: subscription
// verification and event intake.
type WebhookHandler struct {
	gate        *webhook.Gate
	queue       *queue.Queue
	verifyToken string
	logger      *logger.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(gate *webhook.Gate, q *queue.Queue, verifyToken string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		gate:        gate,
		queue:       q,
		verifyToken: verifyToken,
		logger:      log,
	}
}

// Verify handles GET /webhook, the platform's subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(q.Get("hub.challenge")))
}

// Receive handles POST /webhook. The payload is decoded, queued and
// acknowledged immediately; all processing happens off the request path, so
// the platform never retries because of slow downstream work.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var payload webhook.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn("malformed webhook payload", zap.Error(err))
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	h.queue.Enqueue(queue.Task{
		Name: "webhook_ingest",
		Run: func(ctx context.Context) error {
			h.gate.Process(ctx, &payload)
			return nil
		},
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
