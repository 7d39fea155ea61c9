// Package reaper closes conversations that have gone quiet, sending a
// farewell before closing.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/simsocial/conversation-orchestrator/internal/chatbot"
	"github.com/simsocial/conversation-orchestrator/internal/model"
	"github.com/simsocial/conversation-orchestrator/internal/store"
	"github.com/simsocial/conversation-orchestrator/pkg/logger"
	"github.com/simsocial/conversation-orchestrator/pkg/metrics"
)

// Reaper sweeps idle, AI-handled conversations on a cron schedule. A
// conversation only closes after the assistant had the last word; if the
// contact spoke last, the sweep leaves it alone so a reply is never cut off.
type Reaper struct {
	store     *store.Store
	responder *chatbot.Responder
	idleAfter time.Duration
	schedule  string
	cron      *cron.Cron
	logger    *logger.Logger
}

// New creates a reaper with the given idle threshold and cron schedule.
func New(st *store.Store, responder *chatbot.Responder, idleAfter time.Duration, schedule string, log *logger.Logger) *Reaper {
	return &Reaper{
		store:     st,
		responder: responder,
		idleAfter: idleAfter,
		schedule:  schedule,
		logger:    log,
	}
}

// Start registers the sweep on the cron scheduler and starts it.
func (r *Reaper) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(r.schedule, func() {
		r.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("reaper: schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("reaper started",
		zap.String("schedule", r.schedule),
		zap.Duration("idle_after", r.idleAfter),
	)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Sweep closes every eligible idle conversation. Exported for the scheduler
// and for direct invocation.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.idleAfter)
	convs, err := r.store.IdleConversations(ctx, cutoff)
	if err != nil {
		r.logger.Error("idle conversation scan failed", zap.Error(err))
		return
	}

	for i := range convs {
		if err := r.closeIdle(ctx, &convs[i]); err != nil {
			r.logger.Error("idle close failed",
				zap.Uint("conversation_id", convs[i].ID),
				zap.Error(err),
			)
		}
	}
}

func (r *Reaper) closeIdle(ctx context.Context, conv *model.Conversation) error {
	unlock := r.store.LockConversation(conv.ID)
	defer unlock()

	last, err := r.store.LastMessage(ctx, conv.ID)
	if err != nil {
		return err
	}
	// The contact spoke last and is still waiting for an answer.
	if last == nil || last.Direction == model.DirectionInbound {
		return nil
	}

	// Mirror the contact's channel: a voice user gets a voice goodbye.
	preferAudio := false
	if lastIn, err := r.store.LastInboundMessage(ctx, conv.ID); err == nil && lastIn != nil {
		preferAudio = lastIn.Type == model.TypeAudio
	}

	farewell := "Como não tivemos novas mensagens, estou encerrando nosso atendimento. " +
		"Se precisar de algo, é só mandar uma nova mensagem. Até logo!"
	if _, err := r.responder.SendVoiceOrText(ctx, conv, farewell, preferAudio); err != nil {
		return err
	}

	if err := r.store.CloseConversation(ctx, conv.ID); err != nil {
		return err
	}
	metrics.ConversationsClosedTotal.Inc()
	r.logger.Info("idle conversation closed", zap.Uint("conversation_id", conv.ID))
	return nil
}
