package campaign

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/simsocial/conversation-orchestrator/internal/model"
	"github.com/simsocial/conversation-orchestrator/internal/queue"
	"github.com/simsocial/conversation-orchestrator/internal/store"
	"github.com/simsocial/conversation-orchestrator/internal/transport"
	"github.com/simsocial/conversation-orchestrator/pkg/logger"
	"github.com/simsocial/conversation-orchestrator/pkg/metrics"
)

// Dispatcher spreads a campaign's sends over time at the campaign's rate
// limit. Sends are scheduled as delayed queue tasks; each task re-checks the
// campaign status at execution time, so pausing or cancelling takes effect
// for every not-yet-executed send.
type Dispatcher struct {
	store       *store.Store
	transport   transport.Transport
	queue       *queue.Queue
	defaultRate int
	logger      *logger.Logger
}

// NewDispatcher wires the campaign dispatcher.
func NewDispatcher(st *store.Store, tr transport.Transport, q *queue.Queue, defaultRate int, log *logger.Logger) *Dispatcher {
	if defaultRate <= 0 {
		defaultRate = 20
	}
	return &Dispatcher{
		store:       st,
		transport:   tr,
		queue:       q,
		defaultRate: defaultRate,
		logger:      log,
	}
}

// Dispatch schedules every pending recipient of a running campaign. Send i
// fires after i intervals, where the interval is one minute divided by the
// effective rate.
func (d *Dispatcher) Dispatch(ctx context.Context, c *model.Campaign) error {
	recipients, err := d.store.PendingRecipients(ctx, c.ID)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		d.tryComplete(ctx, c.ID)
		return nil
	}

	interval := time.Minute / time.Duration(d.effectiveRate(c))
	campaignID := c.ID
	for i := range recipients {
		recipientID := recipients[i].ID
		d.queue.EnqueueIn(time.Duration(i)*interval, queue.Task{
			Name:       "campaign_send",
			MaxRetries: 1,
			Run: func(taskCtx context.Context) error {
				return d.sendOne(taskCtx, campaignID, recipientID)
			},
		})
	}

	d.logger.Info("campaign dispatch scheduled",
		zap.Uint("campaign_id", c.ID),
		zap.Int("recipients", len(recipients)),
		zap.Duration("interval", interval),
	)
	return nil
}

// effectiveRate clamps the per-campaign rate to a sane window, defaulting
// when unset.
func (d *Dispatcher) effectiveRate(c *model.Campaign) int {
	rate := c.RateLimitPerMinute
	if rate <= 0 {
		rate = d.defaultRate
	}
	if rate > 60 {
		rate = 60
	}
	return rate
}

func (d *Dispatcher) sendOne(ctx context.Context, campaignID, recipientID uint) error {
	c, err := d.store.CampaignByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if !c.IsRunning() {
		// Paused or cancelled after scheduling. The recipient stays pending
		// and is re-dispatched on resume.
		return nil
	}

	recipient, err := d.store.RecipientByID(ctx, recipientID)
	if err != nil {
		return err
	}
	if recipient.Status != model.RecipientPending {
		// Already handled by an earlier dispatch round.
		return nil
	}

	params := ResolveParameters(c, recipient, &recipient.Contact)
	result, err := d.transport.SendTemplate(ctx, &c.Account, recipient.Contact.PhoneNumber, c.TemplateName, c.TemplateLocale, params)
	if err != nil {
		d.logger.Warn("campaign send failed",
			zap.Uint("campaign_id", campaignID),
			zap.Uint("contact_id", recipient.ContactID),
			zap.Error(err),
		)
		if err := d.store.MarkRecipientFailed(ctx, recipient, err.Error()); err != nil {
			return err
		}
		metrics.CampaignSendsTotal.WithLabelValues("failed").Inc()
	} else {
		if err := d.store.MarkRecipientSent(ctx, recipient, result.MessageID); err != nil {
			return err
		}
		metrics.CampaignSendsTotal.WithLabelValues("sent").Inc()
	}

	d.tryComplete(ctx, campaignID)
	return nil
}

// tryComplete transitions the campaign to completed once no recipient is
// pending. The transition is guarded, so concurrent final sends complete it
// exactly once.
func (d *Dispatcher) tryComplete(ctx context.Context, campaignID uint) {
	n, err := d.store.PendingRecipientCount(ctx, campaignID)
	if err != nil || n > 0 {
		return
	}
	performed, err := d.store.TransitionCampaign(ctx, campaignID, model.CampaignCompleted, model.CampaignRunning)
	if err != nil {
		d.logger.Error("campaign completion failed", zap.Uint("campaign_id", campaignID), zap.Error(err))
		return
	}
	if performed {
		d.logger.Info("campaign completed", zap.Uint("campaign_id", campaignID))
	}
}
