// Package campaign implements bulk templated sends to contact segments,
// rate-limited over time with pause, resume and cancel control.
package campaign

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/simsocial/conversation-orchestrator/internal/model"
	"github.com/simsocial/conversation-orchestrator/internal/store"
	"github.com/simsocial/conversation-orchestrator/pkg/logger"
)

// Service errors surfaced to the API layer.
var (
	ErrInvalidTransition = errors.New("campaign: invalid status transition")
	ErrEmptySegment      = errors.New("campaign: segment matches no contacts")
	ErrValidation        = errors.New("campaign: invalid definition")
)

// Service owns the campaign lifecycle. A campaign is created with a frozen
// recipient list, then started, optionally paused and resumed, and either
// completes or is cancelled.
type Service struct {
	store      *store.Store
	dispatcher *Dispatcher
	logger     *logger.Logger
}

// NewService wires the campaign service.
func NewService(st *store.Store, dispatcher *Dispatcher, log *logger.Logger) *Service {
	return &Service{store: st, dispatcher: dispatcher, logger: log}
}

// CreateParams defines a new campaign.
type CreateParams struct {
	AccountID          uint                  `json:"account_id"`
	Name               string                `json:"name"`
	TemplateName       string                `json:"template_name"`
	TemplateLocale     string                `json:"template_locale"`
	TemplateParameters []model.TemplateParam `json:"template_parameters"`
	SegmentFilters     []model.SegmentFilter `json:"segment_filters"`
	RateLimitPerMinute int                   `json:"rate_limit_per_minute"`
	ScheduledAt        *time.Time            `json:"scheduled_at"`
}

// Create materializes the segment and persists the campaign with its frozen
// recipient list. Contacts added later never join an existing campaign.
func (s *Service) Create(ctx context.Context, params CreateParams) (*model.Campaign, error) {
	if params.AccountID == 0 || params.Name == "" || params.TemplateName == "" {
		return nil, ErrValidation
	}

	contacts, err := s.store.SegmentContacts(ctx, params.SegmentFilters)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, ErrEmptySegment
	}

	status := model.CampaignDraft
	if params.ScheduledAt != nil {
		status = model.CampaignScheduled
	}
	locale := params.TemplateLocale
	if locale == "" {
		locale = "pt_BR"
	}

	c := &model.Campaign{
		AccountID:          params.AccountID,
		Name:               params.Name,
		Status:             status,
		TemplateName:       params.TemplateName,
		TemplateLocale:     locale,
		TemplateParameters: params.TemplateParameters,
		SegmentFilters:     params.SegmentFilters,
		RateLimitPerMinute: params.RateLimitPerMinute,
		ScheduledAt:        params.ScheduledAt,
	}
	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return nil, err
	}
	if err := s.store.AddCampaignRecipients(ctx, c, contacts); err != nil {
		return nil, err
	}

	s.logger.Info("campaign created",
		zap.Uint("campaign_id", c.ID),
		zap.String("name", c.Name),
		zap.Int("recipients", len(contacts)),
	)
	return c, nil
}

// Start begins dispatching a draft or scheduled campaign.
func (s *Service) Start(ctx context.Context, id uint) error {
	return s.transitionAndDispatch(ctx, id, model.CampaignDraft, model.CampaignScheduled)
}

// Pause stops a running campaign. Already-scheduled sends observe the pause
// at execution time; nothing fires after the status change settles.
func (s *Service) Pause(ctx context.Context, id uint) error {
	performed, err := s.store.TransitionCampaign(ctx, id, model.CampaignPaused, model.CampaignRunning)
	if err != nil {
		return err
	}
	if !performed {
		return ErrInvalidTransition
	}
	s.logger.Info("campaign paused", zap.Uint("campaign_id", id))
	return nil
}

// Resume re-dispatches the remaining pending recipients of a paused
// campaign.
func (s *Service) Resume(ctx context.Context, id uint) error {
	return s.transitionAndDispatch(ctx, id, model.CampaignPaused)
}

// Cancel terminally stops a campaign in any non-terminal state.
func (s *Service) Cancel(ctx context.Context, id uint) error {
	performed, err := s.store.TransitionCampaign(ctx, id, model.CampaignCancelled,
		model.CampaignDraft, model.CampaignScheduled, model.CampaignRunning, model.CampaignPaused)
	if err != nil {
		return err
	}
	if !performed {
		return ErrInvalidTransition
	}
	s.logger.Info("campaign cancelled", zap.Uint("campaign_id", id))
	return nil
}

// StartDue starts scheduled campaigns whose start time has passed. Called
// periodically from the scheduler.
func (s *Service) StartDue(ctx context.Context) {
	due, err := s.store.DueCampaigns(ctx, time.Now())
	if err != nil {
		s.logger.Error("due campaign scan failed", zap.Error(err))
		return
	}
	for i := range due {
		if err := s.Start(ctx, due[i].ID); err != nil && !errors.Is(err, ErrInvalidTransition) {
			s.logger.Error("scheduled campaign start failed",
				zap.Uint("campaign_id", due[i].ID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) transitionAndDispatch(ctx context.Context, id uint, from ...string) error {
	performed, err := s.store.TransitionCampaign(ctx, id, model.CampaignRunning, from...)
	if err != nil {
		return err
	}
	if !performed {
		return ErrInvalidTransition
	}
	c, err := s.store.CampaignByID(ctx, id)
	if err != nil {
		return err
	}
	return s.dispatcher.Dispatch(ctx, c)
}

// Analytics is the aggregate view of a campaign's progress.
type Analytics struct {
	CampaignID     uint       `json:"campaign_id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	TotalContacts  int        `json:"total_contacts"`
	SentCount      int        `json:"sent_count"`
	DeliveredCount int        `json:"delivered_count"`
	ReadCount      int        `json:"read_count"`
	FailedCount    int        `json:"failed_count"`
	PendingCount   int        `json:"pending_count"`
	DeliveryRate   float64    `json:"delivery_rate"`
	ReadRate       float64    `json:"read_rate"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Analytics computes delivery and read rates against the sent count.
func (s *Service) Analytics(ctx context.Context, id uint) (*Analytics, error) {
	c, err := s.store.CampaignByID(ctx, id)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.PendingRecipientCount(ctx, id)
	if err != nil {
		return nil, err
	}

	a := &Analytics{
		CampaignID:     c.ID,
		Name:           c.Name,
		Status:         c.Status,
		TotalContacts:  c.TotalContacts,
		SentCount:      c.SentCount,
		DeliveredCount: c.DeliveredCount,
		ReadCount:      c.ReadCount,
		FailedCount:    c.FailedCount,
		PendingCount:   int(pending),
		StartedAt:      c.StartedAt,
		CompletedAt:    c.CompletedAt,
	}
	if c.SentCount > 0 {
		a.DeliveryRate = float64(c.DeliveredCount) / float64(c.SentCount)
		a.ReadRate = float64(c.ReadCount) / float64(c.SentCount)
	}
	return a, nil
}
