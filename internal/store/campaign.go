package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

// CreateCampaign persists a campaign definition.
func (s *Store) CreateCampaign(ctx context.Context, campaign *model.Campaign) error {
	if err := s.db.WithContext(ctx).Create(campaign).Error; err != nil {
		return fmt.Errorf("store: create campaign: %w", err)
	}
	return nil
}

// CampaignByID loads a campaign with its account.
func (s *Store) CampaignByID(ctx context.Context, id uint) (*model.Campaign, error) {
	var campaign model.Campaign
	err := s.db.WithContext(ctx).Preload("Account").First(&campaign, id).Error
	if err != nil {
		return nil, fmt.Errorf("store: campaign %d: %w", id, err)
	}
	return &campaign, nil
}

// TransitionCampaign moves a campaign between lifecycle states, guarded on
// the set of allowed source states so concurrent transitions cannot race.
// The return value reports whether this call performed the transition.
func (s *Store) TransitionCampaign(ctx context.Context, campaignID uint, to string, from ...string) (bool, error) {
	updates := map[string]any{"status": to}
	now := time.Now()
	switch to {
	case model.CampaignRunning:
		updates["started_at"] = now
	case model.CampaignCompleted, model.CampaignCancelled:
		updates["completed_at"] = now
	}

	result := s.db.WithContext(ctx).Model(&model.Campaign{}).
		Where("id = ? AND status IN ?", campaignID, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("store: transition campaign to %s: %w", to, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SegmentContacts materializes a segment filter into the matching active
// contacts. Unknown operators are ignored rather than failing the campaign.
func (s *Store) SegmentContacts(ctx context.Context, filters []model.SegmentFilter) ([]model.Contact, error) {
	q := s.db.WithContext(ctx).Model(&model.Contact{}).Where("status = ?", model.ContactActive)

	for _, f := range filters {
		switch f.Field {
		case "tags":
			// Tags are stored as a JSON array; a LIKE over the serialized
			// form keeps the filter portable across sqlite and mysql.
			pattern := "%" + fmt.Sprintf("%q", f.Value) + "%"
			if f.Operator == "contains" {
				q = q.Where("tags LIKE ?", pattern)
			} else if f.Operator == "not_contains" {
				q = q.Where("tags IS NULL OR tags NOT LIKE ?", pattern)
			}
		case "last_seen_at":
			switch f.Operator {
			case "after":
				q = q.Where("last_seen_at > ?", f.Value)
			case "before":
				q = q.Where("last_seen_at < ?", f.Value)
			}
		case "custom_fields":
			pattern := "%" + fmt.Sprintf("%q:%q", f.CustomField, f.Value) + "%"
			if f.Operator == "equals" {
				q = q.Where("custom_fields LIKE ?", pattern)
			} else if f.Operator == "not_equals" {
				q = q.Where("custom_fields IS NULL OR custom_fields NOT LIKE ?", pattern)
			}
		case "phone_number":
			switch f.Operator {
			case "starts_with":
				q = q.Where("phone_number LIKE ?", f.Value+"%")
			case "ends_with":
				q = q.Where("phone_number LIKE ?", "%"+f.Value)
			case "contains":
				q = q.Where("phone_number LIKE ?", "%"+f.Value+"%")
			}
		default:
			if !isContactColumn(f.Field) {
				continue
			}
			switch f.Operator {
			case "equals":
				q = q.Where(f.Field+" = ?", f.Value)
			case "not_equals":
				q = q.Where(f.Field+" != ?", f.Value)
			case "like":
				q = q.Where(f.Field+" LIKE ?", "%"+f.Value+"%")
			}
		}
	}

	var contacts []model.Contact
	if err := q.Find(&contacts).Error; err != nil {
		return nil, fmt.Errorf("store: segment contacts: %w", err)
	}
	return contacts, nil
}

func isContactColumn(field string) bool {
	switch strings.ToLower(field) {
	case "name", "status", "phone_number":
		return true
	}
	return false
}

// AddCampaignRecipients creates pending CampaignContact rows and records the
// recipient total on the campaign.
func (s *Store) AddCampaignRecipients(ctx context.Context, campaign *model.Campaign, contacts []model.Contact) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range contacts {
			cc := model.CampaignContact{
				CampaignID: campaign.ID,
				ContactID:  c.ID,
				Status:     model.RecipientPending,
			}
			if err := tx.Create(&cc).Error; err != nil {
				return err
			}
		}
		return tx.Model(&model.Campaign{}).
			Where("id = ?", campaign.ID).
			Update("total_contacts", len(contacts)).Error
	})
	if err != nil {
		return fmt.Errorf("store: add campaign recipients: %w", err)
	}
	campaign.TotalContacts = len(contacts)
	return nil
}

// RecipientByID reloads a campaign recipient.
func (s *Store) RecipientByID(ctx context.Context, id uint) (*model.CampaignContact, error) {
	var recipient model.CampaignContact
	err := s.db.WithContext(ctx).Preload("Contact").First(&recipient, id).Error
	if err != nil {
		return nil, fmt.Errorf("store: recipient %d: %w", id, err)
	}
	return &recipient, nil
}

// DueCampaigns lists scheduled campaigns whose start time has passed.
func (s *Store) DueCampaigns(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", model.CampaignScheduled, now).
		Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("store: due campaigns: %w", err)
	}
	return campaigns, nil
}

// PendingRecipients lists the not-yet-sent recipients of a campaign, with
// contacts preloaded, ordered deterministically.
func (s *Store) PendingRecipients(ctx context.Context, campaignID uint) ([]model.CampaignContact, error) {
	var recipients []model.CampaignContact
	err := s.db.WithContext(ctx).
		Preload("Contact").
		Where("campaign_id = ? AND status = ?", campaignID, model.RecipientPending).
		Order("id ASC").
		Find(&recipients).Error
	if err != nil {
		return nil, fmt.Errorf("store: pending recipients: %w", err)
	}
	return recipients, nil
}

// PendingRecipientCount counts recipients still waiting to be dispatched.
func (s *Store) PendingRecipientCount(ctx context.Context, campaignID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.CampaignContact{}).
		Where("campaign_id = ? AND status = ?", campaignID, model.RecipientPending).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("store: pending recipient count: %w", err)
	}
	return n, nil
}

// MarkRecipientSent records a successful send and bumps the campaign sent
// counter atomically.
func (s *Store) MarkRecipientSent(ctx context.Context, recipient *model.CampaignContact, externalID string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.CampaignContact{}).
			Where("id = ?", recipient.ID).
			Updates(map[string]any{
				"status":      model.RecipientSent,
				"external_id": externalID,
				"sent_at":     now,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Campaign{}).
			Where("id = ?", recipient.CampaignID).
			Update("sent_count", gorm.Expr("sent_count + 1")).Error
	})
	if err != nil {
		return fmt.Errorf("store: mark recipient sent: %w", err)
	}
	recipient.Status = model.RecipientSent
	recipient.ExternalID = externalID
	return nil
}

// MarkRecipientFailed records a failed send and bumps the campaign failed
// counter atomically.
func (s *Store) MarkRecipientFailed(ctx context.Context, recipient *model.CampaignContact, errorMessage string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.CampaignContact{}).
			Where("id = ?", recipient.ID).
			Updates(map[string]any{
				"status":        model.RecipientFailed,
				"error_message": errorMessage,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Campaign{}).
			Where("id = ?", recipient.CampaignID).
			Update("failed_count", gorm.Expr("failed_count + 1")).Error
	})
	if err != nil {
		return fmt.Errorf("store: mark recipient failed: %w", err)
	}
	recipient.Status = model.RecipientFailed
	return nil
}

// CorrelateCampaignStatus rolls a delivery callback into the campaign
// aggregate counters when the external id belongs to a campaign send.
// Each recipient moves sent -> delivered -> read at most once; the guarded
// recipient transition is the winner check, so a replayed callback never
// bumps a counter twice. Returns whether the id matched a campaign send.
func (s *Store) CorrelateCampaignStatus(ctx context.Context, externalID, status string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	var column, to string
	var from []string
	switch status {
	case model.MessageDelivered:
		column = "delivered_count"
		to = model.RecipientDelivered
		from = []string{model.RecipientSent}
	case model.MessageRead:
		column = "read_count"
		to = model.RecipientRead
		from = []string{model.RecipientSent, model.RecipientDelivered}
	default:
		return false, nil
	}

	var recipient model.CampaignContact
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&recipient).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("store: correlate campaign status: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.CampaignContact{}).
			Where("id = ? AND status IN ?", recipient.ID, from).
			Update("status", to)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Replay, or a transition the recipient already passed.
			return nil
		}
		return tx.Model(&model.Campaign{}).
			Where("id = ?", recipient.CampaignID).
			Update(column, gorm.Expr(column+" + 1")).Error
	})
	if err != nil {
		return true, fmt.Errorf("store: correlate campaign status: %w", err)
	}
	return true, nil
}
