package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

// UpsertContact creates or refreshes a contact by its platform address.
// The display name is always overwritten with the latest known value and
// last_seen is stamped. The upsert is a single atomic ON CONFLICT statement;
// the row is re-read afterwards so concurrent losers observe the winner.
func (s *Store) UpsertContact(ctx context.Context, phoneNumber, name string) (*model.Contact, error) {
	if name == "" {
		name = phoneNumber
	}
	now := time.Now()

	contact := model.Contact{
		PhoneNumber: phoneNumber,
		Name:        name,
		Status:      model.ContactActive,
		LastSeenAt:  &now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone_number"}},
		DoUpdates: clause.Assignments(map[string]any{
			"name":         name,
			"last_seen_at": now,
			"updated_at":   now,
		}),
	}).Create(&contact).Error
	if err != nil {
		return nil, fmt.Errorf("store: upsert contact: %w", err)
	}

	var out model.Contact
	if err := s.db.WithContext(ctx).Where("phone_number = ?", phoneNumber).First(&out).Error; err != nil {
		return nil, fmt.Errorf("store: reread contact: %w", err)
	}
	return &out, nil
}

// ContactByID loads a contact.
func (s *Store) ContactByID(ctx context.Context, id uint) (*model.Contact, error) {
	var contact model.Contact
	if err := s.db.WithContext(ctx).First(&contact, id).Error; err != nil {
		return nil, fmt.Errorf("store: contact %d: %w", id, err)
	}
	return &contact, nil
}
