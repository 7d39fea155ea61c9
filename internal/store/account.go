package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

// AccountByPhoneNumberID resolves the sending account for an inbound event.
// Returns (nil, nil) when the routing identifier is unknown.
func (s *Store) AccountByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.Account, error) {
	var account model.Account
	err := s.db.WithContext(ctx).Where("phone_number_id = ?", phoneNumberID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: account by phone number id: %w", err)
	}
	return &account, nil
}

// CreateAccount persists a sending account.
func (s *Store) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("store: create account: %w", err)
	}
	return nil
}
