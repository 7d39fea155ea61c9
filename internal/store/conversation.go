package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

// ResolveConversation maps (account, contact) to the active conversation.
//
// Policy: the most recent conversation for the pair is reused regardless of
// staleness, unless it is closed, in which case the same row is reopened with
// its dialogue state reset. When reopenWindow > 0, a non-closed conversation
// idle beyond the window is also treated as a fresh interaction: the row is
// reused but state, context and assignment are reset.
//
// The returned fresh flag tells the dialogue engine to greet.
func (s *Store) ResolveConversation(ctx context.Context, account *model.Account, contact *model.Contact, reopenWindow time.Duration) (*model.Conversation, bool, error) {
	var latest model.Conversation
	err := s.db.WithContext(ctx).
		Where("contact_id = ? AND account_id = ?", contact.ID, account.ID).
		Order("updated_at DESC").
		First(&latest).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		conv := model.Conversation{
			ConversationKey: uuid.NewString(),
			AccountID:       account.ID,
			ContactID:       contact.ID,
			Status:          model.ConversationOpen,
			IsAIHandled:     true,
		}
		if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
			return nil, false, fmt.Errorf("store: create conversation: %w", err)
		}
		return &conv, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: resolve conversation: %w", err)
	}

	stale := reopenWindow > 0 && time.Since(latest.UpdatedAt) > reopenWindow
	if latest.Status == model.ConversationClosed || stale {
		updates := map[string]any{
			"status":           model.ConversationOpen,
			"is_ai_handled":    true,
			"chatbot_state":    "",
			"chatbot_context":  nil,
			"assigned_user_id": nil,
		}
		if err := s.db.WithContext(ctx).Model(&latest).Updates(updates).Error; err != nil {
			return nil, false, fmt.Errorf("store: reopen conversation: %w", err)
		}
		latest.Status = model.ConversationOpen
		latest.IsAIHandled = true
		latest.ChatbotState = ""
		latest.ChatbotContext = nil
		latest.AssignedUserID = nil
		return &latest, true, nil
	}

	return &latest, false, nil
}

// ConversationByID loads a conversation with its account and contact.
func (s *Store) ConversationByID(ctx context.Context, id uint) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Preload("Account").Preload("Contact").First(&conv, id).Error
	if err != nil {
		return nil, fmt.Errorf("store: conversation %d: %w", id, err)
	}
	return &conv, nil
}

// SetChatbotState moves the conversation to a new dialogue state.
func (s *Store) SetChatbotState(ctx context.Context, conv *model.Conversation, state string) error {
	if err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", conv.ID).
		Update("chatbot_state", state).Error; err != nil {
		return fmt.Errorf("store: set chatbot state: %w", err)
	}
	conv.ChatbotState = state
	return nil
}

// SetChatbotContext replaces the opaque key/value bag carried between states.
// A nil bag clears it.
func (s *Store) SetChatbotContext(ctx context.Context, conv *model.Conversation, bag map[string]string) error {
	if err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", conv.ID).
		Update("chatbot_context", bag).Error; err != nil {
		return fmt.Errorf("store: set chatbot context: %w", err)
	}
	conv.ChatbotContext = bag
	return nil
}

// RecordInboundActivity bumps the unread counter and the activity timestamp
// after an accepted inbound message. The increment is a SQL expression, not a
// read-modify-write.
func (s *Store) RecordInboundActivity(ctx context.Context, conv *model.Conversation, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", conv.ID).
		Updates(map[string]any{
			"unread_count":    gorm.Expr("unread_count + 1"),
			"last_message_at": at,
		}).Error
	if err != nil {
		return fmt.Errorf("store: record inbound activity: %w", err)
	}
	return nil
}

// TouchConversation bumps the activity timestamp after an outbound send.
func (s *Store) TouchConversation(ctx context.Context, conversationID uint) error {
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Update("updated_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("store: touch conversation: %w", err)
	}
	return nil
}

// EscalateConversation hands the conversation to a human operator: pending
// status, AI disabled, terminal dialogue state. The transition is guarded so
// repeated failures escalate exactly once; the return value reports whether
// this call performed the transition.
func (s *Store) EscalateConversation(ctx context.Context, conversationID uint) (bool, error) {
	result := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND is_ai_handled = ?", conversationID, true).
		Updates(map[string]any{
			"status":        model.ConversationPending,
			"is_ai_handled": false,
			"chatbot_state": "transferred",
		})
	if result.Error != nil {
		return false, fmt.Errorf("store: escalate conversation: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CloseConversation marks the conversation closed.
func (s *Store) CloseConversation(ctx context.Context, conversationID uint) error {
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Update("status", model.ConversationClosed).Error
	if err != nil {
		return fmt.Errorf("store: close conversation: %w", err)
	}
	return nil
}

// IdleConversations selects open, AI-handled conversations whose last update
// is older than the cutoff, with account and contact preloaded for the
// closing notice.
func (s *Store) IdleConversations(ctx context.Context, cutoff time.Time) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Preload("Account").Preload("Contact").
		Where("status = ? AND is_ai_handled = ? AND updated_at < ?", model.ConversationOpen, true, cutoff).
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("store: idle conversations: %w", err)
	}
	return convs, nil
}
