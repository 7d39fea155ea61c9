package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

// InsertMessage persists a message, deduplicating on the external id. The
// insert-or-ignore is a single atomic statement against the unique index, so
// concurrent deliveries of a retried upstream event cannot produce duplicate
// rows. The duplicate flag is true when a row with the same external id
// already existed and no side effect occurred.
func (s *Store) InsertMessage(ctx context.Context, msg *model.Message) (duplicate bool, err error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(msg)
	if result.Error != nil {
		return false, fmt.Errorf("store: insert message: %w", result.Error)
	}
	return result.RowsAffected == 0, nil
}

// MessageByExternalID correlates a delivery callback to its message.
// Returns (nil, nil) for unknown ids.
func (s *Store) MessageByExternalID(ctx context.Context, externalID string) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: message by external id: %w", err)
	}
	return &msg, nil
}

// UpdateMessageStatus applies a delivery callback: new status plus the
// matching timestamp, or the error field for failures.
func (s *Store) UpdateMessageStatus(ctx context.Context, msg *model.Message, status, errorMessage string, at time.Time) error {
	updates := map[string]any{"status": status}
	switch status {
	case model.MessageSent:
		updates["sent_at"] = at
	case model.MessageDelivered:
		updates["delivered_at"] = at
	case model.MessageRead:
		updates["read_at"] = at
	case model.MessageFailed:
		updates["error_message"] = errorMessage
	}
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", msg.ID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("store: update message status: %w", err)
	}
	msg.Status = status
	return nil
}

// SetMessageContent fills in message content after the fact, e.g. an audio
// transcription or a survey summary.
func (s *Store) SetMessageContent(ctx context.Context, msg *model.Message, content string) error {
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", msg.ID).
		Update("content", content).Error
	if err != nil {
		return fmt.Errorf("store: set message content: %w", err)
	}
	msg.Content = &content
	return nil
}

// SetMediaURL records the resolved URL once the media download completes.
func (s *Store) SetMediaURL(ctx context.Context, msg *model.Message, url string) error {
	media := msg.Media
	if media == nil {
		media = &model.Media{}
	}
	media.URL = url
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", msg.ID).
		Update("media", media).Error
	if err != nil {
		return fmt.Errorf("store: set media url: %w", err)
	}
	msg.Media = media
	return nil
}

// MessageByID loads a message.
func (s *Store) MessageByID(ctx context.Context, id uint) (*model.Message, error) {
	var msg model.Message
	if err := s.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		return nil, fmt.Errorf("store: message %d: %w", id, err)
	}
	return &msg, nil
}

// LastMessage returns the most recent message in a conversation, or nil.
func (s *Store) LastMessage(ctx context.Context, conversationID uint) (*model.Message, error) {
	return s.lastMessage(ctx, conversationID, "")
}

// LastInboundMessage returns the contact's most recent message, or nil. Used
// to match the user's channel preference (audio in, audio out).
func (s *Store) LastInboundMessage(ctx context.Context, conversationID uint) (*model.Message, error) {
	return s.lastMessage(ctx, conversationID, model.DirectionInbound)
}

func (s *Store) lastMessage(ctx context.Context, conversationID uint, direction string) (*model.Message, error) {
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if direction != "" {
		q = q.Where("direction = ?", direction)
	}
	var msg model.Message
	err := q.Order("id DESC").First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: last message: %w", err)
	}
	return &msg, nil
}

// RecentInboundTexts returns up to limit inbound text contents, oldest first,
// for language model context.
func (s *Store) RecentInboundTexts(ctx context.Context, conversationID uint, limit int) ([]string, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND direction = ? AND content IS NOT NULL", conversationID, model.DirectionInbound).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("store: recent inbound texts: %w", err)
	}
	texts := make([]string, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		texts = append(texts, msgs[i].Text())
	}
	return texts, nil
}
