package store

import (
	"context"
	"fmt"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

// CreateSurvey persists a structured form response.
func (s *Store) CreateSurvey(ctx context.Context, survey *model.Survey) error {
	if err := s.db.WithContext(ctx).Create(survey).Error; err != nil {
		return fmt.Errorf("store: create survey: %w", err)
	}
	return nil
}
