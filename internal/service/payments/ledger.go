package payments

import (
	"context"
	"fmt"

	"saas-portal/internal/domain/billing"

	"gorm.io/gorm/clause"
)

// BeginEvent registers a provider event. It returns false when the event was
// already processed successfully and must only be acknowledged.
func (s *StateMachine) BeginEvent(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	db := s.db.WithContext(ctx)

	ev := billing.WebhookEvent{Provider: provider, EventID: eventID, EventType: eventType}
	r := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&ev)
	if r.Error != nil {
		return false, fmt.Errorf("record webhook event: %w", r.Error)
	}
	if r.RowsAffected == 1 {
		return true, nil
	}

	var existing billing.WebhookEvent
	if err := db.Where("provider = ? AND event_id = ?", provider, eventID).First(&existing).Error; err != nil {
		return false, fmt.Errorf("load webhook event: %w", err)
	}
	return existing.ProcessedAt == nil, nil
}

// FinishEvent stores the processing result. A failed event stays open so
// the provider's redelivery is applied.
func (s *StateMachine) FinishEvent(ctx context.Context, provider, eventID string, procErr error) error {
	updates := map[string]any{"processed_at": s.now(), "error": ""}
	if procErr != nil {
		updates = map[string]any{"processed_at": nil, "error": procErr.Error()}
	}

	err := s.db.WithContext(ctx).
		Model(&billing.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("finish webhook event: %w", err)
	}
	return nil
}
