package billing

import "time"

const ProviderStripe = "stripe"

// WebhookEvent records every provider event that reached the state machine,
// keyed by the provider's event id, so redeliveries are acknowledged
// without being applied again.
type WebhookEvent struct {
	ID          uint       `gorm:"primaryKey"`
	Provider    string     `gorm:"type:varchar(20);not null;uniqueIndex:ux_webhook_events_provider_event,priority:1"`
	EventID     string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_provider_event,priority:2"`
	EventType   string     `gorm:"type:varchar(100);not null;index"`
	ProcessedAt *time.Time `gorm:"index"`
	Error       string     `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
