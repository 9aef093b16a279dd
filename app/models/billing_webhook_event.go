package models

import "time"

// BillingWebhookEvent records each verified webhook delivery so that a
// redelivery of an already processed event can be acknowledged without
// running the reconciliation again.
type BillingWebhookEvent struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Provider          string     `gorm:"type:varchar(20);not null;index:ux_billing_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	ProviderEventID   string     `gorm:"type:varchar(191);not null;default:'';index:ux_billing_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType         string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON       string     `gorm:"type:longtext;not null" json:"payload_json"`
	ProviderCreatedAt int64      `gorm:"not null;default:0" json:"provider_created_at"`
	ProcessedAt       *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError   string     `gorm:"type:text" json:"processing_error"`
	Attempts          int        `gorm:"not null;default:0" json:"attempts"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BillingWebhookEvent) TableName() string { return "billing_webhook_events" }

// IsSettled reports whether an earlier delivery finished without error.
func (e *BillingWebhookEvent) IsSettled() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}
