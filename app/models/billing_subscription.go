package models

import "time"

const (
	BillingIntervalMonth = "month"
	BillingIntervalYear  = "year"
)

const (
	BillingStatusActive     = "active"
	BillingStatusTrialing   = "trialing"
	BillingStatusPastDue    = "past_due"
	BillingStatusUnpaid     = "unpaid"
	BillingStatusCanceled   = "canceled"
	BillingStatusIncomplete = "incomplete"
	BillingStatusExpired    = "expired"
	BillingStatusPaused     = "paused"
)

// BillingSubscription mirrors the latest known provider state of an account
// subscription. ProviderVersion is the provider timestamp of the event the row
// was last written from.
type BillingSubscription struct {
	ID                     uint                      `gorm:"primaryKey" json:"id"`
	AccountID              string                    `gorm:"type:varchar(36);not null;default:'';index" json:"account_id"`
	Provider               string                    `gorm:"type:varchar(20);not null;index:idx_billing_subscriptions_provider_status,priority:1;index:ux_billing_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string                    `gorm:"type:varchar(191);not null;index:ux_billing_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	ProviderCustomerID     string                    `gorm:"type:varchar(191);not null;default:'';index" json:"provider_customer_id"`
	Status                 string                    `gorm:"type:varchar(32);not null;default:'active';index:idx_billing_subscriptions_provider_status,priority:2" json:"status"`
	Active                 bool                      `gorm:"default:false" json:"active"`
	Currency               string                    `gorm:"type:varchar(3);default:''" json:"currency"`
	CancelAtPeriodEnd      bool                      `gorm:"default:false" json:"cancel_at_period_end"`
	PeriodStartsAt         *time.Time                `gorm:"type:timestamp;default:null" json:"period_starts_at,omitempty"`
	PeriodEndsAt           *time.Time                `gorm:"type:timestamp;default:null" json:"period_ends_at,omitempty"`
	TrialStartsAt          *time.Time                `gorm:"type:timestamp;default:null" json:"trial_starts_at,omitempty"`
	TrialEndsAt            *time.Time                `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	CanceledAt             *time.Time                `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	ProviderVersion        int64                     `gorm:"not null;default:0" json:"provider_version"`
	Items                  []BillingSubscriptionItem `gorm:"foreignKey:SubscriptionID" json:"items,omitempty"`
	CreatedAt              time.Time                 `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time                 `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BillingSubscription) TableName() string { return "billing_subscriptions" }

// IsCanceled reports whether the subscription reached its terminal state.
func (s *BillingSubscription) IsCanceled() bool {
	return s.Status == BillingStatusCanceled
}

// BillingSubscriptionItem is one priced line of a subscription. Items are
// always replaced together with their subscription row.
type BillingSubscriptionItem struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"not null;index" json:"subscription_id"`
	ProviderItemID string    `gorm:"type:varchar(191);not null;default:''" json:"provider_item_id"`
	ProductID      string    `gorm:"type:varchar(191);not null;default:''" json:"product_id"`
	VariantID      string    `gorm:"type:varchar(191);not null;default:''" json:"variant_id"`
	Quantity       int64     `gorm:"not null;default:1" json:"quantity"`
	Interval       string    `gorm:"type:varchar(16);not null;default:''" json:"interval"`
	IntervalCount  int64     `gorm:"not null;default:1" json:"interval_count"`
	PriceAmount    int64     `gorm:"not null;default:0" json:"price_amount"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (BillingSubscriptionItem) TableName() string { return "billing_subscription_items" }
