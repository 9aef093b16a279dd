package models

import "time"

// BillingPlan is a purchasable offering known to the catalog. A plan is
// addressed by its provider price (or variant) identifier.
type BillingPlan struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(20);not null;index:ux_billing_plans_price,unique,priority:1" json:"provider"`
	ProductID       string    `gorm:"type:varchar(191);not null;index" json:"product_id"`
	PriceID         string    `gorm:"type:varchar(191);not null;index:ux_billing_plans_price,unique,priority:2" json:"price_id"`
	BillingInterval string    `gorm:"type:varchar(16);not null;default:'month'" json:"billing_interval"`
	TrialDays       *int      `gorm:"default:null" json:"trial_days,omitempty"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BillingPlan) TableName() string { return "billing_plans" }
