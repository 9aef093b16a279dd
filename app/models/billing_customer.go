package models

import "time"

// BillingCustomer links an account to its customer record at a payment provider.
// One provider customer may pay for several accounts.
type BillingCustomer struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	AccountID          string    `gorm:"type:varchar(36);not null;index:ux_billing_customers_account_provider,unique,priority:1" json:"account_id"`
	Provider           string    `gorm:"type:varchar(20);not null;index:ux_billing_customers_account_provider,unique,priority:2;index:idx_billing_customers_provider_customer,priority:1" json:"provider"`
	ProviderCustomerID string    `gorm:"type:varchar(191);not null;index:idx_billing_customers_provider_customer,priority:2" json:"provider_customer_id"`
	Email              string    `gorm:"type:varchar(200);default:''" json:"email"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BillingCustomer) TableName() string { return "billing_customers" }
