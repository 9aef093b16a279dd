package billing

import (
	"errors"
	"time"

	"github.com/ManuelReschke/billingkit/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionDecision runs inside the subscription write transaction with the
// currently stored row (nil when none exists). Returning false skips the write.
type SubscriptionDecision func(existing *models.BillingSubscription) (bool, error)

// Repository provides DB operations used by the billing service.
type Repository interface {
	FindActivePlan(provider, priceID string) (*models.BillingPlan, error)
	UpsertCustomer(customer *models.BillingCustomer) error
	FindCustomerByAccount(provider, accountID string) (*models.BillingCustomer, error)
	// FindCustomerByProviderID returns the most recently linked account of a
	// provider customer.
	FindCustomerByProviderID(provider, providerCustomerID string) (*models.BillingCustomer, error)
	// ApplySubscription writes sub and replaces its items atomically when
	// decide accepts the stored row. It reports whether the write happened.
	ApplySubscription(sub *models.BillingSubscription, items []models.BillingSubscriptionItem, decide SubscriptionDecision) (bool, error)
	// CancelSubscription moves a subscription to canceled, creating a
	// canceled placeholder when the row does not exist yet.
	CancelSubscription(provider, providerSubscriptionID string, canceledAt time.Time) error
	GetSubscription(provider, providerSubscriptionID string) (*models.BillingSubscription, error)
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindActivePlan(provider, priceID string) (*models.BillingPlan, error) {
	var p models.BillingPlan
	err := r.db.
		Where("provider = ? AND price_id = ? AND is_active = ?", provider, priceID, true).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertCustomer links an account to a provider customer. The only unique
// key is (account_id, provider), so several accounts may share a customer.
func (r *gormRepository) UpsertCustomer(customer *models.BillingCustomer) error {
	updates := []string{"provider_customer_id", "updated_at"}
	if customer.Email != "" {
		updates = append(updates, "email")
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "account_id"},
			{Name: "provider"},
		},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(customer).Error; err != nil {
		return err
	}

	return r.db.Where("account_id = ? AND provider = ?", customer.AccountID, customer.Provider).
		First(customer).Error
}

func (r *gormRepository) FindCustomerByAccount(provider, accountID string) (*models.BillingCustomer, error) {
	var c models.BillingCustomer
	err := r.db.Where("provider = ? AND account_id = ?", provider, accountID).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) FindCustomerByProviderID(provider, providerCustomerID string) (*models.BillingCustomer, error) {
	var c models.BillingCustomer
	// Shared customers resolve to the most recently linked account.
	err := r.db.Where("provider = ? AND provider_customer_id = ?", provider, providerCustomerID).
		Order("updated_at DESC").Order("id DESC").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) ApplySubscription(sub *models.BillingSubscription, items []models.BillingSubscriptionItem, decide SubscriptionDecision) (bool, error) {
	applied := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		existing, err := lockSubscription(tx, sub.Provider, sub.ProviderSubscriptionID)
		if err != nil {
			return err
		}
		ok, err := decide(existing)
		if err != nil || !ok {
			return err
		}

		if existing != nil {
			sub.ID = existing.ID
			sub.CreatedAt = existing.CreatedAt
			if sub.AccountID == "" {
				sub.AccountID = existing.AccountID
			}
			if sub.ProviderCustomerID == "" {
				sub.ProviderCustomerID = existing.ProviderCustomerID
			}
		}
		// Items are written separately below.
		if err := tx.Omit(clause.Associations).Save(sub).Error; err != nil {
			return err
		}
		if err := tx.Where("subscription_id = ?", sub.ID).Delete(&models.BillingSubscriptionItem{}).Error; err != nil {
			return err
		}
		if len(items) > 0 {
			for i := range items {
				items[i].ID = 0
				items[i].SubscriptionID = sub.ID
			}
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}
		sub.Items = items
		applied = true
		return nil
	})
	return applied, err
}

func (r *gormRepository) CancelSubscription(provider, providerSubscriptionID string, canceledAt time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		existing, err := lockSubscription(tx, provider, providerSubscriptionID)
		if err != nil {
			return err
		}
		if existing == nil {
			return tx.Create(&models.BillingSubscription{
				Provider:               provider,
				ProviderSubscriptionID: providerSubscriptionID,
				Status:                 models.BillingStatusCanceled,
				Active:                 false,
				CanceledAt:             &canceledAt,
			}).Error
		}
		if existing.IsCanceled() {
			return nil
		}
		return tx.Model(&models.BillingSubscription{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
			"status":      models.BillingStatusCanceled,
			"active":      false,
			"canceled_at": &canceledAt,
		}).Error
	})
}

func (r *gormRepository) GetSubscription(provider, providerSubscriptionID string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.Preload("Items").
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
		"attempts":         gorm.Expr("attempts + 1"),
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// lockSubscription loads the row with SELECT ... FOR UPDATE.
func lockSubscription(tx *gorm.DB, provider, providerSubscriptionID string) (*models.BillingSubscription, error) {
	var existing models.BillingSubscription
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &existing, nil
}
