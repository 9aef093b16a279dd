package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/billingkit/app/models"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// ErrAccountUnresolved is returned when a subscription update arrives for an
// unknown subscription whose owning account cannot be determined yet. The
// provider redelivers it once the checkout completion has been stored.
var ErrAccountUnresolved = errors.New("subscription account could not be resolved")

// Reconciler applies canonical webhook events to the billing tables. All
// subscription writes go through Repository.ApplySubscription and
// Repository.CancelSubscription so that the last provider version wins.
type Reconciler struct {
	provider ProviderID
	repo     Repository
	now      func() time.Time
}

func NewReconciler(provider ProviderID, repo Repository) *Reconciler {
	return &Reconciler{provider: provider, repo: repo, now: time.Now}
}

func (r *Reconciler) OnCheckoutSessionCompleted(ctx context.Context, payload SubscriptionUpsertPayload, customerID string) error {
	accountID := strings.TrimSpace(payload.TargetAccountID)
	customerID = firstNonEmpty(customerID, payload.TargetCustomerID)
	if accountID != "" && customerID != "" {
		if err := r.repo.UpsertCustomer(&models.BillingCustomer{
			AccountID:          accountID,
			Provider:           string(r.providerOf(payload)),
			ProviderCustomerID: customerID,
		}); err != nil {
			return fmt.Errorf("upsert billing customer: %w", err)
		}
	}
	return r.upsert(ctx, payload, customerID)
}

func (r *Reconciler) OnSubscriptionUpdated(ctx context.Context, payload SubscriptionUpsertPayload, customerID string) error {
	return r.upsert(ctx, payload, firstNonEmpty(customerID, payload.TargetCustomerID))
}

func (r *Reconciler) OnSubscriptionDeleted(ctx context.Context, subscriptionID string) error {
	_ = ctx
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return fmt.Errorf("%w: subscription id is required", ErrInvalidRequest)
	}
	if err := r.repo.CancelSubscription(string(r.provider), id, r.now().UTC()); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	log.Infof("[Billing] Subscription %s/%s canceled", r.provider, id)
	return nil
}

func (r *Reconciler) upsert(ctx context.Context, payload SubscriptionUpsertPayload, customerID string) error {
	_ = ctx
	subID := strings.TrimSpace(payload.TargetSubscriptionID)
	if subID == "" {
		return fmt.Errorf("%w: subscription id is required", ErrInvalidRequest)
	}
	provider := string(r.providerOf(payload))

	accountID := strings.TrimSpace(payload.TargetAccountID)
	if accountID == "" && customerID != "" {
		c, err := r.repo.FindCustomerByProviderID(provider, customerID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lookup billing customer: %w", err)
		}
		if c != nil {
			accountID = c.AccountID
		}
	}

	sub := subscriptionFromPayload(payload, provider, accountID, customerID)
	items := itemsFromPayload(payload)

	applied, err := r.repo.ApplySubscription(sub, items, func(existing *models.BillingSubscription) (bool, error) {
		if existing == nil && accountID == "" {
			return false, ErrAccountUnresolved
		}
		return shouldApply(existing, payload.ProviderVersion), nil
	})
	if err != nil {
		return fmt.Errorf("apply subscription %s: %w", subID, err)
	}
	if !applied {
		log.Infof("[Billing] Skipped stale state for subscription %s/%s (version %d)", provider, subID, payload.ProviderVersion)
		return nil
	}
	log.Infof("[Billing] Subscription %s/%s stored with status %s", provider, subID, sub.Status)
	return nil
}

func (r *Reconciler) providerOf(payload SubscriptionUpsertPayload) ProviderID {
	if payload.BillingProvider != "" {
		return payload.BillingProvider
	}
	return r.provider
}

func subscriptionFromPayload(p SubscriptionUpsertPayload, provider, accountID, customerID string) *models.BillingSubscription {
	status := strings.ToLower(strings.TrimSpace(p.Status))
	if status == "" {
		status = models.BillingStatusActive
	}
	return &models.BillingSubscription{
		AccountID:              accountID,
		Provider:               provider,
		ProviderSubscriptionID: strings.TrimSpace(p.TargetSubscriptionID),
		ProviderCustomerID:     customerID,
		Status:                 status,
		Active:                 p.Active,
		Currency:               strings.ToLower(p.Currency),
		CancelAtPeriodEnd:      p.CancelAtPeriodEnd,
		PeriodStartsAt:         timePtr(p.PeriodStartsAt),
		PeriodEndsAt:           timePtr(p.PeriodEndsAt),
		TrialStartsAt:          p.TrialStartsAt,
		TrialEndsAt:            p.TrialEndsAt,
		ProviderVersion:        p.ProviderVersion,
	}
}

func itemsFromPayload(p SubscriptionUpsertPayload) []models.BillingSubscriptionItem {
	items := make([]models.BillingSubscriptionItem, 0, len(p.LineItems))
	for _, li := range p.LineItems {
		qty := li.Quantity
		if qty <= 0 {
			qty = 1
		}
		count := li.IntervalCount
		if count <= 0 {
			count = 1
		}
		items = append(items, models.BillingSubscriptionItem{
			ProviderItemID: li.ID,
			ProductID:      li.ProductID,
			VariantID:      li.VariantID,
			Quantity:       qty,
			Interval:       normalizeInterval(li.Interval),
			IntervalCount:  count,
			PriceAmount:    li.PriceAmount,
		})
	}
	return items
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
