package billing

import (
	"strings"

	"github.com/ManuelReschke/billingkit/app/models"
)

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case models.BillingIntervalMonth, models.BillingIntervalYear:
		return i
	default:
		return ""
	}
}

// matchesCatalog reports whether a requested plan agrees with its catalog row
// on product and interval.
func matchesCatalog(plan Plan, row *models.BillingPlan) bool {
	return strings.TrimSpace(plan.ProductID) == strings.TrimSpace(row.ProductID) &&
		normalizeInterval(plan.Interval) == normalizeInterval(row.BillingInterval)
}

// IsActiveStatus reports whether a subscription status grants access.
func IsActiveStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.BillingStatusActive, models.BillingStatusTrialing:
		return true
	default:
		return false
	}
}

// shouldApply decides whether incoming state may overwrite the stored row.
// Canceled rows are terminal and older versions never win.
func shouldApply(existing *models.BillingSubscription, incomingVersion int64) bool {
	if existing == nil {
		return true
	}
	if existing.IsCanceled() {
		return false
	}
	return incomingVersion >= existing.ProviderVersion
}
