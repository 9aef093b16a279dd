package providers

import (
	"github.com/ManuelReschke/billingkit/internal/pkg/billing"
	"github.com/ManuelReschke/billingkit/internal/pkg/billing/lemonsqueezy"
	"github.com/ManuelReschke/billingkit/internal/pkg/billing/stripebilling"
	"github.com/ManuelReschke/billingkit/internal/pkg/config"
)

// NewRegistry registers every implemented provider. Constructors run on first
// use, so credentials of providers that are not selected are never checked.
// Paddle is recognized by configuration but has no implementation.
func NewRegistry(cfg config.Billing) *billing.Registry {
	r := billing.NewRegistry()
	r.Register(billing.ProviderStripe, func() (billing.Provider, error) {
		p, err := stripebilling.New(stripebilling.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			APIURL:        cfg.StripeAPIURL,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	r.Register(billing.ProviderLemonSqueezy, func() (billing.Provider, error) {
		p, err := lemonsqueezy.New(lemonsqueezy.Config{
			APIKey:        cfg.LemonSqueezyAPIKey,
			StoreID:       cfg.LemonSqueezyStoreID,
			WebhookSecret: cfg.LemonSqueezyWebhookSecret,
			BaseURL:       cfg.LemonSqueezyAPIURL,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	return r
}
