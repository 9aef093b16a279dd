package providers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/billingkit/internal/pkg/billing"
	"github.com/ManuelReschke/billingkit/internal/pkg/config"
)

func TestNewRegistryResolvesConfiguredProviders(t *testing.T) {
	r := NewRegistry(config.Billing{
		StripeSecretKey:           "sk_test_1",
		StripeWebhookSecret:       "whsec_1",
		LemonSqueezyAPIKey:        "ls_key",
		LemonSqueezyStoreID:       "1",
		LemonSqueezyWebhookSecret: "ls_secret",
	})

	stripe, err := r.Resolve(billing.ProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, billing.ProviderStripe, stripe.ID())

	ls, err := r.Resolve(billing.ProviderLemonSqueezy)
	require.NoError(t, err)
	assert.Equal(t, billing.ProviderLemonSqueezy, ls.ID())
}

func TestNewRegistryPaddleIsUnsupported(t *testing.T) {
	r := NewRegistry(config.Billing{})

	_, err := r.Strategy(billing.ProviderPaddle)
	var unsupported *billing.UnsupportedProviderError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, billing.ProviderPaddle, unsupported.Provider)
}

func TestNewRegistryMissingCredentialsFailOnUse(t *testing.T) {
	r := NewRegistry(config.Billing{})

	_, err := r.Resolve(billing.ProviderStripe)
	assert.Error(t, err)
	_, err = r.Resolve(billing.ProviderLemonSqueezy)
	assert.Error(t, err)
}
