package billing

import (
	"context"
	"strings"
)

// ProviderID identifies a payment provider in configuration and storage.
type ProviderID string

const (
	ProviderStripe       ProviderID = "stripe"
	ProviderLemonSqueezy ProviderID = "lemon-squeezy"
	ProviderPaddle       ProviderID = "paddle"
)

// ParseProviderID normalizes a configured provider name.
func ParseProviderID(s string) ProviderID {
	return ProviderID(strings.ToLower(strings.TrimSpace(s)))
}

// Strategy is the provider agnostic contract for checkout and subscription
// lifecycle operations. Implementations never persist state.
type Strategy interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	CreateBillingPortalSession(ctx context.Context, params BillingPortalSessionParams) (*BillingPortalSession, error)
	RetrieveCheckoutSession(ctx context.Context, params RetrieveCheckoutSessionParams) (*RetrievedCheckoutSession, error)
	// CancelSubscription succeeds for subscriptions that are already canceled.
	CancelSubscription(ctx context.Context, params CancelSubscriptionParams) (*CancelSubscriptionResult, error)
}

// WebhookCallbacks receives the three canonical lifecycle events.
type WebhookCallbacks interface {
	OnCheckoutSessionCompleted(ctx context.Context, payload SubscriptionUpsertPayload, customerID string) error
	OnSubscriptionUpdated(ctx context.Context, payload SubscriptionUpsertPayload, customerID string) error
	OnSubscriptionDeleted(ctx context.Context, subscriptionID string) error
}

// WebhookHandler authenticates provider webhooks and reduces them to
// WebhookCallbacks invocations.
type WebhookHandler interface {
	// VerifyWebhookSignature checks the signature over the raw body and
	// returns a *SignatureVerificationError before anything is parsed.
	VerifyWebhookSignature(ctx context.Context, req WebhookRequest) (*VerifiedEvent, error)
	// HandleWebhookEvent invokes at most one callback. Event types outside
	// the handled set are ignored. Callback errors are returned as is.
	HandleWebhookEvent(ctx context.Context, event *VerifiedEvent, callbacks WebhookCallbacks) error
	// Handles reports whether an event type maps to a callback.
	Handles(eventType string) bool
}

// Provider bundles both contracts for one payment backend.
type Provider interface {
	Strategy
	WebhookHandler
	ID() ProviderID
}
