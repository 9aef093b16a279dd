package billing

import (
	"encoding/json"
	"net/http"
	"time"
)

// Plan describes a purchasable offering. PriceID is the provider price
// identifier (a variant id for providers that use variants).
type Plan struct {
	ProductID string `json:"productId" validate:"required"`
	PriceID   string `json:"priceId" validate:"required"`
	Interval  string `json:"interval" validate:"required,oneof=month year"`
	TrialDays *int   `json:"trialDays,omitempty" validate:"omitempty,min=0,max=730"`
}

// CheckoutSessionParams is the input for starting a hosted checkout.
type CheckoutSessionParams struct {
	AccountID     string `json:"accountId" validate:"required,uuid"`
	Plan          Plan   `json:"plan"`
	ReturnURL     string `json:"returnUrl" validate:"required,url"`
	CustomerID    string `json:"customerId,omitempty"`
	CustomerEmail string `json:"customerEmail,omitempty" validate:"omitempty,email"`
	TrialDays     *int   `json:"trialDays,omitempty" validate:"omitempty,min=0,max=730"`
}

// EffectiveTrialDays prefers the per-checkout trial over the plan default.
func (p CheckoutSessionParams) EffectiveTrialDays() int {
	if p.TrialDays != nil {
		return *p.TrialDays
	}
	if p.Plan.TrialDays != nil {
		return *p.Plan.TrialDays
	}
	return 0
}

type CheckoutSession struct {
	CheckoutToken string `json:"checkoutToken"`
}

// BillingPortalRequest is what callers send: the portal is opened for an
// account and returns to the account's billing page identified by slug.
type BillingPortalRequest struct {
	AccountID string `json:"accountId" validate:"required,uuid"`
	Slug      string `json:"slug" validate:"required,max=191"`
}

// BillingPortalSessionParams is the provider level portal input.
type BillingPortalSessionParams struct {
	CustomerID string `json:"customerId"`
	ReturnURL  string `json:"returnUrl" validate:"required,url"`
}

type BillingPortalSession struct {
	URL string `json:"url"`
}

type RetrieveCheckoutSessionParams struct {
	SessionID string `json:"sessionId" validate:"required"`
}

type CheckoutSessionStatus string

const (
	CheckoutSessionComplete CheckoutSessionStatus = "complete"
	CheckoutSessionExpired  CheckoutSessionStatus = "expired"
	CheckoutSessionOpen     CheckoutSessionStatus = "open"
)

type CheckoutCustomer struct {
	Email *string `json:"email"`
}

// RetrievedCheckoutSession is the read model of a checkout. CheckoutToken
// and Customer.Email are nil when the provider has nothing to offer, which
// is always the case for expired sessions.
type RetrievedCheckoutSession struct {
	CheckoutToken *string               `json:"checkoutToken"`
	Status        CheckoutSessionStatus `json:"status"`
	IsSessionOpen bool                  `json:"isSessionOpen"`
	Customer      CheckoutCustomer      `json:"customer"`
}

type CancelSubscriptionParams struct {
	SubscriptionID string `json:"subscriptionId" validate:"required"`
}

type CancelSubscriptionResult struct {
	Success bool `json:"success"`
}

// SubscriptionLineItem is a provider independent subscription item.
type SubscriptionLineItem struct {
	ID            string
	ProductID     string
	VariantID     string
	Quantity      int64
	Interval      string
	IntervalCount int64
	PriceAmount   int64
}

// SubscriptionUpsertPayload is the canonical subscription state handed to
// the reconciliation callbacks. ProviderVersion is the provider timestamp
// (unix seconds) the state was observed at.
type SubscriptionUpsertPayload struct {
	TargetAccountID      string
	TargetCustomerID     string
	TargetSubscriptionID string
	BillingProvider      ProviderID
	Status               string
	Active               bool
	Currency             string
	CancelAtPeriodEnd    bool
	PeriodStartsAt       time.Time
	PeriodEndsAt         time.Time
	TrialStartsAt        *time.Time
	TrialEndsAt          *time.Time
	LineItems            []SubscriptionLineItem
	ProviderVersion      int64
}

// WebhookRequest carries an inbound webhook exactly as received.
type WebhookRequest struct {
	Body   []byte
	Header http.Header
}

// VerifiedEvent is produced only by a successful signature verification.
// Raw is the verified request body, Data the provider event object.
type VerifiedEvent struct {
	Provider ProviderID
	ID       string
	Type     string
	Created  int64
	Raw      []byte
	Data     json.RawMessage
}

// WebhookOutcome describes what happened to a webhook delivery.
type WebhookOutcome struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	Ignored   bool   `json:"ignored,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Webhook outcome labels used for counters.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)
