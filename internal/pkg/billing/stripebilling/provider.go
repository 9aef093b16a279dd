package stripebilling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/ManuelReschke/billingkit/internal/pkg/billing"
)

// Config holds the Stripe credentials. APIURL is only set to point the SDK
// at a non default backend.
type Config struct {
	SecretKey     string
	WebhookSecret string
	APIURL        string
}

// Provider implements billing.Provider on top of the Stripe API.
type Provider struct {
	sc            *client.API
	webhookSecret string
}

var _ billing.Provider = (*Provider)(nil)

// New creates a Stripe provider. The SDK's own retries are disabled so that a
// failed call surfaces to the caller once.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("stripe secret key is not configured")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("stripe webhook secret is not configured")
	}

	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	sc := &client.API{}
	sc.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &Provider{sc: sc, webhookSecret: cfg.WebhookSecret}, nil
}

func (p *Provider) ID() billing.ProviderID { return billing.ProviderStripe }

func (p *Provider) CreateCheckoutSession(ctx context.Context, in billing.CheckoutSessionParams) (*billing.CheckoutSession, error) {
	if err := billing.Validate(in); err != nil {
		return nil, err
	}
	returnURL, err := withSessionIDPlaceholder(in.ReturnURL)
	if err != nil {
		return nil, fmt.Errorf("%w: return url: %v", billing.ErrInvalidRequest, err)
	}

	params := &stripe.CheckoutSessionParams{
		UIMode:            stripe.String(string(stripe.CheckoutSessionUIModeEmbedded)),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(in.AccountID),
		ReturnURL:         stripe.String(returnURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.Plan.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metadataAccountID: in.AccountID},
		},
	}
	if trial := in.EffectiveTrialDays(); trial > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(trial))
	}
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	} else if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	params.Context = ctx

	session, err := p.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, requestError("create checkout session", err)
	}
	if session.ClientSecret == "" {
		return nil, requestError("create checkout session", errors.New("response carried no client secret"))
	}
	return &billing.CheckoutSession{CheckoutToken: session.ClientSecret}, nil
}

func (p *Provider) CreateBillingPortalSession(ctx context.Context, in billing.BillingPortalSessionParams) (*billing.BillingPortalSession, error) {
	if strings.TrimSpace(in.CustomerID) == "" {
		return nil, &billing.CustomerNotFoundError{}
	}
	if err := billing.Validate(in); err != nil {
		return nil, err
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(in.CustomerID),
		ReturnURL: stripe.String(in.ReturnURL),
	}
	params.Context = ctx

	session, err := p.sc.BillingPortalSessions.New(params)
	if err != nil {
		return nil, requestError("create billing portal session", err)
	}
	return &billing.BillingPortalSession{URL: session.URL}, nil
}

func (p *Provider) RetrieveCheckoutSession(ctx context.Context, in billing.RetrieveCheckoutSessionParams) (*billing.RetrievedCheckoutSession, error) {
	if err := billing.Validate(in); err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := p.sc.CheckoutSessions.Get(in.SessionID, params)
	if err != nil {
		return nil, requestError("retrieve checkout session", err)
	}

	status := billing.CheckoutSessionStatus(session.Status)
	if status == "" {
		status = billing.CheckoutSessionComplete
	}
	out := &billing.RetrievedCheckoutSession{
		Status:        status,
		IsSessionOpen: status == billing.CheckoutSessionOpen,
	}
	if out.IsSessionOpen && session.ClientSecret != "" {
		token := session.ClientSecret
		out.CheckoutToken = &token
	}
	if status != billing.CheckoutSessionExpired && session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		email := session.CustomerDetails.Email
		out.Customer.Email = &email
	}
	return out, nil
}

func (p *Provider) CancelSubscription(ctx context.Context, in billing.CancelSubscriptionParams) (*billing.CancelSubscriptionResult, error) {
	if err := billing.Validate(in); err != nil {
		return nil, err
	}

	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	sub, err := p.sc.Subscriptions.Get(in.SubscriptionID, getParams)
	if err != nil {
		return nil, requestError("retrieve subscription", err)
	}
	if isTerminal(sub.Status) {
		return &billing.CancelSubscriptionResult{Success: true}, nil
	}

	cancelParams := &stripe.SubscriptionCancelParams{}
	cancelParams.Context = ctx
	if _, err := p.sc.Subscriptions.Cancel(in.SubscriptionID, cancelParams); err != nil {
		// Canceled concurrently between the two calls.
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return &billing.CancelSubscriptionResult{Success: true}, nil
		}
		return nil, requestError("cancel subscription", err)
	}
	return &billing.CancelSubscriptionResult{Success: true}, nil
}

func isTerminal(status stripe.SubscriptionStatus) bool {
	return status == stripe.SubscriptionStatusCanceled || status == stripe.SubscriptionStatusIncompleteExpired
}

// requestError wraps an SDK error, keeping the *stripe.Error as Raw.
func requestError(op string, err error) error {
	out := &billing.ProviderRequestError{Provider: billing.ProviderStripe, Operation: op, Raw: err}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		out.StatusCode = stripeErr.HTTPStatusCode
	}
	return out
}

// withSessionIDPlaceholder appends the template variable Stripe replaces with
// the checkout session id on redirect.
func withSessionIDPlaceholder(returnURL string) (string, error) {
	u, err := url.Parse(returnURL)
	if err != nil {
		return "", err
	}
	placeholder := "session_id={CHECKOUT_SESSION_ID}"
	if u.RawQuery == "" {
		u.RawQuery = placeholder
	} else {
		u.RawQuery += "&" + placeholder
	}
	return u.String(), nil
}
