package lemonsqueezy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	ls "github.com/NdoleStudio/lemonsqueezy-go"

	"github.com/ManuelReschke/billingkit/internal/pkg/billing"
)

const customDataAccountID = "account_id"

// Config holds the Lemon Squeezy credentials. BaseURL is the API host
// without the /v1 prefix and is only set for non default backends.
type Config struct {
	APIKey        string
	StoreID       string
	WebhookSecret string
	BaseURL       string
	HTTPClient    *http.Client
}

// Provider implements billing.Provider on top of the Lemon Squeezy SDK.
type Provider struct {
	api     *ls.Client
	storeID int
	now     func() time.Time
}

var _ billing.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("lemon squeezy api key is not configured")
	}
	if strings.TrimSpace(cfg.StoreID) == "" {
		return nil, errors.New("lemon squeezy store id is not configured")
	}
	storeID, err := strconv.Atoi(strings.TrimSpace(cfg.StoreID))
	if err != nil {
		return nil, fmt.Errorf("lemon squeezy store id %q is not numeric", cfg.StoreID)
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("lemon squeezy webhook secret is not configured")
	}
	return &Provider{
		api:     newAPIClient(cfg),
		storeID: storeID,
		now:     time.Now,
	}, nil
}

func (p *Provider) ID() billing.ProviderID { return billing.ProviderLemonSqueezy }

// CreateCheckoutSession creates a checkout for the variant in Plan.PriceID.
// The returned token is the checkout URL.
//
// Lemon Squeezy matches customers by email, so CustomerID is not sent. Trials
// are configured on the variant: a plan trial is accepted as is, an explicit
// per-checkout trial cannot be honored and is rejected.
func (p *Provider) CreateCheckoutSession(ctx context.Context, in billing.CheckoutSessionParams) (*billing.CheckoutSession, error) {
	if err := billing.Validate(in); err != nil {
		return nil, err
	}
	if in.TrialDays != nil && *in.TrialDays > 0 {
		return nil, fmt.Errorf("%w: per-checkout trials are not supported by lemon squeezy, configure the trial on the variant", billing.ErrInvalidRequest)
	}
	variantID, err := strconv.Atoi(strings.TrimSpace(in.Plan.PriceID))
	if err != nil {
		return nil, fmt.Errorf("%w: variant id %q is not numeric", billing.ErrInvalidRequest, in.Plan.PriceID)
	}

	checkout, resp, err := p.api.Checkouts.Create(ctx, p.storeID, variantID, &ls.CheckoutCreateAttributes{
		ProductOptions: ls.CheckoutCreateProductOptions{
			RedirectURL: in.ReturnURL,
		},
		CheckoutData: ls.CheckoutCreateData{
			Email:  in.CustomerEmail,
			Custom: map[string]any{customDataAccountID: in.AccountID},
		},
	})
	if status, err := callError(resp, err); err != nil {
		return nil, requestError("create checkout", status, err)
	}

	var out checkoutResource
	if err := decodeResource(checkout.Data, &out); err != nil {
		return nil, requestError("create checkout", 0, err)
	}
	if out.Attributes.URL == "" {
		return nil, requestError("create checkout", 0, errors.New("response carried no checkout url"))
	}
	return &billing.CheckoutSession{CheckoutToken: out.Attributes.URL}, nil
}

// CreateBillingPortalSession returns the signed customer portal URL. Lemon
// Squeezy does not take a return URL, the portal links back on its own.
func (p *Provider) CreateBillingPortalSession(ctx context.Context, in billing.BillingPortalSessionParams) (*billing.BillingPortalSession, error) {
	if strings.TrimSpace(in.CustomerID) == "" {
		return nil, &billing.CustomerNotFoundError{}
	}
	if err := billing.Validate(in); err != nil {
		return nil, err
	}

	customer, resp, err := p.api.Customers.Get(ctx, in.CustomerID)
	if status, err := callError(resp, err); err != nil {
		if status == http.StatusNotFound {
			return nil, &billing.CustomerNotFoundError{}
		}
		return nil, requestError("retrieve customer", status, err)
	}

	var out customerResource
	if err := decodeResource(customer.Data, &out); err != nil {
		return nil, requestError("retrieve customer", 0, err)
	}
	if out.Attributes.URLs.CustomerPortal == "" {
		return nil, requestError("retrieve customer", 0, errors.New("customer has no portal url"))
	}
	return &billing.BillingPortalSession{URL: out.Attributes.URLs.CustomerPortal}, nil
}

// RetrieveCheckoutSession reports a checkout as open until its expiry. A
// completed purchase is only observable through webhooks.
func (p *Provider) RetrieveCheckoutSession(ctx context.Context, in billing.RetrieveCheckoutSessionParams) (*billing.RetrievedCheckoutSession, error) {
	if err := billing.Validate(in); err != nil {
		return nil, err
	}

	checkout, resp, err := p.api.Checkouts.Get(ctx, in.SessionID)
	if status, err := callError(resp, err); err != nil {
		return nil, requestError("retrieve checkout", status, err)
	}
	var out checkoutResource
	if err := decodeResource(checkout.Data, &out); err != nil {
		return nil, requestError("retrieve checkout", 0, err)
	}

	attrs := out.Attributes
	if expires := setTime(attrs.ExpiresAt); expires != nil && !expires.After(p.now()) {
		return &billing.RetrievedCheckoutSession{Status: billing.CheckoutSessionExpired}, nil
	}

	res := &billing.RetrievedCheckoutSession{
		Status:        billing.CheckoutSessionOpen,
		IsSessionOpen: true,
	}
	if attrs.URL != "" {
		token := attrs.URL
		res.CheckoutToken = &token
	}
	if attrs.CheckoutData.Email != "" {
		email := attrs.CheckoutData.Email
		res.Customer.Email = &email
	}
	return res, nil
}

func (p *Provider) CancelSubscription(ctx context.Context, in billing.CancelSubscriptionParams) (*billing.CancelSubscriptionResult, error) {
	if err := billing.Validate(in); err != nil {
		return nil, err
	}

	current, err := p.fetchSubscription(ctx, in.SubscriptionID)
	if err != nil {
		return nil, err
	}
	switch current.Attributes.Status {
	case statusCancelled, statusExpired:
		return &billing.CancelSubscriptionResult{Success: true}, nil
	}

	_, resp, err := p.api.Subscriptions.Cancel(ctx, in.SubscriptionID)
	if status, err := callError(resp, err); err != nil {
		return nil, requestError("cancel subscription", status, err)
	}
	return &billing.CancelSubscriptionResult{Success: true}, nil
}

func (p *Provider) fetchSubscription(ctx context.Context, id string) (subscriptionObject, error) {
	var sub subscriptionObject
	fetched, resp, err := p.api.Subscriptions.Get(ctx, id)
	if status, err := callError(resp, err); err != nil {
		return sub, requestError("retrieve subscription", status, err)
	}
	if err := decodeResource(fetched.Data, &sub); err != nil {
		return sub, requestError("retrieve subscription", 0, err)
	}
	return sub, nil
}

func requestError(op string, status int, err error) error {
	return &billing.ProviderRequestError{
		Provider:   billing.ProviderLemonSqueezy,
		Operation:  op,
		StatusCode: status,
		Raw:        err,
	}
}
