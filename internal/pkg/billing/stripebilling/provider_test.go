package stripebilling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/ManuelReschke/billingkit/internal/pkg/billing"
)

const (
	testAccountID     = "11111111-1111-1111-1111-111111111111"
	testWebhookSecret = "whsec_test_secret"
)

// fakeStripe serves the handful of API routes the provider uses.
type fakeStripe struct {
	mu            sync.Mutex
	forms         map[string]url.Values
	subStatus     map[string]string
	cancelCalls   int
	subscriptions map[string]string
}

func newFakeStripe() *fakeStripe {
	return &fakeStripe{
		forms:         make(map[string]url.Values),
		subStatus:     map[string]string{"sub_1": "active"},
		subscriptions: make(map[string]string),
	}
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = r.ParseForm()
	f.forms[r.Method+" "+r.URL.Path] = r.PostForm
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
		if r.PostForm.Get("line_items[0][price]") == "price_missing" {
			writeStripeError(w, http.StatusBadRequest, "resource_missing", "No such price: 'price_missing'")
			return
		}
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","mode":"subscription","status":"open","client_secret":"cs_test_1_secret_abc"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cs_open":
		_, _ = w.Write([]byte(`{"id":"cs_open","object":"checkout.session","status":"open","client_secret":"cs_open_secret","customer_details":{"email":"buyer@example.com"}}`))
	case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cs_complete":
		_, _ = w.Write([]byte(`{"id":"cs_complete","object":"checkout.session","status":"complete","client_secret":"cs_complete_secret","customer_details":{"email":"buyer@example.com"}}`))
	case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cs_expired":
		_, _ = w.Write([]byte(`{"id":"cs_expired","object":"checkout.session","status":"expired","client_secret":"cs_expired_secret"}`))
	case r.Method == http.MethodPost && r.URL.Path == "/v1/billing_portal/sessions":
		_, _ = w.Write([]byte(`{"id":"bps_1","object":"billing_portal.session","url":"https://billing.stripe.com/p/session/test_1"}`))
	case strings.HasPrefix(r.URL.Path, "/v1/subscriptions/"):
		id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
		status, ok := f.subStatus[id]
		if !ok {
			writeStripeError(w, http.StatusNotFound, "resource_missing", "No such subscription: '"+id+"'")
			return
		}
		if r.Method == http.MethodDelete {
			f.cancelCalls++
			f.subStatus[id] = "canceled"
			status = "canceled"
		}
		if body, ok := f.subscriptions[id]; ok {
			_, _ = w.Write([]byte(body))
			return
		}
		_, _ = w.Write([]byte(`{"id":"` + id + `","object":"subscription","status":"` + status + `"}`))
	default:
		writeStripeError(w, http.StatusNotFound, "resource_missing", "Unrecognized request URL")
	}
}

func (f *fakeStripe) form(key string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[key]
}

func writeStripeError(w http.ResponseWriter, status int, code, msg string) {
	w.WriteHeader(status)
	body, _ := json.Marshal(map[string]any{"error": map[string]any{
		"type":    "invalid_request_error",
		"code":    code,
		"message": msg,
	}})
	_, _ = w.Write(body)
}

func newTestProvider(t *testing.T) (*Provider, *fakeStripe) {
	t.Helper()
	fake := newFakeStripe()
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	p, err := New(Config{SecretKey: "sk_test_123", WebhookSecret: testWebhookSecret, APIURL: ts.URL})
	require.NoError(t, err)
	return p, fake
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{WebhookSecret: "whsec"})
	assert.Error(t, err)
	_, err = New(Config{SecretKey: "sk_test"})
	assert.Error(t, err)
}

func TestCreateCheckoutSession(t *testing.T) {
	p, fake := newTestProvider(t)
	trial := 7

	got, err := p.CreateCheckoutSession(context.Background(), billing.CheckoutSessionParams{
		AccountID:     testAccountID,
		Plan:          billing.Plan{ProductID: "p1", PriceID: "price1", Interval: "month", TrialDays: &trial},
		ReturnURL:     "https://example.com/return",
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1_secret_abc", got.CheckoutToken)

	form := fake.form("POST /v1/checkout/sessions")
	require.NotNil(t, form)
	assert.Equal(t, testAccountID, form.Get("client_reference_id"))
	assert.Equal(t, "embedded", form.Get("ui_mode"))
	assert.Equal(t, "subscription", form.Get("mode"))
	assert.Equal(t, "price1", form.Get("line_items[0][price]"))
	assert.Equal(t, "7", form.Get("subscription_data[trial_period_days]"))
	assert.Equal(t, testAccountID, form.Get("subscription_data[metadata][accountId]"))
	assert.Equal(t, "buyer@example.com", form.Get("customer_email"))
	assert.Equal(t, "https://example.com/return?session_id={CHECKOUT_SESSION_ID}", form.Get("return_url"))
}

func TestCreateCheckoutSessionRejectsInvalidAccount(t *testing.T) {
	p, fake := newTestProvider(t)

	_, err := p.CreateCheckoutSession(context.Background(), billing.CheckoutSessionParams{
		AccountID: "not-a-uuid",
		Plan:      billing.Plan{ProductID: "p1", PriceID: "price1", Interval: "month"},
		ReturnURL: "https://example.com/return",
	})
	assert.ErrorIs(t, err, billing.ErrInvalidRequest)
	assert.Nil(t, fake.form("POST /v1/checkout/sessions"))
}

func TestCreateCheckoutSessionProviderRejection(t *testing.T) {
	p, _ := newTestProvider(t)

	_, err := p.CreateCheckoutSession(context.Background(), billing.CheckoutSessionParams{
		AccountID: testAccountID,
		Plan:      billing.Plan{ProductID: "p1", PriceID: "price_missing", Interval: "month"},
		ReturnURL: "https://example.com/return",
	})
	var reqErr *billing.ProviderRequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)

	var stripeErr *stripe.Error
	require.True(t, errors.As(reqErr.Raw, &stripeErr))
	assert.Equal(t, stripe.ErrorCodeResourceMissing, stripeErr.Code)
}

func TestCreateBillingPortalSession(t *testing.T) {
	p, fake := newTestProvider(t)

	got, err := p.CreateBillingPortalSession(context.Background(), billing.BillingPortalSessionParams{
		CustomerID: "cus_1",
		ReturnURL:  "https://app.example.com/home/acme/billing",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/session/test_1", got.URL)
	assert.Equal(t, "cus_1", fake.form("POST /v1/billing_portal/sessions").Get("customer"))

	_, err = p.CreateBillingPortalSession(context.Background(), billing.BillingPortalSessionParams{ReturnURL: "https://app.example.com"})
	var notFound *billing.CustomerNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestRetrieveCheckoutSession(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	expired, err := p.RetrieveCheckoutSession(ctx, billing.RetrieveCheckoutSessionParams{SessionID: "cs_expired"})
	require.NoError(t, err)
	assert.Nil(t, expired.CheckoutToken)
	assert.Equal(t, billing.CheckoutSessionExpired, expired.Status)
	assert.False(t, expired.IsSessionOpen)
	assert.Nil(t, expired.Customer.Email)

	open, err := p.RetrieveCheckoutSession(ctx, billing.RetrieveCheckoutSessionParams{SessionID: "cs_open"})
	require.NoError(t, err)
	require.NotNil(t, open.CheckoutToken)
	assert.Equal(t, "cs_open_secret", *open.CheckoutToken)
	assert.True(t, open.IsSessionOpen)
	require.NotNil(t, open.Customer.Email)
	assert.Equal(t, "buyer@example.com", *open.Customer.Email)

	complete, err := p.RetrieveCheckoutSession(ctx, billing.RetrieveCheckoutSessionParams{SessionID: "cs_complete"})
	require.NoError(t, err)
	assert.Nil(t, complete.CheckoutToken)
	assert.Equal(t, billing.CheckoutSessionComplete, complete.Status)
	assert.False(t, complete.IsSessionOpen)

	_, err = p.RetrieveCheckoutSession(ctx, billing.RetrieveCheckoutSessionParams{SessionID: "cs_unknown"})
	var reqErr *billing.ProviderRequestError
	assert.True(t, errors.As(err, &reqErr))
}

func TestCancelSubscriptionIsIdempotent(t *testing.T) {
	p, fake := newTestProvider(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := p.CancelSubscription(ctx, billing.CancelSubscriptionParams{SubscriptionID: "sub_1"})
		require.NoError(t, err)
		assert.True(t, got.Success)
	}
	assert.Equal(t, 1, fake.cancelCalls)

	_, err := p.CancelSubscription(ctx, billing.CancelSubscriptionParams{SubscriptionID: "sub_missing"})
	var reqErr *billing.ProviderRequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
}

func TestWithSessionIDPlaceholder(t *testing.T) {
	got, err := withSessionIDPlaceholder("https://example.com/return?plan=pro")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/return?plan=pro&session_id={CHECKOUT_SESSION_ID}", got)
}
