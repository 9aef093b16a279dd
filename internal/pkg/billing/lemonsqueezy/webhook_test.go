package lemonsqueezy

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/billingkit/internal/pkg/billing"
)

type recordedCall struct {
	kind           string
	payload        billing.SubscriptionUpsertPayload
	customerID     string
	subscriptionID string
}

type recordingCallbacks struct {
	calls []recordedCall
	err   error
}

func (r *recordingCallbacks) OnCheckoutSessionCompleted(ctx context.Context, payload billing.SubscriptionUpsertPayload, customerID string) error {
	r.calls = append(r.calls, recordedCall{kind: "completed", payload: payload, customerID: customerID})
	return r.err
}

func (r *recordingCallbacks) OnSubscriptionUpdated(ctx context.Context, payload billing.SubscriptionUpsertPayload, customerID string) error {
	r.calls = append(r.calls, recordedCall{kind: "updated", payload: payload, customerID: customerID})
	return r.err
}

func (r *recordingCallbacks) OnSubscriptionDeleted(ctx context.Context, subscriptionID string) error {
	r.calls = append(r.calls, recordedCall{kind: "deleted", subscriptionID: subscriptionID})
	return r.err
}

func subscriptionEvent(name, status string) string {
	return `{"meta":{"event_name":"` + name + `","custom_data":{"account_id":"` + testAccountID + `"}},` +
		`"data":{"type":"subscriptions","id":"42","attributes":` + subscriptionAttributesJSON(status) + `}}`
}

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func signed(body string) billing.WebhookRequest {
	h := http.Header{}
	h.Set("X-Signature", sign(body, testWebhookSecret))
	return billing.WebhookRequest{Body: []byte(body), Header: h}
}

func verifyAndHandle(t *testing.T, p *Provider, body string) *recordingCallbacks {
	t.Helper()
	event, err := p.VerifyWebhookSignature(context.Background(), signed(body))
	require.NoError(t, err)
	cb := &recordingCallbacks{}
	require.NoError(t, p.HandleWebhookEvent(context.Background(), event, cb))
	return cb
}

func TestVerifyWebhookSignature(t *testing.T) {
	p, _ := newTestProvider(t)
	body := subscriptionEvent(eventSubscriptionUpdated, statusActive)

	event, err := p.VerifyWebhookSignature(context.Background(), signed(body))
	require.NoError(t, err)
	assert.Equal(t, billing.ProviderLemonSqueezy, event.Provider)
	assert.Equal(t, eventSubscriptionUpdated, event.Type)
	assert.Empty(t, event.ID)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC).Unix(), event.Created)
	assert.Equal(t, body, string(event.Raw))
}

func TestVerifyWebhookSignatureRejects(t *testing.T) {
	p, _ := newTestProvider(t)
	body := subscriptionEvent(eventSubscriptionUpdated, statusActive)

	tampered := signed(body)
	tampered.Body = []byte(body + " ")

	junk := signed(body)
	junk.Body = []byte("{ not json")

	missing := billing.WebhookRequest{Body: []byte(body), Header: http.Header{}}

	malformed := billing.WebhookRequest{Body: []byte(body), Header: http.Header{}}
	malformed.Header.Set("X-Signature", "zz-not-hex")

	wrong := billing.WebhookRequest{Body: []byte(body), Header: http.Header{}}
	wrong.Header.Set("X-Signature", sign(body, "other"))

	cases := map[string]struct {
		req  billing.WebhookRequest
		want error
	}{
		"tampered body":   {tampered, billing.ErrSignatureMismatch},
		"unverified junk": {junk, billing.ErrSignatureMismatch},
		"missing header":  {missing, billing.ErrSignatureMissing},
		"malformed":       {malformed, billing.ErrSignatureMalformed},
		"wrong secret":    {wrong, billing.ErrSignatureMismatch},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.VerifyWebhookSignature(context.Background(), tc.req)
			var sigErr *billing.SignatureVerificationError
			require.True(t, errors.As(err, &sigErr), "got %v", err)
			assert.Equal(t, billing.ProviderLemonSqueezy, sigErr.Provider)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestHandleSubscriptionCreated(t *testing.T) {
	p, _ := newTestProvider(t)
	cb := verifyAndHandle(t, p, subscriptionEvent(eventSubscriptionCreated, statusOnTrial))

	require.Len(t, cb.calls, 1)
	call := cb.calls[0]
	assert.Equal(t, "completed", call.kind)
	assert.Equal(t, "7", call.customerID)
	assert.Equal(t, testAccountID, call.payload.TargetAccountID)
	assert.Equal(t, "42", call.payload.TargetSubscriptionID)
	assert.Equal(t, "trialing", call.payload.Status)
	assert.True(t, call.payload.Active)
	require.NotNil(t, call.payload.TrialStartsAt)
	assert.Equal(t, time.Date(2023, 12, 14, 0, 0, 0, 0, time.UTC), call.payload.PeriodEndsAt)
	require.Len(t, call.payload.LineItems, 1)
	assert.Equal(t, billing.SubscriptionLineItem{ID: "5", ProductID: "100", VariantID: "200", Quantity: 1}, call.payload.LineItems[0])
}

func TestHandleSubscriptionUpdates(t *testing.T) {
	p, _ := newTestProvider(t)

	cases := []struct {
		event       string
		status      string
		wantStatus  string
		wantActive  bool
		wantCancels bool
	}{
		{eventSubscriptionUpdated, statusActive, "active", true, false},
		{eventSubscriptionCancelled, statusCancelled, "active", true, true},
		{eventSubscriptionPaused, statusPaused, "paused", false, false},
		{eventSubscriptionUnpaused, statusActive, "active", true, false},
		{eventSubscriptionResumed, statusActive, "active", true, false},
		{eventSubscriptionUpdated, statusPastDue, "past_due", false, false},
		{eventSubscriptionUpdated, statusUnpaid, "unpaid", false, false},
	}
	for _, tc := range cases {
		cb := verifyAndHandle(t, p, subscriptionEvent(tc.event, tc.status))
		require.Len(t, cb.calls, 1, tc.event)
		call := cb.calls[0]
		assert.Equal(t, "updated", call.kind, tc.event)
		assert.Equal(t, tc.wantStatus, call.payload.Status, tc.event)
		assert.Equal(t, tc.wantActive, call.payload.Active, tc.event)
		assert.Equal(t, tc.wantCancels, call.payload.CancelAtPeriodEnd, tc.event)
	}
}

func TestHandlePaymentSuccessFetchesSubscription(t *testing.T) {
	p, fake := newTestProvider(t)
	body := `{"meta":{"event_name":"subscription_payment_success","custom_data":{"account_id":"` + testAccountID + `"}},` +
		`"data":{"type":"subscription-invoices","id":"900","attributes":{"subscription_id":42,"updated_at":"2023-11-15T00:00:00.000000Z"}}}`

	cb := verifyAndHandle(t, p, body)
	require.Len(t, cb.calls, 1)
	assert.Equal(t, "updated", cb.calls[0].kind)
	assert.Equal(t, "42", cb.calls[0].payload.TargetSubscriptionID)
	assert.Equal(t, time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC).Unix(), cb.calls[0].payload.ProviderVersion)
	assert.NotNil(t, fake.body("GET /v1/subscriptions/42"))
}

func TestHandleSubscriptionExpired(t *testing.T) {
	p, _ := newTestProvider(t)
	cb := verifyAndHandle(t, p, subscriptionEvent(eventSubscriptionExpired, statusExpired))

	require.Len(t, cb.calls, 1)
	assert.Equal(t, recordedCall{kind: "deleted", subscriptionID: "42"}, cb.calls[0])
}

func TestHandleIgnoresUnmappedEvents(t *testing.T) {
	p, _ := newTestProvider(t)

	for _, name := range []string{"order_created", "license_key_created", "subscription_payment_failed", ""} {
		cb := verifyAndHandle(t, p, subscriptionEvent(name, statusActive))
		assert.Empty(t, cb.calls, name)
		assert.False(t, p.Handles(name), name)
	}
}

func TestHandleReturnsCallbackErrorUnchanged(t *testing.T) {
	p, _ := newTestProvider(t)
	event, err := p.VerifyWebhookSignature(context.Background(), signed(subscriptionEvent(eventSubscriptionUpdated, statusActive)))
	require.NoError(t, err)

	cbErr := errors.New("write failed")
	err = p.HandleWebhookEvent(context.Background(), event, &recordingCallbacks{err: cbErr})
	assert.Same(t, cbErr, err)
}

func TestMapStatusUnknownIsIncomplete(t *testing.T) {
	status, cancels := mapStatus("something_new")
	assert.Equal(t, "incomplete", status)
	assert.False(t, cancels)
}
