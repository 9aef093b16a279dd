package lemonsqueezy

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingkit/app/models"
	"github.com/ManuelReschke/billingkit/internal/pkg/billing"
)

const signatureHeader = "X-Signature"

const (
	eventSubscriptionCreated        = "subscription_created"
	eventSubscriptionUpdated        = "subscription_updated"
	eventSubscriptionCancelled      = "subscription_cancelled"
	eventSubscriptionResumed        = "subscription_resumed"
	eventSubscriptionPaused         = "subscription_paused"
	eventSubscriptionUnpaused       = "subscription_unpaused"
	eventSubscriptionPaymentSuccess = "subscription_payment_success"
	eventSubscriptionExpired        = "subscription_expired"
)

// Lemon Squeezy subscription statuses.
const (
	statusOnTrial   = "on_trial"
	statusActive    = "active"
	statusPaused    = "paused"
	statusPastDue   = "past_due"
	statusUnpaid    = "unpaid"
	statusCancelled = "cancelled"
	statusExpired   = "expired"
)

type webhookEnvelope struct {
	Meta struct {
		EventName  string            `json:"event_name"`
		CustomData map[string]string `json:"custom_data"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

type webhookData struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Attributes struct {
		SubscriptionID int64     `json:"subscription_id"`
		UpdatedAt      time.Time `json:"updated_at"`
	} `json:"attributes"`
}

// VerifyWebhookSignature checks the X-Signature HMAC over the raw body before
// decoding it. Lemon Squeezy events carry no id, so ID stays empty.
func (p *Provider) VerifyWebhookSignature(ctx context.Context, req billing.WebhookRequest) (*billing.VerifiedEvent, error) {
	sig := strings.TrimSpace(req.Header.Get(signatureHeader))
	if sig == "" {
		return nil, signatureError(billing.ErrSignatureMissing)
	}
	if _, err := hex.DecodeString(sig); err != nil {
		return nil, signatureError(billing.ErrSignatureMalformed)
	}
	if !p.api.Webhooks.Verify(ctx, strings.ToLower(sig), req.Body) {
		return nil, signatureError(billing.ErrSignatureMismatch)
	}

	var env webhookEnvelope
	if err := json.Unmarshal(req.Body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode lemon squeezy event: %v", billing.ErrInvalidRequest, err)
	}
	var data webhookData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: decode lemon squeezy event data: %v", billing.ErrInvalidRequest, err)
		}
	}

	out := &billing.VerifiedEvent{
		Provider: billing.ProviderLemonSqueezy,
		Type:     env.Meta.EventName,
		Raw:      req.Body,
		Data:     req.Body,
	}
	if !data.Attributes.UpdatedAt.IsZero() {
		out.Created = data.Attributes.UpdatedAt.Unix()
	}
	return out, nil
}

func (p *Provider) Handles(eventType string) bool {
	switch eventType {
	case eventSubscriptionCreated,
		eventSubscriptionUpdated,
		eventSubscriptionCancelled,
		eventSubscriptionResumed,
		eventSubscriptionPaused,
		eventSubscriptionUnpaused,
		eventSubscriptionPaymentSuccess,
		eventSubscriptionExpired:
		return true
	default:
		return false
	}
}

// HandleWebhookEvent maps subscription_created to checkout completion,
// subscription_expired to deletion and the remaining subscription events to
// updates. Payment events carry an invoice, the subscription is fetched.
func (p *Provider) HandleWebhookEvent(ctx context.Context, event *billing.VerifiedEvent, callbacks billing.WebhookCallbacks) error {
	if !p.Handles(event.Type) {
		return nil
	}

	var env webhookEnvelope
	if err := json.Unmarshal(event.Data, &env); err != nil {
		return fmt.Errorf("%w: decode lemon squeezy event: %v", billing.ErrInvalidRequest, err)
	}
	accountID := strings.TrimSpace(env.Meta.CustomData[customDataAccountID])

	var sub subscriptionObject
	if event.Type == eventSubscriptionPaymentSuccess {
		var invoice webhookData
		if err := json.Unmarshal(env.Data, &invoice); err != nil {
			return fmt.Errorf("%w: decode subscription invoice: %v", billing.ErrInvalidRequest, err)
		}
		if invoice.Attributes.SubscriptionID == 0 {
			log.Infof("[Webhook] Invoice %s has no subscription, skipping", invoice.ID)
			return nil
		}
		fetched, err := p.fetchSubscription(ctx, strconv.FormatInt(invoice.Attributes.SubscriptionID, 10))
		if err != nil {
			return err
		}
		sub = fetched
	} else if err := json.Unmarshal(env.Data, &sub); err != nil {
		return fmt.Errorf("%w: decode subscription: %v", billing.ErrInvalidRequest, err)
	}

	switch event.Type {
	case eventSubscriptionExpired:
		return callbacks.OnSubscriptionDeleted(ctx, sub.ID)
	case eventSubscriptionCreated:
		payload := buildUpsertPayload(sub, accountID, event.Created)
		return callbacks.OnCheckoutSessionCompleted(ctx, payload, payload.TargetCustomerID)
	default:
		payload := buildUpsertPayload(sub, accountID, event.Created)
		return callbacks.OnSubscriptionUpdated(ctx, payload, payload.TargetCustomerID)
	}
}

func buildUpsertPayload(sub subscriptionObject, accountID string, version int64) billing.SubscriptionUpsertPayload {
	attrs := sub.Attributes
	status, cancelAtPeriodEnd := mapStatus(attrs.Status)
	if attrs.Cancelled {
		cancelAtPeriodEnd = true
	}
	if version == 0 && !attrs.UpdatedAt.IsZero() {
		version = attrs.UpdatedAt.Unix()
	}

	out := billing.SubscriptionUpsertPayload{
		TargetAccountID:      accountID,
		TargetSubscriptionID: sub.ID,
		BillingProvider:      billing.ProviderLemonSqueezy,
		Status:               status,
		Active:               billing.IsActiveStatus(status),
		CancelAtPeriodEnd:    cancelAtPeriodEnd,
		PeriodStartsAt:       attrs.CreatedAt.UTC(),
		TrialEndsAt:          setTime(attrs.TrialEndsAt),
		ProviderVersion:      version,
	}
	if attrs.CustomerID > 0 {
		out.TargetCustomerID = strconv.FormatInt(attrs.CustomerID, 10)
	}
	if end := setTime(attrs.RenewsAt); end != nil {
		out.PeriodEndsAt = *end
	} else if end := setTime(attrs.EndsAt); end != nil {
		out.PeriodEndsAt = *end
	}
	if status == models.BillingStatusTrialing {
		start := attrs.CreatedAt.UTC()
		out.TrialStartsAt = &start
	}

	if item := attrs.FirstSubscriptionItem; item != nil {
		out.LineItems = append(out.LineItems, billing.SubscriptionLineItem{
			ID:        strconv.FormatInt(item.ID, 10),
			ProductID: strconv.FormatInt(attrs.ProductID, 10),
			VariantID: strconv.FormatInt(attrs.VariantID, 10),
			Quantity:  item.Quantity,
		})
	}
	return out
}

// mapStatus translates a Lemon Squeezy status. A cancelled subscription keeps
// access until the end of the period.
func mapStatus(s string) (status string, cancelAtPeriodEnd bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case statusOnTrial:
		return models.BillingStatusTrialing, false
	case statusActive:
		return models.BillingStatusActive, false
	case statusPaused:
		return models.BillingStatusPaused, false
	case statusPastDue:
		return models.BillingStatusPastDue, false
	case statusUnpaid:
		return models.BillingStatusUnpaid, false
	case statusCancelled:
		return models.BillingStatusActive, true
	case statusExpired:
		return models.BillingStatusExpired, false
	default:
		return models.BillingStatusIncomplete, false
	}
}

func signatureError(err error) error {
	return &billing.SignatureVerificationError{Provider: billing.ProviderLemonSqueezy, Reason: err.Error(), Err: err}
}
