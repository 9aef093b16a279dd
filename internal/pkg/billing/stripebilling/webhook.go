package stripebilling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/ManuelReschke/billingkit/internal/pkg/billing"
)

const (
	signatureHeader   = "Stripe-Signature"
	metadataAccountID = "accountId"

	eventCheckoutSessionCompleted = "checkout.session.completed"
	eventSubscriptionUpdated      = "customer.subscription.updated"
	eventSubscriptionDeleted      = "customer.subscription.deleted"
)

// VerifyWebhookSignature checks the Stripe-Signature header against the raw
// body. The body is decoded only after the signature matched.
func (p *Provider) VerifyWebhookSignature(ctx context.Context, req billing.WebhookRequest) (*billing.VerifiedEvent, error) {
	_ = ctx
	header := strings.TrimSpace(req.Header.Get(signatureHeader))
	if header == "" {
		return nil, &billing.SignatureVerificationError{Provider: billing.ProviderStripe, Reason: "missing " + signatureHeader + " header", Err: billing.ErrSignatureMissing}
	}
	if err := webhook.ValidatePayload(req.Body, header, p.webhookSecret); err != nil {
		return nil, &billing.SignatureVerificationError{Provider: billing.ProviderStripe, Reason: signatureReason(err), Err: err}
	}

	var event stripe.Event
	if err := json.Unmarshal(req.Body, &event); err != nil {
		return nil, fmt.Errorf("%w: decode stripe event: %v", billing.ErrInvalidRequest, err)
	}
	out := &billing.VerifiedEvent{
		Provider: billing.ProviderStripe,
		ID:       event.ID,
		Type:     string(event.Type),
		Created:  event.Created,
		Raw:      req.Body,
	}
	if event.Data != nil {
		out.Data = event.Data.Raw
	}
	return out, nil
}

func signatureReason(err error) string {
	switch {
	case errors.Is(err, webhook.ErrNotSigned):
		return "no signatures found"
	case errors.Is(err, webhook.ErrInvalidHeader):
		return "malformed signature header"
	case errors.Is(err, webhook.ErrTooOld):
		return "timestamp outside tolerance"
	case errors.Is(err, webhook.ErrNoValidSignature):
		return "no valid signature"
	default:
		return "verification failed"
	}
}

func (p *Provider) Handles(eventType string) bool {
	switch eventType {
	case eventCheckoutSessionCompleted, eventSubscriptionUpdated, eventSubscriptionDeleted:
		return true
	default:
		return false
	}
}

// HandleWebhookEvent maps Stripe events to the reconciliation callbacks.
// Checkout completion fetches the subscription so the callback receives the
// same shape as an update.
func (p *Provider) HandleWebhookEvent(ctx context.Context, event *billing.VerifiedEvent, callbacks billing.WebhookCallbacks) error {
	switch event.Type {
	case eventCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data, &session); err != nil {
			return fmt.Errorf("%w: decode checkout session: %v", billing.ErrInvalidRequest, err)
		}
		if session.Mode != stripe.CheckoutSessionModeSubscription || session.Subscription == nil {
			log.Infof("[Webhook] Checkout %s is not a subscription checkout, skipping", session.ID)
			return nil
		}

		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		sub, err := p.sc.Subscriptions.Get(session.Subscription.ID, params)
		if err != nil {
			return requestError("retrieve subscription", err)
		}
		customerID := customerIDOf(session.Customer)
		if customerID == "" {
			customerID = customerIDOf(sub.Customer)
		}
		payload := buildUpsertPayload(sub, session.ClientReferenceID, event.Created)
		return callbacks.OnCheckoutSessionCompleted(ctx, payload, customerID)

	case eventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data, &sub); err != nil {
			return fmt.Errorf("%w: decode subscription: %v", billing.ErrInvalidRequest, err)
		}
		payload := buildUpsertPayload(&sub, sub.Metadata[metadataAccountID], event.Created)
		return callbacks.OnSubscriptionUpdated(ctx, payload, customerIDOf(sub.Customer))

	case eventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data, &sub); err != nil {
			return fmt.Errorf("%w: decode subscription: %v", billing.ErrInvalidRequest, err)
		}
		return callbacks.OnSubscriptionDeleted(ctx, sub.ID)

	default:
		return nil
	}
}

func buildUpsertPayload(sub *stripe.Subscription, accountID string, version int64) billing.SubscriptionUpsertPayload {
	if accountID == "" {
		accountID = sub.Metadata[metadataAccountID]
	}
	status := string(sub.Status)
	out := billing.SubscriptionUpsertPayload{
		TargetAccountID:      accountID,
		TargetCustomerID:     customerIDOf(sub.Customer),
		TargetSubscriptionID: sub.ID,
		BillingProvider:      billing.ProviderStripe,
		Status:               status,
		Active:               billing.IsActiveStatus(status),
		Currency:             string(sub.Currency),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		PeriodStartsAt:       unixTime(sub.CurrentPeriodStart),
		PeriodEndsAt:         unixTime(sub.CurrentPeriodEnd),
		TrialStartsAt:        unixTimePtr(sub.TrialStart),
		TrialEndsAt:          unixTimePtr(sub.TrialEnd),
		ProviderVersion:      version,
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			li := billing.SubscriptionLineItem{ID: item.ID, Quantity: item.Quantity}
			if item.Price != nil {
				li.VariantID = item.Price.ID
				li.PriceAmount = item.Price.UnitAmount
				if item.Price.Product != nil {
					li.ProductID = item.Price.Product.ID
				}
				if item.Price.Recurring != nil {
					li.Interval = string(item.Price.Recurring.Interval)
					li.IntervalCount = item.Price.Recurring.IntervalCount
				}
			}
			out.LineItems = append(out.LineItems, li)
		}
	}
	return out
}

func customerIDOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixTimePtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
