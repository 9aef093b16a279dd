package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingkit/app/models"
	"github.com/ManuelReschke/billingkit/internal/pkg/billing"
	"github.com/ManuelReschke/billingkit/internal/pkg/middleware"
)

const (
	webhookTimeout = 15 * time.Second
	actionTimeout  = 20 * time.Second
)

// BillingService is the part of billing.Service the HTTP layer uses.
type BillingService interface {
	CreateCheckoutSession(ctx context.Context, params billing.CheckoutSessionParams) (*billing.CheckoutSession, error)
	CreateBillingPortalSession(ctx context.Context, req billing.BillingPortalRequest) (*billing.BillingPortalSession, error)
	RetrieveCheckoutSession(ctx context.Context, params billing.RetrieveCheckoutSessionParams) (*billing.RetrievedCheckoutSession, error)
	CancelSubscription(ctx context.Context, params billing.CancelSubscriptionParams) (*billing.CancelSubscriptionResult, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*models.BillingSubscription, error)
	ProcessWebhook(ctx context.Context, req billing.WebhookRequest) (*billing.WebhookOutcome, error)
}

// WebhookStats exposes the webhook outcome counters.
type WebhookStats interface {
	Snapshot(ctx context.Context) (map[string]map[string]int64, error)
}

type BillingController struct {
	svc   BillingService
	stats WebhookStats
}

// NewBillingController wires the handlers. stats may be nil.
func NewBillingController(svc BillingService, stats WebhookStats) *BillingController {
	return &BillingController{svc: svc, stats: stats}
}

// HandleWebhook verifies and reconciles a provider webhook. Any reconciliation
// error answers 500 so the provider redelivers.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	header := make(http.Header)
	c.Request().Header.VisitAll(func(k, v []byte) {
		header.Add(string(k), string(v))
	})

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	outcome, err := bc.svc.ProcessWebhook(ctx, billing.WebhookRequest{Body: rawBody, Header: header})
	if err != nil {
		var sigErr *billing.SignatureVerificationError
		switch {
		case errors.As(err, &sigErr):
			log.Warnf("[Webhook] Rejected delivery %s: %v", middleware.GetRequestID(c), err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature", "message": sigErr.Reason})
		case errors.Is(err, billing.ErrInvalidRequest):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": err.Error()})
		}
		return writeBillingError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":        true,
		"eventId":   outcome.EventID,
		"eventType": outcome.EventType,
		"ignored":   outcome.Ignored,
		"duplicate": outcome.Duplicate,
	})
}

func (bc *BillingController) HandleCreateCheckout(c *fiber.Ctx) error {
	var params billing.CheckoutSessionParams
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), actionTimeout)
	defer cancel()

	session, err := bc.svc.CreateCheckoutSession(ctx, params)
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

func (bc *BillingController) HandleGetCheckout(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), actionTimeout)
	defer cancel()

	session, err := bc.svc.RetrieveCheckoutSession(ctx, billing.RetrieveCheckoutSessionParams{SessionID: c.Params("sessionId")})
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.JSON(session)
}

func (bc *BillingController) HandleCreatePortal(c *fiber.Ctx) error {
	var req billing.BillingPortalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), actionTimeout)
	defer cancel()

	session, err := bc.svc.CreateBillingPortalSession(ctx, req)
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.JSON(session)
}

func (bc *BillingController) HandleCancelSubscription(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), actionTimeout)
	defer cancel()

	res, err := bc.svc.CancelSubscription(ctx, billing.CancelSubscriptionParams{SubscriptionID: c.Params("subscriptionId")})
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.JSON(res)
}

func (bc *BillingController) HandleGetSubscription(c *fiber.Ctx) error {
	sub, err := bc.svc.GetSubscription(c.UserContext(), c.Params("subscriptionId"))
	if err != nil {
		return writeBillingError(c, err)
	}

	items := make([]fiber.Map, 0, len(sub.Items))
	for _, it := range sub.Items {
		items = append(items, fiber.Map{
			"id":            it.ProviderItemID,
			"productId":     it.ProductID,
			"variantId":     it.VariantID,
			"quantity":      it.Quantity,
			"interval":      it.Interval,
			"intervalCount": it.IntervalCount,
			"priceAmount":   it.PriceAmount,
		})
	}
	return c.JSON(fiber.Map{
		"accountId":         sub.AccountID,
		"provider":          sub.Provider,
		"subscriptionId":    sub.ProviderSubscriptionID,
		"customerId":        sub.ProviderCustomerID,
		"status":            sub.Status,
		"active":            sub.Active,
		"currency":          sub.Currency,
		"cancelAtPeriodEnd": sub.CancelAtPeriodEnd,
		"periodStartsAt":    formatTimePtr(sub.PeriodStartsAt),
		"periodEndsAt":      formatTimePtr(sub.PeriodEndsAt),
		"trialStartsAt":     formatTimePtr(sub.TrialStartsAt),
		"trialEndsAt":       formatTimePtr(sub.TrialEndsAt),
		"canceledAt":        formatTimePtr(sub.CanceledAt),
		"items":             items,
	})
}

func (bc *BillingController) HandleStats(c *fiber.Ctx) error {
	if bc.stats == nil {
		return c.JSON(fiber.Map{"webhooks": fiber.Map{}})
	}
	snap, err := bc.stats.Snapshot(c.UserContext())
	if err != nil {
		log.Errorf("[Billing] Could not load webhook stats: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "stats_unavailable", "message": "Counters unavailable"})
	}
	return c.JSON(fiber.Map{"webhooks": snap})
}

// writeBillingError maps billing errors to HTTP answers.
func writeBillingError(c *fiber.Ctx, err error) error {
	var (
		unsupported *billing.UnsupportedProviderError
		notFound    *billing.CustomerNotFoundError
		reqErr      *billing.ProviderRequestError
	)
	switch {
	case errors.Is(err, billing.ErrInvalidRequest):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	case errors.Is(err, billing.ErrPlanNotFound):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "plan_not_found", "message": err.Error()})
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Subscription not found"})
	case errors.As(err, &notFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "customer_not_found", "message": notFound.Error()})
	case errors.As(err, &unsupported):
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "unsupported_provider", "message": unsupported.Error()})
	case errors.As(err, &reqErr):
		log.Errorf("[Billing] Provider request failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": reqErr.Operation + " failed"})
	default:
		log.Errorf("[Billing] Request %s failed: %v", middleware.GetRequestID(c), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Billing request failed"})
	}
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
