package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/billingkit/app/controllers"
	"github.com/ManuelReschke/billingkit/internal/pkg/config"
	"github.com/ManuelReschke/billingkit/internal/pkg/middleware"
)

type BillingRouter struct {
	controller *controllers.BillingController
	apiKey     string
	rateMax    int
	storage    fiber.Storage
}

// NewBillingRouter serves the billing API. storage holds limiter state, nil
// keeps it in memory.
func NewBillingRouter(bc *controllers.BillingController, cfg config.Billing, storage fiber.Storage) *BillingRouter {
	return &BillingRouter{controller: bc, apiKey: cfg.APIKey, rateMax: cfg.RateLimitMax, storage: storage}
}

// NewLimiterStorage keeps rate limiter counters in their own redis database.
func NewLimiterStorage(cfg config.Cache) fiber.Storage {
	return redis.New(redis.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Database: cfg.LimiterDB,
		Reset:    false,
	})
}

const webhookPath = "/api/billing/webhook"

func (h BillingRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		// Provider deliveries share a few egress IPs and retry on 429.
		Next:       func(c *fiber.Ctx) bool { return c.Path() == webhookPath },
		Max:        h.rateMax,
		Expiration: time.Minute,
		Storage:    h.storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests"})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from billing api",
		})
	})

	b := api.Group("/billing")
	// Webhooks authenticate through the provider signature.
	b.Post("/webhook", h.controller.HandleWebhook)

	auth := middleware.InternalAPIKeyMiddleware(h.apiKey)
	b.Post("/checkout", auth, h.controller.HandleCreateCheckout)
	b.Get("/checkout/:sessionId", auth, h.controller.HandleGetCheckout)
	b.Post("/portal", auth, h.controller.HandleCreatePortal)
	b.Get("/subscriptions/:subscriptionId", auth, h.controller.HandleGetSubscription)
	b.Post("/subscriptions/:subscriptionId/cancel", auth, h.controller.HandleCancelSubscription)
	b.Get("/stats", auth, h.controller.HandleStats)
}
