package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/billingkit/app/controllers"
	"github.com/ManuelReschke/billingkit/internal/pkg/archive"
	"github.com/ManuelReschke/billingkit/internal/pkg/billing"
	"github.com/ManuelReschke/billingkit/internal/pkg/billing/providers"
	"github.com/ManuelReschke/billingkit/internal/pkg/cache"
	"github.com/ManuelReschke/billingkit/internal/pkg/config"
	"github.com/ManuelReschke/billingkit/internal/pkg/database"
	"github.com/ManuelReschke/billingkit/internal/pkg/env"
	"github.com/ManuelReschke/billingkit/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/billingkit/internal/pkg/middleware"
	"github.com/ManuelReschke/billingkit/internal/pkg/router"
)

func main() {
	app, cfg := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, *config.Config) {
	env.SetupEnvFile()
	cfg := config.MustLoad()
	if cfg.IsDev() {
		log.SetLevel(log.LevelDebug)
	}

	database.SetupDatabase(cfg.Database)
	rdb := cache.SetupCache(cfg.Cache)
	webhookCounters := counter.New(rdb)

	opts := billing.Options{
		SiteURL:          cfg.SiteURL,
		WebhookLedger:    cfg.Billing.WebhookLedger,
		RequireKnownPlan: cfg.Billing.RequireKnownPlan,
		Outcomes:         webhookCounters,
	}
	if cfg.Archive.Enabled {
		archiver, err := archive.NewClient(context.Background(), cfg.Archive, cfg.AppEnv)
		if err != nil {
			log.Warnf("[Archive] Webhook archive disabled: %v", err)
		} else {
			opts.Archiver = archiver
		}
	}

	registry := providers.NewRegistry(cfg.Billing)
	svc := billing.NewServiceFromDB(billing.ParseProviderID(cfg.Billing.Provider), registry, database.GetDB(), opts)
	log.Infof("[Billing] Using provider %s", svc.Provider())

	app := fiber.New(fiber.Config{
		AppName:   "billingkit",
		BodyLimit: 1 << 20,
	})

	// recovery, request ids and logging
	app.Use(recover.New(), middleware.RequestID(), logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))

	// fiber metrics
	if cfg.MetricsUser != "" && cfg.MetricsPassword != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				cfg.MetricsUser: cfg.MetricsPassword,
			},
		}), monitor.New(monitor.Config{Title: "billingkit"}))
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "provider": svc.Provider()})
	})

	// SWAGGER / OPENAPI
	if specPath := findOpenAPISpec(); specPath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
		}))
	}

	// ROUTER
	bc := controllers.NewBillingController(svc, webhookCounters)
	router.InstallRouter(app, router.NewBillingRouter(bc, cfg.Billing, router.NewLimiterStorage(cfg.Cache)))

	return app, cfg
}

func findOpenAPISpec() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/billingkit to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		candidate := path + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	log.Warn("[Docs] openapi.yml not found, API docs disabled")
	return ""
}
