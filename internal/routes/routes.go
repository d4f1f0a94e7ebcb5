package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/helia-care/walletd/internal/config"
	"github.com/helia-care/walletd/internal/holds"
	"github.com/helia-care/walletd/internal/ledger"
	"github.com/helia-care/walletd/internal/middleware"
	"github.com/helia-care/walletd/internal/notification"
	"github.com/helia-care/walletd/internal/query"
	"github.com/helia-care/walletd/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Engine   *ledger.Engine
	Holds    *holds.Manager
	Query    *query.Service
	Notifier notification.Notifier
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Durable backends are mandatory outside development.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Engine == nil || d.Holds == nil || d.Query == nil {
		return fmt.Errorf("ledger services are required")
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
		app.Use(middleware.RateLimit(d.Cache, d.Cfg.RateLimit))
	}

	RegisterHealthRoutes(app, d)

	walletHandler := wallet.NewHandler(d.Engine, d.Notifier)
	holdsHandler := holds.NewHandler(d.Holds)
	queryHandler := query.NewHandler(d.Query)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(api, walletHandler)
	RegisterQueryRoutes(api, queryHandler)
	RegisterHoldRoutes(api, holdsHandler)

	return nil
}
