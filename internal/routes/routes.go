package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ubangi-pay/ubangi_switch/internal/accounts"
	"github.com/ubangi-pay/ubangi_switch/internal/config"
	"github.com/ubangi-pay/ubangi_switch/internal/events"
	"github.com/ubangi-pay/ubangi_switch/internal/ledger"
	"github.com/ubangi-pay/ubangi_switch/internal/link"
	"github.com/ubangi-pay/ubangi_switch/internal/middleware"
	"github.com/ubangi-pay/ubangi_switch/internal/routing"
	"github.com/ubangi-pay/ubangi_switch/internal/settlement"
	"github.com/ubangi-pay/ubangi_switch/internal/switching"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes. The returned
// cleanup stops background consumers and is owned by the caller's shutdown
// path.
func Setup(app *fiber.App, d Deps) (func() error, error) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var accountRepo accounts.Repository
	if d.DB != nil {
		accountRepo = accounts.NewPostgresRepository(d.DB)
	} else {
		accountRepo = accounts.NewMemoryRepository()
	}
	store := accounts.NewCachedStore(accountRepo, d.Cfg.AccountCacheTTL, d.Cfg.AccountCacheSize)

	cleanup := func() error { return nil }
	var tracker ledger.BalanceTracker
	if d.Cache != nil {
		tracker = ledger.NewRedisTracker(d.Cache, d.Cfg.IdempotencyTTL)
		// Settings updates on other instances reach this cache through the
		// invalidation channel; the TTL bounds the worst-case staleness.
		invalidator := accounts.NewInvalidator(d.Cache, store, d.Logger)
		invalidator.Start(context.Background())
		cleanup = invalidator.Close
	} else {
		tracker = ledger.NewInMemory(d.Cfg.IdempotencyTTL)
	}

	sink := events.NewLoggerSink(d.Logger)
	engine := settlement.NewHTTPEngineClient(d.Cfg.EngineTimeout)
	coordinator := settlement.NewCoordinator(tracker, engine, sink, d.Logger)

	table := routing.NewPrefixTable()
	resolver := routing.NewResolver(table, routing.IdentityRates{}, store, d.Cfg.ExpiryMargin, d.Cfg.MinExpiryWindow)
	registry := link.NewRegistry()

	dispatcher := switching.New(switching.Config{
		Store:    store,
		Resolver: resolver,
		Links:    registry,
		Filters: []switching.SwitchFilter{
			&switching.ExpiryFilter{LocalAddress: d.Cfg.LocalAddress},
			// Events wrap the rate limiter so throttled packets still count
			// as an outcome.
			&switching.EventsFilter{Sink: sink},
			&switching.RateLimitFilter{
				Cache:        d.Cache,
				MaxPerSecond: d.Cfg.MaxPacketsPerSecond,
				LocalAddress: d.Cfg.LocalAddress,
				Logger:       d.Logger,
			},
		},
		LinkFilters: []switching.LinkFilter{
			&switching.BalanceFilter{
				Tracker:      tracker,
				Settlement:   coordinator,
				LocalAddress: d.Cfg.LocalAddress,
				Logger:       d.Logger,
			},
		},
		LocalAddress: d.Cfg.LocalAddress,
		Logger:       d.Logger,
	})

	// Packet ingress
	RegisterPacketRoutes(app, dispatcher)

	// Admin surface
	admin := app.Group("/admin")
	RegisterAdminRoutes(admin, adminDeps{
		repo:        accountRepo,
		store:       store,
		cache:       d.Cache,
		table:       table,
		registry:    registry,
		coordinator: coordinator,
		cfg:         d.Cfg,
		logger:      d.Logger,
	})

	// Settlement engine webhooks; idempotency at the HTTP layer guards the
	// whole handler, the ledger dedupes again by the same key.
	webhooks := app.Group("/accounts")
	if d.Cache != nil {
		webhooks.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWebhookRoutes(webhooks, store, coordinator, d.Logger)

	app.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	return cleanup, nil
}
