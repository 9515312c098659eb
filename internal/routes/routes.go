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

	"github.com/congo-pay/wallet_service/internal/config"
	"github.com/congo-pay/wallet_service/internal/ledger"
	"github.com/congo-pay/wallet_service/internal/middleware"
	"github.com/congo-pay/wallet_service/internal/notification"
	"github.com/congo-pay/wallet_service/internal/transactions"
	"github.com/congo-pay/wallet_service/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDevelopment() && d.DB == nil {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	store := newStore(d)
	led := ledger.New(store)

	walletSvc := wallet.NewService(led, d.Cfg.DefaultCurrency, d.Logger)
	notifier := notification.NewLoggerNotifier(d.Logger)
	txSvc := transactions.NewService(led, walletSvc, notifier, ledger.RetryPolicy{
		MaxAttempts: d.Cfg.RetryMaxAttempts,
		BaseDelay:   d.Cfg.RetryBaseDelay,
	}, d.Logger)

	RegisterHealthRoutes(app, led, d.Cache)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(api, wallet.NewHandler(walletSvc))

	var fastPath []fiber.Handler
	if d.Cache != nil {
		fastPath = append(fastPath, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	} else {
		d.Logger.Warn("redis not configured, idempotency fast path disabled")
	}
	RegisterTransactionRoutes(api, transactions.NewHandler(txSvc), fastPath...)

	return nil
}

func newStore(d Deps) ledger.Store {
	if d.DB == nil {
		d.Logger.Warn("DATABASE_URL not set, using in-memory ledger store")
		return ledger.NewInMemory(ledger.WithLockTimeout(d.Cfg.LockTimeout))
	}
	return ledger.NewPostgresStore(d.DB, ledger.PostgresOptions{
		LockTimeout:         d.Cfg.LockTimeout,
		ConsecutiveFailures: d.Cfg.BreakerConsecutiveFailures,
		OpenTimeout:         d.Cfg.BreakerOpenTimeout,
	})
}
