package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_service/internal/ledger"
)

// RegisterHealthRoutes adds a readiness endpoint covering the ledger store and
// the optional Redis fast path.
func RegisterHealthRoutes(app *fiber.App, led *ledger.Ledger, cache *redis.Client) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		storeStatus := "ok"
		redisStatus := "disabled"

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := led.Ping(ctx); err != nil {
			storeStatus = err.Error()
		}
		if cache != nil {
			redisStatus = "ok"
			if err := cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		}

		status := http.StatusOK
		if storeStatus != "ok" {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"ledger": storeStatus, "redis": redisStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
