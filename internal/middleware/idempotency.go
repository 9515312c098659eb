package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_service/internal/apierror"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v2:"
	inProgressMarker     = "__in_progress__"
	redisTimeout         = 2 * time.Second
)

type completedRequest struct {
	Status      int       `json:"status"`
	RequestID   string    `json:"request_id,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Idempotency short-circuits repeated mutation requests before they reach the
// ledger. The key comes from the body's idempotency_key field or, failing that,
// the Idempotency-Key header. A key is reserved while its request runs,
// remembered for ttl once it succeeds, and released when it fails, so a client
// can retry a rejected request with the same key.
//
// Redis is an accelerator only: when it cannot be reached the request passes
// through and the ledger's unique key constraint decides.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := requestKey(c)
		if key == "" {
			// the ledger rejects the request itself
			return c.Next()
		}
		cacheKey := idempotencyPrefix + key

		ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			cancel()
			logger.Warn("idempotency reservation failed, continuing without fast path",
				slog.String("key", key), slog.Any("error", err))
			return c.Next()
		}
		if !reserved {
			existing, err := cache.Get(ctx, cacheKey).Result()
			cancel()
			if errors.Is(err, redis.Nil) {
				// released between SETNX and GET; let the ledger arbitrate
				return c.Next()
			}
			if err != nil {
				logger.Warn("idempotency lookup failed, continuing without fast path",
					slog.String("key", key), slog.Any("error", err))
				return c.Next()
			}
			if existing == inProgressMarker {
				// the first request may still fail and release the key
				apierror.SetRetryAfter(c)
				return apierror.NewError(fiber.StatusConflict, apierror.CodeRequestInProgress, "duplicate request currently processing")
			}
			return apierror.NewError(fiber.StatusConflict, apierror.CodeDuplicateRequest, "request already processed")
		}
		cancel()

		if err := c.Next(); err != nil {
			release(cache, cacheKey, logger)
			return err
		}

		status := c.Response().StatusCode()
		if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices {
			release(cache, cacheKey, logger)
			return nil
		}

		requestID := RequestIDFrom(c)
		payload, err := json.Marshal(completedRequest{Status: status, RequestID: requestID, CompletedAt: time.Now().UTC()})
		if err != nil {
			release(cache, cacheKey, logger)
			return nil
		}

		persistCtx, persistCancel := context.WithTimeout(context.Background(), redisTimeout)
		defer persistCancel()
		if err := cache.Set(persistCtx, cacheKey, payload, ttl).Err(); err != nil {
			logger.Warn("failed to mark idempotency key completed", slog.String("key", key), slog.Any("error", err))
		}
		return nil
	}
}

func requestKey(c *fiber.Ctx) string {
	var body struct {
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := json.Unmarshal(c.Body(), &body); err == nil {
		if key := strings.TrimSpace(body.IdempotencyKey); key != "" {
			return key
		}
	}
	return strings.TrimSpace(c.Get(idempotencyKeyHeader))
}

func release(cache *redis.Client, cacheKey string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := cache.Del(ctx, cacheKey).Err(); err != nil {
		logger.Warn("failed to release idempotency key", slog.String("key", cacheKey), slog.Any("error", err))
	}
}
