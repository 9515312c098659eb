package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_service/internal/transactions"
)

// RegisterTransactionRoutes wires credit, debit and transfer endpoints. The
// mutating routes run behind the given middlewares.
func RegisterTransactionRoutes(r fiber.Router, h *transactions.Handler, mutating ...fiber.Handler) {
	r.Get("/transactions/idempotency/:key", h.ByIdempotencyKey)

	group := r.Group("/transactions", mutating...)
	group.Post("/", h.Mutate)
	group.Post("/transfer", h.Transfer)
}
