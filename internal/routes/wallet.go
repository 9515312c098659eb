package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_service/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:walletId", h.Get)
	r.Get("/wallets/:walletId/transactions", h.Transactions)
}
