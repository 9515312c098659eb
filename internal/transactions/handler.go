package transactions

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_service/internal/apierror"
	"github.com/congo-pay/wallet_service/internal/ledger"
	"github.com/congo-pay/wallet_service/internal/money"
	"github.com/congo-pay/wallet_service/internal/wallet"
)

// IdempotencyHeader may carry the idempotency key instead of the body.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes transaction endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transaction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type mutateRequest struct {
	WalletID       int64           `json:"wallet_id"`
	Amount         decimal.Decimal `json:"amount"`
	Type           string          `json:"type"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type transferRequest struct {
	SenderWalletID   int64           `json:"sender_wallet_id"`
	ReceiverWalletID int64           `json:"receiver_wallet_id"`
	Amount           decimal.Decimal `json:"amount"`
	SenderFullName   string          `json:"sender_full_name"`
	ReceiverFullName string          `json:"receiver_full_name"`
	Description      string          `json:"description"`
	IdempotencyKey   string          `json:"idempotency_key"`
}

// Mutate credits or debits a single wallet.
func (h *Handler) Mutate(c *fiber.Ctx) error {
	var req mutateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed request body")
	}
	amount, err := money.ToMinor(req.Amount)
	if err != nil {
		return apierror.Respond(c, err)
	}

	res, err := h.service.Mutate(c.UserContext(), ledger.MutateInput{
		AccountID:      req.WalletID,
		Amount:         amount,
		Direction:      ledger.Direction(strings.ToUpper(strings.TrimSpace(req.Type))),
		Description:    req.Description,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		return apierror.Respond(c, err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction":   wallet.NewEntry(res.Transaction),
		"balance":       money.FromMinor(res.NewBalance).StringFixed(money.Scale),
		"balance_minor": res.NewBalance,
	})
}

// Transfer moves funds between two wallets.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed request body")
	}
	amount, err := money.ToMinor(req.Amount)
	if err != nil {
		return apierror.Respond(c, err)
	}

	res, err := h.service.Transfer(c.UserContext(), ledger.TransferInput{
		SenderID:         req.SenderWalletID,
		ReceiverID:       req.ReceiverWalletID,
		Amount:           amount,
		SenderFullName:   req.SenderFullName,
		ReceiverFullName: req.ReceiverFullName,
		Description:      req.Description,
		IdempotencyKey:   idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		return apierror.Respond(c, err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction":            wallet.NewEntry(res.Debit),
		"credit":                 wallet.NewEntry(res.Credit),
		"sender_balance":         money.FromMinor(res.SenderBalance).StringFixed(money.Scale),
		"sender_balance_minor":   res.SenderBalance,
		"receiver_balance":       money.FromMinor(res.ReceiverBalance).StringFixed(money.Scale),
		"receiver_balance_minor": res.ReceiverBalance,
	})
}

// ByIdempotencyKey returns the records a previous request committed, so a
// client that was told its retry is a duplicate can recover the outcome.
func (h *Handler) ByIdempotencyKey(c *fiber.Ctx) error {
	key := c.Params("key")
	records, err := h.service.FindByKey(c.UserContext(), key)
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"idempotency_key": key,
		"transactions":    wallet.NewEntries(records),
	})
}

func idempotencyKey(c *fiber.Ctx, fromBody string) string {
	if key := strings.TrimSpace(fromBody); key != "" {
		return key
	}
	return strings.TrimSpace(c.Get(IdempotencyHeader))
}
