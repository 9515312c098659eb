package wallet

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_service/internal/apierror"
	"github.com/congo-pay/wallet_service/internal/money"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	FullName       string              `json:"full_name"`
	Currency       string              `json:"currency"`
	InitialBalance decimal.NullDecimal `json:"initial_balance"`
	Balance        decimal.NullDecimal `json:"balance"`
}

// Create opens a wallet. The opening balance may be sent as initial_balance
// or balance and defaults to zero.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed request body")
	}

	opening := decimal.Zero
	switch {
	case req.InitialBalance.Valid:
		opening = req.InitialBalance.Decimal
	case req.Balance.Valid:
		opening = req.Balance.Decimal
	}
	minor, err := money.BalanceToMinor(opening)
	if err != nil {
		return apierror.Respond(c, err)
	}

	account, err := h.service.Create(c.UserContext(), CreateInput{
		FullName:       req.FullName,
		Currency:       req.Currency,
		InitialBalance: minor,
	})
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.Status(http.StatusCreated).JSON(NewWallet(account))
}

// Get returns the committed state of a wallet.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := walletID(c)
	if err != nil {
		return err
	}
	account, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.Status(http.StatusOK).JSON(NewWallet(account))
}

// Transactions lists the wallet's history, newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	id, err := walletID(c)
	if err != nil {
		return err
	}
	records, err := h.service.History(c.UserContext(), id, c.QueryInt("limit", defaultHistoryLimit))
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id":    id,
		"transactions": NewEntries(records),
	})
}

func walletID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("walletId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(http.StatusBadRequest, "wallet id must be a positive integer")
	}
	return id, nil
}
