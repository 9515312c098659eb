package wallet

import (
	"context"
	"log/slog"
	"strings"

	"github.com/congo-pay/wallet_service/internal/ledger"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// Service exposes wallet operations backed by the ledger.
type Service struct {
	ledger          *ledger.Ledger
	defaultCurrency string
	logger          *slog.Logger
}

// NewService builds a wallet service instance.
func NewService(l *ledger.Ledger, defaultCurrency string, logger *slog.Logger) *Service {
	return &Service{ledger: l, defaultCurrency: defaultCurrency, logger: logger}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	FullName       string
	Currency       string
	InitialBalance int64
}

// Create opens a ledger account. An empty currency falls back to the
// configured default.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Account, error) {
	currency := strings.TrimSpace(input.Currency)
	if currency == "" {
		currency = s.defaultCurrency
	}

	account, err := s.ledger.CreateAccount(ctx, ledger.CreateAccountInput{
		FullName:       input.FullName,
		Currency:       currency,
		InitialBalance: input.InitialBalance,
	})
	if err != nil {
		return ledger.Account{}, err
	}

	s.logger.InfoContext(ctx, "wallet created",
		slog.Int64("wallet_id", account.ID),
		slog.String("currency", account.Currency),
		slog.Int64("initial_balance", account.Balance),
	)
	return account, nil
}

// Get retrieves the committed wallet state.
func (s *Service) Get(ctx context.Context, id int64) (ledger.Account, error) {
	return s.ledger.GetAccount(ctx, id)
}

// History lists a wallet's transactions, newest first. Limits outside
// 1..100 are clamped.
func (s *Service) History(ctx context.Context, id int64, limit int) ([]ledger.Transaction, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	return s.ledger.History(ctx, id, limit)
}
