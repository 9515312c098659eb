package transactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/wallet_service/internal/ledger"
	"github.com/congo-pay/wallet_service/internal/money"
	"github.com/congo-pay/wallet_service/internal/notification"
	"github.com/congo-pay/wallet_service/internal/wallet"
)

// Service orchestrates credits, debits and transfers on top of the ledger.
type Service struct {
	ledger        *ledger.Ledger
	walletService *wallet.Service
	notifier      notification.Notifier
	retry         ledger.RetryPolicy
	logger        *slog.Logger
}

// NewService constructs a transaction service. Retryable ledger failures are
// retried according to retry.
func NewService(l *ledger.Ledger, walletService *wallet.Service, notifier notification.Notifier, retry ledger.RetryPolicy, logger *slog.Logger) *Service {
	s := &Service{ledger: l, walletService: walletService, notifier: notifier, retry: retry, logger: logger}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			logger.Warn("retrying ledger operation",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}
	}
	return s
}

// Mutate applies a single credit or debit.
func (s *Service) Mutate(ctx context.Context, input ledger.MutateInput) (ledger.MutateResult, error) {
	res, err := ledger.Retry(ctx, s.retry, func(ctx context.Context) (ledger.MutateResult, error) {
		return s.ledger.Mutate(ctx, input)
	})
	if err != nil {
		s.logRejection(ctx, "mutation", input.IdempotencyKey, err)
		return ledger.MutateResult{}, err
	}

	s.logger.InfoContext(ctx, "mutation applied",
		slog.Int64("wallet_id", input.AccountID),
		slog.String("type", string(input.Direction)),
		slog.Int64("amount", input.Amount),
		slog.Int64("transaction_id", res.Transaction.ID),
		slog.String("idempotency_key", input.IdempotencyKey),
	)
	return res, nil
}

// Transfer moves funds between two wallets and notifies the receiver.
func (s *Service) Transfer(ctx context.Context, input ledger.TransferInput) (ledger.TransferResult, error) {
	_, err := ledger.Retry(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.precheck(ctx, input)
	})
	if err != nil {
		s.logRejection(ctx, "transfer", input.IdempotencyKey, err)
		return ledger.TransferResult{}, err
	}

	res, err := ledger.Retry(ctx, s.retry, func(ctx context.Context) (ledger.TransferResult, error) {
		return s.ledger.Transfer(ctx, input)
	})
	if err != nil {
		s.logRejection(ctx, "transfer", input.IdempotencyKey, err)
		return ledger.TransferResult{}, err
	}

	s.logger.InfoContext(ctx, "transfer applied",
		slog.Int64("sender_id", input.SenderID),
		slog.Int64("receiver_id", input.ReceiverID),
		slog.Int64("amount", input.Amount),
		slog.String("idempotency_key", input.IdempotencyKey),
	)

	if s.notifier != nil {
		amount := money.FromMinor(input.Amount).StringFixed(money.Scale)
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindTransferReceived,
			Destination: input.ReceiverID,
			Body:        fmt.Sprintf("You received %s from wallet %d", amount, input.SenderID),
		})
	}

	return res, nil
}

// FindByKey returns the records committed under a root idempotency key.
func (s *Service) FindByKey(ctx context.Context, key string) ([]ledger.Transaction, error) {
	return s.ledger.FindByIdempotencyKey(ctx, key)
}

// precheck rejects malformed transfers and name mismatches from committed
// state, without taking any lock. The ledger repeats the name check under lock.
func (s *Service) precheck(ctx context.Context, input ledger.TransferInput) error {
	if err := ledger.ValidateTransfer(input); err != nil {
		return err
	}
	sender, err := s.walletService.Get(ctx, input.SenderID)
	if err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	receiver, err := s.walletService.Get(ctx, input.ReceiverID)
	if err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	return ledger.MatchNames(sender, receiver, input.SenderFullName, input.ReceiverFullName)
}

func (s *Service) logRejection(ctx context.Context, op, key string, err error) {
	switch {
	case errors.Is(err, ledger.ErrDuplicateRequest):
		s.logger.InfoContext(ctx, "duplicate rejected", slog.String("operation", op), slog.String("idempotency_key", key))
	case ledger.IsRetryable(err):
		s.logger.WarnContext(ctx, op+" failed", slog.String("idempotency_key", key), slog.String("error", err.Error()))
	default:
		s.logger.DebugContext(ctx, op+" rejected", slog.String("idempotency_key", key), slog.String("error", err.Error()))
	}
}
