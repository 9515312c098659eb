package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "github.com/congo-pay/wallet_service/internal/ledger"
	maxFullNameLen  = 100
	currencyCodeLen = 3
)

// Ledger applies balance mutations atomically on top of a Store.
type Ledger struct {
	store  Store
	tracer trace.Tracer
}

// New builds a ledger over store.
func New(store Store) *Ledger {
	return &Ledger{store: store, tracer: otel.Tracer(tracerName)}
}

// CreateAccountInput captures the data required to open an account.
type CreateAccountInput struct {
	FullName       string
	Currency       string
	InitialBalance int64
}

// MutateInput describes a single-account credit or debit.
type MutateInput struct {
	AccountID      int64
	Amount         int64
	Direction      Direction
	Description    string
	IdempotencyKey string
}

// MutateResult is the committed record and the balance it produced.
type MutateResult struct {
	Transaction Transaction
	NewBalance  int64
}

// TransferInput describes a movement of funds between two accounts.
type TransferInput struct {
	SenderID         int64
	ReceiverID       int64
	Amount           int64
	SenderFullName   string
	ReceiverFullName string
	Description      string
	IdempotencyKey   string
}

// TransferResult holds both legs of a committed transfer.
type TransferResult struct {
	Debit           Transaction
	Credit          Transaction
	SenderBalance   int64
	ReceiverBalance int64
}

// CreateAccount opens an account with a non-negative starting balance.
func (l *Ledger) CreateAccount(ctx context.Context, input CreateAccountInput) (Account, error) {
	if input.InitialBalance < 0 {
		return Account{}, fmt.Errorf("initial balance must not be negative: %w", ErrInvalidAmount)
	}
	name := strings.TrimSpace(input.FullName)
	if name == "" || utf8.RuneCountInString(name) > maxFullNameLen {
		return Account{}, fmt.Errorf("full name must be 1-%d characters: %w", maxFullNameLen, ErrInvalidInput)
	}
	if !validCurrency(input.Currency) {
		return Account{}, fmt.Errorf("currency %q must be a 3-letter code: %w", input.Currency, ErrInvalidInput)
	}

	account, err := l.store.CreateAccount(ctx, Account{
		FullName: name,
		Balance:  input.InitialBalance,
		Currency: strings.ToUpper(input.Currency),
	})
	if err != nil {
		return Account{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// GetAccount returns the committed state of an account without locking it.
func (l *Ledger) GetAccount(ctx context.Context, id int64) (Account, error) {
	return l.store.GetAccount(ctx, id)
}

// History lists an account's transaction records, newest first.
func (l *Ledger) History(ctx context.Context, accountID int64, limit int) ([]Transaction, error) {
	return l.store.ListTransactions(ctx, accountID, limit)
}

// FindByIdempotencyKey returns the records committed under a root key.
func (l *Ledger) FindByIdempotencyKey(ctx context.Context, key string) ([]Transaction, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	records, err := l.store.FindTransactionsByKeys(ctx, IdempotencyKeys(key))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("idempotency key %q: %w", key, ErrNotFound)
	}
	return records, nil
}

// Ping checks the underlying store.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// Mutate applies a credit or debit to one account as a single atomic unit.
func (l *Ledger) Mutate(ctx context.Context, input MutateInput) (MutateResult, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Mutate", trace.WithAttributes(
		attribute.Int64("ledger.account_id", input.AccountID),
		attribute.String("ledger.direction", string(input.Direction)),
		attribute.Int64("ledger.amount", input.Amount),
	))
	defer span.End()

	if input.Amount <= 0 {
		return MutateResult{}, fail(span, fmt.Errorf("amount %d: %w", input.Amount, ErrInvalidAmount))
	}
	if !input.Direction.Valid() {
		return MutateResult{}, fail(span, fmt.Errorf("direction %q: %w", input.Direction, ErrInvalidInput))
	}
	if err := validateKey(input.IdempotencyKey); err != nil {
		return MutateResult{}, fail(span, err)
	}

	var result MutateResult
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := checkAndReserve(ctx, tx, input.IdempotencyKey); err != nil {
			return err
		}

		account, err := tx.GetAccountForUpdate(ctx, input.AccountID)
		if err != nil {
			return err
		}

		switch input.Direction {
		case DirectionCredit:
			if account.Balance > math.MaxInt64-input.Amount {
				return fmt.Errorf("credit overflows balance of account %d: %w", account.ID, ErrInvalidAmount)
			}
			account.Balance += input.Amount
		case DirectionDebit:
			if account.Balance < input.Amount {
				return fmt.Errorf("account %d has %d, needs %d: %w", account.ID, account.Balance, input.Amount, ErrInsufficientBalance)
			}
			account.Balance -= input.Amount
		}

		if err := tx.SaveAccount(ctx, account); err != nil {
			return fmt.Errorf("save account %d: %w", account.ID, err)
		}

		record, err := insertRecord(ctx, tx, Transaction{
			AccountID:      account.ID,
			FullName:       account.FullName,
			Direction:      input.Direction,
			Amount:         input.Amount,
			Description:    input.Description,
			IdempotencyKey: input.IdempotencyKey,
		}, input.IdempotencyKey)
		if err != nil {
			return err
		}

		result = MutateResult{Transaction: record, NewBalance: account.Balance}
		return nil
	})
	if err != nil {
		return MutateResult{}, fail(span, err)
	}
	return result, nil
}

// Transfer moves funds between two accounts. Both rows are locked in ascending
// ID order regardless of direction, so opposing transfers cannot deadlock.
func (l *Ledger) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Transfer", trace.WithAttributes(
		attribute.Int64("ledger.sender_id", input.SenderID),
		attribute.Int64("ledger.receiver_id", input.ReceiverID),
		attribute.Int64("ledger.amount", input.Amount),
	))
	defer span.End()

	if err := ValidateTransfer(input); err != nil {
		return TransferResult{}, fail(span, err)
	}

	var result TransferResult
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := checkAndReserve(ctx, tx, input.IdempotencyKey); err != nil {
			return err
		}

		first, second := input.SenderID, input.ReceiverID
		if first > second {
			first, second = second, first
		}
		a, err := tx.GetAccountForUpdate(ctx, first)
		if err != nil {
			return err
		}
		b, err := tx.GetAccountForUpdate(ctx, second)
		if err != nil {
			return err
		}
		sender, receiver := a, b
		if sender.ID != input.SenderID {
			sender, receiver = b, a
		}

		if err := MatchNames(sender, receiver, input.SenderFullName, input.ReceiverFullName); err != nil {
			return err
		}
		if sender.Balance < input.Amount {
			return fmt.Errorf("account %d has %d, needs %d: %w", sender.ID, sender.Balance, input.Amount, ErrInsufficientBalance)
		}
		if receiver.Balance > math.MaxInt64-input.Amount {
			return fmt.Errorf("credit overflows balance of account %d: %w", receiver.ID, ErrInvalidAmount)
		}

		sender.Balance -= input.Amount
		receiver.Balance += input.Amount

		if err := tx.SaveAccount(ctx, sender); err != nil {
			return fmt.Errorf("save sender %d: %w", sender.ID, err)
		}
		if err := tx.SaveAccount(ctx, receiver); err != nil {
			return fmt.Errorf("save receiver %d: %w", receiver.ID, err)
		}

		debit, err := insertRecord(ctx, tx, Transaction{
			AccountID:        sender.ID,
			FullName:         sender.FullName,
			SenderFullName:   input.SenderFullName,
			ReceiverFullName: input.ReceiverFullName,
			Direction:        DirectionDebit,
			Amount:           input.Amount,
			Description:      describe(input.Description, "Transfer to wallet %d", receiver.ID),
			IdempotencyKey:   input.IdempotencyKey + debitKeySuffix,
		}, input.IdempotencyKey)
		if err != nil {
			return err
		}
		credit, err := insertRecord(ctx, tx, Transaction{
			AccountID:        receiver.ID,
			FullName:         receiver.FullName,
			SenderFullName:   input.SenderFullName,
			ReceiverFullName: input.ReceiverFullName,
			Direction:        DirectionCredit,
			Amount:           input.Amount,
			Description:      describe(input.Description, "Transfer from wallet %d", sender.ID),
			IdempotencyKey:   input.IdempotencyKey + creditKeySuffix,
		}, input.IdempotencyKey)
		if err != nil {
			return err
		}

		result = TransferResult{
			Debit:           debit,
			Credit:          credit,
			SenderBalance:   sender.Balance,
			ReceiverBalance: receiver.Balance,
		}
		return nil
	})
	if err != nil {
		return TransferResult{}, fail(span, err)
	}
	return result, nil
}

// ValidateTransfer performs the lock-free checks on a transfer request.
func ValidateTransfer(input TransferInput) error {
	if input.Amount <= 0 {
		return fmt.Errorf("amount %d: %w", input.Amount, ErrInvalidAmount)
	}
	if input.SenderID == input.ReceiverID {
		return fmt.Errorf("account %d: %w", input.SenderID, ErrSameAccount)
	}
	if strings.TrimSpace(input.SenderFullName) == "" || strings.TrimSpace(input.ReceiverFullName) == "" {
		return fmt.Errorf("sender and receiver full names are required: %w", ErrInvalidInput)
	}
	return validateKey(input.IdempotencyKey)
}

// MatchNames checks the caller-supplied names against the stored account names.
// Stored names are never overwritten.
func MatchNames(sender, receiver Account, senderName, receiverName string) error {
	if sender.FullName != senderName {
		return fmt.Errorf("sender: %w", ErrNameMismatch)
	}
	if receiver.FullName != receiverName {
		return fmt.Errorf("receiver: %w", ErrNameMismatch)
	}
	return nil
}

func describe(description, fallback string, id int64) string {
	if strings.TrimSpace(description) != "" {
		return description
	}
	return fmt.Sprintf(fallback, id)
}

func validCurrency(code string) bool {
	if len(code) != currencyCodeLen {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
