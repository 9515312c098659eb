package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound occurs when the referenced account or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmount rejects zero, negative, or unrepresentable amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidInput covers malformed requests other than the amount, such as an
	// empty idempotency key or an unknown direction.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNameMismatch indicates the caller-supplied holder name does not match the
	// stored account name.
	ErrNameMismatch = errors.New("full name does not match")

	// ErrSameAccount rejects transfers whose sender and receiver are the same account.
	ErrSameAccount = errors.New("sender and receiver must differ")

	// ErrInsufficientBalance occurs when the locked balance cannot cover a debit.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateRequest indicates the idempotency key was already used by a
	// committed mutation. Nothing was applied.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrLockTimeout is returned when a row lock could not be acquired in time or
	// the store detected a deadlock. Safe to retry with the same idempotency key.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrStoreUnavailable is returned when the durability layer cannot be reached.
	// Safe to retry with the same idempotency key.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDuplicateKey is raised by a store when inserting a transaction record whose
	// idempotency key already exists.
	ErrDuplicateKey = errors.New("duplicate idempotency key")
)

// IsRetryable reports whether err may be retried by the caller with the same
// idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrStoreUnavailable)
}

// Direction is the signed effect of a transaction record on its account.
type Direction string

const (
	// DirectionCredit increases the account balance.
	DirectionCredit Direction = "CREDIT"
	// DirectionDebit decreases the account balance.
	DirectionDebit Direction = "DEBIT"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

const (
	debitKeySuffix  = "-debit"
	creditKeySuffix = "-credit"
)

// Account is a balance holder. Balance is kept in minor currency units.
type Account struct {
	ID        int64
	FullName  string
	Balance   int64
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is an append-only record of one balance effect.
type Transaction struct {
	ID               int64
	AccountID        int64
	FullName         string
	SenderFullName   string
	ReceiverFullName string
	Direction        Direction
	Amount           int64
	Description      string
	IdempotencyKey   string
	CreatedAt        time.Time
}

// Store is the durable home of accounts and transaction records.
type Store interface {
	CreateAccount(ctx context.Context, account Account) (Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListTransactions(ctx context.Context, accountID int64, limit int) ([]Transaction, error)
	FindTransactionsByKeys(ctx context.Context, keys []string) ([]Transaction, error)
	// WithinTx runs fn as one atomic unit. Any error returned by fn rolls back
	// every effect made through tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// Tx exposes the primitives available inside an atomic unit.
type Tx interface {
	// KeysExist reports whether any transaction record holds one of keys.
	KeysExist(ctx context.Context, keys []string) (bool, error)
	// GetAccountForUpdate returns the account and holds an exclusive lock on it
	// until the enclosing unit ends.
	GetAccountForUpdate(ctx context.Context, id int64) (Account, error)
	// SaveAccount persists a locked account's balance.
	SaveAccount(ctx context.Context, account Account) error
	// InsertTransaction appends a record, failing with ErrDuplicateKey when the
	// idempotency key is taken.
	InsertTransaction(ctx context.Context, record Transaction) (Transaction, error)
}
