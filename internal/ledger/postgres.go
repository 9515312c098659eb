package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"
)

const (
	accountColumns     = `id, full_name, balance, currency, created_at, updated_at`
	transactionColumns = `id, account_id, full_name, COALESCE(sender_full_name, ''), COALESCE(receiver_full_name, ''),
        type, amount, COALESCE(description, ''), idempotency_key, created_at`
	balanceConstraint = "accounts_balance_non_negative"
)

// PostgresOptions tunes lock waits and the circuit breaker in front of Postgres.
type PostgresOptions struct {
	LockTimeout         time.Duration
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// PostgresStore persists accounts and transaction records in PostgreSQL. Row
// locks come from SELECT ... FOR UPDATE and the idempotency guarantee from the
// unique index on transactions.idempotency_key.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
	breaker     *gobreaker.CircuitBreaker
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool, opts PostgresOptions) *PostgresStore {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ledger-postgres",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.ConsecutiveFailures
		},
		// Only infrastructure failures trip the breaker; business rejections are
		// healthy round trips.
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, ErrStoreUnavailable)
		},
	})

	return &PostgresStore{db: db, lockTimeout: opts.LockTimeout, breaker: breaker}
}

// CreateAccount inserts an account row.
func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) (Account, error) {
	err := s.guard(func() error {
		row := s.db.QueryRow(ctx, `INSERT INTO accounts (full_name, balance, currency)
        VALUES ($1, $2, $3) RETURNING `+accountColumns, account.FullName, account.Balance, account.Currency)
		created, err := scanAccount(row)
		if err != nil {
			return classify(err)
		}
		account = created
		return nil
	})
	return account, err
}

// GetAccount reads committed account state without locking.
func (s *PostgresStore) GetAccount(ctx context.Context, id int64) (Account, error) {
	var account Account
	err := s.guard(func() error {
		row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
		found, err := scanAccount(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("account %d: %w", id, ErrNotFound)
			}
			return classify(err)
		}
		account = found
		return nil
	})
	return account, err
}

// ListTransactions returns an account's records newest first.
func (s *PostgresStore) ListTransactions(ctx context.Context, accountID int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var out []Transaction
	err := s.guard(func() error {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return classify(err)
		}
		if !exists {
			return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
		}

		rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE account_id = $1 ORDER BY id DESC LIMIT $2`, accountID, limit)
		if err != nil {
			return classify(err)
		}
		out, err = collectTransactions(rows)
		return err
	})
	return out, err
}

// FindTransactionsByKeys returns the records holding any of keys, oldest first.
func (s *PostgresStore) FindTransactionsByKeys(ctx context.Context, keys []string) ([]Transaction, error) {
	var out []Transaction
	err := s.guard(func() error {
		rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE idempotency_key = ANY($1) ORDER BY id`, keys)
		if err != nil {
			return classify(err)
		}
		out, err = collectTransactions(rows)
		return err
	})
	return out, err
}

// WithinTx runs fn inside a READ COMMITTED transaction with a bounded lock wait.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.guard(func() error {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("begin transaction: %w: %w", ErrStoreUnavailable, err)
		}
		defer tx.Rollback(ctx) // nolint:errcheck

		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			return classify(err)
		}

		if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit: %w", classify(err))
		}
		return nil
	})
}

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) guard(fn func() error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("postgres circuit %s: %w", s.breaker.State(), ErrStoreUnavailable)
	}
	return err
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) KeysExist(ctx context.Context, keys []string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE idempotency_key = ANY($1))`, keys).Scan(&exists)
	if err != nil {
		return false, classify(err)
	}
	return exists, nil
}

func (t *postgresTx) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("account %d: %w", id, ErrNotFound)
		}
		return Account{}, classify(err)
	}
	return account, nil
}

func (t *postgresTx) SaveAccount(ctx context.Context, account Account) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $2, updated_at = now() WHERE id = $1`, account.ID, account.Balance)
	if err != nil {
		return classify(err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", account.ID, ErrNotFound)
	}
	return nil
}

func (t *postgresTx) InsertTransaction(ctx context.Context, record Transaction) (Transaction, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO transactions
        (account_id, full_name, sender_full_name, receiver_full_name, type, amount, description, idempotency_key)
        VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8)
        RETURNING id, created_at`,
		record.AccountID, record.FullName, record.SenderFullName, record.ReceiverFullName,
		string(record.Direction), record.Amount, record.Description, record.IdempotencyKey,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return Transaction{}, classify(err)
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.FullName, &a.Balance, &a.Currency, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func scanTransaction(row scanner) (Transaction, error) {
	var (
		t         Transaction
		direction string
	)
	if err := row.Scan(&t.ID, &t.AccountID, &t.FullName, &t.SenderFullName, &t.ReceiverFullName,
		&direction, &t.Amount, &t.Description, &t.IdempotencyKey, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	t.Direction = Direction(direction)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// classify maps driver errors onto the ledger taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrDuplicateKey)
		case "23514":
			if pgErr.ConstraintName == balanceConstraint {
				return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrInsufficientBalance)
			}
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrInvalidAmount)
		case "23503":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrNotFound)
		case "22001":
			return fmt.Errorf("%s: %w", pgErr.Message, ErrInvalidInput)
		case "55P03", "40P01", "40001":
			return fmt.Errorf("%s: %w", pgErr.Message, ErrLockTimeout)
		case "53300", "57P01", "57P02", "57P03":
			return fmt.Errorf("%s: %w", pgErr.Message, ErrStoreUnavailable)
		}
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return fmt.Errorf("%s: %w", pgErr.Message, ErrStoreUnavailable)
		}
		return err
	}

	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
