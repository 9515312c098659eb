package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxRecordKeyLen matches the idempotency_key column. Root keys leave room for
// the longest leg suffix.
const (
	maxRecordKeyLen = 255
	maxRootKeyLen   = maxRecordKeyLen - len(creditKeySuffix)
)

// IdempotencyKeys expands a root key into every record key that would collide
// with it: the root itself and the two legs of a transfer.
func IdempotencyKeys(root string) []string {
	return []string{root, root + debitKeySuffix, root + creditKeySuffix}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("idempotency key is required: %w", ErrInvalidInput)
	}
	if utf8.RuneCountInString(key) > maxRootKeyLen {
		return fmt.Errorf("idempotency key longer than %d characters: %w", maxRootKeyLen, ErrInvalidInput)
	}
	return nil
}

// checkAndReserve aborts the unit when key was already consumed. The pre-check is
// a fast path only; the unique index hit by InsertTransaction is what makes the
// reservation stick under races.
func checkAndReserve(ctx context.Context, tx Tx, key string) error {
	exists, err := tx.KeysExist(ctx, IdempotencyKeys(key))
	if err != nil {
		return fmt.Errorf("check idempotency key: %w", err)
	}
	if exists {
		return duplicate(key)
	}
	return nil
}

// insertRecord appends record, converting a unique-key violation into the
// duplicate-request signal.
func insertRecord(ctx context.Context, tx Tx, record Transaction, rootKey string) (Transaction, error) {
	saved, err := tx.InsertTransaction(ctx, record)
	if err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return Transaction{}, duplicate(rootKey)
		}
		return Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return saved, nil
}

func duplicate(key string) error {
	return fmt.Errorf("idempotency key %q: %w", key, ErrDuplicateRequest)
}
