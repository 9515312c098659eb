package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/congo-pay/wallet_service/internal/ledger"
	"github.com/congo-pay/wallet_service/internal/logging"
)

func TestServiceCreateAndGet(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(ledger.New(store), "USD", logging.Discard())

	ctx := context.Background()
	account, err := svc.Create(ctx, CreateInput{FullName: "Alice Doe", InitialBalance: 2_500})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if account.Currency != "USD" {
		t.Fatalf("expected default currency USD, got %s", account.Currency)
	}

	fetched, err := svc.Get(ctx, account.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if fetched.ID != account.ID || fetched.Balance != 2_500 {
		t.Fatalf("expected wallet %d with 2500, got %d with %d", account.ID, fetched.ID, fetched.Balance)
	}
}

func TestServiceCreateRejectsBadInput(t *testing.T) {
	svc := NewService(ledger.New(ledger.NewInMemory()), "USD", logging.Discard())
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{FullName: "", Currency: "USD"}); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty name, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{FullName: "Bob", Currency: "US"}); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected invalid input for short currency, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{FullName: "Bob", InitialBalance: -1}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for negative balance, got %v", err)
	}
}

func TestServiceHistoryClampsLimit(t *testing.T) {
	l := ledger.New(ledger.NewInMemory())
	svc := NewService(l, "USD", logging.Discard())
	ctx := context.Background()

	account, err := svc.Create(ctx, CreateInput{FullName: "Alice Doe"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	for _, key := range []string{"a", "b", "c"} {
		if _, err := l.Mutate(ctx, ledger.MutateInput{AccountID: account.ID, Amount: 1, Direction: ledger.DirectionCredit, IdempotencyKey: key}); err != nil {
			t.Fatalf("credit %s: %v", key, err)
		}
	}

	records, err := svc.History(ctx, account.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 3 || records[0].IdempotencyKey != "c" {
		t.Fatalf("expected 3 records newest first, got %+v", records)
	}

	if _, err := svc.History(ctx, account.ID+100, 1_000); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
