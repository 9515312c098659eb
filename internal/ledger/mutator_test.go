package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutate_CreditThenDuplicate(t *testing.T) {
	l := New(NewInMemory())
	ctx := context.Background()
	a := newAccount(t, l, "Ada", 0)

	res, err := l.Mutate(ctx, MutateInput{AccountID: a.ID, Amount: 500, Direction: DirectionCredit, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.NewBalance)
	assert.Equal(t, DirectionCredit, res.Transaction.Direction)
	assert.Equal(t, "Ada", res.Transaction.FullName)
	assert.NotZero(t, res.Transaction.ID)

	_, err = l.Mutate(ctx, MutateInput{AccountID: a.ID, Amount: 500, Direction: DirectionCredit, IdempotencyKey: "k1"})
	require.ErrorIs(t, err, ErrDuplicateRequest)

	got, err := l.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Balance)

	history, err := l.History(ctx, a.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMutate_DebitInsufficientBalance(t *testing.T) {
	l := New(NewInMemory())
	ctx := context.Background()
	a := newAccount(t, l, "Ada", 1_000)

	_, err := l.Mutate(ctx, MutateInput{AccountID: a.ID, Amount: 1_500, Direction: DirectionDebit, IdempotencyKey: "d1"})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.False(t, IsRetryable(err))

	got, err := l.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), got.Balance)

	// a rejected attempt does not consume its key
	res, err := l.Mutate(ctx, MutateInput{AccountID: a.ID, Amount: 1_000, Direction: DirectionDebit, IdempotencyKey: "d1"})
	require.NoError(t, err)
	assert.Zero(t, res.NewBalance)
}

func TestMutate_Validation(t *testing.T) {
	l := New(NewInMemory())
	ctx := context.Background()
	a := newAccount(t, l, "Ada", 100)

	tests := []struct {
		name  string
		input MutateInput
		want  error
	}{
		{"zero amount", MutateInput{AccountID: a.ID, Amount: 0, Direction: DirectionCredit, IdempotencyKey: "v"}, ErrInvalidAmount},
		{"negative amount", MutateInput{AccountID: a.ID, Amount: -5, Direction: DirectionDebit, IdempotencyKey: "v"}, ErrInvalidAmount},
		{"unknown direction", MutateInput{AccountID: a.ID, Amount: 5, Direction: "REFUND", IdempotencyKey: "v"}, ErrInvalidInput},
		{"blank key", MutateInput{AccountID: a.ID, Amount: 5, Direction: DirectionCredit, IdempotencyKey: "  "}, ErrInvalidInput},
		{"oversized key", MutateInput{AccountID: a.ID, Amount: 5, Direction: DirectionCredit, IdempotencyKey: strings.Repeat("k", maxRootKeyLen+1)}, ErrInvalidInput},
		{"missing account", MutateInput{AccountID: 42, Amount: 5, Direction: DirectionCredit, IdempotencyKey: "v"}, ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Mutate(ctx, tc.input)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestMutate_LongestKeyFitsEveryLeg(t *testing.T) {
	l := New(NewInMemory())
	ctx := context.Background()
	a := newAccount(t, l, "Ada", 100)
	b := newAccount(t, l, "Bob", 0)

	key := strings.Repeat("é", maxRootKeyLen)
	for _, k := range IdempotencyKeys(key) {
		assert.LessOrEqual(t, utf8.RuneCountInString(k), maxRecordKeyLen)
	}

	res, err := l.Transfer(ctx, TransferInput{
		SenderID: a.ID, ReceiverID: b.ID, Amount: 10,
		SenderFullName: "Ada", ReceiverFullName: "Bob", IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.Equal(t, key+"-credit", res.Credit.IdempotencyKey)
}

func TestTransfer_Scenario(t *testing.T) {
	l := New(NewInMemory())
	ctx := context.Background()
	a := newAccount(t, l, "Ada", 1_000)
	b := newAccount(t, l, "Bob", 200)

	res, err := l.Transfer(ctx, TransferInput{
		SenderID: a.ID, ReceiverID: b.ID, Amount: 300,
		SenderFullName: "Ada", ReceiverFullName: "Bob", IdempotencyKey: "t1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(700), res.SenderBalance)
	assert.Equal(t, int64(500), res.ReceiverBalance)
	assert.Equal(t, "t1-debit", res.Debit.IdempotencyKey)
	assert.Equal(t, "t1-credit", res.Credit.IdempotencyKey)
	assert.Equal(t, DirectionDebit, res.Debit.Direction)
	assert.Equal(t, a.ID, res.Debit.AccountID)
	assert.Equal(t, b.ID, res.Credit.AccountID)
	assert.Equal(t, fmt.Sprintf("Transfer to wallet %d", b.ID), res.Debit.Description)
	assert.Equal(t, fmt.Sprintf("Transfer from wallet %d", a.ID), res.Credit.Description)

	records, err := l.FindByIdempotencyKey(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// retrying the whole transfer is detected on the root key
	_, err = l.Transfer(ctx, TransferInput{
		SenderID: a.ID, ReceiverID: b.ID, Amount: 300,
		SenderFullName: "Ada", ReceiverFullName: "Bob", IdempotencyKey: "t1",
	})
	require.ErrorIs(t, err, ErrDuplicateRequest)

	// so is a single-account mutation reusing one of the legs
	_, err = l.Mutate(ctx, MutateInput{AccountID: a.ID, Amount: 1, Direction: DirectionCredit, IdempotencyKey: "t1-debit"})
	require.ErrorIs(t, err, ErrDuplicateRequest)

	sender, _ := l.GetAccount(ctx, a.ID)
	receiver, _ := l.GetAccount(ctx, b.ID)
	assert.Equal(t, int64(700), sender.Balance)
	assert.Equal(t, int64(500), receiver.Balance)
}

func TestTransfer_Rejections(t *testing.T) {
	l := New(NewInMemory())
	ctx := context.Background()
	a := newAccount(t, l, "Ada", 100)
	b := newAccount(t, l, "Bob", 0)

	base := TransferInput{SenderID: a.ID, ReceiverID: b.ID, Amount: 50, SenderFullName: "Ada", ReceiverFullName: "Bob", IdempotencyKey: "r"}

	tests := []struct {
		name   string
		mutate func(in *TransferInput)
		want   error
	}{
		{"same account", func(in *TransferInput) { in.ReceiverID = a.ID }, ErrSameAccount},
		{"zero amount", func(in *TransferInput) { in.Amount = 0 }, ErrInvalidAmount},
		{"sender name", func(in *TransferInput) { in.SenderFullName = "Eve" }, ErrNameMismatch},
		{"receiver name", func(in *TransferInput) { in.ReceiverFullName = "Eve" }, ErrNameMismatch},
		{"missing names", func(in *TransferInput) { in.ReceiverFullName = "" }, ErrInvalidInput},
		{"oversized key", func(in *TransferInput) { in.IdempotencyKey = strings.Repeat("r", maxRootKeyLen+1) }, ErrInvalidInput},
		{"too much", func(in *TransferInput) { in.Amount = 101 }, ErrInsufficientBalance},
		{"missing receiver", func(in *TransferInput) { in.ReceiverID = 999 }, ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			_, err := l.Transfer(ctx, in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	sender, _ := l.GetAccount(ctx, a.ID)
	receiver, _ := l.GetAccount(ctx, b.ID)
	assert.Equal(t, int64(100), sender.Balance)
	assert.Zero(t, receiver.Balance)
	assert.Equal(t, "Bob", receiver.FullName)
}

type failingStore struct {
	Store
	failKey string
	failErr error
}

func (f failingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return f.Store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, failingTx{Tx: tx, failKey: f.failKey, failErr: f.failErr})
	})
}

type failingTx struct {
	Tx
	failKey string
	failErr error
}

func (f failingTx) InsertTransaction(ctx context.Context, record Transaction) (Transaction, error) {
	if record.IdempotencyKey == f.failKey {
		return Transaction{}, f.failErr
	}
	return f.Tx.InsertTransaction(ctx, record)
}

func TestTransfer_AtomicOnPartialFailure(t *testing.T) {
	mem := NewInMemory()
	l := New(failingStore{Store: mem, failKey: "t9-credit", failErr: ErrStoreUnavailable})
	ctx := context.Background()
	a := newAccount(t, l, "Ada", 1_000)
	b := newAccount(t, l, "Bob", 200)

	_, err := l.Transfer(ctx, TransferInput{
		SenderID: a.ID, ReceiverID: b.ID, Amount: 300,
		SenderFullName: "Ada", ReceiverFullName: "Bob", IdempotencyKey: "t9",
	})
	require.ErrorIs(t, err, ErrStoreUnavailable)

	sender, _ := mem.GetAccount(ctx, a.ID)
	receiver, _ := mem.GetAccount(ctx, b.ID)
	assert.Equal(t, int64(1_000), sender.Balance)
	assert.Equal(t, int64(200), receiver.Balance)

	records, err := mem.FindTransactionsByKeys(ctx, IdempotencyKeys("t9"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMutate_UniqueViolationIsDuplicate(t *testing.T) {
	mem := NewInMemory()
	l := New(failingStore{Store: mem, failKey: "race", failErr: ErrDuplicateKey})
	a := newAccount(t, l, "Ada", 0)

	_, err := l.Mutate(context.Background(), MutateInput{AccountID: a.ID, Amount: 5, Direction: DirectionCredit, IdempotencyKey: "race"})
	require.ErrorIs(t, err, ErrDuplicateRequest)

	got, _ := mem.GetAccount(context.Background(), a.ID)
	assert.Zero(t, got.Balance)
}

func TestMutate_ConcurrentDebitsOnlyFundedOnesSucceed(t *testing.T) {
	l := New(NewInMemory())
	ctx := context.Background()
	a := newAccount(t, l, "Ada", 1_000)

	const n = 10 // 1000 covers exactly 3 debits of 300
	var (
		wg           sync.WaitGroup
		successes    atomic.Int64
		insufficient atomic.Int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Mutate(ctx, MutateInput{AccountID: a.ID, Amount: 300, Direction: DirectionDebit, IdempotencyKey: fmt.Sprintf("debit-%d", i)})
			switch {
			case err == nil:
				successes.Add(1)
			case assert.ErrorIs(t, err, ErrInsufficientBalance):
				insufficient.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(3), successes.Load())
	assert.Equal(t, int64(n-3), insufficient.Load())

	got, err := l.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Balance)
}

func TestMutate_ConcurrentSameKeyAppliesOnce(t *testing.T) {
	l := New(NewInMemory())
	ctx := context.Background()
	a := newAccount(t, l, "Ada", 0)

	const n = 8
	var (
		wg         sync.WaitGroup
		successes  atomic.Int64
		duplicates atomic.Int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Mutate(ctx, MutateInput{AccountID: a.ID, Amount: 250, Direction: DirectionCredit, IdempotencyKey: "same"})
			switch {
			case err == nil:
				successes.Add(1)
			case assert.ErrorIs(t, err, ErrDuplicateRequest):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), successes.Load())
	assert.Equal(t, int64(n-1), duplicates.Load())

	got, _ := l.GetAccount(ctx, a.ID)
	assert.Equal(t, int64(250), got.Balance)
}

func TestTransfer_OpposingDirectionsDoNotDeadlock(t *testing.T) {
	l := New(NewInMemory(WithLockTimeout(time.Second)))
	ctx := context.Background()
	x := newAccount(t, l, "Xena", 10_000)
	y := newAccount(t, l, "Yuri", 10_000)

	const rounds = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < rounds; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				_, err := l.Transfer(ctx, TransferInput{SenderID: x.ID, ReceiverID: y.ID, Amount: 7, SenderFullName: "Xena", ReceiverFullName: "Yuri", IdempotencyKey: fmt.Sprintf("xy-%d", i)})
				assert.NoError(t, err)
			}(i)
			go func(i int) {
				defer wg.Done()
				_, err := l.Transfer(ctx, TransferInput{SenderID: y.ID, ReceiverID: x.ID, Amount: 3, SenderFullName: "Yuri", ReceiverFullName: "Xena", IdempotencyKey: fmt.Sprintf("yx-%d", i)})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("opposing transfers did not complete")
	}

	gx, _ := l.GetAccount(ctx, x.ID)
	gy, _ := l.GetAccount(ctx, y.ID)
	assert.Equal(t, int64(20_000), gx.Balance+gy.Balance)
	assert.Equal(t, int64(10_000-rounds*4), gx.Balance)
}

func TestCreateAccount_Validation(t *testing.T) {
	l := New(NewInMemory())
	ctx := context.Background()

	_, err := l.CreateAccount(ctx, CreateAccountInput{FullName: "Ada", Currency: "USD", InitialBalance: -1})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = l.CreateAccount(ctx, CreateAccountInput{FullName: " ", Currency: "USD"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = l.CreateAccount(ctx, CreateAccountInput{FullName: "Ada", Currency: "US1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	account, err := l.CreateAccount(ctx, CreateAccountInput{FullName: "Ada", Currency: "xaf"})
	require.NoError(t, err)
	assert.Equal(t, "XAF", account.Currency)
	assert.Zero(t, account.Balance)
}
