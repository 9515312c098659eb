package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	defaultLockTimeout  = 5 * time.Second
	defaultHistoryLimit = 100
)

type inMemoryStore struct {
	mu           sync.RWMutex
	lockTimeout  time.Duration
	nextAccount  int64
	nextTx       int64
	accounts     map[int64]Account
	transactions map[int64]Transaction
	byKey        map[string]int64
	byAccount    map[int64][]int64
	reserved     map[string]chan struct{}
	rowLocks     map[int64]chan struct{}
}

// MemoryOption customises the in-memory store.
type MemoryOption func(*inMemoryStore)

// WithLockTimeout bounds how long GetAccountForUpdate waits for a row lock.
func WithLockTimeout(d time.Duration) MemoryOption {
	return func(s *inMemoryStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// NewInMemory creates a concurrency-safe in-memory store. Row locks are a
// per-account mutex table; writes are staged per unit and published on commit.
func NewInMemory(opts ...MemoryOption) Store {
	s := &inMemoryStore{
		lockTimeout:  defaultLockTimeout,
		accounts:     make(map[int64]Account),
		transactions: make(map[int64]Transaction),
		byKey:        make(map[string]int64),
		byAccount:    make(map[int64][]int64),
		reserved:     make(map[string]chan struct{}),
		rowLocks:     make(map[int64]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *inMemoryStore) CreateAccount(_ context.Context, account Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.nextAccount++
	account.ID = s.nextAccount
	account.CreatedAt = now
	account.UpdatedAt = now
	s.accounts[account.ID] = account
	s.rowLocks[account.ID] = make(chan struct{}, 1)
	return account, nil
}

func (s *inMemoryStore) GetAccount(_ context.Context, id int64) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return account, nil
}

func (s *inMemoryStore) ListTransactions(_ context.Context, accountID int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}

	ids := s.byAccount[accountID]
	out := make([]Transaction, 0, min(limit, len(ids)))
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.transactions[ids[i]])
	}
	return out, nil
}

func (s *inMemoryStore) FindTransactionsByKeys(_ context.Context, keys []string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Transaction
	for _, key := range keys {
		if id, ok := s.byKey[key]; ok {
			out = append(out, s.transactions[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *inMemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memoryTx{
		store:    s,
		held:     make(map[int64]bool),
		accounts: make(map[int64]Account),
	}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

func (s *inMemoryStore) Ping(context.Context) error {
	return nil
}

func (s *inMemoryStore) rowLock(id int64) (chan struct{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[id]; !ok {
		return nil, false
	}
	return s.rowLocks[id], true
}

// memoryTx stages writes until commit so no partial effect is observable.
type memoryTx struct {
	store    *inMemoryStore
	held     map[int64]bool
	order    []int64
	accounts map[int64]Account
	records  []Transaction
	keys     []string
}

func (t *memoryTx) KeysExist(_ context.Context, keys []string) (bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, key := range keys {
		if _, ok := t.store.byKey[key]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	if !t.held[id] {
		lock, ok := t.store.rowLock(id)
		if !ok {
			return Account{}, fmt.Errorf("account %d: %w", id, ErrNotFound)
		}

		timer := time.NewTimer(t.store.lockTimeout)
		defer timer.Stop()

		select {
		case lock <- struct{}{}:
		case <-timer.C:
			return Account{}, fmt.Errorf("account %d: %w", id, ErrLockTimeout)
		case <-ctx.Done():
			return Account{}, fmt.Errorf("lock account %d: %w", id, ctx.Err())
		}
		t.held[id] = true
		t.order = append(t.order, id)
	}

	if staged, ok := t.accounts[id]; ok {
		return staged, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.accounts[id], nil
}

func (t *memoryTx) SaveAccount(_ context.Context, account Account) error {
	if !t.held[account.ID] {
		return fmt.Errorf("account %d saved without holding its lock", account.ID)
	}
	if account.Balance < 0 {
		return fmt.Errorf("account %d: %w", account.ID, ErrInsufficientBalance)
	}
	account.UpdatedAt = time.Now().UTC()
	t.accounts[account.ID] = account
	return nil
}

// InsertTransaction blocks while another unit holds an uncommitted record with
// the same key, then fails only if that record committed. This mirrors a
// unique index wait in Postgres.
func (t *memoryTx) InsertTransaction(ctx context.Context, record Transaction) (Transaction, error) {
	key := record.IdempotencyKey
	timer := time.NewTimer(t.store.lockTimeout)
	defer timer.Stop()

	for {
		t.store.mu.Lock()
		if _, ok := t.store.accounts[record.AccountID]; !ok {
			t.store.mu.Unlock()
			return Transaction{}, fmt.Errorf("account %d: %w", record.AccountID, ErrNotFound)
		}
		if _, ok := t.store.byKey[key]; ok || t.owns(key) {
			t.store.mu.Unlock()
			return Transaction{}, fmt.Errorf("key %q: %w", key, ErrDuplicateKey)
		}
		pending, ok := t.store.reserved[key]
		if !ok {
			break
		}
		t.store.mu.Unlock()

		select {
		case <-pending:
		case <-timer.C:
			return Transaction{}, fmt.Errorf("key %q: %w", key, ErrLockTimeout)
		case <-ctx.Done():
			return Transaction{}, fmt.Errorf("insert key %q: %w", key, ctx.Err())
		}
	}
	defer t.store.mu.Unlock()

	t.store.reserved[key] = make(chan struct{})
	t.store.nextTx++
	record.ID = t.store.nextTx
	record.CreatedAt = time.Now().UTC()

	t.keys = append(t.keys, key)
	t.records = append(t.records, record)
	return record, nil
}

func (t *memoryTx) owns(key string) bool {
	for _, k := range t.keys {
		if k == key {
			return true
		}
	}
	return false
}

func (t *memoryTx) commit() {
	s := t.store
	s.mu.Lock()
	for id, account := range t.accounts {
		s.accounts[id] = account
	}
	for _, record := range t.records {
		s.transactions[record.ID] = record
		s.byKey[record.IdempotencyKey] = record.ID
		s.byAccount[record.AccountID] = append(s.byAccount[record.AccountID], record.ID)
	}
	t.unreserve()
	s.mu.Unlock()
	t.release()
}

func (t *memoryTx) rollback() {
	s := t.store
	s.mu.Lock()
	t.unreserve()
	s.mu.Unlock()
	t.release()
}

// unreserve wakes units waiting on this unit's keys. Callers hold store.mu.
func (t *memoryTx) unreserve() {
	for _, key := range t.keys {
		if pending, ok := t.store.reserved[key]; ok {
			close(pending)
			delete(t.store.reserved, key)
		}
	}
	t.keys = nil
}

func (t *memoryTx) release() {
	for i := len(t.order) - 1; i >= 0; i-- {
		if lock, ok := t.store.rowLock(t.order[i]); ok {
			<-lock
		}
	}
	t.order = nil
	t.held = map[int64]bool{}
}
