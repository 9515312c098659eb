package wallet

import (
	"time"

	"github.com/congo-pay/wallet_service/internal/ledger"
	"github.com/congo-pay/wallet_service/internal/money"
)

// Wallet is the public view of a ledger account.
type Wallet struct {
	ID           int64     `json:"id"`
	FullName     string    `json:"full_name"`
	Balance      string    `json:"balance"`
	BalanceMinor int64     `json:"balance_minor"`
	Currency     string    `json:"currency"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Entry is the public view of a transaction record.
type Entry struct {
	ID               int64     `json:"id"`
	WalletID         int64     `json:"wallet_id"`
	FullName         string    `json:"full_name"`
	SenderFullName   string    `json:"sender_full_name,omitempty"`
	ReceiverFullName string    `json:"receiver_full_name,omitempty"`
	Type             string    `json:"type"`
	Amount           string    `json:"amount"`
	AmountMinor      int64     `json:"amount_minor"`
	Description      string    `json:"description,omitempty"`
	IdempotencyKey   string    `json:"idempotency_key"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewWallet renders an account.
func NewWallet(a ledger.Account) Wallet {
	return Wallet{
		ID:           a.ID,
		FullName:     a.FullName,
		Balance:      money.FromMinor(a.Balance).StringFixed(money.Scale),
		BalanceMinor: a.Balance,
		Currency:     a.Currency,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

// NewEntry renders a transaction record.
func NewEntry(t ledger.Transaction) Entry {
	return Entry{
		ID:               t.ID,
		WalletID:         t.AccountID,
		FullName:         t.FullName,
		SenderFullName:   t.SenderFullName,
		ReceiverFullName: t.ReceiverFullName,
		Type:             string(t.Direction),
		Amount:           money.FromMinor(t.Amount).StringFixed(money.Scale),
		AmountMinor:      t.Amount,
		Description:      t.Description,
		IdempotencyKey:   t.IdempotencyKey,
		CreatedAt:        t.CreatedAt,
	}
}

// NewEntries renders a list of records, never returning nil.
func NewEntries(records []ledger.Transaction) []Entry {
	out := make([]Entry, 0, len(records))
	for _, r := range records {
		out = append(out, NewEntry(r))
	}
	return out
}
