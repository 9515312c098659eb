// Package money converts between major-unit decimals used on the wire and the
// integer minor units stored by the ledger.
package money

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_service/internal/ledger"
)

// Scale is the number of fractional digits a major-unit amount may carry.
const Scale = 2

var maxMajor = decimal.New(math.MaxInt64, -Scale)

// ToMinor converts a strictly positive amount such as 12.34 into 1234.
func ToMinor(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount %s must be positive: %w", amount, ledger.ErrInvalidAmount)
	}
	return convert(amount)
}

// BalanceToMinor is ToMinor for opening balances, where zero is allowed.
func BalanceToMinor(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("balance %s must not be negative: %w", amount, ledger.ErrInvalidAmount)
	}
	return convert(amount)
}

// FromMinor renders minor units back as a major-unit decimal.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}

func convert(amount decimal.Decimal) (int64, error) {
	if !amount.Equal(amount.Truncate(Scale)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places: %w", amount, Scale, ledger.ErrInvalidAmount)
	}
	if amount.GreaterThan(maxMajor) {
		return 0, fmt.Errorf("amount %s is too large: %w", amount, ledger.ErrInvalidAmount)
	}
	return amount.Shift(Scale).IntPart(), nil
}
