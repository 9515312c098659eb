package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_service/internal/ledger"
)

func TestToMinor(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "5", want: 500},
		{in: "12.34", want: 1234},
		{in: "0.01", want: 1},
		{in: "7.10", want: 710},
		{in: "0", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "1.005", wantErr: true},
		{in: "99999999999999999999", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ToMinor(decimal.RequireFromString(tc.in))
			if tc.wantErr {
				require.ErrorIs(t, err, ledger.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBalanceToMinorAllowsZero(t *testing.T) {
	got, err := BalanceToMinor(decimal.Zero)
	require.NoError(t, err)
	assert.Zero(t, got)

	_, err = BalanceToMinor(decimal.RequireFromString("-0.01"))
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestFromMinor(t *testing.T) {
	assert.Equal(t, "12.34", FromMinor(1234).StringFixed(Scale))
	assert.Equal(t, "0.05", FromMinor(5).StringFixed(Scale))
	assert.True(t, FromMinor(70000).Equal(decimal.NewFromInt(700)))
}
