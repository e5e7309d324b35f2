package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/javajoker/handoff-backend/internal/config"
)

func defaultFees() FeePolicy {
	return NewFeePolicy(config.PaymentConfig{
		PlatformFeePercent: 5,
		PayoutFeePercent:   1.5,
	})
}

func TestSplitFortyFiveDollarSale(t *testing.T) {
	split := defaultFees().Split(4500)

	assert.Equal(t, int64(225), split.PlatformFee)
	assert.Equal(t, int64(68), split.PayoutFee)
	assert.Equal(t, int64(4207), split.SellerAmount)
	assert.Equal(t, int64(293), split.PlatformTotal())
	assert.Equal(t, split.Amount, split.SellerAmount+split.PlatformTotal())
}

func TestSplitPayoutOnNet(t *testing.T) {
	fees := NewFeePolicy(config.PaymentConfig{
		PlatformFeePercent: 5,
		PayoutFeePercent:   1.5,
		PayoutFeeBase:      config.PayoutFeeBaseNet,
	})

	split := fees.Split(4500)

	// 1.5% of 4275 = 64.125
	assert.Equal(t, int64(225), split.PlatformFee)
	assert.Equal(t, int64(64), split.PayoutFee)
	assert.Equal(t, int64(4211), split.SellerAmount)
}

func TestPercentOfRoundsHalfUp(t *testing.T) {
	tests := []struct {
		amount int64
		pct    string
		want   int64
	}{
		{4500, "1.5", 68},
		{100, "0.5", 1},
		{99, "0.5", 0},
		{1, "50", 1},
		{3, "50", 2},
		{0, "5", 0},
		{-100, "5", 0},
	}

	for _, tt := range tests {
		got := PercentOf(tt.amount, decimal.RequireFromString(tt.pct))
		assert.Equal(t, tt.want, got, "%d at %s%%", tt.amount, tt.pct)
	}
}

func TestSplitNeverPaysSellerNegative(t *testing.T) {
	fees := NewFeePolicy(config.PaymentConfig{
		PlatformFeePercent: 60,
		PayoutFeePercent:   50,
	})

	split := fees.Split(1000)

	assert.Equal(t, int64(0), split.SellerAmount)
	assert.Equal(t, int64(1000), split.PlatformTotal())
}

func TestSplitConservesAmount(t *testing.T) {
	fees := defaultFees()
	for _, amount := range []int64{1, 7, 33, 199, 4500, 123457, 99999999} {
		split := fees.Split(amount)
		assert.Equal(t, amount, split.SellerAmount+split.PlatformFee+split.PayoutFee, "amount %d", amount)
		assert.GreaterOrEqual(t, split.SellerAmount, int64(0))
	}
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "45.00", FormatCents(4500))
	assert.Equal(t, "0.68", FormatCents(68))
	assert.Equal(t, "-2.25", FormatCents(-225))
}
