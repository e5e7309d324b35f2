// internal/services/fees.go
package services

import (
	"github.com/shopspring/decimal"

	"github.com/javajoker/handoff-backend/internal/config"
)

var hundred = decimal.NewFromInt(100)

// FeePolicy turns configured percentages into cent amounts. Every percentage
// is applied exactly once to an integer amount and rounded half-up to the cent.
type FeePolicy struct {
	PlatformPercent decimal.Decimal
	PayoutPercent   decimal.Decimal
	PayoutBase      config.PayoutFeeBase
}

// Settlement is the split of an amount between seller and platform.
type Settlement struct {
	Amount       int64 `json:"amount"`
	PlatformFee  int64 `json:"platform_fee"`
	PayoutFee    int64 `json:"payout_fee"`
	SellerAmount int64 `json:"seller_amount"`
}

// PlatformTotal is what the platform keeps out of the settled amount.
func (s Settlement) PlatformTotal() int64 {
	return s.PlatformFee + s.PayoutFee
}

func NewFeePolicy(cfg config.PaymentConfig) FeePolicy {
	base := cfg.PayoutFeeBase
	if base == "" {
		base = config.PayoutFeeBaseGross
	}
	return FeePolicy{
		PlatformPercent: decimal.NewFromFloat(cfg.PlatformFeePercent),
		PayoutPercent:   decimal.NewFromFloat(cfg.PayoutFeePercent),
		PayoutBase:      base,
	}
}

// PercentOf returns pct percent of amount in cents, rounded half-up.
func PercentOf(amount int64, pct decimal.Decimal) int64 {
	if amount <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}

func (p FeePolicy) PlatformFee(amount int64) int64 {
	return PercentOf(amount, p.PlatformPercent)
}

// Split computes seller = amount - platformFee - payoutFee.
func (p FeePolicy) Split(amount int64) Settlement {
	platformFee := p.PlatformFee(amount)

	payoutBase := amount
	if p.PayoutBase == config.PayoutFeeBaseNet {
		payoutBase = amount - platformFee
	}
	payoutFee := PercentOf(payoutBase, p.PayoutPercent)

	seller := amount - platformFee - payoutFee
	if seller < 0 {
		payoutFee += seller
		seller = 0
		if payoutFee < 0 {
			platformFee += payoutFee
			payoutFee = 0
		}
	}

	return Settlement{
		Amount:       amount,
		PlatformFee:  platformFee,
		PayoutFee:    payoutFee,
		SellerAmount: seller,
	}
}

// FormatCents renders minor units as a fixed two-decimal string.
func FormatCents(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}
