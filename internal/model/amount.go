package model

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// LedgerDecimals is the fixed-point precision of ledger-native amounts.
const LedgerDecimals = 18

// ErrNegativeAmount is returned for amounts below zero.
var ErrNegativeAmount = errors.New("amount must not be negative")

// ToUSD converts an 18-decimal ledger amount to dollars at the given
// unit-to-dollar rate, rounded to cents half away from zero (0.005 -> 0.01).
func ToUSD(amount *big.Int, rate decimal.Decimal) (decimal.Decimal, error) {
	if amount == nil {
		return decimal.Zero, errors.New("amount is required")
	}
	if amount.Sign() < 0 {
		return decimal.Zero, ErrNegativeAmount
	}
	units := decimal.NewFromBigInt(amount, -LedgerDecimals)
	return units.Mul(rate).Round(2), nil
}

// Cents returns the whole-cent value of a dollar amount already rounded by ToUSD.
func Cents(usd decimal.Decimal) int64 {
	return usd.Round(2).Shift(2).IntPart()
}

// ParseLedgerAmount parses a decimal string of ledger units ("12.5") into its
// 18-decimal integer form.
func ParseLedgerAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, ErrNegativeAmount
	}
	return d.Shift(LedgerDecimals).Truncate(0).BigInt(), nil
}
