package ledger

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrMinNotPositive is returned when a session's minimum deposit is not
	// strictly positive.
	ErrMinNotPositive = errors.New("ledger: minimum deposit must be greater than zero")

	// ErrMaxBelowMin is returned when the maximum deposit is lower than the
	// minimum deposit.
	ErrMaxBelowMin = errors.New("ledger: maximum deposit must be at least the minimum deposit")

	// ErrBelowMinimum is returned when a tip converts to less than the
	// session minimum.
	ErrBelowMinimum = errors.New("ledger: tip below minimum deposit")

	// ErrAboveMaximum is returned when a tip converts to more than the
	// session maximum.
	ErrAboveMaximum = errors.New("ledger: tip above maximum deposit")
)

// DepositBounds is the inclusive per-tip deposit range of a session, in
// USD cents. Every tip is checked on its own; there is no cap on a
// player's accumulated stack.
type DepositBounds struct {
	MinUsdCents decimal.Decimal
	MaxUsdCents decimal.Decimal
}

// NewDepositBounds validates min > 0 and max >= min.
func NewDepositBounds(minUsdCents, maxUsdCents decimal.Decimal) (DepositBounds, error) {
	if !minUsdCents.IsPositive() {
		return DepositBounds{}, ErrMinNotPositive
	}
	if maxUsdCents.LessThan(minUsdCents) {
		return DepositBounds{}, ErrMaxBelowMin
	}
	return DepositBounds{MinUsdCents: minUsdCents, MaxUsdCents: maxUsdCents}, nil
}

// Check returns nil when usdCents lies in [min, max], or an error naming
// the violated side.
func (b DepositBounds) Check(usdCents decimal.Decimal) error {
	if usdCents.LessThan(b.MinUsdCents) {
		return ErrBelowMinimum
	}
	if usdCents.GreaterThan(b.MaxUsdCents) {
		return ErrAboveMaximum
	}
	return nil
}
