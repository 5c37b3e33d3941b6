package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
)

func c(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestNewDepositBounds_Valid(t *testing.T) {
	b, err := NewDepositBounds(c(2000), c(20000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.MinUsdCents.Equal(c(2000)) || !b.MaxUsdCents.Equal(c(20000)) {
		t.Errorf("unexpected bounds: %+v", b)
	}
}

func TestNewDepositBounds_MinEqualsMax(t *testing.T) {
	if _, err := NewDepositBounds(c(500), c(500)); err != nil {
		t.Errorf("min == max should be allowed, got %v", err)
	}
}

func TestNewDepositBounds_ZeroMin(t *testing.T) {
	_, err := NewDepositBounds(c(0), c(100))
	if err != ErrMinNotPositive {
		t.Errorf("expected ErrMinNotPositive, got %v", err)
	}
}

func TestNewDepositBounds_MaxBelowMin(t *testing.T) {
	_, err := NewDepositBounds(c(200), c(100))
	if err != ErrMaxBelowMin {
		t.Errorf("expected ErrMaxBelowMin, got %v", err)
	}
}

func TestCheck_InclusiveEdges(t *testing.T) {
	b, _ := NewDepositBounds(c(2000), c(20000))

	tests := []struct {
		cents int64
		want  error
	}{
		{2000, nil},
		{20000, nil},
		{10000, nil},
		{1999, ErrBelowMinimum},
		{200, ErrBelowMinimum},
		{20001, ErrAboveMaximum},
	}
	for _, tt := range tests {
		if err := b.Check(c(tt.cents)); err != tt.want {
			t.Errorf("Check(%d) = %v, want %v", tt.cents, err, tt.want)
		}
	}
}
