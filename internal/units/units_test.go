package units

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// n is a test helper for creating integer decimals from strings.
func n(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// rate2000 is 2000 USD/ETH scaled by 10^8.
var rate2000 = n("200000000000")

// --- Conversion tests ---

func TestWeiToUsdCents_ScenarioRate(t *testing.T) {
	tests := []struct {
		wei  string
		want string
	}{
		{"10000000000000000", "2000"},     // 0.01 ETH
		{"1000000000000000", "200"},       // 0.001 ETH
		{"1000000000000000000", "200000"}, // 1 ETH
		{"0", "0"},
	}
	for _, tt := range tests {
		got := WeiToUsdCents(n(tt.wei), rate2000)
		if !got.Equal(n(tt.want)) {
			t.Errorf("WeiToUsdCents(%s) = %s, want %s", tt.wei, got, tt.want)
		}
	}
}

func TestUsdCentsToWei_ScenarioRate(t *testing.T) {
	got := UsdCentsToWei(n("2500"), rate2000)
	if !got.Equal(n("12500000000000000")) {
		t.Errorf("expected 0.0125 ETH in wei, got %s", got)
	}
}

func TestDivRound_HalfAwayFromZero(t *testing.T) {
	tests := []struct {
		num, den, want string
	}{
		{"5", "10", "1"},   // 0.5 → 1
		{"15", "10", "2"},  // 1.5 → 2
		{"25", "10", "3"},  // 2.5 → 3 (banker's rounding would give 2)
		{"24", "10", "2"},  // 2.4 → 2
		{"-5", "10", "-1"}, // -0.5 → -1
		{"-25", "10", "-3"},
		{"-24", "10", "-2"},
		{"0", "7", "0"},
		{"7", "-2", "-4"}, // -3.5 → -4
	}
	for _, tt := range tests {
		got := DivRound(n(tt.num), n(tt.den))
		if !got.Equal(n(tt.want)) {
			t.Errorf("DivRound(%s, %s) = %s, want %s", tt.num, tt.den, got, tt.want)
		}
	}
}

func TestWeiToUsdCents_RoundsHalfUp(t *testing.T) {
	// At 1 USD/ETH one cent is 10^16 wei.
	one := RateScale
	tests := []struct {
		wei, want string
	}{
		{"5000000000000000", "1"},
		{"4999999999999999", "0"},
		{"25000000000000000", "3"},
		{"-5000000000000000", "-1"},
		{"-4999999999999999", "0"},
	}
	for _, tt := range tests {
		got := WeiToUsdCents(n(tt.wei), one)
		if !got.Equal(n(tt.want)) {
			t.Errorf("WeiToUsdCents(%s) = %s, want %s", tt.wei, got, tt.want)
		}
	}
}

func TestUsdCentsToWei_ZeroRatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on zero rate")
		}
	}()
	UsdCentsToWei(n("100"), decimal.Zero)
}

func TestRoundTrip_WithinOneCent(t *testing.T) {
	rates := []decimal.Decimal{
		rate2000,
		n("123456789012"),  // 1234.56789012
		n("100000000"),     // 1
		n("1"),             // 0.00000001
		n("987654321"),     // 9.87654321
		n("5000000000000"), // 50000
	}
	one := decimal.NewFromInt(1)
	for _, r := range rates {
		for c := int64(0); c <= 5000; c += 7 {
			cents := decimal.NewFromInt(c)
			back := WeiToUsdCents(UsdCentsToWei(cents, r), r)
			if back.Sub(cents).Abs().GreaterThan(one) {
				t.Fatalf("round trip drifted: rate=%s cents=%s back=%s", r, cents, back)
			}
		}
	}
}

// --- Parsing tests ---

func TestParseUsdAmount_Valid(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"25", "2500"},
		{"25.5", "2550"},
		{"25.50", "2550"},
		{"0", "0"},
		{"0.01", "1"},
		{" 83.25 ", "8325"},
		{"007", "700"},
	}
	for _, tt := range tests {
		got, err := ParseUsdAmount(tt.raw)
		if err != nil {
			t.Errorf("ParseUsdAmount(%q) unexpected error: %v", tt.raw, err)
			continue
		}
		if !got.Equal(n(tt.want)) {
			t.Errorf("ParseUsdAmount(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestParseUsdAmount_Invalid(t *testing.T) {
	tests := []string{
		"-5",
		"25.505",
		"1,000",
		"1e3",
		"abc",
		".5",
		"5.",
		"+5",
		"$5",
	}
	for _, raw := range tests {
		_, err := ParseUsdAmount(raw)
		if !errors.Is(err, ErrInvalidUsdAmount) {
			t.Errorf("ParseUsdAmount(%q): expected ErrInvalidUsdAmount, got %v", raw, err)
		}
	}
}

func TestParseUsdAmount_Empty(t *testing.T) {
	_, err := ParseUsdAmount("   ")
	if !errors.Is(err, ErrAmountRequired) {
		t.Errorf("expected ErrAmountRequired, got %v", err)
	}
}

func TestParseScaled(t *testing.T) {
	got, err := ParseScaled("2000.123456789", RateDecimals)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Digits past the eighth decimal are truncated.
	if !got.Equal(n("200012345678")) {
		t.Errorf("expected 200012345678, got %s", got)
	}

	if _, err := ParseScaled("-1", RateDecimals); !errors.Is(err, ErrInvalidNumber) {
		t.Errorf("expected ErrInvalidNumber, got %v", err)
	}
	if _, err := ParseScaled("", RateDecimals); !errors.Is(err, ErrInvalidNumber) {
		t.Errorf("expected ErrInvalidNumber for empty input, got %v", err)
	}
}

func TestScaleDecimal(t *testing.T) {
	got := ScaleDecimal(decimal.RequireFromString("3456.789012345"), RateDecimals)
	if !got.Equal(n("345678901235")) {
		t.Errorf("expected 345678901235, got %s", got)
	}
}

// --- Formatting tests ---

func TestFormatUsd(t *testing.T) {
	tests := []struct {
		cents, want string
	}{
		{"123456", "USD 1,234.56"},
		{"250000", "USD 2,500"},
		{"2550", "USD 25.5"},
		{"0", "USD 0"},
		{"-50", "-USD 0.5"},
		{"-123456789", "-USD 1,234,567.89"},
	}
	for _, tt := range tests {
		if got := FormatUsd(n(tt.cents)); got != tt.want {
			t.Errorf("FormatUsd(%s) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}

func TestFormatEth(t *testing.T) {
	tests := []struct {
		wei, want string
	}{
		{"12500000000000000", "ETH 0.0125"},
		{"1000000000000000000000000", "ETH 1,000,000"},
		{"1", "ETH 0"},
		{"500000000000", "ETH 0.000001"}, // 0.0000005 rounds up at 6 decimals
		{"-10000000000000000", "-ETH 0.01"},
	}
	for _, tt := range tests {
		if got := FormatEth(n(tt.wei)); got != tt.want {
			t.Errorf("FormatEth(%s) = %q, want %q", tt.wei, got, tt.want)
		}
	}
}

func TestFormatRateValue(t *testing.T) {
	if got := FormatRateValue(rate2000, RateDisplayDecimals); got != "2000" {
		t.Errorf("expected 2000, got %q", got)
	}
	if got := FormatRateValue(n("200012345678"), RateDisplayDecimals); got != "2000.12" {
		t.Errorf("expected 2000.12, got %q", got)
	}
	if got := FormatRateValue(n("345678901235"), 4); got != "3456.789" {
		t.Errorf("expected 3456.789, got %q", got)
	}
}
