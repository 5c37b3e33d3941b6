// Package units implements exact fixed-point conversion between wei
// (18 implied decimals) and USD cents (2 implied decimals) through an
// ETH/USD rate carrying 8 implied decimals, plus parsing and display
// formatting of those amounts.
//
// All arithmetic is integer arithmetic on shopspring/decimal values with
// zero exponent; no intermediate step rounds except the final division,
// which rounds half away from zero.
package units

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// EthDecimals is the number of implied decimals of a wei amount.
	EthDecimals int32 = 18

	// UsdDecimals is the number of implied decimals of a cent amount.
	UsdDecimals int32 = 2

	// RateDecimals is the number of implied decimals of a rate value.
	RateDecimals int32 = 8

	// EthDisplayDecimals is the default precision when rendering ETH.
	EthDisplayDecimals int32 = 6

	// RateDisplayDecimals is the default precision when rendering a rate.
	RateDisplayDecimals int32 = 2
)

var (
	WeiPerEth = decimal.New(1, EthDecimals)
	UsdScale  = decimal.New(1, UsdDecimals)
	RateScale = decimal.New(1, RateDecimals)
)

var (
	// ErrAmountRequired is returned for an empty USD amount.
	ErrAmountRequired = errors.New("units: amount is required")

	// ErrInvalidUsdAmount is returned when a USD amount does not match
	// digits(.digits{1,2})?.
	ErrInvalidUsdAmount = errors.New("units: invalid USD amount")

	// ErrInvalidNumber is returned by ParseScaled for malformed input.
	ErrInvalidNumber = errors.New("units: invalid numeric format")
)

var (
	usdAmountRegex = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	scaledRegex    = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// DivRound divides numerator by denominator and rounds the integer
// quotient half away from zero: the absolute value is rounded half-up and
// the sign is re-applied. A zero denominator is a programming error and
// panics.
func DivRound(numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.IsZero() {
		panic("units: division by zero")
	}
	if numerator.IsZero() {
		return decimal.Zero
	}
	return numerator.DivRound(denominator, 0)
}

// WeiToUsdCents converts wei to USD cents at the given scaled rate:
//
//	round(wei * rate * 100 / (10^18 * 10^8))
func WeiToUsdCents(wei, rate decimal.Decimal) decimal.Decimal {
	numerator := wei.Mul(rate).Mul(UsdScale)
	denominator := WeiPerEth.Mul(RateScale)
	return DivRound(numerator, denominator)
}

// UsdCentsToWei converts USD cents to wei at the given scaled rate:
//
//	round(cents * 10^8 * 10^18 / (100 * rate))
//
// Panics if rate is zero.
func UsdCentsToWei(cents, rate decimal.Decimal) decimal.Decimal {
	numerator := cents.Mul(RateScale).Mul(WeiPerEth)
	denominator := UsdScale.Mul(rate)
	return DivRound(numerator, denominator)
}

// ParseUsdAmount parses a human-entered USD amount ("25", "25.5",
// "25.50") into integer cents. Signs, exponents, separators and more than
// two decimals are rejected.
func ParseUsdAmount(raw string) (decimal.Decimal, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		return decimal.Zero, ErrAmountRequired
	}
	if !usdAmountRegex.MatchString(normalized) {
		return decimal.Zero, ErrInvalidUsdAmount
	}
	return parseFixed(normalized, UsdDecimals)
}

// ParseScaled parses a non-negative decimal string into an integer scaled
// by 10^decimals. Extra fractional digits are truncated.
func ParseScaled(raw string, decimals int32) (decimal.Decimal, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		return decimal.Zero, fmt.Errorf("%w: value must not be empty", ErrInvalidNumber)
	}
	if !scaledRegex.MatchString(normalized) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidNumber, raw)
	}
	return parseFixed(normalized, decimals)
}

// ScaleDecimal turns a decimal value into an integer scaled by
// 10^decimals, rounding half away from zero at the last kept digit.
func ScaleDecimal(value decimal.Decimal, decimals int32) decimal.Decimal {
	return value.Round(decimals).Shift(decimals)
}

func parseFixed(normalized string, decimals int32) (decimal.Decimal, error) {
	whole, fraction, _ := strings.Cut(normalized, ".")
	padded := (fraction + strings.Repeat("0", int(decimals)))[:decimals]
	value, err := decimal.NewFromString(whole + padded)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidNumber, normalized)
	}
	return value, nil
}

// FormatUsd renders cents as "USD 1,234.5".
func FormatUsd(cents decimal.Decimal) string {
	return formatCurrency(cents, UsdScale, UsdDecimals, "USD", true)
}

// FormatEth renders wei as "ETH 0.0125" with six display decimals.
func FormatEth(wei decimal.Decimal) string {
	return formatCurrency(wei, WeiPerEth, EthDisplayDecimals, "ETH", true)
}

// FormatEthDecimals renders wei with a custom number of display decimals.
func FormatEthDecimals(wei decimal.Decimal, decimals int32) string {
	return formatCurrency(wei, WeiPerEth, decimals, "ETH", true)
}

// FormatRateValue renders a scaled rate as a plain number ("2000.5"),
// without prefix or thousands separators.
func FormatRateValue(rate decimal.Decimal, decimals int32) string {
	return formatCurrency(rate, RateScale, decimals, "", false)
}

// formatCurrency rounds value/scale to the requested number of decimals,
// strips trailing fractional zeros and preserves the sign.
func formatCurrency(value, scale decimal.Decimal, decimals int32, prefix string, separators bool) string {
	sign := ""
	if value.IsNegative() {
		sign = "-"
	}
	scaled := DivRound(value.Abs().Shift(decimals), scale)

	digits := scaled.BigInt().String()
	if pad := int(decimals) + 1 - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	integer := digits[:len(digits)-int(decimals)]
	fraction := strings.TrimRight(digits[len(digits)-int(decimals):], "0")

	if separators {
		integer = addThousandSeparators(integer)
	}

	var b strings.Builder
	b.WriteString(sign)
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte(' ')
	}
	b.WriteString(integer)
	if fraction != "" {
		b.WriteByte('.')
		b.WriteString(fraction)
	}
	return b.String()
}

func addThousandSeparators(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
