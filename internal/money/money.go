package money

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")
)

// Epsilon is the rounding tolerance used when comparing reconciled totals.
var Epsilon = decimal.New(1, -2)

var (
	amountPattern   = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Money is an amount paired with its ISO currency code.
type Money struct {
	Value    decimal.Decimal
	Currency string
}

// ParseAmount parses an operator or buyer supplied amount: a positive decimal
// with at most two fraction digits.
func ParseAmount(raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw)
	if !amountPattern.MatchString(value) {
		return decimal.Zero, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

// ParseNonNegative is ParseAmount that also accepts zero.
func ParseNonNegative(raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw)
	if !amountPattern.MatchString(value) {
		return decimal.Zero, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

// Parse reads an upstream decimal string. Empty or malformed input reports false.
func Parse(raw string) (decimal.Decimal, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}

// NormalizeCurrency upper-cases and validates a three-letter currency code.
func NormalizeCurrency(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !currencyPattern.MatchString(code) {
		return "", ErrInvalidCurrency
	}
	return code, nil
}

// Format renders an amount with exactly two fraction digits.
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// FloorZero returns zero for negative amounts.
func FloorZero(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// Max returns the largest of the given amounts.
func Max(first decimal.Decimal, rest ...decimal.Decimal) decimal.Decimal {
	return decimal.Max(first, rest...)
}

// Exceeds reports whether amount is greater than limit by more than eps.
func Exceeds(amount, limit, eps decimal.Decimal) bool {
	return amount.GreaterThan(limit.Add(eps))
}

// IsZero reports whether amount is within eps of zero.
func IsZero(amount, eps decimal.Decimal) bool {
	return amount.LessThanOrEqual(eps)
}

// CurrencyOr normalizes raw, returning fallback when it is not a valid code.
func CurrencyOr(raw, fallback string) string {
	code, err := NormalizeCurrency(raw)
	if err != nil {
		return fallback
	}
	return code
}
