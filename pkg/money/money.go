// Package money represents monetary amounts as integer minor units.
//
// Decimal strings only appear at the system boundary: Parse accepts dot- or
// comma-decimal input and rounds half away from zero to the currency exponent,
// Format renders a fixed number of fractional digits. Everything in between is
// int64 arithmetic.
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount    = errors.New("money: invalid amount")
	ErrNegativeAmount   = errors.New("money: negative amount")
	ErrInvalidCurrency  = errors.New("money: invalid currency")
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
	ErrOverflow         = errors.New("money: amount overflows int64 minor units")
)

const defaultExponent = 2

var exponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"CLP": 0,
	"BTC": 8,
}

// Money is an amount in minor units of Currency.
type Money struct {
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
}

// New builds a Money from minor units.
func New(minor int64, currency string) Money {
	return Money{Minor: minor, Currency: NormalizeCurrency(currency)}
}

// Zero returns a zero amount in currency.
func Zero(currency string) Money {
	return New(0, currency)
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ValidCurrency accepts 3 to 5 ASCII letters (ISO 4217 plus common asset tickers).
func ValidCurrency(currency string) bool {
	c := NormalizeCurrency(currency)
	if len(c) < 3 || len(c) > 5 {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}
	return true
}

// Exponent returns the number of fractional digits used for currency.
func Exponent(currency string) int32 {
	if e, ok := exponents[NormalizeCurrency(currency)]; ok {
		return e
	}
	return defaultExponent
}

func (m Money) IsZero() bool     { return m.Minor == 0 }
func (m Money) IsPositive() bool { return m.Minor > 0 }
func (m Money) IsNegative() bool { return m.Minor < 0 }

// Neg flips the sign. math.MinInt64 has no positive counterpart and is returned unchanged.
func (m Money) Neg() Money {
	if m.Minor == math.MinInt64 {
		return m
	}
	return Money{Minor: -m.Minor, Currency: m.Currency}
}

// Add returns m+o. Both operands must share a currency.
func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	sum, ok := addInt64(m.Minor, o.Minor)
	if !ok {
		return Money{}, ErrOverflow
	}
	return Money{Minor: sum, Currency: m.Currency}, nil
}

// Sub returns m-o. Both operands must share a currency.
func (m Money) Sub(o Money) (Money, error) {
	if o.Minor == math.MinInt64 {
		return Money{}, ErrOverflow
	}
	return m.Add(o.Neg())
}

// Cmp compares m and o: -1, 0 or +1.
func (m Money) Cmp(o Money) (int, error) {
	if err := m.sameCurrency(o); err != nil {
		return 0, err
	}
	switch {
	case m.Minor < o.Minor:
		return -1, nil
	case m.Minor > o.Minor:
		return 1, nil
	}
	return 0, nil
}

func (m Money) sameCurrency(o Money) error {
	if NormalizeCurrency(m.Currency) != NormalizeCurrency(o.Currency) {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	return nil
}

// Format renders the amount as a dot-decimal string with the currency's fixed digits.
func (m Money) Format() string {
	exp := Exponent(m.Currency)
	neg := m.Minor < 0
	abs := uint64(m.Minor)
	if neg {
		abs = uint64(-(m.Minor + 1)) + 1
	}

	digits := strconv.FormatUint(abs, 10)
	if exp > 0 {
		if pad := int(exp) + 1 - len(digits); pad > 0 {
			digits = strings.Repeat("0", pad) + digits
		}
		cut := len(digits) - int(exp)
		digits = digits[:cut] + "." + digits[cut:]
	}
	if neg {
		return "-" + digits
	}
	return digits
}

func (m Money) String() string {
	return m.Format() + " " + m.Currency
}

// Parse reads a non-negative decimal string in dot- or comma-decimal notation
// and converts it to minor units of currency.
func Parse(s string, currency string) (Money, error) {
	if !ValidCurrency(currency) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	normalized, err := normalizeDecimal(s)
	if err != nil {
		return Money{}, err
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d, currency)
}

// FromDecimal converts a decimal value to minor units, rounding half away from zero.
func FromDecimal(d decimal.Decimal, currency string) (Money, error) {
	if !ValidCurrency(currency) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	if d.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	scaled := d.Shift(Exponent(currency)).Round(0)
	if !scaled.BigInt().IsInt64() {
		return Money{}, ErrOverflow
	}
	return New(scaled.IntPart(), currency), nil
}

// normalizeDecimal rewrites "1.234,56" / "1,234.56" / "1234,56" into "1234.56".
// When both separators appear the last one is the decimal mark; a single
// separator occurring once is the decimal mark; a repeated one is grouping.
func normalizeDecimal(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return "", ErrInvalidAmount
	}
	if strings.HasPrefix(s, "-") {
		return "", ErrNegativeAmount
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && c != '.' && c != ',' {
			return "", fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}

	dots, commas := strings.Count(s, "."), strings.Count(s, ",")
	var decimalMark, groupMark byte
	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndexByte(s, '.') > strings.LastIndexByte(s, ',') {
			decimalMark, groupMark = '.', ','
		} else {
			decimalMark, groupMark = ',', '.'
		}
		if strings.Count(s, string(decimalMark)) > 1 {
			return "", fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	case dots == 1:
		decimalMark = '.'
	case commas == 1:
		decimalMark = ','
	case dots > 1:
		groupMark = '.'
	case commas > 1:
		groupMark = ','
	}

	intPart, fracPart := s, ""
	if decimalMark != 0 {
		i := strings.LastIndexByte(s, decimalMark)
		intPart, fracPart = s[:i], s[i+1:]
		if fracPart == "" || strings.ContainsAny(fracPart, ".,") {
			return "", fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	if groupMark != 0 {
		groups := strings.Split(intPart, string(groupMark))
		for i, g := range groups {
			if (i == 0 && (len(g) == 0 || len(g) > 3)) || (i > 0 && len(g) != 3) {
				return "", fmt.Errorf("%w: bad digit grouping in %q", ErrInvalidAmount, s)
			}
		}
		intPart = strings.Join(groups, "")
	}
	if intPart == "" || strings.ContainsAny(intPart, ".,") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if fracPart == "" {
		return intPart, nil
	}
	return intPart + "." + fracPart, nil
}

func addInt64(a, b int64) (int64, bool) {
	c := a + b
	if (c > a) == (b > 0) {
		return c, true
	}
	return c, b == 0
}
