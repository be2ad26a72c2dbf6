package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Money is an amount in minor currency units (fen)
type Money int64

// Yuan builds a Money value from whole currency units
func Yuan(units int64) Money {
	return Money(units * 100)
}

// String renders the amount with two decimal places
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Abs returns the absolute value
func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// ParseMoney parses "123", "123.4" or "123.45"
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidArgument)
	}
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("%w: amount %q has more than two decimals", ErrInvalidArgument, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid amount %q", ErrInvalidArgument, s)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid amount %q", ErrInvalidArgument, s)
	}

	m := Money(units*100 + cents)
	if negative {
		m = -m
	}
	return m, nil
}

// Scale multiplies the amount by a factor expressed in percent, rounding half up
func (m Money) Scale(percent int64) Money {
	return Money((int64(m)*percent + 50) / 100)
}
