// Package money holds the small amount of arithmetic the settlement path needs
// on whole-unit int64 amounts.
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

// Tolerance is the rounding slack allowed when comparing client and server totals.
const Tolerance int64 = 1

// Percent returns amount * percent / 100 rounded half away from zero.
func Percent(amount int64, percent float64) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	value := decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Round(0)
	return value.IntPart()
}

func Clamp(value int64, lo int64, hi int64) int64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

func Within(a int64, b int64, tolerance int64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func MaxInt64(a int64, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Mul returns a*b for non-negative amounts. ok is false when either operand
// is negative or the product does not fit in int64.
func Mul(a int64, b int64) (product int64, ok bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

// Add is the overflow-checked sum of two non-negative amounts.
func Add(a int64, b int64) (sum int64, ok bool) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
