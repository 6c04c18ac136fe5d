package money

import (
	"math"
	"testing"
)

func TestPercentRoundsHalfUp(t *testing.T) {
	cases := []struct {
		amount  int64
		percent float64
		want    int64
	}{
		{amount: 200000, percent: 10, want: 20000},
		{amount: 12345, percent: 10, want: 1235},
		{amount: 99999, percent: 12.5, want: 12500},
		{amount: 0, percent: 10, want: 0},
		{amount: 1000, percent: 0, want: 0},
	}
	for _, tc := range cases {
		if got := Percent(tc.amount, tc.percent); got != tc.want {
			t.Fatalf("Percent(%d, %v) = %d, want %d", tc.amount, tc.percent, got, tc.want)
		}
	}
}

func TestWithinTolerance(t *testing.T) {
	if !Within(110000, 110001, Tolerance) {
		t.Fatalf("expected 1 unit difference to be tolerated")
	}
	if Within(110000, 110002, Tolerance) {
		t.Fatalf("expected 2 unit difference to be rejected")
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(-5, 0, 10); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := Clamp(15, 0, 10); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
}

func TestMulAndAddRejectOverflow(t *testing.T) {
	if got, ok := Mul(2, 75000); !ok || got != 150000 {
		t.Fatalf("expected 150000, got %d %v", got, ok)
	}
	if got, ok := Mul(0, math.MaxInt64); !ok || got != 0 {
		t.Fatalf("expected zero product, got %d %v", got, ok)
	}
	if _, ok := Mul(4, 1<<62); ok {
		t.Fatalf("expected 4 * 2^62 to overflow")
	}
	if _, ok := Mul(-1, 10); ok {
		t.Fatalf("expected negative operand to be rejected")
	}
	if got, ok := Add(math.MaxInt64-1, 1); !ok || got != math.MaxInt64 {
		t.Fatalf("expected MaxInt64, got %d %v", got, ok)
	}
	if _, ok := Add(math.MaxInt64, 1); ok {
		t.Fatalf("expected sum to overflow")
	}
}
