package math_test

import (
	"testing"

	fpmath "EscrowCore/internal/math"
)

func TestMulDivFloor(t *testing.T) {
	tests := []struct {
		a, b, denom int64
		want        int64
	}{
		{1000, 250, 10000, 25},
		{999, 250, 10000, 24},
		{1, 9999, 10000, 0},
		{0, 250, 10000, 0},
		{9_223_372_036_854_775_807, 10000, 10000, 9_223_372_036_854_775_807},
		{9_000_000_000_000_000_000, 250, 10000, 225_000_000_000_000_000},
	}

	for _, tt := range tests {
		if got := fpmath.MulDivFloor(tt.a, tt.b, tt.denom); got != tt.want {
			t.Errorf("MulDivFloor(%d, %d, %d) = %d, want %d", tt.a, tt.b, tt.denom, got, tt.want)
		}
	}
}
