package policy_test

import (
	"LendLedger/internal/policy"
	"testing"
)

func TestRequiredCollateral(t *testing.T) {
	cases := []struct {
		amount int64
		want   int64
	}{
		{0, 0},
		{100, 150},
		{1000, 1500},
		{1, 1},   // 1*150/100 floors to 1
		{3, 4},   // 3*150/100 = 4.5 floors to 4
		{667, 1000},
	}

	for _, c := range cases {
		got := policy.RequiredCollateral(c.amount)
		if got != c.want {
			t.Errorf("RequiredCollateral(%d): got %d, want %d", c.amount, got, c.want)
		}
	}
}
