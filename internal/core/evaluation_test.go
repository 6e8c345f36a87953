package core

import "testing"

func TestCompliancePercent(t *testing.T) {
	cases := []struct {
		spent, budget, want int64
	}{
		{2800, 3000, 93}, // truncates, not rounds
		{3000, 3000, 100},
		{3450, 3000, 115}, // exactly at a ceiling still qualifies under <=
		{1, 3000, 0},
		{0, 3000, 0},
		{100, 0, 0},
	}
	for _, tc := range cases {
		if got := CompliancePercent(tc.spent, tc.budget); got != tc.want {
			t.Fatalf("CompliancePercent(%d, %d) = %d, want %d", tc.spent, tc.budget, got, tc.want)
		}
	}
}

func TestReductionPercent(t *testing.T) {
	cases := []struct {
		impulse, baseline, want int64
	}{
		{150, 200, 25},
		{0, 200, 100},
		{200, 200, 0},  // no credit for matching the baseline
		{300, 200, 0},  // no credit for regressing
		{100, 0, 0},    // unset baseline
		{199, 200, 0},  // 0.5% truncates to 0
		{100, 300, 66}, // truncating division
	}
	for _, tc := range cases {
		if got := ReductionPercent(tc.impulse, tc.baseline); got != tc.want {
			t.Fatalf("ReductionPercent(%d, %d) = %d, want %d", tc.impulse, tc.baseline, got, tc.want)
		}
	}
}

func TestHalveReward(t *testing.T) {
	cases := []struct{ in, want int64 }{
		{25, 12},
		{10, 5},
		{1, 0},
		{0, 0},
	}
	for _, tc := range cases {
		if got := HalveReward(tc.in); got != tc.want {
			t.Fatalf("HalveReward(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
