package core

import "time"

// CompliancePercent is spent over budget as a truncating integer percentage.
// A value at or below a tier's ceiling qualifies for that dimension.
func CompliancePercent(actualSpent, budget int64) int64 {
	if budget <= 0 {
		return 0
	}
	return actualSpent * 100 / budget
}

// ReductionPercent is the truncating percentage drop of impulse spend
// against the account's baseline. Spending at or above the baseline, or a
// zero/unset baseline, yields 0 — there is no credit for regression.
func ReductionPercent(impulseSpent, baseline int64) int64 {
	if baseline <= 0 {
		return 0
	}
	if impulseSpent >= baseline {
		return 0
	}
	return (baseline - impulseSpent) * 100 / baseline
}

// HalveReward applies the emergency-use penalty, truncating. A reward of 1
// becomes 0.
func HalveReward(reward int64) int64 {
	return reward / 2
}

// EvaluationOutcome captures everything a single period evaluation decided.
type EvaluationOutcome struct {
	Account           string
	Period            int64
	CompliancePercent int64
	ReductionPercent  int64
	Tier              int
	Reward            int64
	EmergencyPenalty  bool
	Streak            int64
	NextPeriod        int64
	EvaluatedAt       time.Time
}

// EvaluationApply is the atomic ledger-and-record mutation derived from an
// outcome: seal the record, credit the ledger, set tier and streak, advance
// the period, persist the proof. It is applied as one unit or not at all.
type EvaluationApply struct {
	Account    string
	Period     int64
	Reward     int64
	Tier       int
	Streak     int64
	RewardTime time.Time
	Proof      EvaluationProof
}

// EvaluationProof is the externally shareable attestation of one evaluation.
type EvaluationProof struct {
	ID          string
	Account     string
	Period      int64
	Tier        int
	Reward      int64
	GeneratedAt time.Time
}
