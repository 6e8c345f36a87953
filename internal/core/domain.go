package core

import (
	"strings"
	"time"
)

const (
	VaultSavings    VaultType = "savings"
	VaultEducation  VaultType = "education"
	VaultRetirement VaultType = "retirement"
	VaultEmergency  VaultType = "emergency"
)

// TierCount is the number of policy ranks. Ranks are indexed 0..TierCount-1.
const TierCount = 4

// VaultScaleFactor converts spent ledger tokens into goal progress,
// expressed in currency minor units per token.
const VaultScaleFactor = 100

type (
	VaultType string

	// MonthlyRecord is the per-account, per-period spending record.
	// Period indices are monotonically increasing and start at 0.
	// A record becomes immutable once Evaluated is set.
	MonthlyRecord struct {
		Account             string
		Period              int64
		Budget              int64 // currency minor units, > 0 once set
		ActualSpent         int64
		ImpulseSpent        int64
		EmergencyFundMonths int64
		Evaluated           bool
		UpdatedAt           time.Time
	}

	// TierRequirement is one row of the reward policy table.
	// StreakRequirement is informational and not consulted by tier selection.
	TierRequirement struct {
		Rank                  int
		ComplianceCeiling     int64 // spent/budget percentage at or below which the rank qualifies
		ImpulseReductionFloor int64 // percentage reduction from baseline required
		EmergencyFundFloor    int64 // months of coverage required
		RewardAmount          int64 // ledger tokens credited
		StreakRequirement     int64
	}

	// LedgerEntry is an account's reward balance record.
	// Balance never exceeds TotalEarned and never goes below zero.
	LedgerEntry struct {
		Account           string
		Balance           int64
		TotalEarned       int64
		CurrentTier       int
		ConsecutiveMonths int64
		LastRewardTime    time.Time
		Active            bool
	}

	// Vault tracks progress toward a savings goal, funded by ledger debits.
	Vault struct {
		Account       string
		ID            int
		Type          VaultType
		TargetAmount  int64
		CurrentAmount int64 // TokensSpent * VaultScaleFactor
		TokensSpent   int64
		CreatedAt     time.Time
		TargetDate    time.Time
		Active        bool
		Description   string
	}
)

func (t VaultType) IsValid() bool {
	switch t {
	case VaultSavings, VaultEducation, VaultRetirement, VaultEmergency:
		return true
	}
	return false
}

// BudgetSet reports whether a usable budget has been written to the record.
func (r MonthlyRecord) BudgetSet() bool {
	return r.Budget > 0
}

// SpendingRecorded reports whether actual spending has been submitted.
func (r MonthlyRecord) SpendingRecorded() bool {
	return r.ActualSpent > 0
}

func (tr TierRequirement) Validate() error {
	if tr.Rank < 0 || tr.Rank >= TierCount {
		return Wrapf(ErrInvalidInput, "tier rank %d out of range", tr.Rank)
	}
	if tr.ComplianceCeiling < 0 || tr.ImpulseReductionFloor < 0 || tr.EmergencyFundFloor < 0 {
		return Wrapf(ErrInvalidInput, "tier %d thresholds must be non-negative", tr.Rank)
	}
	if tr.RewardAmount < 0 {
		return Wrapf(ErrInvalidInput, "tier %d reward must be non-negative", tr.Rank)
	}
	return nil
}

func (v Vault) Validate(now time.Time) error {
	if !v.Type.IsValid() {
		return Wrapf(ErrInvalidInput, "unknown vault type %q", v.Type)
	}
	if v.TargetAmount <= 0 {
		return Wrapf(ErrInvalidInput, "vault target must be positive")
	}
	if !v.TargetDate.After(now) {
		return Wrapf(ErrInvalidInput, "vault target date must be in the future")
	}
	if len(strings.TrimSpace(v.Description)) > 200 {
		return Wrapf(ErrInvalidInput, "vault description too long (max 200 characters)")
	}
	return nil
}

// DefaultTiers returns the seed policy table. Rank order in the slice is the
// storage order; selection always scans from the highest rank down.
func DefaultTiers() []TierRequirement {
	return []TierRequirement{
		{Rank: 0, ComplianceCeiling: 115, ImpulseReductionFloor: 10, EmergencyFundFloor: 0, RewardAmount: 10, StreakRequirement: 0},
		{Rank: 1, ComplianceCeiling: 105, ImpulseReductionFloor: 25, EmergencyFundFloor: 1, RewardAmount: 25, StreakRequirement: 3},
		{Rank: 2, ComplianceCeiling: 100, ImpulseReductionFloor: 40, EmergencyFundFloor: 4, RewardAmount: 50, StreakRequirement: 6},
		{Rank: 3, ComplianceCeiling: 95, ImpulseReductionFloor: 60, EmergencyFundFloor: 12, RewardAmount: 100, StreakRequirement: 12},
	}
}
