package core

import (
	"errors"
	"testing"
	"time"
)

func TestTierRequirementValidate(t *testing.T) {
	good := TierRequirement{Rank: 2, ComplianceCeiling: 100, ImpulseReductionFloor: 40, EmergencyFundFloor: 4, RewardAmount: 50}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []TierRequirement{
		{Rank: -1, ComplianceCeiling: 100},
		{Rank: TierCount, ComplianceCeiling: 100},
		{Rank: 1, ComplianceCeiling: -5},
		{Rank: 1, RewardAmount: -1},
	}
	for i, tr := range bads {
		err := tr.Validate()
		if err == nil {
			t.Fatalf("case %d expected error", i)
		}
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestVaultValidate(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	good := Vault{Type: VaultSavings, TargetAmount: 1000, TargetDate: now.AddDate(0, 6, 0)}
	if err := good.Validate(now); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name string
		v    Vault
	}{
		{"unknown type", Vault{Type: "checking", TargetAmount: 1000, TargetDate: now.AddDate(1, 0, 0)}},
		{"zero target", Vault{Type: VaultSavings, TargetAmount: 0, TargetDate: now.AddDate(1, 0, 0)}},
		{"negative target", Vault{Type: VaultSavings, TargetAmount: -5, TargetDate: now.AddDate(1, 0, 0)}},
		{"past date", Vault{Type: VaultSavings, TargetAmount: 1000, TargetDate: now.AddDate(0, 0, -1)}},
		{"date equal to now", Vault{Type: VaultSavings, TargetAmount: 1000, TargetDate: now}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.v.Validate(now); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestDefaultTiersShape(t *testing.T) {
	tiers := DefaultTiers()
	if len(tiers) != TierCount {
		t.Fatalf("expected %d tiers, got %d", TierCount, len(tiers))
	}
	for i, tr := range tiers {
		if tr.Rank != i {
			t.Fatalf("tier %d has rank %d", i, tr.Rank)
		}
		if err := tr.Validate(); err != nil {
			t.Fatalf("tier %d invalid: %v", i, err)
		}
	}
}
