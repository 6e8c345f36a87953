package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"limit/internal/core"
	"limit/internal/store/memory"
)

func newService(t *testing.T, tiers []core.TierRequirement) *Service {
	t.Helper()
	return NewService(memory.New(tiers), "admin")
}

func TestSelectTopDown(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name                        string
		compliance, reduction, fund int64
		wantRank                    int
	}{
		{"all floors unmet defaults to rank 0", 93, 0, 0, 0},
		{"rank 1 thresholds", 100, 25, 1, 1},
		{"rank 2 thresholds", 100, 40, 4, 2},
		{"rank 3 beats rank 1 when both satisfied", 90, 70, 12, 3},
		{"compliance exactly at ceiling qualifies", 95, 60, 12, 3},
		{"one failed dimension disqualifies", 95, 60, 11, 2},
		{"over every ceiling still rank 0", 200, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, err := svc.Select(ctx, tt.compliance, tt.reduction, tt.fund)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tier.Rank != tt.wantRank {
				t.Errorf("Select(%d, %d, %d) = rank %d, want %d",
					tt.compliance, tt.reduction, tt.fund, tier.Rank, tt.wantRank)
			}
		})
	}
}

func TestSelectNonMonotonicTable(t *testing.T) {
	// A misconfigured table where rank 3 is looser than rank 1 still gives
	// rank 3 priority: the scan is descending, first match wins.
	tiers := core.DefaultTiers()
	tiers[3].ComplianceCeiling = 200
	tiers[3].ImpulseReductionFloor = 0
	tiers[3].EmergencyFundFloor = 0
	svc := newService(t, tiers)

	tier, err := svc.Select(context.Background(), 150, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tier.Rank != 3 {
		t.Fatalf("rank = %d, want 3", tier.Rank)
	}
}

func TestUpdateRequiresAdmin(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()
	tier := core.TierRequirement{Rank: 1, ComplianceCeiling: 100, ImpulseReductionFloor: 30, EmergencyFundFloor: 2, RewardAmount: 30}

	if err := svc.Update(ctx, "mallory", tier); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := svc.Update(ctx, "admin", tier); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tiers, err := svc.Tiers(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tiers[1].RewardAmount != 30 {
		t.Fatalf("update not applied: %+v", tiers[1])
	}
}

func TestUpdateRejectsBadRank(t *testing.T) {
	svc := newService(t, nil)
	err := svc.Update(context.Background(), "admin", core.TierRequirement{Rank: core.TierCount, ComplianceCeiling: 100})
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file yields defaults", func(t *testing.T) {
		tiers, err := LoadFile(filepath.Join(dir, "absent.yaml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tiers) != core.TierCount || tiers[3].RewardAmount != 100 {
			t.Fatalf("unexpected defaults: %+v", tiers)
		}
	})

	t.Run("valid file overrides defaults", func(t *testing.T) {
		path := filepath.Join(dir, "tiers.yaml")
		content := `tiers:
  - {rank: 0, compliance_ceiling: 120, impulse_reduction_floor: 5, emergency_fund_floor: 0, reward_amount: 8}
  - {rank: 1, compliance_ceiling: 110, impulse_reduction_floor: 20, emergency_fund_floor: 1, reward_amount: 20}
  - {rank: 2, compliance_ceiling: 100, impulse_reduction_floor: 35, emergency_fund_floor: 3, reward_amount: 45}
  - {rank: 3, compliance_ceiling: 90, impulse_reduction_floor: 55, emergency_fund_floor: 10, reward_amount: 90}
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		tiers, err := LoadFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tiers[0].ComplianceCeiling != 120 || tiers[3].RewardAmount != 90 {
			t.Fatalf("unexpected tiers: %+v", tiers)
		}
	})

	t.Run("missing rank rejected", func(t *testing.T) {
		path := filepath.Join(dir, "short.yaml")
		if err := os.WriteFile(path, []byte("tiers:\n  - {rank: 0, compliance_ceiling: 115}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadFile(path); err == nil {
			t.Fatal("expected error for incomplete table")
		}
	})
}
