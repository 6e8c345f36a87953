// Package policy owns the tier requirement table: seeding, administrative
// updates and the top-down tier selection used by the evaluation engine.
package policy

import (
	"context"
	"fmt"
	"log/slog"

	"limit/internal/core"
	"limit/internal/store"
)

// Service wraps the policy store with the administrative gate.
type Service struct {
	store store.PolicyStore
	admin string
}

func NewService(st store.PolicyStore, adminID string) *Service {
	return &Service{store: st, admin: adminID}
}

// Tiers returns the current table in rank order.
func (s *Service) Tiers(ctx context.Context) ([]core.TierRequirement, error) {
	tiers, err := s.store.Tiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tiers: %w", err)
	}
	return tiers, nil
}

// Update overwrites one policy row. Only the administrator may call it.
// No ordering constraint across ranks is enforced; the selection scan gives
// higher ranks priority regardless of how the table is configured.
func (s *Service) Update(ctx context.Context, caller string, tier core.TierRequirement) error {
	if caller != s.admin {
		return core.Wrapf(core.ErrUnauthorized, "caller %s may not update tier policy", caller)
	}
	if err := tier.Validate(); err != nil {
		return err
	}
	if err := s.store.PutTier(ctx, tier); err != nil {
		return fmt.Errorf("store tier %d: %w", tier.Rank, err)
	}
	slog.InfoContext(ctx, "Tier requirement updated",
		"rank", tier.Rank,
		"compliance_ceiling", tier.ComplianceCeiling,
		"impulse_reduction_floor", tier.ImpulseReductionFloor,
		"emergency_fund_floor", tier.EmergencyFundFloor,
		"reward_amount", tier.RewardAmount)
	return nil
}

// Select scans ranks from highest to lowest nonzero and returns the first
// rank whose three thresholds are all satisfied, defaulting to rank 0.
// The linear descending scan is deliberate: with a non-monotonic table the
// first matching rank wins, so the order cannot be replaced by a search
// over sorted thresholds.
func (s *Service) Select(ctx context.Context, compliancePercent, reductionPercent, fundMonths int64) (core.TierRequirement, error) {
	tiers, err := s.store.Tiers(ctx)
	if err != nil {
		return core.TierRequirement{}, fmt.Errorf("load tiers: %w", err)
	}
	if len(tiers) != core.TierCount {
		return core.TierRequirement{}, fmt.Errorf("policy table has %d ranks, want %d", len(tiers), core.TierCount)
	}
	for rank := core.TierCount - 1; rank >= 1; rank-- {
		tr := tiers[rank]
		if compliancePercent <= tr.ComplianceCeiling &&
			reductionPercent >= tr.ImpulseReductionFloor &&
			fundMonths >= tr.EmergencyFundFloor {
			return tr, nil
		}
	}
	return tiers[0], nil
}
