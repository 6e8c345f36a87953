package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"limit/internal/core"
)

type tierFile struct {
	Tiers []tierRow `yaml:"tiers"`
}

type tierRow struct {
	Rank                  int   `yaml:"rank"`
	ComplianceCeiling     int64 `yaml:"compliance_ceiling"`
	ImpulseReductionFloor int64 `yaml:"impulse_reduction_floor"`
	EmergencyFundFloor    int64 `yaml:"emergency_fund_floor"`
	RewardAmount          int64 `yaml:"reward_amount"`
	StreakRequirement     int64 `yaml:"streak_requirement"`
}

// LoadFile reads a YAML tier table. A missing file yields the default table;
// a present file must define all four ranks exactly once.
func LoadFile(path string) ([]core.TierRequirement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return core.DefaultTiers(), nil
		}
		return nil, fmt.Errorf("read tier policy: %w", err)
	}

	var f tierFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tier policy: %w", err)
	}
	if len(f.Tiers) != core.TierCount {
		return nil, fmt.Errorf("tier policy defines %d ranks, want %d", len(f.Tiers), core.TierCount)
	}

	tiers := make([]core.TierRequirement, core.TierCount)
	seen := make(map[int]bool, core.TierCount)
	for _, row := range f.Tiers {
		tr := core.TierRequirement{
			Rank:                  row.Rank,
			ComplianceCeiling:     row.ComplianceCeiling,
			ImpulseReductionFloor: row.ImpulseReductionFloor,
			EmergencyFundFloor:    row.EmergencyFundFloor,
			RewardAmount:          row.RewardAmount,
			StreakRequirement:     row.StreakRequirement,
		}
		if err := tr.Validate(); err != nil {
			return nil, err
		}
		if seen[tr.Rank] {
			return nil, fmt.Errorf("tier policy defines rank %d twice", tr.Rank)
		}
		seen[tr.Rank] = true
		tiers[tr.Rank] = tr
	}
	return tiers, nil
}
