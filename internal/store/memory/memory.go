// Package memory provides the in-memory store backend. It is the default
// backend for local runs and the test double for every service package.
package memory

import (
	"context"
	"sort"
	"sync"

	"limit/internal/core"
)

type Store struct {
	mu sync.Mutex

	periods      map[string]int64
	records      map[string]map[int64]core.MonthlyRecord
	baselines    map[string]int64
	baselineSet  map[string]bool
	emergencyUse map[string]map[int64]bool

	entries    map[string]core.LedgerEntry
	authorized map[string]bool

	tiers []core.TierRequirement

	vaults map[string][]core.Vault
	proofs map[string]map[int64]core.EvaluationProof
}

// New returns an empty store seeded with the given policy table. A nil tiers
// slice seeds the defaults.
func New(tiers []core.TierRequirement) *Store {
	if tiers == nil {
		tiers = core.DefaultTiers()
	}
	seeded := make([]core.TierRequirement, len(tiers))
	copy(seeded, tiers)
	return &Store{
		periods:      make(map[string]int64),
		records:      make(map[string]map[int64]core.MonthlyRecord),
		baselines:    make(map[string]int64),
		baselineSet:  make(map[string]bool),
		emergencyUse: make(map[string]map[int64]bool),
		entries:      make(map[string]core.LedgerEntry),
		authorized:   make(map[string]bool),
		tiers:        seeded,
		vaults:       make(map[string][]core.Vault),
		proofs:       make(map[string]map[int64]core.EvaluationProof),
	}
}

func (s *Store) Close() error { return nil }

// --- RecordStore ---

func (s *Store) CurrentPeriod(_ context.Context, account string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.periods[account], nil
}

func (s *Store) Record(_ context.Context, account string, period int64) (core.MonthlyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[account][period]
	if !ok {
		return core.MonthlyRecord{}, core.Wrapf(core.ErrNotFound, "no record for account %s period %d", account, period)
	}
	return rec, nil
}

func (s *Store) UpdateCurrentRecord(_ context.Context, account string, fn func(*core.MonthlyRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	period := s.periods[account]
	rec, ok := s.records[account][period]
	if !ok {
		rec = core.MonthlyRecord{Account: account, Period: period}
	}
	if err := fn(&rec); err != nil {
		return err
	}
	if s.records[account] == nil {
		s.records[account] = make(map[int64]core.MonthlyRecord)
	}
	s.records[account][period] = rec
	return nil
}

func (s *Store) Baseline(_ context.Context, account string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baselines[account], s.baselineSet[account], nil
}

func (s *Store) LatchBaseline(_ context.Context, account string, value int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baselineSet[account] {
		return false, nil
	}
	s.baselines[account] = value
	s.baselineSet[account] = true
	return true, nil
}

func (s *Store) EmergencyUsed(_ context.Context, account string, period int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emergencyUse[account][period], nil
}

func (s *Store) MarkEmergencyUsed(_ context.Context, account string, period int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emergencyUse[account][period] {
		return core.Wrapf(core.ErrConflict, "emergency already used in period %d", period)
	}
	if s.emergencyUse[account] == nil {
		s.emergencyUse[account] = make(map[int64]bool)
	}
	s.emergencyUse[account][period] = true
	return nil
}

func (s *Store) PendingEvaluations(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for account, period := range s.periods {
		rec, ok := s.records[account][period]
		if !ok {
			continue
		}
		if rec.BudgetSet() && rec.SpendingRecorded() && !rec.Evaluated {
			out = append(out, account)
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- LedgerStore ---

func (s *Store) CreateEntry(_ context.Context, entry core.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.Account]; ok {
		return core.Wrapf(core.ErrConflict, "account %s already has a ledger entry", entry.Account)
	}
	s.entries[entry.Account] = entry
	return nil
}

func (s *Store) Entry(_ context.Context, account string) (core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryLocked(account)
}

func (s *Store) entryLocked(account string) (core.LedgerEntry, error) {
	entry, ok := s.entries[account]
	if !ok {
		return core.LedgerEntry{}, core.Wrapf(core.ErrNotFound, "no ledger entry for account %s", account)
	}
	return entry, nil
}

func (s *Store) UpdateEntry(_ context.Context, account string, fn func(*core.LedgerEntry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.entryLocked(account)
	if err != nil {
		return err
	}
	if err := fn(&entry); err != nil {
		return err
	}
	s.entries[account] = entry
	return nil
}

func (s *Store) IsAuthorized(_ context.Context, caller string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized[caller], nil
}

func (s *Store) Grant(_ context.Context, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized[caller] = true
	return nil
}

func (s *Store) Revoke(_ context.Context, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.authorized, caller)
	return nil
}

// --- PolicyStore ---

func (s *Store) Tiers(_ context.Context) ([]core.TierRequirement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.TierRequirement, len(s.tiers))
	copy(out, s.tiers)
	return out, nil
}

func (s *Store) PutTier(_ context.Context, tier core.TierRequirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tier.Rank < 0 || tier.Rank >= len(s.tiers) {
		return core.Wrapf(core.ErrInvalidInput, "tier rank %d out of range", tier.Rank)
	}
	s.tiers[tier.Rank] = tier
	return nil
}

// --- VaultStore ---

func (s *Store) Vaults(_ context.Context, account string) ([]core.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Vault, len(s.vaults[account]))
	copy(out, s.vaults[account])
	return out, nil
}

func (s *Store) Vault(_ context.Context, account string, id int) (core.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vaultLocked(account, id)
}

func (s *Store) vaultLocked(account string, id int) (core.Vault, error) {
	vs := s.vaults[account]
	if id < 0 || id >= len(vs) {
		return core.Vault{}, core.Wrapf(core.ErrNotFound, "no vault %d for account %s", id, account)
	}
	return vs[id], nil
}

func (s *Store) AppendVault(_ context.Context, vault core.Vault) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vault.ID = len(s.vaults[vault.Account])
	s.vaults[vault.Account] = append(s.vaults[vault.Account], vault)
	return vault.ID, nil
}

// --- ProofStore ---

func (s *Store) SaveProof(_ context.Context, proof core.EvaluationProof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proofs[proof.Account] == nil {
		s.proofs[proof.Account] = make(map[int64]core.EvaluationProof)
	}
	s.proofs[proof.Account][proof.Period] = proof
	return nil
}

func (s *Store) Proof(_ context.Context, account string, period int64) (core.EvaluationProof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proof, ok := s.proofs[account][period]
	if !ok {
		return core.EvaluationProof{}, core.Wrapf(core.ErrNotFound, "no proof for account %s period %d", account, period)
	}
	return proof, nil
}

// --- Applier ---

func (s *Store) ApplyEvaluation(_ context.Context, apply core.EvaluationApply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.periods[apply.Account] != apply.Period {
		return core.Wrapf(core.ErrPreconditionFailed, "period %d is no longer current", apply.Period)
	}
	rec, ok := s.records[apply.Account][apply.Period]
	if !ok || rec.Evaluated {
		return core.Wrapf(core.ErrPreconditionFailed, "period %d already evaluated", apply.Period)
	}
	entry, err := s.entryLocked(apply.Account)
	if err != nil {
		return err
	}

	balance, err := core.AddChecked(entry.Balance, apply.Reward)
	if err != nil {
		return err
	}
	total, err := core.AddChecked(entry.TotalEarned, apply.Reward)
	if err != nil {
		return err
	}

	rec.Evaluated = true
	entry.Balance = balance
	entry.TotalEarned = total
	entry.CurrentTier = apply.Tier
	entry.ConsecutiveMonths = apply.Streak
	entry.LastRewardTime = apply.RewardTime

	s.records[apply.Account][apply.Period] = rec
	s.entries[apply.Account] = entry
	s.periods[apply.Account] = apply.Period + 1
	if s.proofs[apply.Account] == nil {
		s.proofs[apply.Account] = make(map[int64]core.EvaluationProof)
	}
	s.proofs[apply.Account][apply.Period] = apply.Proof
	return nil
}

func (s *Store) ApplyVaultDeposit(_ context.Context, account string, vaultID int, amount int64) (core.Vault, core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.vaultLocked(account, vaultID)
	if err != nil {
		return core.Vault{}, core.LedgerEntry{}, err
	}
	if !vault.Active {
		return core.Vault{}, core.LedgerEntry{}, core.Wrapf(core.ErrConflict, "vault %d is inactive", vaultID)
	}
	entry, err := s.entryLocked(account)
	if err != nil {
		return core.Vault{}, core.LedgerEntry{}, err
	}
	if entry.Balance < amount {
		return core.Vault{}, core.LedgerEntry{}, core.Wrapf(core.ErrInsufficientBalance, "balance %d below deposit %d", entry.Balance, amount)
	}
	scaled, err := core.MulChecked(amount, core.VaultScaleFactor)
	if err != nil {
		return core.Vault{}, core.LedgerEntry{}, err
	}
	progress, err := core.AddChecked(vault.CurrentAmount, scaled)
	if err != nil {
		return core.Vault{}, core.LedgerEntry{}, err
	}
	spent, err := core.AddChecked(vault.TokensSpent, amount)
	if err != nil {
		return core.Vault{}, core.LedgerEntry{}, err
	}

	entry.Balance -= amount
	vault.CurrentAmount = progress
	vault.TokensSpent = spent

	s.entries[account] = entry
	s.vaults[account][vaultID] = vault
	return vault, entry, nil
}
