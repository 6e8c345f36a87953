// Package store defines the persistence ports consumed by the domain
// services. Two backends implement them: the in-memory store in this
// package's memory subpackage and the SQLite repository in internal/storage.
//
// Every method is an atomic unit: it either fully applies or leaves state
// unchanged. Update methods run their callback inside the backend's own
// atomic boundary (mutex or transaction), so read-modify-write sequences
// cannot interleave.
package store

import (
	"context"

	"limit/internal/core"
)

type (
	// RecordStore keeps the per-account monthly records plus the account
	// scalars that select and qualify them: the current period counter, the
	// baseline impulse latch and the per-period emergency flag.
	RecordStore interface {
		// CurrentPeriod returns the account's period counter, 0 for accounts
		// that have never been seen.
		CurrentPeriod(ctx context.Context, account string) (int64, error)

		// Record returns the record for an exact (account, period) key.
		Record(ctx context.Context, account string, period int64) (core.MonthlyRecord, error)

		// UpdateCurrentRecord mutates the record at the account's current
		// period, creating an empty one first if none exists yet. An error
		// from fn aborts the update with no effect.
		UpdateCurrentRecord(ctx context.Context, account string, fn func(*core.MonthlyRecord) error) error

		// Baseline returns the latched baseline impulse. set distinguishes a
		// latched zero from an unset baseline.
		Baseline(ctx context.Context, account string) (value int64, set bool, err error)

		// LatchBaseline stores the baseline only if it is still unset and
		// reports whether this call latched it.
		LatchBaseline(ctx context.Context, account string, value int64) (latched bool, err error)

		EmergencyUsed(ctx context.Context, account string, period int64) (bool, error)

		// MarkEmergencyUsed sets the per-period flag, failing with
		// core.ErrConflict when it is already set.
		MarkEmergencyUsed(ctx context.Context, account string, period int64) error

		// PendingEvaluations lists accounts whose current record has both a
		// budget and recorded spending but has not been evaluated.
		PendingEvaluations(ctx context.Context) ([]string, error)
	}

	// LedgerStore keeps reward ledger entries and the authorized-caller set.
	LedgerStore interface {
		// CreateEntry registers a new zero-balance entry, failing with
		// core.ErrConflict when the account already has one.
		CreateEntry(ctx context.Context, entry core.LedgerEntry) error

		// Entry returns an entry or core.ErrNotFound.
		Entry(ctx context.Context, account string) (core.LedgerEntry, error)

		// UpdateEntry mutates an existing entry. An error from fn aborts the
		// update with no effect.
		UpdateEntry(ctx context.Context, account string, fn func(*core.LedgerEntry) error) error

		IsAuthorized(ctx context.Context, caller string) (bool, error)
		Grant(ctx context.Context, caller string) error
		Revoke(ctx context.Context, caller string) error
	}

	// PolicyStore keeps the four tier policy rows.
	PolicyStore interface {
		Tiers(ctx context.Context) ([]core.TierRequirement, error)
		PutTier(ctx context.Context, tier core.TierRequirement) error
	}

	VaultStore interface {
		Vaults(ctx context.Context, account string) ([]core.Vault, error)

		// Vault returns one vault or core.ErrNotFound.
		Vault(ctx context.Context, account string, id int) (core.Vault, error)

		// AppendVault stores a new vault and returns its assigned id
		// (account-scoped, counting from 0).
		AppendVault(ctx context.Context, vault core.Vault) (int, error)
	}

	ProofStore interface {
		SaveProof(ctx context.Context, proof core.EvaluationProof) error
		Proof(ctx context.Context, account string, period int64) (core.EvaluationProof, error)
	}

	// Applier hosts the two composite state transitions that must cross
	// record, ledger and vault state in a single atomic step.
	Applier interface {
		// ApplyEvaluation seals the record, credits the ledger entry, sets
		// tier and streak, advances the period counter and saves the proof.
		// It re-verifies inside the atomic boundary that apply.Period is
		// still the account's current, unevaluated period, so a duplicate
		// concurrent call fails with core.ErrPreconditionFailed instead of
		// double-applying.
		ApplyEvaluation(ctx context.Context, apply core.EvaluationApply) error

		// ApplyVaultDeposit debits the account's ledger entry and advances
		// the vault's progress, re-checking balance and vault state inside
		// the atomic boundary. Returns the updated vault and entry.
		ApplyVaultDeposit(ctx context.Context, account string, vaultID int, amount int64) (core.Vault, core.LedgerEntry, error)
	}

	// Store is the full persistence surface used by the service wiring.
	Store interface {
		RecordStore
		LedgerStore
		PolicyStore
		VaultStore
		ProofStore
		Applier

		Close() error
	}
)
