package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"limit/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "limit.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestMigrationsSeedDefaultTiers(t *testing.T) {
	repo := newTestRepo(t)

	tiers, err := repo.Tiers(context.Background())
	if err != nil {
		t.Fatalf("Tiers: %v", err)
	}
	if len(tiers) != core.TierCount {
		t.Fatalf("tier count = %d, want %d", len(tiers), core.TierCount)
	}
	want := core.DefaultTiers()
	for i, tr := range tiers {
		if tr != want[i] {
			t.Errorf("tier %d = %+v, want %+v", i, tr, want[i])
		}
	}
}

func TestRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now()

	period, err := repo.CurrentPeriod(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if period != 0 {
		t.Errorf("fresh account period = %d, want 0", period)
	}

	if _, err := repo.Record(ctx, "alice", 0); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("missing record err = %v, want ErrNotFound", err)
	}

	err = repo.UpdateCurrentRecord(ctx, "alice", func(rec *core.MonthlyRecord) error {
		rec.Budget = 3000
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateCurrentRecord: %v", err)
	}

	rec, err := repo.Record(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Budget != 3000 {
		t.Errorf("budget = %d, want 3000", rec.Budget)
	}
	if !rec.UpdatedAt.Equal(now) {
		t.Errorf("updated_at = %v, want %v", rec.UpdatedAt, now)
	}

	// An error from the callback aborts the write.
	boom := errors.New("boom")
	err = repo.UpdateCurrentRecord(ctx, "alice", func(rec *core.MonthlyRecord) error {
		rec.Budget = 9999
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	rec, err = repo.Record(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Budget != 3000 {
		t.Errorf("aborted update changed budget to %d", rec.Budget)
	}
}

func TestBaselineLatch(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if _, set, _ := repo.Baseline(ctx, "bob"); set {
		t.Fatal("fresh account baseline should be unset")
	}

	latched, err := repo.LatchBaseline(ctx, "bob", 200)
	if err != nil {
		t.Fatal(err)
	}
	if !latched {
		t.Error("first latch should succeed")
	}

	latched, err = repo.LatchBaseline(ctx, "bob", 500)
	if err != nil {
		t.Fatal(err)
	}
	if latched {
		t.Error("second latch should be a no-op")
	}

	value, set, err := repo.Baseline(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !set || value != 200 {
		t.Errorf("baseline = %d/%v, want 200/true", value, set)
	}
}

func TestMarkEmergencyUsedConflict(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if err := repo.MarkEmergencyUsed(ctx, "carol", 0); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkEmergencyUsed(ctx, "carol", 0); !errors.Is(err, core.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	// A new period gets a fresh flag.
	if err := repo.MarkEmergencyUsed(ctx, "carol", 1); err != nil {
		t.Errorf("new period should accept emergency use: %v", err)
	}
}

func TestLedgerEntryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	entry := core.LedgerEntry{Account: "dave", Active: true}
	if err := repo.CreateEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateEntry(ctx, entry); !errors.Is(err, core.ErrConflict) {
		t.Errorf("duplicate create err = %v, want ErrConflict", err)
	}

	err := repo.UpdateEntry(ctx, "dave", func(e *core.LedgerEntry) error {
		e.Balance = 10
		e.TotalEarned = 10
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := repo.Entry(ctx, "dave")
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance != 10 || got.TotalEarned != 10 || !got.Active {
		t.Errorf("entry = %+v", got)
	}
}

func TestAuthorizedCallers(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if ok, _ := repo.IsAuthorized(ctx, "engine"); ok {
		t.Fatal("caller should start unauthorized")
	}
	if err := repo.Grant(ctx, "engine"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.IsAuthorized(ctx, "engine"); !ok {
		t.Error("granted caller should be authorized")
	}
	if err := repo.Revoke(ctx, "engine"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.IsAuthorized(ctx, "engine"); ok {
		t.Error("revoked caller should not be authorized")
	}
}

func TestApplyEvaluation(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now()

	if err := repo.CreateEntry(ctx, core.LedgerEntry{Account: "erin", Active: true}); err != nil {
		t.Fatal(err)
	}
	err := repo.UpdateCurrentRecord(ctx, "erin", func(rec *core.MonthlyRecord) error {
		rec.Budget = 3000
		rec.ActualSpent = 2800
		rec.ImpulseSpent = 200
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	apply := core.EvaluationApply{
		Account:    "erin",
		Period:     0,
		Reward:     10,
		Tier:       0,
		Streak:     1,
		RewardTime: now,
		Proof: core.EvaluationProof{
			ID: "proof-1", Account: "erin", Period: 0, Tier: 0, Reward: 10, GeneratedAt: now,
		},
	}
	if err := repo.ApplyEvaluation(ctx, apply); err != nil {
		t.Fatalf("ApplyEvaluation: %v", err)
	}

	entry, err := repo.Entry(ctx, "erin")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Balance != 10 || entry.TotalEarned != 10 || entry.ConsecutiveMonths != 1 {
		t.Errorf("entry = %+v", entry)
	}

	rec, err := repo.Record(ctx, "erin", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Evaluated {
		t.Error("record should be sealed")
	}

	period, err := repo.CurrentPeriod(ctx, "erin")
	if err != nil {
		t.Fatal(err)
	}
	if period != 1 {
		t.Errorf("period = %d, want 1", period)
	}

	proof, err := repo.Proof(ctx, "erin", 0)
	if err != nil {
		t.Fatal(err)
	}
	if proof.ID != "proof-1" {
		t.Errorf("proof id = %q", proof.ID)
	}

	// Replaying the same apply must fail without a second credit.
	if err := repo.ApplyEvaluation(ctx, apply); !errors.Is(err, core.ErrPreconditionFailed) {
		t.Errorf("replay err = %v, want ErrPreconditionFailed", err)
	}
	entry, _ = repo.Entry(ctx, "erin")
	if entry.TotalEarned != 10 {
		t.Errorf("replay credited again: total = %d", entry.TotalEarned)
	}
}

func TestApplyVaultDeposit(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now()

	if err := repo.CreateEntry(ctx, core.LedgerEntry{Account: "frank", Balance: 40, TotalEarned: 40, Active: true}); err != nil {
		t.Fatal(err)
	}
	id, err := repo.AppendVault(ctx, core.Vault{
		Account:      "frank",
		Type:         core.VaultSavings,
		TargetAmount: 10000,
		CreatedAt:    now,
		TargetDate:   now.AddDate(1, 0, 0),
		Active:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != 0 {
		t.Errorf("first vault id = %d, want 0", id)
	}

	vault, entry, err := repo.ApplyVaultDeposit(ctx, "frank", id, 30)
	if err != nil {
		t.Fatalf("ApplyVaultDeposit: %v", err)
	}
	if vault.CurrentAmount != 30*core.VaultScaleFactor || vault.TokensSpent != 30 {
		t.Errorf("vault = %+v", vault)
	}
	if entry.Balance != 10 {
		t.Errorf("balance = %d, want 10", entry.Balance)
	}

	if _, _, err := repo.ApplyVaultDeposit(ctx, "frank", id, 11); !errors.Is(err, core.ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
	if _, _, err := repo.ApplyVaultDeposit(ctx, "frank", 5, 1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPendingEvaluations(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	setRecord := func(account string, budget, actual int64) {
		t.Helper()
		err := repo.UpdateCurrentRecord(ctx, account, func(rec *core.MonthlyRecord) error {
			rec.Budget = budget
			rec.ActualSpent = actual
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	setRecord("zed", 1000, 900)  // ready
	setRecord("amy", 1000, 0)    // no spending yet
	setRecord("bea", 2000, 1500) // ready

	pending, err := repo.PendingEvaluations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"bea", "zed"}
	if len(pending) != len(want) {
		t.Fatalf("pending = %v, want %v", pending, want)
	}
	for i := range want {
		if pending[i] != want[i] {
			t.Errorf("pending[%d] = %q, want %q", i, pending[i], want[i])
		}
	}
}
