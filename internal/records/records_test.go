package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"limit/internal/core"
	"limit/internal/store/memory"
)

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(memory.New(nil))
}

var now = time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)

func TestSetBudget(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if err := svc.SetBudget(ctx, "alice", 0, now); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero budget, got %v", err)
	}
	if err := svc.SetBudget(ctx, "alice", -100, now); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative budget, got %v", err)
	}

	if err := svc.SetBudget(ctx, "alice", 3000, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Re-setting before evaluation overwrites.
	if err := svc.SetBudget(ctx, "alice", 3500, now.Add(time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, err := svc.Status(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Record.Budget != 3500 || st.Period != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if !st.Record.UpdatedAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("timestamp not refreshed: %v", st.Record.UpdatedAt)
	}
}

func TestRecordSpendingPreconditions(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if err := svc.RecordSpending(ctx, "alice", 2800, 200, now); !errors.Is(err, core.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed without budget, got %v", err)
	}

	if err := svc.SetBudget(ctx, "alice", 3000, now); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordSpending(ctx, "alice", 0, 200, now); !errors.Is(err, core.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed for zero actual, got %v", err)
	}
	if err := svc.RecordSpending(ctx, "alice", 2800, -1, now); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative impulse, got %v", err)
	}

	if err := svc.RecordSpending(ctx, "alice", 2800, 200, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ := svc.Status(ctx, "alice")
	if st.Record.ActualSpent != 2800 || st.Record.ImpulseSpent != 200 {
		t.Fatalf("unexpected record: %+v", st.Record)
	}
}

func TestBaselineLatchesOnFirstSubmissionOnly(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if err := svc.SetBudget(ctx, "alice", 3000, now); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordSpending(ctx, "alice", 2800, 200, now); err != nil {
		t.Fatal(err)
	}
	st, _ := svc.Status(ctx, "alice")
	if !st.BaselineSet || st.Baseline != 200 {
		t.Fatalf("baseline = %d set=%v, want latched 200", st.Baseline, st.BaselineSet)
	}

	// Overwriting spending within the period does not move the baseline.
	if err := svc.RecordSpending(ctx, "alice", 2900, 500, now); err != nil {
		t.Fatal(err)
	}
	st, _ = svc.Status(ctx, "alice")
	if st.Baseline != 200 {
		t.Fatalf("baseline moved to %d", st.Baseline)
	}
}

func TestBaselineZeroIsAValidLatch(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if err := svc.SetBudget(ctx, "bob", 3000, now); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordSpending(ctx, "bob", 2800, 0, now); err != nil {
		t.Fatal(err)
	}
	st, _ := svc.Status(ctx, "bob")
	if !st.BaselineSet || st.Baseline != 0 {
		t.Fatalf("baseline = %d set=%v, want latched 0", st.Baseline, st.BaselineSet)
	}

	if err := svc.RecordSpending(ctx, "bob", 2800, 300, now); err != nil {
		t.Fatal(err)
	}
	st, _ = svc.Status(ctx, "bob")
	if st.Baseline != 0 {
		t.Fatalf("latched zero baseline moved to %d", st.Baseline)
	}
}

func TestSetEmergencyFundMonths(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if err := svc.SetEmergencyFundMonths(ctx, "alice", -1, now); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	// No budget required; the write is unconditional.
	if err := svc.SetEmergencyFundMonths(ctx, "alice", 6, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ := svc.Status(ctx, "alice")
	if st.Record.EmergencyFundMonths != 6 {
		t.Fatalf("coverage = %d, want 6", st.Record.EmergencyFundMonths)
	}
}

func TestUseEmergencyConflictsWithinPeriod(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if err := svc.UseEmergency(ctx, "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.UseEmergency(ctx, "alice"); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	st, _ := svc.Status(ctx, "alice")
	if !st.EmergencyUsed {
		t.Fatal("emergency flag not visible in status")
	}
}

func TestHistoryRejectsNegativePeriod(t *testing.T) {
	svc := newService(t)
	if _, err := svc.History(context.Background(), "alice", -1); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
