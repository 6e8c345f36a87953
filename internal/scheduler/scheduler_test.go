package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"limit/internal/core"
	"limit/internal/events"
	"limit/internal/ledger"
	"limit/internal/records"
	"limit/internal/store/memory"
)

type capturePublisher struct {
	jobs []*events.EvaluationJobMessage
	fail bool
}

func (p *capturePublisher) PublishEvaluationJob(_ context.Context, msg *events.EvaluationJobMessage) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.jobs = append(p.jobs, msg)
	return nil
}

func TestSweepPublishesPendingAccounts(t *testing.T) {
	ctx := context.Background()
	st := memory.New(core.DefaultTiers())
	led := ledger.NewService(st, "owner")
	rec := records.NewService(st)
	now := time.Now()

	// alice is ready for evaluation, bob has no spending yet.
	for _, account := range []string{"alice", "bob"} {
		if _, err := led.Register(ctx, account); err != nil {
			t.Fatalf("Register %s: %v", account, err)
		}
		if err := rec.SetBudget(ctx, account, 3000, now); err != nil {
			t.Fatalf("SetBudget %s: %v", account, err)
		}
	}
	if err := rec.RecordSpending(ctx, "alice", 2800, 200, now); err != nil {
		t.Fatalf("RecordSpending: %v", err)
	}

	pub := &capturePublisher{}
	sched := New(st, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sched.Sweep(ctx)

	if len(pub.jobs) != 1 {
		t.Fatalf("published %d jobs, want 1", len(pub.jobs))
	}
	job := pub.jobs[0]
	if job.Account != "alice" {
		t.Errorf("job account = %q, want alice", job.Account)
	}
	if job.JobID == "" {
		t.Error("job id not set")
	}
}

func TestSweepToleratesPublishFailure(t *testing.T) {
	ctx := context.Background()
	st := memory.New(core.DefaultTiers())
	led := ledger.NewService(st, "owner")
	rec := records.NewService(st)
	now := time.Now()

	if _, err := led.Register(ctx, "alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := rec.SetBudget(ctx, "alice", 3000, now); err != nil {
		t.Fatalf("SetBudget: %v", err)
	}
	if err := rec.RecordSpending(ctx, "alice", 2800, 200, now); err != nil {
		t.Fatalf("RecordSpending: %v", err)
	}

	pub := &capturePublisher{fail: true}
	sched := New(st, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sched.Sweep(ctx) // must not panic or abort

	if len(pub.jobs) != 0 {
		t.Fatalf("published %d jobs, want 0", len(pub.jobs))
	}
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	sched := New(memory.New(core.DefaultTiers()), &capturePublisher{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := sched.Register("not a cron spec"); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
	if err := sched.Register("0 0 1 * *"); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}
