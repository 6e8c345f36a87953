// Package worker consumes evaluation jobs and runs them through the engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"limit/internal/core"
	"limit/internal/engine"
	"limit/internal/events"
	"limit/internal/store"
)

// EvaluationWorker executes queued evaluation jobs. Jobs are idempotent at
// the store level: a record can be sealed once, so replays and duplicate
// deliveries degrade to precondition failures.
type EvaluationWorker struct {
	engine  *engine.Service
	store   store.Store
	timeout time.Duration
}

func NewEvaluationWorker(eng *engine.Service, st store.Store, timeout time.Duration) *EvaluationWorker {
	return &EvaluationWorker{
		engine:  eng,
		store:   st,
		timeout: timeout,
	}
}

// HandleJob processes a single evaluation job from the queue.
//
// Terminal outcomes (already evaluated, unknown account, incomplete record)
// return nil so the message is acked instead of requeued forever; only
// transient failures propagate and trigger a redelivery.
func (w *EvaluationWorker) HandleJob(ctx context.Context, msg *events.EvaluationJobMessage) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	slog.InfoContext(ctx, "Processing evaluation job",
		"job_id", msg.JobID,
		"account", msg.Account)

	out, err := w.engine.CalculateRewards(ctx, msg.Account, time.Now())
	if err != nil {
		if errors.Is(err, core.ErrPreconditionFailed) ||
			errors.Is(err, core.ErrUnauthorized) ||
			errors.Is(err, core.ErrNotFound) ||
			errors.Is(err, core.ErrInvalidInput) {
			slog.WarnContext(ctx, "Evaluation job skipped",
				"job_id", msg.JobID,
				"account", msg.Account,
				"reason", err)
			return nil
		}
		return fmt.Errorf("evaluate %s: %w", msg.Account, err)
	}

	slog.InfoContext(ctx, "Evaluation job completed",
		"job_id", msg.JobID,
		"account", out.Account,
		"period", out.Period,
		"tier", out.Tier,
		"reward", out.Reward)
	return nil
}

// StartupCheck evaluates any accounts left ready by missed jobs or worker
// downtime. It is a recovery sweep, not the primary path.
func (w *EvaluationWorker) StartupCheck(ctx context.Context) error {
	accounts, err := w.store.PendingEvaluations(ctx)
	if err != nil {
		return fmt.Errorf("list pending evaluations for startup check: %w", err)
	}
	if len(accounts) == 0 {
		slog.InfoContext(ctx, "No pending evaluations found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending evaluations on startup, processing...",
		"count", len(accounts))

	evaluated := 0
	skipped := 0
	for _, account := range accounts {
		if err := w.HandleJob(ctx, events.NewEvaluationJobMessage(account)); err != nil {
			slog.ErrorContext(ctx, "Startup evaluation failed",
				"account", account, "error", err)
			skipped++
			continue
		}
		evaluated++
	}

	slog.InfoContext(ctx, "Startup check completed",
		"total", len(accounts),
		"evaluated", evaluated,
		"errors", skipped)
	return nil
}
