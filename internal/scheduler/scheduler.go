// Package scheduler enqueues evaluation jobs on a cron cadence.
//
// The scheduler does not evaluate anything itself: it lists the accounts
// whose current record is complete and publishes one job per account, and
// the worker performs the actual evaluation. Duplicate jobs are harmless
// because the evaluation apply is single-shot per period.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"limit/internal/events"
	"limit/internal/store"
)

type Publisher interface {
	PublishEvaluationJob(ctx context.Context, msg *events.EvaluationJobMessage) error
}

type Scheduler struct {
	cron      *cron.Cron
	store     store.Store
	publisher Publisher
	logger    *slog.Logger
}

func New(st store.Store, pub Publisher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		store:     st,
		publisher: pub,
		logger:    logger,
	}
}

// Register adds the periodic sweep at the given cron spec.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("register evaluation sweep: %w", err)
	}
	return nil
}

// Start begins firing registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// Sweep publishes one evaluation job for every account whose current
// record is ready. It is also invoked directly for manual runs.
func (s *Scheduler) Sweep(ctx context.Context) {
	accounts, err := s.store.PendingEvaluations(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "list pending evaluations failed", "error", err)
		return
	}
	if len(accounts) == 0 {
		s.logger.InfoContext(ctx, "no accounts pending evaluation")
		return
	}

	published := 0
	for _, account := range accounts {
		msg := events.NewEvaluationJobMessage(account)
		if err := s.publisher.PublishEvaluationJob(ctx, msg); err != nil {
			s.logger.ErrorContext(ctx, "publish evaluation job failed",
				"account", account, "job_id", msg.JobID, "error", err)
			continue
		}
		published++
	}
	s.logger.InfoContext(ctx, "evaluation sweep completed",
		"pending", len(accounts), "published", published)
}
