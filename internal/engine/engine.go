// Package engine runs the monthly evaluation: it reads the account's current
// record and baseline, selects a tier, applies the emergency penalty, credits
// the reward ledger and advances the account to its next period, all as one
// atomic store operation.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"limit/internal/core"
	"limit/internal/events"
	"limit/internal/ledger"
	"limit/internal/policy"
	"limit/internal/records"
	"limit/internal/store"
)

// Publisher emits the discrete events an evaluation produces. Satisfied by
// events.Client; a nil Publisher disables emission so tests run without a
// broker.
type Publisher interface {
	PublishRewardCredited(ctx context.Context, msg *events.RewardCreditedMessage) error
	PublishTierChanged(ctx context.Context, msg *events.TierChangedMessage) error
	PublishStreakUpdated(ctx context.Context, msg *events.StreakUpdatedMessage) error
	PublishPeriodAdvanced(ctx context.Context, msg *events.PeriodAdvancedMessage) error
}

type Service struct {
	store     store.Store
	policy    *policy.Service
	ledger    *ledger.Service
	records   *records.Service
	publisher Publisher
	logger    *slog.Logger

	// caller identifies the engine against the ledger's authorized-caller
	// set; it is granted at wiring time.
	caller string
}

func NewService(st store.Store, pol *policy.Service, led *ledger.Service, rec *records.Service, pub Publisher, caller string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		policy:    pol,
		ledger:    led,
		records:   rec,
		publisher: pub,
		caller:    caller,
		logger:    logger,
	}
}

// CalculateRewards evaluates the account's current period. Preconditions are
// checked in order, first failure wins: ledger entry registered, budget set,
// spending recorded, not already evaluated. After the preconditions pass the
// whole mutation commits atomically or not at all.
func (s *Service) CalculateRewards(ctx context.Context, account string, now time.Time) (core.EvaluationOutcome, error) {
	var out core.EvaluationOutcome

	if err := s.ledger.Authorize(ctx, s.caller); err != nil {
		return out, err
	}

	entry, err := s.store.Entry(ctx, account)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return out, core.Wrapf(core.ErrUnauthorized, "account %s has no ledger entry", account)
		}
		return out, err
	}

	period, err := s.store.CurrentPeriod(ctx, account)
	if err != nil {
		return out, err
	}

	record, err := s.store.Record(ctx, account, period)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return out, err
	}
	if !record.BudgetSet() {
		return out, core.Wrapf(core.ErrPreconditionFailed, "no budget set for account %s period %d", account, period)
	}
	if !record.SpendingRecorded() {
		return out, core.Wrapf(core.ErrPreconditionFailed, "no spending recorded for account %s period %d", account, period)
	}
	if record.Evaluated {
		return out, core.Wrapf(core.ErrPreconditionFailed, "period %d already evaluated for account %s", period, account)
	}

	baseline, _, err := s.store.Baseline(ctx, account)
	if err != nil {
		return out, err
	}
	emergencyUsed, err := s.store.EmergencyUsed(ctx, account, period)
	if err != nil {
		return out, err
	}

	compliance := core.CompliancePercent(record.ActualSpent, record.Budget)
	reduction := core.ReductionPercent(record.ImpulseSpent, baseline)

	tier, err := s.policy.Select(ctx, compliance, reduction, record.EmergencyFundMonths)
	if err != nil {
		return out, err
	}

	reward := tier.RewardAmount
	if emergencyUsed {
		reward = core.HalveReward(reward)
	}

	streak := s.streakAfter(ctx, account, period)

	proof := core.EvaluationProof{
		ID:          uuid.NewString(),
		Account:     account,
		Period:      period,
		Tier:        tier.Rank,
		Reward:      reward,
		GeneratedAt: now,
	}

	apply := core.EvaluationApply{
		Account:    account,
		Period:     period,
		Reward:     reward,
		Tier:       tier.Rank,
		Streak:     streak,
		RewardTime: now,
		Proof:      proof,
	}
	if err := s.store.ApplyEvaluation(ctx, apply); err != nil {
		return out, err
	}

	out = core.EvaluationOutcome{
		Account:           account,
		Period:            period,
		CompliancePercent: compliance,
		ReductionPercent:  reduction,
		Tier:              tier.Rank,
		Reward:            reward,
		EmergencyPenalty:  emergencyUsed,
		Streak:            streak,
		NextPeriod:        period + 1,
		EvaluatedAt:       now,
	}

	s.logger.InfoContext(ctx, "period evaluated",
		"account", account,
		"period", period,
		"tier", tier.Rank,
		"reward", reward,
		"compliance", compliance,
		"reduction", reduction,
		"streak", streak,
		"halved", emergencyUsed,
	)

	s.emit(ctx, out, entry)

	return out, nil
}

// streakAfter computes the streak length the account holds once the given
// period is evaluated. Period 0 always yields 1. For later periods the
// immediately preceding record is inspected: an evaluated predecessor
// continues the streak, anything else resets it to 1. Periods only advance
// through evaluation, so the reset branch fires only if history is trimmed or
// imported out of band.
func (s *Service) streakAfter(ctx context.Context, account string, period int64) int64 {
	if period == 0 {
		return 1
	}
	prev, err := s.store.Record(ctx, account, period-1)
	if err != nil || !prev.Evaluated {
		return 1
	}
	return period + 1
}

func (s *Service) emit(ctx context.Context, out core.EvaluationOutcome, before core.LedgerEntry) {
	if s.publisher == nil {
		return
	}

	balance, err := core.AddChecked(before.Balance, out.Reward)
	if err != nil {
		balance = before.Balance
	}
	total, err := core.AddChecked(before.TotalEarned, out.Reward)
	if err != nil {
		total = before.TotalEarned
	}

	if err := s.publisher.PublishRewardCredited(ctx, &events.RewardCreditedMessage{
		Account:     out.Account,
		Period:      out.Period,
		Reward:      out.Reward,
		Halved:      out.EmergencyPenalty,
		Balance:     balance,
		TotalEarned: total,
	}); err != nil {
		s.logger.WarnContext(ctx, "publish reward credited failed", "account", out.Account, "error", err)
	}
	if err := s.publisher.PublishTierChanged(ctx, &events.TierChangedMessage{
		Account:           out.Account,
		Period:            out.Period,
		Tier:              out.Tier,
		CompliancePercent: out.CompliancePercent,
		ReductionPercent:  out.ReductionPercent,
	}); err != nil {
		s.logger.WarnContext(ctx, "publish tier changed failed", "account", out.Account, "error", err)
	}
	if err := s.publisher.PublishStreakUpdated(ctx, &events.StreakUpdatedMessage{
		Account: out.Account,
		Period:  out.Period,
		Streak:  out.Streak,
	}); err != nil {
		s.logger.WarnContext(ctx, "publish streak updated failed", "account", out.Account, "error", err)
	}
	if err := s.publisher.PublishPeriodAdvanced(ctx, &events.PeriodAdvancedMessage{
		Account:    out.Account,
		FromPeriod: out.Period,
		ToPeriod:   out.NextPeriod,
	}); err != nil {
		s.logger.WarnContext(ctx, "publish period advanced failed", "account", out.Account, "error", err)
	}
}

// Proof returns the persisted evaluation proof for an account's period.
func (s *Service) Proof(ctx context.Context, account string, period int64) (core.EvaluationProof, error) {
	return s.store.Proof(ctx, account, period)
}

// RecordTransactions totals a categorized transaction list into actual and
// impulse spending and records it on the current period.
func (s *Service) RecordTransactions(ctx context.Context, account string, txs []core.Transaction, impulseCategories map[string]bool, now time.Time) (actual, impulse int64, err error) {
	if impulseCategories == nil {
		impulseCategories = core.DefaultImpulseCategories()
	}
	actual, impulse, err = core.SplitSpending(txs, impulseCategories)
	if err != nil {
		return 0, 0, err
	}
	if err := s.records.RecordSpending(ctx, account, actual, impulse, now); err != nil {
		return 0, 0, err
	}
	return actual, impulse, nil
}
