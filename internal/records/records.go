// Package records implements the monthly record store: per-account,
// per-period budget and spending records, the baseline impulse latch and
// the emergency-use flag.
//
// Every operation targets the calling account's current period. Records are
// never deleted; once a period is evaluated its record is history.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"limit/internal/core"
	"limit/internal/store"
)

type Service struct {
	store store.RecordStore
}

func NewService(st store.RecordStore) *Service {
	return &Service{store: st}
}

// SetBudget writes the current period's budget, creating the record if this
// is the first write of the period. Re-setting before evaluation overwrites.
func (s *Service) SetBudget(ctx context.Context, account string, amount int64, now time.Time) error {
	if amount <= 0 {
		return core.Wrapf(core.ErrInvalidInput, "budget must be positive")
	}
	err := s.store.UpdateCurrentRecord(ctx, account, func(r *core.MonthlyRecord) error {
		r.Budget = amount
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("set budget for %s: %w", account, err)
	}
	slog.InfoContext(ctx, "Budget set", "account", account, "amount", amount)
	return nil
}

// RecordSpending overwrites the current record's actual and impulse spend.
// The first-ever submission latches the account's baseline impulse, zero
// included; later submissions never move it.
func (s *Service) RecordSpending(ctx context.Context, account string, actual, impulse int64, now time.Time) error {
	if impulse < 0 {
		return core.Wrapf(core.ErrInvalidInput, "impulse spend must be non-negative")
	}
	err := s.store.UpdateCurrentRecord(ctx, account, func(r *core.MonthlyRecord) error {
		if !r.BudgetSet() {
			return core.Wrapf(core.ErrPreconditionFailed, "no budget set for period %d", r.Period)
		}
		if actual <= 0 {
			return core.Wrapf(core.ErrPreconditionFailed, "actual spend must be positive")
		}
		r.ActualSpent = actual
		r.ImpulseSpent = impulse
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("record spending for %s: %w", account, err)
	}

	latched, err := s.store.LatchBaseline(ctx, account, impulse)
	if err != nil {
		return fmt.Errorf("latch baseline for %s: %w", account, err)
	}
	if latched {
		slog.InfoContext(ctx, "Baseline impulse latched", "account", account, "baseline", impulse)
	}
	slog.InfoContext(ctx, "Spending recorded",
		"account", account, "actual", actual, "impulse", impulse)
	return nil
}

// SetEmergencyFundMonths unconditionally overwrites the current record's
// coverage value.
func (s *Service) SetEmergencyFundMonths(ctx context.Context, account string, months int64, now time.Time) error {
	if months < 0 {
		return core.Wrapf(core.ErrInvalidInput, "emergency fund months must be non-negative")
	}
	err := s.store.UpdateCurrentRecord(ctx, account, func(r *core.MonthlyRecord) error {
		r.EmergencyFundMonths = months
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("set emergency fund for %s: %w", account, err)
	}
	slog.InfoContext(ctx, "Emergency fund coverage set", "account", account, "months", months)
	return nil
}

// UseEmergency flags the current period as having dipped into the emergency
// fund. The flag is scoped to (account, period) and does not carry forward;
// a second call within the same period fails with core.ErrConflict.
func (s *Service) UseEmergency(ctx context.Context, account string) error {
	period, err := s.store.CurrentPeriod(ctx, account)
	if err != nil {
		return fmt.Errorf("current period for %s: %w", account, err)
	}
	if err := s.store.MarkEmergencyUsed(ctx, account, period); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Emergency fund used", "account", account, "period", period)
	return nil
}

// Status is the read-side snapshot of an account's current period.
type Status struct {
	Period        int64
	Record        core.MonthlyRecord
	RecordExists  bool
	Baseline      int64
	BaselineSet   bool
	EmergencyUsed bool
}

// Status returns the account's current record together with the scalars
// that qualify it.
func (s *Service) Status(ctx context.Context, account string) (Status, error) {
	period, err := s.store.CurrentPeriod(ctx, account)
	if err != nil {
		return Status{}, fmt.Errorf("current period for %s: %w", account, err)
	}
	st := Status{Period: period}

	rec, err := s.store.Record(ctx, account, period)
	switch {
	case err == nil:
		st.Record = rec
		st.RecordExists = true
	case errors.Is(err, core.ErrNotFound):
		st.Record = core.MonthlyRecord{Account: account, Period: period}
	default:
		return Status{}, fmt.Errorf("record for %s: %w", account, err)
	}

	st.Baseline, st.BaselineSet, err = s.store.Baseline(ctx, account)
	if err != nil {
		return Status{}, fmt.Errorf("baseline for %s: %w", account, err)
	}
	st.EmergencyUsed, err = s.store.EmergencyUsed(ctx, account, period)
	if err != nil {
		return Status{}, fmt.Errorf("emergency flag for %s: %w", account, err)
	}
	return st, nil
}

// History returns the evaluated record for a past period.
func (s *Service) History(ctx context.Context, account string, period int64) (core.MonthlyRecord, error) {
	if period < 0 {
		return core.MonthlyRecord{}, core.Wrapf(core.ErrInvalidInput, "period must be non-negative")
	}
	return s.store.Record(ctx, account, period)
}
