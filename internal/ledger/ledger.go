// Package ledger implements the reward ledger: per-account balances,
// lifetime earnings, tier and streak, mutable only by authorized callers.
//
// Authorization is a capability set: the configured owner may always act,
// and any caller explicitly granted authorized status may act. The check
// runs at the start of every mutating operation.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"limit/internal/core"
	"limit/internal/store"
)

type Service struct {
	store store.LedgerStore
	owner string
}

// NewService returns a ledger service. owner is the identity that may always
// mutate entries and manage the authorized-caller set.
func NewService(st store.LedgerStore, owner string) *Service {
	return &Service{store: st, owner: owner}
}

// Register creates the account's single zero-balance entry. It is the hook
// the identity registry calls once per account; a second call fails with
// core.ErrConflict.
func (s *Service) Register(ctx context.Context, account string) (core.LedgerEntry, error) {
	entry := core.LedgerEntry{
		Account: account,
		Active:  true,
	}
	if err := s.store.CreateEntry(ctx, entry); err != nil {
		return core.LedgerEntry{}, err
	}
	slog.InfoContext(ctx, "Ledger entry created", "account", account)
	return entry, nil
}

// Entry returns the account's ledger entry.
func (s *Service) Entry(ctx context.Context, account string) (core.LedgerEntry, error) {
	return s.store.Entry(ctx, account)
}

// Authorize verifies the caller holds the mutation capability: it is the
// owner, or a member of the granted set. The union is explicit so the owner
// escape hatch stays visible at the check site.
func (s *Service) Authorize(ctx context.Context, caller string) error {
	if caller == s.owner {
		return nil
	}
	ok, err := s.store.IsAuthorized(ctx, caller)
	if err != nil {
		return fmt.Errorf("check authorization for %s: %w", caller, err)
	}
	if !ok {
		return core.Wrapf(core.ErrUnauthorized, "caller %s may not mutate the ledger", caller)
	}
	return nil
}

// Grant adds a caller to the authorized set. Only the owner may grant.
func (s *Service) Grant(ctx context.Context, caller, grantee string) error {
	if caller != s.owner {
		return core.Wrapf(core.ErrUnauthorized, "caller %s may not grant ledger access", caller)
	}
	if err := s.store.Grant(ctx, grantee); err != nil {
		return fmt.Errorf("grant %s: %w", grantee, err)
	}
	slog.InfoContext(ctx, "Ledger access granted", "grantee", grantee)
	return nil
}

// Revoke removes a caller from the authorized set. Only the owner may revoke.
func (s *Service) Revoke(ctx context.Context, caller, revokee string) error {
	if caller != s.owner {
		return core.Wrapf(core.ErrUnauthorized, "caller %s may not revoke ledger access", caller)
	}
	if err := s.store.Revoke(ctx, revokee); err != nil {
		return fmt.Errorf("revoke %s: %w", revokee, err)
	}
	slog.InfoContext(ctx, "Ledger access revoked", "revokee", revokee)
	return nil
}

// Credit adds amount to both balance and lifetime earnings.
func (s *Service) Credit(ctx context.Context, caller, account string, amount int64, now time.Time) (core.LedgerEntry, error) {
	if err := s.Authorize(ctx, caller); err != nil {
		return core.LedgerEntry{}, err
	}
	if amount <= 0 {
		return core.LedgerEntry{}, core.Wrapf(core.ErrInvalidInput, "credit amount must be positive")
	}
	var updated core.LedgerEntry
	err := s.store.UpdateEntry(ctx, account, func(e *core.LedgerEntry) error {
		if !e.Active {
			return core.Wrapf(core.ErrConflict, "ledger entry for %s is inactive", account)
		}
		balance, err := core.AddChecked(e.Balance, amount)
		if err != nil {
			return err
		}
		total, err := core.AddChecked(e.TotalEarned, amount)
		if err != nil {
			return err
		}
		e.Balance = balance
		e.TotalEarned = total
		e.LastRewardTime = now
		updated = *e
		return nil
	})
	if err != nil {
		return core.LedgerEntry{}, err
	}
	slog.InfoContext(ctx, "Ledger credited",
		"account", account, "caller", caller, "amount", amount, "balance", updated.Balance)
	return updated, nil
}

// Debit subtracts amount from balance only; lifetime earnings are untouched.
func (s *Service) Debit(ctx context.Context, caller, account string, amount int64) (core.LedgerEntry, error) {
	if err := s.Authorize(ctx, caller); err != nil {
		return core.LedgerEntry{}, err
	}
	if amount <= 0 {
		return core.LedgerEntry{}, core.Wrapf(core.ErrInvalidInput, "debit amount must be positive")
	}
	var updated core.LedgerEntry
	err := s.store.UpdateEntry(ctx, account, func(e *core.LedgerEntry) error {
		if !e.Active {
			return core.Wrapf(core.ErrConflict, "ledger entry for %s is inactive", account)
		}
		if e.Balance < amount {
			return core.Wrapf(core.ErrInsufficientBalance, "balance %d below debit %d", e.Balance, amount)
		}
		e.Balance -= amount
		updated = *e
		return nil
	})
	if err != nil {
		return core.LedgerEntry{}, err
	}
	slog.InfoContext(ctx, "Ledger debited",
		"account", account, "caller", caller, "amount", amount, "balance", updated.Balance)
	return updated, nil
}

// SetTier overwrites the entry's current tier.
func (s *Service) SetTier(ctx context.Context, caller, account string, rank int) error {
	if err := s.Authorize(ctx, caller); err != nil {
		return err
	}
	if rank < 0 || rank >= core.TierCount {
		return core.Wrapf(core.ErrInvalidInput, "tier rank %d out of range", rank)
	}
	return s.store.UpdateEntry(ctx, account, func(e *core.LedgerEntry) error {
		if !e.Active {
			return core.Wrapf(core.ErrConflict, "ledger entry for %s is inactive", account)
		}
		e.CurrentTier = rank
		return nil
	})
}

// SetStreak overwrites the entry's consecutive-month counter.
func (s *Service) SetStreak(ctx context.Context, caller, account string, months int64) error {
	if err := s.Authorize(ctx, caller); err != nil {
		return err
	}
	if months < 0 {
		return core.Wrapf(core.ErrInvalidInput, "streak must be non-negative")
	}
	return s.store.UpdateEntry(ctx, account, func(e *core.LedgerEntry) error {
		if !e.Active {
			return core.Wrapf(core.ErrConflict, "ledger entry for %s is inactive", account)
		}
		e.ConsecutiveMonths = months
		return nil
	})
}
