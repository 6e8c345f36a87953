// Package vault tracks goal sub-accounts funded by reward-ledger debits.
package vault

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"limit/internal/core"
	"limit/internal/events"
	"limit/internal/ledger"
	"limit/internal/store"
)

// Publisher emits vault deposit events. A nil Publisher disables emission.
type Publisher interface {
	PublishVaultDeposit(ctx context.Context, msg *events.VaultDepositMessage) error
}

type Service struct {
	store     store.Store
	ledger    *ledger.Service
	publisher Publisher
	logger    *slog.Logger

	// caller identifies the vault service against the ledger's
	// authorized-caller set; it is granted at wiring time.
	caller string
}

func NewService(st store.Store, led *ledger.Service, pub Publisher, caller string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		ledger:    led,
		publisher: pub,
		caller:    caller,
		logger:    logger,
	}
}

// CreateVault appends a new zero-progress vault for the account. The account
// must hold a ledger entry; targetAmount must be positive and targetDate
// strictly in the future.
func (s *Service) CreateVault(ctx context.Context, account string, typ core.VaultType, targetAmount int64, targetDate time.Time, description string, now time.Time) (core.Vault, error) {
	if _, err := s.store.Entry(ctx, account); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Vault{}, core.Wrapf(core.ErrUnauthorized, "account %s has no ledger entry", account)
		}
		return core.Vault{}, err
	}

	v := core.Vault{
		Account:      account,
		Type:         typ,
		TargetAmount: targetAmount,
		CreatedAt:    now,
		TargetDate:   targetDate,
		Active:       true,
		Description:  description,
	}
	if err := v.Validate(now); err != nil {
		return core.Vault{}, err
	}

	id, err := s.store.AppendVault(ctx, v)
	if err != nil {
		return core.Vault{}, err
	}
	v.ID = id

	s.logger.InfoContext(ctx, "vault created",
		"account", account,
		"vault_id", id,
		"type", typ,
		"target", targetAmount,
	)
	return v, nil
}

// DepositToVault converts ledger tokens into vault progress: the ledger is
// debited by amount and the vault gains amount scaled by the fixed factor.
// Deposits may push currentAmount past the target.
func (s *Service) DepositToVault(ctx context.Context, account string, vaultID int, amount int64) (core.Vault, core.LedgerEntry, error) {
	if err := s.ledger.Authorize(ctx, s.caller); err != nil {
		return core.Vault{}, core.LedgerEntry{}, err
	}
	if amount <= 0 {
		return core.Vault{}, core.LedgerEntry{}, core.Wrapf(core.ErrInvalidInput, "deposit amount must be positive, got %d", amount)
	}

	v, entry, err := s.store.ApplyVaultDeposit(ctx, account, vaultID, amount)
	if err != nil {
		return core.Vault{}, core.LedgerEntry{}, err
	}

	s.logger.InfoContext(ctx, "vault deposit",
		"account", account,
		"vault_id", vaultID,
		"amount", amount,
		"current", v.CurrentAmount,
		"balance", entry.Balance,
	)

	if s.publisher != nil {
		if err := s.publisher.PublishVaultDeposit(ctx, &events.VaultDepositMessage{
			Account:       account,
			VaultID:       vaultID,
			Amount:        amount,
			CurrentAmount: v.CurrentAmount,
			Balance:       entry.Balance,
		}); err != nil {
			s.logger.WarnContext(ctx, "publish vault deposit failed", "account", account, "error", err)
		}
	}

	return v, entry, nil
}

// Vaults lists the account's vaults in creation order.
func (s *Service) Vaults(ctx context.Context, account string) ([]core.Vault, error) {
	return s.store.Vaults(ctx, account)
}

// Vault returns a single vault or core.ErrNotFound.
func (s *Service) Vault(ctx context.Context, account string, id int) (core.Vault, error) {
	return s.store.Vault(ctx, account, id)
}
