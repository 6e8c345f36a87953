// Package storage provides the SQLite store backend. Schema changes ship as
// embedded migrations and run on open; every composite operation executes in
// a single transaction.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"limit/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time; a single connection serializes the
	// read-modify-write operations below.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Times persist as unix nanoseconds; zero means unset.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- RecordStore ---

func (r *SQLiteRepository) CurrentPeriod(ctx context.Context, account string) (int64, error) {
	return currentPeriod(ctx, r.db, account)
}

func currentPeriod(ctx context.Context, q querier, account string) (int64, error) {
	var period int64
	err := q.QueryRowContext(ctx,
		`SELECT current_period FROM accounts WHERE account = ?`, account).Scan(&period)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select current period: %w", err)
	}
	return period, nil
}

func ensureAccount(ctx context.Context, q querier, account string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO accounts (account) VALUES (?) ON CONFLICT (account) DO NOTHING`, account)
	if err != nil {
		return fmt.Errorf("ensure account row: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Record(ctx context.Context, account string, period int64) (core.MonthlyRecord, error) {
	return selectRecord(ctx, r.db, account, period)
}

func selectRecord(ctx context.Context, q querier, account string, period int64) (core.MonthlyRecord, error) {
	var rec core.MonthlyRecord
	var updatedAt int64
	err := q.QueryRowContext(ctx,
		`SELECT account, period, budget, actual_spent, impulse_spent, emergency_fund_months, evaluated, updated_at
		 FROM records WHERE account = ? AND period = ?`, account, period).
		Scan(&rec.Account, &rec.Period, &rec.Budget, &rec.ActualSpent, &rec.ImpulseSpent,
			&rec.EmergencyFundMonths, &rec.Evaluated, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MonthlyRecord{}, core.Wrapf(core.ErrNotFound, "no record for account %s period %d", account, period)
	}
	if err != nil {
		return core.MonthlyRecord{}, fmt.Errorf("select record: %w", err)
	}
	rec.UpdatedAt = fromNanos(updatedAt)
	return rec, nil
}

func (r *SQLiteRepository) UpdateCurrentRecord(ctx context.Context, account string, fn func(*core.MonthlyRecord) error) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureAccount(ctx, tx, account); err != nil {
			return err
		}
		period, err := currentPeriod(ctx, tx, account)
		if err != nil {
			return err
		}

		rec, err := selectRecord(ctx, tx, account, period)
		if errors.Is(err, core.ErrNotFound) {
			rec = core.MonthlyRecord{Account: account, Period: period}
		} else if err != nil {
			return err
		}

		if err := fn(&rec); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO records (account, period, budget, actual_spent, impulse_spent, emergency_fund_months, evaluated, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (account, period) DO UPDATE SET
			   budget = excluded.budget,
			   actual_spent = excluded.actual_spent,
			   impulse_spent = excluded.impulse_spent,
			   emergency_fund_months = excluded.emergency_fund_months,
			   evaluated = excluded.evaluated,
			   updated_at = excluded.updated_at`,
			account, period, rec.Budget, rec.ActualSpent, rec.ImpulseSpent,
			rec.EmergencyFundMonths, rec.Evaluated, toNanos(rec.UpdatedAt))
		if err != nil {
			return fmt.Errorf("upsert record: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) Baseline(ctx context.Context, account string) (int64, bool, error) {
	var value int64
	var set bool
	err := r.db.QueryRowContext(ctx,
		`SELECT baseline_impulse, baseline_set FROM accounts WHERE account = ?`, account).
		Scan(&value, &set)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select baseline: %w", err)
	}
	return value, set, nil
}

func (r *SQLiteRepository) LatchBaseline(ctx context.Context, account string, value int64) (bool, error) {
	var latched bool
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureAccount(ctx, tx, account); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET baseline_impulse = ?, baseline_set = 1
			 WHERE account = ? AND baseline_set = 0`, value, account)
		if err != nil {
			return fmt.Errorf("latch baseline: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("latch baseline rows: %w", err)
		}
		latched = n > 0
		return nil
	})
	return latched, err
}

func (r *SQLiteRepository) EmergencyUsed(ctx context.Context, account string, period int64) (bool, error) {
	return emergencyUsed(ctx, r.db, account, period)
}

func emergencyUsed(ctx context.Context, q querier, account string, period int64) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM emergency_use WHERE account = ? AND period = ?`, account, period).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select emergency use: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) MarkEmergencyUsed(ctx context.Context, account string, period int64) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO emergency_use (account, period) VALUES (?, ?)
		 ON CONFLICT (account, period) DO NOTHING`, account, period)
	if err != nil {
		return fmt.Errorf("mark emergency used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark emergency rows: %w", err)
	}
	if n == 0 {
		return core.Wrapf(core.ErrConflict, "emergency already used in period %d", period)
	}
	return nil
}

func (r *SQLiteRepository) PendingEvaluations(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.account
		 FROM accounts a
		 JOIN records rec ON rec.account = a.account AND rec.period = a.current_period
		 WHERE rec.budget > 0 AND rec.actual_spent > 0 AND rec.evaluated = 0
		 ORDER BY a.account`)
	if err != nil {
		return nil, fmt.Errorf("select pending evaluations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("scan pending account: %w", err)
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

// --- LedgerStore ---

func (r *SQLiteRepository) CreateEntry(ctx context.Context, entry core.LedgerEntry) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (account, balance, total_earned, current_tier, consecutive_months, last_reward_time, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (account) DO NOTHING`,
		entry.Account, entry.Balance, entry.TotalEarned, entry.CurrentTier,
		entry.ConsecutiveMonths, toNanos(entry.LastRewardTime), entry.Active)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert ledger entry rows: %w", err)
	}
	if n == 0 {
		return core.Wrapf(core.ErrConflict, "account %s already has a ledger entry", entry.Account)
	}
	return nil
}

func (r *SQLiteRepository) Entry(ctx context.Context, account string) (core.LedgerEntry, error) {
	return selectEntry(ctx, r.db, account)
}

func selectEntry(ctx context.Context, q querier, account string) (core.LedgerEntry, error) {
	var entry core.LedgerEntry
	var lastReward int64
	err := q.QueryRowContext(ctx,
		`SELECT account, balance, total_earned, current_tier, consecutive_months, last_reward_time, active
		 FROM ledger_entries WHERE account = ?`, account).
		Scan(&entry.Account, &entry.Balance, &entry.TotalEarned, &entry.CurrentTier,
			&entry.ConsecutiveMonths, &lastReward, &entry.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerEntry{}, core.Wrapf(core.ErrNotFound, "no ledger entry for account %s", account)
	}
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("select ledger entry: %w", err)
	}
	entry.LastRewardTime = fromNanos(lastReward)
	return entry, nil
}

func updateEntry(ctx context.Context, q querier, entry core.LedgerEntry) error {
	_, err := q.ExecContext(ctx,
		`UPDATE ledger_entries
		 SET balance = ?, total_earned = ?, current_tier = ?, consecutive_months = ?, last_reward_time = ?, active = ?
		 WHERE account = ?`,
		entry.Balance, entry.TotalEarned, entry.CurrentTier, entry.ConsecutiveMonths,
		toNanos(entry.LastRewardTime), entry.Active, entry.Account)
	if err != nil {
		return fmt.Errorf("update ledger entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateEntry(ctx context.Context, account string, fn func(*core.LedgerEntry) error) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		entry, err := selectEntry(ctx, tx, account)
		if err != nil {
			return err
		}
		if err := fn(&entry); err != nil {
			return err
		}
		return updateEntry(ctx, tx, entry)
	})
}

func (r *SQLiteRepository) IsAuthorized(ctx context.Context, caller string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM authorized_callers WHERE caller = ?`, caller).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select authorized caller: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) Grant(ctx context.Context, caller string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO authorized_callers (caller) VALUES (?) ON CONFLICT (caller) DO NOTHING`, caller)
	if err != nil {
		return fmt.Errorf("grant caller: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Revoke(ctx context.Context, caller string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM authorized_callers WHERE caller = ?`, caller)
	if err != nil {
		return fmt.Errorf("revoke caller: %w", err)
	}
	return nil
}

// --- PolicyStore ---

func (r *SQLiteRepository) Tiers(ctx context.Context) ([]core.TierRequirement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tier_rank, compliance_ceiling, impulse_reduction_floor, emergency_fund_floor, reward_amount, streak_requirement
		 FROM tiers ORDER BY tier_rank`)
	if err != nil {
		return nil, fmt.Errorf("select tiers: %w", err)
	}
	defer rows.Close()

	var out []core.TierRequirement
	for rows.Next() {
		var tr core.TierRequirement
		if err := rows.Scan(&tr.Rank, &tr.ComplianceCeiling, &tr.ImpulseReductionFloor,
			&tr.EmergencyFundFloor, &tr.RewardAmount, &tr.StreakRequirement); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) PutTier(ctx context.Context, tier core.TierRequirement) error {
	if tier.Rank < 0 || tier.Rank >= core.TierCount {
		return core.Wrapf(core.ErrInvalidInput, "tier rank %d out of range", tier.Rank)
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE tiers
		 SET compliance_ceiling = ?, impulse_reduction_floor = ?, emergency_fund_floor = ?, reward_amount = ?, streak_requirement = ?
		 WHERE tier_rank = ?`,
		tier.ComplianceCeiling, tier.ImpulseReductionFloor, tier.EmergencyFundFloor,
		tier.RewardAmount, tier.StreakRequirement, tier.Rank)
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	return nil
}

// --- VaultStore ---

func (r *SQLiteRepository) Vaults(ctx context.Context, account string) ([]core.Vault, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT account, vault_id, type, target_amount, current_amount, tokens_spent, created_at, target_date, active, description
		 FROM vaults WHERE account = ? ORDER BY vault_id`, account)
	if err != nil {
		return nil, fmt.Errorf("select vaults: %w", err)
	}
	defer rows.Close()

	var out []core.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVault(row rowScanner) (core.Vault, error) {
	var v core.Vault
	var createdAt, targetDate int64
	err := row.Scan(&v.Account, &v.ID, &v.Type, &v.TargetAmount, &v.CurrentAmount,
		&v.TokensSpent, &createdAt, &targetDate, &v.Active, &v.Description)
	if err != nil {
		return core.Vault{}, fmt.Errorf("scan vault: %w", err)
	}
	v.CreatedAt = fromNanos(createdAt)
	v.TargetDate = fromNanos(targetDate)
	return v, nil
}

func (r *SQLiteRepository) Vault(ctx context.Context, account string, id int) (core.Vault, error) {
	return selectVault(ctx, r.db, account, id)
}

func selectVault(ctx context.Context, q querier, account string, id int) (core.Vault, error) {
	row := q.QueryRowContext(ctx,
		`SELECT account, vault_id, type, target_amount, current_amount, tokens_spent, created_at, target_date, active, description
		 FROM vaults WHERE account = ? AND vault_id = ?`, account, id)
	v, err := scanVault(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Vault{}, core.Wrapf(core.ErrNotFound, "no vault %d for account %s", id, account)
		}
		return core.Vault{}, err
	}
	return v, nil
}

func (r *SQLiteRepository) AppendVault(ctx context.Context, vault core.Vault) (int, error) {
	var id int
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM vaults WHERE account = ?`, vault.Account).Scan(&count); err != nil {
			return fmt.Errorf("count vaults: %w", err)
		}
		id = count

		_, err := tx.ExecContext(ctx,
			`INSERT INTO vaults (account, vault_id, type, target_amount, current_amount, tokens_spent, created_at, target_date, active, description)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			vault.Account, id, vault.Type, vault.TargetAmount, vault.CurrentAmount,
			vault.TokensSpent, toNanos(vault.CreatedAt), toNanos(vault.TargetDate),
			vault.Active, vault.Description)
		if err != nil {
			return fmt.Errorf("insert vault: %w", err)
		}
		return nil
	})
	return id, err
}

// --- ProofStore ---

func (r *SQLiteRepository) SaveProof(ctx context.Context, proof core.EvaluationProof) error {
	return saveProof(ctx, r.db, proof)
}

func saveProof(ctx context.Context, q querier, proof core.EvaluationProof) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO proofs (account, period, id, tier, reward, generated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (account, period) DO UPDATE SET
		   id = excluded.id, tier = excluded.tier, reward = excluded.reward, generated_at = excluded.generated_at`,
		proof.Account, proof.Period, proof.ID, proof.Tier, proof.Reward, toNanos(proof.GeneratedAt))
	if err != nil {
		return fmt.Errorf("save proof: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Proof(ctx context.Context, account string, period int64) (core.EvaluationProof, error) {
	var proof core.EvaluationProof
	var generatedAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT account, period, id, tier, reward, generated_at
		 FROM proofs WHERE account = ? AND period = ?`, account, period).
		Scan(&proof.Account, &proof.Period, &proof.ID, &proof.Tier, &proof.Reward, &generatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.EvaluationProof{}, core.Wrapf(core.ErrNotFound, "no proof for account %s period %d", account, period)
	}
	if err != nil {
		return core.EvaluationProof{}, fmt.Errorf("select proof: %w", err)
	}
	proof.GeneratedAt = fromNanos(generatedAt)
	return proof, nil
}

// --- Applier ---

func (r *SQLiteRepository) ApplyEvaluation(ctx context.Context, apply core.EvaluationApply) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		// Re-verify inside the transaction: the period must still be current
		// and unevaluated, so a racing duplicate fails instead of
		// double-crediting.
		period, err := currentPeriod(ctx, tx, apply.Account)
		if err != nil {
			return err
		}
		if period != apply.Period {
			return core.Wrapf(core.ErrPreconditionFailed, "period %d is no longer current", apply.Period)
		}
		rec, err := selectRecord(ctx, tx, apply.Account, apply.Period)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return core.Wrapf(core.ErrPreconditionFailed, "period %d already evaluated", apply.Period)
			}
			return err
		}
		if rec.Evaluated {
			return core.Wrapf(core.ErrPreconditionFailed, "period %d already evaluated", apply.Period)
		}
		entry, err := selectEntry(ctx, tx, apply.Account)
		if err != nil {
			return err
		}

		balance, err := core.AddChecked(entry.Balance, apply.Reward)
		if err != nil {
			return err
		}
		total, err := core.AddChecked(entry.TotalEarned, apply.Reward)
		if err != nil {
			return err
		}

		entry.Balance = balance
		entry.TotalEarned = total
		entry.CurrentTier = apply.Tier
		entry.ConsecutiveMonths = apply.Streak
		entry.LastRewardTime = apply.RewardTime
		if err := updateEntry(ctx, tx, entry); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET evaluated = 1 WHERE account = ? AND period = ?`,
			apply.Account, apply.Period); err != nil {
			return fmt.Errorf("seal record: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET current_period = ? WHERE account = ?`,
			apply.Period+1, apply.Account); err != nil {
			return fmt.Errorf("advance period: %w", err)
		}
		return saveProof(ctx, tx, apply.Proof)
	})
}

func (r *SQLiteRepository) ApplyVaultDeposit(ctx context.Context, account string, vaultID int, amount int64) (core.Vault, core.LedgerEntry, error) {
	var vault core.Vault
	var entry core.LedgerEntry
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		vault, err = selectVault(ctx, tx, account, vaultID)
		if err != nil {
			return err
		}
		if !vault.Active {
			return core.Wrapf(core.ErrConflict, "vault %d is inactive", vaultID)
		}
		entry, err = selectEntry(ctx, tx, account)
		if err != nil {
			return err
		}
		if entry.Balance < amount {
			return core.Wrapf(core.ErrInsufficientBalance, "balance %d below deposit %d", entry.Balance, amount)
		}

		scaled, err := core.MulChecked(amount, core.VaultScaleFactor)
		if err != nil {
			return err
		}
		progress, err := core.AddChecked(vault.CurrentAmount, scaled)
		if err != nil {
			return err
		}
		spent, err := core.AddChecked(vault.TokensSpent, amount)
		if err != nil {
			return err
		}

		entry.Balance -= amount
		vault.CurrentAmount = progress
		vault.TokensSpent = spent

		if err := updateEntry(ctx, tx, entry); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE vaults SET current_amount = ?, tokens_spent = ? WHERE account = ? AND vault_id = ?`,
			vault.CurrentAmount, vault.TokensSpent, account, vaultID); err != nil {
			return fmt.Errorf("update vault: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Vault{}, core.LedgerEntry{}, err
	}
	return vault, entry, nil
}
