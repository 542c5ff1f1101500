package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage on SQLite through the pure-Go driver.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage wraps db and creates the budget table.
func NewSQLiteStorage(db *sql.DB) (*SQLiteStorage, error) {
	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS kora_budgets (
        mandate_id TEXT PRIMARY KEY,
        mandate_version INTEGER NOT NULL DEFAULT 0,
        currency TEXT NOT NULL,
        daily_limit_cents INTEGER NOT NULL,
        monthly_limit_cents INTEGER NOT NULL,
        per_tx_max_cents INTEGER,
        allowed_vendors TEXT,
        enforcement_mode TEXT NOT NULL DEFAULT 'enforce',
        daily_spent_cents INTEGER NOT NULL DEFAULT 0,
        monthly_spent_cents INTEGER NOT NULL DEFAULT 0,
        current_day TEXT NOT NULL DEFAULT '',
        tx_count INTEGER NOT NULL DEFAULT 0,
        updated_at DATETIME NOT NULL,
        version INTEGER NOT NULL
    );`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("failed to migrate budget table: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Load(ctx context.Context, mandateID string) (*State, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT mandate_id, mandate_version, currency, daily_limit_cents, monthly_limit_cents, per_tx_max_cents,
               allowed_vendors, enforcement_mode, daily_spent_cents, monthly_spent_cents, current_day, tx_count,
               updated_at, version
        FROM kora_budgets
        WHERE mandate_id = ?
    `, mandateID)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load budget: %w", err)
	}
	return st, nil
}

func (s *SQLiteStorage) Save(ctx context.Context, st *State) error {
	vendors, err := encodeVendors(st.AllowedVendors)
	if err != nil {
		return err
	}
	var res sql.Result
	if st.Version == 0 {
		res, err = s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO kora_budgets (mandate_id, mandate_version, currency, daily_limit_cents,
            monthly_limit_cents, per_tx_max_cents, allowed_vendors, enforcement_mode, daily_spent_cents,
            monthly_spent_cents, current_day, tx_count, updated_at, version)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
    `, st.MandateID, st.MandateVersion, st.Currency, st.DailyLimitCents, st.MonthlyLimitCents,
			nullInt(st.PerTxMaxCents), vendors, st.EnforcementMode, st.DailySpentCents, st.MonthlySpentCents,
			st.CurrentDay, st.TxCount, st.UpdatedAt.UTC())
	} else {
		res, err = s.db.ExecContext(ctx, `
        UPDATE kora_budgets SET mandate_version = ?, currency = ?, daily_limit_cents = ?, monthly_limit_cents = ?,
            per_tx_max_cents = ?, allowed_vendors = ?, enforcement_mode = ?, daily_spent_cents = ?,
            monthly_spent_cents = ?, current_day = ?, tx_count = ?, updated_at = ?, version = version + 1
        WHERE mandate_id = ? AND version = ?
    `, st.MandateVersion, st.Currency, st.DailyLimitCents, st.MonthlyLimitCents,
			nullInt(st.PerTxMaxCents), vendors, st.EnforcementMode, st.DailySpentCents, st.MonthlySpentCents,
			st.CurrentDay, st.TxCount, st.UpdatedAt.UTC(), st.MandateID, st.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to persist budget: %w", err)
	}
	return checkCAS(res, st)
}

func (s *SQLiteStorage) Delete(ctx context.Context, mandateID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kora_budgets WHERE mandate_id = ?", mandateID); err != nil {
		return fmt.Errorf("failed to delete budget: %w", err)
	}
	return nil
}
