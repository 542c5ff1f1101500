package budget

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresSchema creates the budget table.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS kora_budgets (
	mandate_id TEXT PRIMARY KEY,
	mandate_version BIGINT NOT NULL DEFAULT 0,
	currency CHAR(3) NOT NULL,
	daily_limit_cents BIGINT NOT NULL,
	monthly_limit_cents BIGINT NOT NULL,
	per_tx_max_cents BIGINT,
	allowed_vendors JSONB,
	enforcement_mode TEXT NOT NULL DEFAULT 'enforce',
	daily_spent_cents BIGINT NOT NULL DEFAULT 0,
	monthly_spent_cents BIGINT NOT NULL DEFAULT 0,
	current_day TEXT NOT NULL DEFAULT '',
	tx_count BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL,
	version BIGINT NOT NULL
)`

const postgresSelect = `SELECT mandate_id, mandate_version, currency, daily_limit_cents, monthly_limit_cents, per_tx_max_cents, allowed_vendors, enforcement_mode, daily_spent_cents, monthly_spent_cents, current_day, tx_count, updated_at, version FROM kora_budgets WHERE mandate_id = $1`

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// EnsureSchema creates the budget table if it does not exist.
func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("failed to create budget schema: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Load(ctx context.Context, mandateID string) (*State, error) {
	row := s.db.QueryRowContext(ctx, postgresSelect, mandateID)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found is valid, the engine registers on demand
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load budget: %w", err)
	}
	return st, nil
}

func (s *PostgresStorage) Save(ctx context.Context, st *State) error {
	vendors, err := encodeVendors(st.AllowedVendors)
	if err != nil {
		return err
	}

	var res sql.Result
	if st.Version == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO kora_budgets (mandate_id, mandate_version, currency, daily_limit_cents, monthly_limit_cents,
				per_tx_max_cents, allowed_vendors, enforcement_mode, daily_spent_cents, monthly_spent_cents,
				current_day, tx_count, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
			ON CONFLICT (mandate_id) DO NOTHING`,
			st.MandateID, st.MandateVersion, st.Currency, st.DailyLimitCents, st.MonthlyLimitCents,
			nullInt(st.PerTxMaxCents), vendors, st.EnforcementMode, st.DailySpentCents, st.MonthlySpentCents,
			st.CurrentDay, st.TxCount, st.UpdatedAt)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE kora_budgets SET mandate_version = $2, currency = $3, daily_limit_cents = $4,
				monthly_limit_cents = $5, per_tx_max_cents = $6, allowed_vendors = $7, enforcement_mode = $8,
				daily_spent_cents = $9, monthly_spent_cents = $10, current_day = $11, tx_count = $12,
				updated_at = $13, version = version + 1
			WHERE mandate_id = $1 AND version = $14`,
			st.MandateID, st.MandateVersion, st.Currency, st.DailyLimitCents, st.MonthlyLimitCents,
			nullInt(st.PerTxMaxCents), vendors, st.EnforcementMode, st.DailySpentCents, st.MonthlySpentCents,
			st.CurrentDay, st.TxCount, st.UpdatedAt, st.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to persist budget: %w", err)
	}
	return checkCAS(res, st)
}

func (s *PostgresStorage) Delete(ctx context.Context, mandateID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kora_budgets WHERE mandate_id = $1", mandateID); err != nil {
		return fmt.Errorf("failed to delete budget: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanState reads the column order shared by the SQL stores.
func scanState(row rowScanner) (*State, error) {
	var (
		st      State
		perTx   sql.NullInt64
		vendors sql.NullString
	)
	err := row.Scan(&st.MandateID, &st.MandateVersion, &st.Currency, &st.DailyLimitCents, &st.MonthlyLimitCents,
		&perTx, &vendors, &st.EnforcementMode, &st.DailySpentCents, &st.MonthlySpentCents,
		&st.CurrentDay, &st.TxCount, &st.UpdatedAt, &st.Version)
	if err != nil {
		return nil, err
	}
	if perTx.Valid {
		v := perTx.Int64
		st.PerTxMaxCents = &v
	}
	if vendors.Valid {
		if err := json.Unmarshal([]byte(vendors.String), &st.AllowedVendors); err != nil {
			return nil, fmt.Errorf("corrupt allowed_vendors: %w", err)
		}
	}
	return &st, nil
}

// encodeVendors keeps nil (no allow-list) distinct from an empty list.
func encodeVendors(vendors []string) (sql.NullString, error) {
	if vendors == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(vendors)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode allowed_vendors: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func checkCAS(res sql.Result, st *State) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to persist budget: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	st.Version++
	return nil
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
