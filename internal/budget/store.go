package budget

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// SQLStore is a Store backed by the shared sqlx.DB handle (sqlite or
// postgres, selected by internal/config's storage.driver). Decimal
// amounts are persisted as their exact string representation rather than
// a float column, so no monetary value ever round-trips through binary
// floating point.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an already-opened sqlx.DB. Call Migrate before first
// use (handled by the goose migration runner in cmd/sark in production;
// exposed directly here for tests against an in-memory sqlite handle).
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// schema is intentionally driver-agnostic SQL (no AUTOINCREMENT/SERIAL),
// compatible with both sqlite3 and postgres via pgx. Queries are written
// with '?' placeholders and passed through Rebind for the active driver.
const schema = `
CREATE TABLE IF NOT EXISTS budget_ledger (
	id             TEXT PRIMARY KEY,
	principal_id   TEXT NOT NULL,
	resource       TEXT NOT NULL,
	provider       TEXT NOT NULL,
	model          TEXT,
	estimated_cost TEXT NOT NULL,
	actual_cost    TEXT NOT NULL,
	metadata       TEXT,
	recorded_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_budget_ledger_principal_recorded
	ON budget_ledger (principal_id, recorded_at);
`

// Migrate creates the ledger table if it doesn't already exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("budget: migrate: %w", err)
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}

	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("budget: marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO budget_ledger
			(id, principal_id, resource, provider, model, estimated_cost, actual_cost, metadata, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.PrincipalID, e.Resource, e.Provider, e.Model,
		e.EstimatedCost.String(), e.ActualCost.String(), string(metaJSON), e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("budget: append ledger entry: %w", err)
	}
	return nil
}

func (s *SQLStore) SumSince(ctx context.Context, principalID string, since time.Time) (decimal.Decimal, error) {
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(`
		SELECT estimated_cost, actual_cost FROM budget_ledger
		WHERE principal_id = ? AND recorded_at >= ?`), principalID, since)
	if err != nil {
		return decimal.Zero, fmt.Errorf("budget: sum since: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var estStr, actStr string
		if err := rows.Scan(&estStr, &actStr); err != nil {
			return decimal.Zero, fmt.Errorf("budget: scan ledger row: %w", err)
		}
		total = total.Add(effectiveCost(estStr, actStr))
	}
	return total, rows.Err()
}

func (s *SQLStore) Aggregate(ctx context.Context, principalID string, since time.Time) (Aggregate, error) {
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(`
		SELECT provider, model, estimated_cost, actual_cost FROM budget_ledger
		WHERE principal_id = ? AND recorded_at >= ?`), principalID, since)
	if err != nil {
		return Aggregate{}, fmt.Errorf("budget: aggregate: %w", err)
	}
	defer rows.Close()

	agg := Aggregate{
		Spent:      decimal.Zero,
		ByProvider: make(map[string]decimal.Decimal),
		ByModel:    make(map[string]decimal.Decimal),
	}
	for rows.Next() {
		var provider, model sql.NullString
		var estStr, actStr string
		if err := rows.Scan(&provider, &model, &estStr, &actStr); err != nil {
			return Aggregate{}, fmt.Errorf("budget: scan aggregate row: %w", err)
		}
		cost := effectiveCost(estStr, actStr)
		agg.Spent = agg.Spent.Add(cost)
		agg.Count++
		if provider.Valid {
			agg.ByProvider[provider.String] = agg.ByProvider[provider.String].Add(cost)
		}
		if model.Valid && model.String != "" {
			agg.ByModel[model.String] = agg.ByModel[model.String].Add(cost)
		}
	}
	return agg, rows.Err()
}

func effectiveCost(estimatedStr, actualStr string) decimal.Decimal {
	actual, err := decimal.NewFromString(actualStr)
	if err == nil && !actual.IsZero() {
		return actual
	}
	estimated, err := decimal.NewFromString(estimatedStr)
	if err != nil {
		return decimal.Zero
	}
	return estimated
}
