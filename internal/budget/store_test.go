package budget

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewSQLStore(sqlx.NewDb(db, "sqlmock")), mock
}

func TestSQLStore_Append(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO budget_ledger").
		WithArgs(sqlmock.AnyArg(), "p1", "tool:search", "openai", "gpt-4o", "0.02", "0", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Append(context.Background(), Entry{
		PrincipalID:   "p1",
		Resource:      "tool:search",
		Provider:      "openai",
		Model:         "gpt-4o",
		EstimatedCost: dec("0.02"),
		RecordedAt:    time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SumSince(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"estimated_cost", "actual_cost"}).
		AddRow("1.00", "0").
		AddRow("2.50", "0")

	mock.ExpectQuery("SELECT estimated_cost, actual_cost FROM budget_ledger").
		WithArgs("p1", sqlmock.AnyArg()).
		WillReturnRows(rows)

	total, err := store.SumSince(context.Background(), "p1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, total.Equal(dec("3.50")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SumSince_PrefersActualOverEstimated(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"estimated_cost", "actual_cost"}).
		AddRow("1.00", "1.25")

	mock.ExpectQuery("SELECT estimated_cost, actual_cost FROM budget_ledger").
		WithArgs("p1", sqlmock.AnyArg()).
		WillReturnRows(rows)

	total, err := store.SumSince(context.Background(), "p1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, total.Equal(dec("1.25")))
}

func TestSQLStore_Aggregate(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"provider", "model", "estimated_cost", "actual_cost"}).
		AddRow("openai", "gpt-4o", "1.00", "0").
		AddRow("anthropic", "claude-3-5-sonnet", "2.00", "0")

	mock.ExpectQuery("SELECT provider, model, estimated_cost, actual_cost FROM budget_ledger").
		WithArgs("p1", sqlmock.AnyArg()).
		WillReturnRows(rows)

	agg, err := store.Aggregate(context.Background(), "p1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, agg.Count)
	require.True(t, agg.Spent.Equal(dec("3.00")))
	require.True(t, agg.ByProvider["openai"].Equal(dec("1.00")))
	require.True(t, agg.ByModel["claude-3-5-sonnet"].Equal(dec("2.00")))
}
