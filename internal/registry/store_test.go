package registry

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

func TestSQLStore_Upsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM registry_servers").
		WithArgs("srv-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO registry_servers").
		WithArgs("srv-1", "payments", "card processing gateway", "http", "https://example.com", sqlmock.AnyArg(), "high",
			"owner-1", sqlmock.AnyArg(), "registered", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	now := time.Now()
	err := store.Upsert(context.Background(), Server{
		ID:          "srv-1",
		Name:        "payments",
		Description: "card processing gateway",
		Transport:   TransportHTTP,
		Endpoint:    "https://example.com",
		Sensitivity: SensitivityHigh,
		OwnerID:     "owner-1",
		Status:      StatusRegistered,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT \\* FROM registry_servers WHERE id = \\?").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM registry_servers WHERE id = \\?").
		WithArgs("srv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Delete(context.Background(), "srv-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParseTime_Layouts(t *testing.T) {
	for _, s := range []string{
		"2026-01-01T00:00:00Z",
		"2026-01-01 00:00:00",
	} {
		_, err := parseTime(s)
		require.NoError(t, err, s)
	}
	_, err := parseTime("not-a-time")
	require.Error(t, err)
}
