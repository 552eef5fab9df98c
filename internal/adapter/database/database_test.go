package database

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apathy-ca/sark/internal/adapter"
)

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, string) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dsn := "mock-dsn"
	a := New()
	a.conns[dsn] = sqlx.NewDb(db, "sqlmock")
	return a, mock, dsn
}

func TestDiscoverResources_PostgresEnumeratesTablesAndColumns(t *testing.T) {
	a, mock, dsn := newMockAdapter(t)

	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("widgets"))
	mock.ExpectQuery("SELECT column_name, data_type, is_nullable FROM information_schema.columns").
		WithArgs("public", "widgets").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}).
			AddRow("id", "integer", "NO").
			AddRow("name", "text", "YES"))

	resources, err := a.DiscoverResources(context.Background(), map[string]any{"driver": "postgres", "dsn": dsn, "schema": "public"})
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "widgets", resources[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCapabilities_FourOperations(t *testing.T) {
	a := New()
	caps, err := a.GetCapabilities(context.Background(), adapter.ResourceSchema{Name: "widgets", Metadata: map[string]any{"table": "widgets"}})
	require.NoError(t, err)
	require.Len(t, caps, 4)
	assert.Equal(t, adapter.SensitivityHigh, caps[3].Sensitivity)
}

func TestValidateRequest_RejectsDestructiveSQL(t *testing.T) {
	a, _, dsn := newMockAdapter(t)
	a.caps["widgets.select"] = capabilityTemplate{dsn: dsn, driver: "postgres", table: "widgets", operation: "select"}

	ok, reason := a.ValidateRequest(context.Background(), adapter.Invocation{
		Capability: "widgets.select",
		Parameters: map[string]any{"sql": "DROP TABLE widgets"},
	})
	assert.False(t, ok)
	assert.Contains(t, reason, "destructive")
}

func TestValidateRequest_UnknownCapability(t *testing.T) {
	a := New()
	ok, reason := a.ValidateRequest(context.Background(), adapter.Invocation{Capability: "nope"})
	assert.False(t, ok)
	assert.Equal(t, "unknown capability", reason)
}

func TestInvoke_Select(t *testing.T) {
	a, mock, dsn := newMockAdapter(t)
	a.caps["widgets.select"] = capabilityTemplate{dsn: dsn, driver: "postgres", table: "widgets", operation: "select"}

	mock.ExpectQuery("SELECT \\* FROM \"widgets\" LIMIT 200").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "w1"))

	result, err := a.Invoke(context.Background(), adapter.Invocation{Capability: "widgets.select"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoke_Insert(t *testing.T) {
	a, mock, dsn := newMockAdapter(t)
	a.caps["widgets.insert"] = capabilityTemplate{
		dsn: dsn, driver: "postgres", table: "widgets", operation: "insert",
		columns: []columnInfo{{Name: "name", DataType: "text"}},
	}

	mock.ExpectExec("INSERT INTO \"widgets\"").
		WithArgs("w1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := a.Invoke(context.Background(), adapter.Invocation{
		Capability: "widgets.insert",
		Parameters: map[string]any{"name": "w1"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoke_DeleteRequiresID(t *testing.T) {
	a, _, dsn := newMockAdapter(t)
	a.caps["widgets.delete"] = capabilityTemplate{dsn: dsn, driver: "postgres", table: "widgets", operation: "delete"}

	_, err := a.Invoke(context.Background(), adapter.Invocation{Capability: "widgets.delete", Parameters: map[string]any{}})
	assert.Error(t, err)
}

func TestBuildQuery_UsesPositionalPlaceholdersForPostgres(t *testing.T) {
	tmpl := capabilityTemplate{driver: "postgres", table: "widgets", operation: "delete"}
	query, args, err := buildQuery(tmpl, map[string]any{"id": 7})
	require.NoError(t, err)
	assert.Contains(t, query, "$1")
	assert.Equal(t, []any{7}, args)
}

func TestBuildQuery_UsesQuestionMarkForSQLite(t *testing.T) {
	tmpl := capabilityTemplate{driver: "sqlite3", table: "widgets", operation: "delete"}
	query, args, err := buildQuery(tmpl, map[string]any{"id": 7})
	require.NoError(t, err)
	assert.Contains(t, query, "?")
	assert.Equal(t, []any{7}, args)
}

func TestSQLTypeToJSONType(t *testing.T) {
	assert.Equal(t, "integer", sqlTypeToJSONType("bigint"))
	assert.Equal(t, "number", sqlTypeToJSONType("numeric"))
	assert.Equal(t, "boolean", sqlTypeToJSONType("boolean"))
	assert.Equal(t, "string", sqlTypeToJSONType("text"))
}
