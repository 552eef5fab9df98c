// Package database implements the protocol adapter for relational
// database backends: discovery introspects the catalog and synthesizes
// select/insert/update/delete capabilities per table, invocation runs
// parameterized SQL through database/sql via jmoiron/sqlx. lib/pq and
// mattn/go-sqlite3 provide the supported drivers.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"           // registers the "postgres" database/sql driver this adapter's config.driver expects
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" database/sql driver

	"github.com/apathy-ca/sark/internal/adapter"
)

// destructiveStatements is the blacklist for the database adapter's
// ValidateRequest: statements never allowed even when a capability's
// synthesized template would otherwise permit them.
var destructiveStatements = regexp.MustCompile(`(?i)\b(drop|truncate|alter|grant|revoke)\b`)

// Adapter discovers table capabilities and invokes parameterized SQL
// against a configured *sqlx.DB per target connection string.
type Adapter struct {
	mu    sync.RWMutex
	conns map[string]*sqlx.DB // dsn -> open connection, reused across invocations
	caps  map[string]capabilityTemplate
}

type capabilityTemplate struct {
	dsn       string
	driver    string
	table     string
	operation string // select, insert, update, delete
	columns   []columnInfo
}

type columnInfo struct {
	Name     string
	DataType string
	Nullable bool
}

// New constructs an empty Adapter.
func New() *Adapter {
	return &Adapter{
		conns: make(map[string]*sqlx.DB),
		caps:  make(map[string]capabilityTemplate),
	}
}

func (a *Adapter) ProtocolName() string    { return "database" }
func (a *Adapter) ProtocolVersion() string { return "sql-catalog-v1" }

func (a *Adapter) connFor(driver, dsn string) (*sqlx.DB, error) {
	a.mu.RLock()
	db, ok := a.conns[dsn]
	a.mu.RUnlock()
	if ok {
		return db, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if db, ok := a.conns[dsn]; ok {
		return db, nil
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("adapter/database: open %s: %w", driver, err)
	}
	a.conns[dsn] = db
	return db, nil
}

// DiscoverResources expects config to carry "driver" (postgres|sqlite3),
// "dsn", and optionally "schema" (defaults to "public" for postgres, the
// whole database for sqlite). It introspects the catalog and returns one
// ResourceSchema per table.
func (a *Adapter) DiscoverResources(ctx context.Context, config map[string]any) ([]adapter.ResourceSchema, error) {
	driver, _ := config["driver"].(string)
	dsn, _ := config["dsn"].(string)
	if driver == "" || dsn == "" {
		return nil, fmt.Errorf("adapter/database: config must carry \"driver\" and \"dsn\"")
	}
	schema, _ := config["schema"].(string)
	if schema == "" {
		schema = "public"
	}

	db, err := a.connFor(driver, dsn)
	if err != nil {
		return nil, err
	}

	tables, err := listTables(ctx, db, driver, schema)
	if err != nil {
		return nil, fmt.Errorf("adapter/database: list tables: %w", err)
	}

	var resources []adapter.ResourceSchema
	for _, table := range tables {
		columns, err := listColumns(ctx, db, driver, schema, table)
		if err != nil {
			return nil, fmt.Errorf("adapter/database: list columns for %s: %w", table, err)
		}
		resources = append(resources, adapter.ResourceSchema{
			Name:            table,
			Description:     fmt.Sprintf("table %s", table),
			SensitivityHint: adapter.SensitivityMedium,
			InputSchema:     tableInputSchema(columns),
			Metadata:        map[string]any{"driver": driver, "dsn": dsn, "table": table},
		})

		for _, op := range []string{"select", "insert", "update", "delete"} {
			capName := table + "." + op
			a.mu.Lock()
			a.caps[capName] = capabilityTemplate{dsn: dsn, driver: driver, table: table, operation: op, columns: columns}
			a.mu.Unlock()
		}
	}
	return resources, nil
}

func listTables(ctx context.Context, db *sqlx.DB, driver, schema string) ([]string, error) {
	var query string
	var args []any
	switch driver {
	case "postgres":
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE'`
		args = []any{schema}
	case "sqlite3":
		query = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	var tables []string
	if err := db.SelectContext(ctx, &tables, query, args...); err != nil {
		return nil, err
	}
	return tables, nil
}

func listColumns(ctx context.Context, db *sqlx.DB, driver, schema, table string) ([]columnInfo, error) {
	switch driver {
	case "postgres":
		var rows []struct {
			ColumnName string `db:"column_name"`
			DataType   string `db:"data_type"`
			IsNullable string `db:"is_nullable"`
		}
		query := `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`
		if err := db.SelectContext(ctx, &rows, query, schema, table); err != nil {
			return nil, err
		}
		cols := make([]columnInfo, len(rows))
		for i, r := range rows {
			cols[i] = columnInfo{Name: r.ColumnName, DataType: r.DataType, Nullable: r.IsNullable == "YES"}
		}
		return cols, nil
	case "sqlite3":
		var rows []struct {
			Name    string `db:"name"`
			Type    string `db:"type"`
			NotNull int    `db:"notnull"`
		}
		query := fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdentifier(table))
		if err := db.SelectContext(ctx, &rows, query); err != nil {
			return nil, err
		}
		cols := make([]columnInfo, len(rows))
		for i, r := range rows {
			cols[i] = columnInfo{Name: r.Name, DataType: r.Type, Nullable: r.NotNull == 0}
		}
		return cols, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// quoteIdentifier guards PRAGMA table_info against names that aren't
// straightforwardly parameterizable; it only ever runs over table names
// already returned by sqlite_master, never caller input.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func tableInputSchema(columns []columnInfo) map[string]any {
	properties := map[string]any{}
	var required []string
	for _, c := range columns {
		properties[c.Name] = map[string]any{"type": sqlTypeToJSONType(c.DataType)}
		if !c.Nullable {
			required = append(required, c.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func sqlTypeToJSONType(dataType string) string {
	lower := strings.ToLower(dataType)
	switch {
	case strings.Contains(lower, "int"):
		return "integer"
	case strings.Contains(lower, "float"), strings.Contains(lower, "double"), strings.Contains(lower, "numeric"), strings.Contains(lower, "decimal"), strings.Contains(lower, "real"):
		return "number"
	case strings.Contains(lower, "bool"):
		return "boolean"
	default:
		return "string"
	}
}

// GetCapabilities returns the four synthesized operations for the table
// named by resource.Name.
func (a *Adapter) GetCapabilities(ctx context.Context, resource adapter.ResourceSchema) ([]adapter.CapabilitySchema, error) {
	table, _ := resource.Metadata["table"].(string)
	if table == "" {
		table = resource.Name
	}
	ops := []struct {
		op          string
		sensitivity adapter.Sensitivity
	}{
		{"select", adapter.SensitivityLow},
		{"insert", adapter.SensitivityMedium},
		{"update", adapter.SensitivityMedium},
		{"delete", adapter.SensitivityHigh},
	}
	caps := make([]adapter.CapabilitySchema, 0, len(ops))
	for _, o := range ops {
		caps = append(caps, adapter.CapabilitySchema{
			Name:        table + "." + o.op,
			Description: fmt.Sprintf("%s on %s", o.op, table),
			InputSchema: resource.InputSchema,
			Sensitivity: o.sensitivity,
		})
	}
	return caps, nil
}

// ValidateRequest hard-rejects destructive statements the caller might
// try to smuggle in through a raw "sql" parameter, and refuses unknown
// capabilities and payloads past the shared size cap.
func (a *Adapter) ValidateRequest(ctx context.Context, inv adapter.Invocation) (bool, string) {
	a.mu.RLock()
	_, ok := a.caps[inv.Capability]
	a.mu.RUnlock()
	if !ok {
		return false, "unknown capability"
	}
	if raw, ok := inv.Parameters["sql"].(string); ok && destructiveStatements.MatchString(raw) {
		return false, "destructive SQL construct not permitted"
	}
	body, err := json.Marshal(inv.Parameters)
	if err != nil {
		return false, "parameters not JSON-serializable"
	}
	if len(body) > adapter.MaxPayloadBytes {
		return false, "payload exceeds maximum size"
	}
	return true, ""
}

// Invoke builds and runs the parameterized statement for the resolved
// capability template.
func (a *Adapter) Invoke(ctx context.Context, inv adapter.Invocation) (adapter.InvocationResult, error) {
	start := time.Now()
	a.mu.RLock()
	tmpl, ok := a.caps[inv.Capability]
	a.mu.RUnlock()
	if !ok {
		return adapter.InvocationResult{}, fmt.Errorf("adapter/database: unknown capability %q (discover first)", inv.Capability)
	}

	db, err := a.connFor(tmpl.driver, tmpl.dsn)
	if err != nil {
		return adapter.InvocationResult{}, err
	}

	deadline := adapter.EffectiveDeadline(inv)
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	query, args, err := buildQuery(tmpl, inv.Parameters)
	if err != nil {
		return adapter.InvocationResult{}, err
	}

	switch tmpl.operation {
	case "select":
		rows, err := db.QueryxContext(callCtx, query, args...)
		if err != nil {
			return adapter.InvocationResult{Success: false, Error: err.Error(), DurationMS: time.Since(start).Milliseconds()}, nil
		}
		defer rows.Close()
		var results []map[string]any
		for rows.Next() {
			row := make(map[string]any)
			if err := rows.MapScan(row); err != nil {
				return adapter.InvocationResult{}, fmt.Errorf("adapter/database: scan row: %w", err)
			}
			results = append(results, row)
		}
		return adapter.InvocationResult{Success: true, Result: results, DurationMS: time.Since(start).Milliseconds()}, nil
	default:
		res, err := db.ExecContext(callCtx, query, args...)
		if err != nil {
			return adapter.InvocationResult{Success: false, Error: err.Error(), DurationMS: time.Since(start).Milliseconds()}, nil
		}
		affected, _ := res.RowsAffected()
		return adapter.InvocationResult{
			Success:    true,
			Result:     map[string]any{"rows_affected": affected},
			DurationMS: time.Since(start).Milliseconds(),
		}, nil
	}
}

// buildQuery synthesizes parameterized SQL for one of the four
// operations. Column names come only from the catalog-derived template,
// never from caller input, so there is no injection surface there; values
// are always passed as driver-level bind parameters.
func buildQuery(tmpl capabilityTemplate, params map[string]any) (string, []any, error) {
	table := quoteIdentifier(tmpl.table)
	switch tmpl.operation {
	case "select":
		return fmt.Sprintf("SELECT * FROM %s LIMIT 200", table), nil, nil
	case "insert":
		var cols []string
		var placeholders []string
		var args []any
		i := 1
		for _, c := range tmpl.columns {
			v, ok := params[c.Name]
			if !ok {
				continue
			}
			cols = append(cols, quoteIdentifier(c.Name))
			placeholders = append(placeholders, placeholder(tmpl.driver, i))
			args = append(args, v)
			i++
		}
		if len(cols) == 0 {
			return "", nil, fmt.Errorf("adapter/database: insert requires at least one recognized column")
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", ")), args, nil
	case "update":
		id, ok := params["id"]
		if !ok {
			return "", nil, fmt.Errorf("adapter/database: update requires an \"id\" parameter")
		}
		var sets []string
		var args []any
		i := 1
		for _, c := range tmpl.columns {
			if c.Name == "id" {
				continue
			}
			v, ok := params[c.Name]
			if !ok {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = %s", quoteIdentifier(c.Name), placeholder(tmpl.driver, i)))
			args = append(args, v)
			i++
		}
		if len(sets) == 0 {
			return "", nil, fmt.Errorf("adapter/database: update requires at least one changed column")
		}
		args = append(args, id)
		return fmt.Sprintf("UPDATE %s SET %s WHERE id = %s", table, strings.Join(sets, ", "), placeholder(tmpl.driver, i)), args, nil
	case "delete":
		id, ok := params["id"]
		if !ok {
			return "", nil, fmt.Errorf("adapter/database: delete requires an \"id\" parameter")
		}
		return fmt.Sprintf("DELETE FROM %s WHERE id = %s", table, placeholder(tmpl.driver, 1)), []any{id}, nil
	default:
		return "", nil, fmt.Errorf("adapter/database: unsupported operation %q", tmpl.operation)
	}
}

func placeholder(driver string, position int) string {
	if driver == "postgres" {
		return fmt.Sprintf("$%d", position)
	}
	return "?"
}

// HealthCheck pings the resource's connection.
func (a *Adapter) HealthCheck(ctx context.Context, resource adapter.ResourceSchema) bool {
	driver, _ := resource.Metadata["driver"].(string)
	dsn, _ := resource.Metadata["dsn"].(string)
	if driver == "" || dsn == "" {
		return false
	}
	db, err := a.connFor(driver, dsn)
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

// Close closes every pooled connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for dsn, db := range a.conns {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("adapter/database: close %s: %w", dsn, err)
		}
	}
	a.conns = make(map[string]*sqlx.DB)
	return firstErr
}
