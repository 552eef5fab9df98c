package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// parseTime accepts either the driver's native RFC3339(Nano) rendering or
// sqlite's default "YYYY-MM-DD HH:MM:SS" timestamp text, since the exact
// string form a TIMESTAMP column round-trips as varies by driver.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("registry: unparseable timestamp %q", s)
}

// SQLStore is a Store backed by a shared sqlx.DB handle (sqlite by
// default, pgx in clustered deployments, selected by
// internal/config.StorageConfig.Driver). Follows internal/budget.SQLStore's
// shape exactly: driver-agnostic schema, upsert via INSERT OR REPLACE
// semantics emulated with delete-then-insert for portability across sqlite
// and postgres dialects.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS registry_servers (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	description   TEXT,
	transport     TEXT NOT NULL,
	endpoint      TEXT,
	capabilities  TEXT,
	sensitivity   TEXT,
	owner_id      TEXT,
	teams         TEXT,
	status        TEXT NOT NULL,
	tags          TEXT,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_registry_servers_created_at ON registry_servers (created_at);
CREATE INDEX IF NOT EXISTS idx_registry_servers_status ON registry_servers (status);
`

func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, registrySchema); err != nil {
		return fmt.Errorf("registry: migrate: %w", err)
	}
	return nil
}

type serverRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Description  string `db:"description"`
	Transport    string `db:"transport"`
	Endpoint     string `db:"endpoint"`
	Capabilities string `db:"capabilities"`
	Sensitivity  string `db:"sensitivity"`
	OwnerID      string `db:"owner_id"`
	Teams        string `db:"teams"`
	Status       string `db:"status"`
	Tags         string `db:"tags"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func (s *SQLStore) Upsert(ctx context.Context, server Server) error {
	caps, err := json.Marshal(server.Capabilities)
	if err != nil {
		return fmt.Errorf("registry: marshal capabilities: %w", err)
	}
	teams, err := json.Marshal(server.Teams)
	if err != nil {
		return fmt.Errorf("registry: marshal teams: %w", err)
	}
	tags, err := json.Marshal(server.Tags)
	if err != nil {
		return fmt.Errorf("registry: marshal tags: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM registry_servers WHERE id = ?`), server.ID); err != nil {
		return fmt.Errorf("registry: upsert delete phase: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO registry_servers
			(id, name, description, transport, endpoint, capabilities, sensitivity, owner_id, teams, status, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		server.ID, server.Name, server.Description, string(server.Transport), server.Endpoint, string(caps),
		string(server.Sensitivity), server.OwnerID, string(teams), string(server.Status), string(tags),
		server.CreatedAt, server.UpdatedAt,
	); err != nil {
		return fmt.Errorf("registry: upsert insert phase: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) Get(ctx context.Context, id string) (Server, bool, error) {
	var row serverRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM registry_servers WHERE id = ?`), id)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return Server{}, false, nil
		}
		return Server{}, false, fmt.Errorf("registry: get: %w", err)
	}
	server, err := rowToServer(row)
	return server, true, err
}

func (s *SQLStore) List(ctx context.Context) ([]Server, error) {
	var rows []serverRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM registry_servers`); err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	out := make([]Server, 0, len(rows))
	for _, row := range rows {
		server, err := rowToServer(row)
		if err != nil {
			return nil, err
		}
		out = append(out, server)
	}
	return out, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM registry_servers WHERE id = ?`), id); err != nil {
		return fmt.Errorf("registry: delete: %w", err)
	}
	return nil
}

func rowToServer(row serverRow) (Server, error) {
	var caps, teams, tags []string
	if row.Capabilities != "" {
		if err := json.Unmarshal([]byte(row.Capabilities), &caps); err != nil {
			return Server{}, fmt.Errorf("registry: unmarshal capabilities: %w", err)
		}
	}
	if row.Teams != "" {
		if err := json.Unmarshal([]byte(row.Teams), &teams); err != nil {
			return Server{}, fmt.Errorf("registry: unmarshal teams: %w", err)
		}
	}
	if row.Tags != "" {
		if err := json.Unmarshal([]byte(row.Tags), &tags); err != nil {
			return Server{}, fmt.Errorf("registry: unmarshal tags: %w", err)
		}
	}
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return Server{}, err
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return Server{}, err
	}
	return Server{
		ID:           row.ID,
		Name:         row.Name,
		Description:  row.Description,
		Transport:    Transport(row.Transport),
		Endpoint:     row.Endpoint,
		Capabilities: caps,
		Sensitivity:  Sensitivity(row.Sensitivity),
		OwnerID:      row.OwnerID,
		Teams:        teams,
		Status:       Status(row.Status),
		Tags:         tags,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}
