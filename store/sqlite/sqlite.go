// Package sqlite implements durablesaga.Store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fortressi/durablesaga"

	_ "modernc.org/sqlite"
)

const createInstancesTable = `
CREATE TABLE IF NOT EXISTS saga_instances (
    id          TEXT PRIMARY KEY,
    saga_name   TEXT NOT NULL,
    status      TEXT NOT NULL,
    input       BLOB,
    outcome     BLOB,
    error       TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
)`

const selectColumns = `id, saga_name, status, input, outcome, error, created_at, updated_at`

var _ durablesaga.Store = (*Store)(nil)

// Store keeps instance records in a SQLite database.
type Store struct {
	db *sql.DB
}

// New opens the SQLite database at dbPath and creates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createInstancesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create saga_instances table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces the record.
func (s *Store) Save(ctx context.Context, rec durablesaga.InstanceRecord) error {
	var outcome []byte
	if rec.Outcome != nil {
		data, err := json.Marshal(rec.Outcome)
		if err != nil {
			return fmt.Errorf("marshal outcome: %w", err)
		}
		outcome = data
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO saga_instances (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			outcome = excluded.outcome,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		string(rec.ID), string(rec.SagaName), string(rec.Status), []byte(rec.Input),
		outcome, rec.Error, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save instance: %w", err)
	}
	return nil
}

// Load retrieves a record by ID.
func (s *Store) Load(ctx context.Context, id durablesaga.InstanceID) (*durablesaga.InstanceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM saga_instances WHERE id = ?`, string(id))

	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", durablesaga.ErrInstanceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return rec, nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id durablesaga.InstanceID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM saga_instances WHERE id = ?", string(id)); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	return nil
}

// List returns every record, oldest first.
func (s *Store) List(ctx context.Context) ([]durablesaga.InstanceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM saga_instances ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var records []durablesaga.InstanceRecord
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*durablesaga.InstanceRecord, error) {
	var (
		rec     durablesaga.InstanceRecord
		id      string
		name    string
		status  string
		input   []byte
		outcome []byte
	)
	if err := row.Scan(&id, &name, &status, &input, &outcome, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.ID = durablesaga.InstanceID(id)
	rec.SagaName = durablesaga.SagaName(name)
	rec.Status = durablesaga.InstanceStatus(status)
	if len(input) > 0 {
		rec.Input = input
	}
	if len(outcome) > 0 {
		rec.Outcome = &durablesaga.SagaOutcome{}
		if err := json.Unmarshal(outcome, rec.Outcome); err != nil {
			return nil, fmt.Errorf("unmarshal outcome of %s: %w", id, err)
		}
	}
	return &rec, nil
}
