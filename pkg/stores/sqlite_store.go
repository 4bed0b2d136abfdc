package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openkiln/openkiln/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database in WAL mode and verifies the connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveResource upserts a resource's state snapshot.
func (s *SQLiteStore) SaveResource(ctx context.Context, rec *engine.ResourceRecord) error {
	query := `
		INSERT INTO resources (stack, name, type, state, reason, physical_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stack, name) DO UPDATE SET
			type = excluded.type,
			state = excluded.state,
			reason = excluded.reason,
			physical_id = excluded.physical_id,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.Stack,
		rec.Name,
		rec.Type,
		string(rec.State),
		rec.Reason,
		rec.PhysicalID,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save resource: %w", err)
	}

	return nil
}

// LoadResource retrieves one resource's snapshot.
func (s *SQLiteStore) LoadResource(ctx context.Context, stack, name string) (*engine.ResourceRecord, error) {
	query := `
		SELECT stack, name, type, state, reason, physical_id, updated_at
		FROM resources
		WHERE stack = ? AND name = ?
	`

	rec := &engine.ResourceRecord{}
	var state string
	err := s.db.QueryRowContext(ctx, query, stack, name).Scan(
		&rec.Stack,
		&rec.Name,
		&rec.Type,
		&state,
		&rec.Reason,
		&rec.PhysicalID,
		&rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resource %s/%s: %w", stack, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load resource: %w", err)
	}

	rec.State = engine.ResourceState(state)
	return rec, nil
}

// ListResources retrieves every snapshot for a stack, ordered by name.
func (s *SQLiteStore) ListResources(ctx context.Context, stack string) ([]*engine.ResourceRecord, error) {
	query := `
		SELECT stack, name, type, state, reason, physical_id, updated_at
		FROM resources
		WHERE stack = ?
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query, stack)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	records := []*engine.ResourceRecord{}
	for rows.Next() {
		rec := &engine.ResourceRecord{}
		var state string
		if err := rows.Scan(
			&rec.Stack,
			&rec.Name,
			&rec.Type,
			&state,
			&rec.Reason,
			&rec.PhysicalID,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		rec.State = engine.ResourceState(state)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// DeleteResource removes a resource's snapshot.
func (s *SQLiteStore) DeleteResource(ctx context.Context, stack, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM resources WHERE stack = ? AND name = ?`, stack, name)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return nil
}

// RecordEvent appends one transition event.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev *engine.Event) error {
	query := `
		INSERT INTO events (id, stack, resource, old_state, new_state, reason, physical_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID,
		ev.Stack,
		ev.Resource,
		string(ev.OldState),
		string(ev.NewState),
		ev.Reason,
		ev.PhysicalID,
		ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}

// SaveTemplate upserts the raw template last applied to a stack.
func (s *SQLiteStore) SaveTemplate(ctx context.Context, stack string, raw []byte) error {
	query := `
		INSERT INTO templates (stack, raw, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (stack) DO UPDATE SET
			raw = excluded.raw,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, stack, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	return nil
}

// LoadTemplate retrieves the raw template last applied to a stack.
func (s *SQLiteStore) LoadTemplate(ctx context.Context, stack string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT raw FROM templates WHERE stack = ?`, stack).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %s: %w", stack, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	return raw, nil
}

// ListEvents retrieves a stack's events, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, stack string, limit int) ([]*engine.Event, error) {
	query := `
		SELECT id, stack, resource, old_state, new_state, reason, physical_id, timestamp
		FROM events
		WHERE stack = ?
		ORDER BY timestamp DESC, id
	`
	args := []interface{}{stack}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*engine.Event{}
	for rows.Next() {
		ev := &engine.Event{}
		var oldState, newState string
		if err := rows.Scan(
			&ev.ID,
			&ev.Stack,
			&ev.Resource,
			&oldState,
			&newState,
			&ev.Reason,
			&ev.PhysicalID,
			&ev.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.OldState = engine.ResourceState(oldState)
		ev.NewState = engine.ResourceState(newState)
		events = append(events, ev)
	}

	return events, rows.Err()
}
