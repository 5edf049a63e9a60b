package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/route"
	"github.com/vyrodovalexey/routegw/internal/util"
)

const backendSQLite = "sqlite"

// SQLiteStore keeps definitions in a SQLite database. Rows are read back
// in rowid order, which an upsert preserves.
type SQLiteStore struct {
	db     *sql.DB
	logger observability.Logger
	now    func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteLogger sets the logger.
func WithSQLiteLogger(logger observability.Logger) SQLiteOption {
	return func(s *SQLiteStore) {
		s.logger = logger
	}
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	s.logger.Info("using sqlite route store", observability.String("path", path))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS route_definitions (
			id TEXT PRIMARY KEY,
			route_identifier TEXT NOT NULL DEFAULT '',
			definition TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_route_definitions_identifier ON route_definitions(route_identifier)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}
	return nil
}

// FindAll returns every definition in insertion order.
func (s *SQLiteStore) FindAll(ctx context.Context) (defs []*route.Definition, err error) {
	defer s.observe("FindAll", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `SELECT id, definition FROM route_definitions ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs = []*route.Definition{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		def, err := decodeDefinition(raw)
		if err != nil {
			return nil, fmt.Errorf("route definition %q: %w", id, err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// FindByID returns the definition with id.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (def *route.Definition, err error) {
	defer s.observe("FindByID", time.Now(), &err)
	return s.get(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q queryRower, id string) (*route.Definition, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT definition FROM route_definitions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	return decodeDefinition(raw)
}

// Save stores def.
func (s *SQLiteStore) Save(ctx context.Context, def *route.Definition) (stored *route.Definition, err error) {
	if def == nil {
		return nil, invalidDefinition()
	}
	defer s.observe("Save", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existing *route.Definition
	if def.ID != "" {
		existing, err = s.get(ctx, tx, def.ID)
		if err != nil {
			if !errors.Is(err, util.ErrNotFound) {
				return nil, err
			}
			existing, err = nil, nil
		}
	}

	rec := prepare(def, existing, s.now())
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO route_definitions (id, route_identifier, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			route_identifier = excluded.route_identifier,
			definition = excluded.definition,
			updated_at = excluded.updated_at`,
		rec.ID, rec.RouteIdentifier, string(data), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Delete removes the definition with id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (err error) {
	defer s.observe("Delete", time.Now(), &err)

	res, err := s.db.ExecContext(ctx, `DELETE FROM route_definitions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) observe(op string, start time.Time, err *error) {
	m := getStoreMetrics()
	m.operationDuration.WithLabelValues(backendSQLite, op).Observe(time.Since(start).Seconds())
	m.operationsTotal.WithLabelValues(backendSQLite, op, resultLabel(*err)).Inc()
}
