// Package store implements the message-store contract (spec §6): a
// transactional, per-community set of accepted messages plus the generic
// execute/fetchone/fetchall/insert/insert_many/delete/count/executescript
// operations the rest of the core is built against. SQLStore is the
// concrete implementation, backed by modernc.org/sqlite — a pure-Go driver
// chosen so the store never needs cgo, mirroring the contract's origin as a
// thin wrapper around a single serialized database connection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Store is the generic SQL contract of this repo. The sync-table queries in
// sync.go are methods of *SQLStore only, and ingest, syncresp and destroy
// type-assert to *SQLStore, so another Store implementation does not work
// with them.
type Store interface {
	Execute(ctx context.Context, query string, args ...any) (sql.Result, error)
	FetchOne(ctx context.Context, dest []any, query string, args ...any) error
	FetchAll(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Insert(ctx context.Context, table string, cols map[string]any) (int64, error)
	InsertMany(ctx context.Context, table string, colNames []string, rows [][]any) error
	Delete(ctx context.Context, table, where string, args ...any) (int64, error)
	Count(ctx context.Context, table, where string, args ...any) (int64, error)
	ExecuteScript(ctx context.Context, script string) error
	SchemaVersion(ctx context.Context) (int, error)
	SetSchemaVersion(ctx context.Context, version int) error
	Close() error
}

// SQLStore is a Store backed by a single *sql.DB connection, serialized per
// database file per the contract's note ("connections are serialised per
// database file").
type SQLStore struct {
	db     *sql.DB
	logger *logrus.Entry
}

var _ Store = (*SQLStore)(nil)

// Execute runs a statement that does not return rows.
func (s *SQLStore) Execute(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"query": query, "error": err}).Error("store: execute failed")
		return nil, fmt.Errorf("store: execute: %w", err)
	}
	return res, nil
}

// FetchOne scans a single row's columns into dest.
func (s *SQLStore) FetchOne(ctx context.Context, dest []any, query string, args ...any) error {
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(dest...); err != nil {
		return fmt.Errorf("store: fetchone: %w", err)
	}
	return nil
}

// FetchAll runs a query and returns the open *sql.Rows for the caller to
// scan and close.
func (s *SQLStore) FetchAll(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: fetchall: %w", err)
	}
	return rows, nil
}

// Insert inserts a single row built from cols and returns its rowid.
func (s *SQLStore) Insert(ctx context.Context, table string, cols map[string]any) (int64, error) {
	names := make([]string, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for name, val := range cols {
		names = append(names, name)
		placeholders = append(placeholders, "?")
		args = append(args, val)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: insert into %s: %w", table, err)
	}
	return res.LastInsertId()
}

// InsertMany inserts rows sharing colNames in a single transaction.
func (s *SQLStore) InsertMany(ctx context.Context, table string, colNames []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	placeholders := make([]string, len(colNames))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(colNames, ", "), strings.Join(placeholders, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert_many begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: insert_many prepare: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: insert_many exec: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert_many commit: %w", err)
	}
	return nil
}

// Delete removes rows matching where and returns the number affected.
func (s *SQLStore) Delete(ctx context.Context, table, where string, args ...any) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, where)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// Count returns the number of rows in table matching where (empty where
// counts the whole table).
func (s *SQLStore) Count(ctx context.Context, table, where string, args ...any) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if where != "" {
		query += " WHERE " + where
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count %s: %w", table, err)
	}
	return n, nil
}

// ExecuteScript runs a multi-statement script, used for schema migrations.
func (s *SQLStore) ExecuteScript(ctx context.Context, script string) error {
	if _, err := s.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("store: executescript: %w", err)
	}
	return nil
}

// SchemaVersion returns the MyInfo('version') cell, defaulting to 0 when
// absent (spec §6).
func (s *SQLStore) SchemaVersion(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM MyInfo WHERE entry = 'version'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: schema version: %w", err)
	}
	var version int
	if _, err := fmt.Sscanf(value, "%d", &version); err != nil {
		return 0, fmt.Errorf("store: schema version parse: %w", err)
	}
	return version, nil
}

// SetSchemaVersion upserts the MyInfo('version') cell.
func (s *SQLStore) SetSchemaVersion(ctx context.Context, version int) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO MyInfo (entry, value) VALUES ('version', ?)
		ON CONFLICT(entry) DO UPDATE SET value = excluded.value`, fmt.Sprintf("%d", version))
	if err != nil {
		return fmt.Errorf("store: set schema version: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
