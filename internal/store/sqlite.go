// ABOUTME: SQLite implementation of the Store interface (modernc.org/sqlite or mattn/go-sqlite3)
// ABOUTME: Provides thread/turn persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverModernc = "sqlite"  // pure Go, modernc.org/sqlite
	DriverCGO     = "sqlite3" // cgo, github.com/mattn/go-sqlite3
)

// timeFormat is fixed width so TEXT columns sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the
// pure Go driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return Open(DriverModernc, path)
}

// Open creates a SQLite store with the given driver ("sqlite" or "sqlite3").
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func Open(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to :memory: would be its own empty database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			frontend_name TEXT NOT NULL,
			external_id TEXT NOT NULL,
			assistant_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_threads_frontend_external
			ON threads(frontend_name, external_id)
			WHERE frontend_name != '' AND external_id != '';

		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			seq INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(id),

			UNIQUE(thread_id, item_id),
			CHECK (role IN ('user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_thread ON turns(thread_id);
		CREATE INDEX IF NOT EXISTS idx_turns_session_seq ON turns(session_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isUniqueViolation checks if the error is a SQLite UNIQUE or PRIMARY KEY
// violation. Both drivers report it in the error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY violation.
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// CreateThread creates a new thread in the database.
// If a thread with the same ID, or the same frontend_name and external_id,
// already exists, it returns ErrDuplicateThread.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread) error {
	query := `
		INSERT INTO threads (id, frontend_name, external_id, assistant_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		thread.ID,
		thread.FrontendName,
		thread.ExternalID,
		thread.AssistantID,
		thread.CreatedAt.UTC().Format(timeFormat),
		thread.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("inserting thread: %w", err)
	}

	s.logger.Debug("created thread", "id", thread.ID, "frontend", thread.FrontendName)
	return nil
}

const threadColumns = `id, frontend_name, external_id, assistant_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*Thread, error) {
	var thread Thread
	var createdAtStr, updatedAtStr string

	if err := row.Scan(
		&thread.ID,
		&thread.FrontendName,
		&thread.ExternalID,
		&thread.AssistantID,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}

	var err error
	thread.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	thread.UpdatedAt, err = time.Parse(timeFormat, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &thread, nil
}

// GetThread retrieves a thread by ID.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads WHERE id = ?`

	thread, err := scanThread(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	return thread, nil
}

// GetThreadByFrontendID retrieves a thread by its frontend name and external ID.
// Returns ErrNotFound if no matching thread exists.
func (s *SQLiteStore) GetThreadByFrontendID(ctx context.Context, frontendName, externalID string) (*Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads WHERE frontend_name = ? AND external_id = ?`

	thread, err := scanThread(s.db.QueryRowContext(ctx, query, frontendName, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread by frontend id: %w", err)
	}
	return thread, nil
}

// ListThreads returns the most recently updated threads, up to limit
// (default 100, max 1000).
func (s *SQLiteStore) ListThreads(ctx context.Context, limit int) ([]*Thread, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `SELECT ` + threadColumns + ` FROM threads ORDER BY updated_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

// SaveTurn records a dispatched turn and bumps the thread's updated_at.
// Returns ErrDuplicateTurn if the item was already recorded for the thread.
func (s *SQLiteStore) SaveTurn(ctx context.Context, turn *Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, thread_id, session_id, item_id, role, text, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		turn.ID,
		turn.ThreadID,
		turn.SessionID,
		turn.ItemID,
		turn.Role,
		turn.Text,
		turn.Seq,
		turn.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTurn
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting turn: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`,
		turn.CreatedAt.UTC().Format(timeFormat), turn.ThreadID)
	if err != nil {
		return fmt.Errorf("touching thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	s.logger.Debug("saved turn",
		"turn_id", turn.ID,
		"thread_id", turn.ThreadID,
		"item_id", turn.ItemID,
		"seq", turn.Seq)
	return nil
}

// ListTurns returns turns for a thread in the order they were saved.
// With limit > 0 only the most recent limit turns are returned, still in
// ascending order.
func (s *SQLiteStore) ListTurns(ctx context.Context, threadID string, limit int) ([]*Turn, error) {
	const columns = `id, thread_id, session_id, item_id, role, text, seq, created_at`

	var query string
	var args []any
	if limit > 0 {
		query = `
			SELECT ` + columns + ` FROM (
				SELECT rowid AS pos, ` + columns + `
				FROM turns
				WHERE thread_id = ?
				ORDER BY rowid DESC
				LIMIT ?
			)
			ORDER BY pos ASC
		`
		args = []any{threadID, limit}
	} else {
		query = `SELECT ` + columns + ` FROM turns WHERE thread_id = ? ORDER BY rowid ASC`
		args = []any{threadID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var turn Turn
		var createdAtStr string
		if err := rows.Scan(
			&turn.ID,
			&turn.ThreadID,
			&turn.SessionID,
			&turn.ItemID,
			&turn.Role,
			&turn.Text,
			&turn.Seq,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		turn.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing turn created_at: %w", err)
		}
		turns = append(turns, &turn)
	}
	return turns, rows.Err()
}
