package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/flow-go/flow/value"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of ValueStore.
//
// It keeps every document in a single-file database, one row per node
// entry, keyed by (location, node_id). Designed for:
//   - Development and testing with zero setup
//   - Single-process pipelines
//   - Local runs requiring persistence
//
// SQLiteStore uses WAL mode for concurrent reads. Binding a location is a
// pure pointer move; rows for other locations are untouched, so a batch run
// can hop across thousands of per-item locations in one database file.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	bound  bool
	loc    string
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./results.db" - file in current directory
//   - "/tmp/flow.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically creates the database file and schema on first
// use and enables WAL mode. Call Bind before running a graph against it.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./results.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		path: path,
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required database schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	entriesTable := `
		CREATE TABLE IF NOT EXISTS flow_entries (
			location TEXT NOT NULL,
			node_id INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL,
			value TEXT NOT NULL,
			stored_at TEXT NOT NULL,
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (location, node_id)
		)
	`
	if _, err := s.db.ExecContext(ctx, entriesTable); err != nil {
		return fmt.Errorf("failed to create flow_entries table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_entries_fingerprint ON flow_entries(fingerprint)"); err != nil {
		return fmt.Errorf("failed to create idx_entries_fingerprint: %w", err)
	}

	return nil
}

// active returns the bound location, or an error when the store is closed
// or Bind has not been called yet.
func (s *SQLiteStore) active() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}
	if !s.bound {
		return "", ErrNotBound
	}
	return s.loc, nil
}

// Bind makes location the active document. No rows are read or written;
// entries for other locations remain exactly as they were.
func (s *SQLiteStore) Bind(_ context.Context, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	s.loc = location
	s.bound = true
	return nil
}

// Location returns the bound location, or "" before the first Bind.
func (s *SQLiteStore) Location() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loc
}

// Lookup returns the stored value for nodeID when the row's fingerprint
// matches exactly. A missing row or a different fingerprint is a miss.
func (s *SQLiteStore) Lookup(ctx context.Context, nodeID int, fingerprint string) (any, bool, error) {
	loc, err := s.active()
	if err != nil {
		return nil, false, err
	}

	query := `
		SELECT value
		FROM flow_entries
		WHERE location = ? AND node_id = ? AND fingerprint = ?
	`

	var valJSON string
	err = s.db.QueryRowContext(ctx, query, loc, nodeID, fingerprint).Scan(&valJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up entry: %w", err)
	}

	v, err := decodeValue([]byte(valJSON))
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode entry value: %w", err)
	}
	return v, true, nil
}

// Store writes the node's entry, replacing any previous row for the same
// node id in the bound location.
func (s *SQLiteStore) Store(ctx context.Context, nodeID int, rec Record) error {
	loc, err := s.active()
	if err != nil {
		return err
	}

	valJSON, err := value.Canonical(rec.Value)
	if err != nil {
		return fmt.Errorf("failed to marshal entry value: %w", err)
	}

	query := `
		INSERT INTO flow_entries (location, node_id, name, fingerprint, value, stored_at, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location, node_id) DO UPDATE SET
			name = excluded.name,
			fingerprint = excluded.fingerprint,
			value = excluded.value,
			stored_at = excluded.stored_at,
			elapsed_ms = excluded.elapsed_ms
	`

	_, err = s.db.ExecContext(ctx, query,
		loc,
		nodeID,
		rec.Name,
		rec.Fingerprint,
		string(valJSON),
		rec.StoredAt.Format(time.RFC3339Nano),
		rec.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}

	return nil
}

// Forget removes the node's entry. Deleting an absent row is a no-op.
func (s *SQLiteStore) Forget(ctx context.Context, nodeID int) error {
	loc, err := s.active()
	if err != nil {
		return err
	}

	query := `DELETE FROM flow_entries WHERE location = ? AND node_id = ?`
	if _, err := s.db.ExecContext(ctx, query, loc, nodeID); err != nil {
		return fmt.Errorf("failed to forget entry: %w", err)
	}
	return nil
}

// Entries returns all rows of the bound location.
func (s *SQLiteStore) Entries(ctx context.Context) (map[int]Record, error) {
	loc, err := s.active()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT node_id, name, fingerprint, value, stored_at, elapsed_ms
		FROM flow_entries
		WHERE location = ?
	`

	rows, err := s.db.QueryContext(ctx, query, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int]Record)
	for rows.Next() {
		var (
			nodeID    int
			rec       Record
			valJSON   string
			storedAt  string
			elapsedMS int64
		)
		if err := rows.Scan(&nodeID, &rec.Name, &rec.Fingerprint, &valJSON, &storedAt, &elapsedMS); err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}

		rec.Value, err = decodeValue([]byte(valJSON))
		if err != nil {
			return nil, fmt.Errorf("failed to decode entry value: %w", err)
		}
		rec.StoredAt, err = time.Parse(time.RFC3339Nano, storedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse entry timestamp: %w", err)
		}
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond

		out[nodeID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry rows: %w", err)
	}

	return out, nil
}

// Close closes the database connection.
//
// After Close, all operations will return an error.
// Calling Close multiple times is safe (subsequent calls are no-ops).
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}
