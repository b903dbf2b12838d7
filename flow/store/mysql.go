package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dshills/flow-go/flow/value"
)

// MySQLStore is a MySQL/MariaDB implementation of ValueStore.
//
// It keeps every document as rows keyed by (location, node_id). Designed
// for:
//   - Pipelines whose results must be queryable from other services
//   - Fleets of workers running independent graphs against one database
//   - Long-lived result archives that outgrow a single file
//
// MySQLStore uses connection pooling; individual statements are atomic, so
// no explicit transactions are needed for the one-row-per-entry schema.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	bound  bool
	loc    string
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/flow
//	user:password@tcp(127.0.0.1:3306)/flow?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment:
//
//	dsn := os.Getenv("FLOW_MYSQL_DSN")
//	st, err := store.NewMySQLStore(dsn)
//
// The store automatically creates the flow_entries table if it does not
// exist and configures connection pooling.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the required database schema if it doesn't exist.
func (m *MySQLStore) createTables(ctx context.Context) error {
	entriesTable := `
		CREATE TABLE IF NOT EXISTS flow_entries (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			location VARCHAR(255) NOT NULL,
			node_id INT NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			fingerprint VARCHAR(128) NOT NULL,
			value JSON NOT NULL,
			stored_at DATETIME(6) NOT NULL,
			elapsed_ms BIGINT NOT NULL DEFAULT 0,
			INDEX idx_location (location),
			UNIQUE KEY unique_location_node (location, node_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, entriesTable); err != nil {
		return fmt.Errorf("failed to create flow_entries table: %w", err)
	}
	return nil
}

func (m *MySQLStore) active() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", fmt.Errorf("store is closed")
	}
	if !m.bound {
		return "", ErrNotBound
	}
	return m.loc, nil
}

// Bind makes location the active document. No rows are read or written.
func (m *MySQLStore) Bind(_ context.Context, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}
	m.loc = location
	m.bound = true
	return nil
}

// Location returns the bound location, or "" before the first Bind.
func (m *MySQLStore) Location() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loc
}

// Lookup returns the stored value for nodeID when the row's fingerprint
// matches exactly.
func (m *MySQLStore) Lookup(ctx context.Context, nodeID int, fingerprint string) (any, bool, error) {
	loc, err := m.active()
	if err != nil {
		return nil, false, err
	}

	query := `
		SELECT value
		FROM flow_entries
		WHERE location = ? AND node_id = ? AND fingerprint = ?
	`

	var valJSON string
	err = m.db.QueryRowContext(ctx, query, loc, nodeID, fingerprint).Scan(&valJSON)
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
func (m *MySQLStore) Store(ctx context.Context, nodeID int, rec Record) error {
	loc, err := m.active()
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
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			fingerprint = VALUES(fingerprint),
			value = VALUES(value),
			stored_at = VALUES(stored_at),
			elapsed_ms = VALUES(elapsed_ms)
	`

	_, err = m.db.ExecContext(ctx, query,
		loc,
		nodeID,
		rec.Name,
		rec.Fingerprint,
		string(valJSON),
		rec.StoredAt.UTC().Format("2006-01-02 15:04:05.999999"),
		rec.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}
	return nil
}

// Forget removes the node's entry. Deleting an absent row is a no-op.
func (m *MySQLStore) Forget(ctx context.Context, nodeID int) error {
	loc, err := m.active()
	if err != nil {
		return err
	}

	query := `DELETE FROM flow_entries WHERE location = ? AND node_id = ?`
	if _, err := m.db.ExecContext(ctx, query, loc, nodeID); err != nil {
		return fmt.Errorf("failed to forget entry: %w", err)
	}
	return nil
}

// Entries returns all rows of the bound location.
func (m *MySQLStore) Entries(ctx context.Context) (map[int]Record, error) {
	loc, err := m.active()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT node_id, name, fingerprint, value, stored_at, elapsed_ms
		FROM flow_entries
		WHERE location = ?
	`

	rows, err := m.db.QueryContext(ctx, query, loc)
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
		rec.StoredAt, err = time.Parse("2006-01-02 15:04:05.999999", storedAt)
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
// After Close, all operations will return an error. Calling Close multiple
// times is safe.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	return m.db.PingContext(ctx)
}
