package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLStore is a durable Store backed by MySQL or Aurora.
//
// Suited to multi-process deployments where several workers share threads.
// Revision checks are enforced by conditional statements, so two workers
// resuming the same thread cannot both commit the same revision.
//
// DSN format:
//
//	user:password@tcp(host:port)/dbname?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a pooled connection, verifies it and ensures the schema.
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

	s, err := NewMySQLStoreFromDB(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewMySQLStoreFromDB wraps an existing pool and ensures the schema.
// The store takes ownership of db; Close closes it.
func NewMySQLStoreFromDB(ctx context.Context, db *sql.DB) (*MySQLStore, error) {
	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS thread_checkpoints (
			thread_id VARCHAR(255) NOT NULL PRIMARY KEY,
			revision BIGINT NOT NULL,
			status VARCHAR(32) NOT NULL,
			data JSON NOT NULL,
			updated_at BIGINT NOT NULL,
			INDEX idx_updated_at (updated_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create thread_checkpoints table: %w", err)
	}
	return nil
}

func (m *MySQLStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Get returns the latest checkpoint for threadID.
func (m *MySQLStore) Get(ctx context.Context, threadID string) (Checkpoint, error) {
	if err := m.checkOpen(); err != nil {
		return Checkpoint{}, err
	}

	var data []byte
	err := m.db.QueryRowContext(ctx,
		"SELECT data FROM thread_checkpoints WHERE thread_id = ?", threadID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decodeCheckpoint(data)
}

// Put writes cp if its revision directly follows the stored one.
func (m *MySQLStore) Put(ctx context.Context, cp Checkpoint) error {
	if err := validateCheckpoint(cp); err != nil {
		return err
	}
	if err := m.checkOpen(); err != nil {
		return err
	}

	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}

	var res sql.Result
	if cp.Revision == 1 {
		res, err = m.db.ExecContext(ctx,
			"INSERT IGNORE INTO thread_checkpoints (thread_id, revision, status, data, updated_at) VALUES (?, ?, ?, ?, ?)",
			cp.ThreadID, cp.Revision, string(cp.Status), data, cp.UpdatedAt.UnixNano())
	} else {
		res, err = m.db.ExecContext(ctx,
			"UPDATE thread_checkpoints SET revision = ?, status = ?, data = ?, updated_at = ? WHERE thread_id = ? AND revision = ?",
			cp.Revision, string(cp.Status), data, cp.UpdatedAt.UnixNano(), cp.ThreadID, cp.Revision-1)
	}
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: thread %s rejected write at revision %d",
			ErrRevisionConflict, cp.ThreadID, cp.Revision)
	}
	return nil
}

// Delete removes the checkpoint row for threadID.
func (m *MySQLStore) Delete(ctx context.Context, threadID string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, "DELETE FROM thread_checkpoints WHERE thread_id = ?", threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List returns thread IDs, most recently updated first.
func (m *MySQLStore) List(ctx context.Context) ([]string, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return queryThreadIDs(ctx, m.db,
		"SELECT thread_id FROM thread_checkpoints ORDER BY updated_at DESC, thread_id ASC")
}

// Close closes the connection pool. Calling Close more than once is a no-op.
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
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Stats returns connection pool statistics.
func (m *MySQLStore) Stats() sql.DBStats {
	return m.db.Stats()
}
