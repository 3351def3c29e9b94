package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore is a durable Store backed by a single SQLite file.
//
// It suits single-process deployments and local development: no server,
// one file on disk, survives restarts. WAL mode is enabled so Inspect calls
// can read while a run writes.
//
// Schema:
//
//	thread_checkpoints(thread_id PK, revision, status, data, updated_at)
//
// data holds the JSON-encoded Checkpoint. revision and status are duplicated
// into columns so the revision check and listing do not decode blobs.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./threads.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS thread_checkpoints (
			thread_id TEXT NOT NULL PRIMARY KEY,
			revision INTEGER NOT NULL,
			status TEXT NOT NULL,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create thread_checkpoints table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON thread_checkpoints(updated_at)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_updated: %w", err)
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Get returns the latest checkpoint for threadID.
func (s *SQLiteStore) Get(ctx context.Context, threadID string) (Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint{}, err
	}

	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM thread_checkpoints WHERE thread_id = ?", threadID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decodeCheckpoint([]byte(data))
}

// Put writes cp using a conditional statement so the revision check and the
// write are a single atomic operation.
func (s *SQLiteStore) Put(ctx context.Context, cp Checkpoint) error {
	if err := validateCheckpoint(cp); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
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
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO thread_checkpoints (thread_id, revision, status, data, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(thread_id) DO NOTHING
		`, cp.ThreadID, cp.Revision, string(cp.Status), string(data), cp.UpdatedAt.UnixNano())
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE thread_checkpoints
			SET revision = ?, status = ?, data = ?, updated_at = ?
			WHERE thread_id = ? AND revision = ?
		`, cp.Revision, string(cp.Status), string(data), cp.UpdatedAt.UnixNano(), cp.ThreadID, cp.Revision-1)
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
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM thread_checkpoints WHERE thread_id = ?", threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List returns thread IDs, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return queryThreadIDs(ctx, s.db,
		"SELECT thread_id FROM thread_checkpoints ORDER BY updated_at DESC, thread_id ASC")
}

// Close closes the database. Calling Close more than once is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func queryThreadIDs(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate threads: %w", err)
	}
	return ids, nil
}
