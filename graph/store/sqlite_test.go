package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func newTestSQLiteStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "threads.db")
	st, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return st, path
}

// TestSQLiteStore_SurvivesReopen simulates a process restart: the file is
// closed and reopened, and the latest checkpoint is still authoritative.
func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	st, path := newTestSQLiteStore(t)

	cp := Checkpoint{
		ThreadID:     "t-1",
		Revision:     1,
		Status:       StatusPaused,
		Values:       map[string]json.RawMessage{"validated_needs": json.RawMessage(`[]`)},
		PendingNodes: []string{"human_validation"},
	}
	if err := st.Put(ctx, cp); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Status != StatusPaused || len(got.PendingNodes) != 1 {
		t.Errorf("unexpected checkpoint after reopen: %+v", got)
	}

	next := got.Clone()
	next.Revision = 2
	next.Status = StatusRunning
	next.PendingNodes = nil
	if err := reopened.Put(ctx, next); err != nil {
		t.Errorf("Put after reopen failed: %v", err)
	}
}

func TestSQLiteStore_Closed(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestSQLiteStore(t)

	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	if _, err := st.Get(ctx, "t"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get on closed store: expected ErrClosed, got %v", err)
	}
	if err := st.Put(ctx, Checkpoint{ThreadID: "t", Revision: 1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Put on closed store: expected ErrClosed, got %v", err)
	}
	if err := st.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping on closed store: expected ErrClosed, got %v", err)
	}
}

// TestSQLiteStore_ConcurrentWriters checks that exactly one of several
// writers racing on the same revision wins.
func TestSQLiteStore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestSQLiteStore(t)
	defer st.Close()

	if err := st.Put(ctx, Checkpoint{ThreadID: "t", Revision: 1, Status: StatusRunning}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- st.Put(ctx, Checkpoint{ThreadID: "t", Revision: 2, Status: StatusRunning})
		}()
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrRevisionConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != writers-1 {
		t.Errorf("ok = %d, conflicts = %d; want 1 and %d", ok, conflicts, writers-1)
	}
}

func TestSQLiteStore_Path(t *testing.T) {
	st, path := newTestSQLiteStore(t)
	defer st.Close()
	if st.Path() != path {
		t.Errorf("Path() = %q, want %q", st.Path(), path)
	}
}
