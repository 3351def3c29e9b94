package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store for testing and single-process use.
//
// MemStore is not durable on its own. It can be snapshotted with MarshalJSON
// and restored with UnmarshalJSON, which is how tests simulate a process
// restart without a database.
//
// Thread-safe for concurrent access.
type MemStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint // threadID -> latest checkpoint
	now         func() time.Time
}

// NewMemStore creates a new empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		checkpoints: make(map[string]Checkpoint),
		now:         time.Now,
	}
}

// Get returns the latest checkpoint for threadID.
func (m *MemStore) Get(_ context.Context, threadID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[threadID]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	return cp.Clone(), nil
}

// Put stores cp if its revision follows the stored one.
func (m *MemStore) Put(_ context.Context, cp Checkpoint) error {
	if err := validateCheckpoint(cp); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var stored int64
	if existing, ok := m.checkpoints[cp.ThreadID]; ok {
		stored = existing.Revision
	}
	if err := checkRevision(cp.ThreadID, stored, cp.Revision); err != nil {
		return err
	}

	cp = cp.Clone()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = m.now()
	}
	m.checkpoints[cp.ThreadID] = cp
	return nil
}

// Delete removes the checkpoint for threadID.
func (m *MemStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.checkpoints, threadID)
	return nil
}

// List returns thread IDs, most recently updated first.
func (m *MemStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.checkpoints))
	for id := range m.checkpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.checkpoints[ids[i]], m.checkpoints[ids[j]]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}

// serializableMemStore is the JSON shape of a MemStore snapshot.
type serializableMemStore struct {
	Checkpoints map[string]Checkpoint `json:"checkpoints"`
}

// MarshalJSON serializes every checkpoint in the store.
//
// Example:
//
//	data, err := st.MarshalJSON()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("threads.json", data, 0o600)
func (m *MemStore) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return json.Marshal(serializableMemStore{Checkpoints: m.checkpoints})
}

// UnmarshalJSON replaces the store contents with a snapshot produced by MarshalJSON.
func (m *MemStore) UnmarshalJSON(data []byte) error {
	var s serializableMemStore
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints = s.Checkpoints
	if m.checkpoints == nil {
		m.checkpoints = make(map[string]Checkpoint)
	}
	if m.now == nil {
		m.now = time.Now
	}
	return nil
}
