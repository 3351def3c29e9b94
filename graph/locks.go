package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/aikogroup/aiko-gpt-sub001/graph/emit"
)

// threadLocks serializes Start, Resume and Recover calls per thread inside
// one process. Entries are reference counted and dropped when unused.
type threadLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{entries: make(map[string]*lockEntry)}
}

func (l *threadLocks) acquire(threadID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[threadID]
	if !ok {
		entry = &lockEntry{}
		l.entries[threadID] = entry
	}
	entry.refs++
	return entry
}

func (l *threadLocks) release(threadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[threadID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.entries, threadID)
	}
}

// size returns the number of live entries.
func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// withThreadLock runs fn holding the in-process lock for threadID and, when
// configured, the distributed lock from Options.Locker.
func (e *Engine) withThreadLock(ctx context.Context, threadID string, fn func(ctx context.Context) error) error {
	entry := e.locks.acquire(threadID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		e.locks.release(threadID)
	}()

	if e.opts.Locker != nil {
		unlock, err := e.opts.Locker.Lock(ctx, threadID, e.opts.LockTTL)
		if err != nil {
			e.emit(threadID, 0, "", emit.MsgLockConflict, map[string]interface{}{"error": err.Error()})
			return engineError(CodeConcurrency, fmt.Errorf("%w: %w", ErrConcurrencyViolation, err),
				"thread "+threadID+" is locked by another writer")
		}
		defer func() {
			// ctx may be cancelled by now; the lock is released regardless.
			_ = unlock(context.WithoutCancel(ctx))
		}()
	}

	return fn(ctx)
}
