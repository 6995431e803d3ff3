// Package lockmgr provides per-inode asynchronous write locking with
// deadlock-free multi-lock acquisition. Every mutating filesystem
// operation acquires the locks for the inodes it touches, sorted by
// id, before performing any transaction work; this is the serialization
// boundary the rest of the engine relies on for per-inode consistency.
package lockmgr

import (
	"context"
	"sort"
	"sync"

	"github.com/zerofs/zerofs-go/inode"
)

// entry is a single inode's lock: a one-token channel acting as a
// cancellable mutex, plus a reference count (guarded by Manager.mu)
// tracking how many goroutines currently hold or are waiting on it.
type entry struct {
	ch   chan struct{}
	refs int
}

func newEntry() *entry {
	e := &entry{ch: make(chan struct{}, 1)}
	e.ch <- struct{}{}
	return e
}

// Manager hands out per-inode write locks. The zero value is not
// usable; construct with New.
type Manager struct {
	mu      sync.Mutex
	entries map[inode.ID]*entry
}

// New returns an empty lock manager.
func New() *Manager {
	return &Manager{entries: make(map[inode.ID]*entry)}
}

// Guard releases a single inode's lock. Release is idempotent-unsafe:
// call it exactly once, typically via defer.
type Guard struct {
	mgr *Manager
	id  inode.ID
	e   *entry
}

// Release returns the lock for later acquirers and, if no one else is
// waiting on it, removes the manager's bookkeeping entry so the map
// does not grow unboundedly with every inode ever touched.
func (g *Guard) Release() {
	g.e.ch <- struct{}{}
	g.mgr.release(g.id, g.e)
}

// MultiGuard releases a set of inode locks acquired together, in the
// reverse of acquisition order.
type MultiGuard struct {
	guards []*Guard
}

// Release releases every held lock.
func (g *MultiGuard) Release() {
	for i := len(g.guards) - 1; i >= 0; i-- {
		g.guards[i].Release()
	}
}

func (m *Manager) getOrCreate(id inode.ID) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		e = newEntry()
		m.entries[id] = e
	}
	e.refs++
	return e
}

func (m *Manager) release(id inode.ID, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, id)
	}
}

// count reports how many distinct inodes currently have a live entry;
// used by tests to assert cleanup.
func (m *Manager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// AcquireWrite blocks until the write lock for id is held, or ctx is
// done. On cancellation the pending waiter's reservation is released
// so it never leaks a refcount.
func (m *Manager) AcquireWrite(ctx context.Context, id inode.ID) (*Guard, error) {
	e := m.getOrCreate(id)
	select {
	case <-e.ch:
		return &Guard{mgr: m, id: id, e: e}, nil
	case <-ctx.Done():
		m.release(id, e)
		return nil, ctx.Err()
	}
}

// AcquireMultipleWrite locks every id in ids, sorted ascending and
// deduplicated first, so two callers that touch overlapping sets of
// inodes always take them in the same order and can never deadlock
// against each other. On a failed or cancelled acquisition, every lock
// already held is released before returning the error.
func (m *Manager) AcquireMultipleWrite(ctx context.Context, ids []inode.ID) (*MultiGuard, error) {
	sorted := append([]inode.ID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	sorted = dedup(sorted)

	mg := &MultiGuard{guards: make([]*Guard, 0, len(sorted))}
	for _, id := range sorted {
		g, err := m.AcquireWrite(ctx, id)
		if err != nil {
			mg.Release()
			return nil, err
		}
		mg.guards = append(mg.guards, g)
	}
	return mg, nil
}

func dedup(ids []inode.ID) []inode.ID {
	if len(ids) == 0 {
		return ids
	}
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
