package kvstore

import (
	"sort"
	"sync"
)

// memtable is the mutable, in-memory sorted view of the most recently
// written records. Lookups binary-search a sorted key slice; inserts
// keep that slice sorted by inserting at the located position. This is
// O(n) per insert, which is an intentional simplification for a
// teaching-scale engine (no btree/skiplist package appears in any
// example repo's go.mod, and the real cost driver at this scale is
// object-store round trips, not in-memory insert time), not a
// correctness shortcut.
type memtable struct {
	mu      sync.RWMutex
	keys    [][]byte
	records map[string]Record
	size    int
}

func newMemtable() *memtable {
	return &memtable{records: make(map[string]Record)}
}

func (m *memtable) apply(ops []Op) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		m.putLocked(Record{Key: op.Key, Value: op.Value, Deleted: op.Deleted})
	}
}

func (m *memtable) putLocked(rec Record) {
	k := string(rec.Key)
	if _, exists := m.records[k]; !exists {
		i := sort.Search(len(m.keys), func(i int) bool { return compareKeys(m.keys[i], rec.Key) >= 0 })
		m.keys = append(m.keys, nil)
		copy(m.keys[i+1:], m.keys[i:])
		m.keys[i] = rec.Key
	}
	m.records[k] = rec
	m.size += len(rec.Key) + len(rec.Value)
}

func (m *memtable) get(key []byte) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[string(key)]
	return rec, ok
}

// sizeBytes returns an approximate memory footprint used to decide
// when to flush.
func (m *memtable) sizeBytes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *memtable) isEmpty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys) == 0
}

// scan returns every record whose key is in [start, end) ordered by
// key, used both to serve DB.Scan and to build a segment on flush.
func (m *memtable) scan(start, end []byte) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lo := 0
	if start != nil {
		lo = sort.Search(len(m.keys), func(i int) bool { return compareKeys(m.keys[i], start) >= 0 })
	}
	hi := len(m.keys)
	if end != nil {
		hi = sort.Search(len(m.keys), func(i int) bool { return compareKeys(m.keys[i], end) >= 0 })
	}

	out := make([]Record, 0, hi-lo)
	for _, k := range m.keys[lo:hi] {
		out = append(out, m.records[string(k)])
	}
	return out
}

// snapshot returns every record in key order, for a full flush to a
// segment.
func (m *memtable) snapshot() []Record {
	return m.scan(nil, nil)
}

func (m *memtable) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = nil
	m.records = make(map[string]Record)
	m.size = 0
}
