package kvstore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zerofs/zerofs-go/cfg"
	"github.com/zerofs/zerofs-go/objstore"
	"golang.org/x/sync/errgroup"
)

// WriteOptions controls a single WriteBatch call.
type WriteOptions struct {
	// AwaitDurable, when true, fsyncs the write-ahead log entry before
	// returning — the exact point spec.md §4.1/§4.5 requires a write
	// to be considered durable. Batched, non-durability-critical
	// writes (e.g. deep-clone metadata replay) may set this false for
	// throughput and flush explicitly afterward.
	AwaitDurable bool
}

// PutOptions is reserved for future per-put tuning (e.g. TTL) and
// currently carries no fields; it exists so DB's signature matches
// spec.md §4.1's public contract exactly.
type PutOptions struct{}

// ScanOptions bounds a Scan call; Limit <= 0 means unbounded.
type ScanOptions struct {
	Limit int
}

// DB is the engine's LSM-tree key/value store: a memtable backed by a
// local write-ahead log, flushed to immutable sorted segments on an
// object store, with a background tiered compactor. See the package
// doc comment in record.go and DESIGN.md's "kvstore" entry.
type DB struct {
	store    objstore.Store
	localDir string
	lsmCfg   cfg.LSMConfig

	wal *wal
	mem *memtable

	mu       sync.RWMutex
	manifest *manifest
	segments []*segment // newest-first, mirrors manifest.SegmentIDs

	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// Open recovers (or initializes) a database rooted at store, using
// localDir for the write-ahead log.
func Open(ctx context.Context, store objstore.Store, localDir string, lsmCfg cfg.LSMConfig) (*DB, error) {
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, fmt.Errorf("kvstore: create local dir: %w", err)
	}

	m, err := loadManifest(ctx, store)
	if err != nil {
		return nil, err
	}

	db := &DB{
		store:    store,
		localDir: localDir,
		lsmCfg:   lsmCfg,
		mem:      newMemtable(),
		manifest: m,
		stopCh:   make(chan struct{}),
	}

	if err := db.loadSegments(ctx); err != nil {
		return nil, err
	}

	w, err := openWAL(walPath(localDir))
	if err != nil {
		return nil, err
	}
	db.wal = w

	// Recover any writes whose segment flush never completed: replay
	// re-applies them to the fresh memtable, then they're written out
	// again on the next flush.
	if err := replayWAL(walPath(localDir), func(ops []Op) { db.mem.apply(ops) }); err != nil {
		return nil, fmt.Errorf("kvstore: replay wal: %w", err)
	}

	db.wg.Add(1)
	go db.compactionLoop()

	return db, nil
}

func (db *DB) loadSegments(ctx context.Context) error {
	ids := db.manifest.SegmentIDs
	segs := make([]*segment, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			s, err := loadSegment(ctx, db.store, id, segmentObjectKey(id))
			if err != nil {
				return err
			}
			segs[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	db.mu.Lock()
	db.segments = segs
	db.mu.Unlock()
	return nil
}

// Get returns the current value for key, checking the memtable first
// and then segments newest-first.
func (db *DB) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if rec, ok := db.mem.get(key); ok {
		if rec.Deleted {
			return nil, false, nil
		}
		return rec.Value, true, nil
	}

	db.mu.RLock()
	segs := append([]*segment(nil), db.segments...)
	db.mu.RUnlock()

	for _, s := range segs {
		if rec, ok := s.get(key); ok {
			if rec.Deleted {
				return nil, false, nil
			}
			return rec.Value, true, nil
		}
	}
	return nil, false, nil
}

// Put writes a single key/value as a one-operation batch.
func (db *DB) Put(ctx context.Context, key, value []byte, _ PutOptions, wopts WriteOptions) error {
	b := NewBatch()
	b.Put(key, value)
	return db.WriteBatch(ctx, b, wopts)
}

// Delete removes a single key as a one-operation batch.
func (db *DB) Delete(ctx context.Context, key []byte, wopts WriteOptions) error {
	b := NewBatch()
	b.Delete(key)
	return db.WriteBatch(ctx, b, wopts)
}

// WriteBatch commits every operation in b atomically: the WAL entry is
// written (and, if requested, fsynced) before the memtable is updated,
// so a batch whose WAL entry reached disk before a crash is applied
// again when Open replays the WAL.
func (db *DB) WriteBatch(ctx context.Context, b *Batch, opts WriteOptions) error {
	if b.Len() == 0 {
		return nil
	}
	if err := db.wal.append(b.Ops(), opts.AwaitDurable); err != nil {
		return err
	}
	db.mem.apply(b.Ops())

	if db.mem.sizeBytes() >= int(db.lsmCfg.MaxSSTSize) {
		if err := db.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Flush forces the memtable to a new immutable segment and rotates the
// write-ahead log, the durable checkpoint snapshot creation relies on
// (spec.md §5's 30s flush timeout is enforced by the caller via ctx).
func (db *DB) Flush(ctx context.Context) error {
	if db.mem.isEmpty() {
		return nil
	}

	records := db.mem.snapshot()

	db.mu.Lock()
	id := db.manifest.NextSegmentID
	db.manifest.NextSegmentID++
	db.mu.Unlock()

	seg, err := writeSegment(ctx, db.store, id, records)
	if err != nil {
		return err
	}

	db.mu.Lock()
	db.segments = append([]*segment{seg}, db.segments...)
	db.manifest.SegmentIDs = append([]uint64{id}, db.manifest.SegmentIDs...)
	m := *db.manifest
	db.mu.Unlock()

	if err := m.save(ctx, db.store); err != nil {
		return err
	}
	if err := db.wal.rotate(); err != nil {
		return err
	}
	db.mem.reset()
	return nil
}

// NextSeqNo allocates the next monotonic batch sequence number, used
// by package txn to stamp committed batches (spec.md §4.5/§5).
func (db *DB) NextSeqNo() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := db.manifest.NextSeqNo
	db.manifest.NextSeqNo++
	return n
}

// Iterator yields Scan results in ascending key order.
type Iterator struct {
	records []Record
	pos     int
}

func (it *Iterator) Next() (Record, bool) {
	if it.pos >= len(it.records) {
		return Record{}, false
	}
	r := it.records[it.pos]
	it.pos++
	return r, true
}

// Scan returns every live (non-deleted) record in [start, end),
// merging the memtable with segments newest-first so a later write
// shadows an earlier one for the same key.
func (db *DB) Scan(ctx context.Context, start, end []byte, opts ScanOptions) (*Iterator, error) {
	merged := make(map[string]Record)

	db.mu.RLock()
	segs := append([]*segment(nil), db.segments...)
	db.mu.RUnlock()

	// Oldest first, so later (newer) writers overwrite in the map.
	for i := len(segs) - 1; i >= 0; i-- {
		for _, r := range segs[i].scan(start, end) {
			merged[string(r.Key)] = r
		}
	}
	for _, r := range db.mem.scan(start, end) {
		merged[string(r.Key)] = r
	}

	keys := make([][]byte, 0, len(merged))
	for k := range merged {
		keys = append(keys, []byte(k))
	}
	sortKeys(keys)

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		r := merged[string(k)]
		if r.Deleted {
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return &Iterator{records: out}, nil
}

func sortKeys(keys [][]byte) {
	// Insertion sort by compareKeys; kept as its own helper so Scan's
	// intent (merge-then-order) reads clearly.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && compareKeys(keys[j-1], keys[j]) > 0; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}

// Close stops the background compactor, flushes any remaining
// memtable contents, and releases the write-ahead log file handle.
func (db *DB) Close(ctx context.Context) error {
	var err error
	db.closeOnce.Do(func() {
		close(db.stopCh)
		db.wg.Wait()
		if flushErr := db.Flush(ctx); flushErr != nil {
			err = flushErr
			return
		}
		err = db.wal.close()
	})
	return err
}

func (db *DB) compactionLoop() {
	defer db.wg.Done()
	interval := time.Duration(db.lsmCfg.GCIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-db.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := db.maybeCompact(ctx); err != nil {
				// A failed round is dropped here and nothing logs
				// it; the next tick tries again. kvstore stays
				// free of the logging layer, like the teacher's
				// leaf packages (e.g. common/queue.go).
				_ = err
			}
			cancel()
		}
	}
}
