package fsstore

import (
	"context"
	"sync/atomic"

	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/keycodec"
)

// StatsStore holds the engine's process-wide usage counters
// (used_bytes, used_inodes). The in-memory value is authoritative for
// statfs; the persisted value lags behind and is only a restart
// recovery hint — spec.md §9 treats it as reconstructable by full
// traversal if the consistency checker detects divergence.
type StatsStore struct {
	db         *encryption.DB
	usedBytes  atomic.Int64
	usedInodes atomic.Int64
}

// NewStatsStore loads the persisted counters, defaulting to zero if
// none have ever been saved (a fresh database).
func NewStatsStore(ctx context.Context, db *encryption.DB) (*StatsStore, error) {
	s := &StatsStore{db: db}
	if data, ok, err := db.GetBytes(ctx, keycodec.SystemCounterKey(keycodec.CounterUsedBytes)); err != nil {
		return nil, err
	} else if ok {
		s.usedBytes.Store(int64(keycodec.GetUint64BE(data)))
	}
	if data, ok, err := db.GetBytes(ctx, keycodec.SystemCounterKey(keycodec.CounterUsedInodes)); err != nil {
		return nil, err
	} else if ok {
		s.usedInodes.Store(int64(keycodec.GetUint64BE(data)))
	}
	return s, nil
}

// AddBytes adjusts the in-memory used_bytes counter by delta, which
// may be negative (GC reclaiming a file's chunks).
func (s *StatsStore) AddBytes(delta int64) { s.usedBytes.Add(delta) }

// AddInodes adjusts the in-memory used_inodes counter by delta.
func (s *StatsStore) AddInodes(delta int64) { s.usedInodes.Add(delta) }

// UsedBytes and UsedInodes report the current in-memory counters.
func (s *StatsStore) UsedBytes() uint64  { return uint64(s.usedBytes.Load()) }
func (s *StatsStore) UsedInodes() uint64 { return uint64(s.usedInodes.Load()) }

// Persist stages the current counters into txn, called periodically
// (mirroring InodeStore.SaveCounter's allocator checkpoint) rather
// than on every mutation, since the durable value is only ever a
// restart hint.
func (s *StatsStore) Persist(txn *encryption.Transaction) error {
	if err := txn.PutBytes(keycodec.SystemCounterKey(keycodec.CounterUsedBytes), keycodec.PutUint64BE(s.UsedBytes())); err != nil {
		return err
	}
	return txn.PutBytes(keycodec.SystemCounterKey(keycodec.CounterUsedInodes), keycodec.PutUint64BE(s.UsedInodes()))
}
