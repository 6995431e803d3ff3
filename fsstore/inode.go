// Package fsstore implements the filesystem's data-access layer atop
// package encryption's plaintext-in/ciphertext-out DB: per-inode
// records, directory entries, file content chunks, deletion
// tombstones, and the dataset registry. Each store is a thin,
// key-codec-aware wrapper — no store owns a lock of its own; callers
// (package txn, package fs) hold the relevant lockmgr guard before
// calling any mutating method here.
package fsstore

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/keycodec"
	"github.com/zerofs/zerofs-go/metadatacache"
	"github.com/zerofs/zerofs-go/zferr"
)

// MaxHardlinksPerInode bounds Inode.Common.Nlink.
const MaxHardlinksPerInode = ^uint32(0)

// InodeStore reads and writes inode records, optionally cache-through
// via a metadatacache.Cache, and allocates fresh inode ids from a
// monotonic in-memory counter persisted alongside the data.
// Grounded on _examples/original_source/zerofs/src/fs/store/inode.rs.
type InodeStore struct {
	db     *encryption.DB
	nextID atomic.Uint64
	cache  *metadatacache.Cache // nil disables cache-through.
}

// NewInodeStore constructs a store whose allocator starts at
// initialNextID (recovered from the persisted system counter on open).
func NewInodeStore(db *encryption.DB, initialNextID uint64) *InodeStore {
	s := &InodeStore{db: db}
	s.nextID.Store(initialNextID)
	return s
}

// NewInodeStoreWithCache is NewInodeStore plus cache-through reads and
// writes against cache.
func NewInodeStoreWithCache(db *encryption.DB, initialNextID uint64, cache *metadatacache.Cache) *InodeStore {
	s := NewInodeStore(db, initialNextID)
	s.cache = cache
	return s
}

// Allocate returns a fresh inode id.
func (s *InodeStore) Allocate() inode.ID {
	return s.nextID.Add(1) - 1
}

// NextID reports the next id Allocate would return, without consuming
// it — used when persisting the system counter.
func (s *InodeStore) NextID() uint64 {
	return s.nextID.Load()
}

// Get fetches an inode's record, checking the metadata cache first
// when one is configured.
func (s *InodeStore) Get(ctx context.Context, id inode.ID) (inode.Inode, error) {
	if s.cache != nil {
		if in, ok, cached := s.cache.GetInode(id); cached {
			if !ok {
				return inode.Inode{}, zferr.New(zferr.NotFound, "fsstore.InodeStore.Get")
			}
			return in, nil
		}
	}

	key := keycodec.InodeKey(id)
	data, ok, err := s.db.GetBytes(ctx, key)
	if err != nil {
		return inode.Inode{}, zferr.Wrap(zferr.IoError, "fsstore.InodeStore.Get", err)
	}
	if !ok {
		if s.cache != nil {
			s.cache.PutInode(id, inode.Inode{}, false)
		}
		return inode.Inode{}, zferr.New(zferr.NotFound, "fsstore.InodeStore.Get")
	}

	in, err := inode.Unmarshal(data)
	if err != nil {
		return inode.Inode{}, zferr.Wrap(zferr.InvalidData, "fsstore.InodeStore.Get", err)
	}
	if s.cache != nil {
		s.cache.PutInode(id, in, true)
	}
	return in, nil
}

// Save stages id's record into txn and updates the cache.
func (s *InodeStore) Save(txn *encryption.Transaction, id inode.ID, in inode.Inode) error {
	key := keycodec.InodeKey(id)
	data, err := inode.Marshal(in)
	if err != nil {
		return fmt.Errorf("fsstore: marshal inode %d: %w", id, err)
	}
	if err := txn.PutBytes(key, data); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.PutInode(id, in, true)
	}
	return nil
}

// Delete stages id's record for deletion and invalidates the cache.
func (s *InodeStore) Delete(txn *encryption.Transaction, id inode.ID) {
	txn.DeleteBytes(keycodec.InodeKey(id))
	if s.cache != nil {
		s.cache.InvalidateInode(id)
	}
}

// SaveCounter stages the current allocator position under the
// system-counter key, so a restart resumes past every id already
// handed out.
func (s *InodeStore) SaveCounter(txn *encryption.Transaction) error {
	key := keycodec.SystemCounterKey(keycodec.CounterNextInodeID)
	return txn.PutBytes(key, keycodec.PutUint64BE(s.nextID.Load()))
}
