package fsstore

import (
	"context"

	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/keycodec"
	"github.com/zerofs/zerofs-go/kvstore"
	"github.com/zerofs/zerofs-go/zferr"
)

// Tombstone records that an inode has been unlinked to zero nlink and
// is awaiting background reclamation, along with when that happened so
// package gc can enforce a minimum-age grace period before deleting
// its chunks (spec.md §4.10's crash-safety margin, and
// cfg.LSMConfig.GCMinAgeSeconds).
//
// RemainingFromChunk marks how far a sweep has progressed through the
// inode's chunk range: gc deletes a bounded batch of chunks at a time
// (spec.md §4.8 step 2) rather than staging an entire multi-gigabyte
// file's worth of deletes in one transaction, restaging the tombstone
// with an advanced RemainingFromChunk after each partial batch and
// only clearing it once the range is exhausted.
type Tombstone struct {
	InodeID            inode.ID
	DeletedAt          int64 // Unix seconds.
	RemainingFromChunk uint64
}

// TombstoneStore records and drains pending-deletion inodes. Not
// present in _examples/original_source (no store/tombstone.rs in the
// retrieved pack) — designed directly from spec.md §4.10's
// tombstone-driven GC description, following InodeStore's sibling
// style.
type TombstoneStore struct {
	db *encryption.DB
}

// NewTombstoneStore constructs a tombstone store over db.
func NewTombstoneStore(db *encryption.DB) *TombstoneStore {
	return &TombstoneStore{db: db}
}

// Mark stages a tombstone record for inodeID with its chunk range not
// yet touched by any sweep.
func (s *TombstoneStore) Mark(txn *encryption.Transaction, inodeID inode.ID, deletedAt int64) error {
	return txn.PutBytes(keycodec.TombstoneKey(inodeID), encodeTombstoneValue(deletedAt, 0))
}

// AdvanceRemaining restages inodeID's tombstone with an advanced
// RemainingFromChunk after gc has deleted a bounded batch of its
// chunks but the range isn't yet exhausted, so a crash between sweeps
// resumes from where the last one left off instead of restarting or
// silently dropping progress.
func (s *TombstoneStore) AdvanceRemaining(txn *encryption.Transaction, inodeID inode.ID, deletedAt int64, remainingFromChunk uint64) error {
	return txn.PutBytes(keycodec.TombstoneKey(inodeID), encodeTombstoneValue(deletedAt, remainingFromChunk))
}

// Clear stages the removal of inodeID's tombstone, called once gc has
// fully reclaimed its chunks and inode record.
func (s *TombstoneStore) Clear(txn *encryption.Transaction, inodeID inode.ID) {
	txn.DeleteBytes(keycodec.TombstoneKey(inodeID))
}

// List returns every pending tombstone, for gc to sweep.
func (s *TombstoneStore) List(ctx context.Context) ([]Tombstone, error) {
	start, end := keycodec.TombstoneRangeStart(), keycodec.TombstoneRangeEnd()
	recs, err := s.db.Scan(ctx, start, end, kvstore.ScanOptions{})
	if err != nil {
		return nil, zferr.Wrap(zferr.IoError, "fsstore.TombstoneStore.List", err)
	}

	out := make([]Tombstone, 0, len(recs))
	for _, r := range recs {
		id, ok := decodeTombstoneInodeID(r.Key)
		if !ok {
			continue
		}
		deletedAt, remaining, ok := decodeTombstoneValue(r.Value)
		if !ok {
			continue
		}
		out = append(out, Tombstone{InodeID: id, DeletedAt: deletedAt, RemainingFromChunk: remaining})
	}
	return out, nil
}

// encodeTombstoneValue lays out a tombstone's value as
// [deletedAt(8)][remainingFromChunk(8)].
func encodeTombstoneValue(deletedAt int64, remainingFromChunk uint64) []byte {
	buf := make([]byte, 16)
	encodeInt64BE(buf[:8], deletedAt)
	encodeInt64BE(buf[8:], int64(remainingFromChunk))
	return buf
}

func decodeTombstoneValue(data []byte) (deletedAt int64, remainingFromChunk uint64, ok bool) {
	if len(data) < 8 {
		return 0, 0, false
	}
	deletedAt = decodeInt64BE(data[:8])
	if len(data) >= 16 {
		remainingFromChunk = uint64(decodeInt64BE(data[8:16]))
	}
	return deletedAt, remainingFromChunk, true
}

func encodeInt64BE(buf []byte, v int64) {
	u := uint64(v)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(u)
		u >>= 8
	}
}

func decodeInt64BE(buf []byte) int64 {
	var u uint64
	for i := 0; i < 8; i++ {
		u = u<<8 | uint64(buf[i])
	}
	return int64(u)
}

func decodeTombstoneInodeID(key []byte) (inode.ID, bool) {
	// TombstoneKey is [prefix byte][8-byte big-endian inode id].
	if len(key) != 9 {
		return 0, false
	}
	return keycodec.GetUint64BE(key[1:]), true
}
