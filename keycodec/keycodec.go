// Package keycodec defines the byte layout of every key stored in the
// underlying KV database: a one-byte prefix identifying the record
// kind, followed by fixed-width big-endian integers and optional raw
// bytes. All integers are encoded big-endian so that lexicographic
// byte order matches numeric order, which the LSM engine relies on for
// ordered scans.
//
// Grounded on _examples/original_source/zerofs/src/fs/key_codec.rs.
package keycodec

import (
	"encoding/binary"
)

// Prefix identifies the kind of record a key encodes.
type Prefix byte

const (
	PrefixInode Prefix = iota
	PrefixChunk
	PrefixDirEntry
	PrefixDirScan
	PrefixDirCookie
	PrefixTombstone
	PrefixSystemCounter
	PrefixDatasetRegistry
	PrefixWrappedKey
)

// SystemCounter names a persisted process-wide counter keyed under
// PrefixSystemCounter.
type SystemCounter byte

const (
	CounterNextInodeID SystemCounter = iota
	CounterNextDatasetID
	CounterUsedBytes
	CounterUsedInodes
)

// InodeKey returns the key for Inode(id) → encoded inode.
func InodeKey(id uint64) []byte {
	k := make([]byte, 1+8)
	k[0] = byte(PrefixInode)
	binary.BigEndian.PutUint64(k[1:], id)
	return k
}

// ChunkKey returns the key for Chunk(inode, index) → compressed,
// encrypted chunk bytes.
func ChunkKey(inodeID, index uint64) []byte {
	k := make([]byte, 1+8+8)
	k[0] = byte(PrefixChunk)
	binary.BigEndian.PutUint64(k[1:9], inodeID)
	binary.BigEndian.PutUint64(k[9:], index)
	return k
}

// ChunkRangeStart/End bound the scan range [start, end) covering every
// Chunk key belonging to inodeID.
func ChunkRangeStart(inodeID uint64) []byte { return ChunkKey(inodeID, 0) }
func ChunkRangeEnd(inodeID uint64) []byte   { return ChunkKey(inodeID, ^uint64(0)) }

// DirEntryKey returns the key for DirEntry(parent, name) →
// (child_inode_id, cookie).
func DirEntryKey(parent uint64, name []byte) []byte {
	k := make([]byte, 1+8+len(name))
	k[0] = byte(PrefixDirEntry)
	binary.BigEndian.PutUint64(k[1:9], parent)
	copy(k[9:], name)
	return k
}

// DirEntryRangeStart/End bound the scan range covering every DirEntry
// key under the given parent, for a full-directory walk.
func DirEntryRangeStart(parent uint64) []byte {
	return DirEntryKey(parent, nil)
}

func DirEntryRangeEnd(parent uint64) []byte {
	return DirEntryKey(parent+1, nil)
}

// EncodeDirEntryValue packs the (child_inode_id, cookie) pair stored
// under a DirEntry key.
func EncodeDirEntryValue(childID, cookie uint64) []byte {
	v := make([]byte, 16)
	binary.BigEndian.PutUint64(v[0:8], childID)
	binary.BigEndian.PutUint64(v[8:16], cookie)
	return v
}

// DecodeDirEntryValue unpacks a DirEntry value.
func DecodeDirEntryValue(v []byte) (childID, cookie uint64, ok bool) {
	if len(v) != 16 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint64(v[0:8]), binary.BigEndian.Uint64(v[8:16]), true
}

// DirScanKey returns the key for DirScan(parent, cookie) → (name,
// child inode id).
func DirScanKey(parent, cookie uint64) []byte {
	k := make([]byte, 1+8+8)
	k[0] = byte(PrefixDirScan)
	binary.BigEndian.PutUint64(k[1:9], parent)
	binary.BigEndian.PutUint64(k[9:], cookie)
	return k
}

// DirScanRangeStart returns the inclusive lower bound of parent's
// cookie space, for cursor-resumable readdir starting after
// afterCookie.
func DirScanRangeStart(parent, afterCookie uint64) []byte {
	return DirScanKey(parent, afterCookie+1)
}

// DirScanEndKey returns the exclusive upper bound of a directory's
// cookie space (spec.md §4.2's dir_scan_end_key helper).
func DirScanEndKey(parent uint64) []byte {
	return DirScanKey(parent+1, 0)
}

// DirCookieCounterKey returns the key for the per-directory monotonic
// cookie allocator.
func DirCookieCounterKey(parent uint64) []byte {
	k := make([]byte, 1+8)
	k[0] = byte(PrefixDirCookie)
	binary.BigEndian.PutUint64(k[1:], parent)
	return k
}

// TombstoneKey returns the key for Tombstone(inode_id) → (deleted-at
// seconds, first chunk index still to reclaim).
func TombstoneKey(inodeID uint64) []byte {
	k := make([]byte, 1+8)
	k[0] = byte(PrefixTombstone)
	binary.BigEndian.PutUint64(k[1:], inodeID)
	return k
}

// TombstoneRangeStart/End bound a full scan of the tombstone log,
// oldest (lowest inode id) first — an approximation of insertion
// order sufficient for GC's "oldest-first" requirement given inode ids
// are monotonically assigned.
func TombstoneRangeStart() []byte { return []byte{byte(PrefixTombstone)} }
func TombstoneRangeEnd() []byte   { return []byte{byte(PrefixTombstone) + 1} }

// SystemCounterKey returns the key under which a system counter is
// persisted.
func SystemCounterKey(c SystemCounter) []byte {
	return []byte{byte(PrefixSystemCounter), byte(c)}
}

// DatasetRegistryKey returns the single key holding the whole dataset
// registry record.
func DatasetRegistryKey() []byte {
	return []byte{byte(PrefixDatasetRegistry)}
}

// WrappedKeyKey returns the well-known system key under which the
// envelope-encrypted data key is stored.
func WrappedKeyKey() []byte {
	return []byte{byte(PrefixWrappedKey)}
}

// PrefixRange returns the [start, end) byte range covering every key
// with the given prefix (spec.md §4.2's prefix_range helper).
func PrefixRange(p Prefix) (start, end []byte) {
	return []byte{byte(p)}, []byte{byte(p) + 1}
}

// KeyPrefix extracts the leading prefix byte of a key, or false if the
// key is empty.
func KeyPrefix(key []byte) (Prefix, bool) {
	if len(key) == 0 {
		return 0, false
	}
	return Prefix(key[0]), true
}

// DirEntryName extracts the name suffix from a DirEntry key, given the
// parent id it was encoded with.
func DirEntryName(key []byte) []byte {
	if len(key) < 9 {
		return nil
	}
	return key[9:]
}

// PutUint64BE/GetUint64BE are small exported helpers for callers (e.g.
// ChunkStore encoding chunk metadata) that need the same big-endian
// convention without re-deriving it.
func PutUint64BE(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func GetUint64BE(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
