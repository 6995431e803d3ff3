// Package inode defines the tagged inode variants and attribute types
// of the filesystem's data model (spec.md §3), generalizing the
// teacher's fs/inode package (GCS-object-backed inodes, e.g.
// fs/inode/file.go) to the KV-backed inodes this engine persists.
package inode

import (
	"bytes"
	"encoding/gob"
	"time"
)

// ID identifies an inode. 0 is the filesystem root. Values in
// [1, MaxNormalID) are "normal"; higher values (notably
// SnapshotsRootID) are reserved for virtual inodes.
type ID = uint64

const (
	RootID = ID(0)

	// MaxNormalID bounds ordinary filesystem inodes; values at or
	// above it are either virtual inodes or a sign of corrupted data
	// (spec.md §9's validation note).
	MaxNormalID = ID(100_000)

	// SnapshotsRootID is the well-known inode for the `/snapshots`
	// virtual directory (spec.md §4.7).
	SnapshotsRootID = ID(0xFFFFFFFF00000001)
)

// IsValid reports whether id is either a normal inode or a recognised
// virtual inode.
func IsValid(id ID) bool {
	return id < MaxNormalID || IsVirtual(id)
}

// IsVirtual reports whether id names a reserved virtual inode.
func IsVirtual(id ID) bool {
	return id == SnapshotsRootID
}

const (
	MinFilenameLength = 1
	MaxFilenameLength = 256
)

// IsValidFilename reports whether name satisfies the length bounds
// spec.md §4.2/§9 places on directory entry names.
func IsValidFilename(name []byte) bool {
	n := len(name)
	return n >= MinFilenameLength && n <= MaxFilenameLength
}

// Kind tags which inode variant a record holds.
type Kind byte

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
	KindFifo
	KindSocket
	KindCharDevice
	KindBlockDevice
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindFifo:
		return "fifo"
	case KindSocket:
		return "socket"
	case KindCharDevice:
		return "char_device"
	case KindBlockDevice:
		return "block_device"
	default:
		return "unknown"
	}
}

// Timestamp is a POSIX-style seconds+nanoseconds timestamp, matching
// spec.md §4.6's "64-bit seconds + 32-bit nanoseconds" numeric
// semantics.
type Timestamp struct {
	Sec  int64
	Nsec uint32
}

// FromTime converts a time.Time to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp{Sec: t.Unix(), Nsec: uint32(t.Nanosecond())}
}

// Time converts a Timestamp back to a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

// Common carries the fields every inode variant shares.
type Common struct {
	Mode       uint32 // 12-bit permission bits + type bits, POSIX-style.
	UID        uint32
	GID        uint32
	Atime      Timestamp
	Mtime      Timestamp
	Ctime      Timestamp
	Nlink      uint32
	ParentHint ID // best-effort; not authoritative for multiply-linked inodes.
	NameHint   string
}

// Inode is the tagged variant persisted under keycodec.InodeKey(id).
// Exactly one of the Kind-specific fields is meaningful, selected by
// Kind.
type Inode struct {
	Kind   Kind
	Common Common

	// File fields.
	Size uint64

	// Directory fields.
	EntryCount uint64

	// Symlink fields.
	SymlinkTarget []byte

	// Device fields (Fifo/Socket/Char/Block).
	DeviceMajor uint32
	DeviceMinor uint32
}

// DirEntry is a single resolved directory entry: a child name mapped
// to its inode id and the scan cookie it is filed under. It is the
// shared currency between fsstore.DirectoryStore, metadatacache, and
// fs's readdir implementation.
type DirEntry struct {
	Name   string
	Child  ID
	Cookie uint64
}

// Clone returns a deep copy suitable for snapshot/clone divergence:
// mutating the copy never observably affects the original.
func (in Inode) Clone() Inode {
	out := in
	if in.SymlinkTarget != nil {
		out.SymlinkTarget = append([]byte(nil), in.SymlinkTarget...)
	}
	return out
}

// IsDir reports whether the inode is a directory.
func (in Inode) IsDir() bool { return in.Kind == KindDirectory }

// Marshal serializes an inode for persistence. gob is used because,
// like the rest of this package's wire encodings, the shape is an
// internal implementation detail never read by another process
// directly (object bytes are also encrypted); no schema-evolution or
// cross-language concern favors a third-party codec here over the
// standard library's own serializer.
func Marshal(in Inode) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(in); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal deserializes bytes produced by Marshal.
func Unmarshal(data []byte) (Inode, error) {
	var in Inode
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&in); err != nil {
		return Inode{}, err
	}
	return in, nil
}

// Equal reports whether two inodes are byte-for-byte identical once
// marshaled.
func Equal(a, b Inode) bool {
	ab, errA := Marshal(a)
	bb, errB := Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
