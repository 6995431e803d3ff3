// Package consistency implements an offline structural checker over a
// closed database: it walks every inode, directory index, chunk, and
// tombstone record and reports divergences from the invariants the
// live fs/gc/txn code paths are supposed to maintain (spec.md §8). It
// never mutates anything — a scrub tool, not a repair tool.
//
// Grounded on
// _examples/original_source/zerofs/tests/failpoints/consistency.rs,
// whose ConsistencyChecker/ConsistencyReport/ConsistencyError this
// package carries over nearly verb-for-verb, translated from an
// enum-of-structs into a single Finding struct discriminated by Kind,
// matching the closed Code taxonomy style package zferr already uses
// in this module.
package consistency

import (
	"fmt"
	"strings"

	"github.com/zerofs/zerofs-go/inode"
)

// Kind is the closed taxonomy of structural findings this checker can
// report.
type Kind int

const (
	DirectoryCountMismatch Kind = iota
	DanglingReference
	OrphanedInode
	StatsCounterMismatch
	NlinkMismatch
	StaleTombstone
	MissingChunks
	DirectoryNlinkMismatch
	InodeCounterTooLow
	OrphanedChunk
	DirEntryMissingScan
	DirScanMissingEntry
	DirEntryCookieMismatch
	OrphanedDirEntry
	OrphanedDirScan
	OrphanedDirCookie
	DirCookieCounterTooLow
)

// Finding is one structural divergence. Only the fields relevant to
// Kind are populated; the rest are zero.
type Finding struct {
	Kind Kind

	InodeID inode.ID
	DirID   inode.ID
	Name    string
	Missing inode.ID

	Metric  string
	Stored  uint64
	Actual  uint64

	ActualRefs uint32

	FileSize       uint64
	ExpectedChunks uint64
	FoundChunks    uint64

	SubdirCount uint32

	Cookie      uint64
	EntryCookie uint64
	ScanCookie  uint64

	ChunkCount uint64
}

func (fd Finding) String() string {
	switch fd.Kind {
	case DirectoryCountMismatch:
		return fmt.Sprintf("directory %d entry_count mismatch: stored=%d, actual=%d", fd.InodeID, fd.Stored, fd.Actual)
	case DanglingReference:
		return fmt.Sprintf("directory %d has entry %q pointing to non-existent inode %d", fd.DirID, fd.Name, fd.Missing)
	case OrphanedInode:
		return fmt.Sprintf("inode %d exists but is not referenced by any directory", fd.InodeID)
	case StatsCounterMismatch:
		return fmt.Sprintf("stats %q mismatch: stored=%d, calculated=%d", fd.Metric, fd.Stored, fd.Actual)
	case NlinkMismatch:
		return fmt.Sprintf("inode %d nlink mismatch: stored=%d, actual references=%d", fd.InodeID, fd.Stored, fd.ActualRefs)
	case StaleTombstone:
		return fmt.Sprintf("tombstone exists for inode %d which still exists", fd.InodeID)
	case MissingChunks:
		return fmt.Sprintf("file %d (size=%d) missing chunks: expected=%d, found=%d", fd.InodeID, fd.FileSize, fd.ExpectedChunks, fd.FoundChunks)
	case DirectoryNlinkMismatch:
		return fmt.Sprintf("directory %d nlink mismatch: stored=%d, expected=%d (2 + %d subdirs)", fd.InodeID, fd.Stored, fd.Actual, fd.SubdirCount)
	case InodeCounterTooLow:
		return fmt.Sprintf("inode counter %d is not greater than max inode id %d (risk of collision)", fd.Stored, fd.Actual)
	case OrphanedChunk:
		return fmt.Sprintf("found %d orphaned chunks for inode %d (no inode or tombstone exists)", fd.ChunkCount, fd.InodeID)
	case DirEntryMissingScan:
		return fmt.Sprintf("DirEntry exists for %q in dir %d (cookie=%d) but no DirScan found", fd.Name, fd.DirID, fd.Cookie)
	case DirScanMissingEntry:
		return fmt.Sprintf("DirScan exists for %q in dir %d (cookie=%d) but no DirEntry found", fd.Name, fd.DirID, fd.Cookie)
	case DirEntryCookieMismatch:
		return fmt.Sprintf("cookie mismatch for %q in dir %d: DirEntry has %d, DirScan has %d", fd.Name, fd.DirID, fd.EntryCookie, fd.ScanCookie)
	case OrphanedDirEntry:
		return fmt.Sprintf("DirEntry %q references non-existent directory %d", fd.Name, fd.DirID)
	case OrphanedDirScan:
		return fmt.Sprintf("DirScan entry (cookie=%d) references non-existent directory %d", fd.Cookie, fd.DirID)
	case OrphanedDirCookie:
		return fmt.Sprintf("DirCookie counter exists for non-existent directory %d", fd.DirID)
	case DirCookieCounterTooLow:
		return fmt.Sprintf("DirCookie counter %d for dir %d is not greater than max used cookie %d", fd.Stored, fd.DirID, fd.Actual)
	default:
		return "unknown finding"
	}
}

// Stats tallies what Check walked, independent of whether it found
// any findings.
type Stats struct {
	InodesChecked      uint64
	DirectoriesChecked uint64
	FilesChecked       uint64
	OrphanedInodes     uint64
}

// Report is the result of a full check.
type Report struct {
	Findings []Finding
	Warnings []string
	Stats    Stats
}

// Consistent reports whether the walk found zero findings. Warnings
// don't affect this verdict.
func (r *Report) Consistent() bool {
	return len(r.Findings) == 0
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintln(&b, "Consistency Report:")
	fmt.Fprintf(&b, "  Inodes checked: %d\n", r.Stats.InodesChecked)
	fmt.Fprintf(&b, "  Directories checked: %d\n", r.Stats.DirectoriesChecked)
	fmt.Fprintf(&b, "  Files checked: %d\n", r.Stats.FilesChecked)
	fmt.Fprintf(&b, "  Orphaned inodes: %d\n", r.Stats.OrphanedInodes)
	if len(r.Findings) == 0 {
		fmt.Fprintln(&b, "  Status: CONSISTENT")
	} else {
		fmt.Fprintf(&b, "  Status: INCONSISTENT (%d findings)\n", len(r.Findings))
		for _, f := range r.Findings {
			fmt.Fprintf(&b, "    - %s\n", f)
		}
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintf(&b, "  Warnings: %d\n", len(r.Warnings))
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "    - %s\n", w)
		}
	}
	return b.String()
}
