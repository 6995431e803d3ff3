package consistency

import (
	"context"

	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/fs"
	"github.com/zerofs/zerofs-go/fsstore"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/keycodec"
	"github.com/zerofs/zerofs-go/kvstore"
)

const dirBaseNlink = 2

// readdirPageSize bounds how many DirScan entries Checker pages
// through at once while cross-checking the DirScan index; it
// has no bearing on the invariants checked, only on memory use against
// very large directories.
const readdirPageSize = 1000

// Checker walks a complete, closed database and validates every
// structural invariant spec.md §8 names. Run it against a database
// that is not concurrently being mutated — it takes no locks of its
// own, trading exclusivity for a single consistent read pass.
type Checker struct {
	db         *encryption.DB
	inodes     *fsstore.InodeStore
	dirs       *fsstore.DirectoryStore
	chunks     *fsstore.ChunkStore
	tombstones *fsstore.TombstoneStore
	stats      *fsstore.StatsStore

	report Report

	validInodes     map[inode.ID]struct{}
	directoryInodes map[inode.ID]struct{}
	tombstoneInodes map[inode.ID]struct{}
	inodeRefs       map[inode.ID]uint32
	subdirCounts    map[inode.ID]uint32
}

// New builds a checker over the given stores.
func New(db *encryption.DB, inodes *fsstore.InodeStore, dirs *fsstore.DirectoryStore, chunks *fsstore.ChunkStore, tombstones *fsstore.TombstoneStore, stats *fsstore.StatsStore) *Checker {
	return &Checker{
		db:              db,
		inodes:          inodes,
		dirs:            dirs,
		chunks:          chunks,
		tombstones:      tombstones,
		stats:           stats,
		validInodes:     make(map[inode.ID]struct{}),
		directoryInodes: make(map[inode.ID]struct{}),
		tombstoneInodes: make(map[inode.ID]struct{}),
		inodeRefs:       make(map[inode.ID]uint32),
		subdirCounts:    make(map[inode.ID]uint32),
	}
}

// Check runs every pass and returns the accumulated report. It never
// returns early on a failed invariant — only a genuine I/O error
// aborts the walk.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	if err := c.enumerateInodes(ctx); err != nil {
		return nil, err
	}
	if err := c.enumerateTombstones(ctx); err != nil {
		return nil, err
	}
	if err := c.walkDirectoryTree(ctx, inode.RootID); err != nil {
		return nil, err
	}
	if err := c.verifyDirectoryCounts(ctx); err != nil {
		return nil, err
	}
	c.verifyNlinkCounts(ctx)
	c.verifyDirectoryNlinks(ctx)
	c.findOrphanedInodes()
	c.verifyStatsCounters(ctx)
	if err := c.verifyTombstones(ctx); err != nil {
		return nil, err
	}
	if err := c.verifyFileChunks(ctx); err != nil {
		return nil, err
	}
	if err := c.verifyInodeCounter(ctx); err != nil {
		return nil, err
	}
	if err := c.verifyOrphanedChunks(ctx); err != nil {
		return nil, err
	}
	if err := c.verifyDirEntryScanConsistency(ctx); err != nil {
		return nil, err
	}
	if err := c.verifyOrphanedDirectoryMetadata(ctx); err != nil {
		return nil, err
	}

	return &c.report, nil
}

func (c *Checker) getInode(ctx context.Context, id inode.ID) (inode.Inode, bool) {
	in, err := c.inodes.Get(ctx, id)
	if err != nil {
		return inode.Inode{}, false
	}
	return in, true
}

func (c *Checker) enumerateInodes(ctx context.Context) error {
	start, end := keycodec.PrefixRange(keycodec.PrefixInode)
	recs, err := c.db.Scan(ctx, start, end, kvstore.ScanOptions{})
	if err != nil {
		return err
	}
	for _, r := range recs {
		if len(r.Key) != 9 {
			continue
		}
		id := keycodec.GetUint64BE(r.Key[1:])
		c.validInodes[id] = struct{}{}
		c.report.Stats.InodesChecked++

		if in, err := inode.Unmarshal(r.Value); err == nil && in.IsDir() {
			c.directoryInodes[id] = struct{}{}
		}
	}
	return nil
}

func (c *Checker) enumerateTombstones(ctx context.Context) error {
	tombstones, err := c.tombstones.List(ctx)
	if err != nil {
		return err
	}
	for _, t := range tombstones {
		c.tombstoneInodes[t.InodeID] = struct{}{}
	}
	return nil
}

// walkDirectoryTree recurses from dirID through every DirEntry child,
// tallying reference counts and subdirectory counts as it goes.
// Mirrors the original's guard against recursing back into dirID
// itself or into the root via a child reference — directories never
// legitimately hold "." or ".." entries here, but the guard costs
// nothing and keeps a corrupted database from looping forever.
func (c *Checker) walkDirectoryTree(ctx context.Context, dirID inode.ID) error {
	start, end := keycodec.DirEntryRangeStart(dirID), keycodec.DirEntryRangeEnd(dirID)
	recs, err := c.db.Scan(ctx, start, end, kvstore.ScanOptions{})
	if err != nil {
		return err
	}

	for _, r := range recs {
		childID, _, ok := keycodec.DecodeDirEntryValue(r.Value)
		if !ok {
			continue
		}
		name := string(keycodec.DirEntryName(r.Key))
		c.inodeRefs[childID]++

		if _, ok := c.validInodes[childID]; !ok {
			c.report.Findings = append(c.report.Findings, Finding{
				Kind: DanglingReference, DirID: dirID, Name: name, Missing: childID,
			})
			continue
		}

		in, ok := c.getInode(ctx, childID)
		if !ok {
			continue
		}
		switch {
		case in.IsDir():
			c.report.Stats.DirectoriesChecked++
			c.subdirCounts[dirID]++
			if childID != dirID && childID != inode.RootID {
				if err := c.walkDirectoryTree(ctx, childID); err != nil {
					return err
				}
			}
		case in.Kind == inode.KindFile:
			c.report.Stats.FilesChecked++
		}
	}
	return nil
}

func (c *Checker) verifyDirectoryCounts(ctx context.Context) error {
	for id := range c.validInodes {
		in, ok := c.getInode(ctx, id)
		if !ok || !in.IsDir() {
			continue
		}
		start, end := keycodec.DirEntryRangeStart(id), keycodec.DirEntryRangeEnd(id)
		recs, err := c.db.Scan(ctx, start, end, kvstore.ScanOptions{})
		if err != nil {
			return err
		}
		actual := uint64(len(recs))
		if in.EntryCount != actual {
			c.report.Findings = append(c.report.Findings, Finding{
				Kind: DirectoryCountMismatch, InodeID: id, Stored: in.EntryCount, Actual: actual,
			})
		}
	}
	return nil
}

func (c *Checker) verifyNlinkCounts(ctx context.Context) {
	for id, actualRefs := range c.inodeRefs {
		in, ok := c.getInode(ctx, id)
		if !ok || in.IsDir() {
			continue
		}
		if in.Common.Nlink != actualRefs {
			c.report.Findings = append(c.report.Findings, Finding{
				Kind: NlinkMismatch, InodeID: id, Stored: uint64(in.Common.Nlink), ActualRefs: actualRefs,
			})
		}
	}
}

func (c *Checker) verifyDirectoryNlinks(ctx context.Context) {
	for id := range c.validInodes {
		in, ok := c.getInode(ctx, id)
		if !ok || !in.IsDir() {
			continue
		}
		subdirs := c.subdirCounts[id]
		expected := uint32(dirBaseNlink) + subdirs
		if in.Common.Nlink != expected {
			c.report.Findings = append(c.report.Findings, Finding{
				Kind: DirectoryNlinkMismatch, InodeID: id,
				Stored: uint64(in.Common.Nlink), Actual: uint64(expected), SubdirCount: subdirs,
			})
		}
	}
}

func (c *Checker) findOrphanedInodes() {
	for id := range c.validInodes {
		if id == inode.RootID {
			continue
		}
		if _, ok := c.inodeRefs[id]; !ok {
			c.report.Findings = append(c.report.Findings, Finding{Kind: OrphanedInode, InodeID: id})
			c.report.Stats.OrphanedInodes++
		}
	}
}

func (c *Checker) verifyStatsCounters(ctx context.Context) {
	var calculatedBytes, calculatedInodes uint64
	for id := range c.validInodes {
		if id == inode.RootID {
			continue
		}
		if _, ok := c.inodeRefs[id]; !ok {
			continue
		}
		in, ok := c.getInode(ctx, id)
		if !ok {
			continue
		}
		calculatedInodes++
		if !in.IsDir() {
			calculatedBytes += in.Size
		}
	}

	if c.stats.UsedBytes() != calculatedBytes {
		c.report.Findings = append(c.report.Findings, Finding{
			Kind: StatsCounterMismatch, Metric: "used_bytes", Stored: c.stats.UsedBytes(), Actual: calculatedBytes,
		})
	}
	if c.stats.UsedInodes() != calculatedInodes {
		c.report.Findings = append(c.report.Findings, Finding{
			Kind: StatsCounterMismatch, Metric: "used_inodes", Stored: c.stats.UsedInodes(), Actual: calculatedInodes,
		})
	}
}

func (c *Checker) verifyTombstones(ctx context.Context) error {
	tombstones, err := c.tombstones.List(ctx)
	if err != nil {
		return err
	}
	for _, t := range tombstones {
		if _, ok := c.validInodes[t.InodeID]; ok {
			c.report.Findings = append(c.report.Findings, Finding{Kind: StaleTombstone, InodeID: t.InodeID})
		}
	}
	return nil
}

func (c *Checker) verifyFileChunks(ctx context.Context) error {
	for id := range c.validInodes {
		if _, ok := c.inodeRefs[id]; !ok {
			continue
		}
		in, ok := c.getInode(ctx, id)
		if !ok || in.IsDir() || in.Size == 0 {
			continue
		}
		expected := (in.Size + fs.ChunkSize - 1) / fs.ChunkSize

		start := keycodec.ChunkKey(id, 0)
		end := keycodec.ChunkKey(id, expected)
		recs, err := c.db.Scan(ctx, start, end, kvstore.ScanOptions{})
		if err != nil {
			return err
		}
		found := uint64(len(recs))
		if found != expected {
			c.report.Findings = append(c.report.Findings, Finding{
				Kind: MissingChunks, InodeID: id, FileSize: in.Size, ExpectedChunks: expected, FoundChunks: found,
			})
		}
	}
	return nil
}

func (c *Checker) verifyInodeCounter(ctx context.Context) error {
	var maxID inode.ID
	for id := range c.validInodes {
		if id > maxID {
			maxID = id
		}
	}

	data, ok, err := c.db.GetBytes(ctx, keycodec.SystemCounterKey(keycodec.CounterNextInodeID))
	if err != nil {
		return err
	}
	var stored uint64
	switch {
	case ok:
		stored = keycodec.GetUint64BE(data)
	case maxID > inode.RootID:
		stored = inode.RootID
	default:
		return nil
	}

	if stored <= maxID {
		c.report.Findings = append(c.report.Findings, Finding{
			Kind: InodeCounterTooLow, Stored: stored, Actual: maxID,
		})
	}
	return nil
}

func (c *Checker) verifyOrphanedChunks(ctx context.Context) error {
	start, end := keycodec.PrefixRange(keycodec.PrefixChunk)
	recs, err := c.db.Scan(ctx, start, end, kvstore.ScanOptions{})
	if err != nil {
		return err
	}

	orphaned := make(map[inode.ID]uint64)
	for _, r := range recs {
		if len(r.Key) < 9 {
			continue
		}
		id := keycodec.GetUint64BE(r.Key[1:9])
		if _, ok := c.validInodes[id]; ok {
			continue
		}
		if _, ok := c.tombstoneInodes[id]; ok {
			continue
		}
		orphaned[id]++
	}

	for id, count := range orphaned {
		c.report.Findings = append(c.report.Findings, Finding{Kind: OrphanedChunk, InodeID: id, ChunkCount: count})
	}
	return nil
}

// verifyDirEntryScanConsistency cross-checks, per directory, that the
// name-keyed DirEntry index and the cookie-keyed DirScan index agree
// (spec.md §8 invariant #2).
func (c *Checker) verifyDirEntryScanConsistency(ctx context.Context) error {
	for dirID := range c.directoryInodes {
		entryStart, entryEnd := keycodec.DirEntryRangeStart(dirID), keycodec.DirEntryRangeEnd(dirID)
		entryRecs, err := c.db.Scan(ctx, entryStart, entryEnd, kvstore.ScanOptions{})
		if err != nil {
			return err
		}
		dirEntries := make(map[string]uint64, len(entryRecs))
		for _, r := range entryRecs {
			_, cookie, ok := keycodec.DecodeDirEntryValue(r.Value)
			if !ok {
				continue
			}
			dirEntries[string(keycodec.DirEntryName(r.Key))] = cookie
		}

		dirScans := make(map[uint64]string)
		var maxCookie uint64
		after := uint64(0)
		for {
			page, err := c.dirs.ReaddirPage(ctx, dirID, after, readdirPageSize)
			if err != nil {
				return err
			}
			if len(page) == 0 {
				break
			}
			for _, e := range page {
				dirScans[e.Cookie] = e.Name
				if e.Cookie > maxCookie {
					maxCookie = e.Cookie
				}
				after = e.Cookie
			}
			if len(page) < readdirPageSize {
				break
			}
		}

		for name, cookie := range dirEntries {
			scanName, ok := dirScans[cookie]
			if !ok {
				c.report.Findings = append(c.report.Findings, Finding{Kind: DirEntryMissingScan, DirID: dirID, Name: name, Cookie: cookie})
				continue
			}
			if scanName != name {
				c.report.Findings = append(c.report.Findings, Finding{
					Kind: DirEntryCookieMismatch, DirID: dirID, Name: name, EntryCookie: cookie, ScanCookie: cookie,
				})
			}
		}
		for cookie, name := range dirScans {
			if entryCookie, ok := dirEntries[name]; !ok || entryCookie != cookie {
				c.report.Findings = append(c.report.Findings, Finding{Kind: DirScanMissingEntry, DirID: dirID, Name: name, Cookie: cookie})
			}
		}

		if maxCookie > 0 {
			data, ok, err := c.db.GetBytes(ctx, keycodec.DirCookieCounterKey(dirID))
			if err != nil {
				return err
			}
			if ok {
				counter := keycodec.GetUint64BE(data)
				if counter <= maxCookie {
					c.report.Findings = append(c.report.Findings, Finding{
						Kind: DirCookieCounterTooLow, DirID: dirID, Stored: counter, Actual: maxCookie,
					})
				}
			}
		}
	}
	return nil
}

// verifyOrphanedDirectoryMetadata finds DirEntry/DirScan/DirCookie
// records left behind under a directory id that no longer names an
// actual directory inode — the trail a crash between deleting a
// directory's inode and draining its index records would leave.
func (c *Checker) verifyOrphanedDirectoryMetadata(ctx context.Context) error {
	start, end := keycodec.PrefixRange(keycodec.PrefixDirEntry)
	recs, err := c.db.Scan(ctx, start, end, kvstore.ScanOptions{})
	if err != nil {
		return err
	}
	for _, r := range recs {
		if len(r.Key) <= 9 {
			continue
		}
		dirID := keycodec.GetUint64BE(r.Key[1:9])
		if _, ok := c.directoryInodes[dirID]; !ok && dirID != inode.RootID {
			c.report.Findings = append(c.report.Findings, Finding{
				Kind: OrphanedDirEntry, DirID: dirID, Name: string(keycodec.DirEntryName(r.Key)),
			})
		}
	}

	start, end = keycodec.PrefixRange(keycodec.PrefixDirScan)
	recs, err = c.db.Scan(ctx, start, end, kvstore.ScanOptions{})
	if err != nil {
		return err
	}
	for _, r := range recs {
		if len(r.Key) != 17 {
			continue
		}
		dirID := keycodec.GetUint64BE(r.Key[1:9])
		cookie := keycodec.GetUint64BE(r.Key[9:17])
		if _, ok := c.directoryInodes[dirID]; !ok && dirID != inode.RootID {
			c.report.Findings = append(c.report.Findings, Finding{Kind: OrphanedDirScan, DirID: dirID, Cookie: cookie})
		}
	}

	start, end = keycodec.PrefixRange(keycodec.PrefixDirCookie)
	recs, err = c.db.Scan(ctx, start, end, kvstore.ScanOptions{})
	if err != nil {
		return err
	}
	for _, r := range recs {
		if len(r.Key) != 9 {
			continue
		}
		dirID := keycodec.GetUint64BE(r.Key[1:9])
		if _, ok := c.directoryInodes[dirID]; !ok && dirID != inode.RootID {
			c.report.Findings = append(c.report.Findings, Finding{Kind: OrphanedDirCookie, DirID: dirID})
		}
	}

	return nil
}
