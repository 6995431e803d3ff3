package snapshot

import (
	"context"

	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/fs"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/kvstore"
	"github.com/zerofs/zerofs-go/zferr"
)

// maxCloneEntries bounds how many directory entries a single ClonePath
// call will walk per directory level, mirroring clone.rs's MAX_ENTRIES
// safety limit.
const maxCloneEntries = 100_000

// ClonePath deep-clones sourceID — a file, directory, symlink, or
// device node — into a brand-new entry named destName under
// destParentID. Unlike CreateSnapshot, every inode in the cloned tree
// gets a fresh id (spec.md §4.7's "each entry gets a fresh inode id"),
// so the clone is independent and read-write from the moment it's
// created; file content is copied chunk by chunk under the new ids.
//
// Grounded on clone.rs's clone_directory_deep. That function leans on
// its chunk store being content-addressed (two inode records can
// reference identical chunk bytes by hash, so "cloning the inode
// record" is enough to share data), a property fsstore.ChunkStore does
// not have — chunks here are keyed by (inode id, index), not by
// content hash. spec.md §4.7 already anticipates this divergence
// ("chunks are copied by CAS reference (the same encrypted bytes
// re-keyed under the new inode id)"), so this port performs a literal
// per-chunk copy under the new inode's keys rather than inventing a
// hash-addressed store; DESIGN.md records this as a deliberate
// adaptation, not an oversight.
func (m *Manager) ClonePath(ctx context.Context, sourceID, destParentID inode.ID, destName string) (inode.ID, error) {
	if err := m.requireWritable("snapshot.Manager.ClonePath"); err != nil {
		return 0, err
	}
	if !inode.IsValidFilename([]byte(destName)) {
		return 0, zferr.New(zferr.NameTooLong, "snapshot.Manager.ClonePath")
	}

	newID, cloned, err := m.cloneInodeAndContent(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if err := m.linkClone(ctx, destParentID, destName, newID, cloned); err != nil {
		return 0, err
	}
	if cloned.IsDir() {
		if err := m.cloneChildrenRecursive(ctx, sourceID, newID, 0); err != nil {
			return 0, err
		}
	}

	m.log.Info("path cloned", "source_inode", sourceID, "dest_inode", newID, "dest_name", destName)
	return newID, nil
}

// cloneInodeAndContent allocates a fresh inode id, copies sourceID's
// record onto it (independent of the source — mutating one never
// affects the other), and for a regular file physically copies every
// chunk onto the new id's keys. newID isn't reachable from any
// directory yet, so this runs as one plain transaction rather than a
// coord.RunLocked batch: no concurrent operation can observe or
// contend on an id nothing points to.
func (m *Manager) cloneInodeAndContent(ctx context.Context, sourceID inode.ID) (inode.ID, inode.Inode, error) {
	src, err := m.inodes.Get(ctx, sourceID)
	if err != nil {
		return 0, inode.Inode{}, err
	}

	newID := m.inodes.Allocate()
	cloned := src.Clone()
	now := m.now()
	cloned.Common.Ctime = now
	cloned.Common.ParentHint = 0
	cloned.Common.NameHint = ""
	if cloned.IsDir() {
		cloned.Common.Nlink = dirBaseNlink
		cloned.EntryCount = 0
	} else {
		cloned.Common.Nlink = 1
	}

	t := m.db.NewTransaction()
	var copiedBytes int64
	if src.Kind == inode.KindFile && src.Size > 0 {
		numChunks := (src.Size + fs.ChunkSize - 1) / fs.ChunkSize
		for i := uint64(0); i < numChunks; i++ {
			data, err := m.chunks.Get(ctx, sourceID, i)
			if zferr.Is(err, zferr.NotFound) {
				continue // sparse hole; nothing to re-key.
			}
			if err != nil {
				return 0, inode.Inode{}, err
			}
			if err := m.chunks.Put(t, newID, i, data); err != nil {
				return 0, inode.Inode{}, err
			}
			copiedBytes += int64(len(data))
		}
	}
	if err := m.inodes.Save(t, newID, cloned); err != nil {
		return 0, inode.Inode{}, err
	}
	if err := m.inodes.SaveCounter(t); err != nil {
		return 0, inode.Inode{}, err
	}
	if err := m.db.Commit(ctx, t, kvstore.WriteOptions{AwaitDurable: true}); err != nil {
		return 0, inode.Inode{}, zferr.Wrap(zferr.IoError, "snapshot.Manager.cloneInodeAndContent", err)
	}

	m.stats.AddInodes(1)
	if copiedBytes > 0 {
		m.stats.AddBytes(copiedBytes)
	}
	return newID, cloned, nil
}

// linkClone adds childID under destParentID/destName and bumps
// destParentID's entry_count (and nlink, if the child is a directory),
// all as one locked batch — the same shape as fs.newEntry, since
// linking a freshly cloned inode into a directory is identical in kind
// to creating one.
func (m *Manager) linkClone(ctx context.Context, destParentID inode.ID, destName string, childID inode.ID, childInode inode.Inode) error {
	_, err := m.coord.RunLockedSingle(ctx, destParentID, kvstore.WriteOptions{AwaitDurable: true}, func(ctx context.Context, t *encryption.Transaction) error {
		parent, err := m.inodes.Get(ctx, destParentID)
		if err != nil {
			return err
		}
		if !parent.IsDir() {
			return zferr.New(zferr.NotDir, "snapshot.Manager.linkClone")
		}
		if _, err := m.dirs.Lookup(ctx, destParentID, destName); err == nil {
			return zferr.New(zferr.Exists, "snapshot.Manager.linkClone")
		} else if !zferr.Is(err, zferr.NotFound) {
			return err
		}

		childInode.Common.ParentHint = destParentID
		childInode.Common.NameHint = destName
		if err := m.inodes.Save(t, childID, childInode); err != nil {
			return err
		}
		if err := m.dirs.AddEntry(ctx, t, destParentID, destName, childID); err != nil {
			return err
		}

		now := m.now()
		parent.EntryCount++
		if childInode.IsDir() {
			parent.Common.Nlink++
		}
		parent.Common.Mtime = now
		parent.Common.Ctime = now
		return m.inodes.Save(t, destParentID, parent)
	})
	return err
}

// cloneChildrenRecursive walks sourceDirID's children one page at a
// time, cloning and linking each under destDirID in turn, recursing
// into subdirectories. cloned counts the entries visited so far and
// only guards the MAX_ENTRIES-style
// safety cap against pathologically large or cyclic trees; it is not
// itself part of the original's signature.
func (m *Manager) cloneChildrenRecursive(ctx context.Context, sourceDirID, destDirID inode.ID, cloned int) error {
	var after uint64
	for {
		page, err := m.dirs.ReaddirPage(ctx, sourceDirID, after, readdirPageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		for _, entry := range page {
			cloned++
			if cloned > maxCloneEntries {
				return zferr.New(zferr.IoError, "snapshot.Manager.cloneChildrenRecursive: too many entries")
			}

			newChildID, clonedChild, err := m.cloneInodeAndContent(ctx, entry.Child)
			if err != nil {
				return err
			}
			if err := m.linkClone(ctx, destDirID, entry.Name, newChildID, clonedChild); err != nil {
				return err
			}
			if clonedChild.IsDir() {
				if err := m.cloneChildrenRecursive(ctx, entry.Child, newChildID, cloned); err != nil {
					return err
				}
			}
			after = entry.Cookie
		}
		if len(page) < readdirPageSize {
			return nil
		}
	}
}
