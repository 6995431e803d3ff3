package fs

import (
	"context"

	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/failpoint"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/keycodec"
	"github.com/zerofs/zerofs-go/kvstore"
	"github.com/zerofs/zerofs-go/zferr"
)

// isDescendantOf reports whether node is ancestor, or lies anywhere
// below it in the directory tree, walking Common.ParentHint (which is
// authoritative for directories, since they are never multiply
// linked). Used to reject renaming a directory into its own
// descendant (spec.md §4.6).
func (fs *Filesystem) isDescendantOf(ctx context.Context, node, ancestor inode.ID) (bool, error) {
	cur := node
	for i := uint64(0); i < inode.MaxNormalID; i++ {
		if cur == ancestor {
			return true, nil
		}
		if cur == inode.RootID {
			return false, nil
		}
		in, err := fs.Inodes.Get(ctx, cur)
		if err != nil {
			return false, err
		}
		cur = in.Common.ParentHint
	}
	return false, zferr.New(zferr.InvalidData, "fs.isDescendantOf")
}

// Rename moves srcParent/srcName to dstParent/dstName as a single
// atomic batch containing, in order: target-delete (if dst already
// existed), source-unlink, new-entry (spec.md §4.5/§4.6). When a
// directory crosses parents, srcParent always loses one subdirectory
// (nlink-1) and dstParent always gains one (nlink+1) — regardless of
// whether dst previously existed — so that overwriting a directory at
// the destination with another directory nets to zero there (one
// subdir entry removed by the overwrite, one added by the move) while
// a move onto a previously-empty name still adds the one entry it
// should. Overwriting one directory with another under the same
// parent nets to zero by construction (no cross-parent adjustment
// applies at all).
func (fs *Filesystem) Rename(ctx context.Context, auth AuthContext, srcParent inode.ID, srcName string, dstParent inode.ID, dstName string) error {
	if err := fs.requireWritable("fs.Rename"); err != nil {
		return err
	}
	if !inode.IsValidFilename([]byte(dstName)) {
		return zferr.New(zferr.NameTooLong, "fs.Rename")
	}

	srcChild, err := fs.Dirs.Lookup(ctx, srcParent, srcName)
	if err != nil {
		return err
	}
	ids := []inode.ID{srcParent, dstParent, srcChild}
	if dstChild, err := fs.Dirs.Lookup(ctx, dstParent, dstName); err == nil {
		ids = append(ids, dstChild)
	} else if !zferr.Is(err, zferr.NotFound) {
		return err
	}

	var overwrittenGone bool
	var overwrittenSize uint64
	_, err = fs.coord.RunLocked(ctx, ids, kvstore.WriteOptions{AwaitDurable: true}, func(ctx context.Context, txn *encryption.Transaction) error {
		samParent := srcParent == dstParent

		// parents holds the one or two distinct parent inodes touched
		// by this rename, keyed by id, so mutations to a shared parent
		// (samParent) are never silently lost to a stale value copy.
		parents := map[inode.ID]inode.Inode{}
		loadParent := func(id inode.ID) (inode.Inode, error) {
			if p, ok := parents[id]; ok {
				return p, nil
			}
			p, err := fs.Inodes.Get(ctx, id)
			if err != nil {
				return inode.Inode{}, err
			}
			parents[id] = p
			return p, nil
		}

		srcChild, err = fs.Dirs.Lookup(ctx, srcParent, srcName)
		if err != nil {
			return err
		}
		srcParentIn, err := loadParent(srcParent)
		if err != nil {
			return err
		}
		if err := checkAccess(auth, srcParentIn, AccessWrite); err != nil {
			return err
		}
		srcChildIn, err := fs.Inodes.Get(ctx, srcChild)
		if err != nil {
			return err
		}

		dstParentIn, err := loadParent(dstParent)
		if err != nil {
			return err
		}
		if !dstParentIn.IsDir() {
			return zferr.New(zferr.NotDir, "fs.Rename")
		}
		if !samParent {
			if err := checkAccess(auth, dstParentIn, AccessWrite); err != nil {
				return err
			}
		}

		if srcChildIn.IsDir() {
			if samParent && srcName == dstName {
				return nil // renaming onto itself is a no-op.
			}
			if dstParent == srcChild {
				return zferr.New(zferr.InvalidArgument, "fs.Rename")
			}
			if descendant, err := fs.isDescendantOf(ctx, dstParent, srcChild); err != nil {
				return err
			} else if descendant {
				return zferr.New(zferr.InvalidArgument, "fs.Rename")
			}
		}

		dstChild, lookupErr := fs.Dirs.Lookup(ctx, dstParent, dstName)
		dstExisted := lookupErr == nil
		if lookupErr != nil && !zferr.Is(lookupErr, zferr.NotFound) {
			return lookupErr
		}

		now := fs.now()

		if dstExisted {
			dstChildIn, err := fs.Inodes.Get(ctx, dstChild)
			if err != nil {
				return err
			}
			if dstChildIn.IsDir() != srcChildIn.IsDir() {
				if dstChildIn.IsDir() {
					return zferr.New(zferr.IsDir, "fs.Rename")
				}
				return zferr.New(zferr.NotDir, "fs.Rename")
			}
			if dstChildIn.IsDir() {
				empty, err := fs.Dirs.IsEmpty(ctx, dstChild)
				if err != nil {
					return err
				}
				if !empty {
					return zferr.New(zferr.NotEmpty, "fs.Rename")
				}
			}

			if err := fs.Dirs.RemoveEntry(ctx, txn, dstParent, dstName); err != nil {
				return err
			}
			dstParentIn.EntryCount--
			if dstChildIn.IsDir() {
				dstParentIn.Common.Nlink--
			}
			parents[dstParent] = dstParentIn

			dstChildIn.Common.Nlink--
			dstChildIn.Common.Ctime = now
			switch {
			case dstChildIn.Common.Nlink > 0 && !dstChildIn.IsDir():
				if err := fs.Inodes.Save(txn, dstChild, dstChildIn); err != nil {
					return err
				}
			default:
				overwrittenGone = true
				overwrittenSize = dstChildIn.Size
				if dstChildIn.IsDir() {
					txn.DeleteBytes(keycodec.DirCookieCounterKey(dstChild))
				}
				owns, err := fs.Chunks.HasAny(ctx, dstChild)
				if err != nil {
					return err
				}
				if owns {
					if err := fs.Inodes.Save(txn, dstChild, dstChildIn); err != nil {
						return err
					}
					if err := fs.Tombstones.Mark(txn, dstChild, fs.clock.Now().Unix()); err != nil {
						return err
					}
				} else {
					fs.Inodes.Delete(txn, dstChild)
				}
			}
			if err := failpoint.Reached(failpoint.RenameAfterTargetDelete); err != nil {
				return err
			}
		}

		if err := fs.Dirs.RemoveEntry(ctx, txn, srcParent, srcName); err != nil {
			return err
		}
		srcParentIn = parents[srcParent]
		srcParentIn.EntryCount--
		parents[srcParent] = srcParentIn
		if err := failpoint.Reached(failpoint.RenameAfterSourceUnlink); err != nil {
			return err
		}

		if srcChildIn.IsDir() && !samParent {
			srcParentIn = parents[srcParent]
			srcParentIn.Common.Nlink--
			parents[srcParent] = srcParentIn
			// dstParent always gains the subdirectory entry being moved
			// in. When dstExisted and was itself a directory, this nets
			// against the decrement already applied above (one subdir
			// entry removed, one added); when dst didn't exist, this is
			// the only adjustment dstParent needs.
			dstParentIn = parents[dstParent]
			dstParentIn.Common.Nlink++
			parents[dstParent] = dstParentIn
		}

		if err := fs.Dirs.AddEntry(ctx, txn, dstParent, dstName, srcChild); err != nil {
			return err
		}
		dstParentIn = parents[dstParent]
		dstParentIn.EntryCount++
		parents[dstParent] = dstParentIn
		if err := failpoint.Reached(failpoint.RenameAfterNewEntry); err != nil {
			return err
		}

		srcChildIn.Common.ParentHint = dstParent
		srcChildIn.Common.NameHint = dstName
		srcChildIn.Common.Ctime = now
		if err := fs.Inodes.Save(txn, srcChild, srcChildIn); err != nil {
			return err
		}

		for id, p := range parents {
			p.Common.Mtime = now
			p.Common.Ctime = now
			if err := fs.Inodes.Save(txn, id, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if overwrittenGone {
		fs.Stats.AddInodes(-1)
		fs.Stats.AddBytes(-int64(overwrittenSize))
	}
	return failpoint.Reached(failpoint.RenameAfterCommit)
}
