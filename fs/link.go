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

// Link adds a new name for src under dstParent, incrementing src's
// nlink. Hardlinks to directories are disallowed (spec.md §4.6).
func (fs *Filesystem) Link(ctx context.Context, auth AuthContext, src inode.ID, dstParent inode.ID, name string) (Attrs, error) {
	if err := fs.requireWritable("fs.Link"); err != nil {
		return Attrs{}, err
	}
	if !inode.IsValidFilename([]byte(name)) {
		return Attrs{}, zferr.New(zferr.NameTooLong, "fs.Link")
	}

	var result Attrs
	_, err := fs.coord.RunLocked(ctx, []inode.ID{src, dstParent}, kvstore.WriteOptions{AwaitDurable: true}, func(ctx context.Context, txn *encryption.Transaction) error {
		srcIn, err := fs.Inodes.Get(ctx, src)
		if err != nil {
			return err
		}
		if srcIn.IsDir() {
			return zferr.New(zferr.InvalidArgument, "fs.Link")
		}
		parentIn, err := fs.Inodes.Get(ctx, dstParent)
		if err != nil {
			return err
		}
		if !parentIn.IsDir() {
			return zferr.New(zferr.NotDir, "fs.Link")
		}
		if err := checkAccess(auth, parentIn, AccessWrite); err != nil {
			return err
		}
		if _, err := fs.Dirs.Lookup(ctx, dstParent, name); err == nil {
			return zferr.New(zferr.Exists, "fs.Link")
		} else if !zferr.Is(err, zferr.NotFound) {
			return err
		}

		srcIn.Common.Nlink++
		now := fs.now()
		srcIn.Common.Ctime = now
		if err := fs.Inodes.Save(txn, src, srcIn); err != nil {
			return err
		}
		if err := failpoint.Reached(failpoint.LinkAfterInode); err != nil {
			return err
		}

		if err := fs.Dirs.AddEntry(ctx, txn, dstParent, name, src); err != nil {
			return err
		}
		if err := failpoint.Reached(failpoint.LinkAfterDirEntry); err != nil {
			return err
		}

		parentIn.EntryCount++
		parentIn.Common.Mtime = now
		parentIn.Common.Ctime = now
		if err := fs.Inodes.Save(txn, dstParent, parentIn); err != nil {
			return err
		}

		result = attrsFromInode(src, srcIn)
		return nil
	})
	if err != nil {
		return Attrs{}, err
	}
	if err := failpoint.Reached(failpoint.LinkAfterCommit); err != nil {
		return Attrs{}, err
	}
	return result, nil
}

// Unlink removes name from parent. If the referenced inode's nlink
// drops to zero, the inode is deleted immediately when it owns no
// chunks, or tombstoned for background reclamation otherwise (spec.md
// §4.6).
func (fs *Filesystem) Unlink(ctx context.Context, auth AuthContext, parent inode.ID, name string) error {
	if err := fs.requireWritable("fs.Unlink"); err != nil {
		return err
	}

	child, err := fs.Dirs.Lookup(ctx, parent, name)
	if err != nil {
		return err
	}

	childGone := false
	var childSize uint64
	_, err = fs.coord.RunLocked(ctx, []inode.ID{parent, child}, kvstore.WriteOptions{AwaitDurable: true}, func(ctx context.Context, txn *encryption.Transaction) error {
		parentIn, err := fs.Inodes.Get(ctx, parent)
		if err != nil {
			return err
		}
		if err := checkAccess(auth, parentIn, AccessWrite); err != nil {
			return err
		}
		gotChild, err := fs.Dirs.Lookup(ctx, parent, name)
		if err != nil {
			return err
		}
		if gotChild != child {
			return zferr.New(zferr.NotFound, "fs.Unlink")
		}
		childIn, err := fs.Inodes.Get(ctx, child)
		if err != nil {
			return err
		}
		if childIn.IsDir() {
			return zferr.New(zferr.IsDir, "fs.Unlink")
		}

		if err := fs.Dirs.RemoveEntry(ctx, txn, parent, name); err != nil {
			return err
		}
		if err := failpoint.Reached(failpoint.RemoveAfterDirUnlink); err != nil {
			return err
		}

		parentIn.EntryCount--
		now := fs.now()
		parentIn.Common.Mtime = now
		parentIn.Common.Ctime = now
		if err := fs.Inodes.Save(txn, parent, parentIn); err != nil {
			return err
		}

		childIn.Common.Nlink--
		childIn.Common.Ctime = now
		if childIn.Common.Nlink > 0 {
			return fs.Inodes.Save(txn, child, childIn)
		}
		childGone = true
		childSize = childIn.Size

		owns, err := fs.Chunks.HasAny(ctx, child)
		if err != nil {
			return err
		}
		if !owns {
			fs.Inodes.Delete(txn, child)
			if err := failpoint.Reached(failpoint.RemoveAfterInodeDelete); err != nil {
				return err
			}
			return nil
		}

		if err := fs.Inodes.Save(txn, child, childIn); err != nil {
			return err
		}
		if err := failpoint.Reached(failpoint.RemoveAfterInodeDelete); err != nil {
			return err
		}
		if err := fs.Tombstones.Mark(txn, child, fs.clock.Now().Unix()); err != nil {
			return err
		}
		return failpoint.Reached(failpoint.RemoveAfterTombstone)
	})
	if err != nil {
		return err
	}
	if childGone {
		fs.Stats.AddInodes(-1)
		fs.Stats.AddBytes(-int64(childSize))
	}
	return failpoint.Reached(failpoint.RemoveAfterCommit)
}

// Rmdir removes the empty directory named name under parent.
func (fs *Filesystem) Rmdir(ctx context.Context, auth AuthContext, parent inode.ID, name string) error {
	if err := fs.requireWritable("fs.Rmdir"); err != nil {
		return err
	}

	child, err := fs.Dirs.Lookup(ctx, parent, name)
	if err != nil {
		return err
	}

	_, err = fs.coord.RunLocked(ctx, []inode.ID{parent, child}, kvstore.WriteOptions{AwaitDurable: true}, func(ctx context.Context, txn *encryption.Transaction) error {
		parentIn, err := fs.Inodes.Get(ctx, parent)
		if err != nil {
			return err
		}
		if err := checkAccess(auth, parentIn, AccessWrite); err != nil {
			return err
		}
		gotChild, err := fs.Dirs.Lookup(ctx, parent, name)
		if err != nil {
			return err
		}
		if gotChild != child {
			return zferr.New(zferr.NotFound, "fs.Rmdir")
		}
		childIn, err := fs.Inodes.Get(ctx, child)
		if err != nil {
			return err
		}
		if !childIn.IsDir() {
			return zferr.New(zferr.NotDir, "fs.Rmdir")
		}
		empty, err := fs.Dirs.IsEmpty(ctx, child)
		if err != nil {
			return err
		}
		if !empty {
			return zferr.New(zferr.NotEmpty, "fs.Rmdir")
		}

		if err := fs.Dirs.RemoveEntry(ctx, txn, parent, name); err != nil {
			return err
		}
		if err := failpoint.Reached(failpoint.RmdirAfterDirCleanup); err != nil {
			return err
		}
		txn.DeleteBytes(keycodec.DirCookieCounterKey(child))

		now := fs.now()
		parentIn.EntryCount--
		parentIn.Common.Nlink--
		parentIn.Common.Mtime = now
		parentIn.Common.Ctime = now
		if err := fs.Inodes.Save(txn, parent, parentIn); err != nil {
			return err
		}

		fs.Inodes.Delete(txn, child)
		return failpoint.Reached(failpoint.RmdirAfterInodeDelete)
	})
	if err != nil {
		return err
	}
	fs.Stats.AddInodes(-1)
	return nil
}
