package fs

import (
	"context"

	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/failpoint"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/kvstore"
	"github.com/zerofs/zerofs-go/zferr"
)

// newEntry allocates a fresh inode, links it under parent/name, and
// bumps parent's entry_count (and nlink, for subdirectories), all
// inside one locked batch (spec.md §4.6's create/mkdir/symlink/mknod
// skeleton).
func (fs *Filesystem) newEntry(ctx context.Context, auth AuthContext, parent inode.ID, name string, build func(now inode.Timestamp) inode.Inode, afterInode, afterDirEntry, afterCommit string) (inode.ID, Attrs, error) {
	if err := fs.requireWritable("fs.newEntry"); err != nil {
		return 0, Attrs{}, err
	}
	if !inode.IsValidFilename([]byte(name)) {
		return 0, Attrs{}, zferr.New(zferr.NameTooLong, "fs.newEntry")
	}

	var childID inode.ID
	var result Attrs
	_, err := fs.coord.RunLockedSingle(ctx, parent, kvstore.WriteOptions{AwaitDurable: true}, func(ctx context.Context, txn *encryption.Transaction) error {
		parentIn, err := fs.Inodes.Get(ctx, parent)
		if err != nil {
			return err
		}
		if !parentIn.IsDir() {
			return zferr.New(zferr.NotDir, "fs.newEntry")
		}
		if err := checkAccess(auth, parentIn, AccessWrite); err != nil {
			return err
		}
		if _, err := fs.Dirs.Lookup(ctx, parent, name); err == nil {
			return zferr.New(zferr.Exists, "fs.newEntry")
		} else if !zferr.Is(err, zferr.NotFound) {
			return err
		}

		now := fs.now()
		childID = fs.Inodes.Allocate()
		child := build(now)
		child.Common.ParentHint = parent
		child.Common.NameHint = name

		if err := fs.Inodes.Save(txn, childID, child); err != nil {
			return err
		}
		if err := fs.Inodes.SaveCounter(txn); err != nil {
			return err
		}
		if err := failpoint.Reached(afterInode); err != nil {
			return err
		}

		if err := fs.Dirs.AddEntry(ctx, txn, parent, name, childID); err != nil {
			return err
		}
		if err := failpoint.Reached(afterDirEntry); err != nil {
			return err
		}

		parentIn.EntryCount++
		if child.IsDir() {
			parentIn.Common.Nlink++
		}
		parentIn.Common.Mtime = now
		parentIn.Common.Ctime = now
		if err := fs.Inodes.Save(txn, parent, parentIn); err != nil {
			return err
		}

		result = attrsFromInode(childID, child)
		return nil
	})
	if err != nil {
		return 0, Attrs{}, err
	}
	if err := failpoint.Reached(afterCommit); err != nil {
		return 0, Attrs{}, err
	}
	fs.Stats.AddInodes(1)
	return childID, result, nil
}

// Create makes a new regular file named name under parent.
func (fs *Filesystem) Create(ctx context.Context, auth AuthContext, parent inode.ID, name string, mode uint32) (inode.ID, Attrs, error) {
	return fs.newEntry(ctx, auth, parent, name, func(now inode.Timestamp) inode.Inode {
		return inode.Inode{
			Kind: inode.KindFile,
			Common: inode.Common{
				Mode: mode, UID: auth.UID, GID: auth.GID,
				Atime: now, Mtime: now, Ctime: now, Nlink: 1,
			},
		}
	}, failpoint.CreateAfterInode, failpoint.CreateAfterDirEntry, failpoint.CreateAfterCommit)
}

// Mkdir makes a new directory named name under parent.
func (fs *Filesystem) Mkdir(ctx context.Context, auth AuthContext, parent inode.ID, name string, mode uint32) (inode.ID, Attrs, error) {
	return fs.newEntry(ctx, auth, parent, name, func(now inode.Timestamp) inode.Inode {
		return inode.Inode{
			Kind: inode.KindDirectory,
			Common: inode.Common{
				Mode: mode, UID: auth.UID, GID: auth.GID,
				Atime: now, Mtime: now, Ctime: now, Nlink: 2, // "." and its own DirEntry.
			},
		}
	}, failpoint.MkdirAfterInode, failpoint.MkdirAfterDirEntry, failpoint.MkdirAfterCommit)
}

// Symlink makes a new symlink named name under parent, pointing at
// target.
func (fs *Filesystem) Symlink(ctx context.Context, auth AuthContext, parent inode.ID, name, target string) (inode.ID, Attrs, error) {
	return fs.newEntry(ctx, auth, parent, name, func(now inode.Timestamp) inode.Inode {
		return inode.Inode{
			Kind: inode.KindSymlink,
			Common: inode.Common{
				Mode: 0o777, UID: auth.UID, GID: auth.GID,
				Atime: now, Mtime: now, Ctime: now, Nlink: 1,
			},
			SymlinkTarget: []byte(target),
		}
	}, failpoint.SymlinkAfterInode, failpoint.SymlinkAfterDirEntry, failpoint.SymlinkAfterCommit)
}

// Mknod makes a new device/fifo/socket node named name under parent.
func (fs *Filesystem) Mknod(ctx context.Context, auth AuthContext, parent inode.ID, name string, kind inode.Kind, mode uint32, major, minor uint32) (inode.ID, Attrs, error) {
	switch kind {
	case inode.KindFifo, inode.KindSocket, inode.KindCharDevice, inode.KindBlockDevice:
	default:
		return 0, Attrs{}, zferr.New(zferr.InvalidArgument, "fs.Mknod")
	}
	return fs.newEntry(ctx, auth, parent, name, func(now inode.Timestamp) inode.Inode {
		return inode.Inode{
			Kind: kind,
			Common: inode.Common{
				Mode: mode, UID: auth.UID, GID: auth.GID,
				Atime: now, Mtime: now, Ctime: now, Nlink: 1,
			},
			DeviceMajor: major,
			DeviceMinor: minor,
		}
	}, failpoint.MknodAfterInode, failpoint.MknodAfterDirEntry, failpoint.MknodAfterCommit)
}
