package fs

import (
	"context"

	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/zferr"
)

// Lookup resolves one path component under parent, requiring execute
// permission on parent (spec.md §4.6).
func (fs *Filesystem) Lookup(ctx context.Context, auth AuthContext, parent inode.ID, name string) (inode.ID, error) {
	parentIn, err := fs.Inodes.Get(ctx, parent)
	if err != nil {
		return 0, err
	}
	if !parentIn.IsDir() {
		return 0, zferr.New(zferr.NotDir, "fs.Lookup")
	}
	if err := checkAccess(auth, parentIn, AccessExecute); err != nil {
		return 0, err
	}
	return fs.Dirs.Lookup(ctx, parent, name)
}

// GetAttr reads an inode's attributes through the metadata cache; no
// permission check is required to stat an inode whose id is already
// known (spec.md §4.6).
func (fs *Filesystem) GetAttr(ctx context.Context, id inode.ID) (Attrs, error) {
	in, err := fs.Inodes.Get(ctx, id)
	if err != nil {
		return Attrs{}, err
	}
	return attrsFromInode(id, in), nil
}
