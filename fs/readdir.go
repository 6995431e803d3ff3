package fs

import (
	"context"

	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/zferr"
)

// DirListing is one entry returned by Readdir: its name, child inode
// id, scan cookie, and attributes freshly read from the inode table
// (spec.md §4.6).
type DirListing struct {
	Name   string
	Child  inode.ID
	Cookie uint64
	Attrs  Attrs
}

// Readdir returns up to count entries under dir strictly after
// cookie, ordered by cookie, requiring read permission on dir. Each
// entry's attributes come from a fresh fsstore.InodeStore read rather
// than anything cached in the directory index, so a concurrent write
// or setattr on a listed child is always reflected.
func (fs *Filesystem) Readdir(ctx context.Context, auth AuthContext, dir inode.ID, cookie uint64, count int) ([]DirListing, error) {
	dirIn, err := fs.Inodes.Get(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !dirIn.IsDir() {
		return nil, zferr.New(zferr.NotDir, "fs.Readdir")
	}
	if err := checkAccess(auth, dirIn, AccessRead); err != nil {
		return nil, err
	}

	page, err := fs.Dirs.ReaddirPage(ctx, dir, cookie, count)
	if err != nil {
		return nil, err
	}

	out := make([]DirListing, 0, len(page))
	for _, e := range page {
		childIn, err := fs.Inodes.Get(ctx, e.Child)
		if err != nil {
			return nil, err
		}
		out = append(out, DirListing{
			Name:   e.Name,
			Child:  e.Child,
			Cookie: e.Cookie,
			Attrs:  attrsFromInode(e.Child, childIn),
		})
	}
	return out, nil
}
