package fs

import (
	"context"

	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/failpoint"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/kvstore"
	"github.com/zerofs/zerofs-go/zferr"
)

// AttrChanges is the subset {mode, uid, gid, size, atime, mtime}
// setattr may apply in one call (spec.md §4.6); a nil field leaves
// that attribute untouched.
type AttrChanges struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *inode.Timestamp
	Mtime *inode.Timestamp
}

// SetAttr applies changes to id. Truncating to a smaller size keeps
// and zero-tails the one chunk the new size falls inside (preserving
// its live prefix) and stages deletion of every chunk after it, inside
// the same batch as the inode update (no tombstone: the inode still
// exists). Truncating to a larger size only updates the recorded
// size; reads of the newly exposed range return zeros because no
// chunk backs them.
func (fs *Filesystem) SetAttr(ctx context.Context, auth AuthContext, id inode.ID, changes AttrChanges) (Attrs, error) {
	if err := fs.requireWritable("fs.SetAttr"); err != nil {
		return Attrs{}, err
	}

	var result Attrs
	var sizeDelta int64
	_, err := fs.coord.RunLockedSingle(ctx, id, kvstore.WriteOptions{AwaitDurable: true}, func(ctx context.Context, txn *encryption.Transaction) error {
		in, err := fs.Inodes.Get(ctx, id)
		if err != nil {
			return err
		}

		if changes.Mode != nil || changes.UID != nil || changes.GID != nil {
			if !auth.isRoot() && auth.UID != in.Common.UID {
				return zferr.New(zferr.PermissionDenied, "fs.SetAttr")
			}
		}
		if changes.Size != nil || changes.Atime != nil || changes.Mtime != nil {
			if err := checkAccess(auth, in, AccessWrite); err != nil {
				return err
			}
		}

		if changes.Mode != nil {
			in.Common.Mode = *changes.Mode
		}
		if changes.UID != nil {
			in.Common.UID = *changes.UID
		}
		if changes.GID != nil {
			in.Common.GID = *changes.GID
		}
		if changes.Atime != nil {
			in.Common.Atime = *changes.Atime
		}
		if changes.Mtime != nil {
			in.Common.Mtime = *changes.Mtime
		}

		if changes.Size != nil {
			if in.Kind != inode.KindFile {
				return zferr.New(zferr.InvalidArgument, "fs.SetAttr")
			}
			newSize := *changes.Size
			if newSize < in.Size {
				fromChunk := newSize / ChunkSize
				if tail := newSize % ChunkSize; tail != 0 {
					// fromChunk straddles newSize: the bytes in
					// [fromChunk*ChunkSize, newSize) are still live and
					// must be kept, so rewrite the chunk truncated to
					// its tail instead of deleting it outright. Only
					// the chunks strictly past it are dropped.
					existing, err := fs.Chunks.Get(ctx, id, fromChunk)
					if err != nil && !zferr.Is(err, zferr.NotFound) {
						return err
					}
					if uint64(len(existing)) > tail {
						if err := fs.Chunks.Put(txn, id, fromChunk, existing[:tail]); err != nil {
							return err
						}
					}
					// A short or missing chunk already ends at or
					// before tail; nothing to rewrite.
					if err := fs.Chunks.DeleteFrom(ctx, txn, id, fromChunk+1); err != nil {
						return err
					}
				} else if err := fs.Chunks.DeleteFrom(ctx, txn, id, fromChunk); err != nil {
					return err
				}
				if err := failpoint.Reached(failpoint.TruncateAfterChunks); err != nil {
					return err
				}
			}
			sizeDelta = int64(newSize) - int64(in.Size)
			in.Size = newSize
		}
		in.Common.Ctime = fs.now()

		if err := fs.Inodes.Save(txn, id, in); err != nil {
			return err
		}
		if err := failpoint.Reached(failpoint.TruncateAfterInode); err != nil {
			return err
		}

		result = attrsFromInode(id, in)
		return nil
	})
	if err != nil {
		return Attrs{}, err
	}
	if err := failpoint.Reached(failpoint.TruncateAfterCommit); err != nil {
		return Attrs{}, err
	}
	if sizeDelta != 0 {
		fs.Stats.AddBytes(sizeDelta)
	}
	return result, nil
}
