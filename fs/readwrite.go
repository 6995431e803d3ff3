package fs

import (
	"context"

	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/failpoint"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/kvstore"
	"github.com/zerofs/zerofs-go/zferr"
)

// chunkRange returns the inclusive [first, last] range of chunk
// indices spec.md's fixed ChunkSize splits [offset, offset+length)
// into; last is the chunk holding the final byte.
func chunkRange(offset, length uint64) (first, last uint64) {
	if length == 0 {
		return offset / ChunkSize, offset / ChunkSize
	}
	first = offset / ChunkSize
	last = (offset + length - 1) / ChunkSize
	return first, last
}

// Read assembles bytes [offset, offset+length) from id's chunks,
// treating any chunk missing inside [0, size) as a hole read back as
// zeros (spec.md §4.6). The returned eof flag reports whether the read
// reached the inode's recorded size.
func (fs *Filesystem) Read(ctx context.Context, auth AuthContext, id inode.ID, offset, length uint64) ([]byte, bool, error) {
	in, err := fs.Inodes.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if in.Kind != inode.KindFile {
		return nil, false, zferr.New(zferr.InvalidArgument, "fs.Read")
	}
	if err := checkAccess(auth, in, AccessRead); err != nil {
		return nil, false, err
	}

	if offset >= in.Size {
		return nil, true, nil
	}
	if offset+length > in.Size {
		length = in.Size - offset
	}
	if length == 0 {
		return nil, true, nil
	}

	out := make([]byte, length)
	firstIdx, lastIdx := chunkRange(offset, length)
	for idx := firstIdx; idx <= lastIdx; idx++ {
		chunkStart := idx * ChunkSize
		data, err := fs.Chunks.Get(ctx, id, idx)
		if err != nil {
			if zferr.Is(err, zferr.NotFound) {
				continue // hole: out is already zero-filled there.
			}
			return nil, false, err
		}

		// Intersect this chunk's byte range with [offset, offset+length).
		readStart := offset
		if chunkStart > readStart {
			readStart = chunkStart
		}
		readEnd := offset + length
		if chunkEnd := chunkStart + ChunkSize; chunkEnd < readEnd {
			readEnd = chunkEnd
		}
		if readStart >= readEnd {
			continue
		}
		srcOff := readStart - chunkStart
		if srcOff >= uint64(len(data)) {
			continue // short chunk, rest of the range is a hole.
		}
		srcEnd := readEnd - chunkStart
		if srcEnd > uint64(len(data)) {
			srcEnd = uint64(len(data))
		}
		copy(out[readStart-offset:], data[srcOff:srcEnd])
	}

	return out, offset+length >= in.Size, nil
}

// Write splits data into chunk-aligned read-modify-write operations
// and updates size/mtime/ctime atomically with the chunk writes
// (spec.md §4.6).
func (fs *Filesystem) Write(ctx context.Context, auth AuthContext, id inode.ID, offset uint64, data []byte) (uint64, error) {
	if err := fs.requireWritable("fs.Write"); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		in, err := fs.Inodes.Get(ctx, id)
		if err != nil {
			return 0, err
		}
		return in.Size, nil
	}

	var newSize uint64
	var sizeDelta int64
	_, err := fs.coord.RunLockedSingle(ctx, id, kvstore.WriteOptions{AwaitDurable: true}, func(ctx context.Context, txn *encryption.Transaction) error {
		in, err := fs.Inodes.Get(ctx, id)
		if err != nil {
			return err
		}
		if in.Kind != inode.KindFile {
			return zferr.New(zferr.InvalidArgument, "fs.Write")
		}
		if err := checkAccess(auth, in, AccessWrite); err != nil {
			return err
		}

		firstIdx, lastIdx := chunkRange(offset, uint64(len(data)))
		for idx := firstIdx; idx <= lastIdx; idx++ {
			chunkStart := idx * ChunkSize

			existing, err := fs.Chunks.Get(ctx, id, idx)
			if err != nil && !zferr.Is(err, zferr.NotFound) {
				return err
			}

			writeStart := offset
			if chunkStart > writeStart {
				writeStart = chunkStart
			}
			writeEnd := offset + uint64(len(data))
			if chunkEnd := chunkStart + ChunkSize; chunkEnd < writeEnd {
				writeEnd = chunkEnd
			}
			localStart := writeStart - chunkStart
			localEnd := writeEnd - chunkStart

			needed := localEnd
			if uint64(len(existing)) > needed {
				needed = uint64(len(existing))
			}
			buf := make([]byte, needed)
			copy(buf, existing)
			copy(buf[localStart:localEnd], data[writeStart-offset:writeEnd-offset])

			if err := fs.Chunks.Put(txn, id, idx, buf); err != nil {
				return err
			}
		}
		if err := failpoint.Reached(failpoint.WriteAfterChunk); err != nil {
			return err
		}

		if end := offset + uint64(len(data)); end > in.Size {
			sizeDelta = int64(end - in.Size)
			in.Size = end
		}
		now := fs.now()
		in.Common.Mtime = now
		in.Common.Ctime = now
		if err := fs.Inodes.Save(txn, id, in); err != nil {
			return err
		}
		if err := failpoint.Reached(failpoint.WriteAfterInode); err != nil {
			return err
		}
		newSize = in.Size
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := failpoint.Reached(failpoint.WriteAfterCommit); err != nil {
		return 0, err
	}
	if sizeDelta != 0 {
		fs.Stats.AddBytes(sizeDelta)
	}
	return newSize, nil
}

// ReadHandle is a read-only handle over a single inode (spec.md §6's
// open-as-reader): it never calls through the write path. Its reads go
// through fs.Read, so the inode record is read through the same
// metadata cache every other caller uses; the cache is not bypassed
// for non-chunk keys.
type ReadHandle struct {
	fs *Filesystem
	id inode.ID
}

// OpenAsReader returns a ReadHandle for id after checking read access.
func (fs *Filesystem) OpenAsReader(ctx context.Context, auth AuthContext, id inode.ID) (*ReadHandle, error) {
	in, err := fs.Inodes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(auth, in, AccessRead); err != nil {
		return nil, err
	}
	return &ReadHandle{fs: fs, id: id}, nil
}

// Read calls fs.Read with root credentials: the inode record comes
// through the metadata cache, the chunk data from the chunk store.
func (h *ReadHandle) Read(ctx context.Context, offset, length uint64) ([]byte, bool, error) {
	return h.fs.Read(ctx, AuthContext{UID: 0}, h.id, offset, length)
}
