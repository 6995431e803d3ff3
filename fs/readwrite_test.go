package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofs/zerofs-go/inode"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "f", 0o644)
	require.NoError(t, err)

	n, err := zfs.Write(ctx, rootAuth(), id, 0, []byte("hello, zerofs"))
	require.NoError(t, err)
	assert.Equal(t, uint64(13), n)

	data, eof, err := zfs.Read(ctx, rootAuth(), id, 0, 13)
	require.NoError(t, err)
	assert.True(t, eof)
	assert.Equal(t, "hello, zerofs", string(data))
}

func TestReadHoleReturnsZeros(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "f", 0o644)
	require.NoError(t, err)

	// Write only at the start of the second chunk, leaving [0, ChunkSize) a hole.
	_, err = zfs.Write(ctx, rootAuth(), id, ChunkSize, []byte("second"))
	require.NoError(t, err)

	data, _, err := zfs.Read(ctx, rootAuth(), id, 0, 16)
	require.NoError(t, err)
	for _, b := range data {
		assert.Equal(t, byte(0), b)
	}
}

func TestWriteAcrossChunkBoundary(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "f", 0o644)
	require.NoError(t, err)

	straddle := make([]byte, 32)
	for i := range straddle {
		straddle[i] = byte(i)
	}
	offset := ChunkSize - 16
	_, err = zfs.Write(ctx, rootAuth(), id, offset, straddle)
	require.NoError(t, err)

	data, _, err := zfs.Read(ctx, rootAuth(), id, offset, 32)
	require.NoError(t, err)
	assert.Equal(t, straddle, data)
}

func TestReadPastEOFReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "f", 0o644)
	require.NoError(t, err)
	_, err = zfs.Write(ctx, rootAuth(), id, 0, []byte("abc"))
	require.NoError(t, err)

	data, eof, err := zfs.Read(ctx, rootAuth(), id, 100, 10)
	require.NoError(t, err)
	assert.True(t, eof)
	assert.Empty(t, data)
}

func TestOpenAsReaderReadsBack(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "f", 0o644)
	require.NoError(t, err)
	_, err = zfs.Write(ctx, rootAuth(), id, 0, []byte("payload"))
	require.NoError(t, err)

	h, err := zfs.OpenAsReader(ctx, rootAuth(), id)
	require.NoError(t, err)
	data, _, err := h.Read(ctx, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestSetAttrTruncateDownDeletesChunks(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "f", 0o644)
	require.NoError(t, err)
	content := make([]byte, ChunkSize*2)
	for i := range content {
		content[i] = byte(i%251 + 1) // non-zero, position-distinguishable
	}
	_, err = zfs.Write(ctx, rootAuth(), id, 0, content)
	require.NoError(t, err)

	newSize := uint64(10)
	attrs, err := zfs.SetAttr(ctx, rootAuth(), id, AttrChanges{Size: &newSize})
	require.NoError(t, err)
	assert.Equal(t, newSize, attrs.Size)

	data, eof, err := zfs.Read(ctx, rootAuth(), id, 0, 10)
	require.NoError(t, err)
	assert.True(t, eof)
	assert.Equal(t, content[:10], data)

	// Growing the file back past newSize must expose zeros, not the
	// bytes that used to live there before the shrink.
	grownSize := uint64(20)
	_, err = zfs.SetAttr(ctx, rootAuth(), id, AttrChanges{Size: &grownSize})
	require.NoError(t, err)
	regrown, eof, err := zfs.Read(ctx, rootAuth(), id, 10, 10)
	require.NoError(t, err)
	assert.True(t, eof)
	assert.Equal(t, make([]byte, 10), regrown)
}

func TestSetAttrTruncateDownMidChunkPreservesPrefixAcrossShrinkBoundary(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "f", 0o644)
	require.NoError(t, err)
	content := make([]byte, 1000)
	for i := range content {
		content[i] = byte(i%251 + 1)
	}
	_, err = zfs.Write(ctx, rootAuth(), id, 0, content)
	require.NoError(t, err)

	newSize := uint64(500)
	_, err = zfs.SetAttr(ctx, rootAuth(), id, AttrChanges{Size: &newSize})
	require.NoError(t, err)

	data, eof, err := zfs.Read(ctx, rootAuth(), id, 0, 500)
	require.NoError(t, err)
	assert.True(t, eof)
	assert.Equal(t, content[:500], data)
}

func TestSetAttrTruncateUpReadsZeros(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "f", 0o644)
	require.NoError(t, err)
	_, err = zfs.Write(ctx, rootAuth(), id, 0, []byte("abc"))
	require.NoError(t, err)

	newSize := uint64(20)
	_, err = zfs.SetAttr(ctx, rootAuth(), id, AttrChanges{Size: &newSize})
	require.NoError(t, err)

	data, eof, err := zfs.Read(ctx, rootAuth(), id, 0, 20)
	require.NoError(t, err)
	assert.True(t, eof)
	assert.Equal(t, "abc", string(data[:3]))
	for _, b := range data[3:] {
		assert.Equal(t, byte(0), b)
	}
}

func TestSetAttrModeRequiresOwnerOrRoot(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "f", 0o644)
	require.NoError(t, err)

	mode := uint32(0o600)
	other := AuthContext{UID: 999, GID: 999}
	_, err = zfs.SetAttr(ctx, other, id, AttrChanges{Mode: &mode})
	require.Error(t, err)
}
