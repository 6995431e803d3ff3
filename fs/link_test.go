package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/zferr"
)

func TestLinkIncrementsNlink(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "a", 0o644)
	require.NoError(t, err)

	attrs, err := zfs.Link(ctx, rootAuth(), id, inode.RootID, "b")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), attrs.Nlink)

	got, err := zfs.Lookup(ctx, rootAuth(), inode.RootID, "b")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestLinkRejectsDirectories(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	dirID, _, err := zfs.Mkdir(ctx, rootAuth(), inode.RootID, "d", 0o755)
	require.NoError(t, err)
	_, err = zfs.Link(ctx, rootAuth(), dirID, inode.RootID, "dlink")
	require.Error(t, err)
	assert.True(t, zferr.Is(err, zferr.InvalidArgument))
}

func TestUnlinkDeletesInodeImmediatelyWithoutChunks(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "f", 0o644)
	require.NoError(t, err)
	require.NoError(t, zfs.Unlink(ctx, rootAuth(), inode.RootID, "f"))

	_, err = zfs.GetAttr(ctx, id)
	require.Error(t, err)
	assert.True(t, zferr.Is(err, zferr.NotFound))
}

func TestUnlinkTombstonesInodeWithChunks(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "f", 0o644)
	require.NoError(t, err)
	_, err = zfs.Write(ctx, rootAuth(), id, 0, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, zfs.Unlink(ctx, rootAuth(), inode.RootID, "f"))

	// The inode record survives (nlink 0) until gc drains the tombstone.
	attrs, err := zfs.GetAttr(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), attrs.Nlink)
}

func TestUnlinkWithRemainingLinkKeepsInode(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "a", 0o644)
	require.NoError(t, err)
	_, err = zfs.Link(ctx, rootAuth(), id, inode.RootID, "b")
	require.NoError(t, err)

	require.NoError(t, zfs.Unlink(ctx, rootAuth(), inode.RootID, "a"))

	attrs, err := zfs.GetAttr(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), attrs.Nlink)

	got, err := zfs.Lookup(ctx, rootAuth(), inode.RootID, "b")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestUnlinkRejectsDirectories(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	_, _, err := zfs.Mkdir(ctx, rootAuth(), inode.RootID, "d", 0o755)
	require.NoError(t, err)
	err = zfs.Unlink(ctx, rootAuth(), inode.RootID, "d")
	require.Error(t, err)
	assert.True(t, zferr.Is(err, zferr.IsDir))
}

func TestRmdirRemovesEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	dirID, _, err := zfs.Mkdir(ctx, rootAuth(), inode.RootID, "d", 0o755)
	require.NoError(t, err)
	require.NoError(t, zfs.Rmdir(ctx, rootAuth(), inode.RootID, "d"))

	_, err = zfs.GetAttr(ctx, dirID)
	require.Error(t, err)
	assert.True(t, zferr.Is(err, zferr.NotFound))

	rootAttrs, err := zfs.GetAttr(ctx, inode.RootID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), rootAttrs.Nlink)
}

func TestRmdirRejectsNonEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	_, _, err := zfs.Mkdir(ctx, rootAuth(), inode.RootID, "d", 0o755)
	require.NoError(t, err)
	_, _, err = zfs.Create(ctx, rootAuth(), mustLookup(t, zfs, "d"), "child", 0o644)
	require.NoError(t, err)

	err = zfs.Rmdir(ctx, rootAuth(), inode.RootID, "d")
	require.Error(t, err)
	assert.True(t, zferr.Is(err, zferr.NotEmpty))
}

func mustLookup(t *testing.T, zfs *Filesystem, name string) inode.ID {
	t.Helper()
	id, err := zfs.Lookup(context.Background(), rootAuth(), inode.RootID, name)
	require.NoError(t, err)
	return id
}
