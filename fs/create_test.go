package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/zferr"
)

func TestCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, attrs, err := zfs.Create(ctx, rootAuth(), inode.RootID, "hello.txt", 0o644)
	require.NoError(t, err)
	assert.Equal(t, inode.KindFile, attrs.Kind)
	assert.Equal(t, uint32(1), attrs.Nlink)

	got, err := zfs.Lookup(ctx, rootAuth(), inode.RootID, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	_, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "dup", 0o644)
	require.NoError(t, err)
	_, _, err = zfs.Create(ctx, rootAuth(), inode.RootID, "dup", 0o644)
	require.Error(t, err)
	assert.True(t, zferr.Is(err, zferr.Exists))
}

func TestCreateRejectsOversizedName(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	longName := make([]byte, 257)
	for i := range longName {
		longName[i] = 'a'
	}
	_, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, string(longName), 0o644)
	require.Error(t, err)
	assert.True(t, zferr.Is(err, zferr.NameTooLong))
}

func TestCreateUnderFileFails(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	fileID, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "leaf", 0o644)
	require.NoError(t, err)
	_, _, err = zfs.Create(ctx, rootAuth(), fileID, "child", 0o644)
	require.Error(t, err)
	assert.True(t, zferr.Is(err, zferr.NotDir))
}

func TestMkdirSetsDirNlinkAndBumpsParent(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	_, attrs, err := zfs.Mkdir(ctx, rootAuth(), inode.RootID, "sub", 0o755)
	require.NoError(t, err)
	assert.Equal(t, inode.KindDirectory, attrs.Kind)
	assert.Equal(t, uint32(2), attrs.Nlink)

	parentAttrs, err := zfs.GetAttr(ctx, inode.RootID)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), parentAttrs.Nlink) // 2 (self+".") + 1 for the new subdir's "..".
}

func TestSymlinkStoresTarget(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	id, attrs, err := zfs.Symlink(ctx, rootAuth(), inode.RootID, "link", "/target/path")
	require.NoError(t, err)
	assert.Equal(t, inode.KindSymlink, attrs.Kind)
	assert.NotZero(t, id)
}

func TestMknodRejectsFileKind(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	_, _, err := zfs.Mknod(ctx, rootAuth(), inode.RootID, "dev", inode.KindFile, 0o600, 0, 0)
	require.Error(t, err)
	assert.True(t, zferr.Is(err, zferr.InvalidArgument))
}

func TestMknodCreatesCharDevice(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	_, attrs, err := zfs.Mknod(ctx, rootAuth(), inode.RootID, "dev", inode.KindCharDevice, 0o600, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, inode.KindCharDevice, attrs.Kind)
	assert.Equal(t, uint32(5), attrs.DeviceMajor)
	assert.Equal(t, uint32(1), attrs.DeviceMinor)
}

func TestStatFSTracksInodeAndByteCounters(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	before := zfs.StatFS(ctx)
	id, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "f", 0o644)
	require.NoError(t, err)
	after := zfs.StatFS(ctx)
	assert.Equal(t, before.UsedInodes+1, after.UsedInodes)

	_, err = zfs.Write(ctx, rootAuth(), id, 0, []byte("hello world"))
	require.NoError(t, err)
	afterWrite := zfs.StatFS(ctx)
	assert.Equal(t, after.UsedBytes+11, afterWrite.UsedBytes)

	require.NoError(t, zfs.Unlink(ctx, rootAuth(), inode.RootID, "f"))
	afterUnlink := zfs.StatFS(ctx)
	assert.Equal(t, before.UsedInodes, afterUnlink.UsedInodes)
	assert.Equal(t, before.UsedBytes, afterUnlink.UsedBytes)
}
