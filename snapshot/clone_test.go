package snapshot

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/zferr"
)

func TestClonePathCopiesFileContentIndependently(t *testing.T) {
	ctx := context.Background()
	f := openFixture(t)

	srcID, _, err := f.zfs.Create(ctx, auth(), inode.RootID, "source.txt", 0o644)
	require.NoError(t, err)
	_, err = f.zfs.Write(ctx, auth(), srcID, 0, []byte("original content"))
	require.NoError(t, err)

	cloneID, err := f.mgr.ClonePath(ctx, srcID, inode.RootID, "clone.txt")
	require.NoError(t, err)
	assert.NotEqual(t, srcID, cloneID)

	cloneData, err := f.chunks.Get(ctx, cloneID, 0)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("original content"), cloneData))

	srcIn, err := f.inodes.Get(ctx, srcID)
	require.NoError(t, err)
	cloneIn, err := f.inodes.Get(ctx, cloneID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, srcIn.Common.Nlink)
	assert.EqualValues(t, 1, cloneIn.Common.Nlink)

	// Writing to the clone must never affect the source: these are
	// independent inodes, not a shared CoW reference.
	_, err = f.zfs.Write(ctx, auth(), cloneID, 0, []byte("changed!!!!!!!!"))
	require.NoError(t, err)
	srcData, err := f.chunks.Get(ctx, srcID, 0)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("original content"), srcData))
}

func TestClonePathRecursesThroughSubdirectories(t *testing.T) {
	ctx := context.Background()
	f := openFixture(t)

	topID, _, err := f.zfs.Mkdir(ctx, auth(), inode.RootID, "top", 0o755)
	require.NoError(t, err)
	subID, _, err := f.zfs.Mkdir(ctx, auth(), topID, "sub", 0o755)
	require.NoError(t, err)
	fileID, _, err := f.zfs.Create(ctx, auth(), subID, "leaf.txt", 0o644)
	require.NoError(t, err)
	_, err = f.zfs.Write(ctx, auth(), fileID, 0, []byte("leaf"))
	require.NoError(t, err)

	clonedTopID, err := f.mgr.ClonePath(ctx, topID, inode.RootID, "top-clone")
	require.NoError(t, err)
	assert.NotEqual(t, topID, clonedTopID)

	clonedSubID, err := f.dirs.Lookup(ctx, clonedTopID, "sub")
	require.NoError(t, err)
	assert.NotEqual(t, subID, clonedSubID)

	clonedFileID, err := f.dirs.Lookup(ctx, clonedSubID, "leaf.txt")
	require.NoError(t, err)
	assert.NotEqual(t, fileID, clonedFileID)

	data, err := f.chunks.Get(ctx, clonedFileID, 0)
	require.NoError(t, err)
	assert.Equal(t, "leaf", string(data))

	clonedTop, err := f.inodes.Get(ctx, clonedTopID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, clonedTop.EntryCount)
	assert.EqualValues(t, 3, clonedTop.Common.Nlink) // base 2 + "sub" subdir

	clonedSub, err := f.inodes.Get(ctx, clonedSubID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, clonedSub.EntryCount)
}

func TestClonePathRejectsNameCollision(t *testing.T) {
	ctx := context.Background()
	f := openFixture(t)

	srcID, _, err := f.zfs.Create(ctx, auth(), inode.RootID, "a.txt", 0o644)
	require.NoError(t, err)
	_, _, err = f.zfs.Create(ctx, auth(), inode.RootID, "taken.txt", 0o644)
	require.NoError(t, err)

	_, err = f.mgr.ClonePath(ctx, srcID, inode.RootID, "taken.txt")
	require.Error(t, err)
}

func TestClonePathOnReadOnlyManagerFails(t *testing.T) {
	ctx := context.Background()
	f := openFixture(t)

	srcID, _, err := f.zfs.Create(ctx, auth(), inode.RootID, "a.txt", 0o644)
	require.NoError(t, err)

	roMgr := New(f.db, f.inodes, f.dirs, f.chunks, f.mgr.datasets, f.stats, f.mgr.coord, f.mgr.clock, true, nil)
	_, err = roMgr.ClonePath(ctx, srcID, inode.RootID, "clone.txt")
	require.Error(t, err)
	assert.EqualValues(t, zferr.ReadOnlyFilesystem, zferr.CodeOf(err))
}
