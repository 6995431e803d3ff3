package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofs/zerofs-go/inode"
)

func TestReaddirListsEntriesWithAttrs(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	fileID, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "a", 0o644)
	require.NoError(t, err)
	dirID, _, err := zfs.Mkdir(ctx, rootAuth(), inode.RootID, "b", 0o755)
	require.NoError(t, err)

	listing, err := zfs.Readdir(ctx, rootAuth(), inode.RootID, 0, 10)
	require.NoError(t, err)
	require.Len(t, listing, 2)

	byName := map[string]DirListing{}
	for _, e := range listing {
		byName[e.Name] = e
	}
	assert.Equal(t, fileID, byName["a"].Child)
	assert.Equal(t, inode.KindFile, byName["a"].Attrs.Kind)
	assert.Equal(t, dirID, byName["b"].Child)
	assert.Equal(t, inode.KindDirectory, byName["b"].Attrs.Kind)
}

func TestReaddirReflectsAttrsAfterMutation(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	fileID, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "a", 0o644)
	require.NoError(t, err)

	// Write changes Size/Mtime/Ctime on the inode without touching the
	// directory entry that names it; Readdir must still report the
	// post-write attributes, not whatever was true when the entry was
	// created.
	_, err = zfs.Write(ctx, rootAuth(), fileID, 0, []byte("hello"))
	require.NoError(t, err)

	listing, err := zfs.Readdir(ctx, rootAuth(), inode.RootID, 0, 10)
	require.NoError(t, err)
	require.Len(t, listing, 1)
	assert.Equal(t, uint64(5), listing[0].Attrs.Size)
}

func TestReaddirPaginatesByCookie(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	for _, name := range []string{"a", "b", "c"} {
		_, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, name, 0o644)
		require.NoError(t, err)
	}

	page1, err := zfs.Readdir(ctx, rootAuth(), inode.RootID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := zfs.Readdir(ctx, rootAuth(), inode.RootID, page1[len(page1)-1].Cookie, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)

	seen := map[string]bool{}
	for _, e := range append(page1, page2...) {
		seen[e.Name] = true
	}
	assert.True(t, seen["a"] && seen["b"] && seen["c"])
}

func TestReaddirRejectsNonDirectory(t *testing.T) {
	ctx := context.Background()
	zfs := openTestFilesystem(t)

	fileID, _, err := zfs.Create(ctx, rootAuth(), inode.RootID, "f", 0o644)
	require.NoError(t, err)
	_, err = zfs.Readdir(ctx, rootAuth(), fileID, 0, 10)
	require.Error(t, err)
}
