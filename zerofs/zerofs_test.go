package zerofs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerofs/zerofs-go/clock"
	"github.com/zerofs/zerofs-go/fs"
	"github.com/zerofs/zerofs-go/gc"
	"github.com/zerofs/zerofs-go/objstore"
	"github.com/zerofs/zerofs-go/writebackcache"
	"github.com/zerofs/zerofs-go/zflog"
)

func openTest(t *testing.T) *Filesystem {
	t.Helper()
	ctx := context.Background()

	zfs, err := Open(ctx, Config{
		Store:    objstore.NewMemoryStore(),
		LocalDir: t.TempDir(),
		Clock:    clock.RealClock{},
		Log:      zflog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = zfs.Close(ctx) })
	return zfs
}

func TestOpenProvisionsRootAndIsImmediatelyUsable(t *testing.T) {
	ctx := context.Background()
	zfs := openTest(t)

	auth := fs.AuthContext{}
	id, _, err := zfs.FS.Create(ctx, auth, 0, "hello.txt", 0o644)
	require.NoError(t, err)
	_, err = zfs.FS.Write(ctx, auth, id, 0, []byte("hi"))
	require.NoError(t, err)

	report, err := zfs.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Findings)
}

func TestOpenTwiceReusesExistingRootInode(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemoryStore()
	dir := filepath.Join(t.TempDir(), "state")

	zfs1, err := Open(ctx, Config{Store: store, LocalDir: dir, Log: zflog.Nop()})
	require.NoError(t, err)
	usedBefore, _ := zfs1.Usage()
	require.NoError(t, zfs1.Close(ctx))

	zfs2, err := Open(ctx, Config{Store: store, LocalDir: dir, Log: zflog.Nop()})
	require.NoError(t, err)
	defer zfs2.Close(ctx)

	usedAfter, _ := zfs2.Usage()
	assert.Equal(t, usedBefore, usedAfter)
}

func TestSnapshotManagerSharesRootCoordinator(t *testing.T) {
	ctx := context.Background()
	zfs := openTest(t)

	auth := fs.AuthContext{}
	_, _, err := zfs.FS.Create(ctx, auth, 0, "a.txt", 0o644)
	require.NoError(t, err)

	ds, err := zfs.Snapshots.CreateSnapshot(ctx, zfs.Snapshots.DefaultDataset(), "snap")
	require.NoError(t, err)
	assert.True(t, ds.IsSnapshot)
}

func TestWritebackCacheWiredWhenConfigured(t *testing.T) {
	ctx := context.Background()
	cacheDir := t.TempDir()

	zfs, err := Open(ctx, Config{
		Store:          objstore.NewMemoryStore(),
		LocalDir:       t.TempDir(),
		WritebackCache: writebackcache.DefaultConfig(cacheDir),
		Log:            zflog.Nop(),
	})
	require.NoError(t, err)
	defer zfs.Close(ctx)

	require.NotNil(t, zfs.Cache)
}

func TestStartBackgroundGCIsNoopOnReadOnlyFilesystem(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemoryStore()
	dir := t.TempDir()

	zfs, err := Open(ctx, Config{Store: store, LocalDir: dir, Log: zflog.Nop()})
	require.NoError(t, err)
	require.NoError(t, zfs.Close(ctx))

	roZfs, err := Open(ctx, Config{Store: store, LocalDir: dir, ReadOnly: true, GC: gc.DefaultConfig(), Log: zflog.Nop()})
	require.NoError(t, err)
	defer roZfs.Close(ctx)

	roZfs.StartBackgroundGC(ctx)
	assert.Nil(t, roZfs.gcCancel)
}
