package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zerofs/zerofs-go/cfg"
	"github.com/zerofs/zerofs-go/clock"
	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/fsstore"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/kvstore"
	"github.com/zerofs/zerofs-go/lockmgr"
	"github.com/zerofs/zerofs-go/objstore"
	"github.com/zerofs/zerofs-go/txn"
)

const rootUID, rootGID = 0, 0

func openTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	ctx := context.Background()

	store := objstore.NewMemoryStore()
	dir := t.TempDir()
	kv, err := kvstore.Open(ctx, store, dir, cfg.GetDefaultLSMConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close(ctx) })

	var key [32]byte
	mgr, err := encryption.New(key, cfg.CompressionConfig{Algorithm: cfg.CompressionZstd, ZstdLevel: 3})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	db := encryption.NewDB(kv, mgr)
	inodes := fsstore.NewInodeStore(db, 1)
	dirs := fsstore.NewDirectoryStore(db)
	chunks := fsstore.NewChunkStore(db)
	tombstones := fsstore.NewTombstoneStore(db)
	clk := clock.RealClock{}

	datasets, err := fsstore.NewDatasetStore(ctx, db, inode.RootID, clk.Now().Unix(), false)
	require.NoError(t, err)
	stats, err := fsstore.NewStatsStore(ctx, db)
	require.NoError(t, err)

	coord := txn.New(db, lockmgr.New())
	zfs := New(inodes, dirs, chunks, tombstones, datasets, stats, coord, clk, false)

	txnObj := db.NewTransaction()
	now := inode.FromTime(clk.Now())
	root := inode.Inode{
		Kind:   inode.KindDirectory,
		Common: inode.Common{Mode: 0o755, UID: rootUID, GID: rootGID, Atime: now, Mtime: now, Ctime: now, Nlink: 2},
	}
	require.NoError(t, inodes.Save(txnObj, inode.RootID, root))
	require.NoError(t, db.Commit(ctx, txnObj, kvstore.WriteOptions{}))

	return zfs
}

func rootAuth() AuthContext { return AuthContext{UID: rootUID, GID: rootGID} }
