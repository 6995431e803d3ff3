package encryption

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofs/zerofs-go/cfg"
	"github.com/zerofs/zerofs-go/keycodec"
	"github.com/zerofs/zerofs-go/kvstore"
	"github.com/zerofs/zerofs-go/objstore"
)

func openTestEncDB(t *testing.T) *DB {
	t.Helper()
	store := objstore.NewMemoryStore()
	dir := t.TempDir()
	lsmCfg := cfg.GetDefaultLSMConfig()
	kv, err := kvstore.Open(context.Background(), store, dir, lsmCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close(context.Background()) })

	var key [32]byte
	mgr, err := New(key, cfg.CompressionConfig{Algorithm: cfg.CompressionZstd, ZstdLevel: 3})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	return NewDB(kv, mgr)
}

func TestTransactionCommitRoundTrip(t *testing.T) {
	db := openTestEncDB(t)
	ctx := context.Background()

	key := keycodec.InodeKey(1)
	txn := db.NewTransaction()
	require.NoError(t, txn.PutBytes(key, []byte("plaintext-inode-bytes")))
	require.NoError(t, db.Commit(ctx, txn, kvstore.WriteOptions{AwaitDurable: true}))

	got, ok, err := db.GetBytes(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("plaintext-inode-bytes"), got)
}

func TestTransactionDeleteBytes(t *testing.T) {
	db := openTestEncDB(t)
	ctx := context.Background()
	key := keycodec.InodeKey(1)

	txn := db.NewTransaction()
	require.NoError(t, txn.PutBytes(key, []byte("v")))
	require.NoError(t, db.Commit(ctx, txn, kvstore.WriteOptions{AwaitDurable: true}))

	txn2 := db.NewTransaction()
	txn2.DeleteBytes(key)
	require.NoError(t, db.Commit(ctx, txn2, kvstore.WriteOptions{AwaitDurable: true}))

	_, ok, err := db.GetBytes(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanDecryptsChunkValues(t *testing.T) {
	db := openTestEncDB(t)
	ctx := context.Background()

	txn := db.NewTransaction()
	require.NoError(t, txn.PutBytes(keycodec.ChunkKey(1, 0), []byte("chunk-data-0")))
	require.NoError(t, txn.PutBytes(keycodec.ChunkKey(1, 1), []byte("chunk-data-1")))
	require.NoError(t, db.Commit(ctx, txn, kvstore.WriteOptions{AwaitDurable: true}))

	start, end := keycodec.ChunkRangeStart(1), keycodec.ChunkRangeEnd(1)
	recs, err := db.Scan(ctx, start, end, kvstore.ScanOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []byte("chunk-data-0"), recs[0].Value)
	assert.Equal(t, []byte("chunk-data-1"), recs[1].Value)
}
