package writebackcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofs/zerofs-go/cfg"
	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/fsstore"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/kvstore"
	"github.com/zerofs/zerofs-go/objstore"
)

func openTestCache(t *testing.T, cfgOverride func(*Config)) (*Cache, *encryption.DB, *fsstore.ChunkStore) {
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
	chunks := fsstore.NewChunkStore(db)

	wbc := DefaultConfig(t.TempDir())
	wbc.FlushInterval = time.Second
	if cfgOverride != nil {
		cfgOverride(&wbc)
	}

	c, err := Open(wbc, db, chunks)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	return c, db, chunks
}

func TestPutThenGetServesFromCache(t *testing.T) {
	ctx := context.Background()
	c, _, _ := openTestCache(t, nil)

	require.NoError(t, c.Put(ctx, inode.ID(1), 0, []byte("hello")))
	data, err := c.Get(ctx, inode.ID(1), 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, uint64(1), c.Stats().CacheHits.Load())
}

func TestFlushAllLandsDataInChunkStore(t *testing.T) {
	ctx := context.Background()
	c, _, chunks := openTestCache(t, nil)

	require.NoError(t, c.Put(ctx, inode.ID(2), 3, []byte("payload")))
	require.NoError(t, c.FlushAll(ctx))

	data, err := chunks.Get(ctx, inode.ID(2), 3)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestGetFallsThroughToChunkStoreOnMiss(t *testing.T) {
	ctx := context.Background()
	c, db, chunks := openTestCache(t, nil)

	txn := db.NewTransaction()
	require.NoError(t, chunks.Put(txn, inode.ID(5), 0, []byte("durable")))
	require.NoError(t, db.Commit(ctx, txn, kvstore.WriteOptions{}))

	data, err := c.Get(ctx, inode.ID(5), 0)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(data))
	assert.Equal(t, uint64(1), c.Stats().CacheMisses.Load())
}

func TestDeleteDropsCachedChunkWithoutFlushing(t *testing.T) {
	ctx := context.Background()
	c, _, chunks := openTestCache(t, nil)

	require.NoError(t, c.Put(ctx, inode.ID(9), 0, []byte("gone")))
	c.Delete(inode.ID(9), 0)
	require.NoError(t, c.FlushAll(ctx))

	_, err := chunks.Get(ctx, inode.ID(9), 0)
	require.Error(t, err)
}

func TestEnsureSpaceEvictsCleanChunksUnderPressure(t *testing.T) {
	ctx := context.Background()
	c, db, chunks := openTestCache(t, func(cfg *Config) {
		cfg.MaxCacheSizeBytes = 64
	})

	// Seed a clean (read-cached) chunk directly in durable storage, then
	// read it into the cache.
	txn := db.NewTransaction()
	require.NoError(t, chunks.Put(txn, inode.ID(1), 0, make([]byte, 40)))
	require.NoError(t, db.Commit(ctx, txn, kvstore.WriteOptions{}))
	c.cfg.CacheReadsAggressively = true
	_, err := c.Get(ctx, inode.ID(1), 0)
	require.NoError(t, err)

	// A subsequent write large enough to require eviction should not
	// error even though the cache is tiny.
	require.NoError(t, c.Put(ctx, inode.ID(2), 0, make([]byte, 40)))
}
