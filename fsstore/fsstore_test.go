package fsstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zerofs/zerofs-go/cfg"
	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/kvstore"
	"github.com/zerofs/zerofs-go/objstore"
)

// openTestDB returns a fresh in-memory, plaintext-in/ciphertext-out
// DB for a single test, torn down via t.Cleanup.
func openTestDB(t *testing.T) *encryption.DB {
	t.Helper()
	store := objstore.NewMemoryStore()
	dir := t.TempDir()
	lsmCfg := cfg.GetDefaultLSMConfig()
	kv, err := kvstore.Open(context.Background(), store, dir, lsmCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close(context.Background()) })

	var key [32]byte
	mgr, err := encryption.New(key, cfg.CompressionConfig{Algorithm: cfg.CompressionZstd, ZstdLevel: 3})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	return encryption.NewDB(kv, mgr)
}

func commit(t *testing.T, db *encryption.DB, fn func(txn *encryption.Transaction) error) {
	t.Helper()
	txn := db.NewTransaction()
	require.NoError(t, fn(txn))
	require.NoError(t, db.Commit(context.Background(), txn, kvstore.WriteOptions{AwaitDurable: true}))
}
