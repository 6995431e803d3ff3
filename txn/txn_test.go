package txn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofs/zerofs-go/cfg"
	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/keycodec"
	"github.com/zerofs/zerofs-go/kvstore"
	"github.com/zerofs/zerofs-go/lockmgr"
	"github.com/zerofs/zerofs-go/objstore"
)

func openTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	store := objstore.NewMemoryStore()
	dir := t.TempDir()
	kv, err := kvstore.Open(context.Background(), store, dir, cfg.GetDefaultLSMConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close(context.Background()) })

	var key [32]byte
	mgr, err := encryption.New(key, cfg.CompressionConfig{Algorithm: cfg.CompressionZstd, ZstdLevel: 3})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	return New(encryption.NewDB(kv, mgr), lockmgr.New())
}

func TestRunLockedCommitsStagedWrites(t *testing.T) {
	c := openTestCoordinator(t)
	ctx := context.Background()

	key := keycodec.InodeKey(1)
	seq, err := c.RunLockedSingle(ctx, 1, kvstore.WriteOptions{AwaitDurable: true}, func(ctx context.Context, txn *encryption.Transaction) error {
		return txn.PutBytes(key, []byte("v1"))
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	got, ok, err := c.db.GetBytes(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)
}

func TestRunLockedAbortsOnStageError(t *testing.T) {
	c := openTestCoordinator(t)
	ctx := context.Background()
	key := keycodec.InodeKey(1)

	_, err := c.RunLockedSingle(ctx, 1, kvstore.WriteOptions{}, func(ctx context.Context, txn *encryption.Transaction) error {
		_ = txn.PutBytes(key, []byte("never committed"))
		return errors.New("boom")
	})
	require.Error(t, err)

	_, ok, err := c.db.GetBytes(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunLockedSequenceNumbersAreMonotonic(t *testing.T) {
	c := openTestCoordinator(t)
	ctx := context.Background()

	seq1, err := c.RunLockedSingle(ctx, 1, kvstore.WriteOptions{}, func(ctx context.Context, txn *encryption.Transaction) error {
		return nil
	})
	require.NoError(t, err)
	seq2, err := c.RunLockedSingle(ctx, 1, kvstore.WriteOptions{}, func(ctx context.Context, txn *encryption.Transaction) error {
		return nil
	})
	require.NoError(t, err)
	assert.Less(t, seq1, seq2)
}

func TestRunLockedMultiReleasesAllLocks(t *testing.T) {
	c := openTestCoordinator(t)
	ctx := context.Background()

	_, err := c.RunLocked(ctx, []inode.ID{5, 1, 3}, kvstore.WriteOptions{}, func(ctx context.Context, txn *encryption.Transaction) error {
		return txn.PutBytes(keycodec.InodeKey(1), []byte("a"))
	})
	require.NoError(t, err)

	// A concurrent operation touching an overlapping set must be able
	// to proceed once this one releases; this just exercises that the
	// guard is actually released (no deadlock / hang).
	_, err = c.RunLocked(ctx, []inode.ID{3, 5}, kvstore.WriteOptions{}, func(ctx context.Context, txn *encryption.Transaction) error {
		return nil
	})
	require.NoError(t, err)
}

func TestRunLockedRespectsContextCancellation(t *testing.T) {
	c := openTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())

	guard, err := c.locks.AcquireWrite(ctx, 1)
	require.NoError(t, err)
	defer guard.Release()

	cancelCtx, cancelNow := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancelNow()
	_, err = c.RunLockedSingle(cancelCtx, 1, kvstore.WriteOptions{}, func(ctx context.Context, txn *encryption.Transaction) error {
		return nil
	})
	assert.Error(t, err)
	cancel()
}
