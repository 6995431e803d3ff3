package fsstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/zferr"
)

func TestChunkStorePutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewChunkStore(db)

	commit(t, db, func(txn *encryption.Transaction) error {
		return s.Put(txn, 1, 0, []byte("chunk-zero"))
	})

	data, err := s.Get(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk-zero"), data)
}

func TestChunkStoreGetMissingIsNotFound(t *testing.T) {
	db := openTestDB(t)
	s := NewChunkStore(db)

	_, err := s.Get(context.Background(), 1, 0)
	assert.True(t, zferr.Is(err, zferr.NotFound))
}

func TestChunkStoreDeleteAllClearsEveryChunk(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewChunkStore(db)

	commit(t, db, func(txn *encryption.Transaction) error {
		for i := uint64(0); i < 4; i++ {
			if err := s.Put(txn, 1, i, []byte("x")); err != nil {
				return err
			}
		}
		return nil
	})

	commit(t, db, func(txn *encryption.Transaction) error {
		return s.DeleteAll(ctx, txn, 1)
	})

	for i := uint64(0); i < 4; i++ {
		_, err := s.Get(ctx, 1, i)
		assert.True(t, zferr.Is(err, zferr.NotFound))
	}
}

func TestChunkStoreDeleteFromOnlyDropsTailChunks(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewChunkStore(db)

	commit(t, db, func(txn *encryption.Transaction) error {
		for i := uint64(0); i < 4; i++ {
			if err := s.Put(txn, 1, i, []byte("x")); err != nil {
				return err
			}
		}
		return nil
	})

	commit(t, db, func(txn *encryption.Transaction) error {
		return s.DeleteFrom(ctx, txn, 1, 2)
	})

	_, err := s.Get(ctx, 1, 0)
	require.NoError(t, err)
	_, err = s.Get(ctx, 1, 1)
	require.NoError(t, err)
	_, err = s.Get(ctx, 1, 2)
	assert.True(t, zferr.Is(err, zferr.NotFound))
	_, err = s.Get(ctx, 1, 3)
	assert.True(t, zferr.Is(err, zferr.NotFound))
}

func TestChunkStoreDeleteAllDoesNotTouchOtherInodes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewChunkStore(db)

	commit(t, db, func(txn *encryption.Transaction) error {
		if err := s.Put(txn, 1, 0, []byte("one")); err != nil {
			return err
		}
		return s.Put(txn, 2, 0, []byte("two"))
	})

	commit(t, db, func(txn *encryption.Transaction) error {
		return s.DeleteAll(ctx, txn, 1)
	})

	_, err := s.Get(ctx, 1, 0)
	assert.True(t, zferr.Is(err, zferr.NotFound))
	data, err := s.Get(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}
