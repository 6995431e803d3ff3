package objstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "a/b", []byte("hello")))

	v, err := s.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), v)

	require.NoError(t, s.Delete(ctx, "a/b"))
	_, err = s.Get(ctx, "a/b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRangeRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "k", []byte("0123456789")))

	v, err := s.RangeRead(ctx, "k", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("234"), v)

	v, err = s.RangeRead(ctx, "k", 5, -1)
	require.NoError(t, err)
	assert.Equal(t, []byte("56789"), v)
}

func TestMemoryStoreListPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "segments/001", []byte("a")))
	require.NoError(t, s.Put(ctx, "segments/002", []byte("bb")))
	require.NoError(t, s.Put(ctx, "manifest/current", []byte("c")))

	infos, err := s.List(ctx, "segments/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "segments/001", infos[0].Key)
	assert.Equal(t, int64(2), infos[1].Size)
}

func TestMemoryStoreDeleteAbsentIsNoop(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Delete(context.Background(), "nope"))
}
