package fsstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofs/zerofs-go/encryption"
	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/metadatacache"
	"github.com/zerofs/zerofs-go/zferr"
)

func TestDirectoryStoreAddAndLookup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewDirectoryStore(db)

	commit(t, db, func(txn *encryption.Transaction) error {
		return s.AddEntry(ctx, txn, 1, "a.txt", 42)
	})

	id, err := s.Lookup(ctx, 1, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, inode.ID(42), id)
}

func TestDirectoryStoreLookupMissingIsNotFound(t *testing.T) {
	db := openTestDB(t)
	s := NewDirectoryStore(db)

	_, err := s.Lookup(context.Background(), 1, "nope")
	assert.True(t, zferr.Is(err, zferr.NotFound))
}

func TestDirectoryStoreRemoveEntryDropsBothIndexes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewDirectoryStore(db)

	commit(t, db, func(txn *encryption.Transaction) error {
		return s.AddEntry(ctx, txn, 1, "a.txt", 42)
	})
	commit(t, db, func(txn *encryption.Transaction) error {
		return s.RemoveEntry(ctx, txn, 1, "a.txt")
	})

	_, err := s.Lookup(ctx, 1, "a.txt")
	assert.True(t, zferr.Is(err, zferr.NotFound))

	entries, err := s.ReaddirPage(ctx, 1, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDirectoryStoreReaddirPageOrdersByCookieAndPaginates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewDirectoryStore(db)

	names := []string{"a", "b", "c", "d"}
	for i, name := range names {
		i, name := i, name
		commit(t, db, func(txn *encryption.Transaction) error {
			return s.AddEntry(ctx, txn, 1, name, inode.ID(100+i))
		})
	}

	page1, err := s.ReaddirPage(ctx, 1, 0, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "a", page1[0].Name)
	assert.Equal(t, "b", page1[1].Name)

	page2, err := s.ReaddirPage(ctx, 1, page1[len(page1)-1].Cookie, 10)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "c", page2[0].Name)
	assert.Equal(t, "d", page2[1].Name)
}

func TestDirectoryStoreReaddirDoesNotLeakOtherParents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewDirectoryStore(db)

	commit(t, db, func(txn *encryption.Transaction) error {
		return s.AddEntry(ctx, txn, 1, "in-one", 10)
	})
	commit(t, db, func(txn *encryption.Transaction) error {
		return s.AddEntry(ctx, txn, 2, "in-two", 20)
	})

	entries, err := s.ReaddirPage(ctx, 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "in-one", entries[0].Name)
}

// TestDirectoryStoreReaddirPageCarriesNoInodeData documents that
// DirScan records hold only (name, child): DirectoryStore deliberately
// carries no copy of a child's inode, since nothing could keep such a
// copy live after the child is mutated through any path besides the
// entry's own creation (Write, SetAttr, Link, Unlink, Rename all leave
// a directory's entries alone). Callers wanting attributes alongside a
// listing must read the child from fsstore.InodeStore themselves.
func TestDirectoryStoreReaddirPageCarriesNoInodeData(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewDirectoryStore(db)

	commit(t, db, func(txn *encryption.Transaction) error {
		return s.AddEntry(ctx, txn, 99, "f", 1)
	})

	entries, err := s.ReaddirPage(ctx, 99, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f", entries[0].Name)
	assert.Equal(t, inode.ID(1), entries[0].Child)
}

func TestDirectoryStoreIsEmpty(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewDirectoryStore(db)

	empty, err := s.IsEmpty(ctx, 1)
	require.NoError(t, err)
	assert.True(t, empty)

	commit(t, db, func(txn *encryption.Transaction) error {
		return s.AddEntry(ctx, txn, 1, "a.txt", 42)
	})

	empty, err = s.IsEmpty(ctx, 1)
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestDirectoryStoreCacheInvalidation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cache := metadatacache.New(time.Minute)
	defer cache.Close()
	s := NewDirectoryStoreWithCache(db, cache)

	commit(t, db, func(txn *encryption.Transaction) error {
		return s.AddEntry(ctx, txn, 1, "a.txt", 42)
	})

	id, err := s.Lookup(ctx, 1, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, inode.ID(42), id)

	commit(t, db, func(txn *encryption.Transaction) error {
		return s.RemoveEntry(ctx, txn, 1, "a.txt")
	})
	s.InvalidateAll(1)

	_, err = s.Lookup(ctx, 1, "a.txt")
	assert.True(t, zferr.Is(err, zferr.NotFound))
}
