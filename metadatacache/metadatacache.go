// Package metadatacache caches filesystem structure lookups — inode
// records and directory-entry resolutions — in front of the LSM store,
// including negative (not-found) results, so a repeated miss does not
// re-walk segments. It is distinct from package writebackcache, which
// caches file content, not structure.
package metadatacache

import (
	"sync/atomic"
	"time"

	"github.com/zerofs/zerofs-go/inode"
	"github.com/zerofs/zerofs-go/ttlcache"
)

// Stats are the cache's running counters, read without locking via
// atomics — mirrors the upstream engine's own stats struct shape.
type Stats struct {
	DirHits         atomic.Uint64
	DirMisses       atomic.Uint64
	DirNegativeHits atomic.Uint64
	InodeHits       atomic.Uint64
	InodeMisses     atomic.Uint64
	InodeNegHits    atomic.Uint64
	Invalidations   atomic.Uint64
}

type dirEntryKey struct {
	parent inode.ID
	name   string
}

// entry wraps a cached value so both a positive and a negative
// (not-found) result can be distinguished from "not cached at all".
type entry[V any] struct {
	found bool
	value V
}

// Cache caches inode records and directory-entry resolutions,
// including negative lookups, each bounded by an independent
// ttlcache.Cache instance so eviction policy (capacity is implicit in
// ttlcache's TTL-driven cleanup rather than an explicit LRU list,
// generalizing the upstream's size-triggered LRU eviction to the
// simpler TTL-driven model ttlcache already provides).
type Cache struct {
	dirEntries *ttlcache.Cache[dirEntryKey, entry[inode.DirEntry]]
	inodes     *ttlcache.Cache[inode.ID, entry[inode.Inode]]
	stats      Stats
}

// New constructs a metadata cache whose negative lookups expire after
// negativeLookupTTL; positive entries share the same TTL, matching the
// upstream implementation's single-TTL design (it distinguishes
// positive/negative only at eviction decision time, not at expiry
// time).
func New(negativeLookupTTL time.Duration) *Cache {
	cleanup := negativeLookupTTL
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Cache{
		dirEntries: ttlcache.New[dirEntryKey, entry[inode.DirEntry]](negativeLookupTTL, cleanup),
		inodes:     ttlcache.New[inode.ID, entry[inode.Inode]](negativeLookupTTL, cleanup),
	}
}

// Stats returns the cache's running counters.
func (c *Cache) Stats() *Stats { return &c.stats }

// GetDirEntry reports whether parent/name is cached at all (found)
// and, if so, whether it resolved to a live entry (de, ok).
func (c *Cache) GetDirEntry(parent inode.ID, name string) (de inode.DirEntry, ok bool, cached bool) {
	e, hit := c.dirEntries.Get(dirEntryKey{parent: parent, name: name})
	if !hit {
		c.stats.DirMisses.Add(1)
		return inode.DirEntry{}, false, false
	}
	if e.found {
		c.stats.DirHits.Add(1)
		return e.value, true, true
	}
	c.stats.DirNegativeHits.Add(1)
	return inode.DirEntry{}, false, true
}

// PutDirEntry caches a resolution (de, true) or a negative lookup
// (zero value, false) for parent/name.
func (c *Cache) PutDirEntry(parent inode.ID, name string, de inode.DirEntry, found bool) {
	c.dirEntries.Set(dirEntryKey{parent: parent, name: name}, entry[inode.DirEntry]{found: found, value: de})
}

// InvalidateDirEntriesForParent drops every cached resolution under
// parent, for a change to a directory's entry set that could affect
// more than one name, so stale positives never survive (spec.md §4.3).
// Its only caller is fsstore.DirectoryStore.InvalidateAll.
func (c *Cache) InvalidateDirEntriesForParent(parent inode.ID) {
	var stale []dirEntryKey
	c.dirEntries.Range(func(k dirEntryKey, _ entry[inode.DirEntry]) bool {
		if k.parent == parent {
			stale = append(stale, k)
		}
		return true
	})
	for _, k := range stale {
		c.dirEntries.Delete(k)
	}
	c.stats.Invalidations.Add(1)
}

// InvalidateDirEntry removes a single cached resolution.
func (c *Cache) InvalidateDirEntry(parent inode.ID, name string) {
	c.dirEntries.Delete(dirEntryKey{parent: parent, name: name})
	c.stats.Invalidations.Add(1)
}

// GetInode reports whether id is cached at all (cached) and, if so,
// whether it resolved to a live inode (in, ok).
func (c *Cache) GetInode(id inode.ID) (in inode.Inode, ok bool, cached bool) {
	e, hit := c.inodes.Get(id)
	if !hit {
		c.stats.InodeMisses.Add(1)
		return inode.Inode{}, false, false
	}
	if e.found {
		c.stats.InodeHits.Add(1)
		return e.value, true, true
	}
	c.stats.InodeNegHits.Add(1)
	return inode.Inode{}, false, true
}

// PutInode caches a resolution (in, true) or a negative lookup (zero
// value, false) for id.
func (c *Cache) PutInode(id inode.ID, in inode.Inode, found bool) {
	c.inodes.Set(id, entry[inode.Inode]{found: found, value: in})
}

// InvalidateInode removes a single cached inode, called on every
// mutation of that inode's record so a stale positive never survives a
// write (spec.md §4.2's cache-coherence requirement).
func (c *Cache) InvalidateInode(id inode.ID) {
	c.inodes.Delete(id)
	c.stats.Invalidations.Add(1)
}

// Close releases the cache's background cleanup goroutines.
func (c *Cache) Close() {
	c.dirEntries.Stop()
	c.inodes.Stop()
}
