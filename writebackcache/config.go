// Package writebackcache is an NVMe-backed write-behind buffer that
// sits in front of fsstore.ChunkStore: writes land on local disk first
// and are coalesced into the encrypted KV store by a background
// flusher, while reads are served from the local cache when present.
//
// Grounded directly on
// _examples/original_source/zerofs/src/writeback_cache.rs (no Go
// analogue exists in the teacher or the rest of the pack — GCS-FUSE's
// own staging area, internal/tempfile's TempFile, solves a different
// problem: buffering one open file's unflushed writes before a single
// upload, not a shared multi-inode dirty-chunk cache with its own
// eviction and background flush policy). The concurrent struct-of-
// atomics-plus-DashMap shape is translated to a single
// sync.Mutex-guarded map, matching the mutex discipline package
// lockmgr and package fsstore already use elsewhere in this module
// instead of pulling in a lock-free map dependency no other package
// needs.
package writebackcache

import "time"

// Config tunes the cache's capacity and flush policy.
type Config struct {
	// CacheDir holds one file per cached chunk; should be NVMe-backed.
	CacheDir string
	// MaxCacheSizeBytes bounds the total size of cached chunk files.
	MaxCacheSizeBytes uint64
	// MaxDirtyChunks forces an eager partial flush once exceeded.
	MaxDirtyChunks int
	// FlushInterval is how often the background flusher wakes up.
	FlushInterval time.Duration
	// MaxConcurrentFlushes bounds how many chunks flush in parallel.
	MaxConcurrentFlushes int
	// DirtyTimeThreshold is how long a chunk must have been dirty
	// before the background flusher will pick it up, giving writers a
	// window to coalesce further writes to the same chunk.
	DirtyTimeThreshold time.Duration
	// CacheReadsAggressively enables caching of read misses, not just
	// writes, sized against ReadCachePercentage of the total budget.
	CacheReadsAggressively bool
	// ReadCachePercentage is the share of MaxCacheSizeBytes reserved
	// for caching read-only data when CacheReadsAggressively is set.
	ReadCachePercentage int
}

// DefaultConfig is a conservative general-purpose setting.
func DefaultConfig(cacheDir string) Config {
	return Config{
		CacheDir:               cacheDir,
		MaxCacheSizeBytes:      10 * 1024 * 1024 * 1024,
		MaxDirtyChunks:         10000,
		FlushInterval:          5 * time.Second,
		MaxConcurrentFlushes:   16,
		DirtyTimeThreshold:     2 * time.Second,
		CacheReadsAggressively: false,
		ReadCachePercentage:    30,
	}
}

// ForPostgreSQL favors read caching for hot index pages and flushes
// checkpoint-sized write bursts quickly.
func ForPostgreSQL(cacheDir string, cacheSizeGB float64) Config {
	return Config{
		CacheDir:               cacheDir,
		MaxCacheSizeBytes:      uint64(cacheSizeGB * 1e9),
		MaxDirtyChunks:         50000,
		FlushInterval:          3 * time.Second,
		MaxConcurrentFlushes:   32,
		DirtyTimeThreshold:     time.Second,
		CacheReadsAggressively: true,
		ReadCachePercentage:    40,
	}
}

// ForHighThroughputDB maximizes flush parallelism for sustained OLTP
// write load with heavy random access.
func ForHighThroughputDB(cacheDir string, cacheSizeGB float64) Config {
	return Config{
		CacheDir:               cacheDir,
		MaxCacheSizeBytes:      uint64(cacheSizeGB * 1e9),
		MaxDirtyChunks:         100000,
		FlushInterval:          2 * time.Second,
		MaxConcurrentFlushes:   64,
		DirtyTimeThreshold:     time.Second,
		CacheReadsAggressively: true,
		ReadCachePercentage:    50,
	}
}

// ForAnalyticsDB favors larger write batches and less read caching,
// matching OLAP-style batch writes and sequential scans.
func ForAnalyticsDB(cacheDir string, cacheSizeGB float64) Config {
	return Config{
		CacheDir:               cacheDir,
		MaxCacheSizeBytes:      uint64(cacheSizeGB * 1e9),
		MaxDirtyChunks:         20000,
		FlushInterval:          10 * time.Second,
		MaxConcurrentFlushes:   16,
		DirtyTimeThreshold:     5 * time.Second,
		CacheReadsAggressively: false,
		ReadCachePercentage:    20,
	}
}
