package kvstore

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// maybeCompact performs one round of size-tiered compaction: it looks
// for the oldest contiguous run of segments whose sizes are within
// SizeTierIncludeThreshold of each other and, once at least
// SizeTierMaxSources of them have accumulated, merges that run into a
// single new segment. This mirrors the teacher's bucketed-retry queue
// shape (grouping like-sized work before acting on it) generalized from
// request batching to segment merging.
func (db *DB) maybeCompact(ctx context.Context) error {
	db.mu.RLock()
	segs := append([]*segment(nil), db.segments...)
	db.mu.RUnlock()

	if len(segs) < db.lsmCfg.SizeTierMaxSources {
		return nil
	}

	// Oldest segments are at the end of the newest-first slice.
	run := collectSizeTier(segs, db.lsmCfg.SizeTierMaxSources, db.lsmCfg.SizeTierIncludeThreshold)
	if len(run) < db.lsmCfg.SizeTierMaxSources {
		return nil
	}

	merged, err := mergeSegments(ctx, db, run)
	if err != nil {
		return fmt.Errorf("kvstore: compact: %w", err)
	}

	db.mu.Lock()
	db.segments, db.manifest.SegmentIDs = spliceCompacted(db.segments, db.manifest.SegmentIDs, run, merged)
	m := *db.manifest
	db.mu.Unlock()

	return m.save(ctx, db.store)
}

// collectSizeTier walks from the oldest segment inward, grouping a run
// of at least minCount whose sizes stay within includeThreshold of the
// smallest segment already in the run.
func collectSizeTier(segs []*segment, minCount int, includeThreshold float64) []*segment {
	if len(segs) == 0 {
		return nil
	}
	n := len(segs)
	run := []*segment{segs[n-1]}
	minSize := segs[n-1].sizeBytes()
	if minSize == 0 {
		minSize = 1
	}

	for i := n - 2; i >= 0; i-- {
		sz := segs[i].sizeBytes()
		if float64(sz) <= float64(minSize)*includeThreshold {
			run = append(run, segs[i])
			if sz < minSize {
				minSize = sz
				if minSize == 0 {
					minSize = 1
				}
			}
			continue
		}
		break
	}

	if len(run) < minCount {
		return nil
	}
	return run
}

// mergeSegments reads the given segments concurrently and merges their
// records, newest (closer to the front of the newest-first slice)
// winning on duplicate keys. Deletion markers are carried into the
// merged segment like any other record.
func mergeSegments(ctx context.Context, db *DB, run []*segment) (*segment, error) {
	type loaded struct {
		idx     int
		records []Record
	}
	results := make([]loaded, len(run))

	g, ctx := errgroup.WithContext(ctx)
	for i, s := range run {
		i, s := i, s
		g.Go(func() error {
			results[i] = loaded{idx: i, records: s.scan(nil, nil)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]Record)
	// run is ordered newest-first (matches db.segments ordering), so
	// iterate oldest-to-newest and let later writes win.
	for i := len(results) - 1; i >= 0; i-- {
		for _, r := range results[i].records {
			merged[string(r.Key)] = r
		}
	}

	out := make([]Record, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return compareKeys(out[i].Key, out[j].Key) < 0 })

	db.mu.Lock()
	id := db.manifest.NextSegmentID
	db.manifest.NextSegmentID++
	db.mu.Unlock()

	return writeSegment(ctx, db.store, id, out)
}

// spliceCompacted replaces the compacted run within segs/ids with the
// single merged segment, preserving newest-first order.
func spliceCompacted(segs []*segment, ids []uint64, run []*segment, merged *segment) ([]*segment, []uint64) {
	runIDs := make(map[uint64]bool, len(run))
	for _, s := range run {
		runIDs[s.id] = true
	}

	newSegs := make([]*segment, 0, len(segs)-len(run)+1)
	newIDs := make([]uint64, 0, len(ids)-len(run)+1)
	inserted := false

	for i, s := range segs {
		if runIDs[s.id] {
			if !inserted {
				newSegs = append(newSegs, merged)
				newIDs = append(newIDs, merged.id)
				inserted = true
			}
			continue
		}
		newSegs = append(newSegs, s)
		newIDs = append(newIDs, ids[i])
	}
	if !inserted {
		newSegs = append(newSegs, merged)
		newIDs = append(newIDs, merged.id)
	}
	return newSegs, newIDs
}
