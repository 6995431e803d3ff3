package kvstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zerofs/zerofs-go/objstore"
)

const manifestObjectKey = "manifest/CURRENT"

// manifest records which segments are live and the engine's
// monotonic id/sequence counters. It is the single source of truth for
// what "the database" currently consists of; an object store's
// whole-object Put is atomic, so overwriting manifestObjectKey is the
// CURRENT-pointer swap spec.md §4.1 assumes (no side-car lockfile, per
// spec.md §6's "persisted state layout").
type manifest struct {
	// SegmentIDs is newest-first: Get/Scan consult segments in this
	// order so a more recent flush shadows an older one for the same
	// key.
	SegmentIDs []uint64 `json:"segment_ids"`
	NextSegmentID uint64 `json:"next_segment_id"`
	NextSeqNo     uint64 `json:"next_seq_no"`
}

func loadManifest(ctx context.Context, store objstore.Store) (*manifest, error) {
	data, err := store.Get(ctx, manifestObjectKey)
	if err != nil {
		if err == objstore.ErrNotFound {
			return &manifest{NextSegmentID: 1, NextSeqNo: 1}, nil
		}
		return nil, fmt.Errorf("kvstore: load manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("kvstore: decode manifest: %w", err)
	}
	return &m, nil
}

func (m *manifest) save(ctx context.Context, store objstore.Store) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("kvstore: encode manifest: %w", err)
	}
	if err := store.Put(ctx, manifestObjectKey, data); err != nil {
		return fmt.Errorf("kvstore: save manifest: %w", err)
	}
	return nil
}
