package fs

import "context"

// FSStats is the global usage snapshot statfs reports (spec.md §3's
// used_bytes/used_inodes, lagging the true value per §9 until the
// consistency checker or a full traversal reconciles it).
type FSStats struct {
	UsedBytes  uint64
	UsedInodes uint64
}

// StatFS returns the current in-memory usage counters.
func (fs *Filesystem) StatFS(_ context.Context) FSStats {
	return FSStats{UsedBytes: fs.Stats.UsedBytes(), UsedInodes: fs.Stats.UsedInodes()}
}
