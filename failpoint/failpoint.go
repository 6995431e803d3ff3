// Package failpoint names the checkpoints the transaction coordinator
// and filesystem operations call between mutating sub-steps, so that
// crash-injection tests can deterministically stop an operation
// partway through and let the consistency checker assert the engine
// recovers cleanly.
//
// Grounded on _examples/original_source/zerofs/src/failpoints.rs, which
// wires the same checkpoint names through the Rust "fail" crate; no Go
// failpoint library appears in any example repo's go.mod, so this
// package follows the teacher's own small-dependency-free-helper
// pattern instead (e.g. common/queue.go).
package failpoint

import "sync"

const (
	WriteAfterChunk  = "write_after_chunk"
	WriteAfterInode  = "write_after_inode"
	WriteAfterCommit = "write_after_commit"

	CreateAfterInode     = "create_after_inode"
	CreateAfterDirEntry  = "create_after_dir_entry"
	CreateAfterCommit    = "create_after_commit"

	RemoveAfterInodeDelete = "remove_after_inode_delete"
	RemoveAfterTombstone   = "remove_after_tombstone"
	RemoveAfterDirUnlink   = "remove_after_dir_unlink"
	RemoveAfterCommit      = "remove_after_commit"

	RenameAfterTargetDelete = "rename_after_target_delete"
	RenameAfterSourceUnlink = "rename_after_source_unlink"
	RenameAfterNewEntry     = "rename_after_new_entry"
	RenameAfterCommit       = "rename_after_commit"

	GCAfterChunkDelete     = "gc_after_chunk_delete"
	GCAfterTombstoneUpdate = "gc_after_tombstone_update"

	LinkAfterDirEntry = "link_after_dir_entry"
	LinkAfterInode    = "link_after_inode"
	LinkAfterCommit   = "link_after_commit"

	SymlinkAfterInode    = "symlink_after_inode"
	SymlinkAfterDirEntry = "symlink_after_dir_entry"
	SymlinkAfterCommit   = "symlink_after_commit"

	MkdirAfterInode    = "mkdir_after_inode"
	MkdirAfterDirEntry = "mkdir_after_dir_entry"
	MkdirAfterCommit   = "mkdir_after_commit"

	TruncateAfterChunks = "truncate_after_chunks"
	TruncateAfterInode  = "truncate_after_inode"
	TruncateAfterCommit = "truncate_after_commit"

	MknodAfterInode    = "mknod_after_inode"
	MknodAfterDirEntry = "mknod_after_dir_entry"
	MknodAfterCommit   = "mknod_after_commit"

	RmdirAfterInodeDelete = "rmdir_after_inode_delete"
	RmdirAfterDirCleanup  = "rmdir_after_dir_cleanup"

	FlushAfterComplete = "flush_after_complete"
)

// Action is invoked when a registered failpoint is reached. Returning
// an error aborts the in-flight operation as if the process had
// crashed at that point; the caller's partial writes are exactly what
// were already committed to the KV store.
type Action func(name string) error

var (
	mu        sync.RWMutex
	hooks     = map[string]Action{}
	globalOff = true
)

// Enable turns on failpoint dispatch. Production callers never call
// this; only test setup does, mirroring the Rust "fail" crate's
// explicit fail::cfg/FailScenario activation model.
func Enable()  { mu.Lock(); globalOff = false; mu.Unlock() }
func Disable() { mu.Lock(); globalOff = true; hooks = map[string]Action{}; mu.Unlock() }

// Set registers action to run whenever name is reached. Passing a nil
// action clears any existing registration.
func Set(name string, action Action) {
	mu.Lock()
	defer mu.Unlock()
	if action == nil {
		delete(hooks, name)
		return
	}
	hooks[name] = action
}

// Reached is called at every checkpoint named in the constants above.
// It is a no-op unless failpoints have been Enabled and a hook was Set
// for this name.
func Reached(name string) error {
	mu.RLock()
	defer mu.RUnlock()
	if globalOff {
		return nil
	}
	if action, ok := hooks[name]; ok {
		return action(name)
	}
	return nil
}
