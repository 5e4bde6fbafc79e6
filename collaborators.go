package dirstate

import "io"

// The interfaces in this file are the only way the core touches the world
// outside its own file: hashing, filename normalization, ignore rules,
// locking, and atomic replacement are all supplied by the caller.

// HashProvider computes the content fingerprint of a file on disk. The
// core never interprets file contents itself; a caller that wants
// content-filtered hashing supplies a provider that filters.
type HashProvider interface {
	SHA1File(abspath string) (string, error)
}

// Readlink resolves a symlink's target. Split from HashProvider because a
// filtering hash provider has no business rewriting link targets.
type Readlink func(abspath string) (string, error)

// NormalizeFilename reports the filesystem-normalized form of basename and
// whether that form is accessible, i.e. round-trips to the original. Add
// refuses paths whose normalization does not round-trip.
type NormalizeFilename func(basename string) (normalized string, accessible bool)

// IgnorePredicate reports whether an unversioned path should be left out
// of change iteration.
type IgnorePredicate func(path string) bool

// FileLock acquires OS-level advisory locks on the dirstate file, handing
// back a LockHandle that doubles as the file handle for all reads and the
// locked-rewrite protocol.
type FileLock interface {
	AcquireRead(path string) (LockHandle, error)
	AcquireWrite(path string) (LockHandle, error)
}

// LockHandle is a held lock plus the file handle it covers. TemporaryWrite
// promotes a read handle in place to a write-capable one; it fails with
// ErrLockContention when another writer holds the lock, which Save treats
// as "someone else has priority", not an error. RestoreRead demotes back.
type LockHandle interface {
	io.ReaderAt

	Size() (int64, error)
	ReadAll() ([]byte, error)

	// WriteAll seeks to the start, writes data, truncates any trailing
	// bytes, and flushes. Requires a write-capable handle.
	WriteAll(data []byte) error

	TemporaryWrite() error
	RestoreRead() error
	Release() error
}

// AtomicFile writes a file so that either the complete new content or the
// previous content is visible, never a mixture. The dirstate uses it once:
// creating a brand new file, before any lock can exist on it. Everything
// after creation goes through the LockHandle rewrite protocol instead.
type AtomicFile interface {
	OpenWrite(path string) (AtomicWriter, error)
}

// AtomicWriter accumulates content for an AtomicFile write until Commit
// makes it visible or Abort discards it.
type AtomicWriter interface {
	io.Writer
	Commit() error
	Abort() error
}

// Inventory is a read-only view of one committed tree, enumerated in the
// same (dirname, basename) order the dirstate stores rows in.
type Inventory interface {
	Entries() []InventoryEntry
}

// InventoryEntry is one versioned path in a committed tree.
type InventoryEntry struct {
	Path       string
	FileID     string
	Kind       byte // one of the present minikinds: f, d, l, t
	Executable bool

	// Fingerprint is the content SHA for files, the target for symlinks,
	// the referenced revision for tree references, empty for directories.
	Fingerprint string
	Size        uint64

	// Revision is the revision that introduced these details; recorded in
	// parent tree columns in place of a packed stat.
	Revision string
}

// ParentTree pairs a parent revision with its inventory. A nil Inventory
// marks the parent as a ghost: recorded, but contributing only an
// all-absent column.
type ParentTree struct {
	RevisionID string
	Inventory  Inventory
}
