// Package dirstate implements the working-tree state engine of a
// distributed version control system: the on-disk dirstate file, the
// in-memory index that makes path and file-id lookups fast, the mutation
// API that keeps that index consistent, and the change iterator that
// compares it against a parent tree and the filesystem.
package dirstate

import (
	"fmt"
	"time"

	"github.com/glasser/dirstate/internal/trace"
	"github.com/glasser/dirstate/plumbing/format/dirstatefile"
	"github.com/glasser/dirstate/plumbing/format/dirstatefile/bisect"
)

func init() {
	trace.ReadEnv()
}

// lockMode records which OS-level advisory lock, if any, this DirState
// currently holds on its file.
type lockMode int

const (
	lockNone lockMode = iota
	lockRead
	lockWrite
)

// DefaultCutoffSkew is how many seconds before "now" the stat-cache cutoff
// sits: a file whose mtime or ctime falls at or after the cutoff is never
// sha-cached, because a fast writer could modify it again without the
// mtime advancing.
const DefaultCutoffSkew = 3

// DirState is the working-tree state engine. It owns the in-memory
// DirBlock vector, the lazily-built id index, and (once locked) the
// dirstate file's lock and handle. A DirState is not safe for concurrent
// use by multiple goroutines.
type DirState struct {
	parents []string
	ghosts  []string

	blocks []*Block

	// idIndex maps file-id to the set of keys referencing it, across all
	// tree columns. Nil means "not yet built"; it is rebuilt lazily on
	// first use and invalidated by any mutation that rewrites large
	// regions.
	idIndex map[string]map[dirstatefile.Key]struct{}

	lastBlockDirname string
	lastBlockIdx     int

	headerRead bool
	loaded     bool
	dirty      bool

	aborted  bool
	abortErr error

	path       string
	lock       FileLock
	lockHandle LockHandle
	lockState  lockMode

	file      AtomicFile
	hasher    HashProvider
	readlink  Readlink
	normalize NormalizeFilename
	ignore    IgnorePredicate

	now        func() time.Time
	cutoffSkew int64

	bisectPageSize     int64
	bisectSafetyFactor int
}

// Options bundles the external collaborators a DirState needs to perform
// I/O and policy decisions it does not implement itself. Path, Lock, and
// File are required for any DirState that touches disk; the rest have
// working defaults.
type Options struct {
	Path      string
	Lock      FileLock
	File      AtomicFile
	Hasher    HashProvider
	Readlink  Readlink
	Normalize NormalizeFilename
	Ignore    IgnorePredicate

	// Now overrides the clock used for the stat-cache cutoff. Tests set
	// it; everyone else leaves it nil for time.Now.
	Now func() time.Time

	// CutoffSkew is the stat-cache cutoff distance in seconds; zero means
	// DefaultCutoffSkew.
	CutoffSkew int64

	// BisectPageSize and BisectSafetyFactor tune the partial reader; zero
	// means the bisect package defaults.
	BisectPageSize     int64
	BisectSafetyFactor int
}

// New returns an empty, unlocked DirState bound to the given collaborators.
// Call Create for a fresh working tree, or LockRead/LockWrite to read an
// existing dirstate file.
func New(opts Options) *DirState {
	d := &DirState{
		path:               opts.Path,
		lock:               opts.Lock,
		file:               opts.File,
		hasher:             opts.Hasher,
		readlink:           opts.Readlink,
		normalize:          opts.Normalize,
		ignore:             opts.Ignore,
		now:                opts.Now,
		cutoffSkew:         opts.CutoffSkew,
		bisectPageSize:     opts.BisectPageSize,
		bisectSafetyFactor: opts.BisectSafetyFactor,
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.cutoffSkew == 0 {
		d.cutoffSkew = DefaultCutoffSkew
	}
	return d
}

// Initialize resets d to a brand new working tree: no parents, and the two
// leading root blocks, the first holding only the TREE_ROOT row. It does
// not touch disk; Create does that.
func (d *DirState) Initialize(rootFileID string) {
	d.parents = nil
	d.ghosts = nil
	d.idIndex = nil
	d.aborted = false
	d.abortErr = nil
	d.invalidateBlockCache()

	d.blocks = []*Block{
		{Dirname: "", Rows: []dirstatefile.Row{{
			Key: dirstatefile.Key{Dirname: "", Basename: "", FileID: rootFileID},
			Tree: []dirstatefile.TreeDetails{{
				Kind:          dirstatefile.KindDirectory,
				PackedOrRevID: string(dirstatefile.NullStat),
			}},
		}}},
		{Dirname: ""},
	}
	d.headerRead = true
	d.loaded = true
	d.dirty = true
}

// Parents returns the recorded parent revision ids, ghosts included, in
// order. Valid once the header has been read: any Load, mutation, or
// change iteration does that.
func (d *DirState) Parents() []string { return append([]string(nil), d.parents...) }

// Ghosts returns the recorded ghost parent revision ids, in order.
func (d *DirState) Ghosts() []string { return append([]string(nil), d.ghosts...) }

// NumParents returns the number of tree columns beyond column 0.
func (d *DirState) NumParents() int { return len(d.parents) }

// Aborted reports whether a prior mutation left d in an inconsistent
// state. Once true, Save is a no-op until Unlock.
func (d *DirState) Aborted() bool { return d.aborted }

// AbortReason returns the error that set the aborted flag, or nil. It lets
// a caller that already handled the error at the call site ask again
// later, e.g. right before deciding whether to call Save.
func (d *DirState) AbortReason() error { return d.abortErr }

// abort records err as the reason the DirState is now unsafe to persist
// and returns it, so mutation methods can write "return d.abort(err)".
func (d *DirState) abort(err error) error {
	d.aborted = true
	d.abortErr = err
	return err
}

// markModified flags the in-memory state as ahead of the on-disk file.
func (d *DirState) markModified() { d.dirty = true }

// Rows returns every row in the dirstate, in on-disk block order. This is
// the iteration primitive the round-trip properties are phrased in terms
// of.
func (d *DirState) Rows() []dirstatefile.Row {
	var rows []dirstatefile.Row
	for _, b := range d.blocks {
		rows = append(rows, b.Rows...)
	}
	return rows
}

// Blocks returns the in-memory block vector. The result shares storage
// with d; callers must treat it as read-only.
func (d *DirState) Blocks() []*Block { return d.blocks }

// Validate checks every structural invariant over the whole in-memory
// state: the exported self-check, usable from tests and from the CLI's
// check command without duplicating the logic. It is expensive and is
// never called by the mutation paths themselves.
func (d *DirState) Validate() error {
	if err := d.validateBlockOrder(); err != nil {
		return err
	}
	if err := d.validateRowOrder(); err != nil {
		return err
	}
	if err := d.validateRowShape(); err != nil {
		return err
	}
	if err := d.validateSubdirBlocksExist(); err != nil {
		return err
	}
	if err := d.validateParentRowsPresent(); err != nil {
		return err
	}
	if err := d.validateFileIDUniqueness(); err != nil {
		return err
	}
	if err := d.validateIDIndex(); err != nil {
		return err
	}
	return nil
}

func (d *DirState) validateBlockOrder() error {
	if len(d.blocks) < firstNormalBlock {
		return &InconsistentDeltaError{Reason: "missing the two leading root blocks"}
	}
	if d.blocks[rootBlockIdx].Dirname != "" || d.blocks[rootContentsIdx].Dirname != "" {
		return &InconsistentDeltaError{Reason: "leading blocks are not both for the root directory"}
	}
	for _, r := range d.blocks[rootBlockIdx].Rows {
		if r.Key.Basename != "" {
			return &InconsistentDeltaError{
				Path:   r.Key.FullPath(),
				FileID: r.Key.FileID,
				Reason: "non-root row in the root block",
			}
		}
	}
	for i := firstNormalBlock; i < len(d.blocks); i++ {
		prev := d.blocks[i-1].Dirname
		if i > firstNormalBlock && bisect.CompareComponentOrder(prev, d.blocks[i].Dirname) >= 0 {
			return &InconsistentDeltaError{
				Path:   d.blocks[i].Dirname,
				Reason: "blocks are not in strict component order",
			}
		}
		if i == firstNormalBlock && d.blocks[i].Dirname == "" {
			return &InconsistentDeltaError{Reason: "a third block claims the root directory"}
		}
	}
	return nil
}

func (d *DirState) validateRowOrder() error {
	for _, b := range d.blocks {
		for i := 1; i < len(b.Rows); i++ {
			if !rowLess(b.Rows[i-1], b.Rows[i]) {
				return &InconsistentDeltaError{
					Path:   b.Dirname,
					Reason: "rows within a block are not in (basename, file_id) order",
				}
			}
		}
	}
	return nil
}

func (d *DirState) validateRowShape() error {
	want := 1 + len(d.parents)
	for _, b := range d.blocks {
		for _, r := range b.Rows {
			if len(r.Tree) != want {
				return &InconsistentDeltaError{
					Path:   r.Key.FullPath(),
					FileID: r.Key.FileID,
					Reason: fmt.Sprintf("row has %d tree columns, want %d", len(r.Tree), want),
				}
			}
			allAbsent := true
			for _, td := range r.Tree {
				if td.Kind != dirstatefile.KindAbsent {
					allAbsent = false
					break
				}
			}
			if allAbsent {
				return &InconsistentDeltaError{
					Path:   r.Key.FullPath(),
					FileID: r.Key.FileID,
					Reason: "row is absent in every tree column",
				}
			}
		}
	}
	return nil
}

func (d *DirState) validateSubdirBlocksExist() error {
	known := make(map[string]bool, len(d.blocks))
	for _, b := range d.blocks {
		known[b.Dirname] = true
	}
	for _, b := range d.blocks {
		for _, r := range b.Rows {
			for _, td := range r.Tree {
				if td.Kind != dirstatefile.KindDirectory {
					continue
				}
				sub := r.Key.FullPath()
				if !known[sub] {
					return &InconsistentDeltaError{
						Path:   sub,
						FileID: r.Key.FileID,
						Reason: "directory row has no corresponding block",
					}
				}
				break
			}
		}
	}
	return nil
}

// validateParentRowsPresent checks that in every tree column where a row
// is present, its containing directory is present too.
func (d *DirState) validateParentRowsPresent() error {
	for _, b := range d.blocks {
		if b.Dirname == "" || len(b.Rows) == 0 {
			continue
		}
		dirRow, ok := d.GetEntry(b.Dirname)
		if !ok {
			return &InconsistentDeltaError{
				Path:   b.Dirname,
				Reason: "block has no row for its own directory",
			}
		}
		for _, r := range b.Rows {
			for col, td := range r.Tree {
				if !td.Kind.Present() {
					continue
				}
				if col >= len(dirRow.Tree) || !dirRow.Tree[col].Kind.Present() {
					return &InconsistentDeltaError{
						Path:   r.Key.FullPath(),
						FileID: r.Key.FileID,
						Reason: fmt.Sprintf("present in tree column %d but its directory is not", col),
					}
				}
			}
		}
	}
	return nil
}

func (d *DirState) validateFileIDUniqueness() error {
	for col := 0; col <= len(d.parents); col++ {
		present := map[string]string{}
		for _, b := range d.blocks {
			for _, r := range b.Rows {
				if col >= len(r.Tree) {
					continue
				}
				td := r.Tree[col]
				if td.Kind == dirstatefile.KindRelocated {
					if err := d.validateRelocation(r.Key, col, td.Fingerprint); err != nil {
						return err
					}
					continue
				}
				if !td.Kind.Present() {
					continue
				}
				if existing, ok := present[r.Key.FileID]; ok {
					return &InconsistentDeltaError{
						Path:   r.Key.FullPath(),
						FileID: r.Key.FileID,
						Reason: fmt.Sprintf("file-id has more than one present row at column %d, also at %s", col, existing),
					}
				}
				present[r.Key.FileID] = r.Key.FullPath()
			}
		}
	}
	return nil
}

// validateRelocation checks that an 'r' entry points at a row that exists
// and holds the same file-id with a present kind in the same column.
func (d *DirState) validateRelocation(key dirstatefile.Key, col int, target string) error {
	dirname, basename := splitPath(target)
	bi, ri, ok := d.findKey(dirstatefile.Key{Dirname: dirname, Basename: basename, FileID: key.FileID})
	if !ok {
		return &InconsistentDeltaError{
			Path:   key.FullPath(),
			FileID: key.FileID,
			Reason: fmt.Sprintf("relocation in column %d points at %q, which has no row for this file-id", col, target),
		}
	}
	real := d.blocks[bi].Rows[ri]
	if col >= len(real.Tree) || !real.Tree[col].Kind.Present() {
		return &InconsistentDeltaError{
			Path:   key.FullPath(),
			FileID: key.FileID,
			Reason: fmt.Sprintf("relocation in column %d points at %q, which is not present there", col, target),
		}
	}
	return nil
}

func (d *DirState) validateIDIndex() error {
	if d.idIndex == nil {
		return nil
	}
	want := d.buildIDIndex()
	if len(want) != len(d.idIndex) {
		return &InconsistentDeltaError{Reason: "id index does not match the blocks"}
	}
	for id, keys := range want {
		got, ok := d.idIndex[id]
		if !ok || len(got) != len(keys) {
			return &InconsistentDeltaError{FileID: id, Reason: "id index does not match the blocks"}
		}
		for k := range keys {
			if _, ok := got[k]; !ok {
				return &InconsistentDeltaError{
					Path:   k.FullPath(),
					FileID: id,
					Reason: "key missing from the id index",
				}
			}
		}
	}
	return nil
}
