package dirstate

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-git/go-billy/v5"

	"github.com/glasser/dirstate/plumbing/format/dirstatefile"
	"github.com/glasser/dirstate/plumbing/format/dirstatefile/bisect"
	"github.com/glasser/dirstate/utils/trace"
)

// Change is one record of difference between a source tree and the
// working tree. Fields prefixed Old describe the source side, New the
// working side. A zero MiniKind means that side has no kind: the path is
// unversioned there, or versioned but missing on disk.
type Change struct {
	FileID string

	OldPath string
	NewPath string

	ContentChanged bool

	OldVersioned bool
	NewVersioned bool

	OldParentID string
	NewParentID string

	OldName string
	NewName string

	OldKind dirstatefile.MiniKind
	NewKind dirstatefile.MiniKind

	OldExec bool
	NewExec bool
}

// ChangeOptions configures a change iteration.
type ChangeOptions struct {
	// Source selects the tree to diff from: the 1-based parent number.
	// Zero compares against an empty tree, reporting every working-tree
	// entry as an addition.
	Source int

	// Roots are the paths to iterate below; empty means the whole tree.
	Roots []string

	// FS is the working tree's filesystem, rooted at the tree root. Nil
	// means every versioned entry is reported as missing on disk.
	FS billy.Filesystem

	// Prune lists basenames never descended into or reported, such as
	// the control directory.
	Prune []string

	WantUnversioned  bool
	IncludeUnchanged bool

	// Ignore overrides the DirState's ignore predicate for unversioned
	// files.
	Ignore IgnorePredicate
}

// ChangeIter walks the dirstate and the filesystem in parallel, one
// directory at a time, in the same order rows are stored, yielding one
// Change per differing entry. It is a state machine, not a goroutine:
// tearing it down is simply dropping it.
type ChangeIter struct {
	d    *DirState
	opts ChangeOptions

	pending   []string
	scheduled map[string]bool
	prune     map[string]bool
	buf       []Change
}

// Changes starts a change iteration between a source tree and the working
// tree. The in-memory blocks load on demand; a read lock suffices, though
// fingerprints refreshed along the way then stay unsaved unless the lock
// can be promoted.
func (d *DirState) Changes(opts ChangeOptions) (*ChangeIter, error) {
	if d.lockState == lockNone {
		return nil, ErrLockNotHeld
	}
	if err := d.ensureLoaded(); err != nil {
		return nil, err
	}
	if opts.Source < 0 || opts.Source > len(d.parents) {
		return nil, fmt.Errorf("dirstate: no parent tree %d to diff against: %w", opts.Source, ErrNotImplemented)
	}
	if opts.Ignore == nil {
		opts.Ignore = d.ignore
	}

	it := &ChangeIter{
		d:         d,
		opts:      opts,
		scheduled: map[string]bool{},
		prune:     map[string]bool{},
	}
	for _, p := range opts.Prune {
		it.prune[p] = true
	}

	roots := opts.Roots
	if len(roots) == 0 {
		roots = []string{""}
	}
	for _, r := range roots {
		it.enqueue(r)
	}
	return it, nil
}

// Next returns the next change record. ok is false when the iteration is
// complete.
func (it *ChangeIter) Next() (c Change, ok bool, err error) {
	for len(it.buf) == 0 {
		if len(it.pending) == 0 {
			return Change{}, false, nil
		}
		dir := it.pending[0]
		it.pending = it.pending[1:]
		trace.Change.Printf("dirstate: scanning %q", dir)
		if err := it.processDir(dir); err != nil {
			return Change{}, false, err
		}
	}
	c = it.buf[0]
	it.buf = it.buf[1:]
	return c, true, nil
}

// Collect drains the iterator into a slice.
func (it *ChangeIter) Collect() ([]Change, error) {
	var out []Change
	for {
		c, ok, err := it.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, c)
	}
}

// enqueue schedules a directory for scanning, once, keeping the pending
// list in component order so emission follows row order.
func (it *ChangeIter) enqueue(dir string) {
	if it.scheduled[dir] {
		return
	}
	it.scheduled[dir] = true
	it.pending = append(it.pending, dir)
	bisect.SortComponentOrder(it.pending)
}

// srcOf selects the source-tree column of a row, absent when diffing
// against the empty tree.
func (it *ChangeIter) srcOf(row dirstatefile.Row) dirstatefile.TreeDetails {
	if it.opts.Source == 0 || it.opts.Source >= len(row.Tree) {
		return absentDetails()
	}
	return row.Tree[it.opts.Source]
}

// processDir merges one directory's dirstate rows with its filesystem
// listing, classifying every pairing. Versioned subdirectories are
// scheduled; unknown ones are reported (if wanted) but never entered.
func (it *ChangeIter) processDir(dir string) error {
	var rows []dirstatefile.Row
	if bi, ok := it.d.blockIndex(dir); ok {
		rows = it.d.blocks[bi].Rows
	} else if dir != "" {
		// A root that is not a directory: classify the one entry.
		if row, ok := it.d.GetEntry(dir); ok {
			return it.classify(row, it.statIn(parentDir(dir), row.Key.Basename))
		}
		return nil
	}

	var fsEntries []os.FileInfo
	if it.opts.FS != nil {
		list, err := it.opts.FS.ReadDir(dir)
		if err == nil {
			for _, fi := range list {
				if !it.prune[fi.Name()] {
					fsEntries = append(fsEntries, fi)
				}
			}
			sort.Slice(fsEntries, func(i, j int) bool { return fsEntries[i].Name() < fsEntries[j].Name() })
		}
	}

	i, j := 0, 0
	for i < len(rows) || j < len(fsEntries) {
		var c int
		switch {
		case i >= len(rows):
			c = 1
		case j >= len(fsEntries):
			c = -1
		default:
			switch {
			case rows[i].Key.Basename < fsEntries[j].Name():
				c = -1
			case rows[i].Key.Basename > fsEntries[j].Name():
				c = 1
			default:
				c = 0
			}
		}

		switch {
		case c < 0:
			if err := it.classify(rows[i], nil); err != nil {
				return err
			}
			i++
		case c > 0:
			it.unversioned(dir, fsEntries[j])
			j++
		default:
			name := fsEntries[j].Name()
			versioned := false
			for ; i < len(rows) && rows[i].Key.Basename == name; i++ {
				if rows[i].Tree[0].Kind != dirstatefile.KindAbsent || it.srcOf(rows[i]).Kind != dirstatefile.KindAbsent {
					versioned = true
				}
				if err := it.classify(rows[i], fsEntries[j]); err != nil {
					return err
				}
			}
			if !versioned {
				it.unversioned(dir, fsEntries[j])
			}
			j++
		}
	}
	return nil
}

// classify emits the change record (if any) for one dirstate row, given
// the matching filesystem entry or nil when the path is gone from disk.
func (it *ChangeIter) classify(row dirstatefile.Row, fi os.FileInfo) error {
	src := it.srcOf(row)
	tgt := row.Tree[0]
	path := row.Key.FullPath()

	// Descend wherever either tree sees a directory; missing-on-disk
	// children still need reporting.
	if tgt.Kind == dirstatefile.KindDirectory || src.Kind == dirstatefile.KindDirectory {
		it.enqueue(path)
	}

	switch {
	case tgt.Kind.Present():
		oldPath := path
		if src.Kind == dirstatefile.KindRelocated {
			// The source tree holds this file-id at another path: follow
			// the relocation to the real source row before comparing.
			oldPath = src.Fingerprint
			src = it.resolveSource(oldPath, row.Key.FileID)
		}
		if src.Kind.Present() {
			return it.emitCompared(row.Key, oldPath, path, src, tgt, fi)
		}
		it.emitAdd(row.Key, path, tgt, fi)
		return nil

	case tgt.Kind == dirstatefile.KindAbsent:
		if src.Kind.Present() {
			it.emitDelete(row.Key, path, src)
		}
		return nil

	default: // tgt relocated
		if src.Kind.Present() {
			// The working tree holds the file-id elsewhere; the record is
			// emitted when that directory is scanned.
			dn, _ := splitPath(tgt.Fingerprint)
			it.enqueue(dn)
		}
		return nil
	}
}

// resolveSource returns the source-column details of the row holding
// fileID at path, or absent when the relocation dangles.
func (it *ChangeIter) resolveSource(path, fileID string) dirstatefile.TreeDetails {
	dn, bn := splitPath(path)
	bi, ri, ok := it.d.findKey(dirstatefile.Key{Dirname: dn, Basename: bn, FileID: fileID})
	if !ok {
		return absentDetails()
	}
	row := it.d.blocks[bi].Rows[ri]
	if it.opts.Source >= len(row.Tree) {
		return absentDetails()
	}
	return row.Tree[it.opts.Source]
}

// emitCompared handles the present-in-both case: decide whether content,
// location, kind, or the execute bit moved, and emit accordingly.
func (it *ChangeIter) emitCompared(key dirstatefile.Key, oldPath, newPath string, src, tgt dirstatefile.TreeDetails, fi os.FileInfo) error {
	c := Change{
		FileID:       key.FileID,
		OldPath:      oldPath,
		NewPath:      newPath,
		OldVersioned: true,
		NewVersioned: true,
		OldParentID:  it.parentIDSource(oldPath),
		NewParentID:  it.parentIDWorking(newPath),
		OldName:      baseOf(oldPath),
		NewName:      key.Basename,
		OldKind:      src.Kind,
		OldExec:      src.Executable,
	}

	if fi == nil {
		// Versioned but gone from disk.
		c.ContentChanged = true
		c.NewExec = tgt.Executable
		it.buf = append(it.buf, c)
		return nil
	}

	diskKind := kindFromMode(fi.Mode())
	c.NewKind = diskKind
	if diskKind == dirstatefile.KindFile {
		c.NewExec = isExecutable(fi.Mode())
	}

	switch {
	case diskKind != src.Kind:
		c.ContentChanged = true
	case diskKind == dirstatefile.KindFile:
		if src.Size != uint64(fi.Size()) {
			c.ContentChanged = true
		} else {
			sha, err := it.d.UpdateEntry(newPath, newPath, fi)
			if err != nil {
				return err
			}
			c.ContentChanged = sha != src.Fingerprint
		}
	case diskKind == dirstatefile.KindSymlink:
		target, err := it.d.UpdateEntry(newPath, newPath, fi)
		if err != nil {
			return err
		}
		c.ContentChanged = target != src.Fingerprint
	case diskKind == dirstatefile.KindDirectory:
		// Tree references record a revision; plain directories have no
		// content of their own.
		if src.Kind == dirstatefile.KindTreeReference {
			c.ContentChanged = tgt.Fingerprint != src.Fingerprint
		}
	}

	changed := c.ContentChanged ||
		c.OldPath != c.NewPath ||
		c.OldKind != c.NewKind ||
		c.OldExec != c.NewExec
	if changed || it.opts.IncludeUnchanged {
		it.buf = append(it.buf, c)
	}
	return nil
}

func (it *ChangeIter) emitAdd(key dirstatefile.Key, path string, tgt dirstatefile.TreeDetails, fi os.FileInfo) {
	c := Change{
		FileID:         key.FileID,
		NewPath:        path,
		ContentChanged: true,
		NewVersioned:   true,
		NewParentID:    it.parentIDWorking(path),
		NewName:        key.Basename,
	}
	if fi != nil {
		c.NewKind = kindFromMode(fi.Mode())
		if c.NewKind == dirstatefile.KindFile {
			c.NewExec = isExecutable(fi.Mode())
		}
	} else if tgt.Kind == dirstatefile.KindDirectory {
		// Directory rows are emitted as added even without a disk entry
		// under them yet; files stay kindless to flag them as missing.
		c.NewKind = dirstatefile.KindDirectory
	}
	it.buf = append(it.buf, c)
}

func (it *ChangeIter) emitDelete(key dirstatefile.Key, path string, src dirstatefile.TreeDetails) {
	it.buf = append(it.buf, Change{
		FileID:         key.FileID,
		OldPath:        path,
		ContentChanged: true,
		OldVersioned:   true,
		OldParentID:    it.parentIDSource(path),
		OldName:        key.Basename,
		OldKind:        src.Kind,
		OldExec:        src.Executable,
	})
}

// unversioned emits a record for a filesystem entry no tree knows about.
func (it *ChangeIter) unversioned(dir string, fi os.FileInfo) {
	if !it.opts.WantUnversioned {
		return
	}
	path := joinPath(dir, fi.Name())
	if it.opts.Ignore != nil && it.opts.Ignore(path) {
		return
	}
	c := Change{
		NewPath:        path,
		ContentChanged: true,
		NewName:        fi.Name(),
		NewKind:        kindFromMode(fi.Mode()),
	}
	if c.NewKind == dirstatefile.KindFile {
		c.NewExec = isExecutable(fi.Mode())
	}
	it.buf = append(it.buf, c)
}

// parentIDWorking returns the file-id of path's directory in the working
// tree; empty for the root itself.
func (it *ChangeIter) parentIDWorking(path string) string {
	if path == "" {
		return ""
	}
	dn, _ := splitPath(path)
	if row, ok := it.d.GetEntry(dn); ok {
		return row.Key.FileID
	}
	return ""
}

// parentIDSource is parentIDWorking against the source tree column.
func (it *ChangeIter) parentIDSource(path string) string {
	if path == "" || it.opts.Source == 0 {
		return ""
	}
	dn, _ := splitPath(path)
	if row, ok := it.d.entryAtCol(dn, it.opts.Source); ok {
		return row.Key.FileID
	}
	return ""
}

// statIn lstats one name inside dir via the configured filesystem.
func (it *ChangeIter) statIn(dir, name string) os.FileInfo {
	if it.opts.FS == nil {
		return nil
	}
	fi, err := it.opts.FS.Lstat(joinPath(dir, name))
	if err != nil {
		return nil
	}
	return fi
}

func parentDir(path string) string {
	dn, _ := splitPath(path)
	return dn
}

func baseOf(path string) string {
	_, bn := splitPath(path)
	return bn
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
