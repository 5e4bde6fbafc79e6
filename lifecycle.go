package dirstate

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/glasser/dirstate/plumbing/format/dirstatefile"
	"github.com/glasser/dirstate/plumbing/format/dirstatefile/bisect"
	"github.com/glasser/dirstate/utils/trace"
)

// Create initializes d as a brand new working tree and writes the minimal
// dirstate file: the header, no parents, and the single TREE_ROOT row.
// The write goes through the AtomicFile collaborator because no lock can
// exist on a file that does not exist yet; every later write uses the
// locked rewrite protocol in Save instead.
func (d *DirState) Create(rootFileID string) error {
	d.Initialize(rootFileID)

	w, err := d.file.OpenWrite(d.path)
	if err != nil {
		return err
	}
	if err := dirstatefile.Encode(w, d.fileView()); err != nil {
		w.Abort() // nolint: errcheck
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}

	trace.General.Printf("dirstate: created %s", d.path)
	d.dirty = false
	return nil
}

func (d *DirState) fileView() dirstatefile.File {
	return dirstatefile.File{Parents: d.parents, Ghosts: d.ghosts, Rows: d.Rows()}
}

// LockRead acquires a read lock on the dirstate file. The header and body
// are not read yet; they load on first access.
func (d *DirState) LockRead() error {
	return d.acquireLock(lockRead)
}

// LockWrite acquires a write lock on the dirstate file, required for any
// mutation to be saved.
func (d *DirState) LockWrite() error {
	return d.acquireLock(lockWrite)
}

func (d *DirState) acquireLock(mode lockMode) error {
	if d.lockState != lockNone {
		return ErrLockContention
	}

	var (
		h   LockHandle
		err error
	)
	if mode == lockWrite {
		h, err = d.lock.AcquireWrite(d.path)
	} else {
		h, err = d.lock.AcquireRead(d.path)
	}
	if err != nil {
		return err
	}

	trace.IO.Printf("dirstate: locked %s (mode %d)", d.path, mode)
	d.lockHandle = h
	d.lockState = mode
	return nil
}

// Unlock releases the lock and discards all in-memory state: header,
// blocks, id index, and cursors. Readers must not trust cached data across
// lock release. Unsaved modifications are lost, which is also how an
// aborted mutation is finally discarded.
func (d *DirState) Unlock() error {
	if d.lockState == lockNone {
		return ErrLockNotHeld
	}

	err := d.lockHandle.Release()
	d.lockHandle = nil
	d.lockState = lockNone

	d.parents = nil
	d.ghosts = nil
	d.blocks = nil
	d.idIndex = nil
	d.headerRead = false
	d.loaded = false
	d.dirty = false
	d.aborted = false
	d.abortErr = nil
	d.invalidateBlockCache()

	trace.IO.Printf("dirstate: unlocked %s", d.path)
	return err
}

// Save re-serializes the in-memory state over the dirstate file while
// holding the write lock. Under a read lock it attempts an atomic
// promotion first; if another writer holds the lock the save is silently
// abandoned and the in-memory state preserved, because that writer has
// priority. A DirState whose aborted flag is set refuses to persist at
// all: probable corruption stays in memory.
func (d *DirState) Save() error {
	if d.lockState == lockNone {
		return ErrLockNotHeld
	}
	if d.aborted {
		trace.General.Printf("dirstate: not saving %s, previous mutation aborted: %v", d.path, d.abortErr)
		return nil
	}
	if !d.dirty || !d.loaded {
		return nil
	}

	promoted := false
	if d.lockState == lockRead {
		if err := d.lockHandle.TemporaryWrite(); err != nil {
			if errors.Is(err, ErrLockContention) {
				trace.General.Printf("dirstate: not saving %s, another writer holds the lock", d.path)
				return nil
			}
			return err
		}
		promoted = true
	}

	buf := new(bytes.Buffer)
	err := dirstatefile.Encode(buf, d.fileView())
	if err == nil {
		err = d.lockHandle.WriteAll(buf.Bytes())
	}

	if promoted {
		if derr := d.lockHandle.RestoreRead(); err == nil {
			err = derr
		}
	}
	if err != nil {
		return err
	}

	trace.General.Printf("dirstate: saved %s (%d entries)", d.path, len(d.Rows()))
	d.dirty = false
	return nil
}

// Load materializes the in-memory state from disk under the current lock,
// for callers that want decode errors up front rather than on first
// access: first the header lines, then the full body with its CRC check.
func (d *DirState) Load() error {
	if err := d.ensureHeader(); err != nil {
		return err
	}
	return d.ensureLoaded()
}

// ensureHeader reads the header, parent, and ghost lines if they have not
// been read under this lock.
func (d *DirState) ensureHeader() error {
	if d.headerRead {
		return nil
	}
	if d.lockState == lockNone {
		return ErrLockNotHeld
	}

	parents, ghosts, _, err := d.readHeaderInfo()
	if err != nil {
		return err
	}
	d.parents = parents
	d.ghosts = ghosts
	d.headerRead = true
	return nil
}

// ensureLoaded materializes the blocks from disk if they are not in
// memory, validating the CRC on the way in.
func (d *DirState) ensureLoaded() error {
	if d.loaded {
		return nil
	}
	if d.lockState == lockNone {
		return ErrLockNotHeld
	}

	data, err := d.lockHandle.ReadAll()
	if err != nil {
		return err
	}
	f, err := dirstatefile.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}

	d.setFromFile(f)
	trace.General.Printf("dirstate: loaded %s (%d entries)", d.path, len(f.Rows))
	return nil
}

// setFromFile rebuilds the block vector from a decoded file. Rows arrive
// in block order, so grouping by dirname reconstructs the blocks exactly;
// blocks for empty directories are not represented by any row and are
// recreated from the directory rows afterwards.
func (d *DirState) setFromFile(f dirstatefile.File) {
	d.parents = f.Parents
	d.ghosts = f.Ghosts
	d.idIndex = nil
	d.invalidateBlockCache()

	d.rebuildBlocks(f.Rows)

	d.headerRead = true
	d.loaded = true
	d.dirty = false
}

// readHeaderInfo reads just the five header lines from the locked file and
// returns the parent list, ghost list, and the offset where the row body
// begins.
func (d *DirState) readHeaderInfo() (parents, ghosts []string, bodyStart int64, err error) {
	size, err := d.lockHandle.Size()
	if err != nil {
		return nil, nil, 0, err
	}

	const headerLines = 5
	readLen := int64(4096)
	for {
		if readLen > size {
			readLen = size
		}
		buf := make([]byte, readLen)
		n, rerr := d.lockHandle.ReadAt(buf, 0)
		if rerr != nil && rerr != io.EOF {
			return nil, nil, 0, rerr
		}
		buf = buf[:n]

		end, lines := splitLines(buf, headerLines)
		if lines == nil {
			if readLen >= size {
				return nil, nil, 0, dirstatefile.FormatErrorf("file ends inside its header lines")
			}
			readLen *= 2
			continue
		}

		if lines[0] != strings.TrimSuffix(dirstatefile.HeaderLine, "\n") {
			return nil, nil, 0, dirstatefile.FormatErrorf("unrecognized header %q", lines[0])
		}
		if !strings.HasPrefix(lines[1], "crc32: ") {
			return nil, nil, 0, dirstatefile.FormatErrorf("expected crc32 line, got %q", lines[1])
		}
		if !strings.HasPrefix(lines[2], "num_entries: ") {
			return nil, nil, 0, dirstatefile.FormatErrorf("expected num_entries line, got %q", lines[2])
		}
		parents, err = parseRevisionLine(lines[3])
		if err != nil {
			return nil, nil, 0, err
		}
		ghosts, err = parseRevisionLine(lines[4])
		if err != nil {
			return nil, nil, 0, err
		}
		return parents, ghosts, end, nil
	}
}

// splitLines splits the first n newline-terminated lines off buf,
// returning the offset just past the n-th newline. lines is nil when buf
// holds fewer than n complete lines.
func splitLines(buf []byte, n int) (int64, []string) {
	lines := make([]string, 0, n)
	start := 0
	for i := 0; i < len(buf) && len(lines) < n; i++ {
		if buf[i] == '\n' {
			lines = append(lines, string(buf[start:i]))
			start = i + 1
		}
	}
	if len(lines) < n {
		return 0, nil
	}
	return int64(start), lines
}

func parseRevisionLine(line string) ([]string, error) {
	fields := strings.Split(line, "\x00")
	count, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, dirstatefile.FormatErrorf("invalid revision count %q", fields[0])
	}
	if count != len(fields)-1 {
		return nil, dirstatefile.FormatErrorf("revision line declares %d ids but carries %d", count, len(fields)-1)
	}
	return fields[1:], nil
}

// Bisector returns a partial reader over the locked dirstate file, for
// callers that want specific rows without materializing every block.
func (d *DirState) Bisector() (*bisect.Bisector, error) {
	if d.lockState == lockNone {
		return nil, ErrLockNotHeld
	}

	_, _, bodyStart, err := d.readHeaderInfo()
	if err != nil {
		return nil, err
	}
	size, err := d.lockHandle.Size()
	if err != nil {
		return nil, err
	}

	b := bisect.New(d.lockHandle, size, bodyStart)
	b.SetInitialPageSize(d.bisectPageSize)
	b.SetSafetyFactor(d.bisectSafetyFactor)
	return b, nil
}

// BisectPaths returns the on-disk rows for exactly the given paths.
func (d *DirState) BisectPaths(paths []string) ([]bisect.Row, error) {
	b, err := d.Bisector()
	if err != nil {
		return nil, err
	}
	return b.BisectPaths(paths)
}

// BisectDirContents returns the on-disk rows whose dirname is dirname.
func (d *DirState) BisectDirContents(dirname string) ([]bisect.Row, error) {
	b, err := d.Bisector()
	if err != nil {
		return nil, err
	}
	return b.BisectDirContents(dirname)
}

// BisectRecursive returns every on-disk row reachable from roots,
// following directory contents and relocations.
func (d *DirState) BisectRecursive(roots []string) ([]bisect.Row, error) {
	b, err := d.Bisector()
	if err != nil {
		return nil, err
	}
	return b.BisectRecursive(roots)
}

// requireWriteLocked loads the blocks and checks mutations are allowed.
func (d *DirState) requireWriteLocked() error {
	if d.lockState != lockWrite {
		return ErrLockNotHeld
	}
	return d.ensureLoaded()
}
