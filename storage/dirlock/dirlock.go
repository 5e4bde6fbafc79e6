// Package dirlock implements the dirstate's FileLock and AtomicFile
// collaborators on top of a billy filesystem, so the same engine runs
// against the OS disk, an in-memory filesystem in tests, or any other
// billy backend.
package dirlock

import (
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"

	"github.com/glasser/dirstate"
)

// Locker hands out lock handles and atomic writers for files on fs.
type Locker struct {
	fs billy.Filesystem
}

// New returns a Locker over fs.
func New(fs billy.Filesystem) *Locker {
	return &Locker{fs: fs}
}

var (
	_ dirstate.FileLock   = (*Locker)(nil)
	_ dirstate.AtomicFile = (*Locker)(nil)
	_ dirstate.LockHandle = (*Handle)(nil)
)

// AcquireRead opens path for reading. Billy exposes only exclusive file
// locks, so read handles take no OS lock at all; the exclusive lock is
// taken on write acquisition and promotion, which is where mutual
// exclusion actually matters for a rewrite-in-place file.
func (l *Locker) AcquireRead(path string) (dirstate.LockHandle, error) {
	f, err := l.fs.OpenFile(path, os.O_RDONLY, 0o666)
	if err != nil {
		return nil, err
	}
	return &Handle{fs: l.fs, f: f, path: path}, nil
}

// AcquireWrite opens path read-write and takes the exclusive lock.
func (l *Locker) AcquireWrite(path string) (dirstate.LockHandle, error) {
	f, err := l.fs.OpenFile(path, os.O_RDWR, 0o666)
	if err != nil {
		return nil, err
	}
	if err := f.Lock(); err != nil {
		f.Close() // nolint: errcheck
		return nil, fmt.Errorf("locking %s: %w", path, dirstate.ErrLockContention)
	}
	return &Handle{fs: l.fs, f: f, path: path, writable: true, locked: true}, nil
}

// Handle is a held (or promotable) lock plus the file handle it covers.
type Handle struct {
	fs   billy.Filesystem
	f    billy.File
	path string

	writable bool // opened read-write
	locked   bool // currently holds the exclusive lock
}

// ReadAt implements io.ReaderAt for the bisector.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	return h.f.ReadAt(p, off)
}

// Size returns the file's current length.
func (h *Handle) Size() (int64, error) {
	fi, err := h.fs.Stat(h.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// ReadAll returns the whole file.
func (h *Handle) ReadAll() ([]byte, error) {
	if _, err := h.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(h.f)
}

// WriteAll replaces the file's contents in place: seek to the start,
// write, truncate the remainder. Only valid while the exclusive lock is
// held.
func (h *Handle) WriteAll(data []byte) error {
	if !h.locked {
		return dirstate.ErrLockNotHeld
	}
	if _, err := h.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := h.f.Write(data); err != nil {
		return err
	}
	return h.f.Truncate(int64(len(data)))
}

// TemporaryWrite promotes a read handle: reopen read-write and take the
// exclusive lock. Failure to lock means another writer has priority and
// maps to ErrLockContention.
func (h *Handle) TemporaryWrite() error {
	if h.locked {
		return nil
	}
	if !h.writable {
		f, err := h.fs.OpenFile(h.path, os.O_RDWR, 0o666)
		if err != nil {
			return fmt.Errorf("reopening %s for write: %w", h.path, dirstate.ErrLockContention)
		}
		h.f.Close() // nolint: errcheck
		h.f = f
		h.writable = true
	}
	if err := h.f.Lock(); err != nil {
		return fmt.Errorf("promoting lock on %s: %w", h.path, dirstate.ErrLockContention)
	}
	h.locked = true
	return nil
}

// RestoreRead demotes a promoted handle back to read-only locking
// discipline. The read-write descriptor stays open; only the lock is
// dropped.
func (h *Handle) RestoreRead() error {
	if !h.locked {
		return nil
	}
	if err := h.f.Unlock(); err != nil {
		return err
	}
	h.locked = false
	return nil
}

// Release drops the lock, if held, and closes the handle.
func (h *Handle) Release() error {
	if h.locked {
		h.f.Unlock() // nolint: errcheck
		h.locked = false
	}
	return h.f.Close()
}

// OpenWrite starts an atomic replacement of path: content accumulates in
// a same-directory temporary and lands with a rename on Commit, so a
// reader sees either the old file or the new one, never a mixture.
func (l *Locker) OpenWrite(path string) (dirstate.AtomicWriter, error) {
	dir, _ := splitDir(path)
	tmp, err := l.fs.TempFile(dir, "tmp_dirstate_")
	if err != nil {
		return nil, err
	}
	return &atomicWriter{fs: l.fs, tmp: tmp, path: path}, nil
}

type atomicWriter struct {
	fs   billy.Filesystem
	tmp  billy.File
	path string
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

func (w *atomicWriter) Commit() error {
	if err := w.tmp.Close(); err != nil {
		return err
	}
	return w.fs.Rename(w.tmp.Name(), w.path)
}

func (w *atomicWriter) Abort() error {
	if err := w.tmp.Close(); err != nil {
		return err
	}
	return w.fs.Remove(w.tmp.Name())
}

func splitDir(path string) (dir, base string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return "", path
}
