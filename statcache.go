package dirstate

import (
	"os"

	"github.com/glasser/dirstate/plumbing/format/dirstatefile"
	"github.com/glasser/dirstate/utils/trace"
)

// The stat cache: deciding when the fingerprint recorded in a working-tree
// column may be trusted without re-reading content, and when a freshly
// computed one may be written back.
//
// The guard is the cutoff time: a file whose mtime or ctime is at or after
// floor(now) - skew is never cached, because a writer fast enough to
// modify within the stat granularity would leave the fingerprint stale
// with nothing to betray it. Such entries keep the null packed stat so no
// later scan trusts them either.

func kindFromMode(m os.FileMode) dirstatefile.MiniKind {
	switch {
	case m.IsDir():
		return dirstatefile.KindDirectory
	case m&os.ModeSymlink != 0:
		return dirstatefile.KindSymlink
	default:
		return dirstatefile.KindFile
	}
}

func isExecutable(m os.FileMode) bool { return m&0111 != 0 }

// cutoff returns the oldest timestamp that is still too fresh to cache.
func (d *DirState) cutoff() int64 {
	return d.now().Unix() - d.cutoffSkew
}

// UpdateEntry refreshes the working-tree column of the entry at path
// against a fresh stat of the file at abspath, returning the entry's
// content fingerprint: the SHA for files, the target for symlinks, empty
// for directories. When the recorded packed stat still matches, the
// cached fingerprint is returned without touching content. The update
// happens in memory even under a read lock; Save decides later whether
// it may be persisted.
func (d *DirState) UpdateEntry(path, abspath string, fi os.FileInfo) (string, error) {
	if d.lockState == lockNone {
		return "", ErrLockNotHeld
	}
	if err := d.ensureLoaded(); err != nil {
		return "", err
	}

	row, ok := d.GetEntry(path)
	if !ok || !row.Tree[0].Kind.Present() {
		return "", &NotVersionedError{Path: path}
	}
	bi, ri, _ := d.findKey(row.Key)
	td := &d.blocks[bi].Rows[ri].Tree[0]

	st := dirstatefile.StatFromFileInfo(fi)
	packed, err := dirstatefile.Pack(st)
	if err != nil {
		return "", err
	}

	diskKind := kindFromMode(fi.Mode())
	if diskKind == td.Kind && string(packed) == td.PackedOrRevID &&
		(td.Kind != dirstatefile.KindFile || uint64(st.Size) == td.Size) {
		return td.Fingerprint, nil
	}

	racy := int64(st.Mtime) >= d.cutoff() || int64(st.Ctime) >= d.cutoff()
	executable := isExecutable(fi.Mode())

	switch diskKind {
	case dirstatefile.KindFile:
		sha, err := d.hasher.SHA1File(abspath)
		if err != nil {
			return "", err
		}
		if racy {
			*td = dirstatefile.TreeDetails{
				Kind:          dirstatefile.KindFile,
				Size:          uint64(st.Size),
				Executable:    executable,
				PackedOrRevID: string(dirstatefile.NullStat),
			}
			trace.Mutate.Printf("dirstate: %q too fresh to sha-cache", path)
		} else {
			*td = dirstatefile.TreeDetails{
				Kind:          dirstatefile.KindFile,
				Fingerprint:   sha,
				Size:          uint64(st.Size),
				Executable:    executable,
				PackedOrRevID: string(packed),
			}
		}
		d.markModified()
		return sha, nil

	case dirstatefile.KindSymlink:
		if d.readlink == nil {
			return "", &NotVersionedError{Path: path}
		}
		target, err := d.readlink(abspath)
		if err != nil {
			return "", err
		}
		if racy {
			*td = dirstatefile.TreeDetails{
				Kind:          dirstatefile.KindSymlink,
				Size:          uint64(st.Size),
				PackedOrRevID: string(dirstatefile.NullStat),
			}
		} else {
			*td = dirstatefile.TreeDetails{
				Kind:          dirstatefile.KindSymlink,
				Fingerprint:   target,
				Size:          uint64(st.Size),
				PackedOrRevID: string(packed),
			}
		}
		d.markModified()
		return target, nil

	default:
		// Directories never cache a fingerprint. Becoming a directory
		// also means the entry's block must exist.
		wasDir := td.Kind == dirstatefile.KindDirectory
		*td = dirstatefile.TreeDetails{
			Kind:          dirstatefile.KindDirectory,
			PackedOrRevID: string(packed),
		}
		if !wasDir {
			d.ensureBlock(path)
		}
		d.markModified()
		return "", nil
	}
}

// ObserveSHA1 feeds back a fingerprint computed out of band, e.g. by a
// commit that had to read the file anyway. It is cached only when the
// stat it was computed against is old enough to trust.
func (d *DirState) ObserveSHA1(path, sha string, fi os.FileInfo) error {
	if d.lockState == lockNone {
		return ErrLockNotHeld
	}
	if err := d.ensureLoaded(); err != nil {
		return err
	}

	row, ok := d.GetEntry(path)
	if !ok || row.Tree[0].Kind != dirstatefile.KindFile {
		return nil
	}

	st := dirstatefile.StatFromFileInfo(fi)
	if int64(st.Mtime) >= d.cutoff() || int64(st.Ctime) >= d.cutoff() {
		return nil
	}
	packed, err := dirstatefile.Pack(st)
	if err != nil {
		return err
	}

	bi, ri, _ := d.findKey(row.Key)
	td := &d.blocks[bi].Rows[ri].Tree[0]
	td.Fingerprint = sha
	td.Size = uint64(st.Size)
	td.PackedOrRevID = string(packed)
	d.markModified()
	return nil
}
