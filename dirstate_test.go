package dirstate_test

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/suite"

	"github.com/glasser/dirstate"
	"github.com/glasser/dirstate/plumbing/format/dirstatefile"
	"github.com/glasser/dirstate/storage/dirlock"
)

const stateFile = "dirstate"

// billyHasher hashes file content through the test filesystem.
type billyHasher struct {
	fs billy.Filesystem
}

func (h *billyHasher) SHA1File(path string) (string, error) {
	data, err := util.ReadFile(h.fs, path)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// env is the common fixture: a DirState over an in-memory filesystem,
// created and write-locked.
type env struct {
	fs billy.Filesystem
	d  *dirstate.DirState
}

func newEnv(s *suite.Suite) *env {
	fs := memfs.New()
	locker := dirlock.New(fs)
	d := dirstate.New(dirstate.Options{
		Path:     stateFile,
		Lock:     locker,
		File:     locker,
		Hasher:   &billyHasher{fs: fs},
		Readlink: fs.Readlink,
	})
	s.Require().NoError(d.Create("TREE_ROOT"))
	s.Require().NoError(d.LockWrite())
	return &env{fs: fs, d: d}
}

func (e *env) reopen(s *suite.Suite) *dirstate.DirState {
	locker := dirlock.New(e.fs)
	d := dirstate.New(dirstate.Options{
		Path:     stateFile,
		Lock:     locker,
		File:     locker,
		Hasher:   &billyHasher{fs: e.fs},
		Readlink: e.fs.Readlink,
	})
	s.Require().NoError(d.LockRead())
	return d
}

func oldStat(size uint32) dirstatefile.Stat {
	t := uint32(time.Now().Add(-1000 * time.Second).Unix())
	return dirstatefile.Stat{Size: size, Mtime: t, Ctime: t, Dev: 7, Ino: 42, Mode: 0o100644}
}

func mustPack(s *suite.Suite, st dirstatefile.Stat) dirstatefile.PackedStat {
	p, err := dirstatefile.Pack(st)
	s.Require().NoError(err)
	return p
}

type DirStateSuite struct {
	suite.Suite
}

func TestDirStateSuite(t *testing.T) {
	suite.Run(t, new(DirStateSuite))
}

func (s *DirStateSuite) TestInitializeAndAdd() {
	e := newEnv(&s.Suite)

	sha := strings.Repeat("a", 40)
	packed := mustPack(&s.Suite, oldStat(5))
	s.NoError(e.d.Add("hello.txt", "hello-id", dirstatefile.KindFile, 5, false, packed, sha))

	rows := e.d.Rows()
	s.Require().Len(rows, 2)

	s.Equal(dirstatefile.Key{Dirname: "", Basename: "", FileID: "TREE_ROOT"}, rows[0].Key)
	s.Equal(dirstatefile.KindDirectory, rows[0].Tree[0].Kind)
	s.Equal(string(dirstatefile.NullStat), rows[0].Tree[0].PackedOrRevID)

	s.Equal(dirstatefile.Key{Dirname: "", Basename: "hello.txt", FileID: "hello-id"}, rows[1].Key)
	s.Equal(dirstatefile.TreeDetails{
		Kind:          dirstatefile.KindFile,
		Fingerprint:   sha,
		Size:          5,
		Executable:    false,
		PackedOrRevID: string(packed),
	}, rows[1].Tree[0])

	s.NoError(e.d.Validate())
	s.NoError(e.d.Save())

	data, err := util.ReadFile(e.fs, stateFile)
	s.NoError(err)
	s.True(bytes.HasPrefix(data, []byte(dirstatefile.HeaderLine)))
}

func (s *DirStateSuite) TestRemoveThenReAddSameName() {
	e := newEnv(&s.Suite)

	packed := mustPack(&s.Suite, oldStat(5))
	s.NoError(e.d.Add("hello.txt", "hello-id", dirstatefile.KindFile, 5, false, packed, strings.Repeat("a", 40)))
	s.NoError(e.d.Remove("hello.txt"))
	s.NoError(e.d.Add("hello.txt", "hello-id2", dirstatefile.KindFile, 6, false, packed, strings.Repeat("b", 40)))

	rows := e.d.Rows()
	s.Require().Len(rows, 2)
	s.Equal("hello-id2", rows[1].Key.FileID)
	for _, r := range rows {
		s.NotEqual("hello-id", r.Key.FileID)
	}
	s.NoError(e.d.Validate())
}

func (s *DirStateSuite) TestSaveReloadRoundTrip() {
	e := newEnv(&s.Suite)

	packed := mustPack(&s.Suite, oldStat(3))
	s.NoError(e.d.Add("dir", "dir-id", dirstatefile.KindDirectory, 0, false, dirstatefile.NullStat, ""))
	s.NoError(e.d.Add("dir/a.txt", "a-id", dirstatefile.KindFile, 3, true, packed, strings.Repeat("c", 40)))
	s.NoError(e.d.Add("zed", "zed-id", dirstatefile.KindSymlink, 0, false, dirstatefile.NullStat, "dir/a.txt"))
	s.NoError(e.d.Save())

	want := e.d.Rows()
	s.NoError(e.d.Unlock())

	d2 := e.reopen(&s.Suite)
	defer d2.Unlock() // nolint: errcheck
	s.NoError(d2.Load())
	s.Equal(want, d2.Rows())
	s.NoError(d2.Validate())
}

func (s *DirStateSuite) TestSaveOnUnmodifiedIsNoOp() {
	e := newEnv(&s.Suite)
	s.NoError(e.d.Save())

	before, err := util.ReadFile(e.fs, stateFile)
	s.NoError(err)

	s.NoError(e.d.Save())
	after, err := util.ReadFile(e.fs, stateFile)
	s.NoError(err)
	s.Equal(before, after)
}

func (s *DirStateSuite) TestUnlockDiscardsState() {
	e := newEnv(&s.Suite)
	packed := mustPack(&s.Suite, oldStat(1))
	s.NoError(e.d.Add("x", "x-id", dirstatefile.KindFile, 1, false, packed, strings.Repeat("d", 40)))
	s.NoError(e.d.Save())
	want := e.d.Rows()
	s.NoError(e.d.Unlock())

	// Same instance relocks and observes the same rows.
	s.NoError(e.d.LockRead())
	s.NoError(e.d.Load())
	s.Equal(want, e.d.Rows())
	s.NoError(e.d.Unlock())
}

func (s *DirStateSuite) TestUnsavedMutationLostOnUnlock() {
	e := newEnv(&s.Suite)
	packed := mustPack(&s.Suite, oldStat(1))
	s.NoError(e.d.Add("x", "x-id", dirstatefile.KindFile, 1, false, packed, strings.Repeat("d", 40)))
	s.NoError(e.d.Unlock())

	s.NoError(e.d.LockRead())
	s.NoError(e.d.Load())
	s.Len(e.d.Rows(), 1)
	s.NoError(e.d.Unlock())
}

func (s *DirStateSuite) TestLockTwiceFails() {
	e := newEnv(&s.Suite)
	s.ErrorIs(e.d.LockRead(), dirstate.ErrLockContention)
	s.ErrorIs(e.d.LockWrite(), dirstate.ErrLockContention)
}

func (s *DirStateSuite) TestSaveWithoutLockFails() {
	e := newEnv(&s.Suite)
	s.NoError(e.d.Unlock())
	s.ErrorIs(e.d.Save(), dirstate.ErrLockNotHeld)
	s.ErrorIs(e.d.Unlock(), dirstate.ErrLockNotHeld)
}

func (s *DirStateSuite) TestCRCFlipDetected() {
	e := newEnv(&s.Suite)
	packed := mustPack(&s.Suite, oldStat(5))
	s.NoError(e.d.Add("hello.txt", "hello-id", dirstatefile.KindFile, 5, false, packed, strings.Repeat("a", 40)))
	s.NoError(e.d.Save())
	s.NoError(e.d.Unlock())

	data, err := util.ReadFile(e.fs, stateFile)
	s.NoError(err)
	corrupted := append([]byte(nil), data...)
	corrupted[len(corrupted)-10] ^= 0x01
	s.NoError(util.WriteFile(e.fs, stateFile, corrupted, 0o644))

	d2 := e.reopen(&s.Suite)
	defer d2.Unlock() // nolint: errcheck
	err = d2.Load()
	s.ErrorIs(err, dirstatefile.ErrFormat)
	s.ErrorContains(err, "crc32 mismatch")

	untouched, rerr := util.ReadFile(e.fs, stateFile)
	s.NoError(rerr)
	s.Equal(corrupted, untouched)
}

func (s *DirStateSuite) TestAbortedSuppressesSave() {
	e := newEnv(&s.Suite)
	packed := mustPack(&s.Suite, oldStat(5))
	s.NoError(e.d.Add("a.txt", "a-id", dirstatefile.KindFile, 5, false, packed, strings.Repeat("a", 40)))
	s.NoError(e.d.Save())
	before, err := util.ReadFile(e.fs, stateFile)
	s.NoError(err)

	// A delta whose source path does not exist aborts the DirState.
	old := "missing.txt"
	err = e.d.UpdateByDelta([]dirstate.DeltaItem{{OldPath: &old, FileID: "nope-id"}})
	s.ErrorIs(err, dirstate.ErrInconsistentDelta)
	s.True(e.d.Aborted())
	s.ErrorIs(e.d.AbortReason(), dirstate.ErrInconsistentDelta)

	s.NoError(e.d.Save())
	after, err := util.ReadFile(e.fs, stateFile)
	s.NoError(err)
	s.Equal(before, after)

	// Unlock clears the aborted flag with the rest of the state.
	s.NoError(e.d.Unlock())
	s.NoError(e.d.LockRead())
	s.False(e.d.Aborted())
	s.NoError(e.d.Unlock())
}

func (s *DirStateSuite) TestGhostParentColumn() {
	e := newEnv(&s.Suite)
	packed := mustPack(&s.Suite, oldStat(2))
	s.NoError(e.d.Add("f", "f-id", dirstatefile.KindFile, 2, false, packed, strings.Repeat("e", 40)))

	s.NoError(e.d.SetParentTrees(
		[]dirstate.ParentTree{{RevisionID: "ghost-rev"}},
		[]string{"ghost-rev"},
	))
	s.Equal([]string{"ghost-rev"}, e.d.Parents())
	s.Equal([]string{"ghost-rev"}, e.d.Ghosts())

	for _, r := range e.d.Rows() {
		s.Require().Len(r.Tree, 2)
		s.Equal(dirstatefile.TreeDetails{Kind: dirstatefile.KindAbsent}, r.Tree[1])
	}
	s.NoError(e.d.Validate())
}

func (s *DirStateSuite) TestZeroParentsRowLength() {
	e := newEnv(&s.Suite)
	for _, r := range e.d.Rows() {
		s.Len(r.Tree, 1)
	}
}

// TestBisectMatchesFullScan checks that for a file with over a hundred
// rows, the partial reader and the fully parsed state agree on every
// lookup.
func (s *DirStateSuite) TestBisectMatchesFullScan() {
	e := newEnv(&s.Suite)

	var paths []string
	for i := 0; i < 10; i++ {
		dir := fmt.Sprintf("dir%02d", i)
		s.Require().NoError(e.d.Add(dir, dir+"-id", dirstatefile.KindDirectory, 0, false, dirstatefile.NullStat, ""))
		paths = append(paths, dir)
		for j := 0; j < 12; j++ {
			p := fmt.Sprintf("%s/file%02d.txt", dir, j)
			packed := mustPack(&s.Suite, oldStat(uint32(j)))
			s.Require().NoError(e.d.Add(p, fmt.Sprintf("id-%02d-%02d", i, j), dirstatefile.KindFile, uint64(j), false, packed, strings.Repeat("f", 40)))
			paths = append(paths, p)
		}
	}
	s.Require().Greater(len(paths), 100)
	s.NoError(e.d.Save())

	// "" is the first record of the body and dir09/file11.txt the last:
	// both range boundaries are part of the sample.
	subset := []string{"", "dir00", "dir00/file00.txt", "dir04/file07.txt", "dir09/file11.txt", "dir05", "dir07/file03.txt"}
	rows, err := e.d.BisectPaths(subset)
	s.NoError(err)
	s.Require().Len(rows, len(subset))

	byPath := map[string]string{}
	for _, r := range rows {
		byPath[r.Path()] = r.FileID
	}
	for _, p := range subset {
		full, ok := e.d.GetEntry(p)
		s.Require().True(ok, p)
		s.Equal(full.Key.FileID, byPath[p], p)
	}

	// And the recursive variant reaches a directory row and everything below it.
	all, err := e.d.BisectRecursive([]string{"dir03"})
	s.NoError(err)
	s.Len(all, 13) // the directory row plus its twelve files
}

func (s *DirStateSuite) TestBisectDirContents() {
	e := newEnv(&s.Suite)
	s.NoError(e.d.Add("sub", "sub-id", dirstatefile.KindDirectory, 0, false, dirstatefile.NullStat, ""))
	for j := 0; j < 5; j++ {
		p := fmt.Sprintf("sub/f%d", j)
		packed := mustPack(&s.Suite, oldStat(uint32(j)))
		s.NoError(e.d.Add(p, fmt.Sprintf("sub-f%d", j), dirstatefile.KindFile, uint64(j), false, packed, strings.Repeat("a", 40)))
	}
	s.NoError(e.d.Save())

	rows, err := e.d.BisectDirContents("sub")
	s.NoError(err)
	s.Require().Len(rows, 5)
	for j, r := range rows {
		s.Equal("sub", r.Dirname)
		s.Equal(fmt.Sprintf("f%d", j), r.Basename)
	}
}

func (s *DirStateSuite) TestComponentOrderOfBlocks() {
	e := newEnv(&s.Suite)
	// The rows "a" and "a-b" both live in the root contents block, which
	// comes before a's block holding "a/b". Validate checks that blocks sit
	// in component order, where "a/b" sorts before "a-b" even though a plain
	// string compare says otherwise.
	s.NoError(e.d.Add("a", "a-id", dirstatefile.KindDirectory, 0, false, dirstatefile.NullStat, ""))
	s.NoError(e.d.Add("a-b", "ab-id", dirstatefile.KindDirectory, 0, false, dirstatefile.NullStat, ""))
	packed := mustPack(&s.Suite, oldStat(1))
	s.NoError(e.d.Add("a/b", "b-id", dirstatefile.KindFile, 1, false, packed, strings.Repeat("a", 40)))

	var paths []string
	for _, r := range e.d.Rows() {
		paths = append(paths, r.Key.FullPath())
	}
	s.Equal([]string{"", "a", "a-b", "a/b"}, paths)
	s.NoError(e.d.Validate())
}

func (s *DirStateSuite) TestAddValidation() {
	e := newEnv(&s.Suite)
	packed := mustPack(&s.Suite, oldStat(1))

	s.ErrorIs(e.d.Add("..", "dot-id", dirstatefile.KindFile, 1, false, packed, ""), dirstate.ErrInvalidEntryName)
	s.ErrorIs(e.d.Add(".", "dot-id", dirstatefile.KindFile, 1, false, packed, ""), dirstate.ErrInvalidEntryName)
	s.ErrorIs(e.d.Add("bad\nname", "nl-id", dirstatefile.KindFile, 1, false, packed, ""), dirstate.ErrInvalidEntryName)
	s.ErrorIs(e.d.Add("bad\x00name", "nul-id", dirstatefile.KindFile, 1, false, packed, ""), dirstate.ErrInvalidEntryName)

	s.ErrorIs(e.d.Add("nodir/x", "x-id", dirstatefile.KindFile, 1, false, packed, ""), dirstate.ErrNotVersioned)

	s.NoError(e.d.Add("x", "x-id", dirstatefile.KindFile, 1, false, packed, strings.Repeat("a", 40)))
	s.ErrorIs(e.d.Add("y", "x-id", dirstatefile.KindFile, 1, false, packed, ""), dirstate.ErrDuplicateFileID)
	s.ErrorIs(e.d.Add("x", "x2-id", dirstatefile.KindFile, 1, false, packed, ""), dirstate.ErrInconsistentDelta)
	s.False(e.d.Aborted())
}

func (s *DirStateSuite) TestNormalizeRejection() {
	fs := memfs.New()
	locker := dirlock.New(fs)
	d := dirstate.New(dirstate.Options{
		Path: stateFile, Lock: locker, File: locker,
		Hasher: &billyHasher{fs: fs},
		Normalize: func(basename string) (string, bool) {
			return strings.ToLower(basename), true
		},
	})
	s.Require().NoError(d.Create("TREE_ROOT"))
	s.Require().NoError(d.LockWrite())
	defer d.Unlock() // nolint: errcheck

	packed := mustPack(&s.Suite, oldStat(1))
	s.ErrorIs(d.Add("Mixed.txt", "m-id", dirstatefile.KindFile, 1, false, packed, ""), dirstate.ErrInvalidEntryName)
	s.NoError(d.Add("lower.txt", "l-id", dirstatefile.KindFile, 1, false, packed, strings.Repeat("a", 40)))
}

func (s *DirStateSuite) TestSetPathID() {
	e := newEnv(&s.Suite)
	s.ErrorIs(e.d.SetPathID("some/path", "id"), dirstate.ErrNotImplemented)

	s.NoError(e.d.SetPathID("", "NEW_ROOT"))
	root, ok := e.d.GetEntry("")
	s.Require().True(ok)
	s.Equal("NEW_ROOT", root.Key.FileID)
	s.NoError(e.d.Validate())

	// Idempotent for the same id.
	s.NoError(e.d.SetPathID("", "NEW_ROOT"))
	s.Len(e.d.Rows(), 1)
}
