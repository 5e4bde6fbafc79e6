package dirstate_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/glasser/dirstate"
	"github.com/glasser/dirstate/plumbing/format/dirstatefile"
	"github.com/glasser/dirstate/storage/dirlock"
)

// fakeFileInfo is a canned stat result, so tests control mtimes that an
// in-memory filesystem will not let them set.
type fakeFileInfo struct {
	name  string
	size  int64
	mode  os.FileMode
	mtime time.Time
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() os.FileMode  { return f.mode }
func (f fakeFileInfo) ModTime() time.Time { return f.mtime }
func (f fakeFileInfo) IsDir() bool        { return f.mode.IsDir() }
func (f fakeFileInfo) Sys() interface{}   { return nil }

// countingHasher returns a fixed fingerprint and counts how often content
// actually had to be read.
type countingHasher struct {
	sha   string
	calls int
}

func (h *countingHasher) SHA1File(string) (string, error) {
	h.calls++
	return h.sha, nil
}

type StatCacheSuite struct {
	suite.Suite

	now    time.Time
	hasher *countingHasher
	d      *dirstate.DirState
}

func TestStatCacheSuite(t *testing.T) {
	suite.Run(t, new(StatCacheSuite))
}

func (s *StatCacheSuite) SetupTest() {
	s.now = time.Unix(1700000000, 0)
	s.hasher = &countingHasher{sha: strings.Repeat("1", 40)}

	fs := memfs.New()
	locker := dirlock.New(fs)
	s.d = dirstate.New(dirstate.Options{
		Path:   stateFile,
		Lock:   locker,
		File:   locker,
		Hasher: s.hasher,
		Readlink: func(string) (string, error) {
			return "link-target", nil
		},
		Now: func() time.Time { return s.now },
	})
	s.Require().NoError(s.d.Create("TREE_ROOT"))
	s.Require().NoError(s.d.LockWrite())
}

func (s *StatCacheSuite) TearDownTest() {
	s.d.Unlock() // nolint: errcheck
}

func (s *StatCacheSuite) oldInfo(name string, size int64) fakeFileInfo {
	return fakeFileInfo{name: name, size: size, mode: 0o644, mtime: s.now.Add(-1000 * time.Second)}
}

func (s *StatCacheSuite) addFile(path string, fi fakeFileInfo, sha string) {
	packed := mustPack(&s.Suite, dirstatefile.StatFromFileInfo(fi))
	s.Require().NoError(s.d.Add(path, path+"-id", dirstatefile.KindFile, uint64(fi.size), false, packed, sha))
}

func (s *StatCacheSuite) TestCachedSHAReturnedOnStatMatch() {
	fi := s.oldInfo("a.txt", 5)
	s.addFile("a.txt", fi, strings.Repeat("0", 40))

	sha, err := s.d.UpdateEntry("a.txt", "a.txt", fi)
	s.NoError(err)
	s.Equal(strings.Repeat("0", 40), sha)
	s.Zero(s.hasher.calls)
}

func (s *StatCacheSuite) TestStaleStatRecomputesAndCaches() {
	fi := s.oldInfo("a.txt", 5)
	s.addFile("a.txt", fi, strings.Repeat("0", 40))

	changed := fi
	changed.mtime = fi.mtime.Add(-10 * time.Second)
	sha, err := s.d.UpdateEntry("a.txt", "a.txt", changed)
	s.NoError(err)
	s.Equal(s.hasher.sha, sha)
	s.Equal(1, s.hasher.calls)

	row, ok := s.d.GetEntry("a.txt")
	s.Require().True(ok)
	s.Equal(s.hasher.sha, row.Tree[0].Fingerprint)
	wantPacked := mustPack(&s.Suite, dirstatefile.StatFromFileInfo(changed))
	s.Equal(string(wantPacked), row.Tree[0].PackedOrRevID)

	// The stored stat now matches, so the next scan is free.
	_, err = s.d.UpdateEntry("a.txt", "a.txt", changed)
	s.NoError(err)
	s.Equal(1, s.hasher.calls)
}

func (s *StatCacheSuite) TestFreshMtimeIsNeverCached() {
	fi := s.oldInfo("a.txt", 5)
	s.addFile("a.txt", fi, strings.Repeat("0", 40))

	fresh := fi
	fresh.mtime = s.now // mtime == now: inside the cutoff window
	sha, err := s.d.UpdateEntry("a.txt", "a.txt", fresh)
	s.NoError(err)
	s.Equal(s.hasher.sha, sha)
	s.Equal(1, s.hasher.calls)

	row, ok := s.d.GetEntry("a.txt")
	s.Require().True(ok)
	s.Equal("", row.Tree[0].Fingerprint)
	s.Equal(string(dirstatefile.NullStat), row.Tree[0].PackedOrRevID)

	// Not trusted next time either: the content is read again.
	_, err = s.d.UpdateEntry("a.txt", "a.txt", fresh)
	s.NoError(err)
	s.Equal(2, s.hasher.calls)
}

func (s *StatCacheSuite) TestObserveSHA1() {
	fi := s.oldInfo("a.txt", 5)
	s.addFile("a.txt", fi, "")

	sha := strings.Repeat("9", 40)
	s.NoError(s.d.ObserveSHA1("a.txt", sha, fi))
	row, ok := s.d.GetEntry("a.txt")
	s.Require().True(ok)
	s.Equal(sha, row.Tree[0].Fingerprint)

	// A fresh stat is refused: the observation is dropped on the floor.
	fresh := fi
	fresh.mtime = s.now
	other := strings.Repeat("8", 40)
	s.NoError(s.d.ObserveSHA1("a.txt", other, fresh))
	row, _ = s.d.GetEntry("a.txt")
	s.Equal(sha, row.Tree[0].Fingerprint)
}

func (s *StatCacheSuite) TestSymlinkTarget() {
	fi := s.oldInfo("ln", 11)
	fi.mode = os.ModeSymlink | 0o777
	packed := mustPack(&s.Suite, dirstatefile.StatFromFileInfo(s.oldInfo("ln", 0)))
	s.Require().NoError(s.d.Add("ln", "ln-id", dirstatefile.KindSymlink, 0, false, packed, "stale-target"))

	target, err := s.d.UpdateEntry("ln", "ln", fi)
	s.NoError(err)
	s.Equal("link-target", target)

	row, ok := s.d.GetEntry("ln")
	s.Require().True(ok)
	s.Equal("link-target", row.Tree[0].Fingerprint)
}

func (s *StatCacheSuite) TestBecomingDirectoryCreatesBlock() {
	fi := s.oldInfo("p", 5)
	s.addFile("p", fi, strings.Repeat("0", 40))

	dirInfo := fakeFileInfo{name: "p", mode: os.ModeDir | 0o755, mtime: fi.mtime}
	fingerprint, err := s.d.UpdateEntry("p", "p", dirInfo)
	s.NoError(err)
	s.Equal("", fingerprint)

	row, ok := s.d.GetEntry("p")
	s.Require().True(ok)
	s.Equal(dirstatefile.KindDirectory, row.Tree[0].Kind)
	s.Equal("", row.Tree[0].Fingerprint)

	found := false
	for _, b := range s.d.Blocks() {
		if b.Dirname == "p" {
			found = true
		}
	}
	s.True(found)
}
