package dirstate_test

import (
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/suite"

	"github.com/glasser/dirstate"
	"github.com/glasser/dirstate/plumbing/format/dirstatefile"
)

type ChangeSuite struct {
	suite.Suite
}

func TestChangeSuite(t *testing.T) {
	suite.Run(t, new(ChangeSuite))
}

// treeEnv builds a one-parent DirState whose working tree and basis agree:
// dir/, dir/a.txt, and b.txt, with the files materialized on the in-memory
// filesystem and their real fingerprints recorded.
func (s *ChangeSuite) treeEnv() *env {
	e := newEnv(&s.Suite)

	s.Require().NoError(util.WriteFile(e.fs, "b.txt", []byte("bbbb\n"), 0o644))
	s.Require().NoError(e.fs.MkdirAll("dir", 0o755))
	s.Require().NoError(util.WriteFile(e.fs, "dir/a.txt", []byte("aaa\n"), 0o644))

	hasher := &billyHasher{fs: e.fs}
	shaA, err := hasher.SHA1File("dir/a.txt")
	s.Require().NoError(err)
	shaB, err := hasher.SHA1File("b.txt")
	s.Require().NoError(err)

	s.Require().NoError(e.d.Add("b.txt", "b-id", dirstatefile.KindFile, 5, false, dirstatefile.NullStat, shaB))
	s.Require().NoError(e.d.Add("dir", "dir-id", dirstatefile.KindDirectory, 0, false, dirstatefile.NullStat, ""))
	s.Require().NoError(e.d.Add("dir/a.txt", "a-id", dirstatefile.KindFile, 4, false, dirstatefile.NullStat, shaA))

	inv := fakeInventory{
		{Path: "", FileID: "TREE_ROOT", Kind: 'd', Revision: "rev-1"},
		{Path: "b.txt", FileID: "b-id", Kind: 'f', Fingerprint: shaB, Size: 5, Revision: "rev-1"},
		{Path: "dir", FileID: "dir-id", Kind: 'd', Revision: "rev-1"},
		{Path: "dir/a.txt", FileID: "a-id", Kind: 'f', Fingerprint: shaA, Size: 4, Revision: "rev-1"},
	}
	s.Require().NoError(e.d.SetParentTrees([]dirstate.ParentTree{{RevisionID: "rev-1", Inventory: inv}}, nil))
	return e
}

func (e *env) changes(s *suite.Suite, opts dirstate.ChangeOptions) []dirstate.Change {
	opts.Source = 1
	opts.FS = e.fs
	opts.Prune = []string{stateFile}
	it, err := e.d.Changes(opts)
	s.Require().NoError(err)
	out, err := it.Collect()
	s.Require().NoError(err)
	return out
}

func (s *ChangeSuite) TestCleanTreeYieldsNothing() {
	e := s.treeEnv()
	s.Empty(e.changes(&s.Suite, dirstate.ChangeOptions{}))
}

func (s *ChangeSuite) TestIncludeUnchangedYieldsAll() {
	e := s.treeEnv()
	out := e.changes(&s.Suite, dirstate.ChangeOptions{IncludeUnchanged: true})

	var paths []string
	for _, c := range out {
		paths = append(paths, c.NewPath)
	}
	s.Equal([]string{"b.txt", "dir", "dir/a.txt"}, paths)
	for _, c := range out {
		s.False(c.ContentChanged, c.NewPath)
		s.True(c.OldVersioned)
		s.True(c.NewVersioned)
	}
}

func (s *ChangeSuite) TestModifiedContent() {
	e := s.treeEnv()
	s.Require().NoError(util.WriteFile(e.fs, "b.txt", []byte("BBBBBB\n"), 0o644))

	out := e.changes(&s.Suite, dirstate.ChangeOptions{})
	s.Require().Len(out, 1)
	s.Equal("b.txt", out[0].NewPath)
	s.True(out[0].ContentChanged)
	s.Equal(dirstatefile.KindFile, out[0].OldKind)
	s.Equal(dirstatefile.KindFile, out[0].NewKind)
}

func (s *ChangeSuite) TestModifiedContentSameSize() {
	e := s.treeEnv()
	// Same length as "aaa\n" so only the fingerprint can tell.
	s.Require().NoError(util.WriteFile(e.fs, "dir/a.txt", []byte("zzz\n"), 0o644))

	out := e.changes(&s.Suite, dirstate.ChangeOptions{})
	s.Require().Len(out, 1)
	s.Equal("dir/a.txt", out[0].NewPath)
	s.True(out[0].ContentChanged)
}

func (s *ChangeSuite) TestRemovedEntryReportsDelete() {
	e := s.treeEnv()
	s.Require().NoError(e.d.Remove("dir/a.txt"))

	out := e.changes(&s.Suite, dirstate.ChangeOptions{})
	s.Require().Len(out, 1)
	s.Equal("dir/a.txt", out[0].OldPath)
	s.True(out[0].OldVersioned)
	s.False(out[0].NewVersioned)
	s.Equal(dirstatefile.KindFile, out[0].OldKind)
}

func (s *ChangeSuite) TestMissingOnDisk() {
	e := s.treeEnv()
	s.Require().NoError(e.fs.Remove("b.txt"))

	out := e.changes(&s.Suite, dirstate.ChangeOptions{})
	s.Require().Len(out, 1)
	s.Equal("b.txt", out[0].NewPath)
	s.True(out[0].NewVersioned)
	s.True(out[0].ContentChanged)
	s.Equal(dirstatefile.MiniKind(0), out[0].NewKind)
}

func (s *ChangeSuite) TestUnversionedFile() {
	e := s.treeEnv()
	s.Require().NoError(util.WriteFile(e.fs, "stray.txt", []byte("x"), 0o644))
	s.Require().NoError(util.WriteFile(e.fs, "ignored.tmp", []byte("x"), 0o644))

	out := e.changes(&s.Suite, dirstate.ChangeOptions{
		WantUnversioned: true,
		Ignore: func(path string) bool {
			return strings.HasSuffix(path, ".tmp")
		},
	})
	s.Require().Len(out, 1)
	s.Equal("stray.txt", out[0].NewPath)
	s.False(out[0].OldVersioned)
	s.False(out[0].NewVersioned)
	s.Equal(dirstatefile.KindFile, out[0].NewKind)
}

func (s *ChangeSuite) TestUnversionedDirectoryNotDescended() {
	e := s.treeEnv()
	s.Require().NoError(e.fs.MkdirAll("stray", 0o755))
	s.Require().NoError(util.WriteFile(e.fs, "stray/inner.txt", []byte("x"), 0o644))

	out := e.changes(&s.Suite, dirstate.ChangeOptions{WantUnversioned: true})
	s.Require().Len(out, 1)
	s.Equal("stray", out[0].NewPath)
	s.Equal(dirstatefile.KindDirectory, out[0].NewKind)
}

func (s *ChangeSuite) TestUnversionedSkippedWithoutFlag() {
	e := s.treeEnv()
	s.Require().NoError(util.WriteFile(e.fs, "stray.txt", []byte("x"), 0o644))
	s.Empty(e.changes(&s.Suite, dirstate.ChangeOptions{}))
}

func (s *ChangeSuite) TestRenameFollowsRelocation() {
	e := s.treeEnv()
	s.Require().NoError(e.fs.Rename("b.txt", "c.txt"))
	s.Require().NoError(e.d.UpdateByDelta([]dirstate.DeltaItem{{
		OldPath: strptr("b.txt"),
		NewPath: strptr("c.txt"),
		FileID:  "b-id",
		Entry:   &dirstate.InventoryEntry{FileID: "b-id", Kind: 'f', Fingerprint: strings.Repeat("0", 40), Size: 5},
	}}))

	out := e.changes(&s.Suite, dirstate.ChangeOptions{})
	s.Require().Len(out, 1)
	s.Equal("b.txt", out[0].OldPath)
	s.Equal("c.txt", out[0].NewPath)
	s.Equal("b-id", out[0].FileID)
	s.Equal("b.txt", out[0].OldName)
	s.Equal("c.txt", out[0].NewName)
}

func (s *ChangeSuite) TestAddedFile() {
	e := s.treeEnv()
	s.Require().NoError(util.WriteFile(e.fs, "dir/new.txt", []byte("n"), 0o644))
	s.Require().NoError(e.d.Add("dir/new.txt", "new-id", dirstatefile.KindFile, 1, false, dirstatefile.NullStat, ""))

	out := e.changes(&s.Suite, dirstate.ChangeOptions{})
	s.Require().Len(out, 1)
	s.Equal("dir/new.txt", out[0].NewPath)
	s.False(out[0].OldVersioned)
	s.True(out[0].NewVersioned)
	s.Equal("dir-id", out[0].NewParentID)
}

func (s *ChangeSuite) TestEmptySourceReportsEverythingAdded() {
	e := newEnv(&s.Suite)
	s.Require().NoError(util.WriteFile(e.fs, "f.txt", []byte("f"), 0o644))
	s.Require().NoError(e.d.Add("f.txt", "f-id", dirstatefile.KindFile, 1, false, dirstatefile.NullStat, ""))

	it, err := e.d.Changes(dirstate.ChangeOptions{Source: 0, FS: e.fs, Prune: []string{stateFile}})
	s.Require().NoError(err)
	out, err := it.Collect()
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Equal("f.txt", out[0].NewPath)
	s.False(out[0].OldVersioned)
}

func (s *ChangeSuite) TestRootScopedIteration() {
	e := s.treeEnv()
	s.Require().NoError(util.WriteFile(e.fs, "b.txt", []byte("changed!\n"), 0o644))
	s.Require().NoError(util.WriteFile(e.fs, "dir/a.txt", []byte("changed!!\n"), 0o644))

	out := e.changes(&s.Suite, dirstate.ChangeOptions{Roots: []string{"dir"}})
	s.Require().Len(out, 1)
	s.Equal("dir/a.txt", out[0].NewPath)
}
