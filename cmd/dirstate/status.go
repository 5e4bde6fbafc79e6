package main

import (
	"fmt"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/glasser/dirstate"
	"github.com/glasser/dirstate/internal/pathutil"
	"github.com/glasser/dirstate/storage/dirlock"
)

type CmdStatus struct {
	StateFile string `long:"state" default:".dirstate" description:"dirstate file name, relative to the tree root"`
	Unknown   bool   `short:"u" long:"unknown" description:"also list unversioned files"`

	Args struct {
		Tree string `positional-arg-name:"tree-root" required:"yes"`
	} `positional-args:"yes"`
}

func (c *CmdStatus) Execute(args []string) error {
	root, err := pathutil.ReplaceTildeWithHome(c.Args.Tree)
	if err != nil {
		return err
	}
	fs := osfs.New(root)
	locker := dirlock.New(fs)

	d := dirstate.New(dirstate.Options{
		Path:     c.StateFile,
		Lock:     locker,
		File:     locker,
		Hasher:   &treeHasher{fs: fs},
		Readlink: fs.Readlink,
	})
	if err := d.LockRead(); err != nil {
		return err
	}
	defer d.Unlock() // nolint: errcheck

	if err := d.Load(); err != nil {
		return err
	}

	source := 0
	if d.NumParents() > 0 {
		source = 1
	}

	it, err := d.Changes(dirstate.ChangeOptions{
		Source:          source,
		FS:              fs,
		Prune:           []string{c.StateFile},
		WantUnversioned: c.Unknown,
	})
	if err != nil {
		return err
	}

	for {
		ch, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		fmt.Println(statusLine(ch))
	}

	// Persist any fingerprints refreshed during the walk. Save promotes
	// the read lock if it can and quietly stands down if it cannot.
	return d.Save()
}

func statusLine(c dirstate.Change) string {
	switch {
	case !c.OldVersioned && !c.NewVersioned:
		return "?  " + c.NewPath
	case !c.OldVersioned:
		return "A  " + c.NewPath
	case !c.NewVersioned:
		return "D  " + c.OldPath
	case c.OldPath != c.NewPath:
		return fmt.Sprintf("R  %s => %s", c.OldPath, c.NewPath)
	case c.NewKind == 0:
		return "!  " + c.OldPath
	default:
		return "M  " + c.NewPath
	}
}
