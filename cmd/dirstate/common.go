package main

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/glasser/dirstate"
	"github.com/glasser/dirstate/internal/pathutil"
	"github.com/glasser/dirstate/storage/dirlock"
	"github.com/glasser/dirstate/utils/ioutil"
)

// stateFileArgs is the positional argument shared by the file-oriented
// commands.
type stateFileArgs struct {
	Args struct {
		File string `positional-arg-name:"dirstate-file" required:"yes"`
	} `positional-args:"yes"`
}

// open builds a DirState over the named file, its filesystem rooted at
// the file's directory.
func (a *stateFileArgs) open() (*dirstate.DirState, error) {
	expanded, err := pathutil.ReplaceTildeWithHome(a.Args.File)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, err
	}
	dir, base := filepath.Split(abs)
	fs := osfs.New(dir)
	locker := dirlock.New(fs)

	return dirstate.New(dirstate.Options{
		Path:     base,
		Lock:     locker,
		File:     locker,
		Hasher:   &treeHasher{fs: fs},
		Readlink: fs.Readlink,
	}), nil
}

// treeHasher hashes file content through a billy filesystem, so the same
// code serves the OS disk and test filesystems.
type treeHasher struct {
	fs billy.Filesystem
}

func (h *treeHasher) SHA1File(path string) (fingerprint string, err error) {
	f, err := h.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer ioutil.CheckClose(f, &err)

	hash := sha1.New()
	if _, err := ioutil.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
