package main

import (
	"fmt"

	"github.com/glasser/dirstate/plumbing/format/dirstatefile/bisect"
)

type CmdBisect struct {
	Recursive bool `short:"r" long:"recursive" description:"also return directory contents and follow relocations"`

	Args struct {
		File  string   `positional-arg-name:"dirstate-file" required:"yes"`
		Paths []string `positional-arg-name:"path" required:"yes"`
	} `positional-args:"yes"`
}

func (c *CmdBisect) Execute(args []string) error {
	fileArgs := stateFileArgs{}
	fileArgs.Args.File = c.Args.File
	d, err := fileArgs.open()
	if err != nil {
		return err
	}
	if err := d.LockRead(); err != nil {
		return err
	}
	defer d.Unlock() // nolint: errcheck

	var rows []bisect.Row
	if c.Recursive {
		rows, err = d.BisectRecursive(c.Args.Paths)
	} else {
		rows, err = d.BisectPaths(c.Args.Paths)
	}
	if err != nil {
		return err
	}

	for _, r := range rows {
		extra := ""
		if r.Col0Kind == 'r' {
			extra = " -> " + r.Col0Target
		}
		fmt.Printf("%s %c %s%s\n", r.Path(), r.Col0Kind, r.FileID, extra)
	}
	return nil
}
