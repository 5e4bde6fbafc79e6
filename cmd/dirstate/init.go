package main

import (
	"fmt"

	"github.com/glasser/dirstate"
)

type CmdInit struct {
	RootID string `long:"root-id" description:"file-id for the tree root; generated when empty"`

	stateFileArgs
}

func (c *CmdInit) Execute(args []string) error {
	d, err := c.open()
	if err != nil {
		return err
	}

	rootID := c.RootID
	if rootID == "" {
		rootID = dirstate.GenerateFileID("tree-root")
	}
	if err := d.Create(rootID); err != nil {
		return err
	}

	fmt.Printf("created %s (root id %s)\n", c.Args.File, rootID)
	return nil
}
