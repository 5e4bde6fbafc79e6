package main

import (
	"fmt"
	"strings"

	"github.com/glasser/dirstate/plumbing/format/dirstatefile"
)

type CmdDump struct {
	Stats bool `long:"stats" description:"decode packed stats instead of printing them raw"`

	stateFileArgs
}

func (c *CmdDump) Execute(args []string) error {
	d, err := c.open()
	if err != nil {
		return err
	}
	if err := d.LockRead(); err != nil {
		return err
	}
	defer d.Unlock() // nolint: errcheck

	if err := d.Load(); err != nil {
		return err
	}

	fmt.Printf("parents: %s\n", strings.Join(d.Parents(), " "))
	fmt.Printf("ghosts:  %s\n", strings.Join(d.Ghosts(), " "))

	for _, row := range d.Rows() {
		fmt.Printf("%q %q %s\n", row.Key.Dirname, row.Key.Basename, row.Key.FileID)
		for i, td := range row.Tree {
			tail := td.PackedOrRevID
			if c.Stats && i == 0 && !dirstatefile.PackedStat(tail).IsNull() {
				if st, err := dirstatefile.Unpack(dirstatefile.PackedStat(tail)); err == nil {
					tail = fmt.Sprintf("size=%d mtime=%d ctime=%d dev=%d ino=%d mode=%o",
						st.Size, st.Mtime, st.Ctime, st.Dev, st.Ino, st.Mode)
				}
			}
			exec := "n"
			if td.Executable {
				exec = "y"
			}
			fmt.Printf("  tree %d: %c %q %d %s %s\n", i, td.Kind, td.Fingerprint, td.Size, exec, tail)
		}
	}
	return nil
}
