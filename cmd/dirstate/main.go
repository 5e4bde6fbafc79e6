// The dirstate command is a diagnostic front-end for dirstate files: dump
// rows, verify a file, look paths up with the partial reader, and show
// working-tree changes.
package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

const bin = "dirstate"

func main() {
	parser := flags.NewNamedParser(bin, flags.Default)

	parser.AddCommand("init", "Create a new dirstate file.",
		"Writes a minimal dirstate file containing only the tree root.",
		&CmdInit{}) // nolint: errcheck
	parser.AddCommand("dump", "Print every row of a dirstate file.",
		"Decodes the whole file, verifying the CRC, and prints each row's key and tree columns.",
		&CmdDump{}) // nolint: errcheck
	parser.AddCommand("check", "Verify a dirstate file.",
		"Decodes the whole file and checks every structural invariant over it.",
		&CmdCheck{}) // nolint: errcheck
	parser.AddCommand("bisect", "Look up paths with the partial reader.",
		"Locates the given paths by seeking in the file, without decoding every row, and prints what it finds.",
		&CmdBisect{}) // nolint: errcheck
	parser.AddCommand("status", "Show changes against the first parent tree.",
		"Walks the dirstate and the working tree together and prints one line per difference.",
		&CmdStatus{}) // nolint: errcheck

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
