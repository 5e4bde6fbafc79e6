package main

import "fmt"

type CmdCheck struct {
	stateFileArgs
}

func (c *CmdCheck) Execute(args []string) error {
	d, err := c.open()
	if err != nil {
		return err
	}
	if err := d.LockRead(); err != nil {
		return err
	}
	defer d.Unlock() // nolint: errcheck

	if err := d.Load(); err != nil {
		return fmt.Errorf("%s: %w", c.Args.File, err)
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%s: %w", c.Args.File, err)
	}

	fmt.Printf("%s: %d entries, ok\n", c.Args.File, len(d.Rows()))
	return nil
}
