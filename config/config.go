// Package config decodes the optional [dirstate] section a host
// repository can place in its INI-style configuration file, covering the
// handful of engine tunables worth exposing.
package config

import (
	"io"

	"github.com/go-git/gcfg"

	"github.com/glasser/dirstate"
	"github.com/glasser/dirstate/plumbing/format/dirstatefile/bisect"
)

// Config holds the decoded [dirstate] section.
//
//	[dirstate]
//	    cutoff-skew = 3
//	    bisect-page-size = 4096
//	    bisect-safety-factor = 30
type Config struct {
	Dirstate struct {
		// CutoffSkew is the stat-cache cutoff distance in seconds.
		CutoffSkew int64 `gcfg:"cutoff-skew"`

		// BisectPageSize is the partial reader's initial window size in
		// bytes.
		BisectPageSize int64 `gcfg:"bisect-page-size"`

		// BisectSafetyFactor bounds partial-reader iterations per search
		// target.
		BisectSafetyFactor int `gcfg:"bisect-safety-factor"`
	}
}

// Default returns a Config carrying the engine defaults.
func Default() *Config {
	c := &Config{}
	c.Dirstate.CutoffSkew = dirstate.DefaultCutoffSkew
	c.Dirstate.BisectPageSize = bisect.DefaultInitialPageSize
	c.Dirstate.BisectSafetyFactor = bisect.DefaultSafetyFactor
	return c
}

// Decode reads a config file from r, layering it over the defaults.
// Sections other than [dirstate] are ignored, so the same file can carry
// the host's own configuration.
func Decode(r io.Reader) (*Config, error) {
	c := Default()
	if err := gcfg.FatalOnly(gcfg.ReadInto(c, r)); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyTo copies the tunables onto a dirstate option set.
func (c *Config) ApplyTo(o *dirstate.Options) {
	o.CutoffSkew = c.Dirstate.CutoffSkew
	o.BisectPageSize = c.Dirstate.BisectPageSize
	o.BisectSafetyFactor = c.Dirstate.BisectSafetyFactor
}
