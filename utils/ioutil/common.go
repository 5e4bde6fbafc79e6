// Package ioutil implements the small I/O helpers the dirstate needs
// around the standard library: pooled copying (sync.go) and deferred
// close-error capture.
package ioutil

import "io"

// CheckClose calls Close on the given io.Closer. If the given *error points to
// nil, it will be assigned the error returned by Close. Otherwise, any error
// returned by Close will be ignored. CheckClose is usually called with defer.
func CheckClose(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
