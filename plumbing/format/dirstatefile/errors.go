package dirstatefile

import (
	"errors"
	"fmt"
)

// ErrFormat is the sentinel all *FormatError values wrap, so callers can
// test with errors.Is(err, dirstatefile.ErrFormat) without caring about the
// specific reason.
var ErrFormat = errors.New("dirstate: invalid file format")

// FormatError reports a malformed dirstate file: a wrong header, a CRC
// mismatch, a missing crc32:/num_entries: line, a truncated record, or a
// field count that does not match the declared parent count. It is fatal
// for the DirState that encountered it; the file on disk is never modified
// as a result.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "dirstate: format error: " + e.Reason
}

func (e *FormatError) Unwrap() error {
	return ErrFormat
}

func formatErrorf(format string, args ...any) *FormatError {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// FormatErrorf builds a *FormatError for callers outside this package that
// read the format directly, like the header-only reader.
func FormatErrorf(format string, args ...any) *FormatError {
	return formatErrorf(format, args...)
}
