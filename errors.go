package dirstate

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds the engine distinguishes.
// Detail-carrying wrapper types below implement Unwrap so callers can use
// errors.Is against these without string matching.
var (
	ErrInconsistentDelta = errors.New("dirstate: inconsistent delta")
	ErrDuplicateFileID   = errors.New("dirstate: duplicate file-id")
	ErrNotVersioned      = errors.New("dirstate: not versioned")
	ErrInvalidEntryName  = errors.New("dirstate: invalid entry name")
	ErrLockContention    = errors.New("dirstate: lock contention")
	ErrLockNotHeld       = errors.New("dirstate: lock not held")
	ErrNotImplemented    = errors.New("dirstate: not implemented")
)

// InconsistentDeltaError reports a mutation that cannot be applied because
// the dirstate does not match the delta's assumptions. Once raised, the
// DirState's aborted flag is set and save becomes a no-op until Unlock.
type InconsistentDeltaError struct {
	Path   string
	FileID string
	Reason string
}

func (e *InconsistentDeltaError) Error() string {
	return fmt.Sprintf("dirstate: inconsistent delta at %q (file-id %q): %s", e.Path, e.FileID, e.Reason)
}

func (e *InconsistentDeltaError) Unwrap() error { return ErrInconsistentDelta }

// DuplicateFileIDError reports an add of a file-id already present
// elsewhere in the dirstate.
type DuplicateFileIDError struct {
	FileID       string
	ExistingPath string
}

func (e *DuplicateFileIDError) Error() string {
	return fmt.Sprintf("dirstate: file-id %q already present at %q", e.FileID, e.ExistingPath)
}

func (e *DuplicateFileIDError) Unwrap() error { return ErrDuplicateFileID }

// NotVersionedError reports an add whose parent directory is not itself
// versioned.
type NotVersionedError struct {
	Path string
}

func (e *NotVersionedError) Error() string {
	return fmt.Sprintf("dirstate: %q is not versioned", e.Path)
}

func (e *NotVersionedError) Unwrap() error { return ErrNotVersioned }

// InvalidEntryNameError reports an add of "." or ".." or a path whose
// normalization does not round-trip.
type InvalidEntryNameError struct {
	Path string
}

func (e *InvalidEntryNameError) Error() string {
	return fmt.Sprintf("dirstate: invalid entry name %q", e.Path)
}

func (e *InvalidEntryNameError) Unwrap() error { return ErrInvalidEntryName }
