// Package volsync reconciles the local annotation model of a volume
// with the remote store: object creations, geometry updates, batched
// deletions, and tag adjustments, each persisted right after the remote
// confirms it.
package volsync

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a sync pass is requested while another
	// one is still running on the same session.
	ErrBusy = errors.New("sync already in progress")

	ErrIO = errors.New("io failure")
)

// IOError wraps a filesystem or persistence failure. IO failures abort
// the sync pass; operations already confirmed and persisted stand.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool {
	return target == ErrIO
}
