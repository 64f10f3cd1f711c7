package syncer

import (
	"errors"
	"fmt"

	"github.com/roach88/invsync/internal/intent"
)

// ErrOffline is returned by ManualSync when the remote is unreachable.
var ErrOffline = errors.New("sync: offline")

// ErrBusy is returned by RetrySpecificItem when a pass is already running.
var ErrBusy = errors.New("sync: pass in progress")

// ErrRunning is returned by Start when the manager is already running.
var ErrRunning = errors.New("sync: already running")

// ReplayError describes a failed replay of one queued item.
type ReplayError struct {
	Kind   intent.Kind
	ItemID int64
	Step   string
	Err    error
}

func (e *ReplayError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("replay %s #%d: %v", e.Kind, e.ItemID, e.Err)
	}
	return fmt.Sprintf("replay %s #%d (%s): %v", e.Kind, e.ItemID, e.Step, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }
