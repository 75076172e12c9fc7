package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateJob is returned by Add when the monitor already has a job.
	ErrDuplicateJob = errors.New("job already scheduled")
	// ErrCheckInFlight is returned by TriggerNow while a check of the same
	// monitor is running.
	ErrCheckInFlight = errors.New("check already in flight")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("scheduler stopped")
)

// InternalError reports an inconsistency in the job table. It affects only
// the job it names.
type InternalError struct {
	MonitorID int64
	Op        string
	Err       error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("scheduler %s monitor %d: %v", e.Op, e.MonitorID, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
