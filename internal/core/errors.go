package core

import "errors"

var (
	// ErrTaskNotFound is returned when a task does not exist or is not
	// owned by the requesting user.
	ErrTaskNotFound = errors.New("scheduled task not found")

	// ErrTaskLocked is returned by on-demand runs when an unexpired lease
	// is held by another execution.
	ErrTaskLocked = errors.New("scheduled task is currently locked")

	// ErrLeaseHeld is returned by lease acquisition when the conditional
	// update matched no row: another worker holds the lease, or the task
	// is no longer due or enabled.
	ErrLeaseHeld = errors.New("lease not acquired")
)
