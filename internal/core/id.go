package core

import (
	"github.com/google/uuid"
)

// NewID returns a random identifier for tasks and runs.
func NewID() string {
	return uuid.NewString()
}

// NewWorkerID returns the process-scoped lease-holder token. Generated once
// at startup and attached to every lease this scheduler acquires.
func NewWorkerID() string {
	return "scheduler-" + uuid.NewString()
}
