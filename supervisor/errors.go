package supervisor

import "errors"

// Sentinel errors for the supervisor package.
var (
	// ErrProcessNotFound is returned when a process ID is not tracked.
	ErrProcessNotFound = errors.New("process not found")

	// ErrSupervisorShutdown is returned when starting a process on a
	// supervisor that is shutting down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")
)
