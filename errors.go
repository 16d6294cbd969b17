package procflow

import "errors"

// Sentinel errors for the procflow package.
var (
	// ErrProcessGone is returned when a signal operation is attempted
	// after the process has exited.
	ErrProcessGone = errors.New("process has exited")

	// ErrProcessNotStarted is returned when operations require a live
	// transport that was never attached.
	ErrProcessNotStarted = errors.New("process not started")

	// ErrTimeout is returned by Run when the process did not exit
	// within the given deadline.
	ErrTimeout = errors.New("timed out waiting for process")

	// ErrDrainInProgress is returned when Drain is called while another
	// Drain on the same writer is still parked.
	ErrDrainInProgress = errors.New("drain already in progress")

	// ErrWriterClosed is returned when writing to a closed stdin endpoint.
	ErrWriterClosed = errors.New("writer is closed")

	// ErrNoPipe is returned when an operation needs a piped descriptor
	// that was not requested at spawn time.
	ErrNoPipe = errors.New("descriptor is not a pipe")
)
