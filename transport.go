package procflow

import (
	"context"
	"io"
	"os"
)

// PipeMode selects how a standard descriptor of the child is wired.
type PipeMode int

const (
	// ModeInherit leaves the descriptor attached to the parent's own
	// stdin/stdout/stderr.
	ModeInherit PipeMode = iota

	// ModePipe creates a pipe and exposes it as a Writer or Reader
	// endpoint on the process handle.
	ModePipe

	// ModeStdout redirects stderr into the same pipe as stdout.
	// Only valid for the stderr descriptor.
	ModeStdout

	// ModeDiscard connects the descriptor to the null device.
	ModeDiscard

	// ModeFile connects the descriptor to an explicit *os.File supplied
	// via WithStdinFile, WithStdoutFile or WithStderrFile.
	ModeFile
)

// String returns a human-readable mode name.
func (m PipeMode) String() string {
	switch m {
	case ModeInherit:
		return "inherit"
	case ModePipe:
		return "pipe"
	case ModeStdout:
		return "stdout"
	case ModeDiscard:
		return "discard"
	case ModeFile:
		return "file"
	default:
		return "unknown"
	}
}

// Standard descriptor numbers routed by the bridge.
const (
	fdStdin  = 0
	fdStdout = 1
	fdStderr = 2
)

// Pipe is one end of a child pipe owned by the transport. Closing it
// releases only that descriptor, never the process.
type Pipe interface {
	io.Closer
}

// Transport is the live OS-process object created by a Launcher. The
// bridge holds a non-owning reference to it for queries; ownership stays
// with the process handle.
type Transport interface {
	// PID returns the OS process id.
	PID() int

	// ExitCode returns the exit code and true once the process has
	// exited, or false while it is still running.
	ExitCode() (int, bool)

	// Pipe returns the pipe handle for descriptor fd, or nil if that
	// descriptor was not opened as a pipe.
	Pipe(fd int) Pipe

	// Signal sends sig to the process.
	Signal(sig os.Signal) error

	// Terminate sends SIGTERM to the process.
	Terminate() error

	// Kill sends SIGKILL to the process.
	Kill() error

	// Close releases the transport's descriptors. If the process is
	// still running it is terminated. Close is idempotent.
	Close() error
}

// EventSink receives demultiplexed process events from a transport.
//
// The launcher guarantees Ready is delivered before any other event, and
// ProcessExited is delivered at most once. Data and PipeClosed events for
// stdout/stderr carry no ordering guarantee relative to ProcessExited: a
// caller that needs complete output must drain the readers to EOF rather
// than rely on exit alone.
type EventSink interface {
	// Ready reports that the transport is attached and its pipes exist.
	Ready(t Transport)

	// PipeData delivers bytes read from descriptor fd.
	PipeData(fd int, data []byte)

	// PipeClosed reports that descriptor fd reached EOF (err == nil) or
	// failed (err != nil).
	PipeClosed(fd int, err error)

	// ProcessExited reports that the child has been reaped. The exit
	// code is read back from the transport.
	ProcessExited()
}

// Launcher is the spawn collaborator: it creates the OS process and its
// pipes, installs sink as the event sink, and returns the live transport.
type Launcher interface {
	Launch(ctx context.Context, spec *LaunchSpec, sink EventSink) (Transport, error)
}

// LaunchSpec describes the process a Launcher should create.
type LaunchSpec struct {
	// Program is the executable path or name. Empty when Shell is set.
	Program string

	// Args are the program arguments, excluding the program itself.
	Args []string

	// Shell, when non-empty, is a command line to be run by the shell
	// instead of Program/Args.
	Shell string

	// ShellPath is the shell executable used for Shell. Defaults to
	// /bin/sh.
	ShellPath string

	// Dir is the working directory. Empty means inherit.
	Dir string

	// Env is the environment. Nil means inherit.
	Env []string

	// Stdin, Stdout and Stderr select the wiring of each descriptor.
	Stdin  PipeMode
	Stdout PipeMode
	Stderr PipeMode

	// StdinFile, StdoutFile and StderrFile back ModeFile descriptors.
	StdinFile  *os.File
	StdoutFile *os.File
	StderrFile *os.File

	// BufferLimit is the writer high-water mark in bytes. Zero selects
	// DefaultBufferLimit.
	BufferLimit int

	// launcher overrides the default os/exec launcher when set via
	// WithLauncher.
	launcher Launcher
}
