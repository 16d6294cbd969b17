package procflow

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Process is the handle for a spawned child process.
//
// It owns the bridge and the transport exclusively: closing the handle
// releases the transport's descriptors. The endpoints are created at
// spawn time and live for the process's lifetime.
type Process struct {
	// Stdin is the flow-controlled write endpoint, or nil when stdin
	// was not piped.
	Stdin *Writer

	// Stdout is the buffered read endpoint, or nil when stdout was not
	// piped.
	Stdout *Reader

	// Stderr is the buffered read endpoint, or nil when stderr was not
	// piped (or was redirected into Stdout).
	Stderr *Reader

	pid       int
	bridge    *bridge
	transport Transport

	closeOnce sync.Once
	closeErr  error
}

func newProcess(t Transport, b *bridge) *Process {
	return &Process{
		Stdin:     b.writer(),
		Stdout:    b.reader(fdStdout),
		Stderr:    b.reader(fdStderr),
		pid:       t.PID(),
		bridge:    b,
		transport: t,
	}
}

// PID returns the OS process id.
func (p *Process) PID() int {
	return p.pid
}

// Exited reports whether the exit broadcast has been observed.
func (p *Process) Exited() bool {
	return p.bridge.exit.exited()
}

// ExitCode returns the exit code, or -1 while the process is running.
// A process that died to a signal reports the negated signal number.
func (p *Process) ExitCode() int {
	code, ok := p.bridge.exit.exitCode()
	if !ok {
		return -1
	}
	return code
}

// ExitSignaled reports whether the process died to a signal, and which
// one. It returns false while the process is running or after a normal
// exit.
func (p *Process) ExitSignaled() (syscall.Signal, bool) {
	code, ok := p.bridge.exit.exitCode()
	if !ok || code >= 0 {
		return 0, false
	}
	return syscall.Signal(-code), true
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.bridge.exit.doneChan()
}

// Wait blocks until the process exits and returns its exit code. Once
// the process has exited it returns the cached code immediately; any
// number of concurrent Wait calls all observe the same code.
func (p *Process) Wait(ctx context.Context) (int, error) {
	return p.bridge.exit.wait(ctx)
}

// Communicate feeds input to stdin (writing, draining, then closing it),
// captures stdout and stderr to EOF, waits for the process to exit, and
// returns the two captured payloads.
//
// The three pipe operations run concurrently and are always joined: a
// failure on one pipe does not abort the other two, and the first
// failure is returned only after all three have finished. A read
// descriptor that was not piped contributes a nil payload; supplying
// input when stdin was not piped fails with ErrNoPipe.
func (p *Process) Communicate(ctx context.Context, input []byte) (stdout, stderr []byte, err error) {
	var g errgroup.Group

	if len(input) > 0 {
		g.Go(func() error {
			if p.Stdin == nil {
				return fmt.Errorf("write stdin: %w", ErrNoPipe)
			}
			return p.feedStdin(ctx, input)
		})
	}
	if p.Stdout != nil {
		g.Go(func() error {
			var rerr error
			stdout, rerr = p.readStream(ctx, fdStdout, p.Stdout)
			return rerr
		})
	}
	if p.Stderr != nil {
		g.Go(func() error {
			var rerr error
			stderr, rerr = p.readStream(ctx, fdStderr, p.Stderr)
			return rerr
		})
	}

	joinErr := g.Wait()

	if _, werr := p.Wait(ctx); werr != nil && joinErr == nil {
		joinErr = werr
	}
	return stdout, stderr, joinErr
}

// feedStdin writes input, waits out backpressure, then closes stdin so
// the child sees EOF.
func (p *Process) feedStdin(ctx context.Context, input []byte) error {
	if err := p.Stdin.Write(input); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	if err := p.Stdin.Drain(ctx); err != nil {
		return fmt.Errorf("drain stdin: %w", err)
	}
	return p.Stdin.Close()
}

// readStream captures a read endpoint to EOF, then releases the
// underlying pipe descriptor.
func (p *Process) readStream(ctx context.Context, fd int, r *Reader) ([]byte, error) {
	out, err := r.ReadToEnd(ctx)
	if pipe := p.transport.Pipe(fd); pipe != nil {
		_ = pipe.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("read fd %d: %w", fd, err)
	}
	return out, nil
}

// Signal sends sig to the process. It fails with ErrProcessGone once the
// process has exited, without touching the transport.
func (p *Process) Signal(sig os.Signal) error {
	if p.Exited() {
		return ErrProcessGone
	}
	return p.transport.Signal(sig)
}

// Terminate sends SIGTERM to the process.
func (p *Process) Terminate() error {
	if p.Exited() {
		return ErrProcessGone
	}
	return p.transport.Terminate()
}

// Kill sends SIGKILL to the process.
func (p *Process) Kill() error {
	if p.Exited() {
		return ErrProcessGone
	}
	return p.transport.Kill()
}

// Interrupt sends SIGINT to the process.
func (p *Process) Interrupt() error {
	return p.Signal(syscall.SIGINT)
}

// Close releases the transport's resources. It is safe to call any
// number of times; repeats are no-ops.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		// Transport first: tearing down the pipe ends unblocks a stdin
		// pump stuck against a child that stopped reading.
		p.closeErr = p.transport.Close()
		if p.Stdin != nil {
			_ = p.Stdin.Close()
		}
	})
	return p.closeErr
}
