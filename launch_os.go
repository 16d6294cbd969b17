package procflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// defaultShell runs SpawnShell command lines when no override is given.
const defaultShell = "/bin/sh"

// defaultLauncher is the os/exec-backed spawn collaborator.
var defaultLauncher Launcher = osLauncher{}

type osLauncher struct{}

// Launch creates the child with manually constructed os.Pipe pairs,
// installs sink, and starts the pump goroutines. Ready is delivered
// before any other event.
func (osLauncher) Launch(ctx context.Context, spec *LaunchSpec, sink EventSink) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cmd *exec.Cmd
	if spec.Shell != "" {
		shell := spec.ShellPath
		if shell == "" {
			shell = defaultShell
		}
		cmd = exec.Command(shell, "-c", spec.Shell)
	} else {
		cmd = exec.Command(spec.Program, spec.Args...)
	}
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	t := &osTransport{
		cmd:   cmd,
		sink:  sink,
		pipes: make(map[int]*pipeEnd),
	}

	// childEnds are descriptors that belong to the child; the parent
	// closes its copies once the process has started. cleanup undoes
	// everything if any step fails before Start succeeds.
	var childEnds []*os.File
	var parentEnds []*os.File
	cleanup := func() {
		for _, f := range childEnds {
			_ = f.Close()
		}
		for _, f := range parentEnds {
			_ = f.Close()
		}
	}

	switch spec.Stdin {
	case ModePipe:
		r, w, err := os.Pipe()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		cmd.Stdin = r
		childEnds = append(childEnds, r)
		parentEnds = append(parentEnds, w)
		t.pipes[fdStdin] = &pipeEnd{f: w}
	case ModeInherit:
		cmd.Stdin = os.Stdin
	case ModeDiscard:
		null, err := os.Open(os.DevNull)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
		}
		cmd.Stdin = null
		childEnds = append(childEnds, null)
	case ModeFile:
		cmd.Stdin = spec.StdinFile
	case ModeStdout:
		cleanup()
		return nil, fmt.Errorf("stdin: %s mode is only valid for stderr", ModeStdout)
	}

	var stdoutWrite *os.File
	switch spec.Stdout {
	case ModePipe:
		r, w, err := os.Pipe()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		cmd.Stdout = w
		stdoutWrite = w
		childEnds = append(childEnds, w)
		parentEnds = append(parentEnds, r)
		t.pipes[fdStdout] = &pipeEnd{f: r}
	case ModeInherit:
		cmd.Stdout = os.Stdout
	case ModeDiscard:
		null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
		}
		cmd.Stdout = null
		childEnds = append(childEnds, null)
	case ModeFile:
		cmd.Stdout = spec.StdoutFile
	case ModeStdout:
		cleanup()
		return nil, fmt.Errorf("stdout: %s mode is only valid for stderr", ModeStdout)
	}

	switch spec.Stderr {
	case ModePipe:
		r, w, err := os.Pipe()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}
		cmd.Stderr = w
		childEnds = append(childEnds, w)
		parentEnds = append(parentEnds, r)
		t.pipes[fdStderr] = &pipeEnd{f: r}
	case ModeStdout:
		if stdoutWrite == nil {
			cleanup()
			return nil, fmt.Errorf("stderr: %s mode requires a piped stdout", ModeStdout)
		}
		cmd.Stderr = stdoutWrite
	case ModeInherit:
		cmd.Stderr = os.Stderr
	case ModeDiscard:
		null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
		}
		cmd.Stderr = null
		childEnds = append(childEnds, null)
	case ModeFile:
		cmd.Stderr = spec.StderrFile
	}

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	// The child holds its own copies now.
	for _, f := range childEnds {
		_ = f.Close()
	}

	sink.Ready(t)

	for _, fd := range []int{fdStdout, fdStderr} {
		if p, ok := t.pipes[fd]; ok {
			go t.readPump(fd, p)
		}
	}
	go t.waitLoop()

	return t, nil
}

// pipeEnd is the parent-side end of a child pipe. Close is idempotent.
type pipeEnd struct {
	f    *os.File
	once sync.Once
	err  error
}

func (p *pipeEnd) Write(b []byte) (int, error) {
	return p.f.Write(b)
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { p.err = p.f.Close() })
	return p.err
}

// osTransport is the live process object behind the default launcher.
type osTransport struct {
	cmd   *exec.Cmd
	sink  EventSink
	pipes map[int]*pipeEnd

	mu       sync.Mutex
	exitCode int
	exited   bool
	closed   bool
}

func (t *osTransport) PID() int {
	if t.cmd.Process == nil {
		return -1
	}
	return t.cmd.Process.Pid
}

func (t *osTransport) ExitCode() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode, t.exited
}

func (t *osTransport) Pipe(fd int) Pipe {
	p, ok := t.pipes[fd]
	if !ok {
		return nil
	}
	return p
}

func (t *osTransport) Signal(sig os.Signal) error {
	if t.cmd.Process == nil {
		return ErrProcessNotStarted
	}
	return t.cmd.Process.Signal(sig)
}

func (t *osTransport) Terminate() error {
	return t.Signal(syscall.SIGTERM)
}

func (t *osTransport) Kill() error {
	return t.Signal(syscall.SIGKILL)
}

// Close releases the parent-side pipe ends. A process that is still
// running is terminated, matching the handle teardown contract.
func (t *osTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	exited := t.exited
	t.mu.Unlock()

	for _, p := range t.pipes {
		_ = p.Close()
	}
	if !exited {
		_ = t.Terminate()
	}
	return nil
}

// readPump drains one read pipe into the sink. A closed or torn-down
// pipe is reported as a clean EOF; everything else carries the error.
func (t *osTransport) readPump(fd int, p *pipeEnd) {
	buf := make([]byte, 32*1024)
	for {
		n, err := p.f.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			t.sink.PipeData(fd, data)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, fs.ErrClosed) {
				t.sink.PipeClosed(fd, nil)
			} else {
				t.sink.PipeClosed(fd, err)
			}
			return
		}
	}
}

// waitLoop reaps the child, derives the exit code and fires the exit
// event. A signal death reports the negated signal number.
func (t *osTransport) waitLoop() {
	err := t.cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				code = -int(status.Signal())
			}
		} else {
			code = -1
		}
	}

	t.mu.Lock()
	t.exitCode = code
	t.exited = true
	t.mu.Unlock()

	// stdout/stderr teardown is not ordered against this event; callers
	// needing full capture drain the readers instead of racing them.
	t.sink.ProcessExited()

	if w, ok := t.pipes[fdStdin]; ok {
		_ = w.Close()
		t.sink.PipeClosed(fdStdin, nil)
	}
}
