package ptyrun

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

	"github.com/creack/pty"

	"github.com/dshills/procflow"
)

// Session is a process handle attached to a pseudo-terminal.
//
// The child's stdin, stdout and stderr all share the terminal: input
// goes through the Stdin endpoint, combined output arrives on the
// Stdout endpoint, and Stderr is nil. Closing the Stdin endpoint closes
// the terminal itself, which the child observes as hangup.
type Session struct {
	*procflow.Process

	master *os.File
}

// Resize changes the terminal size.
func (s *Session) Resize(cols, rows uint16) error {
	return pty.Setsize(s.master, &pty.Winsize{Rows: rows, Cols: cols})
}

// Option configures a Session.
type Option func(*launcher)

// WithSize sets the initial terminal size. The default is 80x24.
func WithSize(cols, rows uint16) Option {
	return func(l *launcher) {
		l.cols = cols
		l.rows = rows
	}
}

// WithDir sets the child's working directory.
func WithDir(dir string) Option {
	return func(l *launcher) {
		l.dir = dir
	}
}

// WithEnv sets the child's environment. Nil inherits the parent's.
func WithEnv(env []string) Option {
	return func(l *launcher) {
		l.env = env
	}
}

// Spawn starts program with args attached to a new pseudo-terminal.
// There are no pipe modes here: the terminal is the only wiring.
func Spawn(ctx context.Context, program string, args []string, opts ...Option) (*Session, error) {
	return spawn(ctx, &procflow.LaunchSpec{Program: program, Args: args}, opts)
}

// SpawnShell runs a shell command line attached to a new
// pseudo-terminal.
func SpawnShell(ctx context.Context, commandLine string, opts ...Option) (*Session, error) {
	return spawn(ctx, &procflow.LaunchSpec{Shell: commandLine}, opts)
}

func spawn(ctx context.Context, spec *procflow.LaunchSpec, opts []Option) (*Session, error) {
	l := &launcher{cols: 80, rows: 24}
	for _, opt := range opts {
		opt(l)
	}

	var proc *procflow.Process
	var err error
	if spec.Shell != "" {
		proc, err = procflow.SpawnShell(ctx, spec.Shell, procflow.WithLauncher(l))
	} else {
		proc, err = procflow.SpawnExec(ctx, spec.Program, spec.Args, procflow.WithLauncher(l))
	}
	if err != nil {
		return nil, err
	}
	return &Session{Process: proc, master: l.master}, nil
}

// launcher implements procflow.Launcher on top of creack/pty.
type launcher struct {
	cols, rows uint16
	dir        string
	env        []string
	master     *os.File
}

func (l *launcher) Launch(ctx context.Context, spec *procflow.LaunchSpec, sink procflow.EventSink) (procflow.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cmd *exec.Cmd
	if spec.Shell != "" {
		shell := spec.ShellPath
		if shell == "" {
			shell = "/bin/sh"
		}
		cmd = exec.Command(shell, "-c", spec.Shell)
	} else {
		cmd = exec.Command(spec.Program, spec.Args...)
	}
	cmd.Dir = l.dir
	cmd.Env = l.env

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: l.rows, Cols: l.cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}
	l.master = master

	t := &ptyTransport{
		cmd:    cmd,
		master: &masterEnd{f: master},
		sink:   sink,
	}

	sink.Ready(t)
	go t.readPump()
	go t.waitLoop()

	return t, nil
}

// masterEnd shares the PTY master between the stdin and stdout
// descriptors. Close is idempotent; the first close tears the terminal
// down for both directions.
type masterEnd struct {
	f    *os.File
	once sync.Once
	err  error
}

func (m *masterEnd) Write(b []byte) (int, error) {
	return m.f.Write(b)
}

func (m *masterEnd) Close() error {
	m.once.Do(func() { m.err = m.f.Close() })
	return m.err
}

// ptyTransport is the live process object behind a PTY session.
type ptyTransport struct {
	cmd    *exec.Cmd
	master *masterEnd
	sink   procflow.EventSink

	mu       sync.Mutex
	exitCode int
	exited   bool
	closed   bool
}

func (t *ptyTransport) PID() int {
	if t.cmd.Process == nil {
		return -1
	}
	return t.cmd.Process.Pid
}

func (t *ptyTransport) ExitCode() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode, t.exited
}

// Pipe exposes the master as both the stdin write end and the stdout
// read end. There is no separate stderr on a terminal.
func (t *ptyTransport) Pipe(fd int) procflow.Pipe {
	switch fd {
	case 0, 1:
		return t.master
	default:
		return nil
	}
}

func (t *ptyTransport) Signal(sig os.Signal) error {
	if t.cmd.Process == nil {
		return procflow.ErrProcessNotStarted
	}
	return t.cmd.Process.Signal(sig)
}

func (t *ptyTransport) Terminate() error {
	return t.Signal(syscall.SIGTERM)
}

func (t *ptyTransport) Kill() error {
	return t.Signal(syscall.SIGKILL)
}

func (t *ptyTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	exited := t.exited
	t.mu.Unlock()

	_ = t.master.Close()
	if !exited {
		_ = t.Terminate()
	}
	return nil
}

// readPump drains terminal output into the sink. A PTY master reads EIO
// once the child side hangs up; that is the terminal's EOF.
func (t *ptyTransport) readPump() {
	buf := make([]byte, 32*1024)
	for {
		n, err := t.master.f.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			t.sink.PipeData(1, data)
		}
		if err != nil {
			if isHangup(err) {
				t.sink.PipeClosed(1, nil)
			} else {
				t.sink.PipeClosed(1, err)
			}
			return
		}
	}
}

// isHangup reports the error conditions that mean the terminal is done
// rather than broken.
func isHangup(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, fs.ErrClosed)
}

func (t *ptyTransport) waitLoop() {
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

	t.sink.ProcessExited()
}
