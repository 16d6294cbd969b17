package procflow

import (
	"context"
	"fmt"
	"os"
)

// Option configures a spawn.
type Option func(*LaunchSpec)

// WithStdin selects the wiring of the child's stdin.
func WithStdin(mode PipeMode) Option {
	return func(s *LaunchSpec) { s.Stdin = mode }
}

// WithStdout selects the wiring of the child's stdout.
func WithStdout(mode PipeMode) Option {
	return func(s *LaunchSpec) { s.Stdout = mode }
}

// WithStderr selects the wiring of the child's stderr. ModeStdout
// redirects stderr into the stdout pipe.
func WithStderr(mode PipeMode) Option {
	return func(s *LaunchSpec) { s.Stderr = mode }
}

// WithStdinFile attaches stdin to an explicit descriptor.
func WithStdinFile(f *os.File) Option {
	return func(s *LaunchSpec) {
		s.Stdin = ModeFile
		s.StdinFile = f
	}
}

// WithStdoutFile attaches stdout to an explicit descriptor.
func WithStdoutFile(f *os.File) Option {
	return func(s *LaunchSpec) {
		s.Stdout = ModeFile
		s.StdoutFile = f
	}
}

// WithStderrFile attaches stderr to an explicit descriptor.
func WithStderrFile(f *os.File) Option {
	return func(s *LaunchSpec) {
		s.Stderr = ModeFile
		s.StderrFile = f
	}
}

// WithDir sets the child's working directory.
func WithDir(dir string) Option {
	return func(s *LaunchSpec) { s.Dir = dir }
}

// WithEnv sets the child's environment. Nil inherits the parent's.
func WithEnv(env []string) Option {
	return func(s *LaunchSpec) { s.Env = env }
}

// WithBufferLimit sets the stdin writer's high-water mark in bytes.
func WithBufferLimit(n int) Option {
	return func(s *LaunchSpec) { s.BufferLimit = n }
}

// WithShellPath overrides the shell used by SpawnShell.
func WithShellPath(path string) Option {
	return func(s *LaunchSpec) { s.ShellPath = path }
}

// WithLauncher replaces the default os/exec launcher. Used by tests and
// by integrations that provide their own transport.
func WithLauncher(l Launcher) Option {
	return func(s *LaunchSpec) {
		s.launcher = l
	}
}

// SpawnExec starts program with args and returns its handle once the
// transport is attached and the endpoints exist.
func SpawnExec(ctx context.Context, program string, args []string, opts ...Option) (*Process, error) {
	spec := &LaunchSpec{Program: program, Args: args}
	return spawn(ctx, spec, opts)
}

// SpawnShell runs commandLine through the shell (/bin/sh -c by default)
// and returns its handle.
func SpawnShell(ctx context.Context, commandLine string, opts ...Option) (*Process, error) {
	spec := &LaunchSpec{Shell: commandLine}
	return spawn(ctx, spec, opts)
}

func spawn(ctx context.Context, spec *LaunchSpec, opts []Option) (*Process, error) {
	for _, opt := range opts {
		opt(spec)
	}
	launcher := spec.launcher
	if launcher == nil {
		launcher = defaultLauncher
	}

	b := newBridge(spec.BufferLimit)
	t, err := launcher.Launch(ctx, spec, b)
	if err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}

	// The handle is returned only once the bridge has built the
	// endpoints for every requested pipe.
	select {
	case <-b.ready:
	case <-ctx.Done():
		_ = t.Kill()
		_ = t.Close()
		return nil, ctx.Err()
	}

	return newProcess(t, b), nil
}
