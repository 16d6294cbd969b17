package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/procflow"
)

// Managed is a supervised process: a procflow handle plus tracking
// metadata.
type Managed struct {
	// ID is the unique identifier for this process.
	ID string

	// Name is a human-readable name for the process.
	Name string

	// Proc is the underlying process handle.
	Proc *procflow.Process

	// Started is the time the process was spawned.
	Started time.Time
}

// Runtime returns how long the process has been running, or its total
// runtime once exited.
func (m *Managed) Runtime() time.Duration {
	if m.Started.IsZero() {
		return 0
	}
	return time.Since(m.Started)
}

// Supervisor spawns and tracks child processes with lifecycle cleanup.
//
// The Supervisor provides:
//   - Spawn and tracking by unique ID
//   - Signal forwarding to tracked processes
//   - Graceful shutdown with timeout
//   - Exit observation and resource cleanup
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Managed

	// shutdown signals that the supervisor is shutting down
	shutdown chan struct{}

	// closed indicates the supervisor has been shut down
	closed atomic.Bool

	// wg tracks exit-monitor goroutines
	wg sync.WaitGroup

	// maxProcesses limits the number of concurrent processes (0 = unlimited)
	maxProcesses int

	// onExit is called when a process exits
	onExit func(m *Managed)

	log *zap.Logger
}

// Option configures a Supervisor instance.
type Option func(*Supervisor)

// WithMaxProcesses sets the maximum number of concurrent processes.
// A value of 0 (default) means unlimited.
func WithMaxProcesses(max int) Option {
	return func(s *Supervisor) {
		s.maxProcesses = max
	}
}

// WithExitCallback sets a callback invoked when a tracked process exits.
func WithExitCallback(fn func(m *Managed)) Option {
	return func(s *Supervisor) {
		s.onExit = fn
	}
}

// WithLogger sets the structured logger. The default discards logs.
func WithLogger(log *zap.Logger) Option {
	return func(s *Supervisor) {
		s.log = log
	}
}

// New creates a new process supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Managed),
		shutdown:  make(chan struct{}),
		log:       zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start spawns a new managed process running program with args.
//
// The process is tracked until it exits and will be terminated on
// shutdown. Returns ErrSupervisorShutdown if the supervisor is shutting
// down.
func (s *Supervisor) Start(ctx context.Context, name, program string, args []string, opts ...procflow.Option) (*Managed, error) {
	return s.StartWithID(ctx, uuid.New().String(), name, program, args, opts...)
}

// StartWithID spawns a new managed process with a specific ID.
//
// This is useful when the caller needs to control the ID, for example
// when restoring state or for deterministic testing.
func (s *Supervisor) StartWithID(ctx context.Context, id, name, program string, args []string, opts ...procflow.Option) (*Managed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check shutdown state under lock to prevent a start racing Shutdown
	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}

	if s.maxProcesses > 0 && len(s.processes) >= s.maxProcesses {
		return nil, fmt.Errorf("process limit reached: %d", s.maxProcesses)
	}

	if _, exists := s.processes[id]; exists {
		return nil, fmt.Errorf("process ID already exists: %s", id)
	}

	proc, err := procflow.SpawnExec(ctx, program, args, opts...)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	m := &Managed{
		ID:      id,
		Name:    name,
		Proc:    proc,
		Started: time.Now(),
	}
	s.processes[id] = m

	s.log.Info("process started",
		zap.String("id", id),
		zap.String("name", name),
		zap.Int("pid", proc.PID()),
	)

	s.wg.Add(1)
	go s.monitor(m)

	return m, nil
}

// monitor watches for process exit and cleans up.
func (s *Supervisor) monitor(m *Managed) {
	defer s.wg.Done()

	<-m.Proc.Done()

	s.log.Info("process exited",
		zap.String("id", m.ID),
		zap.String("name", m.Name),
		zap.Int("exit_code", m.Proc.ExitCode()),
	)

	// Callback errors must not take down the supervisor
	if s.onExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("exit callback panicked", zap.Any("panic", r))
				}
			}()
			s.onExit(m)
		}()
	}

	_ = m.Proc.Close()

	s.mu.Lock()
	delete(s.processes, m.ID)
	s.mu.Unlock()
}

// Get returns a process by ID, or nil if it is not tracked.
func (s *Supervisor) Get(id string) *Managed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// GetByName returns the processes matching name. Multiple processes can
// share a name.
func (s *Supervisor) GetByName(name string) []*Managed {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Managed
	for _, m := range s.processes {
		if m.Name == name {
			result = append(result, m)
		}
	}
	return result
}

// List returns all tracked processes.
func (s *Supervisor) List() []*Managed {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Managed, 0, len(s.processes))
	for _, m := range s.processes {
		result = append(result, m)
	}
	return result
}

// Count returns the number of tracked processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Signal sends a signal to a process by ID.
// Returns ErrProcessNotFound if the process is not tracked.
func (s *Supervisor) Signal(id string, sig os.Signal) error {
	m := s.Get(id)
	if m == nil {
		return ErrProcessNotFound
	}
	err := m.Proc.Signal(sig)
	if errors.Is(err, procflow.ErrProcessGone) {
		return nil // already exited
	}
	return err
}

// Terminate sends SIGTERM to a process by ID.
// Returns ErrProcessNotFound if the process is not tracked.
func (s *Supervisor) Terminate(id string) error {
	m := s.Get(id)
	if m == nil {
		return ErrProcessNotFound
	}
	err := m.Proc.Terminate()
	if errors.Is(err, procflow.ErrProcessGone) {
		return nil
	}
	return err
}

// Kill sends SIGKILL to a process by ID.
// Returns ErrProcessNotFound if the process is not tracked.
func (s *Supervisor) Kill(id string) error {
	m := s.Get(id)
	if m == nil {
		return ErrProcessNotFound
	}
	err := m.Proc.Kill()
	if errors.Is(err, procflow.ErrProcessGone) {
		return nil
	}
	return err
}

// TerminateAll sends SIGTERM to every tracked process.
func (s *Supervisor) TerminateAll() {
	for _, m := range s.List() {
		if !m.Proc.Exited() {
			_ = m.Proc.Terminate()
		}
	}
}

// KillAll sends SIGKILL to every tracked process.
func (s *Supervisor) KillAll() {
	for _, m := range s.List() {
		if !m.Proc.Exited() {
			_ = m.Proc.Kill()
		}
	}
}

// Shutdown gracefully shuts down all tracked processes.
//
// It first sends SIGTERM to every process and waits up to timeout for
// them to exit. Any process still running after the timeout is killed
// with SIGKILL. Shutdown blocks until every process has exited and been
// removed from tracking.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return // already shutting down
	}

	close(s.shutdown)

	procs := s.List()
	if len(procs) == 0 {
		s.wg.Wait()
		return
	}

	s.log.Info("shutting down", zap.Int("processes", len(procs)))

	for _, m := range procs {
		if !m.Proc.Exited() {
			_ = m.Proc.Terminate()
		}
	}

	var g errgroup.Group
	for _, m := range procs {
		m := m
		g.Go(func() error {
			<-m.Proc.Done()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		// all exited gracefully
	case <-time.After(timeout):
		for _, m := range procs {
			if !m.Proc.Exited() {
				_ = m.Proc.Kill()
			}
		}
		<-done
	}

	// Monitors remove processes from the map; wait so Count is 0 when
	// Shutdown returns.
	s.wg.Wait()
}

// IsShuttingDown reports whether Shutdown has begun.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}

// ShutdownChan returns a channel that is closed when shutdown begins.
func (s *Supervisor) ShutdownChan() <-chan struct{} {
	return s.shutdown
}
