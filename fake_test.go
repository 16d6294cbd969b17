package procflow

import (
	"context"
	"os"
	"sync"
)

// fakePipe records closes and accepts writes.
type fakePipe struct {
	mu     sync.Mutex
	data   []byte
	closes int
}

func (p *fakePipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = append(p.data, b...)
	return len(b), nil
}

func (p *fakePipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

// fakeTransport is an instrumented transport: it counts every call so
// tests can assert which operations reached it.
type fakeTransport struct {
	mu         sync.Mutex
	pid        int
	code       int
	exited     bool
	pipes      map[int]Pipe
	signals    []os.Signal
	terminates int
	kills      int
	closes     int
}

func newFakeTransport(pipes map[int]Pipe) *fakeTransport {
	if pipes == nil {
		pipes = make(map[int]Pipe)
	}
	return &fakeTransport{pid: 4321, pipes: pipes}
}

func (t *fakeTransport) PID() int { return t.pid }

func (t *fakeTransport) ExitCode() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.code, t.exited
}

func (t *fakeTransport) Pipe(fd int) Pipe {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pipes[fd]
}

func (t *fakeTransport) Signal(sig os.Signal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signals = append(t.signals, sig)
	return nil
}

func (t *fakeTransport) Terminate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminates++
	return nil
}

func (t *fakeTransport) Kill() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kills++
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

// setExit stores the exit code the transport will report.
func (t *fakeTransport) setExit(code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.code = code
	t.exited = true
}

func (t *fakeTransport) calls() (signals, terminates, kills, closes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.signals), t.terminates, t.kills, t.closes
}

// fakeLauncher installs a fakeTransport and hands the sink back to the
// test so it can drive events by hand.
type fakeLauncher struct {
	t    *fakeTransport
	sink EventSink
}

func (l *fakeLauncher) Launch(_ context.Context, _ *LaunchSpec, sink EventSink) (Transport, error) {
	l.sink = sink
	sink.Ready(l.t)
	return l.t, nil
}

// exit reports the child gone: code is cached on the transport, then
// the exit event fires.
func (l *fakeLauncher) exit(code int) {
	l.t.setExit(code)
	l.sink.ProcessExited()
}
