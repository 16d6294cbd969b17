package procflow

import (
	"io"
	"sync"
)

// bridge is the per-process demultiplexer: it receives transport events
// and routes them to the per-descriptor endpoints and to the exit
// broadcast. Exactly one bridge exists per spawned process, installed as
// the event sink before any pipe event can occur.
type bridge struct {
	mu        sync.Mutex
	transport Transport
	stdin     *Writer
	readers   map[int]*Reader
	limit     int

	exit  *exitState
	ready chan struct{}
}

func newBridge(limit int) *bridge {
	return &bridge{
		readers: make(map[int]*Reader),
		limit:   limit,
		exit:    newExitState(),
		ready:   make(chan struct{}),
	}
}

// Ready attaches the transport and constructs an endpoint for each
// descriptor the transport opened as a pipe, then releases the spawn
// call waiting on setup.
func (b *bridge) Ready(t Transport) {
	b.mu.Lock()
	b.transport = t
	if p := t.Pipe(fdStdin); p != nil {
		if wc, ok := p.(io.WriteCloser); ok {
			b.stdin = newWriter(wc, b.limit)
		}
	}
	if t.Pipe(fdStdout) != nil {
		b.readers[fdStdout] = newReader()
	}
	if t.Pipe(fdStderr) != nil {
		b.readers[fdStderr] = newReader()
	}
	b.mu.Unlock()

	close(b.ready)
}

// PipeData routes bytes to the reader for fd. An unrecognized descriptor
// is a silent no-op.
func (b *bridge) PipeData(fd int, data []byte) {
	b.mu.Lock()
	r := b.readers[fd]
	b.mu.Unlock()
	if r != nil {
		r.feed(data)
	}
}

// PipeClosed routes a descriptor teardown. For stdin the writer is
// released and a parked Drain is woken; for stdout/stderr the reader is
// marked EOF or errored. An unrecognized descriptor is a silent no-op.
func (b *bridge) PipeClosed(fd int, err error) {
	b.mu.Lock()
	w := b.stdin
	r := b.readers[fd]
	b.mu.Unlock()

	if fd == fdStdin {
		if w != nil {
			w.connectionLost(err)
		}
		return
	}
	if r == nil {
		return
	}
	if err == nil {
		r.feedEOF()
	} else {
		r.feedError(err)
	}
}

// ProcessExited reads the cached exit code from the transport and
// broadcasts it to every waiter registered so far. Waiters that register
// afterwards short-circuit to the cached code.
func (b *bridge) ProcessExited() {
	b.mu.Lock()
	t := b.transport
	b.mu.Unlock()
	if t == nil {
		return
	}
	code, ok := t.ExitCode()
	if !ok {
		return
	}
	b.exit.broadcast(code)
}

// reader returns the endpoint for fd, or nil.
func (b *bridge) reader(fd int) *Reader {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readers[fd]
}

// writer returns the stdin endpoint, or nil.
func (b *bridge) writer() *Writer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stdin
}
