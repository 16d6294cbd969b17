package procflow

import (
	"bytes"
	"context"
	"sync"
)

// Reader is the buffered read endpoint for a child's stdout or stderr.
//
// Bytes delivered by the bridge accumulate until the pipe reaches a
// terminal state (EOF or error). ReadToEnd blocks until then; this layer
// deliberately has no partial read, matching the full-capture contract of
// Communicate.
type Reader struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	err      error
	terminal bool
	done     chan struct{}
}

func newReader() *Reader {
	return &Reader{done: make(chan struct{})}
}

// feed appends data to the buffer. Feeds after the terminal state are
// no-ops.
func (r *Reader) feed(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal {
		return
	}
	r.buf.Write(data)
}

// feedEOF marks the stream cleanly finished.
func (r *Reader) feedEOF() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal {
		return
	}
	r.terminal = true
	close(r.done)
}

// feedError marks the stream failed with err.
func (r *Reader) feedError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal {
		return
	}
	r.terminal = true
	r.err = err
	close(r.done)
}

// Buffered returns the number of bytes accumulated so far.
func (r *Reader) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}

// ReadToEnd blocks until the stream reaches EOF or fails, then returns
// everything that was fed. On failure the accumulated bytes are
// discarded and the stream error is returned.
func (r *Reader) ReadToEnd(ctx context.Context) ([]byte, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.buf.Bytes(), nil
}
