package procflow

import (
	"context"
	"io"
	"sync"
)

// DefaultBufferLimit is the writer high-water mark used when a spawn
// does not set one.
const DefaultBufferLimit = 64 * 1024

// Writer is the flow-controlled write endpoint for a child's stdin.
//
// Write never blocks: bytes are queued and flushed to the pipe by a pump
// goroutine. When the queue crosses the high-water mark the writer
// pauses itself; Drain parks the caller until the queue falls below the
// low-water mark or the pipe is lost. A lost pipe always resolves a
// parked Drain, with the stored error if one was reported.
type Writer struct {
	pipe io.WriteCloser

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []byte
	highWater int
	lowWater  int
	paused    bool
	drain     chan error
	closing   bool
	lost      bool
	err       error

	pumpDone chan struct{}
}

func newWriter(pipe io.WriteCloser, limit int) *Writer {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	w := &Writer{
		pipe:      pipe,
		highWater: limit,
		lowWater:  limit / 2,
		pumpDone:  make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.pump()
	return w
}

// Write queues data for the child's stdin. It never blocks; callers that
// care about backpressure should follow up with Drain.
func (w *Writer) Write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.lost && w.err != nil {
		return w.err
	}
	if w.closing || w.lost {
		return ErrWriterClosed
	}

	w.queue = append(w.queue, data...)
	if !w.paused && len(w.queue) > w.highWater {
		w.pauseLocked()
	}
	w.cond.Signal()
	return nil
}

// Drain blocks until the writer is no longer paused or the pipe is lost.
// It returns immediately when the writer is not paused. On connection
// loss it returns the stored pipe error, or nil when the loss was clean.
// Only one Drain may be outstanding at a time.
func (w *Writer) Drain(ctx context.Context) error {
	w.mu.Lock()
	if w.lost {
		err := w.err
		w.mu.Unlock()
		return err
	}
	if !w.paused {
		w.mu.Unlock()
		return nil
	}
	if w.drain != nil {
		w.mu.Unlock()
		return ErrDrainInProgress
	}
	ch := make(chan error, 1)
	w.drain = ch
	w.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		w.mu.Lock()
		if w.drain == ch {
			w.drain = nil
		}
		w.mu.Unlock()
		// A resolution may have raced the cancellation.
		select {
		case err := <-ch:
			return err
		default:
		}
		return ctx.Err()
	}
}

// Paused reports whether the writer is currently paused.
func (w *Writer) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Buffered returns the number of bytes queued but not yet flushed.
func (w *Writer) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// PauseWriting is the transport-side flow-control hook: the consumer has
// no capacity, stop producing. Pausing an already paused writer is a
// contract violation and panics.
func (w *Writer) PauseWriting() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pauseLocked()
}

// ResumeWriting is the transport-side flow-control hook: capacity is
// available again. It wakes a parked Drain with success. Resuming a
// writer that is not paused is a contract violation and panics.
func (w *Writer) ResumeWriting() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resumeLocked()
}

func (w *Writer) pauseLocked() {
	if w.paused {
		panic("procflow: PauseWriting on paused writer")
	}
	w.paused = true
}

func (w *Writer) resumeLocked() {
	if !w.paused {
		panic("procflow: ResumeWriting on writer that is not paused")
	}
	w.paused = false
	w.resolveDrainLocked(nil)
}

// resolveDrainLocked wakes the parked Drain caller, if any.
func (w *Writer) resolveDrainLocked(err error) {
	if w.drain == nil {
		return
	}
	w.drain <- err
	w.drain = nil
}

// connectionLost marks the pipe gone and wakes a parked Drain with the
// stored error, or success when the loss carried none. No caller may
// stay parked after pipe teardown.
func (w *Writer) connectionLost(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lost {
		return
	}
	w.lost = true
	w.err = err
	w.queue = nil
	w.resolveDrainLocked(err)
	w.cond.Signal()
}

// Close flushes any queued bytes and closes the pipe, blocking until
// the flush is done. It is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.closing {
		w.closing = true
		w.cond.Signal()
	}
	w.mu.Unlock()

	<-w.pumpDone
	return nil
}

// pump flushes queued bytes to the pipe until the writer is closed or
// the pipe is lost, then closes the pipe end.
func (w *Writer) pump() {
	defer close(w.pumpDone)

	w.mu.Lock()
	for {
		for len(w.queue) == 0 && !w.closing && !w.lost {
			w.cond.Wait()
		}
		if w.lost {
			break
		}
		if len(w.queue) == 0 && w.closing {
			break
		}

		chunk := w.queue
		w.queue = nil
		w.mu.Unlock()

		_, err := w.pipe.Write(chunk)

		w.mu.Lock()
		if err != nil {
			w.lost = true
			w.err = err
			w.queue = nil
			w.resolveDrainLocked(err)
			break
		}
		if w.paused && len(w.queue) <= w.lowWater {
			w.resumeLocked()
		}
	}
	// A Drain parked across Close must not hang once nothing can ever
	// resume it.
	w.resolveDrainLocked(w.err)
	w.mu.Unlock()

	_ = w.pipe.Close()
}
