package procflow

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// sinkPipe is an in-memory WriteCloser that accepts everything.
type sinkPipe struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (s *sinkPipe) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(b)
}

func (s *sinkPipe) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *sinkPipe) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// gatePipe blocks each Write until released, to hold bytes in the
// writer queue deterministically.
type gatePipe struct {
	started chan struct{}
	release chan struct{}
	sinkPipe
}

func (g *gatePipe) Write(b []byte) (int, error) {
	g.started <- struct{}{}
	<-g.release
	return g.sinkPipe.Write(b)
}

func TestWriter_DrainNotPaused(t *testing.T) {
	w := newWriter(&sinkPipe{}, 0)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Drain must never suspend while not paused
	if err := w.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
}

func TestWriter_DrainPausedThenResumed(t *testing.T) {
	w := newWriter(&sinkPipe{}, 0)
	defer w.Close()

	w.PauseWriting()

	drained := make(chan error, 1)
	go func() {
		drained <- w.Drain(context.Background())
	}()

	select {
	case <-drained:
		t.Fatal("Drain returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	w.ResumeWriting()

	select {
	case err := <-drained:
		if err != nil {
			t.Errorf("Drain after resume failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after resume")
	}
}

func TestWriter_DrainPausedThenLost(t *testing.T) {
	tests := []struct {
		name    string
		lossErr error
	}{
		{name: "loss with error", lossErr: errors.New("broken pipe")},
		{name: "clean loss", lossErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWriter(&sinkPipe{}, 0)
			w.PauseWriting()

			drained := make(chan error, 1)
			go func() {
				drained <- w.Drain(context.Background())
			}()
			time.Sleep(20 * time.Millisecond)

			w.connectionLost(tt.lossErr)

			select {
			case err := <-drained:
				if !errors.Is(err, tt.lossErr) {
					t.Errorf("expected %v, got %v", tt.lossErr, err)
				}
			case <-time.After(time.Second):
				t.Fatal("Drain still parked after connection loss")
			}
		})
	}
}

func TestWriter_ConcurrentDrain(t *testing.T) {
	w := newWriter(&sinkPipe{}, 0)
	defer w.Close()

	w.PauseWriting()

	go func() {
		_ = w.Drain(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	err := w.Drain(context.Background())
	if !errors.Is(err, ErrDrainInProgress) {
		t.Errorf("expected ErrDrainInProgress, got %v", err)
	}

	w.ResumeWriting()
}

func TestWriter_DoublePausePanics(t *testing.T) {
	w := newWriter(&sinkPipe{}, 0)
	defer w.Close()

	w.PauseWriting()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on double pause")
		}
	}()
	w.PauseWriting()
}

func TestWriter_SpuriousResumePanics(t *testing.T) {
	w := newWriter(&sinkPipe{}, 0)
	defer w.Close()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on resume while not paused")
		}
	}()
	w.ResumeWriting()
}

func TestWriter_WatermarkPauseResume(t *testing.T) {
	pipe := &gatePipe{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	w := newWriter(pipe, 8)
	defer w.Close()

	// First write occupies the pump inside pipe.Write
	if err := w.Write([]byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	<-pipe.started

	// Queue past the high-water mark while the pump is stuck
	if err := w.Write(bytes.Repeat([]byte("y"), 16)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !w.Paused() {
		t.Fatal("expected writer paused past high-water mark")
	}

	drained := make(chan error, 1)
	go func() {
		drained <- w.Drain(context.Background())
	}()

	select {
	case <-drained:
		t.Fatal("Drain returned while queue above low-water mark")
	case <-time.After(50 * time.Millisecond):
	}

	// Let the pump flush; it resumes once the queue clears
	close(pipe.release)

	select {
	case err := <-drained:
		if err != nil {
			t.Errorf("Drain failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after flush")
	}

	if w.Paused() {
		t.Error("expected writer resumed after flush")
	}
}

func TestWriter_FlushOnClose(t *testing.T) {
	pipe := &sinkPipe{}
	w := newWriter(pipe, 0)

	if err := w.Write([]byte("queued bytes")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-w.pumpDone:
	case <-time.After(time.Second):
		t.Fatal("pump did not finish after Close")
	}

	if pipe.String() != "queued bytes" {
		t.Errorf("expected flushed %q, got %q", "queued bytes", pipe.String())
	}

	pipe.mu.Lock()
	closed := pipe.closed
	pipe.mu.Unlock()
	if !closed {
		t.Error("expected pipe closed after flush")
	}

	// Close is idempotent
	if err := w.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestWriter_WriteAfterClose(t *testing.T) {
	w := newWriter(&sinkPipe{}, 0)
	_ = w.Close()

	if err := w.Write([]byte("late")); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
}

func TestWriter_WriteAfterLossReturnsError(t *testing.T) {
	w := newWriter(&sinkPipe{}, 0)
	lossErr := errors.New("gone")
	w.connectionLost(lossErr)

	if err := w.Write([]byte("late")); !errors.Is(err, lossErr) {
		t.Errorf("expected stored loss error, got %v", err)
	}
}
