package procflow

import (
	"context"
	"sync"
)

// exitState is the one-shot exit-code broadcast shared by a process
// handle and its bridge.
//
// Waiters registered before the broadcast all receive the same code
// exactly once; waiters registered after it read the cached code without
// blocking. A repeated broadcast is ignored.
type exitState struct {
	mu      sync.Mutex
	done    bool
	code    int
	waiters []chan int
	settled chan struct{}
}

func newExitState() *exitState {
	return &exitState{settled: make(chan struct{})}
}

// broadcast settles the exit code and wakes every registered waiter.
func (e *exitState) broadcast(code int) {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	e.done = true
	e.code = code
	waiters := e.waiters
	e.waiters = nil
	close(e.settled)
	e.mu.Unlock()

	for _, ch := range waiters {
		ch <- code
	}
}

// doneChan is closed once the exit code has been broadcast.
func (e *exitState) doneChan() <-chan struct{} {
	return e.settled
}

// exited reports whether the exit code has been broadcast.
func (e *exitState) exited() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// exitCode returns the cached code and true once settled.
func (e *exitState) exitCode() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.code, e.done
}

// wait blocks until the exit code is broadcast or ctx is done. Once
// settled it returns immediately with the cached code.
func (e *exitState) wait(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.done {
		code := e.code
		e.mu.Unlock()
		return code, nil
	}
	ch := make(chan int, 1)
	e.waiters = append(e.waiters, ch)
	e.mu.Unlock()

	select {
	case code := <-ch:
		return code, nil
	case <-ctx.Done():
		e.remove(ch)
		// The broadcast may have raced the cancellation; prefer the
		// delivered code if it is already there.
		select {
		case code := <-ch:
			return code, nil
		default:
		}
		return 0, ctx.Err()
	}
}

// remove drops a waiter that gave up before settlement.
func (e *exitState) remove(ch chan int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, w := range e.waiters {
		if w == ch {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}
