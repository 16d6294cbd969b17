package procflow

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"
)

func fakeProcess(t *testing.T, pipes map[int]Pipe) (*Process, *fakeLauncher) {
	t.Helper()
	l := &fakeLauncher{t: newFakeTransport(pipes)}
	p, err := SpawnExec(context.Background(), "fake", nil, WithLauncher(l))
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	return p, l
}

func TestProcess_WaitBeforeAndAfterExit(t *testing.T) {
	p, l := fakeProcess(t, nil)

	const early = 5
	codes := make([]int, early)
	var wg sync.WaitGroup
	for i := 0; i < early; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := p.Wait(context.Background())
			if err != nil {
				t.Errorf("wait failed: %v", err)
				return
			}
			codes[i] = code
		}()
	}
	time.Sleep(20 * time.Millisecond)

	l.exit(17)
	wg.Wait()

	for i, code := range codes {
		if code != 17 {
			t.Errorf("early waiter %d: expected 17, got %d", i, code)
		}
	}

	// A wait after exit must return the cached code without suspending
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	code, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("late wait failed: %v", err)
	}
	if code != 17 {
		t.Errorf("late waiter: expected 17, got %d", code)
	}
}

func TestProcess_SignalsAfterExitFailFast(t *testing.T) {
	p, l := fakeProcess(t, nil)
	l.exit(0)

	if err := p.Signal(syscall.SIGHUP); !errors.Is(err, ErrProcessGone) {
		t.Errorf("Signal: expected ErrProcessGone, got %v", err)
	}
	if err := p.Terminate(); !errors.Is(err, ErrProcessGone) {
		t.Errorf("Terminate: expected ErrProcessGone, got %v", err)
	}
	if err := p.Kill(); !errors.Is(err, ErrProcessGone) {
		t.Errorf("Kill: expected ErrProcessGone, got %v", err)
	}

	// None of the failed operations may have reached the transport
	signals, terminates, kills, _ := l.t.calls()
	if signals != 0 || terminates != 0 || kills != 0 {
		t.Errorf("dead process touched transport: signals=%d terminates=%d kills=%d",
			signals, terminates, kills)
	}
}

func TestProcess_SignalsForwardWhileRunning(t *testing.T) {
	p, l := fakeProcess(t, nil)

	if err := p.Signal(syscall.SIGUSR1); err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	signals, terminates, kills, _ := l.t.calls()
	if signals != 1 || terminates != 1 || kills != 1 {
		t.Errorf("expected one of each, got signals=%d terminates=%d kills=%d",
			signals, terminates, kills)
	}
}

func TestProcess_CloseIdempotent(t *testing.T) {
	p, l := fakeProcess(t, nil)

	for i := 0; i < 3; i++ {
		if err := p.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	_, _, _, closes := l.t.calls()
	if closes != 1 {
		t.Errorf("expected exactly one transport close, got %d", closes)
	}
}

func TestProcess_ExitCodeWhileRunning(t *testing.T) {
	p, l := fakeProcess(t, nil)

	if p.ExitCode() != -1 {
		t.Errorf("expected -1 while running, got %d", p.ExitCode())
	}
	if p.Exited() {
		t.Error("expected Exited false while running")
	}

	l.exit(2)

	if p.ExitCode() != 2 {
		t.Errorf("expected 2 after exit, got %d", p.ExitCode())
	}
	if !p.Exited() {
		t.Error("expected Exited true after exit")
	}
}

func TestProcess_CommunicateAgainstFakeTransport(t *testing.T) {
	stdin := &fakePipe{}
	p, l := fakeProcess(t, map[int]Pipe{
		fdStdin:  stdin,
		fdStdout: &fakePipe{},
		fdStderr: &fakePipe{},
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.sink.PipeData(fdStdout, []byte("out payload"))
		l.sink.PipeData(fdStderr, []byte("err payload"))
		l.sink.PipeClosed(fdStdout, nil)
		l.sink.PipeClosed(fdStderr, nil)
		l.exit(0)
	}()

	out, errOut, err := p.Communicate(context.Background(), []byte("fed to stdin"))
	if err != nil {
		t.Fatalf("Communicate failed: %v", err)
	}
	if string(out) != "out payload" {
		t.Errorf("stdout: expected %q, got %q", "out payload", out)
	}
	if string(errOut) != "err payload" {
		t.Errorf("stderr: expected %q, got %q", "err payload", errOut)
	}
	if p.ExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", p.ExitCode())
	}

	stdin.mu.Lock()
	fed := string(stdin.data)
	stdin.mu.Unlock()
	if fed != "fed to stdin" {
		t.Errorf("stdin: expected %q written, got %q", "fed to stdin", fed)
	}
}

func TestProcess_CommunicateInputWithoutStdinPipe(t *testing.T) {
	p, l := fakeProcess(t, map[int]Pipe{
		fdStdout: &fakePipe{},
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.sink.PipeData(fdStdout, []byte("went fine"))
		l.sink.PipeClosed(fdStdout, nil)
		l.exit(0)
	}()

	out, _, err := p.Communicate(context.Background(), []byte("nowhere to go"))
	if !errors.Is(err, ErrNoPipe) {
		t.Errorf("expected ErrNoPipe, got %v", err)
	}
	// The stdout capture still completes despite the stdin failure
	if string(out) != "went fine" {
		t.Errorf("stdout: expected %q, got %q", "went fine", out)
	}
}

func TestProcess_CommunicatePartialPipeFailure(t *testing.T) {
	p, l := fakeProcess(t, map[int]Pipe{
		fdStdout: &fakePipe{},
		fdStderr: &fakePipe{},
	})

	readErr := errors.New("stdout torn")
	go func() {
		time.Sleep(20 * time.Millisecond)
		l.sink.PipeClosed(fdStdout, readErr)
		// The failing stdout must not abort the stderr capture
		l.sink.PipeData(fdStderr, []byte("still here"))
		l.sink.PipeClosed(fdStderr, nil)
		l.exit(1)
	}()

	_, errOut, err := p.Communicate(context.Background(), nil)
	if !errors.Is(err, readErr) {
		t.Errorf("expected %v surfaced after join, got %v", readErr, err)
	}
	if string(errOut) != "still here" {
		t.Errorf("stderr payload lost on sibling failure: %q", errOut)
	}
}
