package procflow

import (
	"context"
	"errors"
	"time"
)

// Run spawns program with args and waits up to timeout for it to exit,
// returning the exit code.
//
// On timeout, on cancellation of ctx, or on any wait failure the process
// is killed first and the handle is closed unconditionally before the
// failure propagates; no process or descriptor leaks on the failure
// path. A timeout surfaces as ErrTimeout.
func Run(ctx context.Context, program string, args []string, timeout time.Duration, opts ...Option) (int, error) {
	p, err := SpawnExec(ctx, program, args, opts...)
	if err != nil {
		return 0, err
	}
	return waitBounded(ctx, p, timeout)
}

// RunShell is Run for a shell command line.
func RunShell(ctx context.Context, commandLine string, timeout time.Duration, opts ...Option) (int, error) {
	p, err := SpawnShell(ctx, commandLine, opts...)
	if err != nil {
		return 0, err
	}
	return waitBounded(ctx, p, timeout)
}

// waitBounded awaits the exit code with a deadline. Kill runs before
// Close, and Close runs on every path.
func waitBounded(ctx context.Context, p *Process, timeout time.Duration) (int, error) {
	defer p.Close()

	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	code, err := p.Wait(wctx)
	if err != nil {
		_ = p.Kill()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = ErrTimeout
		}
		return 0, err
	}
	return code, nil
}
