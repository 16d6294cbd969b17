// Package procflow provides asynchronous child process execution with
// backpressure-aware I/O endpoints.
//
// A spawned process is exposed as a Process handle whose standard
// descriptors are per-stream endpoints: a flow-controlled Writer for
// stdin and buffered Readers for stdout and stderr. A per-process bridge
// demultiplexes low-level transport events (data arrived, pipe closed,
// process exited) onto the endpoints and onto a one-shot exit broadcast,
// so any number of waiters observe the same exit code exactly once.
//
// # Spawning
//
//	proc, err := procflow.SpawnExec(ctx, "cat", nil,
//	    procflow.WithStdin(procflow.ModePipe),
//	    procflow.WithStdout(procflow.ModePipe),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer proc.Close()
//
//	stdout, _, err := proc.Communicate(ctx, []byte("some data"))
//
// # Waiting
//
// Wait returns the cached exit code immediately once the process has
// exited; before that it blocks until the exit broadcast:
//
//	code, err := proc.Wait(ctx)
//
// Exit events carry no ordering guarantee relative to stdout/stderr
// teardown. Callers that need complete captured output must use
// Communicate, which drains both readers to EOF before resolving the
// exit code.
//
// # Backpressure
//
// Writer.Write never blocks. When queued bytes cross the high-water mark
// the writer pauses itself; Drain blocks until the queue falls below the
// low-water mark or the pipe is lost. A lost pipe always wakes a parked
// Drain, so no caller can hang on a torn-down process.
//
// # Bounded runs
//
// Run is the spawn-and-wait helper with a deadline. On timeout the
// process is killed and the handle closed before ErrTimeout surfaces:
//
//	code, err := procflow.Run(ctx, "sh", []string{"-c", "make build"}, time.Minute)
//
// # Custom transports
//
// The spawn collaborator is the Launcher interface; WithLauncher
// replaces the default os/exec implementation, which tests use to drive
// the handle against instrumented fake transports.
package procflow
