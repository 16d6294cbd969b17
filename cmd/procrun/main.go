// Package main is a command-line runner for child processes: it spawns
// a program (or shell line), forwards signals, optionally bounds the
// run with a timeout or attaches a pseudo-terminal, and exits with the
// child's status.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dshills/procflow"
	"github.com/dshills/procflow/monitor"
	"github.com/dshills/procflow/ptyrun"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	Shell   bool
	PTY     bool
	Stats   bool
	Timeout time.Duration
	Dir     string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts, args := parseFlags()

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	proc, err := spawn(ctx, opts, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start: %v\n", err)
		return 1
	}

	// Ensure cleanup on all exit paths
	defer proc.Close()

	// Forward interrupt and terminate to the child
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	go func() {
		for sig := range signals {
			_ = proc.Signal(sig)
		}
	}()

	var watch *monitor.Watcher
	if opts.Stats {
		watch = monitor.Watch(ctx, proc, monitor.WithInterval(250*time.Millisecond))
	}

	code, err := proc.Wait(ctx)
	if err != nil {
		_ = proc.Kill()
		if errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintf(os.Stderr, "Error: timed out after %s\n", opts.Timeout)
			return 124
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if opts.PTY {
		// Pty output is captured from the master; the stream goes
		// terminal shortly after exit.
		if data, rerr := proc.Stdout.ReadToEnd(ctx); rerr == nil {
			_, _ = os.Stdout.Write(data)
		}
	}

	if watch != nil {
		<-watch.Done()
		u := watch.Usage()
		fmt.Fprintf(os.Stderr, "peak rss: %d bytes, avg rss: %d bytes, samples: %d\n",
			u.PeakRSS, u.AverageRSS, u.Samples)
	}

	if code < 0 {
		// Killed by signal -code; report the shell convention.
		return 128 - code
	}
	return code
}

func spawn(ctx context.Context, opts options, args []string) (*procflow.Process, error) {
	if opts.PTY {
		// Under a pty the child's stderr shares the terminal, so
		// everything arrives on the stdout endpoint.
		var popts []ptyrun.Option
		if opts.Dir != "" {
			popts = append(popts, ptyrun.WithDir(opts.Dir))
		}
		var (
			sess *ptyrun.Session
			err  error
		)
		if opts.Shell {
			sess, err = ptyrun.SpawnShell(ctx, args[0], popts...)
		} else {
			sess, err = ptyrun.Spawn(ctx, args[0], args[1:], popts...)
		}
		if err != nil {
			return nil, err
		}
		return sess.Process, nil
	}

	var sopts []procflow.Option
	if opts.Dir != "" {
		sopts = append(sopts, procflow.WithDir(opts.Dir))
	}
	if opts.Shell {
		return procflow.SpawnShell(ctx, args[0], sopts...)
	}
	return procflow.SpawnExec(ctx, args[0], args[1:], sopts...)
}

func parseFlags() (options, []string) {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.BoolVar(&opts.Shell, "shell", false, "Run the argument as a shell command line")
	flag.BoolVar(&opts.Shell, "s", false, "Run the argument as a shell command line (shorthand)")
	flag.BoolVar(&opts.PTY, "pty", false, "Run the child under a pseudo-terminal")
	flag.BoolVar(&opts.Stats, "stats", false, "Report resource usage on exit")
	flag.DurationVar(&opts.Timeout, "timeout", 0, "Kill the child after this duration (0 = no limit)")
	flag.DurationVar(&opts.Timeout, "t", 0, "Kill the child after this duration (shorthand)")
	flag.StringVar(&opts.Dir, "dir", "", "Working directory for the child")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "procrun - bounded child process runner\n\n")
		fmt.Fprintf(os.Stderr, "Usage: procrun [options] program [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  procrun ls -l                     Run a program\n")
		fmt.Fprintf(os.Stderr, "  procrun -s 'make && make test'    Run a shell line\n")
		fmt.Fprintf(os.Stderr, "  procrun -t 30s ./slow-job         Kill after 30 seconds\n")
		fmt.Fprintf(os.Stderr, "  procrun -pty top                  Run under a pty\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("procrun %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if opts.Shell && len(args) > 1 {
		fmt.Fprintln(os.Stderr, "Error: -shell takes a single command line argument")
		os.Exit(2)
	}

	return opts, args
}
