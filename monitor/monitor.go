package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/dshills/procflow"
)

// Usage aggregates resource samples collected over a process's run.
type Usage struct {
	// PeakRSS is the largest resident set size observed, in bytes.
	PeakRSS uint64

	// AverageRSS is the mean resident set size across samples, in bytes.
	AverageRSS uint64

	// CPUPercent is the CPU utilisation of the most recent sample.
	CPUPercent float64

	// Samples is the number of successful samples taken.
	Samples int
}

// Watcher samples a running process at a fixed interval until the
// process exits or the watch context is cancelled.
type Watcher struct {
	interval  time.Duration
	maxRSS    uint64
	onExceed  func(Usage)
	exceeded  bool

	mu       sync.Mutex
	usage    Usage
	totalRSS uint64

	done chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval sets the sampling interval. The default is 500ms.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		w.interval = d
	}
}

// WithRSSLimit installs a threshold callback: the first sample whose
// resident set size exceeds limit invokes fn once. The callback decides
// what to do with the process; the watcher only reports.
func WithRSSLimit(limit uint64, fn func(Usage)) Option {
	return func(w *Watcher) {
		w.maxRSS = limit
		w.onExceed = fn
	}
}

// Watch starts sampling proc. Sampling stops when the process exits or
// ctx is cancelled; Done is closed once the final numbers are in.
func Watch(ctx context.Context, proc *procflow.Process, opts ...Option) *Watcher {
	w := &Watcher{
		interval: 500 * time.Millisecond,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run(ctx, proc)
	return w
}

// Done returns a channel closed when sampling has finished.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Usage returns a snapshot of the aggregated numbers. It is valid both
// during and after the watch.
func (w *Watcher) Usage() Usage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usage
}

func (w *Watcher) run(ctx context.Context, proc *procflow.Process) {
	defer close(w.done)

	p, err := process.NewProcess(int32(proc.PID()))
	if err != nil {
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sample(p)
		case <-proc.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) sample(p *process.Process) {
	mem, err := p.MemoryInfo()
	if err != nil {
		return
	}
	cpu, _ := p.CPUPercent()

	w.mu.Lock()
	w.usage.Samples++
	w.usage.CPUPercent = cpu
	if mem.RSS > w.usage.PeakRSS {
		w.usage.PeakRSS = mem.RSS
	}
	w.totalRSS += mem.RSS
	w.usage.AverageRSS = w.totalRSS / uint64(w.usage.Samples)
	snapshot := w.usage
	exceed := w.maxRSS > 0 && !w.exceeded && mem.RSS > w.maxRSS
	if exceed {
		w.exceeded = true
	}
	w.mu.Unlock()

	if exceed && w.onExceed != nil {
		w.onExceed(snapshot)
	}
}
