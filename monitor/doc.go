// Package monitor samples the resource usage of procflow processes.
//
// A Watcher polls a running process through gopsutil at a fixed
// interval, tracking peak and average resident set size and the latest
// CPU utilisation. An optional RSS limit invokes a callback the first
// time a sample exceeds it, which callers typically use to terminate a
// runaway child:
//
//	w := monitor.Watch(ctx, proc,
//	    monitor.WithInterval(250*time.Millisecond),
//	    monitor.WithRSSLimit(2<<30, func(u monitor.Usage) {
//	        _ = proc.Kill()
//	    }),
//	)
//
//	<-proc.Done()
//	<-w.Done()
//	fmt.Printf("peak rss: %d\n", w.Usage().PeakRSS)
package monitor
