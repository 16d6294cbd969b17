// Package supervisor manages groups of procflow child processes.
//
// The Supervisor spawns processes through procflow, tracks them by
// unique ID, forwards signals, and tears everything down on shutdown.
//
// # Supervisor
//
//	sup := supervisor.New()
//	defer sup.Shutdown(5 * time.Second)
//
//	m, err := sup.Start(ctx, "builder", "make", []string{"build"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	<-m.Proc.Done()
//	fmt.Printf("exit code: %d\n", m.Proc.ExitCode())
//
// # Graceful Shutdown
//
// Shutdown sends SIGTERM to every tracked process, waits up to the
// given timeout, then SIGKILLs stragglers. It blocks until every
// process has been reaped and removed from tracking.
//
// # Thread Safety
//
// Supervisor and Managed are safe for concurrent use.
package supervisor
