// Package ptyrun spawns procflow processes attached to a
// pseudo-terminal.
//
// Some programs change behavior when not talking to a terminal: they
// buffer output, disable color, or refuse to prompt. ptyrun runs the
// child under a PTY so it sees a real terminal, while the parent keeps
// the procflow endpoint API.
//
//	sess, err := ptyrun.Spawn(ctx, "top", []string{"-b"}, ptyrun.WithSize(120, 40))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close()
//
//	out, _, err := sess.Communicate(ctx, nil)
//
// A terminal has a single byte stream in each direction: the session's
// Stdout endpoint carries the combined output and Stderr is nil.
package ptyrun
