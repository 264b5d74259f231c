// Package rsyncos bundles the operating-system handles (standard streams,
// sandboxing policy) that flow through the maincmd/rsyncd/rsyncclient
// glue, so that tests can substitute fakes without touching package-level
// globals.
package rsyncos

import (
	"fmt"
	"io"
)

// Std groups the three standard streams a transfer role reads and writes.
type Std struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Env extends Std with process-level knobs used by the CLI/daemon
// entrypoint (internal/maincmd) that are not meaningful to a role running
// purely over a supplied io.ReadWriter.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// DontRestrict disables the landlock sandboxing normally applied once a
	// server role's directories are known. Set by tests and by child
	// processes that are already restricted by their parent.
	DontRestrict bool
}

// Restrict reports whether this process should apply filesystem
// sandboxing before serving a transfer.
func (e *Env) Restrict() bool { return !e.DontRestrict }

// Logf writes a formatted line to Stderr, falling back to no-op if Stderr
// is nil. It exists for call sites that predate the structured Logger and
// only need simple progress output.
func (e *Env) Logf(format string, args ...any) {
	if e.Stderr == nil {
		return
	}
	fmt.Fprintf(e.Stderr, format+"\n", args...)
}

// Std returns the Std view of this Env.
func (e *Env) Std() Std {
	return Std{Stdin: e.Stdin, Stdout: e.Stdout, Stderr: e.Stderr}
}
