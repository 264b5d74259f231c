// Package testlogger adapts a *testing.T into an io.Writer, so that
// library code expecting a plain writer (rsyncd.WithStderr, for instance)
// can have its output folded into `go test -v`'s own log stream instead of
// racing with it on os.Stderr.
package testlogger

import (
	"bytes"
	"io"
	"testing"
)

type writer struct {
	t *testing.T
}

// New returns an io.Writer that forwards each write to t.Logf.
func New(t *testing.T) io.Writer {
	return &writer{t: t}
}

func (w *writer) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Logf("%s", bytes.TrimRight(p, "\n"))
	return len(p), nil
}
