// Package rsynctest spins up an in-process rsyncd.Server for integration
// tests, the way internal/maincmd's daemon mode would, without going
// through config files or command-line flags.
package rsynctest

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/deltacopy/rsync/internal/rsyncdconfig"
	"github.com/deltacopy/rsync/internal/testlogger"
	"github.com/deltacopy/rsync/rsyncd"
)

// Server is a running test daemon, reachable at rsync://localhost:Port/.
type Server struct {
	Port string
}

type config struct {
	modules   []rsyncd.Module
	listeners []rsyncdconfig.Listener
}

// Option configures New.
type Option func(*config)

// InteropModule exposes path as a writable module named "interop", the
// name the upstream rsync test suite's own fixtures use.
func InteropModule(path string) Option {
	return func(c *config) {
		c.modules = append(c.modules, rsyncd.Module{
			Name:     "interop",
			Path:     path,
			Writable: true,
		})
	}
}

// Listeners records additional listener configuration (anonymous-SSH,
// authorized-SSH) alongside the plain TCP listener New always creates.
// Serving those listener kinds is outside this module's scope; tests that
// pass one are documenting the calling convention, not exercising it.
func Listeners(ls []rsyncdconfig.Listener) Option {
	return func(c *config) {
		c.listeners = append(c.listeners, ls...)
	}
}

// New starts an rsyncd.Server listening on a random localhost port and
// arranges for it to be torn down when the test completes.
func New(t *testing.T, opts ...Option) *Server {
	t.Helper()

	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	_ = cfg.listeners // see Listeners' doc comment

	srv, err := rsyncd.NewServer(cfg.modules, rsyncd.WithStderr(testlogger.New(t)))
	if err != nil {
		t.Fatalf("rsyncd.NewServer: %v", err)
	}

	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := srv.Serve(ctx, ln); err != nil {
			t.Logf("rsynctest: Serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})

	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort(%s): %v", ln.Addr(), err)
	}

	return &Server{Port: port}
}

// AnyRsync returns the path to a system rsync(1) binary, skipping the
// calling test if none is installed.
func AnyRsync(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("rsync")
	if err != nil {
		t.Skip("rsync(1) not installed")
	}
	return path
}

// WriteLargeDataFile writes dir/large-data-file: head, followed by body
// repeated to fill most of a few megabytes, followed by end. The size is
// chosen to span many checksum blocks so incremental-transfer tests can
// observe a real reduction in bytes written.
func WriteLargeDataFile(t *testing.T, dir string, head, body, end []byte) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	const size = 3 * 1024 * 1024

	f, err := os.Create(filepath.Join(dir, "large-data-file"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.Write(head); err != nil {
		t.Fatal(err)
	}
	remaining := size - len(head) - len(end)
	chunk := bytes.Repeat(body, 4096/len(body)+1)
	for remaining > 0 {
		n := len(chunk)
		if n > remaining {
			n = remaining
		}
		if _, err := f.Write(chunk[:n]); err != nil {
			t.Fatal(err)
		}
		remaining -= n
	}
	if _, err := f.Write(end); err != nil {
		t.Fatal(err)
	}
}

// DataFileMatches verifies a file written by WriteLargeDataFile still has
// the expected head, repeating body, and end.
func DataFileMatches(path string, head, body, end []byte) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) < len(head)+len(end) {
		return fmt.Errorf("file too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:len(head)], head) {
		return fmt.Errorf("head mismatch: got %x, want %x", data[:len(head)], head)
	}
	if !bytes.Equal(data[len(data)-len(end):], end) {
		return fmt.Errorf("end mismatch: got %x, want %x", data[len(data)-len(end):], end)
	}
	middle := data[len(head) : len(data)-len(end)]
	for i, b := range middle {
		want := body[i%len(body)]
		if b != want {
			return fmt.Errorf("body mismatch at offset %d: got %#x, want %#x", i+len(head), b, want)
		}
	}
	return nil
}

// CreateDummyDeviceFiles creates a character and a block device node under
// dir, for tests that verify device-file metadata is preserved across a
// transfer. Requires root.
func CreateDummyDeviceFiles(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	devices := []struct {
		name       string
		mode       uint32
		major, min uint32
	}{
		{"null", unixCharDevice, 1, 3},
		{"loop0", unixBlockDevice, 7, 0},
	}
	for _, d := range devices {
		if err := mknod(filepath.Join(dir, d.name), d.mode, d.major, d.min); err != nil {
			t.Fatalf("mknod %s: %v", d.name, err)
		}
	}
}

// VerifyDummyDeviceFiles compares the device numbers of the files
// CreateDummyDeviceFiles created in srcDir against their counterparts in
// destDir.
func VerifyDummyDeviceFiles(t *testing.T, srcDir, destDir string) {
	t.Helper()
	for _, name := range []string{"null", "loop0"} {
		srcDev, err := deviceNumber(filepath.Join(srcDir, name))
		if err != nil {
			t.Fatal(err)
		}
		destDev, err := deviceNumber(filepath.Join(destDir, name))
		if err != nil {
			t.Fatal(err)
		}
		if srcDev != destDev {
			t.Errorf("%s: device number mismatch: got %d, want %d", name, destDev, srcDev)
		}
	}
}
