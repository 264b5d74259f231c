// Package rsyncclient exposes the client side of a transfer as a library:
// given an already-connected io.ReadWriter (a subprocess's stdin/stdout, a
// TCP socket, an in-process pipe), it drives the same sender/receiver state
// machine internal/maincmd uses for the drsync CLI.
package rsyncclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/deltacopy/rsync"
	"github.com/deltacopy/rsync/internal/log"
	"github.com/deltacopy/rsync/internal/receiver"
	"github.com/deltacopy/rsync/internal/rsyncopts"
	"github.com/deltacopy/rsync/internal/rsyncos"
	"github.com/deltacopy/rsync/internal/rsyncstats"
	"github.com/deltacopy/rsync/internal/rsyncwire"
	"github.com/deltacopy/rsync/internal/sender"
)

// Client runs one rsync transfer against a pre-established connection.
type Client struct {
	opts   *rsyncopts.Options
	stderr io.Writer
}

// Option customizes a Client beyond what its command-line args encode.
type Option func(*Client)

// WithSender makes the client act as the sending side of the transfer
// (equivalent to passing --sender on the command line).
func WithSender() Option {
	return func(c *Client) { c.opts.SetSender() }
}

// WithStderr directs the client's progress/verbose logging to w instead of
// discarding it.
func WithStderr(w io.Writer) Option {
	return func(c *Client) { c.stderr = w }
}

// New parses args as rsync command-line arguments and returns a Client
// ready to Run against a connection. args should not include the "rsync"
// program name.
func New(args []string, opts ...Option) (*Client, error) {
	osenv := &rsyncos.Env{DontRestrict: true}
	pc, err := rsyncopts.ParseArguments(osenv, args)
	if err != nil {
		return nil, err
	}
	c := &Client{opts: pc.Options, stderr: io.Discard}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run negotiates the protocol over rw (it always writes its own version
// and reads the peer's before the checksum seed) and transfers paths:
// as the receiver's single destination directory when the client is not a
// sender, or as the sole source path when it is.
func (c *Client) Run(ctx context.Context, rw io.ReadWriter, paths []string) error {
	_, err := c.run(ctx, rw, paths, true)
	return err
}

// Stats is an alias for the transfer byte/file counters Run reports,
// exposed so callers that want them can call RunStats instead of Run.
type Stats = rsyncstats.TransferStats

// RunStats behaves like Run but also returns the transfer's statistics.
func (c *Client) RunStats(ctx context.Context, rw io.ReadWriter, paths []string) (*Stats, error) {
	return c.run(ctx, rw, paths, true)
}

func (c *Client) run(ctx context.Context, rw io.ReadWriter, paths []string, negotiate bool) (*rsyncstats.TransferStats, error) {
	if len(paths) != 1 {
		return nil, fmt.Errorf("rsyncclient: exactly one path is supported, got %q", paths)
	}

	crd := &rsyncwire.CountingReader{R: rw}
	cwr := &rsyncwire.CountingWriter{W: rw}
	conn := &rsyncwire.Conn{
		Reader: crd,
		Writer: cwr,
	}

	if negotiate {
		if err := conn.WriteInt32(rsync.ProtocolVersion); err != nil {
			return nil, err
		}
		if _, err := conn.ReadInt32(); err != nil {
			return nil, err
		}
	}

	seed, err := conn.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("rsyncclient: reading checksum seed: %w", err)
	}

	mrd := &rsyncwire.MultiplexReader{Reader: rw}
	conn.Reader = bufio.NewReaderSize(mrd, 256*1024)

	logger := log.New(c.stderr)

	if c.opts.Sender() {
		clean := filepath.Clean(paths[0])
		root := filepath.Dir(clean)
		name := filepath.Base(clean)
		if strings.HasSuffix(paths[0], "/") {
			// A trailing slash sends the directory's contents rather than
			// the directory itself.
			root, name = clean, "."
		}
		st := &sender.Transfer{
			Logger: logger,
			Opts:   c.opts,
			Conn:   conn,
			Seed:   seed,
		}
		return st.Do(crd, cwr, root, []string{name}, nil)
	}

	const exclusionListEnd = 0
	if err := conn.WriteInt32(exclusionListEnd); err != nil {
		return nil, err
	}

	rt := &receiver.Transfer{
		Logger: logger,
		Opts: &receiver.TransferOpts{
			Verbose: c.opts.Verbose(),
			DryRun:  c.opts.DryRun(),

			DeleteMode:       c.opts.DeleteMode(),
			PreserveGid:      c.opts.PreserveGid(),
			PreserveUid:      c.opts.PreserveUid(),
			PreserveLinks:    c.opts.PreserveLinks(),
			PreservePerms:    c.opts.PreservePerms(),
			PreserveDevices:  c.opts.PreserveDevices(),
			PreserveSpecials: c.opts.PreserveSpecials(),
			PreserveTimes:    c.opts.PreserveMTimes(),
		},
		Dest: paths[0],
		Env:  rsyncos.Std{Stdout: io.Discard, Stderr: c.stderr},
		Conn: conn,
		Seed: seed,
	}

	fileList, err := rt.ReceiveFileList()
	if err != nil {
		return nil, err
	}
	return rt.Do(conn, fileList, false)
}
