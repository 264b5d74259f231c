// Package sender implements the sending side of a transfer: it walks the
// source tree, transmits the file list, and then answers each NDX/sum-head
// request the generator makes by diffing its copy of the file against the
// signature and writing the resulting delta token stream.
package sender

import (
	"fmt"
	"os"

	"github.com/deltacopy/rsync"
	"github.com/deltacopy/rsync/internal/delta"
	"github.com/deltacopy/rsync/internal/flist"
	"github.com/deltacopy/rsync/internal/log"
	"github.com/deltacopy/rsync/internal/rsyncchecksum"
	"github.com/deltacopy/rsync/internal/rsyncopts"
	"github.com/deltacopy/rsync/internal/rsyncstats"
	"github.com/deltacopy/rsync/internal/rsyncwire"
	"github.com/deltacopy/rsync/internal/signature"
)

// Transfer holds the state needed to drive one sender-role session.
type Transfer struct {
	Logger log.Logger
	Opts   *rsyncopts.Options
	Conn   *rsyncwire.Conn
	Seed   int32

	// CompatFlags carries whatever compatibility bits were negotiated with
	// the peer (rsync.CompatChecksumSeedFix among them); zero means no
	// negotiation happened and every legacy default applies.
	CompatFlags rsync.CompatFlag
}

// Do transmits the file list built by walking root/paths (skipping any
// name excluded by exclusionList), then answers generator requests until
// the generator signals it has none left, and finally reports transport
// byte counts read from crd/cwr. moduleRoot is the filesystem directory
// paths are relative to.
func (st *Transfer) Do(crd *rsyncwire.CountingReader, cwr *rsyncwire.CountingWriter, moduleRoot string, paths []string, exclusionList *FilterList) (*rsyncstats.TransferStats, error) {
	if st.Opts.PreserveHardLinks() {
		return nil, fmt.Errorf("support for hard links not yet implemented")
	}

	entries, err := buildFileList(moduleRoot, paths, st.Opts, exclusionList)
	if err != nil {
		return nil, err
	}
	if st.Opts.Verbose() {
		st.Logger.Printf("sender file list built: %d entries", len(entries))
	}

	if err := st.sendFileList(entries); err != nil {
		return nil, err
	}

	stats := &rsyncstats.TransferStats{}
	for _, e := range entries {
		stats.Size += e.entry.Size
	}

	if err := st.answerRequests(entries, stats); err != nil {
		return nil, err
	}

	stats.AddBytes(crd.BytesRead, cwr.BytesWritten)
	if err := st.report(stats); err != nil {
		return nil, err
	}

	// Drain the receiver's final goodbye (rt.Do writes a -1 once its own
	// report is done).
	if _, err := st.Conn.ReadInt32(); err != nil {
		return nil, err
	}

	return stats, nil
}

func (st *Transfer) sendFileList(entries []sourceEntry) error {
	enc := flist.NewEncoder(st.Conn, false, st.Opts.PreserveUid(), st.Opts.PreserveGid())
	for _, e := range entries {
		if err := enc.Encode(e.entry, e.topLevel); err != nil {
			return err
		}
	}
	return enc.WriteTerminator()
}

// answerRequests reads the (NDX, sum-head) pairs the generator sends,
// building a delta for the requested file against its on-wire signature
// and writing the resulting token stream. Two consecutive NDX_DONE values
// end the exchange, matching receiver.RecvFiles's two-phase termination.
func (st *Transfer) answerRequests(entries []sourceEntry, stats *rsyncstats.TransferStats) error {
	phase := 0
	for {
		idx, err := st.Conn.ReadInt32()
		if err != nil {
			return err
		}
		if idx == -1 {
			if phase == 0 {
				phase++
				continue
			}
			break
		}
		if idx < 0 || int(idx) >= len(entries) {
			return fmt.Errorf("sender: NDX %d out of range (file list has %d entries)", idx, len(entries))
		}
		sig, err := signature.Read(st.Conn)
		if err != nil {
			return err
		}
		if err := st.sendDelta(entries[idx], sig, stats); err != nil {
			return err
		}
	}
	return nil
}

func (st *Transfer) sendDelta(e sourceEntry, sig signature.FileSignature, stats *rsyncstats.TransferStats) error {
	if st.Opts.Verbose() {
		st.Logger.Printf("sending delta for %s", e.entry.RelativePath)
	}
	src, err := os.ReadFile(e.abs)
	if err != nil {
		return err
	}

	algo, ordering := rsyncchecksum.SelectAlgorithm(rsync.ProtocolVersion, st.CompatFlags)
	hasher := rsyncchecksum.NewStrongHasher(algo, rsyncchecksum.SeedBytes(st.Seed), ordering)

	// The receiver reads its own copy of the sum-head before the token
	// stream, mirroring the one the generator already sent to us.
	if err := sig.SumHead().WriteTo(st.Conn); err != nil {
		return err
	}

	var tokens []delta.Token
	if sig.Layout.BlockCount == 0 {
		// Empty sum-head: the generator has no basis (or requested a
		// whole-file transfer), so the entire file is one literal run.
		if len(src) > 0 {
			if err := delta.WriteLiteral(st.Conn, src); err != nil {
				return err
			}
			tokens = []delta.Token{{Kind: delta.TokenLiteral, Literal: src}}
		}
		if err := delta.WriteDone(st.Conn); err != nil {
			return err
		}
		digest := hasher.Sum(src)
		if _, err := st.Conn.Writer.Write(digest); err != nil {
			return err
		}
	} else {
		idx := signature.BuildIndex(sig)
		tokens, err = delta.Build(st.Conn, src, idx, hasher)
		if err != nil {
			return err
		}
	}

	var literal, matched int64
	for _, t := range tokens {
		switch t.Kind {
		case delta.TokenLiteral:
			literal += int64(len(t.Literal))
		case delta.TokenCopy:
			matched += int64(sig.Layout.BlockLength(t.BlockIndex))
		}
	}
	stats.AddDeltaShare(literal, matched)
	stats.AddFile(true)
	return nil
}

// report writes the end-of-transfer byte counters the receiver reads in
// its own report step: bytes read, bytes written, and total file size.
func (st *Transfer) report(stats *rsyncstats.TransferStats) error {
	if err := st.Conn.WriteInt64(stats.Read); err != nil {
		return err
	}
	if err := st.Conn.WriteInt64(stats.Written); err != nil {
		return err
	}
	return st.Conn.WriteInt64(stats.Size)
}
