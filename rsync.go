// Package rsync defines the wire-level constants and the sum-head
// structure shared by every other package in this module: the protocol
// version range, file-list flag bytes, and compatibility flag bits
// exchanged during the binary handshake.
package rsync

import "github.com/deltacopy/rsync/internal/rsyncwire"

// Protocol version bounds this implementation negotiates within. Versions
// below OLDEST are rejected; versions above NEWEST are clamped down to it.
const (
	OLDEST = 28
	NEWEST = 32

	// ProtocolVersion is the version this implementation advertises when it
	// initiates a handshake (as opposed to the version actually selected
	// once negotiation with the remote peer completes).
	ProtocolVersion = NEWEST
)

// ProtocolVersion-sensitive behavior threshold: protocol numbers at or
// above this value use the modern binary handshake and multiplexed I/O;
// below it, peers speak the legacy ASCII daemon greeting.
const BinaryHandshakeMinVersion = 30

// IsBinary reports whether protocol version v negotiates using the binary
// handshake (true) or the legacy ASCII greeting (false).
func IsBinary(v int32) bool { return v >= BinaryHandshakeMinVersion }

// File-list entry flag bits (rsync/flist.c), transmitted as the leading
// status byte (or varint, once the varint-flist-flags compat flag is in
// effect) of each FileEntry record.
const (
	FLIST_TOP_LEVEL    = 1 << 0
	FLIST_SAME_MODE    = 1 << 1
	FLIST_EXTENDED_FLAGS = 1 << 2
	FLIST_SAME_UID     = 1 << 3
	FLIST_SAME_GID     = 1 << 4
	FLIST_SAME_NAME    = 1 << 5
	FLIST_NAME_LONG    = 1 << 6
	FLIST_SAME_TIME    = 1 << 7
)

// CompatFlag is a single bit of the CompatibilityFlags bitset exchanged
// during the binary handshake. Bits not understood by a peer are ignored
// by that peer, per upstream convention; this implementation only acts on
// the bits it recognizes.
type CompatFlag uint32

const (
	// CompatIncRecurse enables incremental (streaming) file-list recursion
	// instead of building the entire list up front.
	CompatIncRecurse CompatFlag = 1 << iota
	// CompatSymlinkTimes preserves symlink mtimes.
	CompatSymlinkTimes
	// CompatSymlinkIconv signals iconv-aware symlink target transmission.
	CompatSymlinkIconv
	// CompatSafeFlist enables the safe-file-list termination convention
	// (an alternate terminator conveys a sender-side I/O error).
	CompatSafeFlist
	// CompatAvoidXattrOptim disables an xattr transmission optimization
	// unrelated to this core, kept only for bit-position compatibility.
	CompatAvoidXattrOptim
	// CompatChecksumSeedFix selects proper MD5 seed ordering (seed hashed
	// before the payload) instead of the legacy ordering.
	CompatChecksumSeedFix
	// CompatFileFlags64 widens certain file-list integer fields.
	CompatFileFlags64
	// CompatVarintFlistFlags switches the file-list flag byte to a varint.
	CompatVarintFlistFlags
	// CompatIDZeroNames transmits an explicit name for uid/gid 0 following
	// each id-list terminator.
	CompatIDZeroNames
)

// Has reports whether flag is present in the set f.
func (f CompatFlag) Has(flag CompatFlag) bool { return f&flag != 0 }

// SumHead is the 16-byte preamble of a signature transmission: see
// spec §6.1 "Sum-head". It precedes ChecksumCount records of
// (rolling int32, strong digest) pairs.
type SumHead struct {
	// ChecksumCount is the number of per-block signature records that
	// follow ("how many chunks" in upstream rsync's nomenclature).
	ChecksumCount int32
	// BlockLength is the block size in bytes used for every block except
	// possibly the last.
	BlockLength int32
	// ChecksumLength is the length, in bytes, of each strong digest.
	ChecksumLength int32
	// RemainderLength is file_len mod BlockLength; the length of the final,
	// possibly-short block.
	RemainderLength int32
}

// ReadFrom reads a SumHead from c in wire order.
func (s *SumHead) ReadFrom(c *rsyncwire.Conn) error {
	var err error
	if s.ChecksumCount, err = c.ReadInt32(); err != nil {
		return err
	}
	if s.BlockLength, err = c.ReadInt32(); err != nil {
		return err
	}
	if s.ChecksumLength, err = c.ReadInt32(); err != nil {
		return err
	}
	if s.RemainderLength, err = c.ReadInt32(); err != nil {
		return err
	}
	return nil
}

// WriteTo writes a SumHead to c in wire order.
func (s SumHead) WriteTo(c *rsyncwire.Conn) error {
	if err := c.WriteInt32(s.ChecksumCount); err != nil {
		return err
	}
	if err := c.WriteInt32(s.BlockLength); err != nil {
		return err
	}
	if err := c.WriteInt32(s.ChecksumLength); err != nil {
		return err
	}
	if err := c.WriteInt32(s.RemainderLength); err != nil {
		return err
	}
	return nil
}
