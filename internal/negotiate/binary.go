package negotiate

import (
	"github.com/deltacopy/rsync"
	"github.com/deltacopy/rsync/internal/rsyncchecksum"
	"github.com/deltacopy/rsync/internal/rsyncwire"
)

// CompressionAlgorithm identifies a --compress-choice candidate.
type CompressionAlgorithm int32

const (
	CompressionNone CompressionAlgorithm = iota
	CompressionZlib
	CompressionZlibX
	CompressionZstd
)

// Capabilities is the block exchanged once both sides have agreed on a
// protocol version >= rsync.BinaryHandshakeMinVersion: the checksum and
// compression algorithms each side proposes, plus the compatibility flag
// bitset. Exactly one side (the party that initiated the session) sends
// first; the other replies with its own view so both converge on the same
// intersection.
type Capabilities struct {
	ChecksumAlgorithms     []rsyncchecksum.Algorithm
	CompressionAlgorithms  []CompressionAlgorithm
	CompatFlags            rsync.CompatFlag
}

// WriteCapabilities serializes c as a length-prefixed list of algorithm
// ids for each dimension followed by the compat-flag bitset.
func WriteCapabilities(c *rsyncwire.Conn, caps Capabilities) error {
	if err := c.WriteInt32(int32(len(caps.ChecksumAlgorithms))); err != nil {
		return err
	}
	for _, a := range caps.ChecksumAlgorithms {
		if err := c.WriteInt32(int32(a)); err != nil {
			return err
		}
	}
	if err := c.WriteInt32(int32(len(caps.CompressionAlgorithms))); err != nil {
		return err
	}
	for _, a := range caps.CompressionAlgorithms {
		if err := c.WriteInt32(int32(a)); err != nil {
			return err
		}
	}
	return c.WriteInt32(int32(caps.CompatFlags))
}

// ReadCapabilities deserializes a Capabilities block written by WriteCapabilities.
func ReadCapabilities(c *rsyncwire.Conn) (Capabilities, error) {
	var caps Capabilities
	n, err := c.ReadInt32()
	if err != nil {
		return Capabilities{}, err
	}
	for i := int32(0); i < n; i++ {
		v, err := c.ReadInt32()
		if err != nil {
			return Capabilities{}, err
		}
		caps.ChecksumAlgorithms = append(caps.ChecksumAlgorithms, rsyncchecksum.Algorithm(v))
	}
	n, err = c.ReadInt32()
	if err != nil {
		return Capabilities{}, err
	}
	for i := int32(0); i < n; i++ {
		v, err := c.ReadInt32()
		if err != nil {
			return Capabilities{}, err
		}
		caps.CompressionAlgorithms = append(caps.CompressionAlgorithms, CompressionAlgorithm(v))
	}
	flags, err := c.ReadInt32()
	if err != nil {
		return Capabilities{}, err
	}
	caps.CompatFlags = rsync.CompatFlag(flags)
	return caps, nil
}

// NegotiateChecksumAlgorithm picks the first algorithm in local that also
// appears in peer, local's own preference order taking priority.
func NegotiateChecksumAlgorithm(local, peer []rsyncchecksum.Algorithm) (rsyncchecksum.Algorithm, error) {
	peerSet := make(map[rsyncchecksum.Algorithm]bool, len(peer))
	for _, a := range peer {
		peerSet[a] = true
	}
	for _, a := range local {
		if peerSet[a] {
			return a, nil
		}
	}
	return 0, &NegotiationError{Reason: "no mutually supported checksum algorithm"}
}

// NegotiateCompressionAlgorithm picks the first entry of local that peer
// also lists. Unlike NegotiateChecksumAlgorithm it never fails: with no
// mutual entry it returns CompressionNone and a nil error.
func NegotiateCompressionAlgorithm(local, peer []CompressionAlgorithm) (CompressionAlgorithm, error) {
	peerSet := make(map[CompressionAlgorithm]bool, len(peer))
	for _, a := range peer {
		peerSet[a] = true
	}
	for _, a := range local {
		if peerSet[a] {
			return a, nil
		}
	}
	return CompressionNone, nil
}

// WriteChecksumSeed writes the 32-bit checksum seed used to salt MD5/XXH
// strong digests for the remainder of the session.
func WriteChecksumSeed(c *rsyncwire.Conn, seed int32) error {
	return c.WriteInt32(seed)
}

// ReadChecksumSeed reads the checksum seed written by WriteChecksumSeed.
func ReadChecksumSeed(c *rsyncwire.Conn) (int32, error) {
	return c.ReadInt32()
}
