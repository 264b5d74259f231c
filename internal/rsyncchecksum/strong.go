package rsyncchecksum

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash"

	"github.com/cespare/xxhash/v2"
	"github.com/deltacopy/rsync"
	"github.com/mmcloughlin/md4"
	"github.com/zeebo/xxh3"
)

// Algorithm identifies one of the strong-checksum choices negotiable via
// --checksum-choice.
type Algorithm int

const (
	MD4 Algorithm = iota
	MD5
	SHA1
	XXH64
	XXH3
	XXH3_128
)

func (a Algorithm) String() string {
	switch a {
	case MD4:
		return "md4"
	case MD5:
		return "md5"
	case SHA1:
		return "sha1"
	case XXH64:
		return "xxh64"
	case XXH3:
		return "xxh3"
	case XXH3_128:
		return "xxh3_128"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// Size returns the digest length in bytes produced by a.
func (a Algorithm) Size() int {
	switch a {
	case MD4, MD5:
		return 16
	case SHA1:
		return 20
	case XXH64:
		return 8
	case XXH3:
		return 8
	case XXH3_128:
		return 16
	default:
		return 0
	}
}

// SeedOrdering controls whether the checksum seed is mixed in before or
// after the data when an algorithm is seeded. The legacy ordering (no
// negotiated CompatChecksumSeedFix) mixes MD5 seed-last, after the
// payload; CompatChecksumSeedFix switches to seed-first to avoid a
// length-extension weakness the original rsync carried for years.
type SeedOrdering int

const (
	SeedBeforeData SeedOrdering = iota
	SeedAfterData
)

// StrongHasher computes a whole-block or whole-file strong digest,
// optionally salted with the per-session checksum seed.
type StrongHasher struct {
	algo     Algorithm
	seed     []byte
	ordering SeedOrdering
}

// NewStrongHasher builds a hasher for algo, salting with seed (may be
// nil/empty for an unseeded transfer) in the given order.
func NewStrongHasher(algo Algorithm, seed []byte, ordering SeedOrdering) *StrongHasher {
	return &StrongHasher{algo: algo, seed: seed, ordering: ordering}
}

// Sum computes the strong digest of data under the configured algorithm,
// seed and ordering.
func (h *StrongHasher) Sum(data []byte) []byte {
	switch h.algo {
	case XXH64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], xxhash.Sum64(h.seeded(data)))
		return b[:]
	case XXH3:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], xxh3.Hash(h.seeded(data)))
		return b[:]
	case XXH3_128:
		sum := xxh3.Hash128(h.seeded(data))
		b := make([]byte, 16)
		binary.LittleEndian.PutUint64(b[0:8], sum.Lo)
		binary.LittleEndian.PutUint64(b[8:16], sum.Hi)
		return b
	default:
		hh := h.newHash()
		if h.ordering == SeedBeforeData {
			hh.Write(h.seed)
			hh.Write(data)
		} else {
			hh.Write(data)
			hh.Write(h.seed)
		}
		return hh.Sum(nil)
	}
}

// seeded concatenates the seed and data for the xxhash family, which has
// no incremental seed-write API worth bothering with at these sizes.
func (h *StrongHasher) seeded(data []byte) []byte {
	if len(h.seed) == 0 {
		return data
	}
	switch h.ordering {
	case SeedBeforeData:
		buf := make([]byte, 0, len(h.seed)+len(data))
		buf = append(buf, h.seed...)
		buf = append(buf, data...)
		return buf
	default:
		buf := make([]byte, 0, len(h.seed)+len(data))
		buf = append(buf, data...)
		buf = append(buf, h.seed...)
		return buf
	}
}

func (h *StrongHasher) newHash() hash.Hash {
	switch h.algo {
	case MD4:
		return md4.New()
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	default:
		panic(fmt.Sprintf("rsyncchecksum: newHash called for streaming algorithm %s", h.algo))
	}
}

// StreamHasher is the incremental counterpart to StrongHasher.Sum, used
// when the data to digest arrives piecewise (e.g. a delta applier
// verifying the whole reconstructed file as tokens are written) instead
// of as one buffer.
type StreamHasher struct {
	algo     Algorithm
	ordering SeedOrdering
	seed     []byte
	h        hash.Hash
}

// NewStream starts a new incremental digest under h's algorithm, seed and
// ordering. For SeedBeforeData the seed is hashed immediately; for
// SeedAfterData it is deferred until Sum.
func (h *StrongHasher) NewStream() *StreamHasher {
	var hh hash.Hash
	switch h.algo {
	case MD4:
		hh = md4.New()
	case MD5:
		hh = md5.New()
	case SHA1:
		hh = sha1.New()
	case XXH64:
		hh = xxhash.New()
	case XXH3, XXH3_128:
		hh = xxh3.New()
	}
	s := &StreamHasher{algo: h.algo, ordering: h.ordering, seed: h.seed, h: hh}
	if h.ordering == SeedBeforeData && len(h.seed) > 0 {
		s.h.Write(h.seed)
	}
	return s
}

// Write feeds the next chunk of reconstructed data into the digest.
func (s *StreamHasher) Write(p []byte) (int, error) { return s.h.Write(p) }

// Sum finalizes and returns the digest, writing the seed first if the
// configured ordering deferred it.
func (s *StreamHasher) Sum() []byte {
	if s.ordering == SeedAfterData && len(s.seed) > 0 {
		s.h.Write(s.seed)
	}
	switch s.algo {
	case XXH64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], s.h.(*xxhash.Digest).Sum64())
		return b[:]
	case XXH3:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], s.h.(*xxh3.Hasher).Sum64())
		return b[:]
	case XXH3_128:
		sum := s.h.(*xxh3.Hasher).Sum128()
		b := make([]byte, 16)
		binary.LittleEndian.PutUint64(b[0:8], sum.Lo)
		binary.LittleEndian.PutUint64(b[8:16], sum.Hi)
		return b
	default:
		return s.h.Sum(nil)
	}
}

// DefaultAlgorithm picks the whole-file strong checksum algorithm rsync
// uses absent an explicit negotiated choice: MD4 below protocol 30, MD5
// with the legacy seed-after-data ordering at or above it. Callers with a
// negotiated CompatFlag should use SelectAlgorithm instead, which upgrades
// the seed ordering when the peer has fixed the MD5 seeding weakness.
func DefaultAlgorithm(protocolVersion int32) (Algorithm, SeedOrdering) {
	if protocolVersion < 30 {
		return MD4, SeedBeforeData
	}
	return MD5, SeedAfterData
}

// SelectAlgorithm picks the whole-file strong checksum algorithm and seed
// ordering for a session, taking the peer's negotiated compatibility flags
// into account: MD5 defaults to the legacy seed-after-data ordering unless
// the session negotiated rsync.CompatChecksumSeedFix, in which case the
// fixed seed-before-data ordering is used instead.
func SelectAlgorithm(protocolVersion int32, compatFlags rsync.CompatFlag) (Algorithm, SeedOrdering) {
	algo, ordering := DefaultAlgorithm(protocolVersion)
	if algo == MD5 && compatFlags.Has(rsync.CompatChecksumSeedFix) {
		ordering = SeedBeforeData
	}
	return algo, ordering
}

// SeedBytes encodes the session checksum seed (exchanged on the wire as a
// little-endian int32) into the byte form StrongHasher mixes into every
// digest.
func SeedBytes(seed int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(seed))
	return b[:]
}
