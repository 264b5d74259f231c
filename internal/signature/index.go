package signature

// Index is a two-level lookup built by the sender from a received
// FileSignature. The primary key is the 16-bit s1 half of the rolling
// checksum; each bucket holds the block indices whose full rolling value
// matches, so a caller can cheaply test candidacy before paying for a
// strong-digest comparison.
type Index struct {
	sig     FileSignature
	buckets map[uint16][]int32
}

// BuildIndex constructs an Index over sig.
func BuildIndex(sig FileSignature) *Index {
	idx := &Index{sig: sig, buckets: make(map[uint16][]int32, len(sig.Blocks))}
	for i, b := range sig.Blocks {
		s1 := uint16(b.Rolling & 0xffff)
		idx.buckets[s1] = append(idx.buckets[s1], int32(i))
	}
	return idx
}

// Candidates returns the block indices whose rolling value's low 16 bits
// equal s1, in ascending order (ascending because BuildIndex appends in
// scan order and block indices only increase).
func (idx *Index) Candidates(s1 uint16) []int32 {
	return idx.buckets[s1]
}

// Match narrows rolling-value candidates down to the blocks whose full
// 32-bit rolling value matches, then returns the lowest such index whose
// strong digest equals strong. ok is false if no block matches both.
func (idx *Index) Match(rolling uint32, strong []byte) (blockIndex int32, ok bool) {
	for _, i := range idx.RollingCandidates(rolling) {
		if bytesEqual(idx.sig.Blocks[i].Strong, strong) {
			return i, true
		}
	}
	return 0, false
}

// RollingCandidates returns, in ascending block-index order, every block
// whose full 32-bit rolling value equals rolling. Cheaper than Match: it
// lets a caller skip computing a strong digest entirely when no block's
// weak checksum agrees.
func (idx *Index) RollingCandidates(rolling uint32) []int32 {
	var out []int32
	for _, i := range idx.Candidates(uint16(rolling & 0xffff)) {
		if idx.sig.Blocks[i].Rolling == rolling {
			out = append(out, i)
		}
	}
	return out
}

// StrongAt returns the strong digest recorded for block i.
func (idx *Index) StrongAt(i int32) []byte {
	return idx.sig.Blocks[i].Strong
}

// BlockLength returns the length of block i under the indexed signature's
// layout.
func (idx *Index) BlockLength(i int32) int32 { return idx.sig.Layout.BlockLength(i) }

// BlockCount returns the number of blocks in the indexed signature.
func (idx *Index) BlockCount() int32 { return int32(len(idx.sig.Blocks)) }

// Layout returns the layout of the indexed signature.
func (idx *Index) Layout() Layout { return idx.sig.Layout }

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
