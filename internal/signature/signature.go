package signature

import (
	"fmt"
	"io"

	"github.com/deltacopy/rsync"
	"github.com/deltacopy/rsync/internal/rsyncchecksum"
	"github.com/deltacopy/rsync/internal/rsyncwire"
)

// BlockSignature is the (rolling, strong) pair recorded for one block.
type BlockSignature struct {
	Rolling uint32
	Strong  []byte
}

// FileSignature is the ordered per-block signature of a basis file.
type FileSignature struct {
	Layout Layout
	Blocks []BlockSignature
}

// Generate scans r once, producing one BlockSignature per block of layout.
// hasher determines the strong digest used for disambiguation.
func Generate(r io.Reader, layout Layout, hasher *rsyncchecksum.StrongHasher) (FileSignature, error) {
	sig := FileSignature{Layout: layout, Blocks: make([]BlockSignature, 0, layout.BlockCount)}
	if layout.BlockCount == 0 {
		return sig, nil
	}
	buf := make([]byte, layout.BlockLen)
	for i := int32(0); i < layout.BlockCount; i++ {
		want := int(layout.BlockLength(i))
		if _, err := io.ReadFull(r, buf[:want]); err != nil {
			return FileSignature{}, fmt.Errorf("signature: reading block %d: %w", i, err)
		}
		window := buf[:want]
		sig.Blocks = append(sig.Blocks, BlockSignature{
			Rolling: rsyncchecksum.New(window).Value(),
			Strong:  hasher.Sum(window),
		})
	}
	return sig, nil
}

// SumHead returns the wire sum-head describing this signature.
func (s FileSignature) SumHead() rsync.SumHead {
	return rsync.SumHead{
		ChecksumCount:   int32(len(s.Blocks)),
		BlockLength:     s.Layout.BlockLen,
		ChecksumLength:  s.Layout.StrongSumLen,
		RemainderLength: s.Layout.Remainder,
	}
}

// WriteTo writes the sum-head followed by every block signature.
func (s FileSignature) WriteTo(c *rsyncwire.Conn) error {
	if err := s.SumHead().WriteTo(c); err != nil {
		return err
	}
	for i, b := range s.Blocks {
		if len(b.Strong) != int(s.Layout.StrongSumLen) {
			return fmt.Errorf("signature: block %d strong digest length %d != declared %d", i, len(b.Strong), s.Layout.StrongSumLen)
		}
		if err := c.WriteInt32(int32(b.Rolling)); err != nil {
			return err
		}
		if _, err := c.Writer.Write(b.Strong); err != nil {
			return err
		}
	}
	return nil
}

// Read reads a sum-head followed by its block signatures.
func Read(c *rsyncwire.Conn) (FileSignature, error) {
	var head rsync.SumHead
	if err := head.ReadFrom(c); err != nil {
		return FileSignature{}, fmt.Errorf("signature: reading sum-head: %w", err)
	}
	if head.ChecksumCount < 0 {
		return FileSignature{}, fmt.Errorf("signature: negative block count %d", head.ChecksumCount)
	}
	if head.ChecksumLength < 0 || head.ChecksumLength > 64 {
		return FileSignature{}, fmt.Errorf("signature: implausible strong_sum_length %d", head.ChecksumLength)
	}

	layout := Layout{
		BlockLen:     head.BlockLength,
		BlockCount:   head.ChecksumCount,
		Remainder:    head.RemainderLength,
		StrongSumLen: head.ChecksumLength,
	}
	strongLen := head.ChecksumLength
	blocks := make([]BlockSignature, head.ChecksumCount)
	for i := int32(0); i < head.ChecksumCount; i++ {
		rolling, err := c.ReadInt32()
		if err != nil {
			return FileSignature{}, fmt.Errorf("signature: reading rolling value for block %d: %w", i, err)
		}
		strong, err := c.ReadN(int(strongLen))
		if err != nil {
			return FileSignature{}, fmt.Errorf("signature: reading strong digest for block %d: %w", i, err)
		}
		blocks[i] = BlockSignature{Rolling: uint32(rolling), Strong: append([]byte(nil), strong...)}
	}
	return FileSignature{Layout: layout, Blocks: blocks}, nil
}
