package delta

import (
	"bytes"
	"fmt"
	"io"

	"github.com/deltacopy/rsync/internal/rsyncchecksum"
	"github.com/deltacopy/rsync/internal/rsyncwire"
	"github.com/deltacopy/rsync/internal/signature"
)

// Apply reads a delta script off c and reconstructs the transferred file
// into dst, resolving Copy tokens against basis (nil if there is no basis
// file, e.g. a brand-new destination). It verifies the trailing whole-file
// digest against what was actually written and returns a *DeltaError
// (reason "whole-file checksum mismatch") if it disagrees.
func Apply(c *rsyncwire.Conn, dst io.Writer, basis io.ReaderAt, layout signature.Layout, hasher *rsyncchecksum.StrongHasher) error {
	stream := hasher.NewStream()
	out := io.MultiWriter(dst, stream)
	blockBuf := make([]byte, layout.BlockLen)

	for {
		t, done, err := ReadToken(c, layout.BlockCount)
		if err != nil {
			return err
		}
		if done {
			break
		}
		switch t.Kind {
		case TokenLiteral:
			if _, err := out.Write(t.Literal); err != nil {
				return err
			}
		case TokenCopy:
			if basis == nil {
				return &DeltaError{Reason: "copy token received with no basis file open"}
			}
			length := layout.BlockLength(t.BlockIndex)
			buf := blockBuf[:length]
			if _, err := basis.ReadAt(buf, layout.Offset(t.BlockIndex)); err != nil {
				return &DeltaError{Reason: fmt.Sprintf("reading basis block %d: %v", t.BlockIndex, err)}
			}
			if _, err := out.Write(buf); err != nil {
				return err
			}
		}
	}

	want, err := c.ReadN(int(layout.StrongSumLen))
	if err != nil {
		return err
	}
	got := stream.Sum()
	if !bytes.Equal(got, want) {
		return &DeltaError{Reason: "whole-file checksum mismatch"}
	}
	return nil
}
