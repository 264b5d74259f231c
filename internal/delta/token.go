// Package delta implements the block matcher, delta token codec, delta
// builder and delta applier that make up the transfer core.
package delta

import (
	"fmt"

	"github.com/deltacopy/rsync/internal/rsyncwire"
)

// TokenKind distinguishes the two productive delta token shapes; Done is
// the wire terminator and never appears in a token slice returned to a
// caller.
type TokenKind int

const (
	TokenLiteral TokenKind = iota
	TokenCopy
)

// Token is one entry of a delta script: either a run of literal bytes or
// a reference to a block of the basis file.
type Token struct {
	Kind       TokenKind
	Literal    []byte
	BlockIndex int32
}

// DeltaError reports a malformed or semantically invalid delta stream.
type DeltaError struct {
	Reason string
}

func (e *DeltaError) Error() string { return "delta: " + e.Reason }

// WriteLiteral writes a literal-run token: a positive length followed by
// that many bytes.
func WriteLiteral(c *rsyncwire.Conn, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) > 0x7fffffff {
		return &DeltaError{Reason: fmt.Sprintf("literal run too long: %d bytes", len(data))}
	}
	if err := c.WriteInt32(int32(len(data))); err != nil {
		return err
	}
	_, err := c.Writer.Write(data)
	return err
}

// WriteCopy writes a block-copy token referencing blockIndex.
func WriteCopy(c *rsyncwire.Conn, blockIndex int32) error {
	return c.WriteInt32(-(blockIndex + 1))
}

// WriteDone writes the delta-stream terminator.
func WriteDone(c *rsyncwire.Conn) error {
	return c.WriteInt32(0)
}

// WriteToken writes a single Token (Literal or Copy, never Done) to c.
func WriteToken(c *rsyncwire.Conn, t Token) error {
	switch t.Kind {
	case TokenLiteral:
		return WriteLiteral(c, t.Literal)
	case TokenCopy:
		return WriteCopy(c, t.BlockIndex)
	default:
		return &DeltaError{Reason: fmt.Sprintf("unknown token kind %d", t.Kind)}
	}
}

// ReadToken reads the next i32 off c and interprets it: a zero value
// reports done=true; a positive value reads that many literal bytes; a
// negative value decodes a block reference. The basis block count bounds
// the block index check when blockCount >= 0 (pass -1 to skip the check).
func ReadToken(c *rsyncwire.Conn, blockCount int32) (t Token, done bool, err error) {
	n, err := c.ReadInt32()
	if err != nil {
		return Token{}, false, err
	}
	switch {
	case n == 0:
		return Token{}, true, nil
	case n > 0:
		data, err := c.ReadN(int(n))
		if err != nil {
			return Token{}, false, err
		}
		return Token{Kind: TokenLiteral, Literal: data}, false, nil
	default:
		blockIndex := -n - 1
		if blockCount >= 0 && (blockIndex < 0 || blockIndex >= blockCount) {
			return Token{}, false, &DeltaError{Reason: fmt.Sprintf("block reference %d out of range [0,%d)", blockIndex, blockCount)}
		}
		return Token{Kind: TokenCopy, BlockIndex: blockIndex}, false, nil
	}
}
