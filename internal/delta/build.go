package delta

import (
	"github.com/deltacopy/rsync/internal/rsyncchecksum"
	"github.com/deltacopy/rsync/internal/rsyncwire"
	"github.com/deltacopy/rsync/internal/signature"
)

// Build scans src against idx, writes the resulting delta script followed
// by the terminator and the whole-file strong digest of src, and returns
// the token sequence written (useful for tests and for sender-side
// statistics; ordinary callers can ignore it).
func Build(c *rsyncwire.Conn, src []byte, idx *signature.Index, hasher *rsyncchecksum.StrongHasher) ([]Token, error) {
	tokens, err := BuildTokens(src, idx, hasher)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if err := WriteToken(c, t); err != nil {
			return nil, err
		}
	}
	if err := WriteDone(c); err != nil {
		return nil, err
	}
	digest := hasher.Sum(src)
	if _, err := c.Writer.Write(digest); err != nil {
		return nil, err
	}
	return tokens, nil
}
