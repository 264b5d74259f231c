package delta

import (
	"github.com/deltacopy/rsync/internal/rsyncchecksum"
	"github.com/deltacopy/rsync/internal/signature"
)

// BuildTokens scans src against idx and returns the token sequence that
// reconstructs src from the basis file idx was built from, per the
// block-matching algorithm: a rolling scan that tests cheap weak-checksum
// candidates before ever computing a strong digest, always preferring the
// lowest-indexed block on a tie, and never letting a match's block extend
// past src's length.
func BuildTokens(src []byte, idx *signature.Index, hasher *rsyncchecksum.StrongHasher) ([]Token, error) {
	n := int32(len(src))
	if n == 0 {
		return nil, nil
	}
	blockLen := idx.Layout().BlockLen

	var tokens []Token
	literalStart := int32(0)
	pos := int32(0)
	windowLen := minI32(blockLen, n)
	rc := rsyncchecksum.New(src[pos : pos+windowLen])

	for {
		matched := int32(-1)
		if cands := idx.RollingCandidates(rc.Value()); len(cands) > 0 {
			strong := hasher.Sum(src[pos : pos+windowLen])
			for _, bi := range cands {
				if bytesEqual(idx.StrongAt(bi), strong) {
					matched = bi
					break
				}
			}
		}

		if matched >= 0 {
			if pos > literalStart {
				tokens = append(tokens, Token{Kind: TokenLiteral, Literal: copyBytes(src[literalStart:pos])})
			}
			tokens = append(tokens, Token{Kind: TokenCopy, BlockIndex: matched})
			pos += idx.BlockLength(matched)
			literalStart = pos
			if pos >= n {
				break
			}
			windowLen = minI32(blockLen, n-pos)
			rc = rsyncchecksum.New(src[pos : pos+windowLen])
			continue
		}

		if pos+windowLen >= n {
			// Window already touches EOF without matching; nothing left to try.
			break
		}

		outgoing := src[pos]
		incoming := src[pos+windowLen]
		if err := rc.Roll(outgoing, incoming); err != nil {
			return nil, err
		}
		pos++
	}

	if literalStart < n {
		tokens = append(tokens, Token{Kind: TokenLiteral, Literal: copyBytes(src[literalStart:n])})
	}
	return tokens, nil
}

func minI32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

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
