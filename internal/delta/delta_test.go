package delta_test

import (
	"bytes"
	"testing"

	"github.com/deltacopy/rsync/internal/delta"
	"github.com/deltacopy/rsync/internal/rsyncchecksum"
	"github.com/deltacopy/rsync/internal/rsyncwire"
	"github.com/deltacopy/rsync/internal/signature"
	"github.com/stretchr/testify/require"
)

func hasher() *rsyncchecksum.StrongHasher {
	return rsyncchecksum.NewStrongHasher(rsyncchecksum.MD5, nil, rsyncchecksum.SeedBeforeData)
}

// roundTrip builds a delta of src against basis, applies it, and returns
// the reconstructed bytes along with the token sequence the builder chose.
func roundTrip(t *testing.T, basis, src []byte, blockLen int32) ([]byte, []delta.Token) {
	t.Helper()
	layout, err := signature.CalculateLayout(int64(len(basis)), 32, blockLen)
	require.NoError(t, err)
	sig, err := signature.Generate(bytes.NewReader(basis), layout, hasher())
	require.NoError(t, err)
	idx := signature.BuildIndex(sig)

	var wire bytes.Buffer
	wc := &rsyncwire.Conn{Reader: &wire, Writer: &wire}
	tokens, err := delta.Build(wc, src, idx, hasher())
	require.NoError(t, err)

	var dst bytes.Buffer
	err = delta.Apply(wc, &dst, bytes.NewReader(basis), sig.Layout, hasher())
	require.NoError(t, err)
	return dst.Bytes(), tokens
}

func TestIdenticalFilesYieldOnlyCopiesAscending(t *testing.T) {
	data := []byte("0123456789ABCDEF") // 16 bytes, block_len 16 -> one block
	got, tokens := roundTrip(t, data, data, 16)
	require.Equal(t, data, got)
	require.Len(t, tokens, 1)
	require.Equal(t, delta.TokenCopy, tokens[0].Kind)
	require.EqualValues(t, 0, tokens[0].BlockIndex)
}

func TestSingleBlockIdentical(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	got, tokens := roundTrip(t, data, data, 16)
	require.Equal(t, data, got)
	require.Len(t, tokens, 1)
	require.Equal(t, delta.TokenCopy, tokens[0].Kind)
}

func TestPrependLiteral(t *testing.T) {
	basis := []byte("hello world")
	src := append([]byte("X"), basis...)
	got, tokens := roundTrip(t, basis, src, 4)
	require.Equal(t, src, got)
	require.Equal(t, delta.TokenLiteral, tokens[0].Kind)
}

func TestRollingMatchAtOffsetOne(t *testing.T) {
	basis := []byte("abcdabcd")
	src := []byte("XabcdabcdY")
	got, tokens := roundTrip(t, basis, src, 4)
	require.Equal(t, src, got)
	// The two basis blocks are byte-for-byte identical ("abcd" twice), so
	// the lowest-index tie-break (spec invariant) picks block 0 both
	// times; either choice reconstructs the same bytes.
	require.Equal(t, delta.TokenLiteral, tokens[0].Kind)
	require.Equal(t, []byte("X"), tokens[0].Literal)
	require.Equal(t, delta.TokenCopy, tokens[1].Kind)
	require.Equal(t, delta.TokenCopy, tokens[2].Kind)
	require.Equal(t, delta.TokenLiteral, tokens[3].Kind)
	require.Equal(t, []byte("Y"), tokens[3].Literal)
}

func TestEmptySource(t *testing.T) {
	basis := []byte("some basis content")
	got, tokens := roundTrip(t, basis, nil, 8)
	require.Empty(t, got)
	require.Empty(t, tokens)
}

func TestSourceSmallerThanBlockLen(t *testing.T) {
	basis := []byte("0123456789ABCDEF")
	src := []byte("0123")
	got, tokens := roundTrip(t, basis, src, 16)
	require.Equal(t, src, got)
	require.NotEmpty(t, tokens)
}

func TestTailBlockShorterThanBlockLen(t *testing.T) {
	basis := []byte("0123456789")
	got, tokens := roundTrip(t, basis, basis, 4)
	require.Equal(t, basis, got)
	last := tokens[len(tokens)-1]
	require.Equal(t, delta.TokenCopy, last.Kind)
}

func TestApplyRejectsChecksumMismatch(t *testing.T) {
	basis := []byte("0123456789ABCDEF")
	layout, err := signature.CalculateLayout(int64(len(basis)), 32, 16)
	require.NoError(t, err)
	sig, err := signature.Generate(bytes.NewReader(basis), layout, hasher())
	require.NoError(t, err)

	var wire bytes.Buffer
	wc := &rsyncwire.Conn{Reader: &wire, Writer: &wire}
	require.NoError(t, delta.WriteLiteral(wc, []byte("not the original content")))
	require.NoError(t, delta.WriteDone(wc))
	_, err = wc.Writer.Write(make([]byte, 16)) // bogus all-zero digest

	var dst bytes.Buffer
	err = delta.Apply(wc, &dst, bytes.NewReader(basis), sig.Layout, hasher())
	require.Error(t, err)
}

func TestApplyRejectsOutOfRangeBlockReference(t *testing.T) {
	var wire bytes.Buffer
	wc := &rsyncwire.Conn{Reader: &wire, Writer: &wire}
	require.NoError(t, delta.WriteCopy(wc, 5))

	layout := signature.Layout{BlockLen: 16, BlockCount: 2, StrongSumLen: 16}
	var dst bytes.Buffer
	err := delta.Apply(wc, &dst, bytes.NewReader(make([]byte, 32)), layout, hasher())
	require.Error(t, err)
}
