package signature_test

import (
	"bytes"
	"testing"

	"github.com/deltacopy/rsync/internal/rsyncchecksum"
	"github.com/deltacopy/rsync/internal/rsyncwire"
	"github.com/deltacopy/rsync/internal/signature"
	"github.com/stretchr/testify/require"
)

func TestCalculateLayoutZeroLength(t *testing.T) {
	l, err := signature.CalculateLayout(0, 32, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, l.BlockCount)
	require.EqualValues(t, 0, l.Remainder)
}

func TestCalculateLayoutHonorsOverride(t *testing.T) {
	l, err := signature.CalculateLayout(10000, 32, 256)
	require.NoError(t, err)
	require.EqualValues(t, 256, l.BlockLen)
	require.EqualValues(t, 40, l.BlockCount) // not an exact multiple: 10000/256 = 39.06 -> 40
}

func TestCalculateLayoutSqrtHeuristicIsMultipleOf8(t *testing.T) {
	l, err := signature.CalculateLayout(1 << 20, 32, 0)
	require.NoError(t, err)
	require.Zero(t, l.BlockLen%8)
	require.GreaterOrEqual(t, l.BlockLen, int32(700))
}

func TestBlockLengthTailIsRemainder(t *testing.T) {
	l, err := signature.CalculateLayout(100, 32, 16)
	require.NoError(t, err)
	require.EqualValues(t, 16, l.BlockLen)
	require.EqualValues(t, 7, l.BlockCount)
	require.EqualValues(t, 4, l.Remainder)
	require.EqualValues(t, 16, l.BlockLength(0))
	require.EqualValues(t, 4, l.BlockLength(l.BlockCount-1))
}

func TestGenerateAndWireRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 20) // 320 bytes
	layout, err := signature.CalculateLayout(int64(len(data)), 32, 32)
	require.NoError(t, err)

	hasher := rsyncchecksum.NewStrongHasher(rsyncchecksum.MD5, nil, rsyncchecksum.SeedBeforeData)
	sig, err := signature.Generate(bytes.NewReader(data), layout, hasher)
	require.NoError(t, err)
	require.Len(t, sig.Blocks, int(layout.BlockCount))

	var buf bytes.Buffer
	c := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	require.NoError(t, sig.WriteTo(c))

	got, err := signature.Read(c)
	require.NoError(t, err)
	require.Equal(t, sig.Layout.BlockCount, got.Layout.BlockCount)
	require.Equal(t, sig.Layout.BlockLen, got.Layout.BlockLen)
	require.Equal(t, sig.Layout.Remainder, got.Layout.Remainder)
	for i := range sig.Blocks {
		require.Equal(t, sig.Blocks[i].Rolling, got.Blocks[i].Rolling)
		require.Equal(t, sig.Blocks[i].Strong, got.Blocks[i].Strong)
	}
}

func TestIndexMatchPicksLowestIndexOnCollision(t *testing.T) {
	block := []byte("0123456789abcdef")
	sig := signature.FileSignature{
		Layout: signature.Layout{BlockLen: 16, BlockCount: 3, StrongSumLen: 16},
		Blocks: []signature.BlockSignature{
			{Rolling: 42, Strong: []byte("strongA---------")[:16]},
			{Rolling: 42, Strong: []byte("strongA---------")[:16]},
			{Rolling: 99, Strong: []byte("strongB---------")[:16]},
		},
	}
	idx := signature.BuildIndex(sig)
	i, ok := idx.Match(42, []byte("strongA---------")[:16])
	require.True(t, ok)
	require.EqualValues(t, 0, i)
	_ = block
}

func TestIndexMatchNoCandidate(t *testing.T) {
	idx := signature.BuildIndex(signature.FileSignature{})
	_, ok := idx.Match(1, []byte("x"))
	require.False(t, ok)
}
