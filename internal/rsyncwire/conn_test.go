package rsyncwire_test

import (
	"bytes"
	"testing"

	"github.com/deltacopy/rsync/internal/rsyncwire"
	"github.com/stretchr/testify/require"
)

func conn(buf *bytes.Buffer) *rsyncwire.Conn {
	return &rsyncwire.Conn{Reader: buf, Writer: buf}
}

func TestInt32RoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 1<<31 - 1, -(1 << 31)} {
		var buf bytes.Buffer
		c := conn(&buf)
		require.NoError(t, c.WriteInt32(v))
		got, err := c.ReadInt32()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestInt64RoundTripSmallUsesInt32Encoding(t *testing.T) {
	var buf bytes.Buffer
	c := conn(&buf)
	require.NoError(t, c.WriteInt64(1234))
	require.Len(t, buf.Bytes(), 4, "small values should not trigger the 64-bit escape")
	got, err := c.ReadInt64()
	require.NoError(t, err)
	require.EqualValues(t, 1234, got)
}

func TestInt64RoundTripLargeUsesEscape(t *testing.T) {
	var buf bytes.Buffer
	c := conn(&buf)
	big := int64(1) << 40
	require.NoError(t, c.WriteInt64(big))
	require.Len(t, buf.Bytes(), 12, "large values use the -1 sentinel plus 8 bytes")
	got, err := c.ReadInt64()
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestVStringRoundTrip(t *testing.T) {
	cases := []string{"", "short", string(make([]byte, 200))}
	for _, s := range cases {
		var buf bytes.Buffer
		c := conn(&buf)
		require.NoError(t, c.WriteVString(s))
		got, err := c.ReadVString()
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestUvarintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 1 << 20, 1 << 63} {
		var buf bytes.Buffer
		c := conn(&buf)
		require.NoError(t, c.WriteUvarint(v))
		got, err := c.ReadUvarint()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}
