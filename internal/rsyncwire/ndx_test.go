package rsyncwire_test

import (
	"bytes"
	"testing"

	"github.com/deltacopy/rsync/internal/rsyncwire"
	"github.com/stretchr/testify/require"
)

func TestNDXRoundTrip(t *testing.T) {
	seq := []int32{0, 1, 2, 100, 5000, 5001, -1000, 70000, rsyncwire.NDX_DONE}
	var buf bytes.Buffer
	c := conn(&buf)
	enc := rsyncwire.NewNDXCoder()
	for _, v := range seq {
		require.NoError(t, enc.WriteNDX(c, v))
	}
	dec := rsyncwire.NewNDXCoder()
	for _, want := range seq {
		got, err := dec.ReadNDX(c)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestNDXSmallPositiveDeltaIsOneByte(t *testing.T) {
	var buf bytes.Buffer
	c := conn(&buf)
	enc := rsyncwire.NewNDXCoder()
	require.NoError(t, enc.WriteNDX(c, 0))
	require.NoError(t, enc.WriteNDX(c, 5))
	require.Len(t, buf.Bytes(), 2)
}
