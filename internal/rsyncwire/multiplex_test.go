package rsyncwire_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/deltacopy/rsync/internal/rsyncwire"
	"github.com/stretchr/testify/require"
)

func TestMultiplexRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := &rsyncwire.MultiplexWriter{Writer: &buf}

	var warnings [][]byte
	r := &rsyncwire.MultiplexReader{
		Reader: &buf,
		Handler: func(tag rsyncwire.MsgTag, payload []byte) {
			if tag == rsyncwire.MsgWarning {
				warnings = append(warnings, payload)
			}
		},
	}

	_, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	require.NoError(t, w.WriteMsg(rsyncwire.MsgWarning, []byte("careful")))
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)

	got, err := io.ReadAll(io.LimitReader(r, 11))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
	require.Equal(t, [][]byte{[]byte("careful")}, warnings)
}
