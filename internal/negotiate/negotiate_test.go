package negotiate_test

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/deltacopy/rsync/internal/negotiate"
	"github.com/deltacopy/rsync/internal/rsyncchecksum"
	"github.com/deltacopy/rsync/internal/rsyncwire"
	"github.com/stretchr/testify/require"
)

func TestSelectHighestMutualDowngrade(t *testing.T) {
	v, err := negotiate.SelectHighestMutual([]int32{31})
	require.NoError(t, err)
	require.EqualValues(t, 31, v)
}

func TestSelectHighestMutualRejectsBelowOldest(t *testing.T) {
	_, err := negotiate.SelectHighestMutual([]int32{27})
	require.Error(t, err)
}

func TestSelectHighestMutualClampsFutureAndIgnoresZero(t *testing.T) {
	v, err := negotiate.SelectHighestMutual([]int32{40, 0})
	require.NoError(t, err)
	require.EqualValues(t, 32, v)
}

func TestSnifferClassifiesLegacyAndReplaysExactlyOnce(t *testing.T) {
	input := "@RSYNCD: 31.0\nreply"
	sniffer := negotiate.NewSniffer(strings.NewReader(input))
	decision, err := sniffer.Sniff()
	require.NoError(t, err)
	require.Equal(t, negotiate.DecisionLegacyAscii, decision)
	require.Equal(t, "@RSYNCD:", string(sniffer.SniffedPrefix()))

	stream := sniffer.Stream()
	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, input, string(got))
}

func TestNegotiatedStreamBufferedCountersSumToTotal(t *testing.T) {
	sniffer := negotiate.NewSniffer(strings.NewReader("@RSYNCD: 31.0\nrest"))
	_, err := sniffer.Sniff()
	require.NoError(t, err)
	stream := sniffer.Stream()

	total := stream.BufferedRemaining()
	buf := make([]byte, 3)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	require.EqualValues(t, n, stream.BufferedConsumed())
	require.Equal(t, total, stream.BufferedConsumed()+stream.BufferedRemaining())
}

func TestSnifferClassifiesBinary(t *testing.T) {
	sniffer := negotiate.NewSniffer(strings.NewReader("\x1e\x00\x00\x00rest"))
	decision, err := sniffer.Sniff()
	require.NoError(t, err)
	require.Equal(t, negotiate.DecisionBinary, decision)
}

func TestParseLegacyGreetingWithSubversionAndDigests(t *testing.T) {
	g, err := negotiate.ParseLegacyGreeting("@RSYNCD: 31.0 md4 md5")
	require.NoError(t, err)
	require.EqualValues(t, 31, g.Version)
	require.EqualValues(t, 0, g.SubVersion)
	require.Equal(t, []string{"md4", "md5"}, g.DigestNames)
}

func TestParseLegacyControlLines(t *testing.T) {
	ok, err := negotiate.ParseLegacyControlLine("@RSYNCD: OK")
	require.NoError(t, err)
	require.Equal(t, negotiate.LegacyControlOK, ok.Kind)

	auth, err := negotiate.ParseLegacyControlLine("@RSYNCD: AUTHREQD abc123")
	require.NoError(t, err)
	require.Equal(t, negotiate.LegacyControlAuthRequired, auth.Kind)
	require.Equal(t, "abc123", auth.Challenge)

	errLine, err := negotiate.ParseLegacyControlLine("@ERROR: access denied")
	require.NoError(t, err)
	require.Equal(t, negotiate.LegacyControlError, errLine.Kind)
	require.Equal(t, "access denied", errLine.Message)
}

func TestReadLegacyLineFromBufio(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("@RSYNCD: 30\nrest"))
	line, err := negotiate.ReadLegacyLine(r)
	require.NoError(t, err)
	require.Equal(t, "@RSYNCD: 30", line)
}

func TestCapabilitiesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	want := negotiate.Capabilities{
		ChecksumAlgorithms:    []rsyncchecksum.Algorithm{rsyncchecksum.MD5, rsyncchecksum.XXH3},
		CompressionAlgorithms: []negotiate.CompressionAlgorithm{negotiate.CompressionZlib},
		CompatFlags:           0x15,
	}
	require.NoError(t, negotiate.WriteCapabilities(c, want))
	got, err := negotiate.ReadCapabilities(c)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestNegotiateChecksumAlgorithmPrefersLocalOrder(t *testing.T) {
	local := []rsyncchecksum.Algorithm{rsyncchecksum.XXH3, rsyncchecksum.MD5}
	peer := []rsyncchecksum.Algorithm{rsyncchecksum.MD5, rsyncchecksum.XXH3}
	got, err := negotiate.NegotiateChecksumAlgorithm(local, peer)
	require.NoError(t, err)
	require.Equal(t, rsyncchecksum.XXH3, got)
}

func TestNegotiateChecksumAlgorithmNoMutual(t *testing.T) {
	_, err := negotiate.NegotiateChecksumAlgorithm(
		[]rsyncchecksum.Algorithm{rsyncchecksum.MD4},
		[]rsyncchecksum.Algorithm{rsyncchecksum.SHA1},
	)
	require.Error(t, err)
}
