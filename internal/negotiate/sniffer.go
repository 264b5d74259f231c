package negotiate

import (
	"bytes"
	"io"
)

// legacyPrefix is the canonical ASCII daemon greeting prefix that
// distinguishes a legacy negotiation from a binary one.
const legacyPrefix = "@RSYNCD:"

// Decision reports how a transport's opening bytes were classified.
type Decision int

const (
	DecisionUnknown Decision = iota
	DecisionLegacyAscii
	DecisionBinary
)

// NegotiationPrologueSniffer reads one byte at a time from an underlying
// transport until it can classify the handshake, buffering everything it
// reads so those bytes can be replayed to later readers via Stream.
type NegotiationPrologueSniffer struct {
	r        io.Reader
	buffered []byte
	decision Decision
}

// NewSniffer wraps r for prologue classification.
func NewSniffer(r io.Reader) *NegotiationPrologueSniffer {
	return &NegotiationPrologueSniffer{r: r}
}

// Sniff reads and buffers bytes from the transport until it can classify
// the handshake as legacy ASCII (the full "@RSYNCD:" prefix was observed)
// or binary (a byte was read that rules the legacy prefix out).
func (s *NegotiationPrologueSniffer) Sniff() (Decision, error) {
	buf := make([]byte, 1)
	for len(s.buffered) < len(legacyPrefix) {
		if _, err := io.ReadFull(s.r, buf); err != nil {
			return DecisionUnknown, err
		}
		s.buffered = append(s.buffered, buf[0])
		if !bytes.HasPrefix([]byte(legacyPrefix), s.buffered) {
			s.decision = DecisionBinary
			return s.decision, nil
		}
	}
	s.decision = DecisionLegacyAscii
	return s.decision, nil
}

// SniffedPrefix returns every byte consumed from the transport so far.
func (s *NegotiationPrologueSniffer) SniffedPrefix() []byte {
	return append([]byte(nil), s.buffered...)
}

// Stream returns a NegotiatedStream that replays the sniffed bytes before
// forwarding reads to the underlying transport.
func (s *NegotiationPrologueSniffer) Stream() *NegotiatedStream {
	return &NegotiatedStream{r: s.r, replay: s.buffered}
}

// NegotiatedStream is a tee-pattern reader: it first replays a buffered
// prefix (captured by the sniffer) exactly once, byte for byte, then
// forwards subsequent reads straight to the underlying transport.
type NegotiatedStream struct {
	r        io.Reader
	replay   []byte
	consumed int64
}

// Read implements io.Reader.
func (n *NegotiatedStream) Read(p []byte) (int, error) {
	if n.consumed < int64(len(n.replay)) {
		c := copy(p, n.replay[n.consumed:])
		n.consumed += int64(c)
		return c, nil
	}
	return n.r.Read(p)
}

// BufferedConsumed reports how many of the replayed prefix bytes have
// already been handed out through Read.
func (n *NegotiatedStream) BufferedConsumed() int64 { return n.consumed }

// BufferedRemaining reports how many replayed prefix bytes are still
// pending. BufferedConsumed()+BufferedRemaining() == len(replay) always.
func (n *NegotiatedStream) BufferedRemaining() int64 {
	return int64(len(n.replay)) - n.consumed
}
