// Package negotiate implements the staged handshake that classifies a
// newly-established transport as legacy ASCII or modern binary, selects a
// mutually supported protocol version, and exchanges the capability block
// that follows a binary handshake.
package negotiate

import (
	"fmt"

	"github.com/deltacopy/rsync"
)

// NegotiationError reports a failure to agree on a protocol version or a
// malformed legacy greeting.
type NegotiationError struct {
	Reason      string
	PeerVersion int32
}

func (e *NegotiationError) Error() string {
	if e.PeerVersion != 0 {
		return fmt.Sprintf("negotiate: %s (version %d)", e.Reason, e.PeerVersion)
	}
	return "negotiate: " + e.Reason
}

// SelectHighestMutual picks the protocol version used for a transfer given
// the peer's advertised versions. Values above NEWEST are clamped down to
// NEWEST; zero entries are ignored (some peers pad a list with
// terminators); the highest value at or above OLDEST after clamping wins,
// whatever the order of the list, and the scan stops as soon as NEWEST is
// reached. A peer list containing only unsupported values yields an
// "unsupported protocol version" NegotiationError naming the oldest of them.
func SelectHighestMutual(peerVersions []int32) (int32, error) {
	var best int32
	for _, v := range peerVersions {
		if v == 0 {
			continue
		}
		clamped := v
		if clamped > rsync.NEWEST {
			clamped = rsync.NEWEST
		}
		if clamped >= rsync.OLDEST && clamped > best {
			best = clamped
			if best == rsync.NEWEST {
				break
			}
		}
	}
	if best != 0 {
		return best, nil
	}
	var oldest int32
	for _, v := range peerVersions {
		if v != 0 && (oldest == 0 || v < oldest) {
			oldest = v
		}
	}
	if oldest != 0 {
		return 0, &NegotiationError{Reason: "unsupported protocol version", PeerVersion: oldest}
	}
	return 0, &NegotiationError{Reason: "peer advertised no protocol versions"}
}
