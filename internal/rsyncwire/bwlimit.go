package rsyncwire

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// BandwidthLimitedWriter throttles writes to a token-bucket rate in
// bytes/second, implementing rsync's --bwlimit. A zero-value limiter (as
// returned by NewBandwidthLimitedWriter with limit<=0) is a no-op passthrough.
type BandwidthLimitedWriter struct {
	w       io.Writer
	limiter *rate.Limiter
}

// NewBandwidthLimitedWriter wraps w so that writes are throttled to at
// most bytesPerSecond bytes/second. A non-positive bytesPerSecond disables
// throttling entirely.
func NewBandwidthLimitedWriter(w io.Writer, bytesPerSecond int) *BandwidthLimitedWriter {
	var limiter *rate.Limiter
	if bytesPerSecond > 0 {
		// Burst equal to one second's worth of traffic keeps small writes
		// (individual protocol messages) from being needlessly delayed.
		limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
	}
	return &BandwidthLimitedWriter{w: w, limiter: limiter}
}

func (b *BandwidthLimitedWriter) Write(p []byte) (int, error) {
	if b.limiter == nil {
		return b.w.Write(p)
	}
	written := 0
	for len(p) > 0 {
		n := len(p)
		if burst := b.limiter.Burst(); n > burst {
			n = burst
		}
		if err := b.limiter.WaitN(context.Background(), n); err != nil {
			return written, err
		}
		wn, err := b.w.Write(p[:n])
		written += wn
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}
