// Package rsyncstats tracks per-transfer byte/file counters, provides a
// Prometheus collector that reports them as counters, and implements the
// receiver's ACK batcher.
package rsyncstats

import (
	"time"

	"github.com/deltacopy/rsync/internal/rsyncwire"
)

// AckStatus is the outcome the receiver reports for one file.
type AckStatus uint8

const (
	AckSuccess AckStatus = iota
	AckError
	AckSkipped
	AckChecksumError
	AckIOError
)

// AckEntry is one record of a batched ACK.
type AckEntry struct {
	NDX     int32
	Status  AckStatus
	ErrMsg  string
}

func (e AckEntry) isError() bool {
	switch e.Status {
	case AckError, AckChecksumError, AckIOError:
		return true
	default:
		return false
	}
}

// FlushReason records why an ACK batch was flushed, for logging/metrics;
// it plays no role in wire framing.
type FlushReason int

const (
	FlushSizeThreshold FlushReason = iota
	FlushTimeThreshold
	FlushErrorEntry
	FlushExplicit
)

func (r FlushReason) String() string {
	switch r {
	case FlushSizeThreshold:
		return "size_threshold"
	case FlushTimeThreshold:
		return "time_threshold"
	case FlushErrorEntry:
		return "error_entry"
	case FlushExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

const (
	DefaultBatchSize    = 16
	DefaultBatchTimeout = 50 * time.Millisecond
)

// AckBatcher accumulates AckEntry values and decides when to flush them
// as one wire batch, per the receiver's batching policy: a size
// threshold, a time threshold measured from the first enqueue in the
// current (non-empty) batch, and an immediate flush on any error entry.
type AckBatcher struct {
	batchSize    int
	batchTimeout time.Duration
	now          func() time.Time

	pending   []AckEntry
	openSince time.Time
	forceFull bool
}

// NewAckBatcher builds a batcher with the given thresholds. now lets
// tests substitute a deterministic clock; pass nil to use time.Now.
func NewAckBatcher(batchSize int, batchTimeout time.Duration, now func() time.Time) *AckBatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &AckBatcher{batchSize: batchSize, batchTimeout: batchTimeout, now: now}
}

// Enqueue adds an entry to the pending batch.
func (b *AckBatcher) Enqueue(e AckEntry) {
	if len(b.pending) == 0 {
		b.openSince = b.now()
	}
	b.pending = append(b.pending, e)
	if e.isError() {
		b.forceFull = true
	}
}

// ShouldFlush reports whether the pending batch should be flushed now,
// along with the reason.
func (b *AckBatcher) ShouldFlush() (bool, FlushReason) {
	if len(b.pending) == 0 {
		return false, FlushExplicit
	}
	if b.forceFull {
		return true, FlushErrorEntry
	}
	if len(b.pending) >= b.batchSize {
		return true, FlushSizeThreshold
	}
	if b.now().Sub(b.openSince) >= b.batchTimeout {
		return true, FlushTimeThreshold
	}
	return false, FlushExplicit
}

// Flush writes the pending batch (if non-empty) to c and clears it,
// returning the entries written.
// Callers that want an unconditional flush (e.g. before NDX_DONE) should
// call Flush directly rather than consulting ShouldFlush first.
func (b *AckBatcher) Flush(c *rsyncwire.Conn) ([]AckEntry, error) {
	if len(b.pending) == 0 {
		return nil, nil
	}
	entries := b.pending
	b.pending = nil
	b.forceFull = false

	if err := writeBatch(c, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func writeBatch(c *rsyncwire.Conn, entries []AckEntry) error {
	if err := c.WriteUint16(uint16(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := c.WriteInt32(e.NDX); err != nil {
			return err
		}
		if err := c.WriteByte(byte(e.Status)); err != nil {
			return err
		}
		if e.isError() {
			msg := []byte(e.ErrMsg)
			if err := c.WriteUint16(uint16(len(msg))); err != nil {
				return err
			}
			if len(msg) > 0 {
				if err := c.WriteString(string(msg)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ReadBatch reads one ACK batch written by writeBatch/Flush.
func ReadBatch(c *rsyncwire.Conn) ([]AckEntry, error) {
	count, err := c.ReadUint16()
	if err != nil {
		return nil, err
	}
	entries := make([]AckEntry, count)
	for i := range entries {
		ndx, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		statusByte, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		e := AckEntry{NDX: ndx, Status: AckStatus(statusByte)}
		if e.isError() {
			errLen, err := c.ReadUint16()
			if err != nil {
				return nil, err
			}
			if errLen > 0 {
				msg, err := c.ReadN(int(errLen))
				if err != nil {
					return nil, err
				}
				e.ErrMsg = string(msg)
			}
		}
		entries[i] = e
	}
	return entries, nil
}
