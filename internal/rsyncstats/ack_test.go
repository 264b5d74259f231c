package rsyncstats_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/deltacopy/rsync/internal/rsyncstats"
	"github.com/deltacopy/rsync/internal/rsyncwire"
	"github.com/stretchr/testify/require"
)

func TestAckBatcherFlushesAtSizeThreshold(t *testing.T) {
	b := rsyncstats.NewAckBatcher(2, time.Hour, func() time.Time { return time.Unix(0, 0) })
	b.Enqueue(rsyncstats.AckEntry{NDX: 1, Status: rsyncstats.AckSuccess})
	flush, _ := b.ShouldFlush()
	require.False(t, flush)
	b.Enqueue(rsyncstats.AckEntry{NDX: 2, Status: rsyncstats.AckSuccess})
	flush, reason := b.ShouldFlush()
	require.True(t, flush)
	require.Equal(t, rsyncstats.FlushSizeThreshold, reason)
}

func TestAckBatcherFlushesAtTimeThreshold(t *testing.T) {
	clock := time.Unix(1000, 0)
	b := rsyncstats.NewAckBatcher(100, 50*time.Millisecond, func() time.Time { return clock })
	b.Enqueue(rsyncstats.AckEntry{NDX: 1, Status: rsyncstats.AckSuccess})
	flush, _ := b.ShouldFlush()
	require.False(t, flush)
	clock = clock.Add(51 * time.Millisecond)
	flush, reason := b.ShouldFlush()
	require.True(t, flush)
	require.Equal(t, rsyncstats.FlushTimeThreshold, reason)
}

func TestAckBatcherForcesFlushOnError(t *testing.T) {
	b := rsyncstats.NewAckBatcher(100, time.Hour, func() time.Time { return time.Unix(0, 0) })
	b.Enqueue(rsyncstats.AckEntry{NDX: 1, Status: rsyncstats.AckSuccess})
	b.Enqueue(rsyncstats.AckEntry{NDX: 2, Status: rsyncstats.AckChecksumError, ErrMsg: "mismatch"})
	flush, reason := b.ShouldFlush()
	require.True(t, flush)
	require.Equal(t, rsyncstats.FlushErrorEntry, reason)
}

func TestAckBatcherFlushPreservesOrderAndConcatenatesAcrossBatches(t *testing.T) {
	var buf bytes.Buffer
	c := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	b := rsyncstats.NewAckBatcher(2, time.Hour, func() time.Time { return time.Unix(0, 0) })

	var enqueued []rsyncstats.AckEntry
	var flushed []rsyncstats.AckEntry
	for i := int32(0); i < 5; i++ {
		e := rsyncstats.AckEntry{NDX: i, Status: rsyncstats.AckSuccess}
		enqueued = append(enqueued, e)
		b.Enqueue(e)
		if ok, _ := b.ShouldFlush(); ok {
			entries, err := b.Flush(c)
			require.NoError(t, err)
			flushed = append(flushed, entries...)
		}
	}
	entries, err := b.Flush(c)
	require.NoError(t, err)
	flushed = append(flushed, entries...)
	require.Equal(t, enqueued, flushed)

	var all []rsyncstats.AckEntry
	for buf.Len() > 0 {
		batch, err := rsyncstats.ReadBatch(c)
		require.NoError(t, err)
		all = append(all, batch...)
	}
	require.Equal(t, enqueued, all)
}

func TestAckBatchWireRoundTripWithError(t *testing.T) {
	var buf bytes.Buffer
	c := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	b := rsyncstats.NewAckBatcher(10, time.Hour, func() time.Time { return time.Unix(0, 0) })
	b.Enqueue(rsyncstats.AckEntry{NDX: 7, Status: rsyncstats.AckIOError, ErrMsg: "permission denied"})
	_, err := b.Flush(c)
	require.NoError(t, err)

	got, err := rsyncstats.ReadBatch(c)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.EqualValues(t, 7, got[0].NDX)
	require.Equal(t, rsyncstats.AckIOError, got[0].Status)
	require.Equal(t, "permission denied", got[0].ErrMsg)
}

func TestTransferStatsMatchRatio(t *testing.T) {
	var s rsyncstats.TransferStats
	s.AddDeltaShare(30, 70)
	require.InDelta(t, 0.7, s.MatchRatio(), 0.0001)
}

func TestTransferStatsRecordsMetadataErrors(t *testing.T) {
	var s rsyncstats.TransferStats
	s.RecordMetadataError("a/b", "permission denied")
	require.Len(t, s.MetadataErrors(), 1)
}
