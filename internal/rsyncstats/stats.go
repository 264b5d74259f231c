package rsyncstats

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// MetadataError records a recoverable per-file failure: the relative
// path affected and a short human-readable reason.
type MetadataError struct {
	Path   string
	Reason string
}

// TransferStats accumulates the counters reported at the end of a
// transfer. NewCollector reports them as Prometheus counters; no caller
// in this module registers such a collector, so the daemon's /metrics
// endpoint does not include them.
type TransferStats struct {
	// Read, Written and Size mirror upstream rsync's end-of-transfer
	// report: total bytes read from the network connection, total bytes
	// written to it, and the total size of the files transferred.
	Read    int64
	Written int64
	Size    int64

	FilesTotal       int64
	FilesTransferred int64
	FilesSkipped     int64

	LiteralBytes int64
	MatchedBytes int64

	mu             sync.Mutex
	metadataErrors []MetadataError
}

// AddFile records one file's outcome.
func (s *TransferStats) AddFile(transferred bool) {
	atomic.AddInt64(&s.FilesTotal, 1)
	if transferred {
		atomic.AddInt64(&s.FilesTransferred, 1)
	} else {
		atomic.AddInt64(&s.FilesSkipped, 1)
	}
}

// AddBytes records raw transport byte counters, typically sourced from a
// rsyncwire.CounterPair at the end of a session.
func (s *TransferStats) AddBytes(read, written int64) {
	atomic.AddInt64(&s.Read, read)
	atomic.AddInt64(&s.Written, written)
}

// AddDeltaShare records how many bytes of a reconstructed file came from
// literal tokens versus matched (copied) blocks.
func (s *TransferStats) AddDeltaShare(literal, matched int64) {
	atomic.AddInt64(&s.LiteralBytes, literal)
	atomic.AddInt64(&s.MatchedBytes, matched)
}

// RecordMetadataError appends a recoverable failure for later reporting.
func (s *TransferStats) RecordMetadataError(path, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadataErrors = append(s.metadataErrors, MetadataError{Path: path, Reason: reason})
}

// MetadataErrors returns a snapshot of every recorded recoverable failure.
func (s *TransferStats) MetadataErrors() []MetadataError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MetadataError(nil), s.metadataErrors...)
}

// MatchRatio returns the fraction of reconstructed bytes that came from
// matched basis blocks rather than literal data, or 0 if nothing was
// transferred yet.
func (s *TransferStats) MatchRatio() float64 {
	lit := atomic.LoadInt64(&s.LiteralBytes)
	matched := atomic.LoadInt64(&s.MatchedBytes)
	total := lit + matched
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

// Collector exposes a TransferStats as Prometheus metrics.
type Collector struct {
	stats *TransferStats

	filesTotal       *prometheus.Desc
	filesTransferred *prometheus.Desc
	filesSkipped     *prometheus.Desc
	bytesRead        *prometheus.Desc
	bytesWritten     *prometheus.Desc
	literalBytes     *prometheus.Desc
	matchedBytes     *prometheus.Desc
}

// NewCollector wraps stats for registration with a prometheus.Registry.
func NewCollector(stats *TransferStats) *Collector {
	return &Collector{
		stats:            stats,
		filesTotal:       prometheus.NewDesc("rsync_files_total", "Files seen in the current transfer.", nil, nil),
		filesTransferred: prometheus.NewDesc("rsync_files_transferred_total", "Files actually transferred.", nil, nil),
		filesSkipped:     prometheus.NewDesc("rsync_files_skipped_total", "Files skipped by the generator.", nil, nil),
		bytesRead:        prometheus.NewDesc("rsync_bytes_read_total", "Bytes read off the transport.", nil, nil),
		bytesWritten:     prometheus.NewDesc("rsync_bytes_written_total", "Bytes written to the transport.", nil, nil),
		literalBytes:     prometheus.NewDesc("rsync_literal_bytes_total", "Reconstructed bytes that came from literal tokens.", nil, nil),
		matchedBytes:     prometheus.NewDesc("rsync_matched_bytes_total", "Reconstructed bytes that came from matched blocks.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.filesTotal
	ch <- c.filesTransferred
	ch <- c.filesSkipped
	ch <- c.bytesRead
	ch <- c.bytesWritten
	ch <- c.literalBytes
	ch <- c.matchedBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.filesTotal, prometheus.CounterValue, float64(atomic.LoadInt64(&c.stats.FilesTotal)))
	ch <- prometheus.MustNewConstMetric(c.filesTransferred, prometheus.CounterValue, float64(atomic.LoadInt64(&c.stats.FilesTransferred)))
	ch <- prometheus.MustNewConstMetric(c.filesSkipped, prometheus.CounterValue, float64(atomic.LoadInt64(&c.stats.FilesSkipped)))
	ch <- prometheus.MustNewConstMetric(c.bytesRead, prometheus.CounterValue, float64(atomic.LoadInt64(&c.stats.Read)))
	ch <- prometheus.MustNewConstMetric(c.bytesWritten, prometheus.CounterValue, float64(atomic.LoadInt64(&c.stats.Written)))
	ch <- prometheus.MustNewConstMetric(c.literalBytes, prometheus.CounterValue, float64(atomic.LoadInt64(&c.stats.LiteralBytes)))
	ch <- prometheus.MustNewConstMetric(c.matchedBytes, prometheus.CounterValue, float64(atomic.LoadInt64(&c.stats.MatchedBytes)))
}
