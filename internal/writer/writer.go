// Package writer buffers output records and persists them to a sink on a
// fixed interval and at close.
//
// Records appended before a successful Close are all persisted, once, in
// append order. Without a journal, a crash loses whatever was buffered
// since the last flush; with one, those records are replayed into the
// next writer opened on the same journal.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

const (
	DefaultFlushInterval = time.Second
	DefaultBatchSize     = 256
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = 50 * time.Millisecond
)

var ErrClosed = errors.New("writer closed")

type Config struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

type Writer struct {
	cfg     Config
	sink    ports.Sink
	journal ports.Journal
	policy  ports.Policy
	obs     ports.Observability

	mu     sync.Mutex
	buf    []ports.QueuedRecord
	failed error
	closed bool

	// flushMu keeps batches in append order across concurrent flushes
	flushMu sync.Mutex
	signal  chan struct{}
	written uint64
}

type Option func(*Writer)

// WithJournal makes the writer journal every record before buffering it.
// The journal full policy comes from p.
func WithJournal(j ports.Journal, p ports.Policy) Option {
	return func(w *Writer) {
		w.journal = j
		w.policy = p
	}
}

// New opens a writer on sink. With a journal, records left uncommitted by a
// previous writer are buffered first.
func New(sink ports.Sink, cfg Config, obs ports.Observability, opts ...Option) (*Writer, error) {
	w := &Writer{
		cfg:    cfg.withDefaults(),
		sink:   sink,
		obs:    obs,
		signal: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.journal != nil {
		if err := w.replay(); err != nil {
			return nil, fmt.Errorf("replay journal: %w", err)
		}
	}
	return w, nil
}

func (w *Writer) replay() error {
	from := w.journal.Stats().OldestUncommitted
	n := 0
	err := w.journal.Iterate(from, func(id ports.JournalEntryID, r *domain.Record) error {
		w.buf = append(w.buf, ports.QueuedRecord{ID: id, Record: r})
		n++
		return nil
	})
	if n > 0 {
		w.obs.LogInfo("journal_replayed", ports.Field{Key: "records", Value: n})
	}
	return err
}

// Append buffers rec. It fails only after the writer has been closed or
// the sink has failed for good.
func (w *Writer) Append(rec *domain.Record) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.failed != nil {
		err := w.failed
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()

	var id ports.JournalEntryID
	if w.journal != nil {
		if w.journalHasRoom() {
			var err error
			if id, err = w.journal.Append(rec); err != nil {
				w.obs.LogError("journal_append_failed", err)
				id = 0
			}
		}
	}

	w.mu.Lock()
	w.buf = append(w.buf, ports.QueuedRecord{ID: id, Record: rec})
	n := len(w.buf)
	w.mu.Unlock()

	w.obs.SetGauge("frameprobe_writer_buffered", float64(n))
	if n >= w.cfg.BatchSize {
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
	return nil
}

// journalHasRoom applies the journal full policy. Under "block" it flushes
// in line, which commits and shrinks the journal.
func (w *Writer) journalHasRoom() bool {
	limit := w.policy.MaxJournalSizeBytes
	if limit <= 0 {
		return true
	}
	size := w.journal.Stats().SizeBytes
	w.obs.SetGauge("frameprobe_journal_size_bytes", float64(size))
	if size < limit {
		return true
	}
	if w.policy.OnJournalFull == "block" {
		if err := w.Flush(); err == nil {
			return w.journal.Stats().SizeBytes < limit
		}
	}
	w.obs.IncCounter("frameprobe_journal_dropped_total", 1)
	return false
}

// Flush writes everything buffered so far. On failure the unwritten records
// stay buffered, in order, and the returned error wraps domain.ErrSink.
func (w *Writer) Flush() error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	pending := w.buf
	w.buf = nil
	w.mu.Unlock()

	for len(pending) > 0 {
		n := min(len(pending), w.cfg.BatchSize)
		if err := w.writeWithRetry(pending[:n]); err != nil {
			w.mu.Lock()
			w.buf = append(pending, w.buf...)
			w.failed = fmt.Errorf("%w: %s: %w", domain.ErrSink, w.sink.Name(), err)
			failed := w.failed
			w.mu.Unlock()
			w.obs.LogCritical("sink_failed", err, ports.Field{Key: "sink", Value: w.sink.Name()},
				ports.Field{Key: "buffered", Value: len(pending)})
			return failed
		}
		w.commit(pending[:n])
		pending = pending[n:]
	}

	w.mu.Lock()
	w.failed = nil
	n := len(w.buf)
	w.mu.Unlock()
	w.obs.SetGauge("frameprobe_writer_buffered", float64(n))
	return nil
}

func (w *Writer) writeWithRetry(batch []ports.QueuedRecord) error {
	records := make([]*domain.Record, len(batch))
	for i, q := range batch {
		records[i] = q.Record
	}

	var err error
	backoff := w.cfg.RetryBackoff
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		start := time.Now()
		if err = w.sink.WriteBatch(records); err == nil {
			w.obs.ObserveLatency("frameprobe_sink_write_seconds", time.Since(start).Seconds())
			return nil
		}
		w.obs.IncCounter("frameprobe_sink_errors_total", 1)
		w.obs.LogError("sink_write_failed", err,
			ports.Field{Key: "attempt", Value: attempt + 1},
			ports.Field{Key: "records", Value: len(records)})
	}
	return err
}

func (w *Writer) commit(batch []ports.QueuedRecord) {
	w.mu.Lock()
	w.written += uint64(len(batch))
	w.mu.Unlock()
	w.obs.IncCounter("frameprobe_records_written_total", float64(len(batch)))

	if w.journal == nil {
		return
	}
	var last ports.JournalEntryID
	for _, q := range batch {
		if q.ID > last {
			last = q.ID
		}
	}
	if last == 0 {
		return
	}
	if err := w.journal.Commit(last); err != nil {
		w.obs.LogError("journal_commit_failed", err, ports.Field{Key: "upto", Value: last})
	}
}

// Run flushes every FlushInterval and whenever a full batch is buffered,
// until ctx is done. A sink failure ends Run with the error.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.syncJournal()
		case <-w.signal:
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}

type syncer interface{ Sync() error }

func (w *Writer) syncJournal() {
	if s, ok := w.journal.(syncer); ok {
		if err := s.Sync(); err != nil {
			w.obs.LogError("journal_sync_failed", err)
		}
	}
}

// Close flushes what is left and closes the sink and the journal. It is
// safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	flushErr := w.Flush()
	errs := []error{flushErr}
	if err := w.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: close %s: %w", domain.ErrSink, w.sink.Name(), err))
	}
	if w.journal != nil {
		errs = append(errs, w.journal.Close())
	}
	return errors.Join(errs...)
}

// Buffered is the number of records not yet confirmed by the sink.
func (w *Writer) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// Written is the number of records confirmed by the sink.
func (w *Writer) Written() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}
