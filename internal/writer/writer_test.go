package writer

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/frameprobe/internal/adapters/journal"
	"github.com/ghalamif/frameprobe/internal/adapters/sink"
	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

func record(seq uint64) *domain.Record {
	at := time.Unix(1_700_000_000, 0).Add(time.Duration(seq) * time.Millisecond)
	return &domain.Record{
		RunName: "writer",
		Role:    domain.RoleReceiver,
		Type:    domain.RecordLatency,
		Time:    at,
		Latency: &domain.LatencySample{Sequence: seq, OriginTime: at, ReceiveTime: at, Kind: domain.SamplePrimary},
	}
}

func TestRoundTripThroughCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	csvSink, err := sink.OpenCSV(path)
	require.NoError(t, err)

	w, err := New(csvSink, Config{BatchSize: 7}, &mockObs{})
	require.NoError(t, err)

	const n = 100
	for i := 1; i <= n; i++ {
		require.NoError(t, w.Append(record(uint64(i))))
		if i == 40 {
			require.NoError(t, w.Flush())
		}
	}
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Append(record(n+1)), ErrClosed)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, n+1)
	for i, row := range rows[1:] {
		assert.Equal(t, strconv.Itoa(i+1), row[12], "row %d out of order", i)
	}
	assert.Equal(t, uint64(n), w.Written())
}

func TestTransientSinkErrorsAreRetried(t *testing.T) {
	s := &flakySink{failures: 2}
	w, err := New(s, Config{MaxRetries: 3, RetryBackoff: time.Millisecond}, &mockObs{})
	require.NoError(t, err)

	require.NoError(t, w.Append(record(1)))
	require.NoError(t, w.Flush())
	assert.Equal(t, 3, s.attempts)
	assert.Len(t, s.records, 1)
}

func TestPersistentSinkErrorEscalates(t *testing.T) {
	s := &flakySink{failures: 1 << 30}
	obs := &mockObs{}
	w, err := New(s, Config{MaxRetries: 2, RetryBackoff: time.Millisecond}, obs)
	require.NoError(t, err)

	require.NoError(t, w.Append(record(1)))
	require.NoError(t, w.Append(record(2)))

	err = w.Flush()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSink)
	assert.Equal(t, 3, s.attempts)
	assert.Equal(t, 2, w.Buffered(), "failed batch must stay buffered")
	assert.ErrorIs(t, w.Append(record(3)), domain.ErrSink)
	assert.NotEmpty(t, obs.critical)

	// the sink recovers; buffered records are written once, in order
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
	require.NoError(t, w.Flush())
	require.Len(t, s.records, 2)
	assert.Equal(t, uint64(1), s.records[0].Latency.Sequence)
	assert.Equal(t, uint64(2), s.records[1].Latency.Sequence)
}

func TestRunFlushesOnIntervalAndFullBatch(t *testing.T) {
	s := &flakySink{}
	w, err := New(s, Config{FlushInterval: time.Hour, BatchSize: 3}, &mockObs{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for i := 1; i <= 3; i++ {
		require.NoError(t, w.Append(record(uint64(i))))
	}
	require.Eventually(t, func() bool { return s.count() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, w.Close())
	assert.True(t, s.closed)
}

func TestRunReturnsSinkFailure(t *testing.T) {
	s := &flakySink{failures: 1 << 30}
	w, err := New(s, Config{FlushInterval: 5 * time.Millisecond, MaxRetries: -1}, &mockObs{})
	require.NoError(t, err)
	require.NoError(t, w.Append(record(1)))

	err = w.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrSink)
}

func TestJournalReplaysUnflushedRecords(t *testing.T) {
	dir := t.TempDir()

	j, err := journal.Open(dir)
	require.NoError(t, err)
	first := &flakySink{}
	w, err := New(first, Config{}, &mockObs{}, WithJournal(j, ports.Policy{}))
	require.NoError(t, err)
	require.NoError(t, w.Append(record(1)))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Append(record(2)))
	require.NoError(t, w.Append(record(3)))
	// crash: the journal is synced but the writer never flushes again
	require.NoError(t, j.Close())

	j2, err := journal.Open(dir)
	require.NoError(t, err)
	second := &flakySink{}
	w2, err := New(second, Config{}, &mockObs{}, WithJournal(j2, ports.Policy{}))
	require.NoError(t, err)
	assert.Equal(t, 2, w2.Buffered())
	require.NoError(t, w2.Close())

	require.Len(t, second.records, 2)
	assert.Equal(t, uint64(2), second.records[0].Latency.Sequence)
	assert.Equal(t, uint64(3), second.records[1].Latency.Sequence)

	j3, err := journal.Open(dir)
	require.NoError(t, err)
	defer j3.Close()
	assert.Equal(t, j3.Stats().LatestAppended+1, j3.Stats().OldestUncommitted)
}

func TestJournalFullDropPolicyStillBuffers(t *testing.T) {
	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	obs := &mockObs{}
	s := &flakySink{}
	w, err := New(s, Config{}, obs, WithJournal(j, ports.Policy{MaxJournalSizeBytes: 1, OnJournalFull: "drop"}))
	require.NoError(t, err)

	require.NoError(t, w.Append(record(1)))
	require.NoError(t, w.Append(record(2)))
	require.NoError(t, w.Close())
	assert.Len(t, s.records, 2)
	assert.Equal(t, 1, obs.counter("frameprobe_journal_dropped_total"))
}

type flakySink struct {
	mu       sync.Mutex
	failures int
	attempts int
	records  []*domain.Record
	closed   bool
}

func (s *flakySink) Name() string { return "flaky" }

func (s *flakySink) WriteBatch(rs []*domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	s.records = append(s.records, rs...)
	return nil
}

func (s *flakySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *flakySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type mockObs struct {
	mu       sync.Mutex
	critical []error
	counters map[string]int
}

func (m *mockObs) LogInfo(string, ...ports.Field)          {}
func (m *mockObs) LogError(string, error, ...ports.Field) {}
func (m *mockObs) LogCritical(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	m.critical = append(m.critical, err)
	m.mu.Unlock()
}
func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]int{}
	}
	m.counters[name] += int(v)
}
func (m *mockObs) counter(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}
func (m *mockObs) ObserveLatency(string, float64)     {}
func (m *mockObs) SetGauge(string, float64)           {}
func (m *mockObs) RecordAnomaly(domain.LatencySample) {}
