package frameprobe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/frameprobe/internal/domain"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Session: SessionConfig{
			Role:         RoleReceiver,
			RunName:      "rt",
			FPS:          30,
			Duration:     5 * time.Second,
			OutputPath:   filepath.Join(t.TempDir(), "out.csv"),
			DrainTimeout: time.Second,
		},
		Policy: Policy{
			MaxQueueLen:  64,
			MaxBatchSize: 16,
			IdleSleep:    time.Millisecond,
		},
	}
}

func TestNewRuntimeWithCustomAdapters(t *testing.T) {
	cfg := testConfig(t)

	transportStub := &stubTransport{}
	sinkStub := &stubSink{}
	queueStub := &stubQueue{}
	journalStub := &stubJournal{}
	obsStub := &stubObservability{}

	rt, err := NewRuntime(
		cfg,
		WithTransport(transportStub),
		WithSink(sinkStub),
		WithEventQueue(queueStub),
		WithJournal(journalStub),
		WithObservability(obsStub),
		WithCPUReader(stubCPU{}),
		WithClock(domain.NewMonotonicClock()),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}

	if rt.transport != transportStub {
		t.Fatalf("expected custom transport to be used")
	}
	if rt.sink != sinkStub {
		t.Fatalf("expected custom sink to be used")
	}
	if rt.queue != queueStub {
		t.Fatalf("expected custom queue to be used")
	}
	if rt.journal != journalStub {
		t.Fatalf("expected custom journal to be used")
	}
	if rt.obs != obsStub {
		t.Fatalf("expected custom observability to be used")
	}
	if cfg.Stamp.Carrier != CarrierRTP {
		t.Fatalf("expected defaults to be applied, carrier=%q", cfg.Stamp.Carrier)
	}
}

func TestNewRuntimeRequiresTransport(t *testing.T) {
	_, err := NewRuntime(testConfig(t), WithSink(&stubSink{}))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestNewRuntimeRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Resolution = "8K"
	_, err := NewRuntime(cfg, WithTransport(&stubTransport{}), WithSink(&stubSink{}))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestSideChannelSenderNeedsDataChannel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Role = RoleSender
	cfg.Stamp.Carrier = CarrierSideChannel
	_, err := NewRuntime(cfg, WithTransport(&stubTransport{}), WithSink(&stubSink{}))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}

	_, err = NewRuntime(cfg, WithTransport(NewExternalTransport(func([]byte) error { return nil })),
		WithSink(&stubSink{}), WithObservability(&stubObservability{}))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
}

func TestRuntimeHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt, err := NewRuntime(testConfig(t),
		WithTransport(&stubTransport{}),
		WithSink(&stubSink{}),
		WithRegisterer(reg),
		WithCPUReader(stubCPU{}),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var body statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	resp.Body.Close()
	if body.State != "idle" || body.Role != RoleReceiver || body.SessionID == "" {
		t.Fatalf("unexpected stats body: %+v", body)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(raw), `frameprobe_frames_correlated_total{role="receiver"} 0`) {
		t.Fatalf("metrics output missing receiver counters:\n%s", raw)
	}
}

func TestRuntimeRunWritesSummaryOnCancel(t *testing.T) {
	var records []Record
	sink := NewCallbackSink("cb", func(batch []Record) error {
		records = append(records, batch...)
		return nil
	})
	rt, err := NewRuntime(testConfig(t),
		WithTransport(&stubTransport{}),
		WithSink(sink),
		WithObservability(&stubObservability{}),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sum, err := rt.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !sum.Truncated {
		t.Fatalf("expected truncated summary, got %+v", sum)
	}
	if len(records) != 1 || records[0].Type != domain.RecordSummary {
		t.Fatalf("expected exactly one summary record, got %+v", records)
	}
}

type stubTransport struct{}

func (s *stubTransport) Start(_ context.Context, h TransportHandler) error {
	h.OnConnected()
	return nil
}
func (s *stubTransport) Stop() error { return nil }

type stubSink struct{}

func (s *stubSink) WriteBatch([]*Record) error { return nil }
func (s *stubSink) Name() string               { return "stub" }
func (s *stubSink) Close() error               { return nil }

type stubQueue struct{}

func (s *stubQueue) Enqueue(FrameEvent) bool       { return true }
func (s *stubQueue) DequeueBatch(int) []FrameEvent { return nil }
func (s *stubQueue) Len() int                      { return 0 }

type stubJournal struct{}

func (s *stubJournal) Append(*Record) (JournalEntryID, error) { return 0, nil }
func (s *stubJournal) Iterate(JournalEntryID, func(JournalEntryID, *Record) error) error {
	return nil
}
func (s *stubJournal) Commit(JournalEntryID) error { return nil }
func (s *stubJournal) Stats() JournalStats         { return JournalStats{} }
func (s *stubJournal) Close() error                { return nil }

type stubCPU struct{}

func (stubCPU) CPUPercent() (float64, error) { return 1, nil }

type stubObservability struct{}

func (s *stubObservability) LogInfo(string, ...Field)            {}
func (s *stubObservability) LogError(string, error, ...Field)    {}
func (s *stubObservability) LogCritical(string, error, ...Field) {}
func (s *stubObservability) IncCounter(string, float64)          {}
func (s *stubObservability) ObserveLatency(string, float64)      {}
func (s *stubObservability) SetGauge(string, float64)            {}
func (s *stubObservability) RecordAnomaly(LatencySample)         {}
