package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObs(reg, "receiver", logrus.New())

	obs.IncCounter("frameprobe_frames_correlated_total", 5)
	if got := testutil.ToFloat64(obs.counters["frameprobe_frames_correlated_total"]); got != 5 {
		t.Fatalf("expected correlated counter 5, got %f", got)
	}

	obs.IncCounter("frameprobe_queue_dropped_total", 2)
	if got := testutil.ToFloat64(obs.counters["frameprobe_queue_dropped_total"]); got != 2 {
		t.Fatalf("expected queue drop counter 2, got %f", got)
	}

	obs.SetGauge("frameprobe_journal_size_bytes", 42)
	if got := testutil.ToFloat64(obs.gauges["frameprobe_journal_size_bytes"]); got != 42 {
		t.Fatalf("expected journal gauge 42, got %f", got)
	}

	obs.ObserveLatency("frameprobe_latency_seconds", 0.05)
	hCollector := obs.histos["frameprobe_latency_seconds"].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}

	obs.RecordAnomaly(domain.LatencySample{Anomaly: domain.AnomalyNegativeLatency})
	obs.RecordAnomaly(domain.LatencySample{Anomaly: domain.AnomalyNegativeLatency})
	if got := testutil.ToFloat64(obs.anomalies.WithLabelValues("negative_latency")); got != 2 {
		t.Fatalf("expected anomaly counter 2, got %f", got)
	}

	// unknown names are ignored
	obs.IncCounter("not_a_metric", 1)
}

func TestPromObsRolesShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	sender := NewPromObs(reg, "sender", logrus.New())
	receiver := NewPromObs(reg, "receiver", logrus.New())

	sender.IncCounter("frameprobe_frames_tagged_total", 3)
	receiver.IncCounter("frameprobe_frames_tagged_total", 1)

	expected := `
# HELP frameprobe_frames_tagged_total Frames stamped before encode.
# TYPE frameprobe_frames_tagged_total counter
frameprobe_frames_tagged_total{role="receiver"} 1
frameprobe_frames_tagged_total{role="sender"} 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "frameprobe_frames_tagged_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestPromObsDroppedFramesIsAGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObs(reg, "receiver", logrus.New())

	obs.SetGauge("frameprobe_frames_dropped", 3)
	obs.SetGauge("frameprobe_frames_dropped", 1)

	expected := `
# HELP frameprobe_frames_dropped Sequences currently missing from the received stream. Falls when a late frame fills a gap.
# TYPE frameprobe_frames_dropped gauge
frameprobe_frames_dropped{role="receiver"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "frameprobe_frames_dropped"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestPromObsLogsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "info", "json")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	obs := NewPromObs(prometheus.NewRegistry(), "sender", log)

	obs.LogError("sink_write_failed", errors.New("disk full"), ports.Field{Key: "attempt", Value: 2})

	out := buf.String()
	for _, want := range []string{`"msg":"sink_write_failed"`, `"error":"disk full"`, `"attempt":2`, `"role":"sender"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line %q missing %s", out, want)
		}
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, err := NewLogger("loud", "text"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
