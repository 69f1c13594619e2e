package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

// PromObs logs through logrus and exports metrics to a Prometheus
// registerer. Every metric carries a constant role label so a sender and a
// receiver can share one registry.
type PromObs struct {
	log       logrus.FieldLogger
	counters  map[string]prometheus.Counter
	gauges    map[string]prometheus.Gauge
	histos    map[string]prometheus.Observer
	anomalies *prometheus.CounterVec
}

func NewPromObs(reg prometheus.Registerer, role string, log logrus.FieldLogger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	labels := prometheus.Labels{"role": role}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help, ConstLabels: labels})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help, ConstLabels: labels})
	}
	histo := func(name, help string, buckets []float64) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, ConstLabels: labels, Buckets: buckets})
	}

	p := &PromObs{
		log: log.WithField("role", role),
		counters: map[string]prometheus.Counter{
			"frameprobe_frames_tagged_total":        counter("frameprobe_frames_tagged_total", "Frames stamped before encode."),
			"frameprobe_frames_correlated_total":    counter("frameprobe_frames_correlated_total", "Frames counted for primary latency statistics."),
			"frameprobe_frames_duplicate_total":     counter("frameprobe_frames_duplicate_total", "Repeat deliveries of an already correlated sequence."),
			"frameprobe_clock_anomalies_total":      counter("frameprobe_clock_anomalies_total", "Capture timestamps that stepped backwards."),
			"frameprobe_perf_samples_total":         counter("frameprobe_perf_samples_total", "Performance samples taken."),
			"frameprobe_queue_dropped_total":        counter("frameprobe_queue_dropped_total", "Frame events lost to queue backpressure."),
			"frameprobe_records_written_total":      counter("frameprobe_records_written_total", "Records confirmed by the sink."),
			"frameprobe_sink_errors_total":          counter("frameprobe_sink_errors_total", "Failed sink write attempts."),
			"frameprobe_journal_dropped_total":      counter("frameprobe_journal_dropped_total", "Records refused because the journal was full."),
			"frameprobe_stamp_embed_failures_total": counter("frameprobe_stamp_embed_failures_total", "Packets sent without their stamp."),
		},
		gauges: map[string]prometheus.Gauge{
			"frameprobe_cpu_percent":          gauge("frameprobe_cpu_percent", "Process CPU usage, percent of one core."),
			"frameprobe_queue_length":         gauge("frameprobe_queue_length", "Frame events waiting for dispatch."),
			"frameprobe_writer_buffered":      gauge("frameprobe_writer_buffered", "Records buffered by the writer."),
			"frameprobe_journal_size_bytes":   gauge("frameprobe_journal_size_bytes", "Size of the record journal on disk."),
			"frameprobe_session_state":        gauge("frameprobe_session_state", "Session state: 0 idle, 1 running, 2 draining, 3 stopped."),
			"frameprobe_latency_mean_seconds": gauge("frameprobe_latency_mean_seconds", "Running mean one-way latency."),
			"frameprobe_frames_dropped":       gauge("frameprobe_frames_dropped", "Sequences currently missing from the received stream. Falls when a late frame fills a gap."),
		},
		histos: map[string]prometheus.Observer{
			"frameprobe_latency_seconds":    histo("frameprobe_latency_seconds", "One-way frame latency.", prometheus.ExponentialBuckets(0.001, 2, 14)),
			"frameprobe_encode_seconds":     histo("frameprobe_encode_seconds", "Capture to encoder output.", prometheus.ExponentialBuckets(0.0005, 2, 12)),
			"frameprobe_sink_write_seconds": histo("frameprobe_sink_write_seconds", "Duration of one sink batch write.", prometheus.ExponentialBuckets(0.0001, 4, 10)),
		},
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "frameprobe_anomalies_total",
			Help:        "Arrivals excluded from latency statistics, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
	}

	collectors := []prometheus.Collector{p.anomalies}
	for _, c := range p.counters {
		collectors = append(collectors, c)
	}
	for _, g := range p.gauges {
		collectors = append(collectors, g)
	}
	for _, h := range p.histos {
		collectors = append(collectors, h.(prometheus.Collector))
	}
	reg.MustRegister(collectors...)
	return p
}

func toLogrus(fields []ports.Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.WithFields(toLogrus(fields)).Info(msg)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.WithFields(toLogrus(fields)).WithError(err).Error(msg)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.WithFields(toLogrus(fields)).WithError(err).WithField("critical", true).Error(msg)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordAnomaly(s domain.LatencySample) {
	p.anomalies.WithLabelValues(string(s.Anomaly)).Inc()
	p.log.WithFields(logrus.Fields{
		"seq":     s.Sequence,
		"layer":   s.Layer,
		"anomaly": s.Anomaly,
		"latency": s.Latency,
	}).Debug("anomaly_sample")
}

var _ ports.Observability = (*PromObs)(nil)
