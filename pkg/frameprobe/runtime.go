package frameprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/frameprobe/internal/adapters/cpu"
	"github.com/ghalamif/frameprobe/internal/adapters/journal"
	"github.com/ghalamif/frameprobe/internal/adapters/observability"
	"github.com/ghalamif/frameprobe/internal/adapters/queue"
	"github.com/ghalamif/frameprobe/internal/adapters/sink"
	"github.com/ghalamif/frameprobe/internal/app/config"
	"github.com/ghalamif/frameprobe/internal/app/session"
	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
	"github.com/ghalamif/frameprobe/internal/stamp"
	"github.com/ghalamif/frameprobe/internal/writer"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	transport     Transport
	sink          Sink
	journal       Journal
	queue         EventQueue
	observability Observability
	cpu           CPUReader
	clock         Clock
	registerer    prometheus.Registerer
}

// WithTransport sets the media SDK the session drives. It is required.
func WithTransport(t Transport) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.transport = t
	}
}

// WithSink replaces the CSV and Timescale sinks built from the config.
func WithSink(s Sink) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.sink = s
	}
}

// WithJournal lets callers bring their own journal or reuse an open one.
func WithJournal(j Journal) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.journal = j
	}
}

// WithEventQueue swaps the in-memory event queue.
func WithEventQueue(q EventQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithCPUReader replaces the /proc based CPU reader.
func WithCPUReader(r CPUReader) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.cpu = r
	}
}

// WithClock sets the clock origin and receive times are taken from.
func WithClock(c Clock) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.clock = c
	}
}

// WithRegisterer registers the default Prometheus metrics with reg instead
// of a private registry. /metrics serves reg when it is also a Gatherer.
func WithRegisterer(reg prometheus.Registerer) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registerer = reg
	}
}

// Runtime wires transport, stamp carrier, session, writer and sinks for one
// role and serves the metrics endpoint while the session runs.
type Runtime struct {
	cfg        *Config
	obs        ports.Observability
	transport  ports.Transport
	sink       ports.Sink
	journal    ports.Journal
	queue      ports.EventQueue
	writer     *writer.Writer
	session    *session.Controller
	gatherer   prometheus.Gatherer
	metricsSrv *http.Server
}

// NewRuntime bootstraps the default adapters (CSV sink, optional Timescale
// sink and journal, in-memory queue, Prometheus observability, /proc CPU
// reader) around the caller's transport. Any of them can be overridden with
// a RuntimeOption.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}
	if overrides.transport == nil {
		return nil, fmt.Errorf("%w: transport is required", domain.ErrConfig)
	}

	rt := &Runtime{cfg: cfg, transport: overrides.transport}

	reg := overrides.registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	rt.gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		rt.gatherer = g
	}

	obs := overrides.observability
	if obs == nil {
		logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, fmt.Errorf("%w: log: %w", domain.ErrConfig, err)
		}
		obs = observability.NewPromObs(reg, string(cfg.Session.Role),
			logger.WithField("run", cfg.Session.RunName))
	}
	rt.obs = obs

	clock := overrides.clock
	if clock == nil {
		clock = domain.NewMonotonicClock()
	}

	cpuReader := overrides.cpu
	if cpuReader == nil {
		r, err := cpu.NewProcReader()
		if err != nil {
			obs.LogError("cpu_reader_unavailable", err)
		} else {
			cpuReader = r
		}
	}

	var err error
	rt.sink = overrides.sink
	if rt.sink == nil {
		if rt.sink, err = openSinks(cfg); err != nil {
			return nil, err
		}
	}

	rt.journal = overrides.journal
	if rt.journal == nil && cfg.Journal.Dir != "" {
		if rt.journal, err = journal.Open(cfg.Journal.Dir); err != nil {
			_ = rt.sink.Close()
			return nil, err
		}
	}

	var wopts []writer.Option
	if rt.journal != nil {
		wopts = append(wopts, writer.WithJournal(rt.journal, cfg.Policy))
	}
	if rt.writer, err = writer.New(rt.sink, cfg.Writer, obs, wopts...); err != nil {
		rt.closeOutputs()
		return nil, err
	}

	rt.queue = overrides.queue
	if rt.queue == nil {
		rt.queue = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}

	deps := session.Deps{
		Transport: rt.transport,
		Writer:    rt.writer,
		Queue:     rt.queue,
		Clock:     clock,
		CPU:       cpuReader,
		Obs:       obs,
	}
	if err := wireCarrier(cfg, &deps); err != nil {
		rt.closeOutputs()
		return nil, err
	}

	rt.session, err = session.New(session.Config{
		Session:        cfg.Session,
		Policy:         cfg.Policy,
		Stats:          cfg.Stats.Options,
		DedupWindow:    cfg.Stats.DedupWindow,
		PerfInterval:   cfg.Perf.Interval,
		PerfOnReceiver: cfg.Perf.Receiver,
		Epsilon:        cfg.Stamp.Epsilon,
	}, deps)
	if err != nil {
		rt.closeOutputs()
		return nil, err
	}
	return rt, nil
}

func openSinks(cfg *Config) (ports.Sink, error) {
	var sinks []ports.Sink
	if cfg.Session.OutputPath != "" {
		csvSink, err := sink.OpenCSV(cfg.Session.OutputPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, csvSink)
	}
	if cfg.Timescale.ConnString != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ts, err := sink.OpenTimescale(ctx, cfg.Timescale.ConnString, cfg.Timescale.Table)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, ts)
	}
	switch len(sinks) {
	case 0:
		return nil, fmt.Errorf("%w: no sink configured: set session.output_path or timescale.conn_string", domain.ErrConfig)
	case 1:
		return sinks[0], nil
	}
	return sink.NewMultiSink(sinks...), nil
}

// wireCarrier picks the stamp embedder and extractor for the configured
// carrier. RTP stamps are written and parsed by the transport itself.
func wireCarrier(cfg *Config, deps *session.Deps) error {
	switch cfg.Stamp.Carrier {
	case config.CarrierLuma:
		luma := stamp.NewLumaCarrier(cfg.Stamp.LumaBlock)
		deps.Embedder, deps.Extractor = luma, luma
	case config.CarrierSideChannel:
		if cfg.Session.Role == domain.RoleSender {
			pub, ok := deps.Transport.(ports.DataPublisher)
			if !ok {
				return fmt.Errorf("%w: side_channel carrier needs a transport with a data channel", domain.ErrConfig)
			}
			deps.Embedder = stamp.Publisher{Out: pub}
		} else {
			reg := stamp.NewRegistry(cfg.Stamp.RegistrySize)
			deps.Extractor, deps.OnData = reg, reg.OnData
		}
	default:
		deps.Extractor = stamp.EventCarrier{}
	}
	return nil
}

// Session exposes the underlying controller, mainly for its State and
// Complete methods.
func (r *Runtime) Session() *session.Controller { return r.session }

// Run serves metrics, runs the session to completion and returns its
// summary. The sink and journal are closed when Run returns.
func (r *Runtime) Run(ctx context.Context) (Summary, error) {
	if r == nil {
		return Summary{}, fmt.Errorf("runtime is nil")
	}
	r.startMetrics()

	stopGauges := make(chan struct{})
	go r.recordGauges(stopGauges, time.Second)

	sum, err := r.session.Run(ctx)
	close(stopGauges)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sum, errors.Join(err, r.Shutdown(shutdownCtx))
}

// Shutdown stops the metrics server. Run calls it on its way out.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r.metricsSrv == nil {
		return nil
	}
	if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler is the router behind the metrics server.
func (r *Runtime) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Get("/stats", r.serveStats)
	return mux
}

type statsResponse struct {
	SessionID string `json:"session_id"`
	Role      Role   `json:"role"`
	State     string `json:"state"`
	Latency   any    `json:"latency,omitempty"`
	Frames    any    `json:"frames,omitempty"`
}

func (r *Runtime) serveStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{
		SessionID: r.session.ID(),
		Role:      r.cfg.Session.Role,
		State:     r.session.State().String(),
	}
	if r.cfg.Session.Role == domain.RoleReceiver {
		snap, counters := r.session.Stats()
		resp.Latency, resp.Frames = snap, counters
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		r.obs.LogError("stats_encode_failed", err)
	}
}

func (r *Runtime) startMetrics() {
	if r.cfg.Metrics.Addr == "" {
		return
	}
	r.metricsSrv = &http.Server{
		Addr:              r.cfg.Metrics.Addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics_server_exited", err, ports.Field{Key: "addr", Value: r.cfg.Metrics.Addr})
		}
	}()
}

func (r *Runtime) recordGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.obs.SetGauge("frameprobe_queue_length", float64(r.queue.Len()))
			if r.journal != nil {
				r.obs.SetGauge("frameprobe_journal_size_bytes", float64(r.journal.Stats().SizeBytes))
			}
			if r.cfg.Session.Role == domain.RoleReceiver {
				snap, _ := r.session.Stats()
				r.obs.SetGauge("frameprobe_latency_mean_seconds", snap.Mean.Seconds())
			}
		}
	}
}

func (r *Runtime) closeOutputs() {
	if r.sink != nil {
		_ = r.sink.Close()
	}
	if r.journal != nil {
		_ = r.journal.Close()
	}
}
