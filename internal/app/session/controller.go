// Package session owns the lifecycle of one measurement run and wires the
// transport callbacks to the tagging, correlation, statistics and output
// components.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/frameprobe/internal/adapters/observability"
	"github.com/ghalamif/frameprobe/internal/app/pipeline"
	"github.com/ghalamif/frameprobe/internal/correlator"
	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/perf"
	"github.com/ghalamif/frameprobe/internal/ports"
	"github.com/ghalamif/frameprobe/internal/stats"
	"github.com/ghalamif/frameprobe/internal/tagger"
	"github.com/ghalamif/frameprobe/internal/writer"
)

const DefaultDrainTimeout = 5 * time.Second

// Reasons recorded on a truncated summary.
const (
	ReasonCancelled = "cancelled"
	ReasonTransport = "transport_failure"
	ReasonSink      = "sink_failure"
)

// Config carries the session configuration and the tunables of the
// components the controller builds.
type Config struct {
	Session      domain.SessionConfig
	Policy       ports.Policy
	Stats        stats.Options
	DedupWindow  int
	PerfInterval time.Duration
	// PerfOnReceiver enables perf sampling on the receiver; the sender
	// always samples.
	PerfOnReceiver bool
	Epsilon        time.Duration
}

// Deps are the collaborators a Controller drives. Transport, Writer and
// Queue are required; the writer is closed when Run returns.
type Deps struct {
	Transport ports.Transport
	Writer    *writer.Writer
	Queue     ports.EventQueue
	Clock     domain.Clock
	CPU       ports.CPUReader
	Obs       ports.Observability

	// Embedder marks outgoing frames on the sender.
	Embedder ports.StampEmbedder
	// Extractor recovers stamps on the receiver.
	Extractor ports.StampExtractor
	// OnData receives data-channel payloads, such as side-channel stamps.
	OnData func([]byte) bool
}

// Controller implements ports.TransportHandler for its transport.
type Controller struct {
	cfg  Config
	deps Deps
	id   string
	obs  ports.Observability

	state atomic.Int32

	tagger  *tagger.Tagger
	corr    *correlator.Correlator
	overall *stats.Aggregator
	layers  map[domain.LayerID]*stats.Aggregator

	// admitMu orders frame admission against the Running to Draining
	// transition, so nothing is queued after dispatch has drained.
	admitMu   sync.RWMutex
	accepting bool
	admitCtx  context.Context

	connected     chan struct{}
	connectedOnce sync.Once
	startedAt     atomic.Int64
	failures      chan error
	complete      chan struct{}
	completeOnce  sync.Once
	discarded     atomic.Int64
}

// New validates cfg and prepares a controller in the Idle state. An invalid
// configuration returns an error wrapping domain.ErrConfig.
func New(cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Stats.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}
	if deps.Transport == nil || deps.Writer == nil || deps.Queue == nil {
		return nil, fmt.Errorf("%w: transport, writer and queue are required", domain.ErrConfig)
	}
	if deps.Clock == nil {
		deps.Clock = domain.NewMonotonicClock()
	}
	if deps.Obs == nil {
		deps.Obs = observability.Nop{}
	}
	if cfg.Session.DrainTimeout <= 0 {
		cfg.Session.DrainTimeout = DefaultDrainTimeout
	}

	c := &Controller{
		cfg:       cfg,
		deps:      deps,
		id:        uuid.NewString(),
		obs:       deps.Obs,
		connected: make(chan struct{}),
		failures:  make(chan error, 1),
		complete:  make(chan struct{}),
		admitCtx:  context.Background(),
	}

	switch cfg.Session.Role {
	case domain.RoleSender:
		var opts []tagger.Option
		if deps.Embedder != nil {
			opts = append(opts, tagger.WithEmbedder(deps.Embedder))
		}
		if cfg.Epsilon > 0 {
			opts = append(opts, tagger.WithEpsilon(cfg.Epsilon))
		}
		c.tagger = tagger.New(deps.Clock, cfg.Session.Layers(), c.obs, opts...)
	case domain.RoleReceiver:
		c.corr = correlator.New(cfg.DedupWindow, c.obs)
		c.overall = stats.New(cfg.Stats)
		if cfg.Session.Simulcast {
			c.layers = make(map[domain.LayerID]*stats.Aggregator)
			for _, l := range cfg.Session.Layers() {
				c.layers[l] = stats.New(cfg.Stats)
			}
		}
		if deps.Extractor == nil {
			return nil, fmt.Errorf("%w: receiver needs a stamp extractor", domain.ErrConfig)
		}
	}
	return c, nil
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.obs.SetGauge("frameprobe_session_state", float64(s))
	c.obs.LogInfo("session_state", ports.Field{Key: "state", Value: s.String()},
		ports.Field{Key: "session_id", Value: c.id})
}

// Complete ends a running session early without marking it truncated, for
// example when the capture source is exhausted.
func (c *Controller) Complete() {
	c.completeOnce.Do(func() { close(c.complete) })
}

// Stats returns the live overall latency snapshot and correlation counters.
// The sender has neither and gets zero values.
func (c *Controller) Stats() (stats.Snapshot, correlator.Counters) {
	if c.overall == nil {
		return stats.Snapshot{}, correlator.Counters{}
	}
	return c.overall.Snapshot(), c.corr.Counters()
}

// Run connects the transport, measures until the configured duration has
// elapsed, ctx is cancelled, the transport finishes or fails, or the sink
// fails, then drains and writes the summary. Cancellation is a normal stop
// and returns a nil error; transport and sink failures are returned
// wrapping domain.ErrTransport and domain.ErrSink.
func (c *Controller) Run(ctx context.Context) (domain.Summary, error) {
	if c.State() != StateIdle {
		return domain.Summary{}, fmt.Errorf("session %s already started", c.id)
	}

	// The transport outlives the run context so in-flight frames keep
	// arriving while draining.
	transportCtx, stopTransport := context.WithCancel(context.Background())
	defer stopTransport()
	admitCtx, stopAdmit := context.WithCancel(context.Background())
	defer stopAdmit()
	c.admitCtx = admitCtx

	if err := c.deps.Transport.Start(transportCtx, c); err != nil {
		err = fmt.Errorf("%w: start: %w", domain.ErrTransport, err)
		return c.finish(reasonFor(err), err)
	}

	select {
	case <-c.connected:
	case err := <-c.failures:
		return c.finish(reasonFor(err), err)
	case <-ctx.Done():
		return c.finish(ReasonCancelled, nil)
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	drainCtx, stopDrain := context.WithCancel(context.Background())
	defer stopDrain()

	var g errgroup.Group
	if c.cfg.Session.Role == domain.RoleReceiver {
		g.Go(func() error {
			n := pipeline.RunDispatch(runCtx, drainCtx, c.deps.Queue, c.handle, c.cfg.Policy, c.obs)
			c.discarded.Store(int64(n))
			return nil
		})
	}
	if c.cfg.Session.Role == domain.RoleSender || c.cfg.PerfOnReceiver {
		g.Go(func() error { return c.sampler().Run(runCtx) })
	}
	g.Go(func() error {
		if err := c.deps.Writer.Run(runCtx); err != nil {
			c.fail(err)
			return err
		}
		return nil
	})

	timer := time.NewTimer(c.cfg.Session.Duration)
	defer timer.Stop()
	var done <-chan struct{}
	if f, ok := c.deps.Transport.(ports.Finite); ok {
		done = f.Done()
	}

	var (
		reason string
		runErr error
	)
	select {
	case <-timer.C:
	case <-done:
	case <-c.complete:
	case <-ctx.Done():
		reason = ReasonCancelled
	case err := <-c.failures:
		reason, runErr = reasonFor(err), err
	}

	// Draining: stop admitting, let queued frames and writes finish, bounded
	// by the drain timeout.
	c.setState(StateDraining)
	stopAdmit()
	c.admitMu.Lock()
	c.accepting = false
	c.admitMu.Unlock()
	if err := c.deps.Transport.Stop(); err != nil {
		c.obs.LogError("transport_stop_failed", err)
	}
	stopRun()
	drainTimer := time.AfterFunc(c.cfg.Session.DrainTimeout, stopDrain)
	defer drainTimer.Stop()

	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
		reason = reasonFor(err)
	}
	if n := c.discarded.Load(); n > 0 && reason == "" {
		reason = fmt.Sprintf("drain_timeout: %d frames discarded", n)
	}
	return c.finish(reason, runErr)
}

// finish writes the summary records, closes the writer and stops the
// session.
func (c *Controller) finish(reason string, runErr error) (domain.Summary, error) {
	if c.State() != StateDraining {
		c.setState(StateDraining)
		if err := c.deps.Transport.Stop(); err != nil {
			c.obs.LogError("transport_stop_failed", err)
		}
	}

	summaries := c.summaries(reason)
	errs := []error{runErr}
	sinkFailed := errors.Is(runErr, domain.ErrSink)
	for i := range summaries {
		err := c.deps.Writer.Append(c.record(domain.RecordSummary, func(r *domain.Record) {
			r.Summary = &summaries[i]
		}))
		if err != nil {
			if !sinkFailed {
				errs = append(errs, err)
			}
			break
		}
	}
	if err := c.deps.Writer.Close(); err != nil && !sinkFailed {
		errs = append(errs, err)
	}
	c.setState(StateStopped)

	sum := summaries[0]
	c.obs.LogInfo("session_summary",
		ports.Field{Key: "session_id", Value: c.id},
		ports.Field{Key: "frames", Value: sum.Frames},
		ports.Field{Key: "drops", Value: sum.Drops},
		ports.Field{Key: "mean_ms", Value: float64(sum.Mean) / float64(time.Millisecond)},
		ports.Field{Key: "truncated", Value: sum.Truncated},
		ports.Field{Key: "reason", Value: sum.Reason})
	return sum, errors.Join(errs...)
}

func (c *Controller) summaries(reason string) []domain.Summary {
	base := domain.Summary{
		Layer:     domain.LayerNone,
		Truncated: reason != "",
		Reason:    reason,
	}
	if start := c.startedAt.Load(); start > 0 {
		base.Elapsed = c.deps.Clock.Now().Sub(time.Unix(0, start))
	}

	if c.tagger != nil {
		base.FramesTagged = c.tagger.Tagged()
		base.ClockAnomalies = c.tagger.ClockAnomalies()
		return []domain.Summary{base}
	}

	cnt := c.corr.Counters()
	overall := fillStats(base, c.overall.Snapshot())
	overall.Frames = cnt.Primary
	overall.Drops = cnt.Drops
	overall.Duplicates = cnt.Duplicates
	overall.Anomalies = cnt.Anomalies()
	out := []domain.Summary{overall}

	for _, l := range c.cfg.Session.Layers() {
		agg, ok := c.layers[l]
		if !ok {
			continue
		}
		snap := agg.Snapshot()
		s := fillStats(base, snap)
		s.Layer = l
		s.Frames = snap.Count
		s.Anomalies = snap.Anomalies
		out = append(out, s)
	}
	return out
}

func fillStats(s domain.Summary, snap stats.Snapshot) domain.Summary {
	s.Min, s.Max, s.Mean, s.StdDev = snap.Min, snap.Max, snap.Mean, snap.StdDev
	s.P50, s.P90, s.P99 = snap.P50, snap.P90, snap.P99
	s.Jitter = snap.Jitter
	return s
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrSink):
		return ReasonSink + ": " + err.Error()
	case errors.Is(err, domain.ErrTransport):
		return ReasonTransport + ": " + err.Error()
	}
	return err.Error()
}

func (c *Controller) fail(err error) {
	select {
	case c.failures <- err:
	default:
	}
}

func (c *Controller) record(t domain.RecordType, fill func(*domain.Record)) *domain.Record {
	r := &domain.Record{
		RunName:   c.cfg.Session.RunName,
		SessionID: c.id,
		Role:      c.cfg.Session.Role,
		Type:      t,
		Time:      c.deps.Clock.Now(),
		Config:    c.cfg.Session,
	}
	fill(r)
	return r
}

func (c *Controller) append(r *domain.Record) {
	if err := c.deps.Writer.Append(r); err != nil {
		if errors.Is(err, domain.ErrSink) {
			c.fail(err)
		}
	}
}

func (c *Controller) sampler() *perf.Sampler {
	var opts []perf.Option
	if sp, ok := c.deps.Transport.(ports.StatsProvider); ok {
		opts = append(opts, perf.WithStatsProvider(sp))
	}
	if c.tagger != nil {
		opts = append(opts, perf.WithEncodeSource(c.tagger))
	}
	return perf.NewSampler(c.cfg.PerfInterval, c.deps.Clock, c.deps.CPU, func(p domain.PerfSample) {
		c.append(c.record(domain.RecordPerf, func(r *domain.Record) {
			r.Time = p.Timestamp
			r.Perf = &p
		}))
	}, c.obs, opts...)
}

// handle runs on the dispatch goroutine only.
func (c *Controller) handle(ev domain.FrameEvent) {
	s := c.corr.CorrelateEvent(&ev, c.deps.Extractor)
	c.overall.Update(s)
	if agg, ok := c.layers[s.Layer]; ok {
		agg.Update(s)
	}

	rt := domain.RecordLatency
	switch s.Kind {
	case domain.SamplePrimary:
		c.obs.IncCounter("frameprobe_frames_correlated_total", 1)
		c.obs.ObserveLatency("frameprobe_latency_seconds", s.Latency.Seconds())
	case domain.SampleDuplicate:
		rt = domain.RecordDuplicate
	case domain.SampleAnomaly:
		rt = domain.RecordAnomaly
	}
	c.append(c.record(rt, func(r *domain.Record) {
		r.Time = s.ReceiveTime
		r.Latency = &s
	}))
}

func (c *Controller) OnConnected() {
	c.connectedOnce.Do(func() {
		c.startedAt.Store(c.deps.Clock.Now().UnixNano())
		c.admitMu.Lock()
		c.accepting = true
		c.admitMu.Unlock()
		c.setState(StateRunning)
		close(c.connected)
	})
}

func (c *Controller) OnDisconnected(reason string) {
	err := fmt.Errorf("%w: disconnected: %s", domain.ErrTransport, reason)
	c.obs.LogError("transport_disconnected", err, ports.Field{Key: "session_id", Value: c.id})
	c.fail(err)
}

func (c *Controller) OnError(err error) {
	err = fmt.Errorf("%w: %w", domain.ErrTransport, err)
	c.obs.LogError("transport_error", err, ports.Field{Key: "session_id", Value: c.id})
	c.fail(err)
}

func (c *Controller) OnFrameCaptured(frame *domain.RawFrame) (*domain.RawFrame, domain.FrameStamp, bool) {
	c.admitMu.RLock()
	defer c.admitMu.RUnlock()
	if !c.accepting || c.tagger == nil {
		return nil, domain.FrameStamp{}, false
	}
	stamped, st := c.tagger.Tag(frame)
	return stamped, st, true
}

func (c *Controller) OnEncodeDone(seq uint64, at time.Time) {
	if c.tagger != nil {
		c.tagger.EncodeDone(seq, at)
	}
}

func (c *Controller) OnFrameDecoded(ev domain.FrameEvent) bool {
	if ev.ReceiveTime.IsZero() {
		ev.ReceiveTime = c.deps.Clock.Now()
	}
	c.admitMu.RLock()
	defer c.admitMu.RUnlock()
	if !c.accepting || c.corr == nil {
		return false
	}
	return pipeline.Submit(c.admitCtx, c.deps.Queue, ev, c.cfg.Policy, c.obs)
}

func (c *Controller) OnData(payload []byte) {
	if c.deps.OnData != nil {
		c.deps.OnData(payload)
	}
}

var _ ports.TransportHandler = (*Controller)(nil)
