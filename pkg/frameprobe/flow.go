package frameprobe

import (
	"context"
	"errors"
)

// Flow assembles one measurement session in two steps: StreamIN picks where
// frames come from and how they are timed, StreamOUT picks where latency,
// perf and summary records go and builds the Runtime.
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
}

// FlowOption adjusts a Flow right after its session config is loaded.
type FlowOption func(*Flow)

// StreamInOption sets up the frame side of a session: the media transport
// that produces stamped and decoded frames, the arrival queue, the clock
// origin and receive times are read from, and the CPU reader behind perf
// samples.
type StreamInOption func(*Flow)

// StreamOutOption sets up the record side of a session: the sink rows are
// written to and the journal that holds them while the sink is down.
type StreamOutOption func(*Flow)

// Conf reads a session config file and starts a Flow from it.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig starts a Flow from a config built in code. Validation is
// left to NewRuntime so callers can still edit cfg through Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config is the session config the runtime will be built from.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT applies the record-side options and builds the Runtime. The
// session does not start until Run.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, errors.New("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return NewRuntime(f.cfg, f.opts...)
}

// Run builds the Runtime and measures until the transport finishes, the
// configured duration elapses or ctx is cancelled.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) (Summary, error) {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return Summary{}, err
	}
	return rt.Run(ctx)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(opts...)
		}
	}
}

// setIf adds opt when the value it wraps was supplied.
func setIf(set bool, opt func() RuntimeOption) func(*Flow) {
	return func(f *Flow) {
		if f != nil && set {
			f.appendOptions(opt())
		}
	}
}

// StreamInTransport sets the media SDK adapter that captures, sends and
// decodes frames. A runtime cannot be built without one.
func StreamInTransport(t Transport) StreamInOption {
	return setIf(t != nil, func() RuntimeOption { return WithTransport(t) })
}

// StreamInQueue replaces the bounded arrival queue between the transport
// callback and the correlator.
func StreamInQueue(q EventQueue) StreamInOption {
	return setIf(q != nil, func() RuntimeOption { return WithEventQueue(q) })
}

// StreamInClock sets the clock origin and receive times are read from.
// Sender and receiver must share it, or be synchronized to the same source.
func StreamInClock(c Clock) StreamInOption {
	return setIf(c != nil, func() RuntimeOption { return WithClock(c) })
}

func StreamInCPUReader(r CPUReader) StreamInOption {
	return setIf(r != nil, func() RuntimeOption { return WithCPUReader(r) })
}

// StreamInObservability routes session logs, latency histograms and anomaly
// counts to obs instead of logrus and Prometheus.
func StreamInObservability(obs Observability) StreamInOption {
	return setIf(obs != nil, func() RuntimeOption { return WithObservability(obs) })
}

// StreamOutSink writes records to s instead of the configured CSV file and
// Timescale table.
func StreamOutSink(s Sink) StreamOutOption {
	return setIf(s != nil, func() RuntimeOption { return WithSink(s) })
}

// StreamOutJournal keeps unconfirmed records in j until the sink accepts
// them.
func StreamOutJournal(j Journal) StreamOutOption {
	return setIf(j != nil, func() RuntimeOption { return WithJournal(j) })
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return setIf(obs != nil, func() RuntimeOption { return WithObservability(obs) })
}

// StreamOutCallback hands every written batch of records to fn.
func StreamOutCallback(name string, fn RecordBatchSink) StreamOutOption {
	return setIf(true, func() RuntimeOption { return WithSink(NewCallbackSink(name, fn)) })
}

func (f *Flow) appendOptions(opts ...RuntimeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
