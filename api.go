package frameprobe

import (
	base "github.com/ghalamif/frameprobe/pkg/frameprobe"
)

// Re-exported errors for convenience.
var (
	ErrClockAnomaly      = base.ErrClockAnomaly
	ErrFrameLoss         = base.ErrFrameLoss
	ErrSink              = base.ErrSink
	ErrTransport         = base.ErrTransport
	ErrConfig            = base.ErrConfig
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
	ErrNotStarted        = base.ErrNotStarted
	ErrFrameRejected     = base.ErrFrameRejected
)

// Type aliases so consumers can import github.com/ghalamif/frameprobe directly.
type (
	Config           = base.Config
	SessionConfig    = base.SessionConfig
	Policy           = base.Policy
	StampConfig      = base.StampConfig
	StatsConfig      = base.StatsConfig
	TimescaleConfig  = base.TimescaleConfig
	MetricsConfig    = base.MetricsConfig
	JournalConfig    = base.JournalConfig
	LogConfig        = base.LogConfig
	SyntheticConfig  = base.SyntheticConfig
	Flow             = base.Flow
	FlowOption       = base.FlowOption
	StreamInOption   = base.StreamInOption
	StreamOutOption  = base.StreamOutOption
	Runtime          = base.Runtime
	RuntimeOption    = base.RuntimeOption
	Simulation       = base.Simulation
	SimulationResult = base.SimulationResult
	Record           = base.Record
	Summary          = base.Summary
	RecordBatchSink  = base.RecordBatchSink
	FrameStamp       = base.FrameStamp
	RawFrame         = base.RawFrame
	FrameEvent       = base.FrameEvent
	LatencySample    = base.LatencySample
	PerfSample       = base.PerfSample
	Clock            = base.Clock
	Transport        = base.Transport
	TransportHandler = base.TransportHandler
	Sink             = base.Sink
	Journal          = base.Journal
	EventQueue       = base.EventQueue
	Observability    = base.Observability
	Field            = base.Field
	CPUReader        = base.CPUReader
	JournalEntryID   = base.JournalEntryID
	JournalStats     = base.JournalStats

	ExternalTransport = base.ExternalTransport
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInTransport(t Transport) StreamInOption {
	return base.StreamInTransport(t)
}

func StreamInQueue(q EventQueue) StreamInOption {
	return base.StreamInQueue(q)
}

func StreamInClock(c Clock) StreamInOption {
	return base.StreamInClock(c)
}

func StreamInCPUReader(r CPUReader) StreamInOption {
	return base.StreamInCPUReader(r)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutJournal(j Journal) StreamOutOption {
	return base.StreamOutJournal(j)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn RecordBatchSink) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func NewSimulation(cfg *Config, opts ...RuntimeOption) (*Simulation, error) {
	return base.NewSimulation(cfg, opts...)
}

func WithTransport(t Transport) RuntimeOption {
	return base.WithTransport(t)
}

func WithSink(s Sink) RuntimeOption {
	return base.WithSink(s)
}

func WithJournal(j Journal) RuntimeOption {
	return base.WithJournal(j)
}

func WithEventQueue(q EventQueue) RuntimeOption {
	return base.WithEventQueue(q)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithCPUReader(r CPUReader) RuntimeOption {
	return base.WithCPUReader(r)
}

func WithClock(c Clock) RuntimeOption {
	return base.WithClock(c)
}

// Sink adapters.
func NewCallbackSink(name string, fn RecordBatchSink) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan []Record, func()) {
	return base.NewChannelSink(name, buffer)
}

// External SDK adapter.
func NewExternalTransport(publish func([]byte) error) *ExternalTransport {
	return base.NewExternalTransport(publish)
}
