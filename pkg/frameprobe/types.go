package frameprobe

import (
	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

// Record is one self-describing output row.
type Record = domain.Record

// Summary is the final per-session or per-layer result.
type Summary = domain.Summary

type (
	Role          = domain.Role
	LayerID       = domain.LayerID
	FrameStamp    = domain.FrameStamp
	RawFrame      = domain.RawFrame
	FrameEvent    = domain.FrameEvent
	LatencySample = domain.LatencySample
	PerfSample    = domain.PerfSample
	Clock         = domain.Clock
)

// Transport is the external real-time media SDK a session drives.
type Transport = ports.Transport

// TransportHandler is the callback surface a session exposes to its
// transport.
type TransportHandler = ports.TransportHandler

// Sink consumes batches of records and persists them to any downstream
// system.
type Sink = ports.Sink

// Journal persists records ahead of the sink for crash recovery.
type Journal = ports.Journal

// EventQueue is the bounded queue between transport callbacks and the
// dispatch loop.
type EventQueue = ports.EventQueue

// Observability emits metrics and logs about the session.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// CPUReader reports process CPU utilization.
type CPUReader = ports.CPUReader

const (
	RoleSender   = domain.RoleSender
	RoleReceiver = domain.RoleReceiver
)

// Error classes. Test with errors.Is.
var (
	ErrClockAnomaly = domain.ErrClockAnomaly
	ErrFrameLoss    = domain.ErrFrameLoss
	ErrSink         = domain.ErrSink
	ErrTransport    = domain.ErrTransport
	ErrConfig       = domain.ErrConfig
)

type (
	JournalEntryID = ports.JournalEntryID
	JournalStats   = ports.JournalStats
)
