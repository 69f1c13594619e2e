// Package tagger stamps captured frames with a session-unique sequence and
// an origin time before they reach the encoder.
package tagger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

// DefaultEpsilon is added to the previous origin time when the capture
// clock steps backwards.
const DefaultEpsilon = time.Microsecond

const (
	noEncode      = int64(domain.Unavailable)
	inflightSlots = 256
)

type inflightEntry struct {
	seq    uint64
	origin time.Time
}

// Tagger is safe for concurrent use. Tag holds its lock only for a counter
// increment and a timestamp comparison.
type Tagger struct {
	mu      sync.Mutex
	clock   domain.Clock
	seq     uint64
	last    time.Time
	epsilon time.Duration
	layers  []domain.LayerID

	embedder ports.StampEmbedder
	obs      ports.Observability

	clockAnomalies atomic.Uint64
	embedFailures  atomic.Uint64

	// origin times of frames still inside the encoder, by sequence
	inflightMu sync.Mutex
	inflight   [inflightSlots]inflightEntry
	lastEncode atomic.Int64
}

type Option func(*Tagger)

// WithEmbedder paints or publishes the stamp on every tagged frame.
func WithEmbedder(e ports.StampEmbedder) Option {
	return func(t *Tagger) { t.embedder = e }
}

func WithEpsilon(d time.Duration) Option {
	return func(t *Tagger) {
		if d > 0 {
			t.epsilon = d
		}
	}
}

func New(clock domain.Clock, layers []domain.LayerID, obs ports.Observability, opts ...Option) *Tagger {
	if len(layers) == 0 {
		layers = []domain.LayerID{domain.LayerNone}
	}
	t := &Tagger{
		clock:   clock,
		epsilon: DefaultEpsilon,
		layers:  layers,
		obs:     obs,
	}
	t.lastEncode.Store(noEncode)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tag assigns the next sequence to frame. The origin time is the frame's
// capture time when the backend set one, otherwise the tagger clock.
// The returned stamp carries the first configured layer. Transports that
// send simulcast copy it per layer with FrameStamp.WithLayer.
func (t *Tagger) Tag(frame *domain.RawFrame) (*domain.RawFrame, domain.FrameStamp) {
	captured := frame.CapturedAt
	origin := captured
	if origin.IsZero() {
		origin = t.clock.Now()
	}

	t.mu.Lock()
	t.seq++
	seq := t.seq
	substituted := !t.last.IsZero() && origin.Before(t.last)
	if substituted {
		origin = t.last.Add(t.epsilon)
	}
	t.last = origin
	t.mu.Unlock()

	if substituted {
		t.clockAnomalies.Add(1)
		t.obs.LogError("capture_clock_non_monotonic", domain.ErrClockAnomaly,
			ports.Field{Key: "seq", Value: seq},
			ports.Field{Key: "captured_at", Value: captured},
			ports.Field{Key: "substituted", Value: origin})
		t.obs.IncCounter("frameprobe_clock_anomalies_total", 1)
	}

	frame.CapturedAt = origin
	st := domain.FrameStamp{Sequence: seq, OriginTime: origin, Layer: t.layers[0]}

	t.inflightMu.Lock()
	t.inflight[seq%inflightSlots] = inflightEntry{seq: seq, origin: origin}
	t.inflightMu.Unlock()

	if t.embedder != nil {
		if err := t.embedder.Embed(frame, st); err != nil {
			t.embedFailures.Add(1)
			t.obs.LogError("stamp_embed_failed", err, ports.Field{Key: "seq", Value: seq})
			t.obs.IncCounter("frameprobe_stamp_embed_failures_total", 1)
		}
	}
	t.obs.IncCounter("frameprobe_frames_tagged_total", 1)
	return frame, st
}

// EncodeDone records how long frame seq spent between capture and encoder
// output. Reports for frames that already left the in-flight window are
// ignored.
func (t *Tagger) EncodeDone(seq uint64, at time.Time) {
	t.inflightMu.Lock()
	e := t.inflight[seq%inflightSlots]
	t.inflightMu.Unlock()
	if e.seq != seq || e.origin.IsZero() {
		return
	}
	d := at.Sub(e.origin)
	if d < 0 {
		return
	}
	t.lastEncode.Store(int64(d))
	t.obs.ObserveLatency("frameprobe_encode_seconds", d.Seconds())
}

// TakeEncodeDuration returns the most recent encode duration observed since
// the previous call, or domain.Unavailable when there was none.
func (t *Tagger) TakeEncodeDuration() time.Duration {
	return time.Duration(t.lastEncode.Swap(noEncode))
}

// Tagged is the number of frames stamped so far.
func (t *Tagger) Tagged() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

func (t *Tagger) ClockAnomalies() uint64 { return t.clockAnomalies.Load() }

func (t *Tagger) EmbedFailures() uint64 { return t.embedFailures.Load() }
