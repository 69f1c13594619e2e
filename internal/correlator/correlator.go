// Package correlator turns arriving frame stamps into latency samples.
//
// Every sequence is counted once for primary statistics. Arrivals are
// tracked in a sliding bitmap of the most recent Window sequences behind
// the highest one seen; gaps ahead of the highest are booked as drops and
// returned when a late frame fills them.
package correlator

import (
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

// DefaultWindow is the number of sequences remembered for deduplication.
const DefaultWindow = 4096

// Counters are cumulative for the session.
type Counters struct {
	Primary         uint64 `json:"primary"`
	Drops           uint64 `json:"drops"`
	Duplicates      uint64 `json:"duplicates"`
	Reordered       uint64 `json:"reordered"`
	Stale           uint64 `json:"stale"`
	MissingStamps   uint64 `json:"missing_stamps"`
	NegativeLatency uint64 `json:"negative_latency"`
}

// Anomalies is the number of arrivals excluded from latency statistics.
func (c Counters) Anomalies() uint64 { return c.MissingStamps + c.NegativeLatency }

type Correlator struct {
	mu sync.Mutex

	window  uint64
	seen    []uint64
	started bool
	base    uint64
	highest uint64

	c         Counters
	warnedNeg bool

	obs ports.Observability
}

// New returns a correlator remembering window sequences. A window below 64
// is raised to 64.
func New(window int, obs ports.Observability) *Correlator {
	if window <= 0 {
		window = DefaultWindow
	}
	w := uint64((window + 63) / 64 * 64)
	return &Correlator{
		window: w,
		seen:   make([]uint64, w/64),
		obs:    obs,
	}
}

// Correlate classifies one arrival. ok is false when no stamp could be
// recovered from the frame. It never blocks on I/O.
func (c *Correlator) Correlate(st domain.FrameStamp, ok bool, receiveTime time.Time) domain.LatencySample {
	s := domain.LatencySample{
		Sequence:    st.Sequence,
		Layer:       st.Layer,
		OriginTime:  st.OriginTime,
		ReceiveTime: receiveTime,
		Kind:        domain.SamplePrimary,
	}
	if s.Layer == "" {
		s.Layer = domain.LayerNone
	}

	if !ok || st.OriginTime.IsZero() {
		s.Sequence = 0
		s.OriginTime = time.Time{}
		s.Kind = domain.SampleAnomaly
		s.Anomaly = domain.AnomalyMissingStamp
		c.mu.Lock()
		c.c.MissingStamps++
		c.mu.Unlock()
		c.obs.RecordAnomaly(s)
		return s
	}
	s.Latency = receiveTime.Sub(st.OriginTime)

	c.mu.Lock()
	prevDrops := c.c.Drops
	first, gap := c.admit(st.Sequence)
	drops := c.c.Drops
	if !first {
		c.c.Duplicates++
		c.mu.Unlock()
		s.Kind = domain.SampleDuplicate
		c.obs.IncCounter("frameprobe_frames_duplicate_total", 1)
		return s
	}
	warn := false
	if s.Latency < 0 {
		c.c.NegativeLatency++
		warn = !c.warnedNeg
		c.warnedNeg = true
	} else {
		c.c.Primary++
	}
	c.mu.Unlock()

	if drops != prevDrops {
		c.obs.SetGauge("frameprobe_frames_dropped", float64(drops))
	}
	if gap > 0 {
		c.obs.LogError("sequence_gap", domain.ErrFrameLoss,
			ports.Field{Key: "seq", Value: st.Sequence},
			ports.Field{Key: "missing", Value: gap})
	}
	if s.Latency < 0 {
		s.Kind = domain.SampleAnomaly
		s.Anomaly = domain.AnomalyNegativeLatency
		c.obs.RecordAnomaly(s)
		if warn {
			c.obs.LogError("negative_latency", fmt.Errorf("%w: origin after receive by %s; sender and receiver clocks are not synchronized",
				domain.ErrClockAnomaly, -s.Latency), ports.Field{Key: "seq", Value: st.Sequence})
		}
	}
	return s
}

// CorrelateEvent extracts the stamp of ev with x and correlates it at the
// event's receive time.
func (c *Correlator) CorrelateEvent(ev *domain.FrameEvent, x ports.StampExtractor) domain.LatencySample {
	st, ok := x.Extract(ev)
	if ok && ev.Layer != "" && ev.Layer != domain.LayerNone {
		st.Layer = ev.Layer
	}
	return c.Correlate(st, ok, ev.ReceiveTime)
}

// admit marks seq as seen. first is false for a repeat or for a sequence
// too old to tell. gap is the number of sequences newly booked as dropped.
func (c *Correlator) admit(seq uint64) (first bool, gap uint64) {
	switch {
	case !c.started:
		c.started = true
		c.base = seq
		c.highest = seq
		c.mark(seq)
		return true, 0

	case seq > c.highest:
		gap = seq - c.highest - 1
		if seq-c.highest >= c.window {
			clear(c.seen)
		} else {
			for s := c.highest + 1; s < seq; s++ {
				c.unmark(s)
			}
		}
		c.highest = seq
		c.mark(seq)
		c.c.Drops += gap
		return true, gap

	case c.highest-seq >= c.window:
		c.c.Stale++
		return false, 0

	case c.isMarked(seq):
		return false, 0
	}

	// late arrival filling a hole
	c.mark(seq)
	c.c.Reordered++
	if seq > c.base && c.c.Drops > 0 {
		c.c.Drops--
	}
	return true, 0
}

func (c *Correlator) bit(seq uint64) (int, uint64) {
	i := seq % c.window
	return int(i / 64), 1 << (i % 64)
}

func (c *Correlator) mark(seq uint64) {
	w, m := c.bit(seq)
	c.seen[w] |= m
}

func (c *Correlator) unmark(seq uint64) {
	w, m := c.bit(seq)
	c.seen[w] &^= m
}

func (c *Correlator) isMarked(seq uint64) bool {
	w, m := c.bit(seq)
	return c.seen[w]&m != 0
}

func (c *Correlator) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c
}

// Window reports the effective dedup window.
func (c *Correlator) Window() int { return int(c.window) }
