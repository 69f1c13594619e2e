// Package stats keeps running latency statistics in constant memory.
//
// Percentiles come from a logarithmic histogram with a fixed bucket count.
// For latencies inside [Options.Min, Options.Max] a reported percentile is
// within Options.RelativeError of a latency that was actually observed at
// that rank; estimates are clamped to the observed min and max.
package stats

import (
	"fmt"
	"math"
	"sync"
	"time"
	"unsafe"

	"github.com/ghalamif/frameprobe/internal/domain"
)

const (
	DefaultRelativeError = 0.01
	DefaultMin           = time.Microsecond
	DefaultMax           = time.Hour
)

// DefaultQuantiles are always reported in a Snapshot.
var DefaultQuantiles = []float64{0.5, 0.9, 0.99}

type Options struct {
	RelativeError float64       `yaml:"relative_error"`
	Min           time.Duration `yaml:"min"`
	Max           time.Duration `yaml:"max"`
	Quantiles     []float64     `yaml:"quantiles"`
}

func (o Options) withDefaults() Options {
	if o.RelativeError <= 0 || o.RelativeError >= 1 {
		o.RelativeError = DefaultRelativeError
	}
	if o.Min <= 0 {
		o.Min = DefaultMin
	}
	if o.Max <= o.Min {
		o.Max = DefaultMax
	}
	if len(o.Quantiles) == 0 {
		o.Quantiles = DefaultQuantiles
	}
	return o
}

// Validate rejects options withDefaults would not silently repair.
func (o Options) Validate() error {
	for _, q := range o.Quantiles {
		if q <= 0 || q > 1 {
			return fmt.Errorf("quantile %v must be in (0, 1]", q)
		}
	}
	if o.RelativeError < 0 || o.RelativeError >= 1 {
		return fmt.Errorf("relative_error %v must be in [0, 1)", o.RelativeError)
	}
	return nil
}

// Quantile is one configured percentile in a Snapshot.
type Quantile struct {
	Q     float64       `json:"q"`
	Value time.Duration `json:"value"`
}

// Snapshot is a consistent read of an Aggregator.
type Snapshot struct {
	Count      uint64        `json:"count"`
	Anomalies  uint64        `json:"anomalies"`
	Min        time.Duration `json:"min"`
	Max        time.Duration `json:"max"`
	Mean       time.Duration `json:"mean"`
	StdDev     time.Duration `json:"stddev"`
	P50        time.Duration `json:"p50"`
	P90        time.Duration `json:"p90"`
	P99        time.Duration `json:"p99"`
	Quantiles  []Quantile    `json:"quantiles"`
	Jitter     time.Duration `json:"jitter"`
	JitterEWMA time.Duration `json:"jitter_ewma"`
	ErrorBound float64       `json:"error_bound"`
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	mu   sync.Mutex
	opts Options

	count     uint64
	anomalies uint64
	sum       int64
	sumSq     float64
	min       time.Duration
	max       time.Duration
	hist      *histogram

	hasPrev     bool
	prevSeq     uint64
	prevLatency time.Duration
	jitterSum   int64
	jitterN     uint64
	jitterEWMA  float64
}

func New(opts Options) *Aggregator {
	opts = opts.withDefaults()
	return &Aggregator{
		opts: opts,
		hist: newHistogram(opts.RelativeError, opts.Min, opts.Max),
	}
}

// Update folds s into the running statistics. It reports whether s was
// counted: duplicates are ignored, and anomalies (a missing stamp or a
// negative latency) are excluded and counted separately.
func (a *Aggregator) Update(s domain.LatencySample) bool {
	if s.Kind == domain.SampleDuplicate {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if s.Kind == domain.SampleAnomaly || s.Latency < 0 {
		a.anomalies++
		return false
	}

	l := s.Latency
	a.count++
	a.sum += int64(l)
	sec := l.Seconds()
	a.sumSq += sec * sec
	if a.count == 1 || l < a.min {
		a.min = l
	}
	if l > a.max {
		a.max = l
	}
	a.hist.add(l)

	// jitter follows sequence order; late arrivals do not contribute
	if !a.hasPrev || s.Sequence > a.prevSeq {
		if a.hasPrev {
			d := l - a.prevLatency
			if d < 0 {
				d = -d
			}
			a.jitterSum += int64(d)
			a.jitterN++
			a.jitterEWMA += (float64(d) - a.jitterEWMA) / 16
		}
		a.hasPrev = true
		a.prevSeq = s.Sequence
		a.prevLatency = l
	}
	return true
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Count:      a.count,
		Anomalies:  a.anomalies,
		ErrorBound: a.opts.RelativeError,
		Quantiles:  make([]Quantile, len(a.opts.Quantiles)),
	}
	for i, q := range a.opts.Quantiles {
		snap.Quantiles[i].Q = q
	}
	if a.count == 0 {
		return snap
	}

	n := float64(a.count)
	mean := float64(a.sum) / n
	snap.Min = a.min
	snap.Max = a.max
	snap.Mean = time.Duration(math.Round(mean))
	meanSec := mean / float64(time.Second)
	if v := a.sumSq/n - meanSec*meanSec; v > 0 {
		snap.StdDev = time.Duration(math.Sqrt(v) * float64(time.Second))
	}
	snap.P50 = a.quantile(0.5)
	snap.P90 = a.quantile(0.9)
	snap.P99 = a.quantile(0.99)
	for i := range snap.Quantiles {
		snap.Quantiles[i].Value = a.quantile(snap.Quantiles[i].Q)
	}
	if a.jitterN > 0 {
		snap.Jitter = time.Duration(a.jitterSum / int64(a.jitterN))
		snap.JitterEWMA = time.Duration(a.jitterEWMA)
	}
	return snap
}

// quantile uses the nearest-rank definition. Caller holds mu.
func (a *Aggregator) quantile(q float64) time.Duration {
	r := uint64(math.Ceil(q * float64(a.count)))
	if r == 0 {
		r = 1
	}
	v := time.Duration(math.Round(a.hist.rank(r)))
	return min(max(v, a.min), a.max)
}

// Reset discards everything observed so far.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hist.reset()
	a.count, a.anomalies, a.sum, a.sumSq = 0, 0, 0, 0
	a.min, a.max = 0, 0
	a.hasPrev, a.prevSeq, a.prevLatency = false, 0, 0
	a.jitterSum, a.jitterN, a.jitterEWMA = 0, 0, 0
}

// Footprint is the number of bytes the aggregator holds. It depends only
// on Options, never on how many samples were seen.
func (a *Aggregator) Footprint() int {
	return int(unsafe.Sizeof(*a)) + int(unsafe.Sizeof(*a.hist)) + a.hist.bytes() +
		len(a.opts.Quantiles)*int(unsafe.Sizeof(float64(0)))
}

// Buckets is the fixed number of histogram buckets.
func (a *Aggregator) Buckets() int { return len(a.hist.counts) }
