package stats

import (
	"math"
	"time"
)

// histogram buckets durations on a logarithmic scale so that every value
// in [min, max] is represented within a relative error of alpha. Bucket i
// covers (min*gamma^(i-1), min*gamma^i] with gamma = (1+alpha)/(1-alpha).
// Values at or below min share the first bucket; values above max share the
// last one.
type histogram struct {
	alpha    float64
	gamma    float64
	logGamma float64
	min      float64
	counts   []uint64
}

func newHistogram(alpha float64, lo, hi time.Duration) *histogram {
	gamma := (1 + alpha) / (1 - alpha)
	lg := math.Log(gamma)
	n := int(math.Ceil(math.Log(float64(hi)/float64(lo))/lg)) + 2
	return &histogram{
		alpha:    alpha,
		gamma:    gamma,
		logGamma: lg,
		min:      float64(lo),
		counts:   make([]uint64, n),
	}
}

func (h *histogram) index(d time.Duration) int {
	v := float64(d)
	if v <= h.min {
		return 0
	}
	i := int(math.Ceil(math.Log(v/h.min) / h.logGamma))
	if i >= len(h.counts) {
		return len(h.counts) - 1
	}
	return i
}

func (h *histogram) add(d time.Duration) {
	h.counts[h.index(d)]++
}

// value is the representative of bucket i: the point whose relative
// distance to both bucket bounds is alpha.
func (h *histogram) value(i int) float64 {
	if i == 0 {
		return h.min
	}
	upper := h.min * math.Pow(h.gamma, float64(i))
	return 2 * upper / (h.gamma + 1)
}

// rank returns the representative of the bucket holding the r-th smallest
// value, 1-based.
func (h *histogram) rank(r uint64) float64 {
	var seen uint64
	for i, c := range h.counts {
		seen += c
		if seen >= r {
			return h.value(i)
		}
	}
	return h.value(len(h.counts) - 1)
}

func (h *histogram) reset() {
	clear(h.counts)
}

func (h *histogram) bytes() int {
	return len(h.counts) * 8
}
