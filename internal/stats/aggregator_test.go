package stats

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/frameprobe/internal/domain"
)

func primary(seq uint64, l time.Duration) domain.LatencySample {
	return domain.LatencySample{Sequence: seq, Latency: l, Kind: domain.SamplePrimary, Layer: domain.LayerNone}
}

func TestSnapshotOrdering(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	dists := map[string]func() time.Duration{
		"uniform":     func() time.Duration { return time.Duration(rng.Int64N(int64(200 * time.Millisecond))) },
		"exponential": func() time.Duration { return time.Duration(rng.ExpFloat64() * float64(40*time.Millisecond)) },
		"bimodal": func() time.Duration {
			if rng.IntN(10) == 0 {
				return 900*time.Millisecond + time.Duration(rng.Int64N(int64(time.Millisecond)))
			}
			return 20*time.Millisecond + time.Duration(rng.Int64N(int64(time.Millisecond)))
		},
		"constant": func() time.Duration { return 50 * time.Millisecond },
		"sub-min":  func() time.Duration { return time.Duration(rng.Int64N(1000)) },
	}
	for name, next := range dists {
		t.Run(name, func(t *testing.T) {
			for _, n := range []int{1, 2, 17, 5000} {
				a := New(Options{})
				for i := 0; i < n; i++ {
					a.Update(primary(uint64(i+1), next()))
				}
				s := a.Snapshot()
				require.Equal(t, uint64(n), s.Count)
				assert.LessOrEqual(t, s.Min, s.Mean, "n=%d", n)
				assert.LessOrEqual(t, s.Mean, s.Max, "n=%d", n)
				assert.LessOrEqual(t, s.Min, s.P50, "n=%d", n)
				assert.LessOrEqual(t, s.P50, s.P90, "n=%d", n)
				assert.LessOrEqual(t, s.P90, s.P99, "n=%d", n)
				assert.LessOrEqual(t, s.P99, s.Max, "n=%d", n)
			}
		})
	}
}

func TestFootprintIndependentOfStreamLength(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	var footprints []int
	for _, n := range []int{10, 10_000, 1_000_000} {
		a := New(Options{})
		for i := 0; i < n; i++ {
			a.Update(primary(uint64(i+1), time.Duration(rng.Int64N(int64(time.Second)))))
		}
		require.Equal(t, uint64(n), a.Snapshot().Count)
		footprints = append(footprints, a.Footprint())
	}
	assert.Equal(t, footprints[0], footprints[1])
	assert.Equal(t, footprints[0], footprints[2])
	assert.Less(t, footprints[0], 64<<10)
}

func TestNegativeLatencyIsExcluded(t *testing.T) {
	a := New(Options{})
	a.Update(primary(1, 10*time.Millisecond))

	counted := a.Update(domain.LatencySample{Sequence: 2, Latency: -3 * time.Millisecond, Kind: domain.SampleAnomaly, Anomaly: domain.AnomalyNegativeLatency})
	assert.False(t, counted)

	s := a.Snapshot()
	assert.Equal(t, uint64(1), s.Count)
	assert.Equal(t, uint64(1), s.Anomalies)
	assert.Equal(t, 10*time.Millisecond, s.Min)
	assert.Equal(t, 10*time.Millisecond, s.Mean)
}

func TestNegativeLatencyRejectedEvenWhenMarkedPrimary(t *testing.T) {
	a := New(Options{})
	assert.False(t, a.Update(primary(1, -time.Millisecond)))
	s := a.Snapshot()
	assert.Zero(t, s.Count)
	assert.Equal(t, uint64(1), s.Anomalies)
}

func TestDuplicatesAreIgnored(t *testing.T) {
	a := New(Options{})
	a.Update(primary(1, time.Millisecond))
	assert.False(t, a.Update(domain.LatencySample{Sequence: 1, Latency: time.Second, Kind: domain.SampleDuplicate}))
	s := a.Snapshot()
	assert.Equal(t, uint64(1), s.Count)
	assert.Zero(t, s.Anomalies)
	assert.Equal(t, time.Millisecond, s.Max)
}

func TestPercentilesWithinErrorBound(t *testing.T) {
	a := New(Options{RelativeError: 0.01, Quantiles: []float64{0.25, 0.5, 0.75}})
	perm := rand.New(rand.NewPCG(3, 4)).Perm(1000)
	for _, i := range perm {
		a.Update(primary(uint64(i+1), time.Duration(i+1)*time.Millisecond))
	}
	s := a.Snapshot()

	within := func(got time.Duration, want time.Duration) {
		t.Helper()
		rel := math.Abs(float64(got-want)) / float64(want)
		assert.LessOrEqual(t, rel, s.ErrorBound+1e-9, "got %s want %s", got, want)
	}
	within(s.P50, 500*time.Millisecond)
	within(s.P90, 900*time.Millisecond)
	within(s.P99, 990*time.Millisecond)
	require.Len(t, s.Quantiles, 3)
	within(s.Quantiles[0].Value, 250*time.Millisecond)
	within(s.Quantiles[2].Value, 750*time.Millisecond)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, time.Second, s.Max)
}

func TestConstantLatencyHasNoJitter(t *testing.T) {
	a := New(Options{})
	for i := 1; i <= 150; i++ {
		a.Update(primary(uint64(i), 50*time.Millisecond))
	}
	s := a.Snapshot()
	assert.Equal(t, uint64(150), s.Count)
	assert.Equal(t, 50*time.Millisecond, s.Mean)
	assert.Equal(t, 50*time.Millisecond, s.P50)
	assert.Equal(t, 50*time.Millisecond, s.P99)
	assert.Zero(t, s.Jitter)
	assert.Less(t, s.StdDev, time.Microsecond)
}

func TestJitterFollowsSequenceOrder(t *testing.T) {
	a := New(Options{})
	a.Update(primary(1, 10*time.Millisecond))
	a.Update(primary(3, 20*time.Millisecond))
	a.Update(primary(2, 100*time.Millisecond)) // late, skipped for jitter
	a.Update(primary(4, 30*time.Millisecond))

	s := a.Snapshot()
	assert.Equal(t, uint64(4), s.Count)
	assert.Equal(t, 10*time.Millisecond, s.Jitter)
	assert.Equal(t, 100*time.Millisecond, s.Max)
}

func TestResetClearsState(t *testing.T) {
	a := New(Options{})
	before := a.Footprint()
	for i := 1; i <= 100; i++ {
		a.Update(primary(uint64(i), time.Duration(i)*time.Millisecond))
	}
	a.Reset()
	s := a.Snapshot()
	assert.Zero(t, s.Count)
	assert.Zero(t, s.Max)
	assert.Equal(t, before, a.Footprint())

	a.Update(primary(1, 5*time.Millisecond))
	assert.Equal(t, 5*time.Millisecond, a.Snapshot().P50)
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, Options{}.Validate())
	assert.Error(t, Options{Quantiles: []float64{1.5}}.Validate())
	assert.Error(t, Options{RelativeError: 2}.Validate())
}
