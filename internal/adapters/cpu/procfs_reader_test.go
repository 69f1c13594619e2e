package cpu

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUPercentFromDeltas(t *testing.T) {
	wall := time.Unix(0, 0)
	cpuSeconds := []float64{1.0, 1.5, 1.5}
	i := 0
	r := newReader(
		func() time.Time { return wall },
		func() (float64, error) { v := cpuSeconds[i]; i++; return v, nil },
	)
	require.NoError(t, r.prime())

	wall = wall.Add(time.Second)
	got, err := r.CPUPercent()
	require.NoError(t, err)
	assert.InDelta(t, 50.0, got, 1e-9)

	wall = wall.Add(time.Second)
	got, err = r.CPUPercent()
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestCPUPercentPropagatesStatError(t *testing.T) {
	r := newReader(time.Now, func() (float64, error) { return 0, errors.New("no such process") })
	_, err := r.CPUPercent()
	assert.Error(t, err)
}

func TestProcReaderOnLinux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procfs is linux only")
	}
	r, err := NewProcReader()
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	got, err := r.CPUPercent()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got, 0.0)
}
