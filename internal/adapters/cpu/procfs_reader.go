package cpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// ProcReader reports this process's CPU usage from /proc/self/stat,
// as the delta between consecutive calls. 100 means one full core.
type ProcReader struct {
	mu       sync.Mutex
	now      func() time.Time
	stat     func() (float64, error)
	lastCPU  float64
	lastWall time.Time
}

func NewProcReader() (*ProcReader, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	self, err := fs.Self()
	if err != nil {
		return nil, fmt.Errorf("open /proc/self: %w", err)
	}
	r := newReader(time.Now, func() (float64, error) {
		st, err := self.Stat()
		if err != nil {
			return 0, err
		}
		return st.CPUTime(), nil
	})
	if err := r.prime(); err != nil {
		return nil, err
	}
	return r, nil
}

func newReader(now func() time.Time, stat func() (float64, error)) *ProcReader {
	return &ProcReader{now: now, stat: stat}
}

func (r *ProcReader) prime() error {
	cpu, err := r.stat()
	if err != nil {
		return fmt.Errorf("read process stat: %w", err)
	}
	r.lastCPU = cpu
	r.lastWall = r.now()
	return nil
}

func (r *ProcReader) CPUPercent() (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpu, err := r.stat()
	if err != nil {
		return 0, fmt.Errorf("read process stat: %w", err)
	}
	wall := r.now()
	elapsed := wall.Sub(r.lastWall).Seconds()
	used := cpu - r.lastCPU
	r.lastCPU, r.lastWall = cpu, wall
	if elapsed <= 0 || used < 0 {
		return 0, nil
	}
	return used / elapsed * 100, nil
}
