// Package perf samples local process performance on a fixed interval,
// independent of frame cadence.
package perf

import (
	"context"
	"time"

	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

const DefaultInterval = time.Second

// EncodeSource hands out the latest encode duration since the previous
// call, or domain.Unavailable.
type EncodeSource interface {
	TakeEncodeDuration() time.Duration
}

type Config struct {
	Interval time.Duration `yaml:"interval"`
	// Enabled on the receiver; the sender always samples.
	Receiver bool `yaml:"receiver"`
}

type Sampler struct {
	interval time.Duration
	clock    domain.Clock
	cpu      ports.CPUReader
	stats    ports.StatsProvider
	encode   EncodeSource
	emit     func(domain.PerfSample)
	obs      ports.Observability

	failing bool
}

type Option func(*Sampler)

func WithStatsProvider(p ports.StatsProvider) Option {
	return func(s *Sampler) { s.stats = p }
}

func WithEncodeSource(e EncodeSource) Option {
	return func(s *Sampler) { s.encode = e }
}

// NewSampler emits one sample per interval to emit. A nil cpu reader
// reports CPU as unavailable.
func NewSampler(interval time.Duration, clock domain.Clock, cpu ports.CPUReader, emit func(domain.PerfSample), obs ports.Observability, opts ...Option) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sampler{
		interval: interval,
		clock:    clock,
		cpu:      cpu,
		emit:     emit,
		obs:      obs,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run samples until ctx is done. OS read failures never end the loop.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.emit(s.Sample())
		}
	}
}

// Sample takes one reading. Run calls it from a single goroutine.
func (s *Sampler) Sample() domain.PerfSample {
	p := domain.PerfSample{
		Timestamp:      s.clock.Now(),
		CPUPercent:     domain.Unavailable,
		EncodeDuration: domain.Unavailable,
		Transport:      domain.UnavailableTransportStats(),
	}

	if s.cpu != nil {
		cpu, err := s.cpu.CPUPercent()
		switch {
		case err != nil:
			if !s.failing {
				s.obs.LogError("cpu_sample_unavailable", err)
			}
			s.failing = true
		default:
			if s.failing {
				s.obs.LogInfo("cpu_sample_recovered")
			}
			s.failing = false
			p.CPUPercent = cpu
			s.obs.SetGauge("frameprobe_cpu_percent", cpu)
		}
	}

	if s.encode != nil {
		p.EncodeDuration = s.encode.TakeEncodeDuration()
	}

	if s.stats != nil {
		ts, err := s.stats.TransportStats()
		if err != nil {
			s.obs.LogError("transport_stats_unavailable", err)
		} else {
			p.Transport = ts
		}
	}

	s.obs.IncCounter("frameprobe_perf_samples_total", 1)
	return p
}
