package domain

import "errors"

var (
	// ErrClockAnomaly marks a non-monotonic capture time or negative latency.
	ErrClockAnomaly = errors.New("frameprobe: clock anomaly")
	// ErrFrameLoss marks a sequence gap.
	ErrFrameLoss = errors.New("frameprobe: frame loss")
	// ErrSink marks a metrics sink failure that outlived its retries.
	ErrSink = errors.New("frameprobe: sink failure")
	// ErrTransport marks a failure reported by the external transport.
	ErrTransport = errors.New("frameprobe: transport failure")
	// ErrConfig marks an invalid session configuration.
	ErrConfig = errors.New("frameprobe: invalid config")
)
