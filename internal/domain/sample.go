package domain

import "time"

// SampleKind classifies a correlated arrival.
type SampleKind string

const (
	SamplePrimary   SampleKind = "latency"
	SampleDuplicate SampleKind = "duplicate"
	SampleAnomaly   SampleKind = "anomaly"
)

// AnomalyKind says why a sample was excluded from primary statistics.
type AnomalyKind string

const (
	AnomalyNone            AnomalyKind = ""
	AnomalyMissingStamp    AnomalyKind = "missing_stamp"
	AnomalyNegativeLatency AnomalyKind = "negative_latency"
)

// LatencySample is produced once per arriving frame and discarded after it
// has been aggregated and written.
type LatencySample struct {
	Sequence    uint64        `json:"seq"`
	Layer       LayerID       `json:"layer"`
	OriginTime  time.Time     `json:"origin"`
	ReceiveTime time.Time     `json:"receive"`
	Latency     time.Duration `json:"latency"`
	Kind        SampleKind    `json:"kind"`
	Anomaly     AnomalyKind   `json:"anomaly,omitempty"`
}

// Unavailable marks a perf reading the OS or transport could not provide.
const Unavailable = -1

// PerfSample is one tick of local performance sampling.
type PerfSample struct {
	Timestamp      time.Time      `json:"ts"`
	CPUPercent     float64        `json:"cpu_percent"`
	EncodeDuration time.Duration  `json:"encode"`
	Transport      TransportStats `json:"transport"`
}

// CPUAvailable reports whether the CPU reading is real.
func (p PerfSample) CPUAvailable() bool { return p.CPUPercent >= 0 }

// EncodeAvailable reports whether a frame finished encoding since the
// previous sample.
func (p PerfSample) EncodeAvailable() bool { return p.EncodeDuration >= 0 }

// TransportStats are the counters an SDK may expose about the media path.
// Fields the SDK does not report are left at Unavailable.
type TransportStats struct {
	BytesSent       int64   `json:"bytes_sent"`
	BytesReceived   int64   `json:"bytes_received"`
	FramesPerSecond float64 `json:"fps"`
	FramesDropped   int64   `json:"frames_dropped"`
	FreezeCount     int64   `json:"freeze_count"`

	// JitterBufferMs is the mean time a frame waited in the jitter buffer.
	JitterBufferMs float64 `json:"jitter_buffer_ms"`

	// JitterBufferTargetMs and JitterBufferMinimumMs are the buffer's
	// target and minimum delay per emitted frame.
	JitterBufferTargetMs  float64 `json:"jitter_buffer_target_ms"`
	JitterBufferMinimumMs float64 `json:"jitter_buffer_minimum_ms"`

	// ProcessingDelayMs is the mean decode time per decoded frame.
	ProcessingDelayMs float64 `json:"processing_delay_ms"`
	FramesReceived    int64   `json:"frames_received"`
}

// UnavailableTransportStats is the zero reading for transports without stats.
func UnavailableTransportStats() TransportStats {
	return TransportStats{
		BytesSent:       Unavailable,
		BytesReceived:   Unavailable,
		FramesPerSecond: Unavailable,
		FramesDropped:   Unavailable,
		FreezeCount:     Unavailable,
		JitterBufferMs:  Unavailable,

		JitterBufferTargetMs:  Unavailable,
		JitterBufferMinimumMs: Unavailable,
		ProcessingDelayMs:     Unavailable,
		FramesReceived:        Unavailable,
	}
}
