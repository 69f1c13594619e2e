package domain

import (
	"strconv"
	"time"
)

// RecordType is the kind of row a Record renders to.
type RecordType string

const (
	RecordLatency   RecordType = "latency"
	RecordDuplicate RecordType = "duplicate"
	RecordAnomaly   RecordType = "anomaly"
	RecordPerf      RecordType = "perf"
	RecordSummary   RecordType = "summary"
)

// Summary is the final per-session (or per-layer) result.
type Summary struct {
	Layer          LayerID       `json:"layer"`
	Frames         uint64        `json:"frames"`
	Drops          uint64        `json:"drops"`
	Duplicates     uint64        `json:"duplicates"`
	Anomalies      uint64        `json:"anomalies"`
	FramesTagged   uint64        `json:"frames_tagged"`
	ClockAnomalies uint64        `json:"clock_anomalies"`
	Min            time.Duration `json:"min"`
	Max            time.Duration `json:"max"`
	Mean           time.Duration `json:"mean"`
	StdDev         time.Duration `json:"stddev"`
	P50            time.Duration `json:"p50"`
	P90            time.Duration `json:"p90"`
	P99            time.Duration `json:"p99"`
	Jitter         time.Duration `json:"jitter"`
	Elapsed        time.Duration `json:"elapsed"`
	Truncated      bool          `json:"truncated"`
	Reason         string        `json:"reason,omitempty"`
}

// Record is one self-describing output row. Exactly one of Latency, Perf
// and Summary is set, matching Type.
type Record struct {
	RunName   string         `json:"run_name"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Type      RecordType     `json:"type"`
	Time      time.Time      `json:"time"`
	Config    SessionConfig  `json:"config"`
	Latency   *LatencySample `json:"latency,omitempty"`
	Perf      *PerfSample    `json:"perf,omitempty"`
	Summary   *Summary       `json:"summary,omitempty"`
}

// RecordColumns is the stable output schema shared by every tabular sink.
// New columns are only ever appended.
var RecordColumns = []string{
	"run_name", "session_id", "role", "record_type", "wall_time",
	"codec", "resolution", "bitrate_kbps", "fps", "simulcast", "source_index",
	"layer", "sequence", "origin_unix_ns", "receive_unix_ns", "latency_ms", "anomaly",
	"cpu_percent", "encode_ms", "bytes_sent", "bytes_received", "transport_fps",
	"transport_dropped", "freeze_count", "jitter_buffer_ms",
	"frames", "drops", "duplicates", "anomalies", "frames_tagged", "clock_anomalies",
	"min_ms", "max_ms", "mean_ms", "stddev_ms", "p50_ms", "p90_ms", "p99_ms", "jitter_ms",
	"elapsed_s", "truncated", "reason",
	"jitter_buffer_target_ms", "jitter_buffer_minimum_ms", "processing_delay_ms", "frames_received",
}

const unavailableText = "unavailable"

// Values renders the record in RecordColumns order. Columns that do not
// apply to the record type are empty.
func (r *Record) Values() []string {
	row := make([]string, len(RecordColumns))
	row[0] = r.RunName
	row[1] = r.SessionID
	row[2] = string(r.Role)
	row[3] = string(r.Type)
	row[4] = r.Time.UTC().Format(time.RFC3339Nano)
	row[5] = string(r.Config.Codec)
	row[6] = string(r.Config.Resolution)
	row[7] = strconv.Itoa(r.Config.BitrateKbps)
	row[8] = strconv.Itoa(r.Config.FPS)
	row[9] = strconv.FormatBool(r.Config.Simulcast)
	row[10] = strconv.Itoa(r.Config.SourceIndex)

	if l := r.Latency; l != nil {
		row[11] = string(l.Layer)
		row[12] = strconv.FormatUint(l.Sequence, 10)
		if !l.OriginTime.IsZero() {
			row[13] = strconv.FormatInt(l.OriginTime.UnixNano(), 10)
			row[15] = millis(l.Latency)
		}
		row[14] = strconv.FormatInt(l.ReceiveTime.UnixNano(), 10)
		row[16] = string(l.Anomaly)
	}

	if p := r.Perf; p != nil {
		if p.CPUAvailable() {
			row[17] = strconv.FormatFloat(p.CPUPercent, 'f', 2, 64)
		} else {
			row[17] = unavailableText
		}
		if p.EncodeAvailable() {
			row[18] = millis(p.EncodeDuration)
		} else {
			row[18] = unavailableText
		}
		t := p.Transport
		row[19] = optInt(t.BytesSent)
		row[20] = optInt(t.BytesReceived)
		row[21] = optFloat(t.FramesPerSecond)
		row[22] = optInt(t.FramesDropped)
		row[23] = optInt(t.FreezeCount)
		row[24] = optFloat(t.JitterBufferMs)
		row[42] = optFloat(t.JitterBufferTargetMs)
		row[43] = optFloat(t.JitterBufferMinimumMs)
		row[44] = optFloat(t.ProcessingDelayMs)
		row[45] = optInt(t.FramesReceived)
	}

	if s := r.Summary; s != nil {
		row[11] = string(s.Layer)
		row[25] = strconv.FormatUint(s.Frames, 10)
		row[26] = strconv.FormatUint(s.Drops, 10)
		row[27] = strconv.FormatUint(s.Duplicates, 10)
		row[28] = strconv.FormatUint(s.Anomalies, 10)
		row[29] = strconv.FormatUint(s.FramesTagged, 10)
		row[30] = strconv.FormatUint(s.ClockAnomalies, 10)
		row[31] = millis(s.Min)
		row[32] = millis(s.Max)
		row[33] = millis(s.Mean)
		row[34] = millis(s.StdDev)
		row[35] = millis(s.P50)
		row[36] = millis(s.P90)
		row[37] = millis(s.P99)
		row[38] = millis(s.Jitter)
		row[39] = strconv.FormatFloat(s.Elapsed.Seconds(), 'f', 3, 64)
		row[40] = strconv.FormatBool(s.Truncated)
		row[41] = s.Reason
	}
	return row
}

func millis(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64)
}

func optInt(v int64) string {
	if v < 0 {
		return unavailableText
	}
	return strconv.FormatInt(v, 10)
}

func optFloat(v float64) string {
	if v < 0 {
		return unavailableText
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
