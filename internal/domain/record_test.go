package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func column(t *testing.T, name string) int {
	t.Helper()
	for i, c := range RecordColumns {
		if c == name {
			return i
		}
	}
	t.Fatalf("no column %q", name)
	return -1
}

func TestPerfRecordRendersReceiverBufferStats(t *testing.T) {
	ts := UnavailableTransportStats()
	ts.JitterBufferMs = 4
	ts.JitterBufferTargetMs = 8
	ts.JitterBufferMinimumMs = 0
	ts.ProcessingDelayMs = 2.5
	ts.FramesReceived = 120
	r := Record{Type: RecordPerf, Time: time.Unix(0, 0), Perf: &PerfSample{CPUPercent: Unavailable, EncodeDuration: Unavailable, Transport: ts}}

	row := r.Values()
	require.Len(t, row, len(RecordColumns))
	assert.Equal(t, "4.00", row[column(t, "jitter_buffer_ms")])
	assert.Equal(t, "8.00", row[column(t, "jitter_buffer_target_ms")])
	assert.Equal(t, "0.00", row[column(t, "jitter_buffer_minimum_ms")])
	assert.Equal(t, "2.50", row[column(t, "processing_delay_ms")])
	assert.Equal(t, "120", row[column(t, "frames_received")])
	assert.Equal(t, unavailableText, row[column(t, "freeze_count")])
}

func TestPerfRecordMarksMissingBufferStatsUnavailable(t *testing.T) {
	r := Record{Type: RecordPerf, Time: time.Unix(0, 0), Perf: &PerfSample{CPUPercent: Unavailable, EncodeDuration: Unavailable, Transport: UnavailableTransportStats()}}

	row := r.Values()
	for _, name := range []string{"jitter_buffer_target_ms", "jitter_buffer_minimum_ms", "processing_delay_ms", "frames_received"} {
		assert.Equal(t, unavailableText, row[column(t, name)], name)
	}
}

func TestBufferStatColumnsAreAppended(t *testing.T) {
	assert.Equal(t, "reason", RecordColumns[41])
	assert.Equal(t, []string{"jitter_buffer_target_ms", "jitter_buffer_minimum_ms", "processing_delay_ms", "frames_received"},
		RecordColumns[42:])
}
