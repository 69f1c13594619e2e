package frameprobe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestConfFromConfigAndStreamBuilder(t *testing.T) {
	cfg := testConfig(t)

	flow, err := ConfFromConfig(cfg)
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if flow.Config() != cfg {
		t.Fatalf("expected Config to be returned verbatim")
	}

	tr := &stubTransport{}
	sink := &stubSink{}

	rt, err := flow.
		StreamIN(
			StreamInTransport(tr),
			StreamInObservability(&stubObservability{}),
			StreamInCPUReader(stubCPU{}),
		).
		StreamOUT(
			StreamOutSink(sink),
			StreamOutJournal(&stubJournal{}),
		)
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	if rt.transport != tr {
		t.Fatalf("expected custom transport to be wired")
	}
	if rt.sink != sink {
		t.Fatalf("expected custom sink to be wired")
	}
}

func TestFlowRunWithExternalTransport(t *testing.T) {
	var (
		mu      sync.Mutex
		records []Record
	)
	ext := NewExternalTransport(nil)
	flow, err := ConfFromConfig(testConfig(t))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}

	if err := ext.DecodeFrame(FrameEvent{}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted before Run, got %v", err)
	}

	type result struct {
		sum Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := flow.
			StreamIN(StreamInTransport(ext), StreamInObservability(&stubObservability{})).
			Run(context.Background(), StreamOutCallback("cb", func(batch []Record) error {
				mu.Lock()
				records = append(records, batch...)
				mu.Unlock()
				return nil
			}))
		done <- result{sum, err}
	}()

	origin := time.Unix(1_700_000_000, 0)
	for seq := uint64(1); seq <= 5; seq++ {
		st := FrameStamp{Sequence: seq, OriginTime: origin.Add(time.Duration(seq) * 33 * time.Millisecond), Layer: "none"}
		ev := FrameEvent{Stamp: st, HasStamp: true, ReceiveTime: st.OriginTime.Add(10 * time.Millisecond)}
		for {
			err := ext.DecodeFrame(ev)
			if errors.Is(err, ErrNotStarted) {
				time.Sleep(time.Millisecond)
				continue
			}
			if err != nil {
				t.Fatalf("DecodeFrame returned error: %v", err)
			}
			break
		}
	}
	ext.Finish()

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run")
	}
	if res.err != nil {
		t.Fatalf("Run returned error: %v", res.err)
	}
	if res.sum.Frames != 5 || res.sum.Mean != 10*time.Millisecond || res.sum.Truncated {
		t.Fatalf("unexpected summary: %+v", res.sum)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(records) != 6 {
		t.Fatalf("expected 5 latency records and a summary, got %d", len(records))
	}
	if records[5].Summary == nil {
		t.Fatalf("expected the summary record last")
	}

	if err := ext.DecodeFrame(FrameEvent{}); !errors.Is(err, ErrFrameRejected) {
		t.Fatalf("expected ErrFrameRejected after stop, got %v", err)
	}
}

func TestFlowSkipsNilOverrides(t *testing.T) {
	flow, err := ConfFromConfig(testConfig(t))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	tr := &stubTransport{}
	flow.StreamIN(StreamInTransport(tr), StreamInTransport(nil), StreamInClock(nil), StreamInQueue(nil))
	if len(flow.opts) != 1 {
		t.Fatalf("expected only the supplied transport to be kept, got %d options", len(flow.opts))
	}

	rt, err := flow.StreamOUT(StreamOutSink(nil), StreamOutSink(&stubSink{}), StreamOutJournal(nil))
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	if rt.transport != tr {
		t.Fatalf("a nil transport must not replace the one already set")
	}
	if _, ok := rt.sink.(*stubSink); !ok {
		t.Fatalf("expected the supplied sink, got %T", rt.sink)
	}
}

func TestStreamBuilderWithoutTransportFails(t *testing.T) {
	flow, err := ConfFromConfig(testConfig(t))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if _, err := flow.StreamOUT(StreamOutSink(&stubSink{})); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without a transport, got %v", err)
	}
}
