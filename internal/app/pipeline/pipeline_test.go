package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ghalamif/frameprobe/internal/adapters/queue"
	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

func ev(seq uint64) domain.FrameEvent {
	return domain.FrameEvent{Stamp: domain.FrameStamp{Sequence: seq}, HasStamp: true}
}

func TestSubmitBlockThenSucceed(t *testing.T) {
	q := &mockQueue{}
	q.failures = 1

	pol := ports.Policy{
		OnQueueFull: "block",
		IdleSleep:   time.Millisecond,
	}
	obs := &mockObs{}

	if ok := Submit(context.Background(), q, ev(1), pol, obs); !ok {
		t.Fatalf("expected submit to eventually succeed")
	}
	if q.calls != 2 {
		t.Fatalf("expected two enqueue attempts, got %d", q.calls)
	}
}

func TestSubmitBlockGivesUpWhenCancelled(t *testing.T) {
	q := &mockQueue{failAlways: true}
	pol := ports.Policy{OnQueueFull: "block", IdleSleep: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if ok := Submit(ctx, q, ev(1), pol, &mockObs{}); ok {
		t.Fatalf("expected submit to give up after cancellation")
	}
}

func TestSubmitDrop(t *testing.T) {
	q := &mockQueue{failAlways: true}
	pol := ports.Policy{
		OnQueueFull: "drop",
	}
	obs := &mockObs{}

	if ok := Submit(context.Background(), q, ev(1), pol, obs); ok {
		t.Fatalf("expected submit to fail")
	}
	if len(obs.errors) == 0 {
		t.Fatalf("expected drop to log an error")
	}
	if q.calls != 1 {
		t.Fatalf("drop policy must not retry, got %d attempts", q.calls)
	}
}

func TestRunDispatchDrainsQueueAfterStop(t *testing.T) {
	q := queue.NewMemQueue(16)
	for i := uint64(1); i <= 10; i++ {
		q.Enqueue(ev(i))
	}
	run, stop := context.WithCancel(context.Background())
	stop()

	var got []uint64
	discarded := RunDispatch(run, context.Background(), q, func(e domain.FrameEvent) {
		got = append(got, e.Stamp.Sequence)
	}, ports.Policy{MaxBatchSize: 3}, &mockObs{})

	if discarded != 0 {
		t.Fatalf("expected nothing discarded, got %d", discarded)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 handled events, got %d", len(got))
	}
	for i, seq := range got {
		if seq != uint64(i+1) {
			t.Fatalf("events out of order: %v", got)
		}
	}
}

func TestRunDispatchDiscardsAfterDrainDeadline(t *testing.T) {
	q := queue.NewMemQueue(64)
	for i := uint64(1); i <= 50; i++ {
		q.Enqueue(ev(i))
	}
	run, stop := context.WithCancel(context.Background())
	stop()
	drain, expire := context.WithCancel(context.Background())

	var handled int32
	discarded := RunDispatch(run, drain, q, func(domain.FrameEvent) {
		if atomic.AddInt32(&handled, 1) == 5 {
			expire()
		}
	}, ports.Policy{MaxBatchSize: 10}, &mockObs{})

	if handled != 5 {
		t.Fatalf("expected 5 handled events, got %d", handled)
	}
	if discarded != 45 {
		t.Fatalf("expected 45 discarded events, got %d", discarded)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty after discard, got %d", q.Len())
	}
}

func TestRunDispatchWaitsForEvents(t *testing.T) {
	q := queue.NewMemQueue(8)
	run, stop := context.WithCancel(context.Background())

	var handled int32
	done := make(chan struct{})
	go func() {
		RunDispatch(run, context.Background(), q, func(domain.FrameEvent) { atomic.AddInt32(&handled, 1) },
			ports.Policy{IdleSleep: time.Millisecond}, &mockObs{})
		close(done)
	}()

	q.Enqueue(ev(1))
	q.Enqueue(ev(2))
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&handled) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("dispatch did not return after stop")
	}
	if got := atomic.LoadInt32(&handled); got != 2 {
		t.Fatalf("expected 2 handled events, got %d", got)
	}
}

type mockQueue struct {
	failures   int32
	failAlways bool
	calls      int
}

func (m *mockQueue) Enqueue(domain.FrameEvent) bool {
	m.calls++
	if m.failAlways {
		return false
	}
	if atomic.LoadInt32(&m.failures) > 0 {
		atomic.AddInt32(&m.failures, -1)
		return false
	}
	return true
}

func (m *mockQueue) DequeueBatch(int) []domain.FrameEvent { return nil }
func (m *mockQueue) Len() int                             { return 0 }

type mockObs struct {
	errors []error
}

func (m *mockObs) LogInfo(string, ...ports.Field)                 {}
func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) { m.errors = append(m.errors, err) }
func (m *mockObs) LogCritical(string, error, ...ports.Field)      {}
func (m *mockObs) IncCounter(string, float64)                     {}
func (m *mockObs) ObserveLatency(string, float64)                 {}
func (m *mockObs) SetGauge(string, float64)                       {}
func (m *mockObs) RecordAnomaly(domain.LatencySample)             {}
