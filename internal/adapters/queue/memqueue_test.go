package queue

import (
	"testing"

	"github.com/ghalamif/frameprobe/internal/domain"
)

func ev(seq uint64) domain.FrameEvent {
	return domain.FrameEvent{Stamp: domain.FrameStamp{Sequence: seq}, HasStamp: true}
}

func TestMemQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewMemQueue(4)

	if !q.Enqueue(ev(1)) || !q.Enqueue(ev(2)) {
		t.Fatalf("expected successful enqueue")
	}

	batch := q.DequeueBatch(1)
	if len(batch) != 1 || batch[0].Stamp.Sequence != 1 {
		t.Fatalf("unexpected first batch: %+v", batch)
	}

	remaining := q.DequeueBatch(10)
	if len(remaining) != 1 || remaining[0].Stamp.Sequence != 2 {
		t.Fatalf("unexpected second batch: %+v", remaining)
	}

	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
}

func TestMemQueueCapacity(t *testing.T) {
	q := NewMemQueue(2)

	if !q.Enqueue(ev(1)) || !q.Enqueue(ev(2)) {
		t.Fatalf("expected enqueue within capacity")
	}
	if q.Enqueue(ev(3)) {
		t.Fatalf("enqueue should fail when capacity exceeded")
	}

	q.DequeueBatch(1)
	if !q.Enqueue(ev(4)) {
		t.Fatalf("expected enqueue to succeed after dequeue")
	}
}

func TestMemQueueWrapsAround(t *testing.T) {
	q := NewMemQueue(3)
	var next uint64 = 1
	var want uint64 = 1
	for round := 0; round < 10; round++ {
		for q.Enqueue(ev(next)) {
			next++
		}
		for _, e := range q.DequeueBatch(2) {
			if e.Stamp.Sequence != want {
				t.Fatalf("round %d: expected seq %d, got %d", round, want, e.Stamp.Sequence)
			}
			want++
		}
	}
	if q.Len() > q.Cap() {
		t.Fatalf("len %d exceeds cap %d", q.Len(), q.Cap())
	}
}
