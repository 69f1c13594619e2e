package queue

import (
	"sync"

	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

// MemQueue is a bounded FIFO of frame events backed by a ring buffer, so
// neither side ever moves the elements it does not touch.
type MemQueue struct {
	mu   sync.Mutex
	buf  []domain.FrameEvent
	head int
	size int
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{buf: make([]domain.FrameEvent, capacity)}
}

func (q *MemQueue) Enqueue(ev domain.FrameEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.size)%len(q.buf)] = ev
	q.size++
	return true
}

func (q *MemQueue) DequeueBatch(max int) []domain.FrameEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	if max <= 0 || max > q.size {
		max = q.size
	}
	out := make([]domain.FrameEvent, max)
	for i := range out {
		idx := (q.head + i) % len(q.buf)
		out[i] = q.buf[idx]
		q.buf[idx] = domain.FrameEvent{}
	}
	q.head = (q.head + max) % len(q.buf)
	q.size -= max
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *MemQueue) Cap() int { return len(q.buf) }

var _ ports.EventQueue = (*MemQueue)(nil)
