package ports

import "github.com/ghalamif/frameprobe/internal/domain"

// EventQueue decouples transport callbacks from the dispatch loop.
type EventQueue interface {
	Enqueue(ev domain.FrameEvent) bool
	DequeueBatch(max int) []domain.FrameEvent
	Len() int
}
