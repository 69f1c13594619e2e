package domain

import "time"

// Clock supplies timestamps. Origin and receive times must come from the
// same clock domain; across hosts that means NTP-disciplined wall clocks.
type Clock interface {
	Now() time.Time
}

// MonotonicClock reports wall time derived from a single wall-clock anchor
// plus the process monotonic clock, so readings never step backwards while
// still being comparable with another host's wall clock.
type MonotonicClock struct {
	anchor time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{anchor: time.Now()}
}

func (c *MonotonicClock) Now() time.Time {
	return c.anchor.Add(time.Since(c.anchor)).Round(0)
}
