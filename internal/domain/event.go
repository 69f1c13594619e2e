package domain

import "time"

// RawFrame is a captured or decoded picture. Only the luma plane is kept;
// it is all the stamp carriers need.
type RawFrame struct {
	Width      int
	Height     int
	Stride     int
	Y          []byte
	CapturedAt time.Time
	// MediaTime is the transport's media timestamp (RTP timestamp) when
	// the SDK exposes one. It keys the stamp side channel.
	MediaTime uint32
}

// NewRawFrame allocates a black frame of w x h.
func NewRawFrame(w, h int) *RawFrame {
	y := make([]byte, w*h)
	for i := range y {
		y[i] = 16
	}
	return &RawFrame{Width: w, Height: h, Stride: w, Y: y}
}

// FrameEvent is a decoded-frame arrival handed from the transport callback
// to the dispatch loop. ReceiveTime is taken in the callback so queueing
// does not perturb the measurement.
type FrameEvent struct {
	Frame       *RawFrame
	Stamp       FrameStamp
	HasStamp    bool
	Layer       LayerID
	ReceiveTime time.Time
}
