package domain

import (
	"fmt"
	"time"
)

// LayerID names the simulcast layer that produced an encoded frame instance.
type LayerID string

const (
	LayerNone LayerID = "none"
	LayerLow  LayerID = "q"
	LayerMid  LayerID = "h"
	LayerHigh LayerID = "f"
)

// SimulcastLayers is the layer set published when simulcast is enabled,
// lowest quality first.
var SimulcastLayers = []LayerID{LayerLow, LayerMid, LayerHigh}

func ParseLayer(s string) (LayerID, error) {
	switch LayerID(s) {
	case LayerNone, "":
		return LayerNone, nil
	case LayerLow, LayerMid, LayerHigh:
		return LayerID(s), nil
	}
	return "", fmt.Errorf("unknown layer %q", s)
}

// FrameStamp identifies one captured frame. Sequence is shared by every
// simulcast layer derived from the same capture.
type FrameStamp struct {
	Sequence   uint64    `json:"seq"`
	OriginTime time.Time `json:"origin"`
	Layer      LayerID   `json:"layer"`
}

// WithLayer returns a copy of the stamp attributed to layer l.
func (s FrameStamp) WithLayer(l LayerID) FrameStamp {
	s.Layer = l
	return s
}
