// Package synthetic is an in-process sender to receiver link that stands in
// for a real-time media SDK. It paces frames at the session frame rate and
// impairs delivery with deterministic latency, jitter, loss, duplication and
// reordering. DecodeDelay is spent after arrival, before a frame reaches the
// receiver, and is reported as the processing delay.
package synthetic

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Latency       time.Duration `yaml:"latency"`
	Jitter        time.Duration `yaml:"jitter"`
	DropRate      float64       `yaml:"drop_rate"`
	DuplicateRate float64       `yaml:"duplicate_rate"`
	ReorderRate   float64       `yaml:"reorder_rate"`
	EncodeDelay   time.Duration `yaml:"encode_delay"`
	DecodeDelay   time.Duration `yaml:"decode_delay"`
	Seed          uint64        `yaml:"seed"`

	// Virtual generates frames back to back with synthetic origin and
	// receive times instead of pacing in real time.
	Virtual bool `yaml:"virtual"`

	// Frames overrides fps x duration when set.
	Frames int `yaml:"frames"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// LayerSwitchEvery moves the receiver to the next simulcast layer every
	// that many frames; the switching frame arrives on both layers.
	LayerSwitchEvery int `yaml:"layer_switch_every"`

	// FailAfter breaks the link after that many frames.
	FailAfter int `yaml:"fail_after"`
}

const (
	defaultWidth  = 320
	defaultHeight = 180
)

var ErrLinkFailed = errors.New("synthetic link failed")

func (c Config) Validate() error {
	var errs []error
	for name, p := range map[string]float64{
		"drop_rate":      c.DropRate,
		"duplicate_rate": c.DuplicateRate,
		"reorder_rate":   c.ReorderRate,
	} {
		if p < 0 || p > 1 {
			errs = append(errs, fmt.Errorf("%s %v must be in [0, 1]", name, p))
		}
	}
	if c.Latency < 0 || c.Jitter < 0 || c.EncodeDelay < 0 || c.DecodeDelay < 0 {
		errs = append(errs, errors.New("latency, jitter, encode_delay and decode_delay must be >= 0"))
	}
	if c.Frames < 0 || c.Width < 0 || c.Height < 0 || c.LayerSwitchEvery < 0 || c.FailAfter < 0 {
		errs = append(errs, errors.New("frames, width, height, layer_switch_every and fail_after must be >= 0"))
	}
	return errors.Join(errs...)
}

func (c Config) size() (int, int) {
	w, h := c.Width, c.Height
	if w == 0 {
		w = defaultWidth
	}
	if h == 0 {
		h = defaultHeight
	}
	return w, h
}
