package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role is the side of the measured pair a process plays.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Codec is one of the encoders a run can be configured with.
type Codec string

const (
	CodecVP8  Codec = "VP8"
	CodecVP9  Codec = "VP9"
	CodecH264 Codec = "H264"
	CodecAV1  Codec = "AV1"
)

func ParseCodec(s string) (Codec, error) {
	switch c := Codec(strings.ToUpper(s)); c {
	case CodecVP8, CodecVP9, CodecH264, CodecAV1:
		return c, nil
	}
	return "", fmt.Errorf("invalid codec %q: use VP8, VP9, H264, or AV1", s)
}

// Resolution is one of the enumerated stream sizes.
type Resolution string

const (
	Res720p  Resolution = "720p"
	Res1080p Resolution = "1080p"
	Res1440p Resolution = "1440p"
	Res4K    Resolution = "4K"
)

func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case Res720p, Res1080p, Res1440p, Res4K:
		return r, nil
	}
	return "", fmt.Errorf("invalid resolution %q: use 720p, 1080p, 1440p, or 4K", s)
}

// Dimensions returns the nominal width and height.
func (r Resolution) Dimensions() (int, int) {
	switch r {
	case Res720p:
		return 1280, 720
	case Res1440p:
		return 2560, 1440
	case Res4K:
		return 4096, 2160
	default:
		return 1920, 1080
	}
}

// Fit scales a capture source of srcW x srcH so its long side matches the
// long side of r, keeping the source aspect ratio.
func (r Resolution) Fit(srcW, srcH int) (int, int) {
	tw, th := r.Dimensions()
	size := max(tw, th)
	if srcW <= 0 || srcH <= 0 {
		return tw, th
	}
	if srcW >= srcH {
		return size, int(float64(size) * float64(srcH) / float64(srcW))
	}
	return int(float64(size) * float64(srcW) / float64(srcH)), size
}

// SessionConfig is immutable for the lifetime of one session.
type SessionConfig struct {
	Role         Role          `yaml:"role"`
	RunName      string        `yaml:"run_name"`
	Codec        Codec         `yaml:"codec"`
	Resolution   Resolution    `yaml:"resolution"`
	BitrateKbps  int           `yaml:"bitrate_kbps"`
	FPS          int           `yaml:"fps"`
	Duration     time.Duration `yaml:"duration"`
	Simulcast    bool          `yaml:"simulcast"`
	SourceIndex  int           `yaml:"source_index"`
	OutputPath   string        `yaml:"output_path"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// Layers returns the layer set frames are published on.
func (c SessionConfig) Layers() []LayerID {
	if c.Simulcast {
		return SimulcastLayers
	}
	return []LayerID{LayerNone}
}

// DefaultOutputPath mirrors the sender file naming of the measured tool:
// <codec>_<resolution>_<bitrate>_<name>.csv.
func (c SessionConfig) DefaultOutputPath() string {
	return fmt.Sprintf("%s_%s_%d_%s.csv", c.Codec, c.Resolution, c.BitrateKbps, c.RunName)
}

// Validate enforces the configuration surface. It returns an error
// wrapping ErrConfig.
func (c SessionConfig) Validate() error {
	var problems []string
	switch c.Role {
	case RoleSender, RoleReceiver:
	default:
		problems = append(problems, fmt.Sprintf("role %q must be sender or receiver", c.Role))
	}
	if _, err := ParseCodec(string(c.Codec)); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := ParseResolution(string(c.Resolution)); err != nil {
		problems = append(problems, err.Error())
	}
	if c.BitrateKbps <= 0 {
		problems = append(problems, "bitrate_kbps must be > 0")
	}
	if c.FPS <= 0 {
		problems = append(problems, "fps must be > 0")
	}
	if c.Duration <= 0 {
		problems = append(problems, "duration must be > 0")
	} else if c.Duration%time.Second != 0 {
		problems = append(problems, "duration must be a whole number of seconds")
	}
	if c.SourceIndex < 0 {
		problems = append(problems, "source_index must be >= 0")
	}
	if c.Role == RoleReceiver && c.OutputPath == "" {
		problems = append(problems, "output_path is required for the receiver")
	}
	if c.DrainTimeout < 0 {
		problems = append(problems, "drain_timeout must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}
