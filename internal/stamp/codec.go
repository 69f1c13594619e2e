// Package stamp carries FrameStamps across the media path: as a compact
// binary record, as an RTP header extension, as a luma barcode painted into
// the frame, or over a data-channel side channel keyed by media timestamp.
package stamp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ghalamif/frameprobe/internal/domain"
)

const (
	version = 1

	// Size is the length of a marshalled stamp.
	Size = 18
	// SideChannelSize is Size plus the 4-byte media timestamp.
	SideChannelSize = Size + 4
)

var (
	ErrShortBuffer = errors.New("stamp: buffer too short")
	ErrVersion     = errors.New("stamp: unsupported version")
	ErrLayer       = errors.New("stamp: unknown layer code")
)

var layerCodes = map[domain.LayerID]byte{
	domain.LayerNone: 0,
	domain.LayerLow:  1,
	domain.LayerMid:  2,
	domain.LayerHigh: 3,
}

var codeLayers = [...]domain.LayerID{domain.LayerNone, domain.LayerLow, domain.LayerMid, domain.LayerHigh}

// AppendMarshal appends the wire form of st to dst.
//
// layout: [1 version][1 layer][8 sequence][8 origin unix ns], big endian.
func AppendMarshal(dst []byte, st domain.FrameStamp) []byte {
	code, ok := layerCodes[st.Layer]
	if !ok {
		code = 0
	}
	dst = append(dst, version, code)
	dst = binary.BigEndian.AppendUint64(dst, st.Sequence)
	dst = binary.BigEndian.AppendUint64(dst, uint64(st.OriginTime.UnixNano()))
	return dst
}

func Marshal(st domain.FrameStamp) []byte {
	return AppendMarshal(make([]byte, 0, Size), st)
}

func Unmarshal(b []byte) (domain.FrameStamp, error) {
	if len(b) < Size {
		return domain.FrameStamp{}, fmt.Errorf("%w: %d < %d", ErrShortBuffer, len(b), Size)
	}
	if b[0] != version {
		return domain.FrameStamp{}, fmt.Errorf("%w: %d", ErrVersion, b[0])
	}
	if int(b[1]) >= len(codeLayers) {
		return domain.FrameStamp{}, fmt.Errorf("%w: %d", ErrLayer, b[1])
	}
	return domain.FrameStamp{
		Layer:      codeLayers[b[1]],
		Sequence:   binary.BigEndian.Uint64(b[2:10]),
		OriginTime: time.Unix(0, int64(binary.BigEndian.Uint64(b[10:18]))),
	}, nil
}

// MarshalSideChannel encodes st keyed by the frame's media timestamp.
func MarshalSideChannel(mediaTime uint32, st domain.FrameStamp) []byte {
	b := AppendMarshal(make([]byte, 0, SideChannelSize), st)
	return binary.BigEndian.AppendUint32(b, mediaTime)
}

func UnmarshalSideChannel(b []byte) (uint32, domain.FrameStamp, error) {
	if len(b) < SideChannelSize {
		return 0, domain.FrameStamp{}, fmt.Errorf("%w: %d < %d", ErrShortBuffer, len(b), SideChannelSize)
	}
	st, err := Unmarshal(b[:Size])
	if err != nil {
		return 0, domain.FrameStamp{}, err
	}
	return binary.BigEndian.Uint32(b[Size:SideChannelSize]), st, nil
}
