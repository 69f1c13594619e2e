package stamp

import (
	"errors"
	"fmt"

	"github.com/ghalamif/frameprobe/internal/domain"
)

const (
	lumaPreamble = 0xA5
	lumaHigh     = 235
	lumaLow      = 16
	lumaCut      = (lumaHigh + lumaLow) / 2

	// preamble + stamp + xor checksum
	lumaBits = (1 + Size + 1) * 8

	DefaultBlock = 8
)

var ErrFrameTooSmall = errors.New("stamp: frame too small for luma barcode")

// LumaCarrier paints the stamp as a barcode of Block x Block luma cells
// across the top of the frame. Each bit is read back as a cell-mean
// threshold, which tolerates mild encoder smoothing.
type LumaCarrier struct {
	Block int
}

func NewLumaCarrier(block int) *LumaCarrier {
	if block <= 0 {
		block = DefaultBlock
	}
	return &LumaCarrier{Block: block}
}

func (c *LumaCarrier) layout(f *domain.RawFrame) (cols int, err error) {
	cols = f.Width / c.Block
	if cols == 0 {
		return 0, ErrFrameTooSmall
	}
	rows := (lumaBits + cols - 1) / cols
	if rows*c.Block > f.Height || len(f.Y) < f.Stride*rows*c.Block {
		return 0, fmt.Errorf("%w: %dx%d with block %d", ErrFrameTooSmall, f.Width, f.Height, c.Block)
	}
	return cols, nil
}

func (c *LumaCarrier) Embed(f *domain.RawFrame, st domain.FrameStamp) error {
	cols, err := c.layout(f)
	if err != nil {
		return err
	}
	payload := make([]byte, 0, 1+Size+1)
	payload = append(payload, lumaPreamble)
	payload = AppendMarshal(payload, st)
	payload = append(payload, checksum(payload[1:]))

	for i := 0; i < lumaBits; i++ {
		v := byte(lumaLow)
		if payload[i/8]&(0x80>>(i%8)) != 0 {
			v = lumaHigh
		}
		x0, y0 := (i%cols)*c.Block, (i/cols)*c.Block
		for y := y0; y < y0+c.Block; y++ {
			row := f.Y[y*f.Stride+x0 : y*f.Stride+x0+c.Block]
			for x := range row {
				row[x] = v
			}
		}
	}
	return nil
}

func (c *LumaCarrier) Extract(ev *domain.FrameEvent) (domain.FrameStamp, bool) {
	if ev.HasStamp {
		return ev.Stamp, true
	}
	if ev.Frame == nil {
		return domain.FrameStamp{}, false
	}
	return c.Decode(ev.Frame)
}

// Decode reads a barcode painted by Embed.
func (c *LumaCarrier) Decode(f *domain.RawFrame) (domain.FrameStamp, bool) {
	cols, err := c.layout(f)
	if err != nil {
		return domain.FrameStamp{}, false
	}
	payload := make([]byte, 1+Size+1)
	cell := c.Block * c.Block
	for i := 0; i < lumaBits; i++ {
		x0, y0 := (i%cols)*c.Block, (i/cols)*c.Block
		sum := 0
		for y := y0; y < y0+c.Block; y++ {
			for _, v := range f.Y[y*f.Stride+x0 : y*f.Stride+x0+c.Block] {
				sum += int(v)
			}
		}
		if sum/cell > lumaCut {
			payload[i/8] |= 0x80 >> (i % 8)
		}
	}
	if payload[0] != lumaPreamble || payload[len(payload)-1] != checksum(payload[1:1+Size]) {
		return domain.FrameStamp{}, false
	}
	st, err := Unmarshal(payload[1 : 1+Size])
	if err != nil {
		return domain.FrameStamp{}, false
	}
	return st, true
}

func checksum(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}
