package stamp

import (
	"sync"

	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

// DefaultRegistrySize covers several seconds of frames at 60 fps.
const DefaultRegistrySize = 512

// Registry holds side-channel stamps keyed by media time. Capacity is
// fixed; once full, the oldest entry is overwritten.
type Registry struct {
	mu    sync.Mutex
	slots []registryEntry
	index map[uint32]int
	next  int
}

type registryEntry struct {
	mediaTime uint32
	stamp     domain.FrameStamp
	used      bool
}

func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultRegistrySize
	}
	return &Registry{
		slots: make([]registryEntry, capacity),
		index: make(map[uint32]int, capacity),
	}
}

func (r *Registry) Put(mediaTime uint32, st domain.FrameStamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[mediaTime]; ok {
		r.slots[i].stamp = st
		return
	}
	if old := r.slots[r.next]; old.used {
		delete(r.index, old.mediaTime)
	}
	r.slots[r.next] = registryEntry{mediaTime: mediaTime, stamp: st, used: true}
	r.index[mediaTime] = r.next
	r.next = (r.next + 1) % len(r.slots)
}

// Lookup returns the stamp for mediaTime. The entry stays until the ring
// overwrites it, so a frame delivered twice resolves to the same stamp and
// the correlator can book the repeat as a duplicate.
func (r *Registry) Lookup(mediaTime uint32) (domain.FrameStamp, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[mediaTime]
	if !ok {
		return domain.FrameStamp{}, false
	}
	return r.slots[i].stamp, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.index)
}

// OnData ingests a side-channel payload; malformed payloads are ignored.
func (r *Registry) OnData(payload []byte) bool {
	mt, st, err := UnmarshalSideChannel(payload)
	if err != nil {
		return false
	}
	r.Put(mt, st)
	return true
}

// Extract implements ports.StampExtractor for side-channel delivery.
func (r *Registry) Extract(ev *domain.FrameEvent) (domain.FrameStamp, bool) {
	if ev.HasStamp {
		return ev.Stamp, true
	}
	if ev.Frame == nil {
		return domain.FrameStamp{}, false
	}
	return r.Lookup(ev.Frame.MediaTime)
}

// Publisher sends stamps over a transport data channel.
type Publisher struct {
	Out ports.DataPublisher
}

func (p Publisher) Embed(f *domain.RawFrame, st domain.FrameStamp) error {
	return p.Out.PublishData(MarshalSideChannel(f.MediaTime, st))
}

// EventCarrier is used when the SDK delivers the stamp itself, for example
// after parsing the RTP header extension.
type EventCarrier struct{}

func (EventCarrier) Embed(*domain.RawFrame, domain.FrameStamp) error { return nil }

func (EventCarrier) Extract(ev *domain.FrameEvent) (domain.FrameStamp, bool) {
	return ev.Stamp, ev.HasStamp
}

var (
	_ ports.StampExtractor = (*Registry)(nil)
	_ ports.StampEmbedder  = Publisher{}
	_ ports.StampEmbedder  = EventCarrier{}
	_ ports.StampExtractor = EventCarrier{}
	_ ports.StampEmbedder  = (*LumaCarrier)(nil)
	_ ports.StampExtractor = (*LumaCarrier)(nil)
)
