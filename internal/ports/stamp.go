package ports

import "github.com/ghalamif/frameprobe/internal/domain"

// StampEmbedder attaches a stamp to an outgoing frame.
type StampEmbedder interface {
	Embed(frame *domain.RawFrame, st domain.FrameStamp) error
}

// StampExtractor recovers the stamp of an arriving frame.
type StampExtractor interface {
	Extract(ev *domain.FrameEvent) (domain.FrameStamp, bool)
}
