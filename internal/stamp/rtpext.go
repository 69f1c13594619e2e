package stamp

import (
	"fmt"

	"github.com/pion/rtp"

	"github.com/ghalamif/frameprobe/internal/domain"
)

// DefaultExtensionID is the RTP header extension id used when none is
// configured. It must be negotiated out of band with the receiver.
const DefaultExtensionID = 5

// EmbedRTP stores st as header extension id on h. The stamp is longer than
// a one-byte extension element allows, so pion selects the two-byte profile
// on a header without extensions.
func EmbedRTP(h *rtp.Header, id uint8, st domain.FrameStamp) error {
	if err := h.SetExtension(id, Marshal(st)); err != nil {
		return fmt.Errorf("set rtp extension %d: %w", id, err)
	}
	return nil
}

// ExtractRTP reads the stamp stored under extension id, if any.
func ExtractRTP(h *rtp.Header, id uint8) (domain.FrameStamp, bool) {
	payload := h.GetExtension(id)
	if payload == nil {
		return domain.FrameStamp{}, false
	}
	st, err := Unmarshal(payload)
	if err != nil {
		return domain.FrameStamp{}, false
	}
	return st, true
}
