package ports

import (
	"context"
	"time"

	"github.com/ghalamif/frameprobe/internal/domain"
)

// Transport is the external real-time media SDK. Start connects and begins
// delivering callbacks to h; it must not block past connection setup.
type Transport interface {
	Start(ctx context.Context, h TransportHandler) error
	Stop() error
}

// TransportHandler is the callback surface the session exposes to the SDK.
type TransportHandler interface {
	OnConnected()
	OnDisconnected(reason string)
	OnError(err error)

	// OnFrameCaptured stamps a captured frame before it enters the encode
	// path. ok is false once the session stops admitting frames.
	OnFrameCaptured(frame *domain.RawFrame) (stamped *domain.RawFrame, st domain.FrameStamp, ok bool)
	// OnEncodeDone reports that the frame with sequence seq left the encoder.
	OnEncodeDone(seq uint64, at time.Time)
	// OnFrameDecoded hands an arriving decodable frame to the session.
	OnFrameDecoded(ev domain.FrameEvent) bool
	// OnData delivers a data-channel payload.
	OnData(payload []byte)
}

// DataPublisher is implemented by transports with a data channel.
type DataPublisher interface {
	PublishData(payload []byte) error
}

// Finite is implemented by transports that carry a fixed amount of media.
// Done is closed once all of it has been delivered.
type Finite interface {
	Done() <-chan struct{}
}
