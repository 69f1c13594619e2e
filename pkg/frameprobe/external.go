package frameprobe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ghalamif/frameprobe/internal/ports"
)

// ErrNotStarted is returned when frames are pushed before the runtime has
// started the transport.
var ErrNotStarted = errors.New("frameprobe: transport not started")

// ErrFrameRejected indicates the session refused the frame: it is no longer
// running, or the event queue was full under the drop policy.
var ErrFrameRejected = errors.New("frameprobe: frame rejected")

// ExternalTransport adapts a push-style media SDK. Callers hand it to
// WithTransport and then forward their SDK callbacks through its methods.
type ExternalTransport struct {
	mu       sync.RWMutex
	h        ports.TransportHandler
	stopped  bool
	done     chan struct{}
	doneOnce sync.Once

	dataMu  sync.Mutex
	publish func([]byte) error
}

// NewExternalTransport returns a transport that stays connected until
// Finish or Stop. publish, if non-nil, carries side-channel stamps over the
// SDK data channel.
func NewExternalTransport(publish func([]byte) error) *ExternalTransport {
	return &ExternalTransport{
		done:    make(chan struct{}),
		publish: publish,
	}
}

func (t *ExternalTransport) Start(_ context.Context, h ports.TransportHandler) error {
	t.mu.Lock()
	t.h = h
	t.mu.Unlock()
	h.OnConnected()
	return nil
}

func (t *ExternalTransport) Stop() error {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	return nil
}

// Done implements the finite transport contract; it is closed by Finish.
func (t *ExternalTransport) Done() <-chan struct{} { return t.done }

// Finish ends the session normally once queued frames are processed.
func (t *ExternalTransport) Finish() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *ExternalTransport) handler() (ports.TransportHandler, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.h == nil {
		return nil, ErrNotStarted
	}
	if t.stopped {
		return nil, ErrFrameRejected
	}
	return t.h, nil
}

// CaptureFrame stamps a captured frame before the caller encodes it.
func (t *ExternalTransport) CaptureFrame(frame *RawFrame) (*RawFrame, FrameStamp, error) {
	h, err := t.handler()
	if err != nil {
		return nil, FrameStamp{}, err
	}
	stamped, st, ok := h.OnFrameCaptured(frame)
	if !ok {
		return nil, FrameStamp{}, ErrFrameRejected
	}
	return stamped, st, nil
}

// EncodeDone reports that the frame with sequence seq left the encoder.
func (t *ExternalTransport) EncodeDone(seq uint64, at time.Time) {
	if h, err := t.handler(); err == nil {
		h.OnEncodeDone(seq, at)
	}
}

// DecodeFrame hands an arriving frame to the session. A zero ReceiveTime
// is taken from the session clock.
func (t *ExternalTransport) DecodeFrame(ev FrameEvent) error {
	h, err := t.handler()
	if err != nil {
		return err
	}
	if !h.OnFrameDecoded(ev) {
		return ErrFrameRejected
	}
	return nil
}

// DeliverData forwards a data-channel payload to the session.
func (t *ExternalTransport) DeliverData(payload []byte) error {
	h, err := t.handler()
	if err != nil {
		return err
	}
	h.OnData(payload)
	return nil
}

// Fail reports an SDK failure; the session drains and records the reason.
func (t *ExternalTransport) Fail(err error) {
	if h, herr := t.handler(); herr == nil {
		h.OnError(err)
	}
}

// Disconnect reports a lost connection.
func (t *ExternalTransport) Disconnect(reason string) {
	if h, err := t.handler(); err == nil {
		h.OnDisconnected(reason)
	}
}

// PublishData sends side-channel stamps through the caller's publish
// function.
func (t *ExternalTransport) PublishData(payload []byte) error {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	if t.publish == nil {
		return errors.New("frameprobe: external transport has no data channel")
	}
	return t.publish(payload)
}

var (
	_ ports.Transport     = (*ExternalTransport)(nil)
	_ ports.DataPublisher = (*ExternalTransport)(nil)
	_ ports.Finite        = (*ExternalTransport)(nil)
)
