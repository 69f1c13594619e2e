package synthetic

import (
	"context"
	"fmt"
	"time"

	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

// SenderEnd captures synthetic frames and publishes them on the link.
type SenderEnd struct {
	link *Link
}

func (s *SenderEnd) Start(ctx context.Context, h ports.TransportHandler) error {
	l := s.link
	if l.session.FPS <= 0 {
		return fmt.Errorf("%w: synthetic link needs fps > 0", domain.ErrTransport)
	}
	h.OnConnected()
	go s.run(ctx, h)
	return nil
}

func (s *SenderEnd) run(ctx context.Context, h ports.TransportHandler) {
	l := s.link
	select {
	case <-l.rxReady:
	case <-ctx.Done():
		return
	case <-l.stopSender:
		return
	}

	w, ht := l.cfg.size()
	interval := l.interval()
	total := l.totalFrames()
	base := l.clock.Now()
	l.started.Store(base.UnixNano())

	var ticker *time.Ticker
	if !l.cfg.Virtual {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for i := 0; i < total; i++ {
		var origin time.Time
		if l.cfg.Virtual {
			origin = base.Add(time.Duration(i) * interval)
			select {
			case <-ctx.Done():
				return
			case <-l.stopSender:
				return
			default:
			}
		} else {
			if i > 0 {
				select {
				case <-ctx.Done():
					return
				case <-l.stopSender:
					return
				case <-ticker.C:
				}
			}
			origin = l.clock.Now()
		}

		l.mu.Lock()
		l.now = origin
		l.mu.Unlock()

		frame := domain.NewRawFrame(w, ht)
		frame.CapturedAt = origin
		frame.MediaTime = uint32(int64(i) * rtpClockRate / int64(l.session.FPS))

		stamped, st, ok := h.OnFrameCaptured(frame)
		if !ok {
			break
		}
		h.OnEncodeDone(st.Sequence, st.OriginTime.Add(l.cfg.EncodeDelay))

		if l.cfg.FailAfter > 0 && i >= l.cfg.FailAfter {
			err := fmt.Errorf("%w after %d frames", ErrLinkFailed, i)
			h.OnError(err)
			if l.rx != nil {
				l.rx.OnDisconnected(err.Error())
			}
			return
		}

		l.send(stamped, st, i, st.OriginTime)
		if l.cfg.Virtual {
			l.deliverUntil(origin)
		}
	}

	if l.cfg.Virtual {
		l.deliverUntil(farFuture)
		l.finishSending()
		l.closeReceiverDone()
		return
	}
	l.finishSending()
}

// PublishData sends payload on the link's data channel.
func (s *SenderEnd) PublishData(payload []byte) error {
	s.link.publish(payload)
	return nil
}

func (s *SenderEnd) TransportStats() (domain.TransportStats, error) {
	return s.link.stats(false), nil
}

// Done is closed after the last frame has been handed to the link.
func (s *SenderEnd) Done() <-chan struct{} { return s.link.senderDone }

func (s *SenderEnd) Stop() error {
	s.link.stopTxOnce.Do(func() { close(s.link.stopSender) })
	return nil
}

// ReceiverEnd delivers decoded frames and data-channel payloads.
type ReceiverEnd struct {
	link *Link
}

func (r *ReceiverEnd) Start(ctx context.Context, h ports.TransportHandler) error {
	l := r.link
	l.rxOnce.Do(func() {
		l.rx = h
		h.OnConnected()
		if !l.cfg.Virtual {
			go l.runDelivery(ctx)
		}
		close(l.rxReady)
	})
	return nil
}

func (r *ReceiverEnd) TransportStats() (domain.TransportStats, error) {
	return r.link.stats(true), nil
}

// Done is closed after the last packet has been delivered.
func (r *ReceiverEnd) Done() <-chan struct{} { return r.link.receiverDone }

func (r *ReceiverEnd) Stop() error {
	r.link.stopRxOnce.Do(func() { close(r.link.stopReceiver) })
	return nil
}

var (
	_ ports.Transport     = (*SenderEnd)(nil)
	_ ports.Transport     = (*ReceiverEnd)(nil)
	_ ports.DataPublisher = (*SenderEnd)(nil)
	_ ports.StatsProvider = (*SenderEnd)(nil)
	_ ports.StatsProvider = (*ReceiverEnd)(nil)
	_ ports.Finite        = (*SenderEnd)(nil)
	_ ports.Finite        = (*ReceiverEnd)(nil)
)
