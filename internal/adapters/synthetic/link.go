package synthetic

import (
	"container/heap"
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/ghalamif/frameprobe/internal/adapters/observability"
	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
	"github.com/ghalamif/frameprobe/internal/stamp"
)

const (
	rtpClockRate = 90000
	payloadType  = 96
)

var farFuture = time.Unix(1<<40, 0)

type packet struct {
	deliverAt time.Time
	order     uint64
	header    []byte
	frame     *domain.RawFrame
	layer     domain.LayerID
	data      []byte
}

type packetQueue []*packet

func (q packetQueue) Len() int { return len(q) }
func (q packetQueue) Less(i, j int) bool {
	if q[i].deliverAt.Equal(q[j].deliverAt) {
		return q[i].order < q[j].order
	}
	return q[i].deliverAt.Before(q[j].deliverAt)
}
func (q packetQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *packetQueue) Push(x any)   { *q = append(*q, x.(*packet)) }
func (q *packetQueue) Pop() any {
	old := *q
	p := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return p
}

// Link connects one SenderEnd to one ReceiverEnd.
type Link struct {
	cfg      Config
	session  domain.SessionConfig
	clock    domain.Clock
	rtpExtID uint8
	obs      ports.Observability

	rng *rand.Rand

	mu       sync.Mutex
	pending  packetQueue
	order    uint64
	rtpSeq   uint16
	now      time.Time // virtual clock
	rx       ports.TransportHandler
	rxReady  chan struct{}
	rxOnce   sync.Once
	notify   chan struct{}
	sendDone bool

	senderDone   chan struct{}
	receiverDone chan struct{}
	rxDoneOnce   sync.Once
	stopSender   chan struct{}
	stopReceiver chan struct{}
	stopTxOnce   sync.Once
	stopRxOnce   sync.Once

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	framesSent    atomic.Int64
	framesRecv    atomic.Int64
	framesDropped atomic.Int64
	stampFailures atomic.Int64
	started       atomic.Int64
}

type Option func(*Link)

// WithRTPStamps carries the frame stamp as RTP header extension id.
func WithRTPStamps(id uint8) Option {
	return func(l *Link) { l.rtpExtID = id }
}

// WithObservability reports link faults. Defaults to a no-op.
func WithObservability(obs ports.Observability) Option {
	return func(l *Link) {
		if obs != nil {
			l.obs = obs
		}
	}
}

func NewLink(cfg Config, session domain.SessionConfig, clock domain.Clock, opts ...Option) *Link {
	l := &Link{
		cfg:          cfg,
		session:      session,
		clock:        clock,
		obs:          observability.Nop{},
		rng:          rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		rxReady:      make(chan struct{}),
		notify:       make(chan struct{}, 1),
		senderDone:   make(chan struct{}),
		receiverDone: make(chan struct{}),
		stopSender:   make(chan struct{}),
		stopReceiver: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Link) Sender() *SenderEnd     { return &SenderEnd{link: l} }
func (l *Link) Receiver() *ReceiverEnd { return &ReceiverEnd{link: l} }

func (l *Link) totalFrames() int {
	if l.cfg.Frames > 0 {
		return l.cfg.Frames
	}
	return l.session.FPS * int(l.session.Duration/time.Second)
}

func (l *Link) interval() time.Duration {
	return time.Second / time.Duration(l.session.FPS)
}

// layersFor picks the layers frame i is delivered on.
func (l *Link) layersFor(i int) []domain.LayerID {
	layers := l.session.Layers()
	if len(layers) == 1 {
		return layers
	}
	every := l.cfg.LayerSwitchEvery
	if every <= 0 {
		return layers[len(layers)-1:]
	}
	cur := (i / every) % len(layers)
	if i > 0 && i%every == 0 {
		prev := (cur + len(layers) - 1) % len(layers)
		return []domain.LayerID{layers[prev], layers[cur]}
	}
	return layers[cur : cur+1]
}

// send puts frame i on the wire. Caller holds no locks.
func (l *Link) send(frame *domain.RawFrame, st domain.FrameStamp, i int, sentAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.framesSent.Add(1)
	for _, layer := range l.layersFor(i) {
		if l.rng.Float64() < l.cfg.DropRate {
			l.framesDropped.Add(1)
			continue
		}
		delay := l.cfg.Latency + l.cfg.DecodeDelay
		if l.cfg.Jitter > 0 {
			delay += time.Duration(l.rng.Int64N(int64(l.cfg.Jitter) + 1))
		}
		if l.rng.Float64() < l.cfg.ReorderRate {
			delay += l.interval() * 3 / 2
		}

		l.rtpSeq++
		hdr := rtp.Header{
			Version:        2,
			PayloadType:    payloadType,
			SequenceNumber: l.rtpSeq,
			Timestamp:      frame.MediaTime,
			SSRC:           ssrcFor(layer),
			Marker:         true,
		}
		if l.rtpExtID != 0 {
			l.embedStamp(&hdr, st.WithLayer(layer))
		}
		raw, err := hdr.Marshal()
		if err != nil {
			continue
		}
		l.bytesSent.Add(int64(len(raw) + len(frame.Y)))

		l.pushLocked(&packet{deliverAt: sentAt.Add(delay), header: raw, frame: frame, layer: layer})
		if l.rng.Float64() < l.cfg.DuplicateRate {
			l.pushLocked(&packet{deliverAt: sentAt.Add(delay + time.Millisecond), header: raw, frame: frame, layer: layer})
		}
	}
}

// embedStamp attaches st to hdr. A packet whose stamp cannot be attached is
// still sent; the receiver books it as a missing-stamp anomaly.
func (l *Link) embedStamp(hdr *rtp.Header, st domain.FrameStamp) {
	if err := stamp.EmbedRTP(hdr, l.rtpExtID, st); err != nil {
		l.stampFailures.Add(1)
		l.obs.LogError("rtp_stamp_embed_failed", err,
			ports.Field{Key: "seq", Value: st.Sequence},
			ports.Field{Key: "layer", Value: st.Layer})
		l.obs.IncCounter("frameprobe_stamp_embed_failures_total", 1)
	}
}

// StampFailures is the number of packets sent without their stamp.
func (l *Link) StampFailures() int64 { return l.stampFailures.Load() }

func (l *Link) publish(payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at := l.now
	if !l.cfg.Virtual {
		at = l.clock.Now()
	}
	l.bytesSent.Add(int64(len(payload)))
	l.pushLocked(&packet{deliverAt: at.Add(l.cfg.Latency / 2), data: payload})
}

func (l *Link) pushLocked(p *packet) {
	l.order++
	p.order = l.order
	heap.Push(&l.pending, p)
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// popDue removes the next packet due at or before until.
func (l *Link) popDue(until time.Time) *packet {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 || l.pending[0].deliverAt.After(until) {
		return nil
	}
	return heap.Pop(&l.pending).(*packet)
}

func (l *Link) deliver(p *packet, virtual bool) {
	h := l.rx
	if p.data != nil {
		l.bytesReceived.Add(int64(len(p.data)))
		h.OnData(p.data)
		return
	}

	var hdr rtp.Header
	if _, err := hdr.Unmarshal(p.header); err != nil {
		return
	}
	frame := *p.frame
	frame.MediaTime = hdr.Timestamp

	ev := domain.FrameEvent{Frame: &frame, Layer: p.layer}
	if l.rtpExtID != 0 {
		ev.Stamp, ev.HasStamp = stamp.ExtractRTP(&hdr, l.rtpExtID)
	}
	if virtual {
		ev.ReceiveTime = p.deliverAt
	}
	l.bytesReceived.Add(int64(len(p.header) + len(frame.Y)))
	l.framesRecv.Add(1)
	h.OnFrameDecoded(ev)
}

// deliverUntil hands every packet due by until to the receiver, in
// delivery order. Virtual mode only.
func (l *Link) deliverUntil(until time.Time) {
	for {
		p := l.popDue(until)
		if p == nil {
			return
		}
		l.deliver(p, true)
	}
}

// runDelivery paces deliveries in real time.
func (l *Link) runDelivery(ctx context.Context) {
	defer l.closeReceiverDone()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		now := l.clock.Now()
		if p := l.popDue(now); p != nil {
			l.deliver(p, false)
			continue
		}

		l.mu.Lock()
		empty := len(l.pending) == 0
		finished := empty && l.sendDone
		wait := time.Hour
		if !empty {
			wait = l.pending[0].deliverAt.Sub(now)
		}
		l.mu.Unlock()
		if finished {
			return
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-l.stopReceiver:
			return
		case <-l.notify:
		case <-timer.C:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

func (l *Link) finishSending() {
	l.mu.Lock()
	l.sendDone = true
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
	close(l.senderDone)
}

func (l *Link) closeReceiverDone() {
	l.rxDoneOnce.Do(func() { close(l.receiverDone) })
}

func (l *Link) stats(receiver bool) domain.TransportStats {
	ts := domain.UnavailableTransportStats()
	ts.BytesSent = l.bytesSent.Load()
	ts.BytesReceived = l.bytesReceived.Load()
	ts.FramesDropped = l.framesDropped.Load()
	ts.FreezeCount = 0

	frames := l.framesSent.Load()
	if receiver {
		frames = l.framesRecv.Load()
		// jitter is uniform in [0, Jitter]; the buffer targets the worst case
		ts.JitterBufferMs = millis(l.cfg.Jitter / 2)
		ts.JitterBufferTargetMs = millis(l.cfg.Jitter)
		ts.JitterBufferMinimumMs = 0
		ts.ProcessingDelayMs = millis(l.cfg.DecodeDelay)
		ts.FramesReceived = frames
	}
	if start := l.started.Load(); start > 0 {
		now := l.clock.Now()
		if l.cfg.Virtual {
			l.mu.Lock()
			now = l.now
			l.mu.Unlock()
		}
		if el := now.Sub(time.Unix(0, start)).Seconds(); el > 0 {
			ts.FramesPerSecond = float64(frames) / el
		}
	}
	return ts
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func ssrcFor(l domain.LayerID) uint32 {
	switch l {
	case domain.LayerLow:
		return 0x1001
	case domain.LayerMid:
		return 0x1002
	case domain.LayerHigh:
		return 0x1003
	}
	return 0x1000
}
