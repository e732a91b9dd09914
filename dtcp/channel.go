package dtcp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Transport is the underlying channel a dtcp.Channel rides on: a dtp.Channel
// in production, or a testchannel.Lossy substrate in tests. Both share this
// exact Send/Recv shape.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// Option configures a Channel at construction.
type Option func(*Channel)

// WithLogger attaches a zap logger; default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) { c.log = l }
}

// WithFlowController installs the optional admission/delivery hook.
func WithFlowController(f FlowController) Option {
	return func(c *Channel) { c.flow = f }
}

// WithConfig overrides the default tunables.
func WithConfig(cfg Config) Option {
	return func(c *Channel) { c.cfg = cfg }
}

// Channel is a reliable, in-order, duplicate-free channel built on top of a
// Transport. There is no explicit Open/Close handshake: the bounded-timer
// retransmission/inactivity window is the implicit connection lifetime.
type Channel struct {
	transport Transport
	cfg       Config
	log       *zap.Logger
	flow      FlowController

	seqNum  atomic.Uint32
	setDRF  atomic.Bool
	lastAck atomic.Uint32

	rtxMu    sync.Mutex
	rtxQueue map[uint32]*inFlight

	timedOut atomic.Bool

	resetCh chan struct{}
	closeCh chan struct{}
	closed  atomic.Bool
}

// NewChannel wraps transport with the DTCP reliability algorithm.
func NewChannel(transport Transport, opts ...Option) *Channel {
	c := &Channel{
		transport: transport,
		cfg:       DefaultConfig(),
		log:       zap.NewNop(),
		rtxQueue:  make(map[uint32]*inFlight),
		resetCh:   make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
	c.setDRF.Store(true) // DRF set on the very first Transfer sent
	for _, o := range opts {
		o(c)
	}
	go c.inactivityLoop()
	return c
}

// nextSeq atomically takes the next sequence number (fetch-and-increment,
// first value 0).
func (c *Channel) nextSeq() uint32 {
	return c.seqNum.Add(1) - 1
}

// Send frames payload as a Transfer packet, enqueues it into the
// retransmission queue, and spawns the cooperative task that drives
// retransmission until acked or the budget is exhausted.
func (c *Channel) Send(ctx context.Context, payload []byte) error {
	if c.timedOut.Load() {
		return ErrTimedOut
	}
	if c.closed.Load() {
		return ErrClosed
	}

	drf := c.setDRF.Swap(false)
	sn := c.nextSeq()
	if c.flow != nil && !c.flow.Admit(sn) {
		c.log.Debug("dtcp: send not admitted by flow controller, sending anyway", zap.Uint32("seq", sn))
	}

	pkt, err := NewTransferPacket(sn, drf, payload)
	if err != nil {
		return errors.Wrap(err, "dtcp: send")
	}

	inf := newInFlight(sn, pkt.Bytes(), c.cfg.MaxRtx)
	c.rtxMu.Lock()
	c.rtxQueue[sn] = inf
	c.rtxMu.Unlock()

	go c.driveRetransmission(inf)
	return nil
}

// driveRetransmission implements §4.D step 4: send, wait rtx_interval from
// last_tx_time, and loop until acked or the retry budget is exhausted (in
// which case the channel-global timed-out flag fires, poisoning the
// channel).
func (c *Channel) driveRetransmission(inf *inFlight) {
	for {
		if inf.acked.Load() || c.timedOut.Load() {
			return
		}

		if err := c.transport.Send(context.Background(), inf.bytes); err != nil {
			c.log.Warn("dtcp: retransmission send failed", zap.Error(err))
		}
		inf.lastTx.Store(time.Now().UnixNano())

		timer := time.NewTimer(c.cfg.RtxInterval)
		select {
		case <-inf.ackedCh:
			timer.Stop()
			return
		case <-c.closeCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		if inf.acked.Load() {
			return
		}
		if left := inf.budget.Add(-1); left < 0 {
			if c.timedOut.CompareAndSwap(false, true) {
				c.log.Warn("dtcp: retransmission budget exhausted, channel timed out", zap.Uint32("seq", inf.seqNum))
			}
			return
		}
	}
}

// Nack forces immediate retransmission of every in-flight transmission with
// seq_num >= sn, for symmetry with cumulative acks.
func (c *Channel) Nack(ctx context.Context, sn uint32) {
	c.rtxMu.Lock()
	var pending [][]byte
	for s, inf := range c.rtxQueue {
		if s >= sn && !inf.acked.Load() {
			pending = append(pending, inf.bytes)
		}
	}
	c.rtxMu.Unlock()

	for _, b := range pending {
		if err := c.transport.Send(ctx, b); err != nil {
			c.log.Warn("dtcp: nack retransmission failed", zap.Error(err))
		}
	}
}

// ackUpTo marks every unacknowledged transmission with seq_num <= k as
// acked and removes it from the retransmission queue (cumulative ack).
func (c *Channel) ackUpTo(k uint32) {
	c.rtxMu.Lock()
	defer c.rtxMu.Unlock()
	for sn, inf := range c.rtxQueue {
		if sn <= k {
			inf.markAcked()
			delete(c.rtxQueue, sn)
		}
	}
}

// sendControlAck transmits a pure-ack Control packet for seqNum.
func (c *Channel) sendControlAck(ctx context.Context, seqNum uint32) error {
	if c.cfg.AckDelay > 0 {
		select {
		case <-time.After(c.cfg.AckDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	pkt, err := NewControlPacket(seqNum)
	if err != nil {
		return errors.Wrap(err, "dtcp: build ack")
	}
	return c.transport.Send(ctx, pkt.Bytes())
}

// Recv loops until a deliverable Transfer packet is produced, per §4.D's
// receive algorithm: Control packets ack in-flight transmissions and are
// consumed; Transfer packets are delivered in order (or dropped as a gap or
// duplicate).
func (c *Channel) Recv(ctx context.Context) ([]byte, error) {
	for {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		raw, err := c.transport.Recv(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "dtcp: recv")
		}
		c.resetInactivity()

		pkt, err := ParsePacket(raw)
		if err != nil {
			c.log.Debug("dtcp: parse error, dropped", zap.Error(err))
			continue
		}

		switch pkt.Type() {
		case TypeControl:
			c.ackUpTo(pkt.SeqNum())
			continue
		case TypeTransfer:
			sn := pkt.SeqNum()
			if pkt.DRF() {
				c.lastAck.Store(sn)
				if err := c.sendControlAck(ctx, sn); err != nil {
					c.log.Warn("dtcp: ack send failed", zap.Error(err))
				}
				if c.flow != nil {
					c.flow.OnDeliver(sn)
				}
				payload := make([]byte, len(pkt.Payload()))
				copy(payload, pkt.Payload())
				return payload, nil
			}
			last := c.lastAck.Load()
			if sn == last+1 {
				c.lastAck.Store(sn)
				if err := c.sendControlAck(ctx, sn); err != nil {
					c.log.Warn("dtcp: ack send failed", zap.Error(err))
				}
				if c.flow != nil {
					c.flow.OnDeliver(sn)
				}
				payload := make([]byte, len(pkt.Payload()))
				copy(payload, pkt.Payload())
				return payload, nil
			}
			// gap or duplicate: drop silently, sender will retransmit.
			continue
		}
	}
}

// resetInactivity signals the inactivity loop that a packet just arrived.
func (c *Channel) resetInactivity() {
	select {
	case c.resetCh <- struct{}{}:
	default:
	}
}

// inactivityLoop arms drf=true on the next Transfer sent whenever no packet
// has been received on this channel for InactivityTimeout -- the
// bounded-timer substitute for an explicit SYN.
func (c *Channel) inactivityLoop() {
	timer := time.NewTimer(c.cfg.InactivityTimeout)
	defer timer.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-c.resetCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.cfg.InactivityTimeout)
		case <-timer.C:
			c.setDRF.Store(true)
			timer.Reset(c.cfg.InactivityTimeout)
		}
	}
}

// TimedOut reports whether the channel's retransmission budget has been
// exhausted; once true, all further Sends fail with ErrTimedOut.
func (c *Channel) TimedOut() bool { return c.timedOut.Load() }

// Close stops background goroutines. The underlying transport is not
// closed here; the caller owns its lifecycle.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.closeCh)
	return nil
}
