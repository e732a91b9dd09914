package dtp

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Channel is one multiplexed DTP connection: a claimed (peer, channel-id)
// key with its own bounded receive FIFO.
type Channel struct {
	sock    *Socket
	key     Key
	peer    *net.UDPAddr
	slotIdx int

	ecnRequest atomic.Bool
	closed     atomic.Bool
}

// ChannelID returns this channel's multiplex identifier.
func (c *Channel) ChannelID() byte { return c.key.ChannelID }

// PeerAddr returns the remote endpoint for this channel.
func (c *Channel) PeerAddr() *net.UDPAddr { return c.peer }

// SetECNRequest toggles whether outgoing packets on this channel request
// ECN marking.
func (c *Channel) SetECNRequest(v bool) { c.ecnRequest.Store(v) }

// Send frames payload with this channel's id and writes it to the peer.
func (c *Channel) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return ErrSocketClosed
	}
	pkt, err := NewPacket(c.key.ChannelID, len(payload))
	if err != nil {
		return errors.Wrap(err, "dtp: send")
	}
	copy(pkt.PayloadMut(), payload)
	if _, err := c.sock.conn.PollSend(ctx, c.peer, c.ecnRequest.Load(), pkt.Bytes()); err != nil {
		return errors.Wrap(err, "dtp: send")
	}
	return nil
}

// Recv awaits the next packet from this channel's FIFO, returning its
// payload.
func (c *Channel) Recv(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrSocketClosed
	}

	c.sock.slotsMu.Lock()
	sl := c.sock.slots[c.slotIdx]
	c.sock.slotsMu.Unlock()
	if sl == nil {
		return nil, ErrSocketClosed
	}

	select {
	case pkt, ok := <-sl.fifo:
		if !ok {
			return nil, ErrSocketClosed
		}
		return pkt.Payload(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.sock.ctx.Done():
		return nil, ErrSocketClosed
	}
}

// Close removes this channel's key from the socket's opened/byKey tables,
// frees its slot, and discards any queued packets (§4.C Drop semantics).
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.sock.closeChannel(c.key, c.slotIdx)
	return nil
}
