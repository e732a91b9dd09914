// Package testchannel implements a probabilistic loss/duplicate/delay
// in-memory channel used to validate the reliability properties of dtcp
// without a real network, grounded on the px (drop probability) / pq
// (duplicate probability) model of the original rust-p2p/efcp test
// harness.
package testchannel

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

// ErrClosed is returned once a Lossy endpoint's peer has been closed.
var ErrClosed = errors.New("testchannel: closed")

// Lossy is one directed endpoint of a lossy duplex pair, shaped exactly
// like dtp.Channel / dtcp.Transport (Send/Recv over a context) so that a
// dtcp.Channel can be built directly on top of it in tests.
type Lossy struct {
	px, pq float64
	delay  time.Duration
	out    chan []byte
	in     chan []byte
	closed chan struct{}
}

// Split builds a duplex pair of Lossy endpoints: bytes sent on a arrive on
// b and vice versa, each send independently dropped with probability px
// and duplicated with probability pq, with an optional fixed delay before
// delivery -- the Go analogue of the source's LossyChannel::split().
func Split(px, pq float64, delay time.Duration) (a, b *Lossy) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	closed := make(chan struct{})
	a = &Lossy{px: px, pq: pq, delay: delay, out: ab, in: ba, closed: closed}
	b = &Lossy{px: px, pq: pq, delay: delay, out: ba, in: ab, closed: closed}
	return a, b
}

// Send copies payload and enqueues it for the peer, dropping it outright
// with probability px and, independently, enqueueing a duplicate with
// probability pq.
func (l *Lossy) Send(ctx context.Context, payload []byte) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}

	if rand.Float64() < l.px {
		return nil
	}

	deliver := func() {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		if l.delay > 0 {
			time.AfterFunc(l.delay, func() {
				select {
				case l.out <- cp:
				case <-l.closed:
				}
			})
			return
		}
		select {
		case l.out <- cp:
		case <-l.closed:
		default:
			// peer's inbound buffer is full; drop, matching dtp's own
			// bounded-FIFO drop-newest policy.
		}
	}

	deliver()
	if rand.Float64() < l.pq {
		deliver()
	}
	return nil
}

// Recv blocks until a datagram arrives from the peer, ctx is cancelled, or
// the pair is closed.
func (l *Lossy) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-l.in:
		if !ok {
			return nil, ErrClosed
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, ErrClosed
	}
}

// Close tears down both directions of the pair.
func (l *Lossy) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}
