// Package ecn implements the UDP-ECN socket: a poll-shaped datagram
// transport that carries a single Explicit Congestion Notification bit
// alongside every send and receive. ECN is carried in the IPv4 TOS /
// IPv6 TCLASS control message field, read and written via
// golang.org/x/net/ipv4 and golang.org/x/net/ipv6 PacketConn control
// messages -- the idiomatic Go counterpart to the raw cmsg/setsockopt
// plumbing a non-Go implementation needs on each platform.
package ecn

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ErrClosed is returned from PollSend/PollRecv once the socket has been
// closed.
var ErrClosed = errors.New("ecn: socket closed")

// ecnMask is the low two bits of the TOS/TrafficClass byte where the ECN
// codepoint lives (RFC 3168).
const ecnMask = 0x3

// ect0 is the codepoint written on egress when the caller requests ECN.
const ect0 = 0x2

// Conn is a UDP socket augmented with ECN control-message plumbing. A Conn
// MUST still function when the platform/kernel does not support control
// messages: it falls back to plain net.UDPConn I/O with ecnSeen always
// false and ecnRequest silently ignored on send.
type Conn struct {
	udp  *net.UDPConn
	v4   *ipv4.PacketConn
	v6   *ipv6.PacketConn
	isV6 bool
	log  *zap.Logger
}

// Option configures a Conn at construction time.
type Option func(*Conn)

// WithLogger attaches a zap logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Conn) { c.log = l }
}

// Listen binds a UDP-ECN socket on laddr ("udp", "udp4" or "udp6").
func Listen(network, laddr string, opts ...Option) (*Conn, error) {
	addr, err := net.ResolveUDPAddr(network, laddr)
	if err != nil {
		return nil, errors.Wrap(err, "ecn: resolve")
	}
	udp, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, errors.Wrap(err, "ecn: listen")
	}

	c := &Conn{udp: udp, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}

	isV6 := addr.IP.To4() == nil
	c.isV6 = isV6
	if isV6 {
		p := ipv6.NewPacketConn(udp)
		if err := p.SetControlMessage(ipv6.FlagTrafficClass, true); err == nil {
			c.v6 = p
		} else {
			c.log.Debug("ecn: control messages unsupported, falling back to plain udp", zap.Error(err))
		}
	} else {
		p := ipv4.NewPacketConn(udp)
		if err := p.SetControlMessage(ipv4.FlagTOS, true); err == nil {
			c.v4 = p
		} else {
			c.log.Debug("ecn: control messages unsupported, falling back to plain udp", zap.Error(err))
		}
	}
	return c, nil
}

// LocalAddr returns the socket's bound address.
func (c *Conn) LocalAddr() net.Addr { return c.udp.LocalAddr() }

// Close releases the underlying UDP socket.
func (c *Conn) Close() error { return c.udp.Close() }

// watchCancel arranges for an in-flight deadline-based read/write to be
// interrupted when ctx is cancelled, the Go idiom replacing a hand-rolled
// waker re-arm loop around WouldBlock/Pending.
func (c *Conn) watchCancel(ctx context.Context) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = c.udp.SetDeadline(time.Unix(0, 1))
		case <-done:
		}
	}()
	return func() { close(done) }
}

// PollRecv reads one datagram into buf, reporting the sender, the number of
// bytes read, and whether the ECN bit was observed on ingress.
func (c *Conn) PollRecv(ctx context.Context, buf []byte) (n int, src *net.UDPAddr, ecnSeen bool, err error) {
	stop := c.watchCancel(ctx)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.udp.SetReadDeadline(deadline)
	} else {
		_ = c.udp.SetReadDeadline(time.Time{})
	}

	for {
		switch {
		case c.v4 != nil:
			nn, cm, srcAddr, rerr := c.v4.ReadFrom(buf)
			if rerr != nil {
				if ctx.Err() != nil {
					return 0, nil, false, ctx.Err()
				}
				return 0, nil, false, errors.Wrap(rerr, "ecn: recv")
			}
			seen := cm != nil && cm.TOS&ecnMask != 0
			return nn, srcAddr.(*net.UDPAddr), seen, nil
		case c.v6 != nil:
			nn, cm, srcAddr, rerr := c.v6.ReadFrom(buf)
			if rerr != nil {
				if ctx.Err() != nil {
					return 0, nil, false, ctx.Err()
				}
				return 0, nil, false, errors.Wrap(rerr, "ecn: recv")
			}
			seen := cm != nil && cm.TrafficClass&ecnMask != 0
			return nn, srcAddr.(*net.UDPAddr), seen, nil
		default:
			nn, srcAddr, rerr := c.udp.ReadFromUDP(buf)
			if rerr != nil {
				if ctx.Err() != nil {
					return 0, nil, false, ctx.Err()
				}
				return 0, nil, false, errors.Wrap(rerr, "ecn: recv")
			}
			return nn, srcAddr, false, nil
		}
	}
}

// PollSend writes b to dst, requesting the ECN bit be set on the outgoing
// datagram's IP header when ecnRequest is true and control messages are
// supported on this platform.
func (c *Conn) PollSend(ctx context.Context, dst *net.UDPAddr, ecnRequest bool, b []byte) (int, error) {
	stop := c.watchCancel(ctx)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.udp.SetWriteDeadline(deadline)
	} else {
		_ = c.udp.SetWriteDeadline(time.Time{})
	}

	switch {
	case c.v4 != nil:
		var cm *ipv4.ControlMessage
		if ecnRequest {
			cm = &ipv4.ControlMessage{TOS: ect0}
		}
		n, err := c.v4.WriteTo(b, cm, dst)
		if err != nil {
			return n, errors.Wrap(err, "ecn: send")
		}
		return n, nil
	case c.v6 != nil:
		var cm *ipv6.ControlMessage
		if ecnRequest {
			cm = &ipv6.ControlMessage{TrafficClass: ect0}
		}
		n, err := c.v6.WriteTo(b, cm, dst)
		if err != nil {
			return n, errors.Wrap(err, "ecn: send")
		}
		return n, nil
	default:
		n, err := c.udp.WriteToUDP(b, dst)
		if err != nil {
			return n, errors.Wrap(err, "ecn: send")
		}
		return n, nil
	}
}
