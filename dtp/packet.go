package dtp

import (
	"github.com/brinestone/efcp/wire"
	"github.com/pkg/errors"
)

// HeaderLen is the size in bytes of the DTP header: a single channel-id
// byte.
const HeaderLen = 1

// MaxDatagramLen bounds a single UDP payload (RFC 768 practical ceiling).
const MaxDatagramLen = 65507

// MaxPayloadLen is the largest higher-layer payload a DTP packet can carry.
const MaxPayloadLen = MaxDatagramLen - HeaderLen

// ErrInvalidPacket is returned when a datagram is too short to contain a
// DTP header (including the zero-length datagram case).
var ErrInvalidPacket = errors.New("dtp: invalid packet")

// Packet is a DTP-framed datagram: one byte of channel_id followed by the
// higher layer's payload, all in a single backing array.
type Packet struct {
	buf []byte
}

// NewPacket allocates a fresh packet for channelID with room for payloadLen
// payload bytes, per the framing kit's New contract (§4.B): the buffer is
// this layer's header length plus payloadLen, allocated once.
func NewPacket(channelID byte, payloadLen int) (*Packet, error) {
	f := wire.Alloc(HeaderLen + payloadLen)
	hdr, err := f.Header(HeaderLen)
	if err != nil {
		return nil, errors.Wrap(err, "dtp: alloc packet")
	}
	hdr[0] = channelID
	return &Packet{buf: f.Bytes()}, nil
}

// ParsePacket validates and wraps a raw datagram as a DTP packet. A
// zero-length (or otherwise too-short) datagram is an invalid packet.
func ParsePacket(raw []byte) (*Packet, error) {
	f := wire.Wrap(raw)
	if _, err := f.Header(HeaderLen); err != nil {
		return nil, ErrInvalidPacket
	}
	return &Packet{buf: raw}, nil
}

// Check validates the header; DTP's only header field is unconstrained
// (any byte value is a legal channel id), so Check always succeeds once
// ParsePacket itself has succeeded. Exposed for symmetry with the framing
// kit's contract.
func (p *Packet) Check() error {
	if len(p.buf) < HeaderLen {
		return ErrInvalidPacket
	}
	return nil
}

// ChannelID returns the packet's channel identifier.
func (p *Packet) ChannelID() byte { return p.buf[0] }

// Payload returns the bytes after the DTP header.
func (p *Packet) Payload() []byte { return p.buf[HeaderLen:] }

// PayloadMut returns a mutable view of the bytes after the DTP header.
func (p *Packet) PayloadMut() []byte { return p.buf[HeaderLen:] }

// Bytes returns the full framed datagram, ready to hand to the UDP-ECN
// socket -- the "into_lower" conversion for the bottom-most layer.
func (p *Packet) Bytes() []byte { return p.buf }
