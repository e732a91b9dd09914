// Package dtcp implements the reliability layer on top of dtp: in-order,
// duplicate-free delivery via sequence numbers, retransmissions,
// cumulative acknowledgements, and a bounded-timer connection lifecycle
// (DRF substitutes for an explicit SYN/FIN handshake).
package dtcp

import (
	"encoding/binary"

	"github.com/brinestone/efcp/wire"
	"github.com/pkg/errors"
)

// HeaderLen is 1 type/flags byte plus a 4-byte big-endian sequence number.
//
// REDESIGN: the source's seq_num is a 16-bit field that wraps well inside
// a connection's max packet lifetime, breaking the "exactly once, strictly
// increasing" invariant. This implementation widens it to 32 bits (5-byte
// header instead of 3) to close that gap, per the explicit invitation to
// do so.
const HeaderLen = 5

// Type distinguishes user data from a pure acknowledgement.
type Type uint8

const (
	// TypeTransfer carries user payload; its header's DRF bit marks the
	// first packet of a new run after inactivity.
	TypeTransfer Type = 0
	// TypeControl is a pure ack; its seq_num is the cumulative ack cursor.
	TypeControl Type = 1
)

// flagDRF is the only defined flag bit, valid only on Transfer packets.
const flagDRF = 0x1

// ErrInvalidPacket is returned for a short datagram, an unknown type, or an
// unknown flag bit.
var ErrInvalidPacket = errors.New("dtcp: invalid packet")

// Packet is a DTCP-framed datagram atop whatever DTP has already stripped.
type Packet struct {
	buf []byte
}

// NewTransferPacket allocates a Transfer packet for seqNum carrying
// payload, with the DRF bit set as requested.
func NewTransferPacket(seqNum uint32, drf bool, payload []byte) (*Packet, error) {
	p, err := newPacket(TypeTransfer, seqNum, boolFlags(drf), len(payload))
	if err != nil {
		return nil, err
	}
	copy(p.Payload(), payload)
	return p, nil
}

// NewControlPacket allocates a pure-ack Control packet whose seq_num is the
// cumulative ack cursor.
func NewControlPacket(ackSeqNum uint32) (*Packet, error) {
	return newPacket(TypeControl, ackSeqNum, 0, 0)
}

func boolFlags(drf bool) byte {
	if drf {
		return flagDRF
	}
	return 0
}

func newPacket(typ Type, seqNum uint32, flags byte, payloadLen int) (*Packet, error) {
	f := wire.Alloc(HeaderLen + payloadLen)
	hdr, err := f.Header(HeaderLen)
	if err != nil {
		return nil, errors.Wrap(err, "dtcp: alloc packet")
	}
	hdr[0] = byte(typ)<<4 | flags
	binary.BigEndian.PutUint32(hdr[1:5], seqNum)
	return &Packet{buf: f.Bytes()}, nil
}

// ParsePacket validates and wraps a raw DTCP datagram.
func ParsePacket(raw []byte) (*Packet, error) {
	f := wire.Wrap(raw)
	hdr, err := f.Header(HeaderLen)
	if err != nil {
		return nil, ErrInvalidPacket
	}
	typ := Type(hdr[0] >> 4)
	flags := hdr[0] & 0x0F
	switch typ {
	case TypeTransfer:
		if flags&^byte(flagDRF) != 0 {
			return nil, ErrInvalidPacket
		}
	case TypeControl:
		if flags != 0 {
			return nil, ErrInvalidPacket
		}
	default:
		return nil, ErrInvalidPacket
	}
	return &Packet{buf: raw}, nil
}

// Type reports whether this is a Transfer or Control packet.
func (p *Packet) Type() Type { return Type(p.buf[0] >> 4) }

// DRF reports the data-run-flag bit (Transfer packets only).
func (p *Packet) DRF() bool { return p.buf[0]&flagDRF != 0 }

// SeqNum returns the packet's sequence number (or ack cursor, for Control).
func (p *Packet) SeqNum() uint32 { return binary.BigEndian.Uint32(p.buf[1:5]) }

// Payload returns the bytes after the DTCP header.
func (p *Packet) Payload() []byte { return p.buf[HeaderLen:] }

// Bytes returns the full framed packet.
func (p *Packet) Bytes() []byte { return p.buf }
