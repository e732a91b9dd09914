package efcp

import (
	"github.com/brinestone/efcp/addr"
	"github.com/brinestone/efcp/negotiate"
)

// negVariant encodes a negotiate.Kind in a nibble: 0 none, 1 Propose,
// 2 Accept, 3 Fail.
func negVariant(m *negotiate.Message) byte {
	if m == nil {
		return 0
	}
	switch m.Kind {
	case negotiate.Propose:
		return 1
	case negotiate.Accept:
		return 2
	case negotiate.Fail:
		return 3
	default:
		return 0
	}
}

func decodeNegField(variant byte, b []byte, off int) (*negotiate.Message, int, error) {
	switch variant {
	case 0:
		return nil, off, nil
	case 1:
		if off >= len(b) {
			return nil, off, ErrInvalidPacket
		}
		n := int(b[off])
		off++
		if off+n > len(b) {
			return nil, off, ErrInvalidPacket
		}
		proto := string(b[off : off+n])
		off += n
		return &negotiate.Message{Kind: negotiate.Propose, Protocol: proto}, off, nil
	case 2:
		return &negotiate.Message{Kind: negotiate.Accept}, off, nil
	case 3:
		return &negotiate.Message{Kind: negotiate.Fail}, off, nil
	default:
		return nil, off, ErrInvalidPacket
	}
}

// HandshakePacket is the plaintext carried inside every handshake message.
// Its layout (spec.md §6, widened here with an appended DTCP-preset
// negotiation pair that the distilled wire format never anticipated):
//
//	byte 0: high nibble 0xF if an external address follows, else 0;
//	        low nibble is the protocol-negotiate variant (0 none, 1
//	        Propose, 2 Accept, 3 Fail)
//	[if Propose] 1 length byte, then that many bytes of protocol id
//	[if addr]    1 length byte, then that many bytes of addr.Addr.String()
//	[if any bytes remain] 1 variant byte for the DTCP-preset negotiate pair,
//	             followed by the same Propose/length/bytes encoding
//
// Absence of the trailing DTCP-preset byte (the message simply ends) decodes
// identically to an explicit "none", preserving wire compatibility with a
// handshake that never needed the supplemented round.
type HandshakePacket struct {
	Negotiate     *negotiate.Message
	ExternalAddr  *addr.Addr
	DTCPNegotiate *negotiate.Message
}

// Encode renders the packet to its wire form.
func (h HandshakePacket) Encode() []byte {
	b0 := negVariant(h.Negotiate)
	if h.ExternalAddr != nil {
		b0 |= 0xF0
	}
	out := []byte{b0}

	if h.Negotiate != nil && h.Negotiate.Kind == negotiate.Propose {
		p := []byte(h.Negotiate.Protocol)
		out = append(out, byte(len(p)))
		out = append(out, p...)
	}
	if h.ExternalAddr != nil {
		s := []byte(h.ExternalAddr.String())
		out = append(out, byte(len(s)))
		out = append(out, s...)
	}
	if h.DTCPNegotiate != nil {
		out = append(out, negVariant(h.DTCPNegotiate))
		if h.DTCPNegotiate.Kind == negotiate.Propose {
			p := []byte(h.DTCPNegotiate.Protocol)
			out = append(out, byte(len(p)))
			out = append(out, p...)
		}
	}
	return out
}

// DecodeHandshakePacket parses the wire form produced by Encode.
func DecodeHandshakePacket(b []byte) (HandshakePacket, error) {
	if len(b) < 1 {
		return HandshakePacket{}, ErrInvalidPacket
	}
	b0 := b[0]
	hasAddr := b0&0xF0 == 0xF0
	variant := b0 & 0x0F
	off := 1

	var hp HandshakePacket
	neg, off, err := decodeNegField(variant, b, off)
	if err != nil {
		return HandshakePacket{}, err
	}
	hp.Negotiate = neg

	if hasAddr {
		if off >= len(b) {
			return HandshakePacket{}, ErrInvalidPacket
		}
		n := int(b[off])
		off++
		if off+n > len(b) {
			return HandshakePacket{}, ErrInvalidPacket
		}
		a, err := addr.Parse(string(b[off : off+n]))
		if err != nil {
			return HandshakePacket{}, ErrInvalidPacket
		}
		off += n
		hp.ExternalAddr = &a
	}

	if off < len(b) {
		dVariant := b[off]
		off++
		dNeg, _, err := decodeNegField(dVariant, b, off)
		if err != nil {
			return HandshakePacket{}, err
		}
		hp.DTCPNegotiate = dNeg
	}

	return hp, nil
}
