package efcp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// handshakePadLen is the fixed length every handshake message's plaintext
// is padded to before being embedded (cleartext in message 1, AEAD-sealed
// in messages 2 and 3). Padding to a constant size keeps a passive observer
// from distinguishing a bare Accept from a Propose-with-a-long-protocol-id,
// or from correlating the DTCP-preset round onto the protocol round by
// message length alone (spec.md §9 open question 3). 96 bytes holds the
// packets built for short protocol ids and addresses; those fields are not
// length-capped, and padHandshake rejects an encoded packet longer than 94
// bytes (96 minus the 2-byte length prefix).
const handshakePadLen = 96

var errHandshakeTooLarge = errors.New("efcp: handshake packet exceeds pad length")

// padHandshake prefixes encoded with its own length and zero-fills the
// remainder up to handshakePadLen.
func padHandshake(encoded []byte) ([]byte, error) {
	if len(encoded)+2 > handshakePadLen {
		return nil, errHandshakeTooLarge
	}
	out := make([]byte, handshakePadLen)
	binary.BigEndian.PutUint16(out[:2], uint16(len(encoded)))
	copy(out[2:], encoded)
	return out, nil
}

// unpadHandshake reverses padHandshake.
func unpadHandshake(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, ErrInvalidPacket
	}
	n := int(binary.BigEndian.Uint16(padded[:2]))
	if 2+n > len(padded) {
		return nil, ErrInvalidPacket
	}
	return padded[2 : 2+n], nil
}
