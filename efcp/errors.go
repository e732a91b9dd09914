// Package efcp implements the handshake layer on top of dtcp: an
// authenticated key exchange (noise-style XK1sig), responder-observed
// address reporting for NAT traversal, application-protocol negotiation,
// and a per-channel AEAD envelope keyed to a monotonically increasing
// nonce.
package efcp

import "github.com/pkg/errors"

// Stable error names (spec.md §6), implemented as sentinel values
// comparable with errors.Is.
var (
	ErrInvalidPacket          = errors.New("efcp: invalid handshake packet")
	ErrHandshakeIO            = errors.New("efcp: handshake io error")
	ErrHandshakeCrypto        = errors.New("efcp: handshake crypto error")
	ErrHandshakeProtocolError = errors.New("efcp: handshake protocol error")
	ErrHandshakeNegotiation   = errors.New("efcp: no protocol overlap")
	ErrHandshakeExternalAddr  = errors.New("efcp: no observed address received")
)
