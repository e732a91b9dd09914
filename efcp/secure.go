package efcp

import (
	"context"
	"encoding/binary"
	"sync/atomic"

	"github.com/brinestone/efcp/dtcp"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

const nonceCounterLen = 8

// maxNonceCounter is the reserved, never-used final value of the nonce
// counter space: reaching it is treated as exhaustion (§4.E) rather than
// silently wrapping the underlying atomic.Uint64 back to a reused value.
const maxNonceCounter = ^uint64(0)

// secureTransport wraps a lower transport (a dtp.Channel in production) with
// an AEAD envelope keyed to a pair of directional transport keys derived
// from the handshake's shared secret. It implements dtcp.Transport, so a
// fresh dtcp.Channel can be built directly on top of it. Every Send seals
// under a fresh nonce counter value, so a DTCP retransmission goes out as a
// new ciphertext of the same plaintext, not as a byte-identical copy.
//
// Wire form: an 8-byte big-endian nonce counter, the AEAD tag, then the
// ciphertext -- matching the bit-exact layout of the wire spec rather than
// the AEAD library's native ciphertext||tag Seal output.
type secureTransport struct {
	inner    dtcp.Transport
	aeadSend cipher
	aeadRecv cipher
	send     atomic.Uint64
}

// cipher is the minimal surface secureTransport needs from an AEAD; kept
// as an unexported interface so tests can swap in a fixed-nonce fake without
// touching the real chacha20poly1305 construction.
type cipher interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// newSecureTransport derives the initiator->responder and responder->
// initiator transport keys from finalKey and picks this side's (send, recv)
// pair by role, so the two peers never seal under the same (key, nonce)
// pair even though both start their nonce counters at zero.
func newSecureTransport(inner dtcp.Transport, finalKey [32]byte, isInitiator bool) (*secureTransport, error) {
	i2r, r2i := deriveDirectionalKeys(finalKey)
	sendKey, recvKey := r2i, i2r
	if isInitiator {
		sendKey, recvKey = i2r, r2i
	}

	aeadSend, err := chacha20poly1305.New(sendKey[:])
	if err != nil {
		return nil, errors.Wrap(err, "efcp: build send aead")
	}
	aeadRecv, err := chacha20poly1305.New(recvKey[:])
	if err != nil {
		return nil, errors.Wrap(err, "efcp: build recv aead")
	}
	return &secureTransport{inner: inner, aeadSend: aeadSend, aeadRecv: aeadRecv}, nil
}

func nonceFor(aead cipher, counter uint64) []byte {
	nonce := make([]byte, aead.NonceSize())
	binary.BigEndian.PutUint64(nonce[len(nonce)-nonceCounterLen:], counter)
	return nonce
}

// Send seals payload under the next nonce counter value and writes
// [counter(8) || tag || ciphertext] to the inner transport.
func (s *secureTransport) Send(ctx context.Context, payload []byte) error {
	var n uint64
	for {
		n = s.send.Load()
		if n == maxNonceCounter {
			return errors.Wrap(ErrHandshakeCrypto, "efcp: nonce space exhausted")
		}
		if s.send.CompareAndSwap(n, n+1) {
			break
		}
	}

	overhead := s.aeadSend.Overhead()
	sealed := s.aeadSend.Seal(nil, nonceFor(s.aeadSend, n), payload, nil)
	encrypted, tag := sealed[:len(sealed)-overhead], sealed[len(sealed)-overhead:]

	out := make([]byte, nonceCounterLen, nonceCounterLen+len(tag)+len(encrypted))
	binary.BigEndian.PutUint64(out, n)
	out = append(out, tag...)
	out = append(out, encrypted...)
	return s.inner.Send(ctx, out)
}

// Recv reads one [counter || tag || ciphertext] frame from the inner
// transport, reassembles it into the ciphertext||tag order the AEAD library
// expects, and opens it.
func (s *secureTransport) Recv(ctx context.Context) ([]byte, error) {
	raw, err := s.inner.Recv(ctx)
	if err != nil {
		return nil, err
	}
	overhead := s.aeadRecv.Overhead()
	if len(raw) < nonceCounterLen+overhead {
		return nil, errors.Wrap(ErrHandshakeCrypto, "efcp: short secure frame")
	}
	n := binary.BigEndian.Uint64(raw[:nonceCounterLen])
	tag := raw[nonceCounterLen : nonceCounterLen+overhead]
	encrypted := raw[nonceCounterLen+overhead:]

	sealed := make([]byte, 0, len(encrypted)+len(tag))
	sealed = append(sealed, encrypted...)
	sealed = append(sealed, tag...)

	plain, err := s.aeadRecv.Open(nil, nonceFor(s.aeadRecv, n), sealed, nil)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, "efcp: open secure frame")
	}
	return plain, nil
}
