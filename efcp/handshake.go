package efcp

import (
	"context"
	"crypto/ed25519"

	"github.com/brinestone/efcp/addr"
	"github.com/brinestone/efcp/dtcp"
	"github.com/brinestone/efcp/negotiate"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2s"
)

// protocolLabel seeds the transcript hash the way a Noise protocol name
// string seeds h0; it has no cryptographic meaning beyond domain
// separation.
var protocolLabel = []byte("efcp-xk1sig-v1")

// handshakeResult carries everything a completed (or still-negotiating)
// handshake hands back to its caller.
type handshakeResult struct {
	finalKey        [32]byte
	remoteStaticPub ed25519.PublicKey
	observedAddr    *addr.Addr
	negMachine      *negotiate.Machine
	// pendingReply is set only on the responder side, when processing the
	// negotiate field embedded in message 3 produces a reply that has no
	// further handshake message left to ride on. The caller must send it as
	// the first message of the post-handshake continuation.
	pendingReply *negotiate.Message
}

// runInitiatorHandshake drives the "-> e / <- e, ee, sig / -> s, sig"
// dance from the dialing side. remoteStaticPub must already be known to the
// caller (the "K" of XK1sig: the responder's static key is never exchanged
// in-band on this side).
func runInitiatorHandshake(ctx context.Context, ch *dtcp.Channel, local *Identity, remoteStaticPub ed25519.PublicKey, protocols []string) (*handshakeResult, error) {
	h := mixHash([32]byte{}, protocolLabel)
	var ck [32]byte

	ephPriv, ephPub, err := genEphemeral()
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}
	h = mixHash(h, ephPub[:])

	negMachine := negotiate.NewMachine(protocols)
	firstMsg, err := negMachine.Initiate()
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeNegotiation, err.Error())
	}

	hp1 := HandshakePacket{Negotiate: &firstMsg}
	padded1, err := padHandshake(hp1.Encode())
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeIO, err.Error())
	}

	msg1 := make([]byte, 0, 32+len(padded1))
	msg1 = append(msg1, ephPub[:]...)
	msg1 = append(msg1, padded1...)
	if err := ch.Send(ctx, msg1); err != nil {
		return nil, errors.Wrap(ErrHandshakeIO, err.Error())
	}

	raw2, err := ch.Recv(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeIO, err.Error())
	}
	if len(raw2) < 32+ed25519.SignatureSize {
		return nil, errors.Wrap(ErrHandshakeCrypto, "efcp: short handshake message 2")
	}
	var remoteEphPub [32]byte
	copy(remoteEphPub[:], raw2[:32])
	sig2 := raw2[32 : 32+ed25519.SignatureSize]
	ciphertext2 := raw2[32+ed25519.SignatureSize:]

	h = mixHash(h, remoteEphPub[:])
	if !ed25519.Verify(remoteStaticPub, h[:], sig2) {
		return nil, errors.Wrap(ErrHandshakeCrypto, "efcp: bad responder signature")
	}

	shared, err := dh(ephPriv, remoteEphPub)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}
	var sessionKey [32]byte
	ck, sessionKey = kdf2(ck, shared[:])

	plainPadded2, err := openWithKey(sessionKey, h[:], ciphertext2)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}
	h = mixHash(h, ciphertext2)

	plain2, err := unpadHandshake(plainPadded2)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}
	hp2, err := DecodeHandshakePacket(plain2)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}

	// message 3 must not be sealed under the same key as message 2: chain ck
	// forward with the now-updated transcript hash as fresh input keying
	// material.
	var key3 [32]byte
	ck, key3 = kdf2(ck, h[:])

	var observed *addr.Addr
	if hp2.ExternalAddr != nil {
		observed = hp2.ExternalAddr
	}

	var nextOutbound *negotiate.Message
	if hp2.Negotiate != nil {
		reply, err := negMachine.Receive(*hp2.Negotiate)
		if err != nil {
			return nil, errors.Wrap(ErrHandshakeNegotiation, err.Error())
		}
		nextOutbound = reply
	}

	sig3 := ed25519.Sign(local.Private, h[:])
	hp3 := HandshakePacket{Negotiate: nextOutbound}
	padded3, err := padHandshake(hp3.Encode())
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeIO, err.Error())
	}
	ciphertext3, err := sealWithKey(key3, h[:], padded3)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}

	msg3 := make([]byte, 0, 32+ed25519.SignatureSize+len(ciphertext3))
	msg3 = append(msg3, local.Public...)
	msg3 = append(msg3, sig3...)
	msg3 = append(msg3, ciphertext3...)
	if err := ch.Send(ctx, msg3); err != nil {
		return nil, errors.Wrap(ErrHandshakeIO, err.Error())
	}
	h = mixHash(h, ciphertext3)

	finalKey := blake2s.Sum256(append(append([]byte{}, ck[:]...), h[:]...))

	return &handshakeResult{
		finalKey:        finalKey,
		remoteStaticPub: remoteStaticPub,
		observedAddr:    observed,
		negMachine:      negMachine,
	}, nil
}

// runResponderHandshake drives the same dance from the accepting side.
// observed is the address the underlying dtp.Channel actually saw the
// initiator's datagrams arrive from, reported back so the initiator can
// learn its NAT-mapped external address.
func runResponderHandshake(ctx context.Context, ch *dtcp.Channel, local *Identity, observed addr.Addr, protocols []string) (*handshakeResult, error) {
	h := mixHash([32]byte{}, protocolLabel)
	var ck [32]byte

	raw1, err := ch.Recv(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeIO, err.Error())
	}
	if len(raw1) < 32 {
		return nil, errors.Wrap(ErrHandshakeCrypto, "efcp: short handshake message 1")
	}
	var remoteEphPub [32]byte
	copy(remoteEphPub[:], raw1[:32])
	padded1 := raw1[32:]

	h = mixHash(h, remoteEphPub[:])

	plain1, err := unpadHandshake(padded1)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}
	hp1, err := DecodeHandshakePacket(plain1)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}

	negMachine := negotiate.NewMachine(protocols)
	var firstReply *negotiate.Message
	if hp1.Negotiate != nil {
		reply, err := negMachine.Receive(*hp1.Negotiate)
		if err != nil {
			return nil, errors.Wrap(ErrHandshakeNegotiation, err.Error())
		}
		firstReply = reply
	}

	ephPriv, ephPub, err := genEphemeral()
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}
	h = mixHash(h, ephPub[:])

	shared, err := dh(ephPriv, remoteEphPub)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}
	var sessionKey [32]byte
	ck, sessionKey = kdf2(ck, shared[:])

	sig2 := ed25519.Sign(local.Private, h[:])

	observedCopy := observed
	hp2 := HandshakePacket{Negotiate: firstReply, ExternalAddr: &observedCopy}
	padded2, err := padHandshake(hp2.Encode())
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeIO, err.Error())
	}
	ciphertext2, err := sealWithKey(sessionKey, h[:], padded2)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}

	msg2 := make([]byte, 0, 32+ed25519.SignatureSize+len(ciphertext2))
	msg2 = append(msg2, ephPub[:]...)
	msg2 = append(msg2, sig2...)
	msg2 = append(msg2, ciphertext2...)
	if err := ch.Send(ctx, msg2); err != nil {
		return nil, errors.Wrap(ErrHandshakeIO, err.Error())
	}
	h = mixHash(h, ciphertext2)

	// message 3 must not be opened under the same key as message 2: chain ck
	// forward with the now-updated transcript hash, symmetrically with the
	// initiator's derivation.
	var key3 [32]byte
	ck, key3 = kdf2(ck, h[:])

	raw3, err := ch.Recv(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeIO, err.Error())
	}
	if len(raw3) < 32+ed25519.SignatureSize {
		return nil, errors.Wrap(ErrHandshakeCrypto, "efcp: short handshake message 3")
	}
	remoteStaticPub := ed25519.PublicKey(append([]byte{}, raw3[:32]...))
	sig3 := raw3[32 : 32+ed25519.SignatureSize]
	ciphertext3 := raw3[32+ed25519.SignatureSize:]

	if !ed25519.Verify(remoteStaticPub, h[:], sig3) {
		return nil, errors.Wrap(ErrHandshakeCrypto, "efcp: bad initiator signature")
	}

	plainPadded3, err := openWithKey(key3, h[:], ciphertext3)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}
	h = mixHash(h, ciphertext3)

	plain3, err := unpadHandshake(plainPadded3)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}
	hp3, err := DecodeHandshakePacket(plain3)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeCrypto, err.Error())
	}

	var pendingReply *negotiate.Message
	if hp3.Negotiate != nil {
		reply, err := negMachine.Receive(*hp3.Negotiate)
		if err != nil {
			return nil, errors.Wrap(ErrHandshakeNegotiation, err.Error())
		}
		pendingReply = reply
	}

	finalKey := blake2s.Sum256(append(append([]byte{}, ck[:]...), h[:]...))

	return &handshakeResult{
		finalKey:        finalKey,
		remoteStaticPub: remoteStaticPub,
		negMachine:      negMachine,
		pendingReply:    pendingReply,
	}, nil
}
