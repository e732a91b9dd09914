package efcp

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// mixHash folds data into the running transcript hash, the Noise-style
// accumulator both sides use to bind every handshake message (and its
// authenticating signature) to everything sent or received before it.
func mixHash(h [32]byte, data []byte) [32]byte {
	buf := make([]byte, 0, len(h)+len(data))
	buf = append(buf, h[:]...)
	buf = append(buf, data...)
	return blake2s.Sum256(buf)
}

// kdf2 derives a new chaining key and a one-shot message key from the
// current chaining key and a fresh input keying material (a DH output).
// This is a minimal two-output KDF built directly from blake2s rather than
// a full HKDF construction, adequate for a handshake where each derived key
// encrypts exactly one message.
func kdf2(ck [32]byte, ikm []byte) (newCK [32]byte, key [32]byte) {
	buf := make([]byte, 0, len(ck)+len(ikm))
	buf = append(buf, ck[:]...)
	buf = append(buf, ikm...)
	tmp := blake2s.Sum256(buf)
	newCK = blake2s.Sum256(append(append([]byte{}, tmp[:]...), 0x01))
	key = blake2s.Sum256(append(append([]byte{}, tmp[:]...), 0x02))
	return
}

// genEphemeral draws a fresh X25519 keypair for one handshake.
func genEphemeral() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, errors.Wrap(err, "efcp: ephemeral keygen")
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// dh computes the X25519 shared secret between a local private key and a
// remote public key.
func dh(priv, pub [32]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return out, errors.Wrap(err, "efcp: dh")
	}
	copy(out[:], shared)
	return out, nil
}

// deriveDirectionalKeys splits the post-handshake shared secret into two
// transport keys, one per direction, so the initiator's and the responder's
// first sealed frames never share a (key, nonce) pair -- both sides would
// otherwise start their independent nonce counters at zero under the same
// symmetric key.
func deriveDirectionalKeys(finalKey [32]byte) (initToResp, respToInit [32]byte) {
	_, initToResp = kdf2(finalKey, []byte("efcp-i2r"))
	_, respToInit = kdf2(finalKey, []byte("efcp-r2i"))
	return
}

// sealWithKey AEAD-encrypts plaintext under key, binding ad (the transcript
// hash at the time of sending) as associated data. The nonce is always
// zero: key is single-use, derived fresh per handshake step.
func sealWithKey(key [32]byte, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "efcp: build aead")
	}
	nonce := make([]byte, aead.NonceSize())
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

// openWithKey reverses sealWithKey.
func openWithKey(key [32]byte, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "efcp: build aead")
	}
	nonce := make([]byte, aead.NonceSize())
	plain, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, errors.Wrap(err, "efcp: open")
	}
	return plain, nil
}
