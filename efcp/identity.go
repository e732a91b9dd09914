package efcp

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/pkg/errors"
)

// Identity is a static Ed25519 keypair authenticating one side of a
// handshake. It is presented, never a certificate chain: a peer's Identity
// is trusted on first use, the way the "s, sig" token of an XK1sig handshake
// only proves possession of the matching private key, not any external
// authority over it.
type Identity struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateIdentity creates a fresh static keypair.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "efcp: generate identity")
	}
	return &Identity{Private: priv, Public: pub}, nil
}
