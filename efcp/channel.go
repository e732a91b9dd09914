package efcp

import (
	"context"
	"crypto/ed25519"

	"github.com/brinestone/efcp/addr"
	"github.com/brinestone/efcp/dtcp"
	"github.com/brinestone/efcp/dtp"
)

// Channel is a fully established, authenticated, reliable, encrypted
// session: a dtcp.Channel riding a per-session AEAD envelope riding a
// dtp.Channel.
type Channel struct {
	dtcp *dtcp.Channel
	dtp  *dtp.Channel

	remoteStaticPub ed25519.PublicKey
	protocol        string
	dtcpPreset      string
	externalAddr    *addr.Addr // set on the initiator side only
}

// Send encrypts and reliably delivers payload.
func (c *Channel) Send(ctx context.Context, payload []byte) error {
	return c.dtcp.Send(ctx, payload)
}

// Recv returns the next decrypted, in-order payload.
func (c *Channel) Recv(ctx context.Context) ([]byte, error) {
	return c.dtcp.Recv(ctx)
}

// Protocol returns the negotiated application-protocol identifier.
func (c *Channel) Protocol() string { return c.protocol }

// DTCPPreset returns the negotiated DTCP parameter preset name.
func (c *Channel) DTCPPreset() string { return c.dtcpPreset }

// RemoteIdentity returns the peer's authenticated static public key.
func (c *Channel) RemoteIdentity() ed25519.PublicKey { return c.remoteStaticPub }

// ExternalAddr returns the address the responder observed this session's
// datagrams arriving from, if this Channel is the dialing side.
func (c *Channel) ExternalAddr() (addr.Addr, bool) {
	if c.externalAddr == nil {
		return addr.Addr{}, false
	}
	return *c.externalAddr, true
}

// TimedOut reports whether the underlying DTCP channel's retransmission
// budget has been exhausted.
func (c *Channel) TimedOut() bool { return c.dtcp.TimedOut() }

// Close tears down the DTCP layer and the underlying DTP channel.
func (c *Channel) Close() error {
	err := c.dtcp.Close()
	if dErr := c.dtp.Close(); dErr != nil && err == nil {
		err = dErr
	}
	return err
}
