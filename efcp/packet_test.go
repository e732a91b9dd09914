package efcp

import (
	"net"
	"testing"

	"github.com/brinestone/efcp/addr"
	"github.com/brinestone/efcp/negotiate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakePacketRoundTripPropose(t *testing.T) {
	a := addr.New(net.ParseIP("203.0.113.9"), 4000)
	hp := HandshakePacket{
		Negotiate:    &negotiate.Message{Kind: negotiate.Propose, Protocol: "/ping/1.0"},
		ExternalAddr: &a,
	}
	got, err := DecodeHandshakePacket(hp.Encode())
	require.NoError(t, err)
	require.NotNil(t, got.Negotiate)
	assert.Equal(t, negotiate.Propose, got.Negotiate.Kind)
	assert.Equal(t, "/ping/1.0", got.Negotiate.Protocol)
	require.NotNil(t, got.ExternalAddr)
	assert.Equal(t, a.String(), got.ExternalAddr.String())
	assert.Nil(t, got.DTCPNegotiate)
}

func TestHandshakePacketRoundTripAcceptNoAddr(t *testing.T) {
	hp := HandshakePacket{Negotiate: &negotiate.Message{Kind: negotiate.Accept}}
	got, err := DecodeHandshakePacket(hp.Encode())
	require.NoError(t, err)
	require.NotNil(t, got.Negotiate)
	assert.Equal(t, negotiate.Accept, got.Negotiate.Kind)
	assert.Nil(t, got.ExternalAddr)
}

func TestHandshakePacketRoundTripWithDTCPField(t *testing.T) {
	hp := HandshakePacket{
		Negotiate:     &negotiate.Message{Kind: negotiate.Fail},
		DTCPNegotiate: &negotiate.Message{Kind: negotiate.Propose, Protocol: "fast"},
	}
	got, err := DecodeHandshakePacket(hp.Encode())
	require.NoError(t, err)
	assert.Equal(t, negotiate.Fail, got.Negotiate.Kind)
	require.NotNil(t, got.DTCPNegotiate)
	assert.Equal(t, negotiate.Propose, got.DTCPNegotiate.Kind)
	assert.Equal(t, "fast", got.DTCPNegotiate.Protocol)
}

func TestHandshakePacketEmptyIsInvalid(t *testing.T) {
	_, err := DecodeHandshakePacket(nil)
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestPadHandshakeRoundTrip(t *testing.T) {
	hp := HandshakePacket{Negotiate: &negotiate.Message{Kind: negotiate.Propose, Protocol: "/ping/1.0"}}
	encoded := hp.Encode()
	padded, err := padHandshake(encoded)
	require.NoError(t, err)
	assert.Len(t, padded, handshakePadLen)

	unpadded, err := unpadHandshake(padded)
	require.NoError(t, err)
	assert.Equal(t, encoded, unpadded)
}

func TestPadHandshakeTooLarge(t *testing.T) {
	huge := make([]byte, handshakePadLen)
	_, err := padHandshake(huge)
	assert.Error(t, err)
}
