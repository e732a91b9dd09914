package dtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParseRoundTrip(t *testing.T) {
	p, err := NewPacket(7, 16)
	require.NoError(t, err)
	assert.Len(t, p.Payload(), 16)
	copy(p.Payload(), []byte("0123456789abcdef"))

	parsed, err := ParsePacket(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, byte(7), parsed.ChannelID())
	assert.Equal(t, "0123456789abcdef", string(parsed.Payload()))
}

func TestParseEmptyDatagramIsInvalid(t *testing.T) {
	_, err := ParsePacket(nil)
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestZeroPayloadPacket(t *testing.T) {
	p, err := NewPacket(1, 0)
	require.NoError(t, err)
	assert.Len(t, p.Payload(), 0)
}
