package dtcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferRoundTrip(t *testing.T) {
	p, err := NewTransferPacket(42, true, []byte("hello"))
	require.NoError(t, err)

	parsed, err := ParsePacket(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, TypeTransfer, parsed.Type())
	assert.True(t, parsed.DRF())
	assert.Equal(t, uint32(42), parsed.SeqNum())
	assert.Equal(t, "hello", string(parsed.Payload()))
}

func TestControlRoundTrip(t *testing.T) {
	p, err := NewControlPacket(7)
	require.NoError(t, err)

	parsed, err := ParsePacket(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, TypeControl, parsed.Type())
	assert.Equal(t, uint32(7), parsed.SeqNum())
	assert.Empty(t, parsed.Payload())
}

func TestUnknownTypeIsInvalid(t *testing.T) {
	raw := make([]byte, HeaderLen)
	raw[0] = 2 << 4
	_, err := ParsePacket(raw)
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestUnknownFlagBitsAreInvalid(t *testing.T) {
	raw := make([]byte, HeaderLen)
	raw[0] = byte(TypeTransfer)<<4 | 0x2
	_, err := ParsePacket(raw)
	assert.ErrorIs(t, err, ErrInvalidPacket)

	raw[0] = byte(TypeControl)<<4 | 0x1
	_, err = ParsePacket(raw)
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestShortDatagramIsInvalid(t *testing.T) {
	_, err := ParsePacket([]byte{0, 1, 2})
	assert.ErrorIs(t, err, ErrInvalidPacket)
}
