package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocAndHeaderRoundTrip(t *testing.T) {
	f := Alloc(4 + 10)
	hdr, err := f.Header(4)
	require.NoError(t, err)
	require.Len(t, hdr, 4)
	copy(hdr, []byte{1, 2, 3, 4})

	next, err := f.Advance(4)
	require.NoError(t, err)
	assert.Equal(t, 10, next.Len())
	assert.Equal(t, 14, len(f.Bytes()))

	// the header write is visible through the original buffer.
	assert.Equal(t, byte(1), f.Bytes()[0])
}

func TestShortBufferErrors(t *testing.T) {
	f := Wrap([]byte{})
	_, err := f.Header(1)
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = f.Advance(1)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestNilFrame(t *testing.T) {
	var f *Frame
	assert.Nil(t, f.Window())
	assert.Nil(t, f.Bytes())
	assert.Equal(t, 0, f.Len())
}

func TestWrapPreservesBytes(t *testing.T) {
	raw := []byte{9, 8, 7, 6}
	f := Wrap(raw)
	win, err := f.Advance(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{8, 7, 6}, win.Window())
}
