package ecn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendRecvRoundTrip(t *testing.T) {
	a, err := Listen("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	b, err := Listen("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bAddr := b.LocalAddr().(*net.UDPAddr)
	n, err := a.PollSend(ctx, bAddr, true, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 64)
	nn, src, _, err := b.PollRecv(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:nn]))
	require.NotNil(t, src)
}

func TestRecvTimesOutOnCancel(t *testing.T) {
	a, err := Listen("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	buf := make([]byte, 64)
	_, _, _, err = a.PollRecv(ctx, buf)
	require.Error(t, err)
}

func TestIPv6RoundTrip(t *testing.T) {
	a, err := Listen("udp6", "[::1]:0")
	if err != nil {
		t.Skip("ipv6 not available in this environment")
	}
	defer a.Close()

	b, err := Listen("udp6", "[::1]:0")
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bAddr := b.LocalAddr().(*net.UDPAddr)
	_, err = a.PollSend(ctx, bAddr, false, []byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	nn, _, _, err := b.PollRecv(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:nn]))
}
