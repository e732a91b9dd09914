package dtp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/brinestone/efcp/addr"
	"github.com/stretchr/testify/require"
)

func mustBind(t *testing.T) *Socket {
	t.Helper()
	s, err := Bind(addr.MustParse("/ip4/127.0.0.1/udp/0"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func localAddrOf(t *testing.T, s *Socket) addr.Addr {
	t.Helper()
	u := s.LocalAddr().(*net.UDPAddr)
	return addr.FromUDPAddr(u)
}

func TestPingPongOutgoingIncoming(t *testing.T) {
	a := mustBind(t)
	b := mustBind(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	bAddr := localAddrOf(t, b)
	chA, err := a.Outgoing(bAddr, 0)
	require.NoError(t, err)
	require.NoError(t, chA.Send(ctx, []byte("ping")))

	chB, err := b.Incoming(ctx)
	require.NoError(t, err)
	payload, err := chB.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "ping", string(payload))

	require.NoError(t, chB.Send(ctx, []byte("pong")))
	payload, err = chA.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "pong", string(payload))
}

func TestSymmetricOutgoingPreClaimsKey(t *testing.T) {
	a := mustBind(t)
	b := mustBind(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	chA, err := a.Outgoing(localAddrOf(t, b), 3)
	require.NoError(t, err)
	chB, err := b.Outgoing(localAddrOf(t, a), 3)
	require.NoError(t, err)

	require.NoError(t, chA.Send(ctx, []byte("hi")))
	payload, err := chB.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "hi", string(payload))
}

func TestOutgoingDuplicateKeyErrors(t *testing.T) {
	a := mustBind(t)
	b := mustBind(t)

	_, err := a.Outgoing(localAddrOf(t, b), 1)
	require.NoError(t, err)

	_, err = a.Outgoing(localAddrOf(t, b), 1)
	require.ErrorIs(t, err, ErrChannelAlreadyTaken)
}

func TestIPv6OneWayDelivery(t *testing.T) {
	a, err := Bind(addr.MustParse("/ip6/::1/udp/0"))
	if err != nil {
		t.Skip("ipv6 not available in this environment")
	}
	defer a.Close()
	b, err := Bind(addr.MustParse("/ip6/::1/udp/0"))
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	chA, err := a.Outgoing(localAddrOf(t, b), 0)
	require.NoError(t, err)
	require.NoError(t, chA.Send(ctx, []byte("ping")))

	chB, err := b.Incoming(ctx)
	require.NoError(t, err)
	payload, err := chB.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "ping", string(payload))
}

func TestCloseFreesSlotForReuse(t *testing.T) {
	a := mustBind(t)
	b := mustBind(t)

	ch, err := a.Outgoing(localAddrOf(t, b), 5)
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	// Same key can be claimed again after close.
	_, err = a.Outgoing(localAddrOf(t, b), 5)
	require.NoError(t, err)
}
