package efcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/brinestone/efcp/addr"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func mustIdentity(t *testing.T) *Identity {
	t.Helper()
	id, err := GenerateIdentity()
	require.NoError(t, err)
	return id
}

func loopback(t *testing.T) addr.Addr {
	t.Helper()
	return addr.New(net.ParseIP("127.0.0.1"), 0)
}

// handshakeBothSides runs Accept and Dial concurrently, the way a real
// caller must: neither side's handshake can complete without the other
// actively reading and writing at the same time.
func handshakeBothSides(ctx context.Context, resp *Socket, init *Socket, respAddr addr.Addr, respIdentity *Identity) (respCh, initCh *Channel, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ch, err := resp.Accept(gctx)
		if err != nil {
			return err
		}
		respCh = ch
		return nil
	})
	g.Go(func() error {
		ch, err := init.Dial(gctx, respAddr, 1, respIdentity.Public)
		if err != nil {
			return err
		}
		initCh = ch
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return respCh, initCh, nil
}

// TestHandshakeSingleSharedProtocol covers scenario 5: a single shared
// protocol between initiator and responder, asserting both sides finish
// with the same protocol and the initiator learns its observed address.
func TestHandshakeSingleSharedProtocol(t *testing.T) {
	respIdentity := mustIdentity(t)
	initIdentity := mustIdentity(t)

	resp, err := Bind(loopback(t), respIdentity, []string{"/ping/1.0"})
	require.NoError(t, err)
	defer resp.Close()

	init, err := Bind(loopback(t), initIdentity, []string{"/ping/1.0"})
	require.NoError(t, err)
	defer init.Close()

	respAddr := addr.FromUDPAddr(resp.LocalAddr().(*net.UDPAddr))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	respCh, initCh, err := handshakeBothSides(ctx, resp, init, respAddr, respIdentity)
	require.NoError(t, err)
	defer respCh.Close()
	defer initCh.Close()

	require.Equal(t, "/ping/1.0", initCh.Protocol())
	require.Equal(t, "/ping/1.0", respCh.Protocol())
	require.Equal(t, initIdentity.Public, []byte(respCh.RemoteIdentity()))
	require.Equal(t, respIdentity.Public, []byte(initCh.RemoteIdentity()))

	ext, ok := initCh.ExternalAddr()
	require.True(t, ok)
	require.True(t, ext.IP.IsLoopback())

	require.NoError(t, initCh.Send(ctx, []byte("ping")))
	got, err := respCh.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "ping", string(got))

	require.NoError(t, respCh.Send(ctx, []byte("pong")))
	got, err = initCh.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "pong", string(got))
}

// TestHandshakePartialProtocolOverlap covers scenario 6: initiator offers
// two protocols, responder only knows the second; negotiation should
// converge on the shared one after the extra Propose round.
func TestHandshakePartialProtocolOverlap(t *testing.T) {
	respIdentity := mustIdentity(t)

	resp, err := Bind(loopback(t), respIdentity, []string{"/b"})
	require.NoError(t, err)
	defer resp.Close()

	init, err := Bind(loopback(t), mustIdentity(t), []string{"/a", "/b"})
	require.NoError(t, err)
	defer init.Close()

	respAddr := addr.FromUDPAddr(resp.LocalAddr().(*net.UDPAddr))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	respCh, initCh, err := handshakeBothSides(ctx, resp, init, respAddr, respIdentity)
	require.NoError(t, err)
	defer respCh.Close()
	defer initCh.Close()

	require.Equal(t, "/b", initCh.Protocol())
	require.Equal(t, "/b", respCh.Protocol())
}
