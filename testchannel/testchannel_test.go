package testchannel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLosslessRoundTrip(t *testing.T) {
	a, b := Split(0, 0, 0)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, a.Send(ctx, []byte("ping")))
	got, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "ping", string(got))

	require.NoError(t, b.Send(ctx, []byte("pong")))
	got, err = a.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "pong", string(got))
}

func TestAlwaysDropDeliversNothing(t *testing.T) {
	a, b := Split(1, 0, 0)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, a.Send(ctx, []byte("ping")))
	_, err := b.Recv(ctx)
	require.Error(t, err)
}

func TestCloseUnblocksRecv(t *testing.T) {
	a, b := Split(0, 0, 0)
	defer a.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := b.Recv(context.Background())
		require.Error(t, err)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Close())
	<-done
}
