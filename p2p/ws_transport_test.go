package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
)

func newTestWSTransport(t *testing.T) *WSTransport {
	tr := NewWSTransport("tcp://127.0.0.1:0", 1<<16, time.Second, log.TestingLogger())
	require.NoError(t, tr.Listen())
	return tr
}

func TestWSTransportSendAndPing(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	a, b := newTestWSTransport(t), newTestWSTransport(t)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, a.Send(ctx, b.LocalAddr(), []byte("hello")))
	require.NoError(t, a.Send(ctx, b.LocalAddr(), []byte("again")))

	for _, want := range []string{"hello", "again"} {
		select {
		case env := <-b.Consumer():
			assert.Equal(t, want, string(env.Data))
			assert.Equal(t, a.LocalAddr(), env.From)
		case <-ctx.Done():
			t.Fatal("timed out waiting for frame")
		}
	}

	latency, err := a.Ping(ctx, b.LocalAddr())
	require.NoError(t, err)
	assert.True(t, latency > 0)
}

func TestWSTransportClosed(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	a, b := newTestWSTransport(t), newTestWSTransport(t)
	require.NoError(t, b.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, a.Send(ctx, b.LocalAddr(), []byte("x")))

	require.NoError(t, a.Close())
	assert.Equal(t, ErrTransportClosed, a.Send(ctx, b.LocalAddr(), []byte("x")))
}
