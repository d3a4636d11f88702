package p2p

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"

	cfg "segchain/config"
	"segchain/crypto"
	"segchain/types"
)

type testNode struct {
	net       *Network
	transport *InmemTransport

	mtx      sync.Mutex
	received []*Message
}

func (tn *testNode) record(_ *Peer, msg *Message) {
	tn.mtx.Lock()
	defer tn.mtx.Unlock()
	tn.received = append(tn.received, msg)
}

func (tn *testNode) count() int {
	tn.mtx.Lock()
	defer tn.mtx.Unlock()
	return len(tn.received)
}

func (tn *testNode) last() *Message {
	tn.mtx.Lock()
	defer tn.mtx.Unlock()
	return tn.received[len(tn.received)-1]
}

func newTestNode(t *testing.T, config *cfg.P2PConfig) *testNode {
	p := crypto.NewKyberProvider()
	priv, _, err := p.GenKeyPair()
	require.NoError(t, err)

	tn := &testNode{transport: NewInmemTransport("", config.InboxSize)}
	tn.net, err = NewNetwork(config, p, priv, tn.transport)
	require.NoError(t, err)
	tn.net.SetLogger(log.TestingLogger())
	tn.net.AddHandler(MsgTransaction, tn.record)
	return tn
}

func startTestNodes(t *testing.T, config *cfg.P2PConfig, n int) ([]*testNode, func()) {
	nodes := make([]*testNode, n)
	transports := make([]*InmemTransport, n)
	for i := range nodes {
		nodes[i] = newTestNode(t, config)
		transports[i] = nodes[i].transport
	}
	ConnectAll(transports...)
	for _, tn := range nodes {
		require.NoError(t, tn.net.Start())
	}
	return nodes, func() {
		for _, tn := range nodes {
			_ = tn.net.Stop()
		}
	}
}

func connectAll(t *testing.T, nodes []*testNode) {
	for i, a := range nodes {
		for _, b := range nodes[i+1:] {
			_, err := a.net.Connect(context.Background(), b.transport.LocalAddr())
			require.NoError(t, err)
		}
	}
	for _, tn := range nodes {
		require.Eventually(t, func() bool { return tn.net.NumPeers() == len(nodes)-1 }, time.Second, 5*time.Millisecond)
	}
}

func TestNetworkHandshake(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	nodes, stop := startTestNodes(t, cfg.TestP2PConfig(), 2)
	defer stop()
	a, b := nodes[0], nodes[1]

	peer, err := a.net.Connect(context.Background(), b.transport.LocalAddr())
	require.NoError(t, err)
	assert.Equal(t, b.net.NodeID(), peer.ID)
	assert.Equal(t, b.net.PubKey(), peer.PubKey)

	require.Eventually(t, func() bool { return b.net.NumPeers() == 1 }, time.Second, 5*time.Millisecond)
	back, ok := b.net.Peer(a.net.NodeID())
	require.True(t, ok)
	assert.Equal(t, a.transport.LocalAddr(), back.Addr)

	_, err = a.net.Connect(context.Background(), a.transport.LocalAddr())
	assert.Equal(t, ErrSelfConnect, err)
}

func TestNetworkVersionMismatch(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	other := cfg.TestP2PConfig()
	other.ProtocolVersion = 2
	a := newTestNode(t, cfg.TestP2PConfig())
	b := newTestNode(t, other)
	ConnectAll(a.transport, b.transport)
	require.NoError(t, a.net.Start())
	defer a.net.Stop()
	require.NoError(t, b.net.Start())
	defer b.net.Stop()

	_, err := a.net.Connect(context.Background(), b.transport.LocalAddr())
	var mismatch ErrVersionMismatch
	require.True(t, errors.As(err, &mismatch), "got %v", err)
	assert.Equal(t, 2, mismatch.Theirs)
	assert.True(t, errors.Is(err, types.ErrNetwork))
	assert.Equal(t, 0, a.net.NumPeers())
	assert.Equal(t, 0, b.net.NumPeers())
}

func TestNetworkBroadcast(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	nodes, stop := startTestNodes(t, cfg.TestP2PConfig(), 3)
	defer stop()
	connectAll(t, nodes)

	msg, err := nodes[0].net.NewSignedMessage(MsgTransaction, map[string]string{"hello": "world"})
	require.NoError(t, err)
	assert.Equal(t, 2, nodes[0].net.Broadcast(msg))

	for _, tn := range nodes[1:] {
		tn := tn
		require.Eventually(t, func() bool { return tn.count() == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, msg, tn.last())
	}
	assert.Equal(t, 0, nodes[0].count())

	assert.Equal(t, 1, nodes[0].net.Broadcast(msg, nodes[1].net.NodeID()))
}

func TestNetworkBroadcastPrunesFailingPeer(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	nodes, stop := startTestNodes(t, cfg.TestP2PConfig(), 3)
	defer stop()
	connectAll(t, nodes)

	// node 2 becomes unreachable from node 0
	nodes[0].transport.Disconnect(nodes[2].transport.LocalAddr())

	msg, err := nodes[0].net.NewSignedMessage(MsgTransaction, "tx")
	require.NoError(t, err)
	assert.Equal(t, 1, nodes[0].net.Broadcast(msg))

	_, ok := nodes[0].net.Peer(nodes[2].net.NodeID())
	assert.False(t, ok)
	assert.Equal(t, 1, nodes[0].net.NumPeers())
}

func TestNetworkDropsForgedAndUnknown(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	nodes, stop := startTestNodes(t, cfg.TestP2PConfig(), 2)
	defer stop()
	connectAll(t, nodes)
	a, b := nodes[0], nodes[1]

	forged, err := a.net.NewSignedMessage(MsgTransaction, "tx")
	require.NoError(t, err)
	forged.Payload = `"other"`
	require.NoError(t, a.net.Send(b.net.NodeID(), forged))

	// a stranger that never handshaked
	stranger := newTestNode(t, cfg.TestP2PConfig())
	stranger.transport.Connect(b.transport.LocalAddr(), b.transport)
	msg, err := stranger.net.NewSignedMessage(MsgTransaction, "tx")
	require.NoError(t, err)
	bz, err := jsonCodec{}.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, stranger.transport.Send(context.Background(), b.transport.LocalAddr(), bz))

	require.Eventually(t, func() bool { return b.net.State().MessagesDropped >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, b.count())
}

func TestNetworkMessageTooLarge(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	config := cfg.TestP2PConfig()
	config.MaxMsgSize = 4096
	nodes, stop := startTestNodes(t, config, 2)
	defer stop()
	connectAll(t, nodes)
	a, b := nodes[0], nodes[1]

	msg, err := a.net.NewSignedMessage(MsgTransaction, strings.Repeat("x", 8192))
	require.NoError(t, err)
	err = a.net.Send(b.net.NodeID(), msg)
	var tooLarge ErrMessageTooLarge
	require.True(t, errors.As(err, &tooLarge))
	assert.True(t, errors.Is(err, types.ErrCapacity))
	// oversized sends are our problem, the peer stays
	assert.Equal(t, 1, a.net.NumPeers())

	// oversized frames are dropped before decoding
	require.NoError(t, a.transport.Send(context.Background(), b.transport.LocalAddr(), make([]byte, 5000)))
	require.Eventually(t, func() bool { return b.net.State().MessagesDropped == 1 }, time.Second, 5*time.Millisecond)
}

func TestNetworkEvictsSlowPeer(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	config := cfg.TestP2PConfig()
	config.LatencyThreshold = 100 * time.Millisecond
	nodes, stop := startTestNodes(t, config, 3)
	defer stop()
	connectAll(t, nodes)
	a, slow := nodes[0], nodes[2]

	a.transport.SetLatency(slow.transport.LocalAddr(), 150*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := a.net.Peer(slow.net.NodeID())
		return !ok
	}, time.Second, 5*time.Millisecond)

	// no further message reaches the evicted peer
	before := slow.count()
	msg, err := a.net.NewSignedMessage(MsgTransaction, "tx")
	require.NoError(t, err)
	assert.Equal(t, 1, a.net.Broadcast(msg))
	require.Eventually(t, func() bool { return nodes[1].count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, before, slow.count())

	state := a.net.State()
	assert.Equal(t, int64(1), state.PeersEvicted)
	assert.Equal(t, int64(1), state.ConnectedPeers)
}

func TestNetworkPartitionDetection(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	config := cfg.TestP2PConfig()
	config.MinPeers = 1
	nodes, stop := startTestNodes(t, config, 2)
	defer stop()
	a, b := nodes[0], nodes[1]

	assert.True(t, a.net.IsDegraded())
	connectAll(t, nodes)
	assert.False(t, a.net.IsDegraded())

	a.transport.Disconnect(b.transport.LocalAddr())
	require.Eventually(t, a.net.IsDegraded, time.Second, 5*time.Millisecond)
	assert.True(t, a.net.State().Degraded)
}

func TestNetworkDiscovery(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	nodes, stop := startTestNodes(t, cfg.TestP2PConfig(), 3)
	defer stop()
	a, b, c := nodes[0], nodes[1], nodes[2]

	_, err := a.net.Connect(context.Background(), b.transport.LocalAddr())
	require.NoError(t, err)
	_, err = b.net.Connect(context.Background(), c.transport.LocalAddr())
	require.NoError(t, err)

	// a learns about c through b
	a.net.Discover()
	require.Eventually(t, func() bool {
		_, ok := a.net.Peer(c.net.NodeID())
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestNetworkSingleDialPerAddr(t *testing.T) {
	tn := newTestNode(t, cfg.TestP2PConfig())
	addr := NewInmemAddr()

	claims := make(chan bool, 8)
	var wg sync.WaitGroup
	for i := 0; i < cap(claims); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claims <- tn.net.markDialing(addr)
		}()
	}
	wg.Wait()
	close(claims)
	won := 0
	for ok := range claims {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won)

	tn.net.unmarkDialing(addr)
	assert.True(t, tn.net.markDialing(addr))

	// a second handshake to the same address leaves the first one's waiter alone
	ch := make(chan handshakeResult, 1)
	tn.net.pmtx.Lock()
	tn.net.pending[addr] = ch
	tn.net.pmtx.Unlock()
	_, err := tn.net.Connect(context.Background(), addr)
	assert.Equal(t, ErrDialInProgress, err)
	tn.net.pmtx.Lock()
	assert.True(t, tn.net.pending[addr] == ch)
	tn.net.pmtx.Unlock()
}
