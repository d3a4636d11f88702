package p2p

import (
	"context"
	"fmt"
	"sync"
	"time"

	tmrand "github.com/tendermint/tendermint/libs/rand"
)

// NewInmemAddr returns a random in-memory address.
func NewInmemAddr() string {
	return "inmem://" + tmrand.Str(12)
}

// InmemTransport implements the Transport interface, to allow nodes to be
// tested in-memory without going over a network. Peers must be wired with
// Connect.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan Envelope
	localAddr  string
	peers      map[string]*InmemTransport
	latency    map[string]time.Duration
	closed     bool
}

var _ Transport = (*InmemTransport)(nil)

// NewInmemTransport is used to initialize a new transport
// and generates a random local address if none is specified.
func NewInmemTransport(addr string, bufSize int) *InmemTransport {
	if addr == "" {
		addr = NewInmemAddr()
	}
	return &InmemTransport{
		consumerCh: make(chan Envelope, bufSize),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		latency:    make(map[string]time.Duration),
	}
}

// Listen is a no-op: in-memory frames are routed directly.
func (i *InmemTransport) Listen() error {
	return nil
}

func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

func (i *InmemTransport) Consumer() <-chan Envelope {
	return i.consumerCh
}

func (i *InmemTransport) Send(ctx context.Context, addr string, data []byte) error {
	peer, err := i.route(addr)
	if err != nil {
		return err
	}
	return peer.deliver(ctx, Envelope{From: i.localAddr, Data: append([]byte(nil), data...)})
}

func (i *InmemTransport) deliver(ctx context.Context, env Envelope) error {
	i.RLock()
	defer i.RUnlock()
	if i.closed {
		return ErrTransportClosed
	}
	select {
	case i.consumerCh <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping reports the latency set with SetLatency, zero by default.
func (i *InmemTransport) Ping(ctx context.Context, addr string) (time.Duration, error) {
	peer, err := i.route(addr)
	if err != nil {
		return 0, err
	}
	peer.RLock()
	closed := peer.closed
	peer.RUnlock()
	if closed {
		return 0, ErrTransportClosed
	}
	i.RLock()
	defer i.RUnlock()
	return i.latency[addr], ctx.Err()
}

func (i *InmemTransport) route(addr string) (*InmemTransport, error) {
	i.RLock()
	defer i.RUnlock()
	if i.closed {
		return nil, ErrTransportClosed
	}
	peer, ok := i.peers[addr]
	if !ok {
		return nil, fmt.Errorf("failed to connect to peer: %v", addr)
	}
	return peer, nil
}

// Connect is used to connect this transport to another transport for
// a given peer name. This allows for local routing.
func (i *InmemTransport) Connect(addr string, t *InmemTransport) {
	i.Lock()
	defer i.Unlock()
	i.peers[addr] = t
}

// SetLatency fixes the latency Ping reports for addr.
func (i *InmemTransport) SetLatency(addr string, latency time.Duration) {
	i.Lock()
	defer i.Unlock()
	i.latency[addr] = latency
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(addr string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, addr)
}

// Close is used to permanently disable the transport.
func (i *InmemTransport) Close() error {
	i.Lock()
	defer i.Unlock()
	i.closed = true
	i.peers = make(map[string]*InmemTransport)
	return nil
}

// ConnectAll wires every transport to every other.
func ConnectAll(transports ...*InmemTransport) {
	for _, a := range transports {
		for _, b := range transports {
			if a != b {
				a.Connect(b.LocalAddr(), b)
			}
		}
	}
}
