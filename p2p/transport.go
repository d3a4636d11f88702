package p2p

import (
	"context"
	"time"
)

// Envelope is a raw frame received by a transport. From is the transport
// address the frame came from, when the transport knows it.
type Envelope struct {
	From string
	Data []byte
}

// Transport moves encoded frames between nodes.
type Transport interface {
	// Listen starts accepting inbound frames.
	Listen() error

	// LocalAddr is the address other nodes use to reach us.
	LocalAddr() string

	// Consumer delivers inbound frames in arrival order.
	Consumer() <-chan Envelope

	// Send delivers data to addr or fails.
	Send(ctx context.Context, addr string, data []byte) error

	// Ping measures the round trip to addr.
	Ping(ctx context.Context, addr string) (time.Duration, error)

	// Close stops the transport and releases its connections.
	Close() error
}
