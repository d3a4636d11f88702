package p2p

import (
	"fmt"
	"time"
)

// Peer is a remote node that completed a handshake. Registry entries are
// replaced, never mutated, so a *Peer handed out stays consistent.
type Peer struct {
	ID           string        `json:"id"`
	Addr         string        `json:"addr"`
	PubKey       []byte        `json:"pub_key"`
	Capabilities []string      `json:"capabilities,omitempty"`
	Latency      time.Duration `json:"latency"`
	ConnectedAt  time.Time     `json:"connected_at"`
	LastSeen     time.Time     `json:"last_seen"`
}

func (p *Peer) withLatency(latency time.Duration, now time.Time) *Peer {
	pCopy := *p
	pCopy.Latency = latency
	pCopy.LastSeen = now
	return &pCopy
}

func (p *Peer) String() string {
	return fmt.Sprintf("Peer{%s@%s %v}", p.ID, p.Addr, p.Latency)
}
