package p2p

import (
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	metrics "github.com/rcrowley/go-metrics"
)

const latencySampleSize = 1028

// NetworkState tracks live network figures for the node state report.
type NetworkState struct {
	registry metrics.Registry

	connectedPeers   metrics.Gauge
	activeValidators metrics.Gauge
	latency          metrics.Histogram
	received         metrics.Counter
	sent             metrics.Counter
	dropped          metrics.Counter
	evicted          metrics.Counter

	degraded int32
}

func NewNetworkState() *NetworkState {
	ns := &NetworkState{
		registry:         metrics.NewRegistry(),
		connectedPeers:   metrics.NewGauge(),
		activeValidators: metrics.NewGauge(),
		latency:          metrics.NewHistogram(metrics.NewUniformSample(latencySampleSize)),
		received:         metrics.NewCounter(),
		sent:             metrics.NewCounter(),
		dropped:          metrics.NewCounter(),
		evicted:          metrics.NewCounter(),
	}
	_ = ns.registry.Register("connected_peers", ns.connectedPeers)
	_ = ns.registry.Register("active_validators", ns.activeValidators)
	_ = ns.registry.Register("latency_ns", ns.latency)
	_ = ns.registry.Register("messages_received", ns.received)
	_ = ns.registry.Register("messages_sent", ns.sent)
	_ = ns.registry.Register("messages_dropped", ns.dropped)
	_ = ns.registry.Register("peers_evicted", ns.evicted)
	return ns
}

func (ns *NetworkState) MarkPeers(n int)             { ns.connectedPeers.Update(int64(n)) }
func (ns *NetworkState) MarkActiveValidators(n int)  { ns.activeValidators.Update(int64(n)) }
func (ns *NetworkState) MarkLatency(d time.Duration) { ns.latency.Update(int64(d)) }
func (ns *NetworkState) MarkReceived()               { ns.received.Inc(1) }
func (ns *NetworkState) MarkSent()                   { ns.sent.Inc(1) }
func (ns *NetworkState) MarkDropped()                { ns.dropped.Inc(1) }
func (ns *NetworkState) MarkEvicted()                { ns.evicted.Inc(1) }

func (ns *NetworkState) setDegraded(v bool) (changed bool) {
	var n int32
	if v {
		n = 1
	}
	return atomic.SwapInt32(&ns.degraded, n) != n
}

func (ns *NetworkState) Degraded() bool {
	return atomic.LoadInt32(&ns.degraded) == 1
}

// NetworkStateSnapshot is a point-in-time copy of NetworkState.
type NetworkStateSnapshot struct {
	ConnectedPeers   int64         `json:"connected_peers"`
	ActiveValidators int64         `json:"active_validators"`
	AverageLatency   time.Duration `json:"average_latency"`
	MessagesReceived int64         `json:"messages_received"`
	MessagesSent     int64         `json:"messages_sent"`
	MessagesDropped  int64         `json:"messages_dropped"`
	PeersEvicted     int64         `json:"peers_evicted"`
	Degraded         bool          `json:"degraded"`
}

func (ns *NetworkState) Snapshot() NetworkStateSnapshot {
	return NetworkStateSnapshot{
		ConnectedPeers:   ns.connectedPeers.Value(),
		ActiveValidators: ns.activeValidators.Value(),
		AverageLatency:   time.Duration(ns.latency.Mean()),
		MessagesReceived: ns.received.Count(),
		MessagesSent:     ns.sent.Count(),
		MessagesDropped:  ns.dropped.Count(),
		PeersEvicted:     ns.evicted.Count(),
		Degraded:         ns.Degraded(),
	}
}

func (ns *NetworkState) JSONString() string {
	s, _ := jsoniter.MarshalToString(ns.Snapshot())
	return s
}
