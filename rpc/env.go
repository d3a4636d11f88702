package rpc

import (
	jsoniter "github.com/json-iterator/go"

	"segchain/consensus"
	"segchain/ledger"
	"segchain/libs/metric"
	"segchain/mempool"
	"segchain/p2p"
	"segchain/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Node is the part of a running node the routes submit to.
type Node interface {
	SubmitTransaction(tx *types.Tx, priority int) error
	NodeState() types.NodeState
}

// Environment holds what the route handlers read from. Routes are methods on
// it, so several nodes can serve RPC from one process.
type Environment struct {
	Ledger    *ledger.Ledger
	Mempool   *mempool.PriorityMempool
	Consensus *consensus.ConsensusManager
	Network   *p2p.Network
	MetricSet *metric.MetricSet
	Node      Node
}
