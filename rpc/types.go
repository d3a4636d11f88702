package rpc

import (
	cstypes "segchain/consensus/types"
	"segchain/mempool"
	"segchain/p2p"
	"segchain/types"
)

type ResultChainInfo struct {
	ChainID    string `json:"chain_id"`
	Height     int64  `json:"height"`
	HeadHash   string `json:"head_hash"`
	Difficulty int    `json:"difficulty"`
	Valid      bool   `json:"valid"`
}

type ResultBalance struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}

type ResultBlockchainInfo struct {
	LastHeight int64            `json:"last_height"`
	Blocks     []*types.Block `json:"blocks"`
}

type ResultUnconfirmedTxs struct {
	Count int             `json:"n_txs"`
	Total int             `json:"total"`
	Txs   []mempool.Entry `json:"txs"`
}

type ResultValidators struct {
	Validators []*types.Validator `json:"validators"`
}

type ResultConsensusHistory struct {
	Rounds []*cstypes.Round `json:"rounds"`
}

type ResultNetInfo struct {
	NodeID     string                   `json:"node_id"`
	ListenAddr string                   `json:"listen_addr"`
	Peers      []*p2p.Peer              `json:"peers"`
	State      p2p.NetworkStateSnapshot `json:"state"`
}

// ResultBroadcastTx reports the admission outcome. A rejected tx carries a
// non-zero Code and the reason in Log.
type ResultBroadcastTx struct {
	Hash string `json:"hash"`
	Code int    `json:"code"`
	Log  string `json:"log,omitempty"`
}

type ResultMetrics struct {
	Metrics map[string]string `json:"metrics"`
}
