package rpc

import rpc "github.com/tendermint/tendermint/rpc/jsonrpc/server"

// GetRoutes returns the JSON-RPC routes served for env.
func (env *Environment) GetRoutes() map[string]*rpc.RPCFunc {
	return map[string]*rpc.RPCFunc{
		// info API
		"chain_info":        rpc.NewRPCFunc(env.ChainInfo, ""),
		"balance":           rpc.NewRPCFunc(env.Balance, "address"),
		"block":             rpc.NewRPCFunc(env.Block, "height"),
		"blockchain":        rpc.NewRPCFunc(env.BlockchainInfo, "minHeight,maxHeight"),
		"mempool":           rpc.NewRPCFunc(env.UnconfirmedTxs, "limit"),
		"validators":        rpc.NewRPCFunc(env.Validators, ""),
		"consensus_history": rpc.NewRPCFunc(env.ConsensusHistory, "limit"),
		"net_info":          rpc.NewRPCFunc(env.NetInfo, ""),
		"node_state":        rpc.NewRPCFunc(env.NodeState, ""),
		"metrics":           rpc.NewRPCFunc(env.JSONMetrics, "label"),

		// tx API
		"broadcast_tx": rpc.NewRPCFunc(env.BroadcastTx, "tx,priority"),
	}
}
