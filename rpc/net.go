package rpc

import (
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"segchain/types"
)

func (env *Environment) NetInfo(ctx *rpctypes.Context) (*ResultNetInfo, error) {
	return &ResultNetInfo{
		NodeID:     env.Network.NodeID(),
		ListenAddr: env.Network.ListenAddr(),
		Peers:      env.Network.Peers(),
		State:      env.Network.State(),
	}, nil
}

func (env *Environment) NodeState(ctx *rpctypes.Context) (*types.NodeState, error) {
	state := env.Node.NodeState()
	return &state, nil
}
