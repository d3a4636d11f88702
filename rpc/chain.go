package rpc

import (
	"fmt"

	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"segchain/types"
)

// most blocks returned by one blockchain call
const maxBlockchainRange = 20

func (env *Environment) ChainInfo(ctx *rpctypes.Context) (*ResultChainInfo, error) {
	head := env.Ledger.Head()
	return &ResultChainInfo{
		ChainID:    env.Ledger.ChainID(),
		Height:     head.Index,
		HeadHash:   head.Hash,
		Difficulty: env.Ledger.Difficulty(),
		Valid:      env.Ledger.IsChainValid(),
	}, nil
}

func (env *Environment) Balance(ctx *rpctypes.Context, address string) (*ResultBalance, error) {
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}
	return &ResultBalance{Address: address, Balance: env.Ledger.GetBalance(address)}, nil
}

// Block returns the block at height.
func (env *Environment) Block(ctx *rpctypes.Context, height int64) (*types.Block, error) {
	block, ok := env.Ledger.Block(height)
	if !ok {
		return nil, fmt.Errorf("height %d must be less than or equal to the current blockchain height %d",
			height, env.Ledger.Height())
	}
	return block, nil
}

// BlockchainInfo returns blocks minHeight..maxHeight. A zero maxHeight means
// the head; at most maxBlockchainRange blocks ending at maxHeight are returned.
func (env *Environment) BlockchainInfo(ctx *rpctypes.Context, minHeight, maxHeight int64) (*ResultBlockchainInfo, error) {
	last := env.Ledger.Height()
	if maxHeight <= 0 || maxHeight > last {
		maxHeight = last
	}
	if minHeight < 0 {
		return nil, fmt.Errorf("minHeight can't be negative")
	}
	if minHeight > maxHeight {
		return nil, fmt.Errorf("minHeight %d is greater than maxHeight %d", minHeight, maxHeight)
	}
	if maxHeight-minHeight >= maxBlockchainRange {
		minHeight = maxHeight - maxBlockchainRange + 1
	}
	return &ResultBlockchainInfo{
		LastHeight: last,
		Blocks:     env.Ledger.Blocks(minHeight, maxHeight),
	}, nil
}

func (env *Environment) Validators(ctx *rpctypes.Context) (*ResultValidators, error) {
	return &ResultValidators{Validators: env.Consensus.Validators().Validators()}, nil
}

// ConsensusHistory returns the last limit rounds; zero returns every round.
func (env *Environment) ConsensusHistory(ctx *rpctypes.Context, limit int) (*ResultConsensusHistory, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit can't be negative")
	}
	return &ResultConsensusHistory{Rounds: env.Consensus.History(limit)}, nil
}
