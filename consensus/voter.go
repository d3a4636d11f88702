package consensus

import (
	"context"

	"segchain/crypto"
	"segchain/types"
)

// Voter obtains one validator's vote on a block. Implementations must return
// once ctx is done.
type Voter interface {
	Vote(ctx context.Context, val *types.Validator, block *types.Block) (bool, error)
}

// VoterFunc adapts a function to the Voter interface.
type VoterFunc func(ctx context.Context, val *types.Validator, block *types.Block) (bool, error)

func (f VoterFunc) Vote(ctx context.Context, val *types.Validator, block *types.Block) (bool, error) {
	return f(ctx, val, block)
}

// LocalVoter evaluates ValidateBlock in-process.
type LocalVoter struct {
	crypto crypto.Provider
}

var _ Voter = (*LocalVoter)(nil)

func NewLocalVoter(p crypto.Provider) *LocalVoter {
	return &LocalVoter{crypto: p}
}

// Vote approves when ValidateBlock passes. The rejection reason is returned
// as the error.
func (lv *LocalVoter) Vote(ctx context.Context, val *types.Validator, block *types.Block) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateBlock(val, block, lv.crypto); err != nil {
		return false, err
	}
	return true, nil
}
