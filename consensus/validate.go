package consensus

import (
	"github.com/pkg/errors"

	"segchain/crypto"
	"segchain/types"
)

// ValidateBlock is a validator's verdict on block. It re-applies the
// structural and signature checks every validator shares, then the rules of
// the validator's type. A nil error is an approving vote.
func ValidateBlock(val *types.Validator, block *types.Block, p crypto.Provider) error {
	if err := block.ValidateBasic(p); err != nil {
		return err
	}
	for i, tx := range block.Txs {
		if err := tx.Verify(p); err != nil {
			return errors.Wrapf(err, "tx #%d", i)
		}
	}

	switch val.Type {
	case types.MessageValidator:
		if block.Txs.HasType(types.TxFinancial) {
			return errors.Wrap(types.ErrStructural, "message validator can't approve financial transactions")
		}
		return nil
	case types.FinancialValidator, types.HybridValidator:
		return validateFinancial(block.Txs)
	default:
		return errors.Wrapf(types.ErrStructural, "unknown validator type %q", val.Type)
	}
}

// validateFinancial applies the extra scrutiny financial validators give
// value transfers: per-sender totals must not overflow.
func validateFinancial(txs types.Txs) error {
	totals := make(map[string]uint64)
	for _, tx := range txs {
		if tx.Type != types.TxFinancial {
			continue
		}
		sum := totals[tx.Sender] + tx.Amount
		if sum < totals[tx.Sender] {
			return errors.Wrapf(types.ErrStructural, "amounts sent by %s overflow", tx.Sender)
		}
		totals[tx.Sender] = sum
	}
	return nil
}
