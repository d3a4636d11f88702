package rpc

import (
	"github.com/pkg/errors"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"segchain/types"
)

// BroadcastTx decodes a JSON transaction and hands it to the node, which
// stages and gossips it.
func (env *Environment) BroadcastTx(ctx *rpctypes.Context, tx string, priority int) (*ResultBroadcastTx, error) {
	var t types.Tx
	if err := json.UnmarshalFromString(tx, &t); err != nil {
		return nil, errors.Wrap(err, "decode tx")
	}
	if err := env.Node.SubmitTransaction(&t, priority); err != nil {
		return &ResultBroadcastTx{Hash: t.Hash, Code: types.ErrorCode(err), Log: err.Error()}, nil
	}
	return &ResultBroadcastTx{Hash: t.Hash, Code: types.CodeOK}, nil
}

// UnconfirmedTxs lists up to limit staged transactions in selection order.
func (env *Environment) UnconfirmedTxs(ctx *rpctypes.Context, limit int) (*ResultUnconfirmedTxs, error) {
	entries := env.Mempool.Entries()
	total := len(entries)
	if limit > 0 && limit < total {
		entries = entries[:limit]
	}
	return &ResultUnconfirmedTxs{Count: len(entries), Total: total, Txs: entries}, nil
}
