package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	jsonrpc "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"segchain/crypto"
	"segchain/types"
	"segchain/wallet"
)

func newTestTransacter(t *testing.T) *transacter {
	tr := newTransacter("127.0.0.1:0", 1, 1, 2, 4)
	p := crypto.NewKyberProvider()
	for i := 0; i < tr.Accounts; i++ {
		w, err := wallet.NewWallet(p)
		require.NoError(t, err)
		tr.wallets = append(tr.wallets, w)
	}
	return tr
}

func TestNextRequest(t *testing.T) {
	tr := newTestTransacter(t)

	req, err := tr.nextRequest(rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, "broadcast_tx", req.Method)
	assert.Equal(t, jsonrpc.JSONRPCIntID(1), req.ID)

	var params map[string]string
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, "4", params["priority"])

	var tx types.Tx
	require.NoError(t, json.UnmarshalFromString(params["tx"], &tx))
	assert.Equal(t, types.TxMessage, tx.Type)
	assert.NotEqual(t, tx.Sender, tx.Recipient)
	assert.NoError(t, tx.Check(crypto.NewKyberProvider()))
}

func TestRecordAnswers(t *testing.T) {
	tr := newTestTransacter(t)
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 3; i++ {
		_, err := tr.nextRequest(rng)
		require.NoError(t, err)
	}

	tr.record(jsonrpc.NewRPCSuccessResponse(jsonrpc.JSONRPCIntID(1), struct {
		Code int `json:"code"`
	}{0}))
	tr.record(jsonrpc.NewRPCSuccessResponse(jsonrpc.JSONRPCIntID(2), struct {
		Code int `json:"code"`
	}{1}))
	// unknown ids are ignored
	tr.record(jsonrpc.NewRPCErrorResponse(jsonrpc.JSONRPCIntID(9), -32603, "internal", ""))

	r := tr.Report()
	assert.Equal(t, 1, r.Accepted)
	assert.Equal(t, 1, r.Rejected)
	assert.Equal(t, 1, r.Pending)
	assert.True(t, r.Min >= 0)
	assert.True(t, r.Max >= r.Min)
}
