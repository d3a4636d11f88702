package rpc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	cfg "segchain/config"
	"segchain/consensus"
	"segchain/crypto"
	"segchain/ledger"
	"segchain/libs/metric"
	"segchain/mempool"
	"segchain/p2p"
	"segchain/types"
)

type fakeNode struct {
	mem       *mempool.PriorityMempool
	submitted []*types.Tx
	reject    error
}

func (fn *fakeNode) SubmitTransaction(tx *types.Tx, priority int) error {
	if fn.reject != nil {
		return fn.reject
	}
	fn.submitted = append(fn.submitted, tx)
	return fn.mem.CheckTx(tx, mempool.TxInfo{Priority: priority})
}

func (fn *fakeNode) NodeState() types.NodeState {
	return types.NodeState{Running: true, Validating: true}
}

type account struct {
	priv, pub []byte
	addr      string
}

func newAccount(t *testing.T, p crypto.Provider) account {
	priv, pub, err := p.GenKeyPair()
	require.NoError(t, err)
	return account{priv: priv, pub: pub, addr: p.DeriveAddress(pub)}
}

func newTestEnv(t *testing.T, p crypto.Provider, allocs map[string]uint64) (*Environment, *fakeNode) {
	config := cfg.TestConfig()
	genDoc := &types.GenesisDoc{ChainID: "rpc-test", GenesisTime: time.Unix(1600000000, 0).UTC()}
	for addr, amount := range allocs {
		genDoc.Allocations = append(genDoc.Allocations, types.GenesisAllocation{Address: addr, Amount: amount})
	}
	l, err := ledger.NewLedger(genDoc, config.Ledger, p)
	require.NoError(t, err)

	mem := mempool.NewPriorityMempool(config.Mempool)
	pool := consensus.NewValidatorPool()
	cm := consensus.NewConsensusManager(config.Consensus, pool, p)

	priv, _, err := p.GenKeyPair()
	require.NoError(t, err)
	network, err := p2p.NewNetwork(config.P2P, p, priv, p2p.NewInmemTransport("", config.P2P.InboxSize))
	require.NoError(t, err)
	network.SetLogger(log.TestingLogger())

	ms := metric.NewMetricSet()
	require.NoError(t, ms.SetMetrics("mempool", mem.Stats()))
	require.NoError(t, ms.SetMetrics("p2p", network.Stats()))

	fn := &fakeNode{mem: mem}
	return &Environment{
		Ledger:    l,
		Mempool:   mem,
		Consensus: cm,
		Network:   network,
		MetricSet: ms,
		Node:      fn,
	}, fn
}

func signedTransfer(t *testing.T, p crypto.Provider, from, to account, amount uint64) *types.Tx {
	tx := types.NewFinancialTx(from.addr, from.pub, to.addr, amount)
	require.NoError(t, tx.Sign(p, from.priv))
	return tx
}

func TestChainRoutes(t *testing.T) {
	p := crypto.NewKyberProvider()
	a, b := newAccount(t, p), newAccount(t, p)
	env, _ := newTestEnv(t, p, map[string]uint64{a.addr: 100})
	ctx := &rpctypes.Context{}

	block := env.Ledger.CreateBlock(types.Txs{signedTransfer(t, p, a, b, 40)})
	require.NoError(t, env.Ledger.Append(block))

	info, err := env.ChainInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rpc-test", info.ChainID)
	assert.Equal(t, int64(1), info.Height)
	assert.Equal(t, block.Hash, info.HeadHash)
	assert.True(t, info.Valid)

	bal, err := env.Balance(ctx, b.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), bal.Balance)
	_, err = env.Balance(ctx, "")
	assert.Error(t, err)

	got, err := env.Block(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, block.Hash, got.Hash)
	_, err = env.Block(ctx, 2)
	assert.Error(t, err)

	chain, err := env.BlockchainInfo(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), chain.LastHeight)
	assert.Len(t, chain.Blocks, 2)
	_, err = env.BlockchainInfo(ctx, 2, 1)
	assert.Error(t, err)
}

func TestBlockchainInfoCapsRange(t *testing.T) {
	p := crypto.NewKyberProvider()
	env, _ := newTestEnv(t, p, nil)
	for i := 0; i < maxBlockchainRange+5; i++ {
		require.NoError(t, env.Ledger.Append(env.Ledger.CreateBlock(nil)))
	}

	res, err := env.BlockchainInfo(&rpctypes.Context{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, res.Blocks, maxBlockchainRange)
	assert.Equal(t, env.Ledger.Height(), res.Blocks[len(res.Blocks)-1].Index)
}

func TestBroadcastTx(t *testing.T) {
	p := crypto.NewKyberProvider()
	a, b := newAccount(t, p), newAccount(t, p)
	env, fn := newTestEnv(t, p, map[string]uint64{a.addr: 100})
	ctx := &rpctypes.Context{}

	tx := signedTransfer(t, p, a, b, 10)
	raw, err := json.MarshalToString(tx)
	require.NoError(t, err)

	res, err := env.BroadcastTx(ctx, raw, 3)
	require.NoError(t, err)
	assert.Equal(t, types.CodeOK, res.Code)
	assert.Equal(t, tx.Hash, res.Hash)
	require.Len(t, fn.submitted, 1)

	pending, err := env.UnconfirmedTxs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, pending.Total)
	assert.Equal(t, 3, pending.Txs[0].Priority)

	fn.reject = errors.New("nope")
	res, err = env.BroadcastTx(ctx, raw, 0)
	require.NoError(t, err)
	assert.Equal(t, types.CodeValidationError, res.Code)
	assert.Equal(t, "nope", res.Log)

	_, err = env.BroadcastTx(ctx, "{not json", 0)
	assert.Error(t, err)
}

func TestInfoRoutes(t *testing.T) {
	p := crypto.NewKyberProvider()
	env, _ := newTestEnv(t, p, nil)
	ctx := &rpctypes.Context{}

	net, err := env.NetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.Network.NodeID(), net.NodeID)
	assert.Empty(t, net.Peers)

	state, err := env.NodeState(ctx)
	require.NoError(t, err)
	assert.True(t, state.Running)

	vals, err := env.Validators(ctx)
	require.NoError(t, err)
	assert.Empty(t, vals.Validators)

	history, err := env.ConsensusHistory(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, history.Rounds)
	_, err = env.ConsensusHistory(ctx, -1)
	assert.Error(t, err)

	metrics, err := env.JSONMetrics(ctx, "")
	require.NoError(t, err)
	assert.Len(t, metrics.Metrics, 2)
	metrics, err = env.JSONMetrics(ctx, "p2p")
	require.NoError(t, err)
	assert.Contains(t, metrics.Metrics, "p2p")
	_, err = env.JSONMetrics(ctx, "missing")
	assert.Error(t, err)

	assert.Len(t, env.GetRoutes(), 11)
}
