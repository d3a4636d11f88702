package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tm-db/memdb"

	cfg "segchain/config"
	"segchain/crypto"
	"segchain/ledger"
	"segchain/p2p"
	"segchain/privval"
	"segchain/store"
	"segchain/types"
	"segchain/wallet"
)

var genesisTime = time.Unix(1600000000, 0).UTC()

func newTestGenesis(allocs map[string]uint64) *types.GenesisDoc {
	doc := &types.GenesisDoc{ChainID: "node-test", GenesisTime: genesisTime}
	for addr, amount := range allocs {
		doc.Allocations = append(doc.Allocations, types.GenesisAllocation{Address: addr, Amount: amount})
	}
	return doc
}

func financialValidator(address, peerID string) types.GenesisValidator {
	return types.GenesisValidator{
		Address:  address,
		Type:     types.FinancialValidator,
		Stake:    1000,
		Hardware: types.HardwareRequirements(types.FinancialValidator),
		PeerID:   peerID,
	}
}

func genFilePV(t *testing.T, p crypto.Provider) *privval.FilePV {
	priv, _, err := p.GenKeyPair()
	require.NoError(t, err)
	pv, err := privval.NewFilePV(p, priv, "")
	require.NoError(t, err)
	return pv
}

func testConfig() *cfg.Config {
	return cfg.TestConfig()
}

func newTestNode(
	t *testing.T,
	p crypto.Provider,
	config *cfg.Config,
	pv *privval.FilePV,
	genDoc *types.GenesisDoc,
	options ...Option,
) (*Node, *p2p.InmemTransport) {
	transport := p2p.NewInmemTransport("", config.P2P.InboxSize)
	options = append([]Option{WithTransport(transport)}, options...)
	n, err := NewNode(config, p, pv, genDoc, log.TestingLogger(), options...)
	require.NoError(t, err)
	return n, transport
}

func startNode(t *testing.T, n *Node) func() {
	require.NoError(t, n.Start())
	return func() { require.NoError(t, n.Stop()) }
}

func connect(t *testing.T, a, b *Node, ta, tb *p2p.InmemTransport) {
	p2p.ConnectAll(ta, tb)
	_, err := a.Network().Connect(context.Background(), tb.LocalAddr())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return a.Network().NumPeers() == 1 && b.Network().NumPeers() == 1
	}, time.Second, 10*time.Millisecond)
}

func mustWallet(t *testing.T, p crypto.Provider) *wallet.Wallet {
	w, err := wallet.NewWallet(p)
	require.NoError(t, err)
	return w
}

func TestNodeValidatesTransfer(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	p := crypto.NewKyberProvider()
	a, b := mustWallet(t, p), mustWallet(t, p)
	pv := genFilePV(t, p)

	genDoc := newTestGenesis(map[string]uint64{a.Address(): 100})
	genDoc.Validators = []types.GenesisValidator{financialValidator(pv.GetAddress(), "")}

	n, _ := newTestNode(t, p, testConfig(), pv, genDoc)
	stop := startNode(t, n)
	defer stop()

	tx, err := a.CreateTransaction(b.Address(), 50, n.Ledger().GetBalance(a.Address()))
	require.NoError(t, err)
	require.NoError(t, n.SubmitTransaction(tx, 0))

	require.Eventually(t, func() bool { return n.Ledger().Len() == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(50), n.Ledger().GetBalance(a.Address()))
	assert.Equal(t, uint64(50), n.Ledger().GetBalance(b.Address()))
	assert.Equal(t, 0, n.Mempool().Size())

	rounds := n.Consensus().History(0)
	require.Len(t, rounds, 1)
	assert.True(t, rounds[0].Accepted)
	assert.Equal(t, types.FinancialPool, rounds[0].Pool)

	state := n.NodeState()
	assert.True(t, state.Running)
	assert.True(t, state.Validating)
	assert.Equal(t, int64(1), state.LastBlockHeight)
}

func TestNodeRejectsInvalidTransaction(t *testing.T) {
	p := crypto.NewKyberProvider()
	a, b := mustWallet(t, p), mustWallet(t, p)
	pv := genFilePV(t, p)
	n, _ := newTestNode(t, p, testConfig(), pv, newTestGenesis(map[string]uint64{a.Address(): 100}))

	tx, err := a.CreateTransaction(b.Address(), 10, 100)
	require.NoError(t, err)
	tx.Amount = 20

	err = n.SubmitTransaction(tx, 0)
	var invalid ErrInvalidTransaction
	require.True(t, errors.As(err, &invalid), "got %v", err)
	assert.True(t, errors.Is(err, types.ErrStructural))

	reward := types.NewRewardTx(a.Address(), 5, p)
	assert.True(t, errors.As(n.SubmitTransaction(reward, 0), &invalid))
	assert.Equal(t, 0, n.Mempool().Size())
}

func TestNodeRejectsMalformedRecipient(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	p := crypto.NewKyberProvider()
	a, b := mustWallet(t, p), mustWallet(t, p)
	pv := genFilePV(t, p)
	genDoc := newTestGenesis(map[string]uint64{a.Address(): 100})
	genDoc.Validators = []types.GenesisValidator{financialValidator(pv.GetAddress(), "")}

	n, _ := newTestNode(t, p, testConfig(), pv, genDoc)
	stop := startNode(t, n)
	defer stop()

	// correctly signed, but the funds would go to a name no key can spend from
	bad, err := a.CreateTransaction("bob", 10, 100)
	require.NoError(t, err)
	err = n.SubmitTransaction(bad, 0)
	var invalid ErrInvalidTransaction
	require.True(t, errors.As(err, &invalid), "got %v", err)
	assert.True(t, errors.Is(err, types.ErrStructural))
	assert.False(t, n.Mempool().Has(bad.Hash))

	good, err := a.CreateTransaction(b.Address(), 50, 100)
	require.NoError(t, err)
	require.NoError(t, n.SubmitTransaction(good, 0))

	require.Eventually(t, func() bool { return n.Ledger().Len() == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(50), n.Ledger().GetBalance(a.Address()))
	assert.Equal(t, uint64(50), n.Ledger().GetBalance(b.Address()))
	assert.Equal(t, uint64(0), n.Ledger().GetBalance("bob"))
}

func TestNodeSkipsUnaffordableTransfers(t *testing.T) {
	p := crypto.NewKyberProvider()
	a, b := mustWallet(t, p), mustWallet(t, p)
	pv := genFilePV(t, p)
	n, _ := newTestNode(t, p, testConfig(), pv, newTestGenesis(map[string]uint64{a.Address(): 100}))

	first, err := a.CreateTransaction(b.Address(), 60, 100)
	require.NoError(t, err)
	second, err := a.CreateTransaction(b.Address(), 50, 100)
	require.NoError(t, err)
	require.NoError(t, n.SubmitTransaction(first, 2))
	require.NoError(t, n.SubmitTransaction(second, 1))

	selected := n.selectTxs()
	require.Len(t, selected, 1)
	assert.Equal(t, first.Hash, selected[0].Hash)
	assert.Equal(t, 2, n.Mempool().Size())
}

func TestNodeSelectsPastUnaffordableTransfers(t *testing.T) {
	p := crypto.NewKyberProvider()
	a, b, broke := mustWallet(t, p), mustWallet(t, p), mustWallet(t, p)
	pv := genFilePV(t, p)

	config := testConfig()
	config.Node.MinTxsPerBlock = 1
	config.Node.MaxTxsPerBlock = 2
	n, _ := newTestNode(t, p, config, pv, newTestGenesis(map[string]uint64{a.Address(): 100}))

	// more unaffordable txs than fit in a block, all ahead of the funded ones
	for i := 0; i < 3; i++ {
		tx, err := broke.CreateTransaction(b.Address(), uint64(i+1), 100)
		require.NoError(t, err)
		require.NoError(t, n.SubmitTransaction(tx, 10))
	}
	first, err := a.CreateTransaction(b.Address(), 30, 100)
	require.NoError(t, err)
	second, err := a.CreateTransaction(b.Address(), 20, 100)
	require.NoError(t, err)
	third, err := a.CreateTransaction(b.Address(), 10, 100)
	require.NoError(t, err)
	require.NoError(t, n.SubmitTransaction(first, 3))
	require.NoError(t, n.SubmitTransaction(second, 2))
	require.NoError(t, n.SubmitTransaction(third, 1))

	selected := n.selectTxs()
	require.Len(t, selected, 2)
	assert.Equal(t, first.Hash, selected[0].Hash)
	assert.Equal(t, second.Hash, selected[1].Hash)
	assert.Equal(t, 6, n.Mempool().Size())
}

func TestNodeSuspendsWhenDegraded(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	p := crypto.NewKyberProvider()
	a, b := mustWallet(t, p), mustWallet(t, p)
	pv := genFilePV(t, p)
	genDoc := newTestGenesis(map[string]uint64{a.Address(): 100})
	genDoc.Validators = []types.GenesisValidator{financialValidator(pv.GetAddress(), "")}

	config := testConfig()
	config.P2P.MinPeers = 1
	n, _ := newTestNode(t, p, config, pv, genDoc)
	stop := startNode(t, n)
	defer stop()

	tx, err := a.CreateTransaction(b.Address(), 50, 100)
	require.NoError(t, err)
	require.NoError(t, n.SubmitTransaction(tx, 0))

	block, err := n.validationCycle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, block)
	assert.Equal(t, 1, n.Ledger().Len())
	assert.True(t, n.NodeState().Degraded)
	assert.Equal(t, 1, n.Mempool().Size())
}

func TestNodeGossipAndBlockPropagation(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	p := crypto.NewKyberProvider()
	a, b := mustWallet(t, p), mustWallet(t, p)
	pv1, pv2 := genFilePV(t, p), genFilePV(t, p)

	genDoc := newTestGenesis(map[string]uint64{a.Address(): 100})
	genDoc.Validators = []types.GenesisValidator{financialValidator(pv1.GetAddress(), pv1.GetAddress())}

	follower := testConfig()
	follower.Node.Validating = false

	n1, t1 := newTestNode(t, p, testConfig(), pv1, genDoc)
	n2, t2 := newTestNode(t, p, follower, pv2, genDoc)
	defer startNode(t, n1)()
	defer startNode(t, n2)()
	connect(t, n1, n2, t1, t2)

	tx, err := a.CreateTransaction(b.Address(), 50, 100)
	require.NoError(t, err)
	// submitted to the non-validating node, authored by the other one
	require.NoError(t, n2.SubmitTransaction(tx, 0))

	require.Eventually(t, func() bool {
		return n1.Ledger().Len() == 2 && n2.Ledger().Len() == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, n1.Ledger().Head().Hash, n2.Ledger().Head().Hash)
	assert.Equal(t, uint64(50), n2.Ledger().GetBalance(b.Address()))
	assert.Eventually(t, func() bool { return n2.Mempool().Size() == 0 }, time.Second, 10*time.Millisecond)
}

func TestNodeSyncsFromLongerPeer(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	p := crypto.NewKyberProvider()
	a, b := mustWallet(t, p), mustWallet(t, p)
	pv1, pv2 := genFilePV(t, p), genFilePV(t, p)

	genDoc := newTestGenesis(map[string]uint64{a.Address(): 100})
	genDoc.Validators = []types.GenesisValidator{financialValidator(pv1.GetAddress(), "")}

	follower := testConfig()
	follower.Node.Validating = false

	n1, t1 := newTestNode(t, p, testConfig(), pv1, genDoc)
	n2, t2 := newTestNode(t, p, follower, pv2, genDoc)
	defer startNode(t, n1)()
	defer startNode(t, n2)()

	for i := 0; i < 3; i++ {
		tx, err := a.CreateTransaction(b.Address(), 10, n1.Ledger().GetBalance(a.Address()))
		require.NoError(t, err)
		require.NoError(t, n1.SubmitTransaction(tx, 0))
		want := i + 2
		require.Eventually(t, func() bool { return n1.Ledger().Len() == want }, 3*time.Second, 10*time.Millisecond)
	}
	assert.Equal(t, 1, n2.Ledger().Len())

	connect(t, n1, n2, t1, t2)
	require.Eventually(t, func() bool {
		return n2.Ledger().Height() == 3
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, n1.Ledger().Head().Hash, n2.Ledger().Head().Hash)
	assert.Equal(t, uint64(70), n2.Ledger().GetBalance(a.Address()))
	assert.False(t, n2.NodeState().Syncing)
}

func TestNodeCollectsRemoteVote(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	p := crypto.NewKyberProvider()
	a, b := mustWallet(t, p), mustWallet(t, p)
	pv1, pv2 := genFilePV(t, p), genFilePV(t, p)

	// the only validator lives on n2, so n1 can only author with its vote
	genDoc := newTestGenesis(map[string]uint64{a.Address(): 100})
	genDoc.Validators = []types.GenesisValidator{financialValidator(pv2.GetAddress(), pv2.GetAddress())}

	follower := testConfig()
	follower.Node.Validating = false

	n1, t1 := newTestNode(t, p, testConfig(), pv1, genDoc)
	n2, t2 := newTestNode(t, p, follower, pv2, genDoc)
	defer startNode(t, n1)()
	defer startNode(t, n2)()
	connect(t, n1, n2, t1, t2)

	tx, err := a.CreateTransaction(b.Address(), 50, 100)
	require.NoError(t, err)
	block, err := n1.ProposeBlock(context.Background(), types.Txs{tx})
	require.NoError(t, err)
	assert.Equal(t, int64(1), block.Index)

	rounds := n1.Consensus().History(0)
	require.Len(t, rounds, 1)
	assert.Equal(t, map[string]bool{pv2.GetAddress(): true}, rounds[0].Votes)

	require.Eventually(t, func() bool { return n2.Ledger().Len() == 2 }, time.Second, 10*time.Millisecond)
}

func TestNodeRemoteVoteRejectsBadBlock(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	p := crypto.NewKyberProvider()
	pv1, pv2 := genFilePV(t, p), genFilePV(t, p)

	genDoc := newTestGenesis(nil)
	genDoc.Validators = []types.GenesisValidator{{
		Address:  pv2.GetAddress(),
		Type:     types.MessageValidator,
		Stake:    1000,
		Hardware: types.HardwareRequirements(types.MessageValidator),
		PeerID:   pv2.GetAddress(),
	}}

	follower := testConfig()
	follower.Node.Validating = false

	n1, t1 := newTestNode(t, p, testConfig(), pv1, genDoc)
	n2, t2 := newTestNode(t, p, follower, pv2, genDoc)
	defer startNode(t, n1)()
	defer startNode(t, n2)()
	connect(t, n1, n2, t1, t2)

	block := n1.Ledger().CreateBlock(nil)
	block.Hash = "not-the-hash"
	approve, err := n1.voter.Vote(context.Background(), n1.Validators().Validators()[0], block)
	assert.False(t, approve)
	assert.Error(t, err)
}

func TestNodeOrphanReplay(t *testing.T) {
	p := crypto.NewKyberProvider()
	a, b := mustWallet(t, p), mustWallet(t, p)
	pv := genFilePV(t, p)
	genDoc := newTestGenesis(map[string]uint64{a.Address(): 100})

	config := testConfig()
	n, _ := newTestNode(t, p, config, pv, genDoc)

	remote, err := ledger.NewLedger(genDoc, config.Ledger, p)
	require.NoError(t, err)
	var blocks []*types.Block
	for i := 0; i < 3; i++ {
		tx, err := a.CreateTransaction(b.Address(), 10, remote.GetBalance(a.Address()))
		require.NoError(t, err)
		block := remote.CreateBlock(types.Txs{tx})
		require.NoError(t, remote.Append(block))
		blocks = append(blocks, block)
	}

	n.processBlock(blocks[2], "peer")
	n.processBlock(blocks[1], "peer")
	assert.Equal(t, 2, n.orphans.Size())
	assert.Equal(t, 1, n.Ledger().Len())

	n.processBlock(blocks[0], "peer")
	assert.Equal(t, 0, n.orphans.Size())
	assert.Equal(t, 4, n.Ledger().Len())
	assert.Equal(t, remote.Head().Hash, n.Ledger().Head().Hash)

	// stale blocks are dropped
	n.processBlock(blocks[0], "peer")
	assert.Equal(t, 4, n.Ledger().Len())
}

func TestNodeAdoptsLongerFork(t *testing.T) {
	p := crypto.NewKyberProvider()
	a, b := mustWallet(t, p), mustWallet(t, p)
	pv := genFilePV(t, p)
	genDoc := newTestGenesis(map[string]uint64{a.Address(): 100})

	config := testConfig()
	n, _ := newTestNode(t, p, config, pv, genDoc)
	local, err := a.CreateTransaction(b.Address(), 1, 100)
	require.NoError(t, err)
	require.NoError(t, n.Ledger().Append(n.Ledger().CreateBlock(types.Txs{local})))

	remote, err := ledger.NewLedger(genDoc, config.Ledger, p)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		tx, err := a.CreateTransaction(b.Address(), 10, remote.GetBalance(a.Address()))
		require.NoError(t, err)
		require.NoError(t, remote.Append(remote.CreateBlock(types.Txs{tx})))
	}

	// same height as our next block on another parent: buffered as an orphan
	next, ok := remote.Block(2)
	require.True(t, ok)
	n.processBlock(next, "peer")
	assert.Equal(t, 1, n.orphans.Size())

	n.adoptChain(remote.Blocks(0, remote.Height()), "peer")
	assert.Equal(t, remote.Head().Hash, n.Ledger().Head().Hash)
	assert.Equal(t, uint64(80), n.Ledger().GetBalance(a.Address()))

	// the transfer only our abandoned block carried is staged again
	_, confirmed := n.Ledger().TxIncluded(local.Hash)
	assert.False(t, confirmed)
	assert.True(t, n.Mempool().Has(local.Hash))
	assert.Equal(t, 1, n.Mempool().Size())

	// a shorter chain is ignored
	n.adoptChain(remote.Blocks(0, 1), "peer")
	assert.Equal(t, int64(2), n.Ledger().Height())
}

func TestNodeContracts(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	p := crypto.NewKyberProvider()
	pv1, pv2 := genFilePV(t, p), genFilePV(t, p)
	genDoc := newTestGenesis(nil)

	n1, t1 := newTestNode(t, p, testConfig(), pv1, genDoc)
	n2, t2 := newTestNode(t, p, testConfig(), pv2, genDoc)
	defer startNode(t, n1)()
	defer startNode(t, n2)()
	connect(t, n1, n2, t1, t2)

	addr, err := n1.DeployContract("CONSTRUCTOR PUSH 1 STORE")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(n2.Contracts().Contracts()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{addr}, n2.Contracts().Contracts())

	require.NoError(t, n1.Contracts().SetState(addr, "balance:"+n1.Address(), "10"))
	require.NoError(t, n2.Contracts().SetState(addr, "balance:"+n1.Address(), "10"))
	require.NoError(t, n1.ExecuteContract(addr, "transfer", []string{n1.Address(), n2.Address(), "4"}))

	require.Eventually(t, func() bool {
		v, err := n2.Contracts().State(addr, "balance:"+n2.Address())
		return err == nil && v == "4"
	}, time.Second, 10*time.Millisecond)
}

func TestNodeRestartKeepsChain(t *testing.T) {
	p := crypto.NewKyberProvider()
	a, b := mustWallet(t, p), mustWallet(t, p)
	pv := genFilePV(t, p)
	genDoc := newTestGenesis(map[string]uint64{a.Address(): 100})

	db := memdb.NewDB()
	bs, err := store.NewBlockStoreWithDB(db, log.TestingLogger())
	require.NoError(t, err)

	n, _ := newTestNode(t, p, testConfig(), pv, genDoc, WithBlockStore(bs))
	tx, err := a.CreateTransaction(b.Address(), 30, 100)
	require.NoError(t, err)
	block := n.Ledger().CreateBlock(types.Txs{tx})
	require.NoError(t, n.Ledger().Append(block))

	bs2, err := store.NewBlockStoreWithDB(db, log.TestingLogger())
	require.NoError(t, err)
	restarted, _ := newTestNode(t, p, testConfig(), pv, genDoc, WithBlockStore(bs2))
	assert.Equal(t, block.Hash, restarted.Ledger().Head().Hash)
	assert.Equal(t, uint64(30), restarted.Ledger().GetBalance(b.Address()))
}

func TestNodeMetricSet(t *testing.T) {
	p := crypto.NewKyberProvider()
	n, _ := newTestNode(t, p, testConfig(), genFilePV(t, p), newTestGenesis(nil))

	assert.Equal(t, []string{"consensus", "mempool", "node", "p2p"}, n.MetricSet().Labels())
	snap := n.MetricSet().Snapshot("node")
	assert.Contains(t, snap["node"], `"running":false`)
}
