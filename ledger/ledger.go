package ledger

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"

	"segchain/config"
	"segchain/crypto"
	"segchain/types"
)

// BlockStore is the persistence the ledger writes through to.
type BlockStore interface {
	Height() int64
	SaveBlock(*types.Block) error
	ReplaceBlocks([]*types.Block) error
	LoadBlocks() ([]*types.Block, error)
}

// Ledger is the append-only hash-linked chain plus the running balance map
// derived from it. All methods are safe for concurrent use.
type Ledger struct {
	mtx sync.RWMutex

	chainID string
	genesis *types.Block
	chain   []*types.Block

	// derived state, rebuilt together with chain
	balances map[string]uint64
	txIndex  map[string]int64
	byHash   map[string]int64

	genesisBalances map[string]uint64

	config *config.LedgerConfig
	crypto crypto.Provider
	store  BlockStore

	metrics *Metrics
	logger  log.Logger
}

type Option func(*Ledger)

func WithStore(bs BlockStore) Option {
	return func(l *Ledger) { l.store = bs }
}

func WithMetrics(metrics *Metrics) Option {
	return func(l *Ledger) { l.metrics = metrics }
}

// NewLedger creates a ledger rooted at the genesis described by genDoc. When a
// store is supplied, previously persisted blocks are replayed on top of genesis.
func NewLedger(
	genDoc *types.GenesisDoc,
	cfg *config.LedgerConfig,
	provider crypto.Provider,
	options ...Option,
) (*Ledger, error) {
	l := &Ledger{
		chainID:         genDoc.ChainID,
		genesisBalances: genDoc.Balances(),
		config:          cfg,
		crypto:          provider,
		metrics:         NopMetrics(),
		logger:          log.NewNopLogger(),
	}
	for _, option := range options {
		option(l)
	}

	l.genesis = types.MakeGenesisBlock(genDoc.GenesisTime, provider)
	l.resetLocked()

	if l.store == nil {
		return l, nil
	}
	if err := l.loadFromStore(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) SetLogger(logger log.Logger) {
	l.logger = logger
}

func (l *Ledger) loadFromStore() error {
	if l.store.Height() < 0 {
		return l.store.SaveBlock(l.genesis)
	}

	blocks, err := l.store.LoadBlocks()
	if err != nil {
		return errors.Wrap(err, "load stored blocks")
	}
	if len(blocks) == 0 || blocks[0].Hash != l.genesis.Hash {
		return errors.New("stored chain does not start at our genesis")
	}
	for _, b := range blocks[1:] {
		if err := l.validateLocked(b); err != nil {
			return errors.Wrapf(err, "replay stored block %d", b.Index)
		}
		l.applyLocked(b)
	}
	l.logger.Info("loaded ledger from store", "height", l.heightLocked())
	return nil
}

// resetLocked drops every block above genesis and restores genesis balances.
func (l *Ledger) resetLocked() {
	l.chain = []*types.Block{l.genesis}
	l.byHash = map[string]int64{l.genesis.Hash: 0}
	l.txIndex = make(map[string]int64)
	l.balances = make(map[string]uint64, len(l.genesisBalances))
	for addr, amount := range l.genesisBalances {
		l.balances[addr] = amount
	}
}

//-----------------------------------------------------------------------------
// read side

func (l *Ledger) ChainID() string { return l.chainID }

func (l *Ledger) Difficulty() int { return l.config.Difficulty }

func (l *Ledger) Genesis() *types.Block { return l.genesis }

func (l *Ledger) Head() *types.Block {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.chain[len(l.chain)-1]
}

// Height is the index of the head block.
func (l *Ledger) Height() int64 {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.heightLocked()
}

func (l *Ledger) heightLocked() int64 {
	return int64(len(l.chain) - 1)
}

// Len is the number of blocks including genesis.
func (l *Ledger) Len() int {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return len(l.chain)
}

// GetBalance returns the running balance of address.
func (l *Ledger) GetBalance(address string) uint64 {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.balances[address]
}

// Balances returns a copy of the balance map.
func (l *Ledger) Balances() map[string]uint64 {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	balances := make(map[string]uint64, len(l.balances))
	for addr, amount := range l.balances {
		balances[addr] = amount
	}
	return balances
}

func (l *Ledger) Block(index int64) (*types.Block, bool) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	if index < 0 || index >= int64(len(l.chain)) {
		return nil, false
	}
	return l.chain[index], true
}

func (l *Ledger) BlockByHash(hash string) (*types.Block, bool) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	idx, ok := l.byHash[hash]
	if !ok {
		return nil, false
	}
	return l.chain[idx], true
}

// Blocks returns the blocks with index in [from, to], clamped to the chain.
func (l *Ledger) Blocks(from, to int64) []*types.Block {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	if from < 0 {
		from = 0
	}
	if h := l.heightLocked(); to > h {
		to = h
	}
	if from > to {
		return []*types.Block{}
	}
	blocks := make([]*types.Block, to-from+1)
	copy(blocks, l.chain[from:to+1])
	return blocks
}

// TxIncluded returns the index of the block that confirmed txHash.
func (l *Ledger) TxIncluded(txHash string) (int64, bool) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	idx, ok := l.txIndex[txHash]
	return idx, ok
}

//-----------------------------------------------------------------------------
// write side

// CreateBlock builds and mines a candidate block over the current head.
func (l *Ledger) CreateBlock(txs types.Txs) *types.Block {
	head := l.Head()
	block := types.MakeBlock(head.Index+1, head.Hash, txs, l.crypto)
	l.Mine(block)
	return block
}

// Mine runs the proof-of-work search at the ledger's difficulty. It holds no lock.
func (l *Ledger) Mine(block *types.Block) {
	start := time.Now()
	block.Mine(l.crypto, l.config.Difficulty)
	l.metrics.MiningSeconds.Observe(time.Since(start).Seconds())
}

// Validate checks block against the current head without appending it.
func (l *Ledger) Validate(block *types.Block) error {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.validateLocked(block)
}

// Append validates block against the current head, appends it and replays its
// balance deltas. The first violated rule is returned.
func (l *Ledger) Append(block *types.Block) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if err := l.validateLocked(block); err != nil {
		l.metrics.RejectedBlocks.Add(1)
		return err
	}
	if l.store != nil {
		if err := l.store.SaveBlock(block); err != nil {
			return errors.Wrap(err, "persist block")
		}
	}
	l.applyLocked(block)

	l.logger.Info("appended block", "index", block.Index, "hash", block.Hash, "txs", len(block.Txs))
	return nil
}

// ReplaceChain adopts blocks when they form a valid chain from our genesis that
// is strictly longer than ours.
func (l *Ledger) ReplaceChain(blocks []*types.Block) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if len(blocks) <= len(l.chain) {
		return errors.Errorf("candidate chain of length %d is not longer than ours (%d)", len(blocks), len(l.chain))
	}
	if blocks[0].Hash != l.genesis.Hash {
		return errors.Wrap(types.ErrLink, "candidate chain has a different genesis")
	}

	old := l.chain
	oldBalances, oldTxIndex, oldByHash := l.balances, l.txIndex, l.byHash

	l.resetLocked()
	for _, b := range blocks[1:] {
		if err := l.validateLocked(b); err != nil {
			l.chain, l.balances, l.txIndex, l.byHash = old, oldBalances, oldTxIndex, oldByHash
			return errors.Wrapf(err, "candidate block %d", b.Index)
		}
		l.applyLocked(b)
	}

	if l.store != nil {
		if err := l.store.ReplaceBlocks(l.chain); err != nil {
			l.chain, l.balances, l.txIndex, l.byHash = old, oldBalances, oldTxIndex, oldByHash
			return errors.Wrap(err, "persist replacement chain")
		}
	}

	l.logger.Info("replaced chain", "old_height", len(old)-1, "new_height", l.heightLocked())
	return nil
}

// IsChainValid re-checks every link and hash of the current chain.
func (l *Ledger) IsChainValid() bool {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	for i := 1; i < len(l.chain); i++ {
		cur, prev := l.chain[i], l.chain[i-1]
		if cur.Hash != cur.ComputeHash(l.crypto) || cur.PreviousHash != prev.Hash {
			return false
		}
	}
	return l.chain[0].Hash == l.genesis.Hash
}

// validateLocked applies the append rules in order: hash, link, tx
// structure and signatures, balances.
func (l *Ledger) validateLocked(block *types.Block) error {
	if block == nil {
		return errors.Wrap(types.ErrStructural, "nil block")
	}
	if block.Hash == "" || block.Hash != block.ComputeHash(l.crypto) {
		return errors.Wrapf(types.ErrStructural, "block %d has bad hash", block.Index)
	}

	head := l.chain[len(l.chain)-1]
	if block.PreviousHash != head.Hash {
		return errors.Wrapf(types.ErrLink, "block %d previous hash %s != head %s", block.Index, block.PreviousHash, head.Hash)
	}
	if block.Index != head.Index+1 {
		return errors.Wrapf(types.ErrLink, "block index %d does not follow head %d", block.Index, head.Index)
	}

	seen := make(map[string]struct{}, len(block.Txs))
	rewards := 0
	for i, tx := range block.Txs {
		if err := tx.Check(l.crypto); err != nil {
			return errors.Wrapf(err, "tx #%d", i)
		}
		if _, ok := seen[tx.Hash]; ok {
			return errors.Wrapf(types.ErrStructural, "duplicate tx %s", tx.Hash)
		}
		if _, ok := l.txIndex[tx.Hash]; ok {
			return errors.Wrapf(types.ErrStructural, "tx %s already confirmed", tx.Hash)
		}
		seen[tx.Hash] = struct{}{}

		if tx.Type == types.TxReward {
			rewards++
			if rewards > 1 || tx.Amount != l.config.MiningReward {
				return errors.Wrapf(types.ErrStructural, "unexpected reward tx %s", tx.Hash)
			}
		}
	}

	// debits accumulate across the block so two spends can't share one balance
	debits := make(map[string]uint64)
	for _, tx := range block.Txs {
		if tx.Type != types.TxFinancial {
			continue
		}
		balance := l.balances[tx.Sender]
		spent := debits[tx.Sender]
		if balance < spent || balance-spent < tx.Amount {
			return types.ErrInsufficientBalance{Address: tx.Sender, Balance: balance - minU64(spent, balance), Amount: tx.Amount}
		}
		debits[tx.Sender] = spent + tx.Amount
	}
	return nil
}

func (l *Ledger) applyLocked(block *types.Block) {
	for _, tx := range block.Txs {
		switch tx.Type {
		case types.TxFinancial:
			l.balances[tx.Sender] -= tx.Amount
			l.balances[tx.Recipient] += tx.Amount
		case types.TxReward:
			l.balances[tx.Recipient] += tx.Amount
		}
		l.txIndex[tx.Hash] = block.Index
	}
	l.chain = append(l.chain, block)
	l.byHash[block.Hash] = block.Index

	l.metrics.Height.Set(float64(block.Index))
	l.metrics.Txs.Add(float64(len(block.Txs)))
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
