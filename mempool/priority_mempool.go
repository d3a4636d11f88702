package mempool

import (
	"sort"
	"sync"
	"time"

	"github.com/tendermint/tendermint/libs/log"

	cfg "segchain/config"
	"segchain/types"
)

// PriorityMempool keeps staged transactions in a slice sorted by priority
// (descending) then arrival (ascending). Inserts use binary search, so the
// order holds after every mutation.
type PriorityMempool struct {
	mtx sync.Mutex

	config *cfg.MempoolConfig

	txs    []*mempoolTx
	txsMap map[string]*mempoolTx

	preCheck PreCheckFunc
	now      func() time.Time

	// Keep a cache of already-seen txs.
	cache txCache

	metrics *Metrics
	stats   *memMetric
	logger  log.Logger
}

var _ Mempool = (*PriorityMempool)(nil)

type PriorityMempoolOption func(*PriorityMempool)

func NewPriorityMempool(config *cfg.MempoolConfig, options ...PriorityMempoolOption) *PriorityMempool {
	mem := &PriorityMempool{
		config:  config,
		txs:     make([]*mempoolTx, 0, config.Size),
		txsMap:  make(map[string]*mempoolTx, config.Size),
		now:     time.Now,
		metrics: NopMetrics(),
		stats:   newMemMetric(config.Size),
		logger:  log.NewNopLogger(),
	}

	if config.CacheSize > 0 {
		mem.cache = newMapTxCache(config.CacheSize)
	} else {
		mem.cache = nopTxCache{}
	}

	for _, option := range options {
		option(mem)
	}

	return mem
}

// WithPreCheck sets a filter applied to each tx before admission.
func WithPreCheck(f PreCheckFunc) PriorityMempoolOption {
	return func(mem *PriorityMempool) { mem.preCheck = f }
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) PriorityMempoolOption {
	return func(mem *PriorityMempool) { mem.metrics = metrics }
}

// WithClock overrides time.Now for arrival stamps and age sweeps.
func WithClock(now func() time.Time) PriorityMempoolOption {
	return func(mem *PriorityMempool) { mem.now = now }
}

func (mem *PriorityMempool) SetLogger(logger log.Logger) {
	mem.logger = logger
}

// CheckTx implements Mempool.
func (mem *PriorityMempool) CheckTx(tx *types.Tx, txInfo TxInfo) error {
	if mem.preCheck != nil {
		if err := mem.preCheck(tx); err != nil {
			return ErrPreCheck{err}
		}
	}

	priority := txInfo.Priority
	if priority == 0 {
		priority = mem.config.DefaultPriority
	}

	mem.mtx.Lock()
	defer mem.mtx.Unlock()

	if _, ok := mem.txsMap[tx.Hash]; ok {
		return ErrTxInMempool
	}
	if !mem.cache.Push(tx) {
		return ErrTxInCache
	}

	now := mem.now()
	mem.sweepLocked(now)

	if len(mem.txs) >= mem.config.Size {
		mem.cache.Remove(tx)
		mem.metrics.RejectedTxs.Add(1)
		mem.stats.MarkRejected()
		return ErrMempoolIsFull{NumTxs: len(mem.txs), MaxTxs: mem.config.Size}
	}

	memTx := &mempoolTx{
		tx:       tx,
		priority: priority,
		arrival:  now,
		sender:   txInfo.SenderID,
	}
	mem.insertLocked(memTx)
	mem.stats.MarkAdmitted(len(mem.txs))

	mem.logger.Debug("added tx", "tx", tx, "priority", priority, "sender", txInfo.SenderID, "total", len(mem.txs))
	mem.metrics.Size.Set(float64(len(mem.txs)))
	return nil
}

// ReapMaxTxs implements Mempool.
func (mem *PriorityMempool) ReapMaxTxs(max int) types.Txs {
	mem.mtx.Lock()
	defer mem.mtx.Unlock()

	mem.sweepLocked(mem.now())

	n := len(mem.txs)
	if max >= 0 && max < n {
		n = max
	}
	txs := make(types.Txs, n)
	for i := 0; i < n; i++ {
		txs[i] = mem.txs[i].tx
	}
	return txs
}

// Update implements Mempool.
func (mem *PriorityMempool) Update(txs types.Txs) {
	if len(txs) == 0 {
		return
	}
	confirmed := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		confirmed[tx.Hash] = struct{}{}
	}

	mem.mtx.Lock()
	defer mem.mtx.Unlock()

	mem.filterLocked(func(memTx *mempoolTx) bool {
		_, ok := confirmed[memTx.tx.Hash]
		if ok {
			// confirmed txs stay in the cache so re-gossip is dropped early
			mem.cache.Push(memTx.tx)
		}
		return !ok
	})
	mem.metrics.Size.Set(float64(len(mem.txs)))
	mem.stats.MarkTxsNum(len(mem.txs))
}

// Restage implements Mempool. Each tx is forgotten by the cache and then
// goes through CheckTx like a fresh submission.
func (mem *PriorityMempool) Restage(txs types.Txs, txInfo TxInfo) int {
	staged := 0
	for _, tx := range txs {
		mem.cache.Remove(tx)
		if err := mem.CheckTx(tx, txInfo); err != nil {
			mem.logger.Debug("could not restage tx", "tx", tx, "err", err)
			continue
		}
		staged++
	}
	return staged
}

// Has implements Mempool.
func (mem *PriorityMempool) Has(hash string) bool {
	mem.mtx.Lock()
	defer mem.mtx.Unlock()
	_, ok := mem.txsMap[hash]
	return ok
}

// Flush implements Mempool.
func (mem *PriorityMempool) Flush() {
	mem.mtx.Lock()
	defer mem.mtx.Unlock()

	mem.cache.Reset()
	mem.txs = mem.txs[:0]
	mem.txsMap = make(map[string]*mempoolTx, mem.config.Size)
	mem.metrics.Size.Set(0)
	mem.stats.MarkTxsNum(0)
}

// Size implements Mempool.
func (mem *PriorityMempool) Size() int {
	mem.mtx.Lock()
	defer mem.mtx.Unlock()
	return len(mem.txs)
}

// Stats returns the JSON snapshot item registered into the node's metric set.
func (mem *PriorityMempool) Stats() *memMetric {
	return mem.stats
}

// Entries returns a snapshot of the staged transactions in selection order.
func (mem *PriorityMempool) Entries() []Entry {
	mem.mtx.Lock()
	defer mem.mtx.Unlock()

	entries := make([]Entry, len(mem.txs))
	for i, memTx := range mem.txs {
		entries[i] = Entry{Tx: memTx.tx, Priority: memTx.priority, Arrival: memTx.arrival}
	}
	return entries
}

// insertLocked places memTx after every entry with priority >= its own, which
// keeps equal priorities in arrival order.
func (mem *PriorityMempool) insertLocked(memTx *mempoolTx) {
	i := sort.Search(len(mem.txs), func(i int) bool {
		return mem.txs[i].priority < memTx.priority
	})
	mem.txs = append(mem.txs, nil)
	copy(mem.txs[i+1:], mem.txs[i:])
	mem.txs[i] = memTx
	mem.txsMap[memTx.tx.Hash] = memTx
}

// sweepLocked evicts every entry older than MaxAge.
func (mem *PriorityMempool) sweepLocked(now time.Time) {
	cutoff := now.Add(-mem.config.MaxAge)
	evicted := 0
	mem.filterLocked(func(memTx *mempoolTx) bool {
		if memTx.arrival.Before(cutoff) {
			mem.cache.Remove(memTx.tx)
			evicted++
			return false
		}
		return true
	})
	if evicted > 0 {
		mem.logger.Debug("evicted expired txs", "count", evicted)
		mem.metrics.EvictedTxs.Add(float64(evicted))
		mem.stats.MarkEvicted(evicted, len(mem.txs))
		mem.metrics.Size.Set(float64(len(mem.txs)))
	}
}

// filterLocked keeps the entries for which keep returns true, preserving order.
func (mem *PriorityMempool) filterLocked(keep func(*mempoolTx) bool) {
	kept := mem.txs[:0]
	for _, memTx := range mem.txs {
		if keep(memTx) {
			kept = append(kept, memTx)
			continue
		}
		delete(mem.txsMap, memTx.tx.Hash)
	}
	for i := len(kept); i < len(mem.txs); i++ {
		mem.txs[i] = nil
	}
	mem.txs = kept
}

//--------------------------------------------------------------------------------

type mempoolTx struct {
	tx       *types.Tx
	priority int
	arrival  time.Time
	sender   string
}

// Entry is a read-only view of a staged tx.
type Entry struct {
	Tx       *types.Tx `json:"tx"`
	Priority int       `json:"priority"`
	Arrival  time.Time `json:"arrival"`
}
