package mempool

import (
	"segchain/types"
)

// Mempool stages transactions that are not yet part of an appended block.
type Mempool interface {
	// CheckTx validates tx and admits it at the given priority. Entries older
	// than the configured max age are swept first; a full pool rejects.
	CheckTx(tx *types.Tx, txInfo TxInfo) error

	// ReapMaxTxs returns up to max of the highest-priority transactions
	// without removing them. A negative max returns everything.
	ReapMaxTxs(max int) types.Txs

	// Update removes transactions that were confirmed in an appended block.
	Update(txs types.Txs)

	// Restage re-admits transactions that left the pool with a block that
	// was later abandoned. It returns how many were staged again.
	Restage(txs types.Txs, txInfo TxInfo) int

	// Has reports whether a tx with hash is staged.
	Has(hash string) bool

	// Flush removes all transactions from the mempool and the cache.
	Flush()

	// Size returns the number of staged transactions.
	Size() int
}

//--------------------------------------------------------------------------------

// PreCheckFunc is an optional filter executed before admission.
type PreCheckFunc func(*types.Tx) error

// TxInfo are parameters that get passed when attempting to add a tx to the
// mempool.
type TxInfo struct {
	// Priority orders the tx; zero means the configured default.
	Priority int
	// SenderID is the peer the tx was received from, empty for local submissions.
	SenderID string
}
