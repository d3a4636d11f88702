package node

import (
	"sync"
	"time"

	"segchain/types"
)

type orphan struct {
	block    *types.Block
	peerID   string
	received time.Time
}

// orphanPool buffers blocks whose parent is not known yet, indexed by the
// parent hash so they can be replayed when it arrives.
type orphanPool struct {
	mtx sync.Mutex

	orphans  map[string]*orphan  // hash -> orphan
	byParent map[string][]string // previous hash -> hashes

	maxOrphans int
	maxAge     time.Duration
}

func newOrphanPool(maxOrphans int, maxAge time.Duration) *orphanPool {
	return &orphanPool{
		orphans:    make(map[string]*orphan),
		byParent:   make(map[string][]string),
		maxOrphans: maxOrphans,
		maxAge:     maxAge,
	}
}

// Add buffers block. When the pool is full the oldest orphan makes room.
func (op *orphanPool) Add(block *types.Block, peerID string, now time.Time) bool {
	if op.maxOrphans <= 0 {
		return false
	}
	op.mtx.Lock()
	defer op.mtx.Unlock()

	if _, ok := op.orphans[block.Hash]; ok {
		return false
	}
	if len(op.orphans) >= op.maxOrphans {
		var oldest *orphan
		for _, o := range op.orphans {
			if oldest == nil || o.received.Before(oldest.received) {
				oldest = o
			}
		}
		op.removeLocked(oldest.block.Hash)
	}
	op.orphans[block.Hash] = &orphan{block: block, peerID: peerID, received: now}
	op.byParent[block.PreviousHash] = append(op.byParent[block.PreviousHash], block.Hash)
	return true
}

// TakeChildren removes and returns the orphans whose parent is parentHash.
func (op *orphanPool) TakeChildren(parentHash string) []*orphan {
	op.mtx.Lock()
	defer op.mtx.Unlock()

	hashes := op.byParent[parentHash]
	children := make([]*orphan, 0, len(hashes))
	for _, h := range hashes {
		if o, ok := op.orphans[h]; ok {
			children = append(children, o)
		}
		delete(op.orphans, h)
	}
	delete(op.byParent, parentHash)
	return children
}

// Prune drops orphans older than maxAge and returns how many went.
func (op *orphanPool) Prune(now time.Time) int {
	op.mtx.Lock()
	defer op.mtx.Unlock()

	cutoff := now.Add(-op.maxAge)
	pruned := 0
	for h, o := range op.orphans {
		if o.received.Before(cutoff) {
			op.removeLocked(h)
			pruned++
		}
	}
	return pruned
}

func (op *orphanPool) Has(hash string) bool {
	op.mtx.Lock()
	defer op.mtx.Unlock()
	_, ok := op.orphans[hash]
	return ok
}

func (op *orphanPool) Size() int {
	op.mtx.Lock()
	defer op.mtx.Unlock()
	return len(op.orphans)
}

func (op *orphanPool) removeLocked(hash string) {
	o, ok := op.orphans[hash]
	if !ok {
		return
	}
	delete(op.orphans, hash)
	siblings := op.byParent[o.block.PreviousHash]
	for i, h := range siblings {
		if h == hash {
			siblings = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(siblings) == 0 {
		delete(op.byParent, o.block.PreviousHash)
	} else {
		op.byParent[o.block.PreviousHash] = siblings
	}
}
