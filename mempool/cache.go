package mempool

import (
	"container/list"
	"sync"

	"segchain/types"
)

type txCache interface {
	Reset()
	Push(tx *types.Tx) bool
	Remove(tx *types.Tx)
}

// mapTxCache maintains a LRU cache of transaction hashes.
type mapTxCache struct {
	mtx      sync.Mutex
	size     int
	cacheMap map[string]*list.Element
	list     *list.List
}

var _ txCache = (*mapTxCache)(nil)

func newMapTxCache(cacheSize int) *mapTxCache {
	return &mapTxCache{
		size:     cacheSize,
		cacheMap: make(map[string]*list.Element, cacheSize),
		list:     list.New(),
	}
}

func (cache *mapTxCache) Reset() {
	cache.mtx.Lock()
	cache.cacheMap = make(map[string]*list.Element, cache.size)
	cache.list.Init()
	cache.mtx.Unlock()
}

// Push adds tx to the cache and returns true. It returns false if tx is
// already cached, after marking it as recently used.
func (cache *mapTxCache) Push(tx *types.Tx) bool {
	cache.mtx.Lock()
	defer cache.mtx.Unlock()

	if moved, exists := cache.cacheMap[tx.Hash]; exists {
		cache.list.MoveToBack(moved)
		return false
	}

	if cache.list.Len() >= cache.size {
		popped := cache.list.Front()
		if popped != nil {
			delete(cache.cacheMap, popped.Value.(string))
			cache.list.Remove(popped)
		}
	}
	cache.cacheMap[tx.Hash] = cache.list.PushBack(tx.Hash)
	return true
}

func (cache *mapTxCache) Remove(tx *types.Tx) {
	cache.mtx.Lock()
	if e, ok := cache.cacheMap[tx.Hash]; ok {
		cache.list.Remove(e)
		delete(cache.cacheMap, tx.Hash)
	}
	cache.mtx.Unlock()
}

type nopTxCache struct{}

var _ txCache = nopTxCache{}

func (nopTxCache) Reset()              {}
func (nopTxCache) Push(*types.Tx) bool { return true }
func (nopTxCache) Remove(*types.Tx)    {}
