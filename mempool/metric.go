package mempool

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

func newMemMetric(maxSize int) *memMetric {
	return &memMetric{MaxTxsNum: maxSize}
}

type memMetric struct {
	mtx         sync.RWMutex
	TxsNum      int   `json:"txs_num"`      // txs currently staged
	MaxTxsNum   int   `json:"max_txs_num"`  // capacity
	AdmittedNum int64 `json:"admitted_num"` // txs admitted since start
	RejectedNum int64 `json:"rejected_num"` // txs refused because the pool was full
	EvictedNum  int64 `json:"evicted_num"`  // txs swept for age
}

func (mm *memMetric) JSONString() string {
	mm.mtx.RLock()
	defer mm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(mm)
	return s
}

func (mm *memMetric) MarkTxsNum(txsNum int) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.TxsNum = txsNum
}

func (mm *memMetric) MarkAdmitted(txsNum int) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.AdmittedNum++
	mm.TxsNum = txsNum
}

func (mm *memMetric) MarkRejected() {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.RejectedNum++
}

func (mm *memMetric) MarkEvicted(evicted, txsNum int) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.EvictedNum += int64(evicted)
	mm.TxsNum = txsNum
}
