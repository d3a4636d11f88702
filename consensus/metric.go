package consensus

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	cstypes "segchain/consensus/types"
)

func newConsensusMetric() *consensusMetric {
	return &consensusMetric{
		LastRound: -1,
	}
}

type consensusMetric struct {
	mtx sync.RWMutex

	LastRound     int64     `json:"last_round"`
	LastBlockHash string    `json:"last_block_hash"`
	LastPool      string    `json:"last_pool"`
	LastApproval  int       `json:"last_approval"`
	LastAccepted  bool      `json:"last_accepted"`
	LastRoundTime time.Time `json:"last_round_time"`

	AcceptedRounds int64 `json:"accepted_rounds"`
	RejectedRounds int64 `json:"rejected_rounds"`
	TimedOutRounds int64 `json:"timed_out_rounds"`
}

func (cm *consensusMetric) JSONString() string {
	cm.mtx.RLock()
	defer cm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(cm)
	return s
}

func (cm *consensusMetric) MarkRound(r *cstypes.Round) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()

	cm.LastRound = r.Number
	cm.LastBlockHash = r.BlockHash
	cm.LastPool = string(r.Pool)
	cm.LastApproval = r.Approval
	cm.LastAccepted = r.Accepted
	cm.LastRoundTime = r.EndTime
	if r.Accepted {
		cm.AcceptedRounds++
	} else {
		cm.RejectedRounds++
	}
	if r.TimedOut {
		cm.TimedOutRounds++
	}
}
