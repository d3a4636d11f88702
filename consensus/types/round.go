package types

import (
	"fmt"
	"sort"
	"time"

	"segchain/types"
)

// Vote is a single validator's answer within a round.
type Vote struct {
	Validator string    `json:"validator"`
	Approve   bool      `json:"approve"`
	Reason    string    `json:"reason,omitempty"`
	Received  time.Time `json:"received"`
}

// Round records one vote-collection-and-decision cycle for a candidate block.
// A Round handed out by the manager is a copy and is never mutated afterwards.
type Round struct {
	Number     int64      `json:"number"`
	BlockHash  string     `json:"block_hash"`
	BlockIndex int64      `json:"block_index"`
	Pool       types.Pool `json:"pool"`

	// Votes maps validator address to its vote. Validators whose vote was not
	// collected before the round closed are listed in Pending instead.
	Votes   map[string]bool   `json:"votes"`
	Pending []string          `json:"pending,omitempty"`
	Reasons map[string]string `json:"reasons,omitempty"`

	PoolSize int  `json:"pool_size"`
	Approval int  `json:"approval"`
	Accepted bool `json:"accepted"`
	Complete bool `json:"complete"`
	TimedOut bool `json:"timed_out"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func NewRound(number int64, block *types.Block, pool types.Pool, poolSize int, start time.Time) *Round {
	return &Round{
		Number:     number,
		BlockHash:  block.Hash,
		BlockIndex: block.Index,
		Pool:       pool,
		Votes:      make(map[string]bool, poolSize),
		Reasons:    make(map[string]string),
		PoolSize:   poolSize,
		StartTime:  start,
	}
}

// AddVote records vote unless the validator already voted in this round.
func (r *Round) AddVote(vote Vote) bool {
	if _, ok := r.Votes[vote.Validator]; ok {
		return false
	}
	r.Votes[vote.Validator] = vote.Approve
	if vote.Reason != "" {
		r.Reasons[vote.Validator] = vote.Reason
	}
	return true
}

// Positive counts approving votes.
func (r *Round) Positive() int {
	n := 0
	for _, v := range r.Votes {
		if v {
			n++
		}
	}
	return n
}

// Decided reports whether the outcome is fixed whatever the remaining votes
// turn out to be.
func (r *Round) Decided(threshold int) bool {
	if r.PoolSize == 0 {
		return true
	}
	positive := r.Positive()
	remaining := r.PoolSize - len(r.Votes)
	return positive*100/r.PoolSize >= threshold ||
		(positive+remaining)*100/r.PoolSize < threshold
}

// Finalize computes approval over the whole pool and marks the round complete.
// Validators in pool that never voted end up in Pending.
func (r *Round) Finalize(pool []string, threshold int, timedOut bool, end time.Time) {
	for _, addr := range pool {
		if _, ok := r.Votes[addr]; !ok {
			r.Pending = append(r.Pending, addr)
		}
	}
	sort.Strings(r.Pending)

	if r.PoolSize > 0 {
		r.Approval = r.Positive() * 100 / r.PoolSize
	}
	r.Accepted = r.PoolSize > 0 && r.Approval >= threshold
	r.TimedOut = timedOut
	r.Complete = true
	r.EndTime = end
}

func (r *Round) Copy() *Round {
	rCopy := *r
	rCopy.Votes = make(map[string]bool, len(r.Votes))
	for k, v := range r.Votes {
		rCopy.Votes[k] = v
	}
	rCopy.Reasons = make(map[string]string, len(r.Reasons))
	for k, v := range r.Reasons {
		rCopy.Reasons[k] = v
	}
	rCopy.Pending = append([]string(nil), r.Pending...)
	return &rCopy
}

func (r *Round) String() string {
	return fmt.Sprintf("Round{#%d %s pool:%s %d/%d approval:%d%% accepted:%v}",
		r.Number, r.BlockHash, r.Pool, r.Positive(), r.PoolSize, r.Approval, r.Accepted)
}
