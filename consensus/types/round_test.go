package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"segchain/types"
)

func TestRoundDecided(t *testing.T) {
	block := &types.Block{Index: 3, Hash: "abc"}

	testCases := []struct {
		name    string
		votes   []bool
		decided bool
	}{
		{"no votes", nil, false},
		{"two approvals", []bool{true, true}, false},
		{"three approvals", []bool{true, true, true}, true},
		{"one rejection", []bool{false}, false},
		{"two rejections", []bool{false, false}, true},
		{"all in", []bool{true, true, false, false}, true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			r := NewRound(0, block, types.FinancialPool, 4, time.Now())
			for i, v := range tc.votes {
				r.AddVote(Vote{Validator: string(rune('a' + i)), Approve: v})
			}
			assert.Equal(t, tc.decided, r.Decided(75))
		})
	}
}

func TestRoundFinalize(t *testing.T) {
	block := &types.Block{Index: 3, Hash: "abc"}
	r := NewRound(7, block, types.MessagePool, 4, time.Now())

	assert.True(t, r.AddVote(Vote{Validator: "a", Approve: true}))
	assert.True(t, r.AddVote(Vote{Validator: "b", Approve: true}))
	assert.True(t, r.AddVote(Vote{Validator: "c", Approve: true, Reason: ""}))
	assert.False(t, r.AddVote(Vote{Validator: "c", Approve: false}))

	r.Finalize([]string{"d", "c", "b", "a"}, 75, false, time.Now())
	assert.True(t, r.Complete)
	assert.True(t, r.Accepted)
	assert.Equal(t, 75, r.Approval)
	assert.Equal(t, []string{"d"}, r.Pending)

	c := r.Copy()
	c.Votes["a"] = false
	c.Pending[0] = "x"
	assert.True(t, r.Votes["a"])
	assert.Equal(t, "d", r.Pending[0])
}
