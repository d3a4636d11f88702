package node

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	tmrand "github.com/tendermint/tendermint/libs/rand"

	"segchain/consensus"
	"segchain/p2p"
	"segchain/types"
)

type pendingVote struct {
	validator string
	peerID    string
	ch        chan p2p.ValidationResponse
}

// remoteVoter asks validators bound to another node for their vote over
// VALIDATION_REQUEST and votes in-process for everyone else.
type remoteVoter struct {
	network *p2p.Network
	local   consensus.Voter

	mtx     sync.Mutex
	pending map[string]*pendingVote // request id -> vote
}

var _ consensus.Voter = (*remoteVoter)(nil)

func newRemoteVoter(network *p2p.Network, local consensus.Voter) *remoteVoter {
	return &remoteVoter{
		network: network,
		local:   local,
		pending: make(map[string]*pendingVote),
	}
}

func (rv *remoteVoter) Vote(ctx context.Context, val *types.Validator, block *types.Block) (bool, error) {
	if val.PeerID == "" || val.PeerID == rv.network.NodeID() {
		return rv.local.Vote(ctx, val, block)
	}

	id := tmrand.Str(16)
	pv := &pendingVote{validator: val.Address, peerID: val.PeerID, ch: make(chan p2p.ValidationResponse, 1)}
	rv.mtx.Lock()
	rv.pending[id] = pv
	rv.mtx.Unlock()
	defer func() {
		rv.mtx.Lock()
		delete(rv.pending, id)
		rv.mtx.Unlock()
	}()

	msg, err := rv.network.NewSignedMessage(p2p.MsgValidationRequest, p2p.ValidationRequest{
		RequestID: id,
		Validator: val.Address,
		Block:     block,
	})
	if err != nil {
		return false, err
	}
	if err := rv.network.Send(val.PeerID, msg); err != nil {
		return false, errors.Wrapf(err, "ask %s for a vote", val.Address)
	}

	select {
	case resp := <-pv.ch:
		if !resp.Approve {
			return false, errors.New(resp.Reason)
		}
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// resolve hands resp to the waiting Vote call. Answers for unknown requests
// or from the wrong peer are ignored.
func (rv *remoteVoter) resolve(peerID string, resp p2p.ValidationResponse) bool {
	rv.mtx.Lock()
	pv, ok := rv.pending[resp.RequestID]
	rv.mtx.Unlock()
	if !ok || pv.peerID != peerID || pv.validator != resp.Validator {
		return false
	}
	select {
	case pv.ch <- resp:
		return true
	default:
		return false
	}
}
