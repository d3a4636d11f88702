package node

import (
	"context"
	"errors"
	"time"

	"segchain/contract"
	"segchain/mempool"
	"segchain/p2p"
	"segchain/types"
)

// most blocks sent in one BLOCK_RESPONSE for an incremental request
const maxBlocksPerResponse = 64

func (n *Node) registerHandlers() {
	n.network.AddHandler(p2p.MsgSyncRequest, n.handleSyncRequest)
	n.network.AddHandler(p2p.MsgSyncResponse, n.handleSyncResponse)
	n.network.AddHandler(p2p.MsgBlockRequest, n.handleBlockRequest)
	n.network.AddHandler(p2p.MsgBlockResponse, n.handleBlockResponse)
	n.network.AddHandler(p2p.MsgTransaction, n.handleTransaction)
	n.network.AddHandler(p2p.MsgValidationRequest, n.handleValidationRequest)
	n.network.AddHandler(p2p.MsgValidationResponse, n.handleValidationResponse)
	n.network.AddHandler(p2p.MsgContractDeployment, n.handleContractDeployment)
	n.network.AddHandler(p2p.MsgContractExecution, n.handleContractExecution)
}

func (n *Node) decode(msg *p2p.Message, v interface{}) bool {
	if err := msg.DecodePayload(v); err != nil {
		n.Logger.Debug("bad payload", "msg", msg, "err", err)
		return false
	}
	return true
}

//-----------------------------------------------------------------------------
// sync

func (n *Node) handleSyncRequest(peer *p2p.Peer, msg *p2p.Message) {
	var req p2p.SyncRequest
	if !n.decode(msg, &req) {
		return
	}
	head := n.ledger.Head()
	n.send(peer.ID, p2p.MsgSyncResponse, p2p.SyncResponse{Height: head.Index, HeadHash: head.Hash})
	n.catchUp(peer.ID, req.Height, req.HeadHash)
}

func (n *Node) handleSyncResponse(peer *p2p.Peer, msg *p2p.Message) {
	var resp p2p.SyncResponse
	if !n.decode(msg, &resp) {
		return
	}
	n.catchUp(peer.ID, resp.Height, resp.HeadHash)
}

// catchUp requests the missing blocks from a peer that reported a longer
// chain.
func (n *Node) catchUp(peerID string, height int64, headHash string) {
	n.observePeerHeight(height)
	head := n.ledger.Head()
	if height <= head.Index {
		return
	}
	if _, ok := n.ledger.BlockByHash(headHash); ok {
		return
	}
	n.Logger.Debug("peer is ahead, requesting blocks", "peer", peerID, "ours", head.Index, "theirs", height)
	n.send(peerID, p2p.MsgBlockRequest, p2p.BlockRequest{Height: head.Index + 1})
}

func (n *Node) handleBlockRequest(peer *p2p.Peer, msg *p2p.Message) {
	var req p2p.BlockRequest
	if !n.decode(msg, &req) {
		return
	}
	to := n.ledger.Height()
	// a request from genesis asks for the whole chain to resolve a fork
	if req.Height > 0 && to-req.Height >= maxBlocksPerResponse {
		to = req.Height + maxBlocksPerResponse - 1
	}
	blocks := n.ledger.Blocks(req.Height, to)
	if len(blocks) == 0 {
		return
	}
	n.send(peer.ID, p2p.MsgBlockResponse, p2p.BlockResponse{Blocks: blocks})
}

func (n *Node) handleBlockResponse(peer *p2p.Peer, msg *p2p.Message) {
	var resp p2p.BlockResponse
	if !n.decode(msg, &resp) || len(resp.Blocks) == 0 {
		return
	}
	if resp.Blocks[0].Index == 0 {
		n.adoptChain(resp.Blocks, peer.ID)
		return
	}
	for _, block := range resp.Blocks {
		n.processBlock(block, peer.ID)
	}
}

// processBlock appends a block received from peerID when it extends our
// head. Blocks further ahead are kept as orphans while their ancestors are
// fetched; blocks at or below our height are dropped.
func (n *Node) processBlock(block *types.Block, peerID string) {
	if block == nil {
		return
	}
	if _, ok := n.ledger.BlockByHash(block.Hash); ok || n.orphans.Has(block.Hash) {
		return
	}

	head := n.ledger.Head()
	switch {
	case block.PreviousHash == head.Hash:
		if err := n.ledger.Append(block); err != nil {
			n.Logger.Info("rejected block from peer", "peer", peerID, "index", block.Index, "err", err)
			return
		}
		n.onBlockAppended(block)
		n.broadcast(p2p.MsgBlockResponse, p2p.BlockResponse{Blocks: []*types.Block{block}}, peerID)

	case block.Index <= head.Index:
		n.Logger.Debug("dropping stale block", "peer", peerID, "index", block.Index, "head", head.Index)

	default:
		if !n.orphans.Add(block, peerID, time.Now()) {
			return
		}
		from := head.Index + 1
		if block.Index == head.Index+1 {
			// same height as our next block but a different parent: we forked
			from = 0
		}
		n.Logger.Debug("buffered orphan block", "peer", peerID, "index", block.Index, "request_from", from)
		n.send(peerID, p2p.MsgBlockRequest, p2p.BlockRequest{Height: from})
	}
}

// adoptChain replaces our chain with a longer valid one. Transactions that
// only lived in our abandoned blocks go back to the mempool.
func (n *Node) adoptChain(blocks []*types.Block, peerID string) {
	if len(blocks) <= n.ledger.Len() {
		return
	}
	old := n.ledger.Blocks(1, n.ledger.Height())
	if err := n.ledger.ReplaceChain(blocks); err != nil {
		n.Logger.Info("rejected chain from peer", "peer", peerID, "err", err)
		return
	}
	for _, block := range blocks {
		n.mempool.Update(block.Txs)
	}

	var dropped types.Txs
	for _, block := range old {
		if _, ok := n.ledger.BlockByHash(block.Hash); ok {
			continue
		}
		for _, tx := range block.Txs {
			if tx.Type == types.TxReward {
				continue
			}
			if _, ok := n.ledger.TxIncluded(tx.Hash); !ok {
				dropped = append(dropped, tx)
			}
		}
	}
	if len(dropped) > 0 {
		staged := n.mempool.Restage(dropped, mempool.TxInfo{})
		n.Logger.Info("restaged txs from abandoned blocks", "peer", peerID, "dropped", len(dropped), "staged", staged)
	}
	n.touch()

	head := n.ledger.Head()
	for _, child := range n.orphans.TakeChildren(head.Hash) {
		n.processBlock(child.block, child.peerID)
	}
}

//-----------------------------------------------------------------------------
// transactions

func (n *Node) handleTransaction(peer *p2p.Peer, msg *p2p.Message) {
	var tx types.Tx
	if !n.decode(msg, &tx) {
		return
	}
	if err := n.mempool.CheckTx(&tx, mempool.TxInfo{SenderID: peer.ID}); err != nil {
		if !errors.Is(err, mempool.ErrTxInCache) && !errors.Is(err, mempool.ErrTxInMempool) {
			n.Logger.Debug("rejected tx from peer", "peer", peer.ID, "tx", &tx, "err", err)
		}
		return
	}
	// relayed messages carry our own signature
	n.broadcast(p2p.MsgTransaction, &tx, peer.ID)
}

// preCheckTx runs ahead of mempool admission.
func (n *Node) preCheckTx(tx *types.Tx) error {
	if tx.Type == types.TxReward {
		return ErrInvalidTransaction{Err: errors.New("reward transactions are minted by block authors")}
	}
	if err := tx.Check(n.crypto); err != nil {
		return ErrInvalidTransaction{Err: err}
	}
	if _, ok := n.ledger.TxIncluded(tx.Hash); ok {
		return ErrInvalidTransaction{Err: errors.New("transaction already confirmed")}
	}
	return nil
}

//-----------------------------------------------------------------------------
// votes

func (n *Node) handleValidationRequest(peer *p2p.Peer, msg *p2p.Message) {
	var req p2p.ValidationRequest
	if !n.decode(msg, &req) || req.Block == nil {
		return
	}
	resp := p2p.ValidationResponse{RequestID: req.RequestID, Validator: req.Validator}

	val, ok := n.validators.Get(req.Validator)
	if !ok || val.PeerID != n.network.NodeID() {
		resp.Reason = ErrUnknownValidator.Error()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), n.config.Consensus.VoteTimeout)
		approve, err := n.localVoter.Vote(ctx, val, req.Block)
		cancel()
		resp.Approve = approve && err == nil
		if err != nil {
			resp.Reason = err.Error()
		}
	}
	n.Logger.Debug("answering vote request", "peer", peer.ID, "validator", req.Validator, "block", req.Block.Hash, "approve", resp.Approve)
	n.send(peer.ID, p2p.MsgValidationResponse, resp)
}

func (n *Node) handleValidationResponse(peer *p2p.Peer, msg *p2p.Message) {
	var resp p2p.ValidationResponse
	if !n.decode(msg, &resp) {
		return
	}
	if !n.voter.resolve(peer.ID, resp) {
		n.Logger.Debug("unexpected vote", "peer", peer.ID, "request", resp.RequestID)
	}
}

//-----------------------------------------------------------------------------
// contracts

func (n *Node) handleContractDeployment(peer *p2p.Peer, msg *p2p.Message) {
	var d p2p.ContractDeployment
	if !n.decode(msg, &d) {
		return
	}
	if d.Owner != msg.Sender {
		n.Logger.Debug("deployment owner is not the sender", "peer", peer.ID, "owner", d.Owner)
		return
	}
	addr, err := n.contracts.Deploy(d.Bytecode, d.Owner)
	if err != nil && !errors.Is(err, contract.ErrContractExists) {
		n.Logger.Info("remote deployment failed", "peer", peer.ID, "err", err)
		return
	}
	n.Logger.Debug("deployed remote contract", "peer", peer.ID, "address", addr)
}

func (n *Node) handleContractExecution(peer *p2p.Peer, msg *p2p.Message) {
	var e p2p.ContractExecution
	if !n.decode(msg, &e) {
		return
	}
	if e.Caller != msg.Sender {
		n.Logger.Debug("execution caller is not the sender", "peer", peer.ID, "caller", e.Caller)
		return
	}
	if err := n.contracts.Execute(e.Address, e.Method, e.Params, e.Caller); err != nil {
		n.Logger.Info("remote execution failed", "peer", peer.ID, "contract", e.Address, "method", e.Method, "err", err)
	}
}
