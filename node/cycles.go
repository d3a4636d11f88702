package node

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"segchain/p2p"
	"segchain/types"
)

func (n *Node) validationRoutine(ctx context.Context) error {
	ticker := time.NewTicker(n.config.Node.ValidationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := n.validationCycle(ctx); err != nil && ctx.Err() == nil {
				n.Logger.Error("validation cycle failed", "err", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (n *Node) syncRoutine(ctx context.Context) error {
	ticker := time.NewTicker(n.config.Node.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.syncCycle()
		case <-ctx.Done():
			return nil
		}
	}
}

// validationCycle authors a block from the mempool when the node is
// validating, the network is healthy and enough transactions are staged. It
// returns the appended block or nil when nothing was proposed.
func (n *Node) validationCycle(ctx context.Context) (*types.Block, error) {
	if !n.IsValidating() {
		return nil, nil
	}
	if !n.checkNetwork() {
		return nil, nil
	}
	if n.mempool.Size() < n.config.Node.MinTxsPerBlock {
		return nil, nil
	}

	txs := n.selectTxs()
	if len(txs) < n.config.Node.MinTxsPerBlock {
		return nil, nil
	}
	if reward := n.config.Ledger.MiningReward; reward > 0 {
		txs = append(types.Txs{types.NewRewardTx(n.Address(), reward, n.crypto)}, txs...)
	}
	return n.ProposeBlock(ctx, txs)
}

// checkNetwork reports whether blocks may be authored, logging transitions
// in and out of the degraded state.
func (n *Node) checkNetwork() bool {
	degraded := n.network.IsDegraded()

	n.stateMtx.Lock()
	changed := degraded != n.suspended
	n.suspended = degraded
	n.stateMtx.Unlock()

	if changed {
		if degraded {
			n.Logger.Info("network partitioned, block production suspended", "peers", n.network.NumPeers())
		} else {
			n.Logger.Info("network recovered, resuming block production", "peers", n.network.NumPeers())
		}
		n.touch()
	}
	return !degraded
}

// selectTxs walks the mempool in priority order and picks up to
// MaxTxsPerBlock transactions the current state can afford. Confirmed
// transactions are dropped from the mempool; transfers the sender can't
// cover yet stay staged and don't count against the block.
func (n *Node) selectTxs() types.Txs {
	limit := n.config.Node.MaxTxsPerBlock

	var (
		confirmed types.Txs
		selected  = make(types.Txs, 0, limit)
		debits    = make(map[string]uint64)
	)
	for _, tx := range n.mempool.ReapMaxTxs(-1) {
		if len(selected) >= limit {
			break
		}
		if _, ok := n.ledger.TxIncluded(tx.Hash); ok {
			confirmed = append(confirmed, tx)
			continue
		}
		if tx.Type == types.TxFinancial {
			balance := n.ledger.GetBalance(tx.Sender)
			spent := debits[tx.Sender]
			if balance < spent || balance-spent < tx.Amount {
				n.Logger.Debug("deferring unaffordable tx", "tx", tx, "balance", balance-spent)
				continue
			}
			debits[tx.Sender] = spent + tx.Amount
		}
		selected = append(selected, tx)
	}
	n.mempool.Update(confirmed)
	return selected
}

// ProposeBlock mines txs into a block over the current head, runs a
// consensus round on it and appends it when accepted. The appended block is
// broadcast to every peer.
func (n *Node) ProposeBlock(ctx context.Context, txs types.Txs) (*types.Block, error) {
	if !n.IsRunning() {
		return nil, ErrNotRunning
	}
	block := n.ledger.CreateBlock(txs)

	round, err := n.consensus.AchieveConsensus(ctx, block)
	if err != nil {
		return nil, errors.Wrapf(err, "block %d", block.Index)
	}
	if err := n.ledger.Append(block); err != nil {
		// the head moved while the round was running
		return nil, errors.Wrapf(err, "append block %d after round %d", block.Index, round.Number)
	}
	n.onBlockAppended(block)

	n.Logger.Info("proposed block", "index", block.Index, "hash", block.Hash, "txs", len(block.Txs), "approval", round.Approval)
	n.broadcast(p2p.MsgBlockResponse, p2p.BlockResponse{Blocks: []*types.Block{block}})
	return block, nil
}

// onBlockAppended brings the mempool and contract state in line with a block
// that was just appended and replays any orphans waiting on it.
func (n *Node) onBlockAppended(block *types.Block) {
	n.mempool.Update(block.Txs)
	for _, tx := range block.Txs {
		if tx.Type != types.TxContract {
			continue
		}
		if err := n.contracts.ExecuteTx(tx); err != nil {
			n.Logger.Info("contract tx failed", "tx", tx, "err", err)
		}
	}
	n.touch()

	for _, child := range n.orphans.TakeChildren(block.Hash) {
		n.processBlock(child.block, child.peerID)
	}
}

// syncCycle drops stale orphans and asks every peer for its head.
func (n *Node) syncCycle() {
	if pruned := n.orphans.Prune(time.Now()); pruned > 0 {
		n.Logger.Debug("pruned stale orphans", "count", pruned)
	}
	if n.network.NumPeers() == 0 {
		return
	}
	head := n.ledger.Head()
	n.broadcast(p2p.MsgSyncRequest, p2p.SyncRequest{Height: head.Index, HeadHash: head.Hash})
}

func (n *Node) broadcast(t p2p.MessageType, payload interface{}, except ...string) int {
	msg, err := n.network.NewSignedMessage(t, payload)
	if err != nil {
		n.Logger.Error("failed to build message", "type", t, "err", err)
		return 0
	}
	return n.network.Broadcast(msg, except...)
}

func (n *Node) send(peerID string, t p2p.MessageType, payload interface{}) {
	msg, err := n.network.NewSignedMessage(t, payload)
	if err != nil {
		n.Logger.Error("failed to build message", "type", t, "err", err)
		return
	}
	if err := n.network.Send(peerID, msg); err != nil {
		n.Logger.Debug("send failed", "peer", peerID, "type", t, "err", err)
	}
}
