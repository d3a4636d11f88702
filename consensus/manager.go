package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/tendermint/tendermint/libs/log"
	"golang.org/x/sync/errgroup"

	cfg "segchain/config"
	cstypes "segchain/consensus/types"
	"segchain/crypto"
	"segchain/types"
)

// ConsensusManager runs vote rounds over candidate blocks and keeps the
// history of the last MaxHistory finished rounds.
type ConsensusManager struct {
	mtx sync.Mutex

	config     *cfg.ConsensusConfig
	validators *ValidatorPool
	voter      Voter

	history   []*cstypes.Round
	nextRound int64

	now func() time.Time

	metrics *Metrics
	stats   *consensusMetric
	logger  log.Logger
}

type ConsensusOption func(*ConsensusManager)

// WithVoter replaces the in-process voter.
func WithVoter(voter Voter) ConsensusOption {
	return func(cm *ConsensusManager) { cm.voter = voter }
}

func WithMetrics(metrics *Metrics) ConsensusOption {
	return func(cm *ConsensusManager) { cm.metrics = metrics }
}

func NewConsensusManager(
	config *cfg.ConsensusConfig,
	validators *ValidatorPool,
	provider crypto.Provider,
	options ...ConsensusOption,
) *ConsensusManager {
	cm := &ConsensusManager{
		config:     config,
		validators: validators,
		voter:      NewLocalVoter(provider),
		now:        time.Now,
		metrics:    NopMetrics(),
		stats:      newConsensusMetric(),
		logger:     log.NewNopLogger(),
	}
	for _, option := range options {
		option(cm)
	}
	return cm
}

func (cm *ConsensusManager) SetLogger(logger log.Logger) {
	cm.logger = logger
}

func (cm *ConsensusManager) Validators() *ValidatorPool {
	return cm.validators
}

// Stats returns the JSON snapshot item registered into the node's metric set.
func (cm *ConsensusManager) Stats() *consensusMetric {
	return cm.stats
}

// RouteBlock picks the pool that votes on block: any FINANCIAL tx sends it
// to the financial pool.
func RouteBlock(block *types.Block) types.Pool {
	if block.Txs.HasType(types.TxFinancial) {
		return types.FinancialPool
	}
	return types.MessagePool
}

// AchieveConsensus asks every active validator of the routed pool to vote on
// block and waits at most VoteTimeout for the answers. Collection stops early
// once the outcome can no longer change. Votes still missing when the round
// closes count against approval, which is computed over the whole pool.
//
// ctx only gates the start of a round: a done ctx returns its error and
// records nothing. A round already collecting votes runs until it is decided
// or VoteTimeout passes, whatever happens to ctx.
//
// A pool below RequiredValidators fails with ErrNotEnoughValidators and no
// round is recorded. Otherwise the round is appended to the history whatever
// its outcome; a rejected block also returns ErrThresholdNotMet.
func (cm *ConsensusManager) AchieveConsensus(ctx context.Context, block *types.Block) (*cstypes.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pool := RouteBlock(block)
	vals := cm.validators.Active(pool)
	if need := cm.requiredValidators(); len(vals) < need {
		return nil, types.ErrNotEnoughValidators{Pool: string(pool), Have: len(vals), Need: need}
	}

	cm.mtx.Lock()
	number := cm.nextRound
	cm.nextRound++
	cm.mtx.Unlock()

	start := cm.now()
	round := cstypes.NewRound(number, block, pool, len(vals), start)
	timedOut := cm.collectVotes(round, vals, block)

	addrs := make([]string, len(vals))
	for i, v := range vals {
		addrs[i] = v.Address
	}
	round.Finalize(addrs, cm.config.Threshold, timedOut, cm.now())

	for addr, vote := range round.Votes {
		cm.validators.UpdateReputation(addr, vote == round.Accepted)
	}
	if timedOut {
		for _, addr := range round.Pending {
			cm.validators.UpdateReputation(addr, false)
		}
	}

	cm.mtx.Lock()
	cm.history = append(cm.history, round)
	if limit := cm.config.MaxHistory; limit > 0 && len(cm.history) > limit {
		dropped := len(cm.history) - limit
		copy(cm.history, cm.history[dropped:])
		for i := limit; i < len(cm.history); i++ {
			cm.history[i] = nil
		}
		cm.history = cm.history[:limit]
	}
	cm.mtx.Unlock()

	cm.metrics.Rounds.Add(1)
	cm.metrics.Approval.Set(float64(round.Approval))
	cm.metrics.RoundDurationSeconds.Observe(round.EndTime.Sub(start).Seconds())
	if timedOut {
		cm.metrics.MissingVotes.Add(float64(len(round.Pending)))
	}
	cm.stats.MarkRound(round)

	cm.logger.Info("finished consensus round",
		"round", round.Number,
		"block", block.Hash,
		"pool", pool,
		"approval", round.Approval,
		"accepted", round.Accepted,
		"pending", len(round.Pending),
		"timed_out", timedOut,
	)

	if !round.Accepted {
		cm.metrics.RejectedRounds.Add(1)
		return round.Copy(), types.ErrThresholdNotMet{Approval: round.Approval, Threshold: cm.config.Threshold}
	}
	return round.Copy(), nil
}

func (cm *ConsensusManager) requiredValidators() int {
	if cm.config.RequiredValidators < 1 {
		return 1
	}
	return cm.config.RequiredValidators
}

// collectVotes fans the vote out to vals and gathers answers into round. It
// returns true when the wait ended on the deadline rather than on a decision.
func (cm *ConsensusManager) collectVotes(
	round *cstypes.Round,
	vals []*types.Validator,
	block *types.Block,
) (timedOut bool) {
	ctx, cancel := context.WithTimeout(context.Background(), cm.config.VoteTimeout)
	votes := make(chan cstypes.Vote, len(vals))
	g, gctx := errgroup.WithContext(ctx)
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	for _, val := range vals {
		val := val
		g.Go(func() error {
			approve, err := cm.voter.Vote(gctx, val, block)
			if gctx.Err() != nil {
				// the round is closed, a late answer is not a vote
				return nil
			}
			vote := cstypes.Vote{Validator: val.Address, Approve: approve && err == nil, Received: cm.now()}
			if err != nil {
				vote.Reason = err.Error()
				cm.logger.Debug("validator rejected block", "validator", val.Address, "block", block.Hash, "reason", err)
			}
			votes <- vote
			return nil
		})
	}

	for received := 0; received < len(vals); received++ {
		select {
		case vote := <-votes:
			round.AddVote(vote)
			if round.Decided(cm.config.Threshold) {
				return false
			}
		case <-ctx.Done():
			return true
		}
	}
	return false
}

// History returns copies of the last limit retained rounds, oldest first. A
// non-positive limit returns every retained round.
func (cm *ConsensusManager) History(limit int) []*cstypes.Round {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()

	from := 0
	if limit > 0 && limit < len(cm.history) {
		from = len(cm.history) - limit
	}
	rounds := make([]*cstypes.Round, 0, len(cm.history)-from)
	for _, r := range cm.history[from:] {
		rounds = append(rounds, r.Copy())
	}
	return rounds
}

// Round returns a copy of round number n.
func (cm *ConsensusManager) Round(n int64) (*cstypes.Round, bool) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	for _, r := range cm.history {
		if r.Number == n {
			return r.Copy(), true
		}
	}
	return nil, false
}
