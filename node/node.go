package node

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	rpcserver "github.com/tendermint/tendermint/rpc/jsonrpc/server"
	"golang.org/x/sync/errgroup"

	cfg "segchain/config"
	"segchain/consensus"
	"segchain/contract"
	"segchain/crypto"
	"segchain/ledger"
	"segchain/libs/metric"
	"segchain/mempool"
	"segchain/p2p"
	"segchain/privval"
	"segchain/rpc"
	"segchain/store"
	"segchain/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Provider takes a config and a logger and returns a ready to go Node.
type Provider func(*cfg.Config, log.Logger) (*Node, error)

// Node ties the ledger, mempool, consensus and p2p layers together and runs
// the validation and sync cycles while started.
type Node struct {
	service.BaseService

	// config
	config  *cfg.Config
	genDoc  *types.GenesisDoc
	crypto  crypto.Provider
	privVal *privval.FilePV

	// services
	blockStore *store.BlockStore
	ledger     *ledger.Ledger
	mempool    *mempool.PriorityMempool
	validators *consensus.ValidatorPool
	consensus  *consensus.ConsensusManager
	voter      *remoteVoter
	localVoter consensus.Voter
	transport  p2p.Transport
	network    *p2p.Network
	contracts  *contract.Engine
	orphans    *orphanPool
	metricSet  *metric.MetricSet

	rpcListener   net.Listener
	prometheusSrv *http.Server

	stateMtx       sync.RWMutex
	validating     bool
	suspended      bool
	bestPeerHeight int64
	lastUpdate     time.Time

	cancel context.CancelFunc
	cycles *errgroup.Group
}

type Option func(*Node)

// WithTransport replaces the websocket transport built from config.
func WithTransport(t p2p.Transport) Option {
	return func(n *Node) { n.transport = t }
}

// WithBlockStore replaces the block store opened from config.
func WithBlockStore(bs *store.BlockStore) Option {
	return func(n *Node) { n.blockStore = bs }
}

// DefaultNewNode returns a node for the config's genesis and validator key.
func DefaultNewNode(config *cfg.Config, logger log.Logger) (*Node, error) {
	provider := crypto.NewKyberProvider()
	pv, err := privval.LoadOrGenFilePV(provider, config.PrivValidatorKeyFile())
	if err != nil {
		return nil, errors.Wrap(err, "load validator key")
	}
	genDoc, err := types.GenesisDocFromFile(config.GenesisFile())
	if err != nil {
		return nil, err
	}
	return NewNode(config, provider, pv, genDoc, logger)
}

func NewNode(
	config *cfg.Config,
	provider crypto.Provider,
	privVal *privval.FilePV,
	genDoc *types.GenesisDoc,
	logger log.Logger,
	options ...Option,
) (*Node, error) {
	if err := config.ValidateBasic(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	node := &Node{
		config:     config,
		genDoc:     genDoc,
		crypto:     provider,
		privVal:    privVal,
		localVoter: consensus.NewLocalVoter(provider),
		contracts:  contract.NewEngine(provider),
		orphans:    newOrphanPool(config.Node.MaxOrphans, config.Node.OrphanMaxAge),
		metricSet:  metric.NewMetricSet(),
		validating: config.Node.Validating,
		lastUpdate: time.Now(),
	}
	node.BaseService = *service.NewBaseService(logger, "Node", node)
	for _, option := range options {
		option(node)
	}
	node.contracts.SetLogger(logger.With("module", "contract"))

	ledgerMetrics, memplMetrics, csMetrics := node.metrics()

	if node.blockStore == nil {
		bs, err := store.NewBlockStore("blockstore", config.DBBackend, config.DBDir(), logger.With("module", "store"))
		if err != nil {
			return nil, err
		}
		node.blockStore = bs
	}

	l, err := ledger.NewLedger(genDoc, config.Ledger, provider,
		ledger.WithStore(node.blockStore),
		ledger.WithMetrics(ledgerMetrics),
	)
	if err != nil {
		return nil, errors.Wrap(err, "load ledger")
	}
	l.SetLogger(logger.With("module", "ledger"))
	node.ledger = l

	node.mempool = mempool.NewPriorityMempool(config.Mempool,
		mempool.WithPreCheck(node.preCheckTx),
		mempool.WithMetrics(memplMetrics),
	)
	node.mempool.SetLogger(logger.With("module", "mempool"))

	if node.transport == nil {
		node.transport = p2p.NewWSTransport(
			config.P2P.ListenAddress,
			config.P2P.MaxMsgSize,
			config.P2P.SendTimeout,
			logger.With("module", "transport"),
		)
	}
	network, err := p2p.NewNetwork(config.P2P, provider, privVal.Key.PrivKey, node.transport,
		p2p.WithCapabilities("blocks", "txs", "votes", "contracts"),
	)
	if err != nil {
		return nil, err
	}
	network.SetLogger(logger.With("module", "p2p"))
	node.network = network

	node.validators = consensus.NewValidatorPool()
	for i, gv := range genDoc.Validators {
		if err := node.validators.Register(gv.Validator()); err != nil {
			return nil, errors.Wrapf(err, "register genesis validator #%d", i)
		}
	}
	node.voter = newRemoteVoter(network, node.localVoter)
	node.consensus = consensus.NewConsensusManager(config.Consensus, node.validators, provider,
		consensus.WithVoter(node.voter),
		consensus.WithMetrics(csMetrics),
	)
	node.consensus.SetLogger(logger.With("module", "consensus"))
	node.network.SetActiveValidators(node.activeValidators())

	node.registerHandlers()
	if err := node.registerMetricItems(); err != nil {
		return nil, err
	}
	return node, nil
}

func (n *Node) metrics() (*ledger.Metrics, *mempool.Metrics, *consensus.Metrics) {
	if !n.config.Instrumentation.Prometheus {
		return ledger.NopMetrics(), mempool.NopMetrics(), consensus.NopMetrics()
	}
	ns := n.config.Instrumentation.Namespace
	return ledger.PrometheusMetrics(ns, "chain_id", n.genDoc.ChainID),
		mempool.PrometheusMetrics(ns, "chain_id", n.genDoc.ChainID),
		consensus.PrometheusMetrics(ns, "chain_id", n.genDoc.ChainID)
}

func (n *Node) registerMetricItems() error {
	items := map[string]metric.MetricItem{
		"mempool":   n.mempool.Stats(),
		"consensus": n.consensus.Stats(),
		"p2p":       n.network.Stats(),
		"node": metric.ItemFunc(func() string {
			bz, _ := json.Marshal(n.NodeState())
			return string(bz)
		}),
	}
	for label, item := range items {
		if err := n.metricSet.SetMetrics(label, item); err != nil {
			return errors.Wrap(err, label)
		}
	}
	return nil
}

func (n *Node) OnStart() error {
	if err := n.network.Start(); err != nil {
		return errors.Wrap(err, "start p2p")
	}

	if n.config.RPC.ListenAddress != "" {
		listener, err := n.startRPC()
		if err != nil {
			_ = n.network.Stop()
			return err
		}
		n.rpcListener = listener
	}
	if n.config.Instrumentation.Prometheus && n.config.Instrumentation.PrometheusListenAddr != "" {
		n.prometheusSrv = n.startPrometheusServer(n.config.Instrumentation.PrometheusListenAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.validationRoutine(gctx) })
	g.Go(func() error { return n.syncRoutine(gctx) })
	n.cycles = g

	n.touch()
	n.Logger.Info("started node",
		"address", n.Address(),
		"p2p", n.network.ListenAddr(),
		"height", n.ledger.Height(),
		"validating", n.IsValidating(),
	)
	return nil
}

func (n *Node) OnStop() {
	n.cancel()
	if err := n.cycles.Wait(); err != nil {
		n.Logger.Error("node cycle failed", "err", err)
	}
	if err := n.network.Stop(); err != nil {
		n.Logger.Error("error stopping p2p", "err", err)
	}
	if n.rpcListener != nil {
		if err := n.rpcListener.Close(); err != nil {
			n.Logger.Error("error closing rpc listener", "err", err)
		}
	}
	if n.prometheusSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := n.prometheusSrv.Shutdown(ctx); err != nil {
			n.Logger.Error("prometheus HTTP server Shutdown", "err", err)
		}
		cancel()
	}
	if err := n.blockStore.Close(); err != nil {
		n.Logger.Error("error closing block store", "err", err)
	}
	n.touch()
}

func (n *Node) startRPC() (net.Listener, error) {
	env := &rpc.Environment{
		Ledger:    n.ledger,
		Mempool:   n.mempool,
		Consensus: n.consensus,
		Network:   n.network,
		MetricSet: n.metricSet,
		Node:      n,
	}
	routes := env.GetRoutes()
	rpcLogger := n.Logger.With("module", "rpc-server")
	config := rpcserver.DefaultConfig()
	config.MaxOpenConnections = n.config.RPC.MaxOpenConnections

	mux := http.NewServeMux()
	wm := rpcserver.NewWebsocketManager(routes, rpcserver.ReadLimit(config.MaxBodyBytes))
	wm.SetLogger(rpcLogger.With("protocol", "websocket"))
	mux.HandleFunc("/websocket", wm.WebsocketHandler)
	rpcserver.RegisterRPCFuncs(mux, routes, rpcLogger)

	listener, err := rpcserver.Listen(n.config.RPC.ListenAddress, config)
	if err != nil {
		return nil, errors.Wrap(err, "listen for rpc")
	}
	go func() {
		if err := rpcserver.Serve(listener, mux, rpcLogger, config); err != nil {
			rpcLogger.Info("rpc server stopped", "err", err)
		}
	}()
	return listener, nil
}

func (n *Node) startPrometheusServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			n.Logger.Error("prometheus HTTP server ListenAndServe", "err", err)
		}
	}()
	return srv
}

//-----------------------------------------------------------------------------
// accessors

// Address is the node's account address, which is also its p2p id.
func (n *Node) Address() string                        { return n.privVal.GetAddress() }
func (n *Node) Config() *cfg.Config                    { return n.config }
func (n *Node) GenesisDoc() *types.GenesisDoc          { return n.genDoc }
func (n *Node) Ledger() *ledger.Ledger                 { return n.ledger }
func (n *Node) Mempool() *mempool.PriorityMempool      { return n.mempool }
func (n *Node) Validators() *consensus.ValidatorPool   { return n.validators }
func (n *Node) Consensus() *consensus.ConsensusManager { return n.consensus }
func (n *Node) Network() *p2p.Network                  { return n.network }
func (n *Node) Contracts() *contract.Engine            { return n.contracts }
func (n *Node) MetricSet() *metric.MetricSet           { return n.metricSet }

// SetValidating turns the validation cycle on or off.
func (n *Node) SetValidating(v bool) {
	n.stateMtx.Lock()
	n.validating = v
	n.stateMtx.Unlock()
	n.touch()
}

func (n *Node) IsValidating() bool {
	n.stateMtx.RLock()
	defer n.stateMtx.RUnlock()
	return n.validating
}

// NodeState returns the current lifecycle flags. Syncing is set while some
// peer reported a longer chain than ours.
func (n *Node) NodeState() types.NodeState {
	height := n.ledger.Height()
	n.stateMtx.RLock()
	defer n.stateMtx.RUnlock()
	return types.NodeState{
		Running:         n.IsRunning(),
		Validating:      n.validating,
		Syncing:         n.bestPeerHeight > height,
		Degraded:        n.network.IsDegraded(),
		LastBlockHeight: height,
		LastUpdate:      n.lastUpdate,
	}
}

func (n *Node) touch() {
	n.stateMtx.Lock()
	n.lastUpdate = time.Now()
	n.stateMtx.Unlock()
}

func (n *Node) observePeerHeight(height int64) {
	n.stateMtx.Lock()
	if height > n.bestPeerHeight {
		n.bestPeerHeight = height
	}
	n.stateMtx.Unlock()
}

func (n *Node) activeValidators() int {
	count := 0
	for _, v := range n.validators.Validators() {
		if v.Active {
			count++
		}
	}
	return count
}

//-----------------------------------------------------------------------------
// client operations

// SubmitTransaction admits tx to the local mempool and gossips it to every
// peer. Transactions failing their hash or signature checks return
// ErrInvalidTransaction.
func (n *Node) SubmitTransaction(tx *types.Tx, priority int) error {
	if err := n.mempool.CheckTx(tx, mempool.TxInfo{Priority: priority}); err != nil {
		var invalid ErrInvalidTransaction
		if errors.As(err, &invalid) {
			return invalid
		}
		return err
	}
	n.Logger.Info("accepted tx", "tx", tx, "priority", priority)
	n.broadcast(p2p.MsgTransaction, tx)
	return nil
}

// DeployContract deploys bytecode owned by this node and announces it.
func (n *Node) DeployContract(bytecode string) (string, error) {
	addr, err := n.contracts.Deploy(bytecode, n.Address())
	if err != nil {
		return "", err
	}
	n.broadcast(p2p.MsgContractDeployment, p2p.ContractDeployment{Bytecode: bytecode, Owner: n.Address()})
	return addr, nil
}

// ExecuteContract calls method as this node and announces the call.
func (n *Node) ExecuteContract(address, method string, params []string) error {
	if err := n.contracts.Execute(address, method, params, n.Address()); err != nil {
		return err
	}
	n.broadcast(p2p.MsgContractExecution, p2p.ContractExecution{
		Address: address,
		Method:  method,
		Params:  params,
		Caller:  n.Address(),
	})
	return nil
}
