package p2p

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/cmap"
	"github.com/tendermint/tendermint/libs/service"
	tmstrings "github.com/tendermint/tendermint/libs/strings"

	cfg "segchain/config"
	"segchain/crypto"
	"segchain/types"
)

// discovery won't redial an evicted address for this long
const evictionBackoff = time.Minute

// Handler processes a verified message from a connected peer. Handlers run on
// the single dispatch routine in arrival order and must not block on the
// network.
type Handler func(peer *Peer, msg *Message)

type inbound struct {
	from string
	msg  *Message
}

type handshakeResult struct {
	peer *Peer
	err  error
}

// Network keeps the registry of handshaked peers, drains inbound frames into
// one ordered queue dispatched by message type, and prunes peers that fail a
// send or respond too slowly.
type Network struct {
	service.BaseService

	config       *cfg.P2PConfig
	crypto       crypto.Provider
	privKey      []byte
	pubKey       []byte
	nodeID       string
	capabilities []string

	transport Transport
	codec     Codec

	// node id -> *Peer; regMtx serializes check-then-set updates
	peers   *cmap.CMap
	regMtx  sync.Mutex
	evicted *cmap.CMap // addr -> time.Time

	hmtx     sync.RWMutex
	handlers map[MessageType]Handler

	// pmtx guards outbound handshakes in flight and addresses being dialed
	pmtx    sync.Mutex
	pending map[string]chan handshakeResult
	dialing map[string]struct{}

	inbox chan inbound
	state *NetworkState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type NetworkOption func(*Network)

// WithCapabilities sets the capabilities advertised in handshakes.
func WithCapabilities(caps ...string) NetworkOption {
	return func(n *Network) { n.capabilities = caps }
}

// WithCodec overrides the codec selected by config.
func WithCodec(c Codec) NetworkOption {
	return func(n *Network) { n.codec = c }
}

func NewNetwork(
	config *cfg.P2PConfig,
	provider crypto.Provider,
	privKey []byte,
	transport Transport,
	options ...NetworkOption,
) (*Network, error) {
	pubKey, err := provider.PubKey(privKey)
	if err != nil {
		return nil, errors.Wrap(err, "derive node public key")
	}
	codec, err := NewCodec(config.Codec)
	if err != nil {
		return nil, err
	}

	n := &Network{
		config:    config,
		crypto:    provider,
		privKey:   privKey,
		pubKey:    pubKey,
		nodeID:    provider.DeriveAddress(pubKey),
		transport: transport,
		codec:     codec,
		peers:     cmap.NewCMap(),
		evicted:   cmap.NewCMap(),
		dialing:   make(map[string]struct{}),
		handlers:  make(map[MessageType]Handler),
		pending:   make(map[string]chan handshakeResult),
		inbox:     make(chan inbound, config.InboxSize),
		state:     NewNetworkState(),
	}
	n.BaseService = *service.NewBaseService(nil, "P2P", n)
	for _, option := range options {
		option(n)
	}
	n.checkPartition()
	return n, nil
}

// AddHandler registers h for message type t. Register before Start.
func (n *Network) AddHandler(t MessageType, h Handler) {
	n.hmtx.Lock()
	defer n.hmtx.Unlock()
	n.handlers[t] = h
}

func (n *Network) OnStart() error {
	if err := n.transport.Listen(); err != nil {
		return err
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())

	n.wg.Add(3)
	go n.recvRoutine()
	go n.dispatchRoutine()
	go n.maintenanceRoutine()

	for _, addr := range n.persistentPeers() {
		n.dialAsync(addr)
	}
	return nil
}

func (n *Network) OnStop() {
	n.cancel()
	if err := n.transport.Close(); err != nil {
		n.Logger.Error("error closing transport", "err", err)
	}
	n.wg.Wait()
}

func (n *Network) NodeID() string     { return n.nodeID }
func (n *Network) PubKey() []byte     { return n.pubKey }
func (n *Network) ListenAddr() string { return n.transport.LocalAddr() }

// IsDegraded reports whether fewer than MinPeers peers are connected.
func (n *Network) IsDegraded() bool {
	return n.state.Degraded()
}

func (n *Network) State() NetworkStateSnapshot {
	return n.state.Snapshot()
}

// Stats returns the JSON snapshot item registered into the node's metric set.
func (n *Network) Stats() *NetworkState {
	return n.state
}

func (n *Network) SetActiveValidators(count int) {
	n.state.MarkActiveValidators(count)
}

//-----------------------------------------------------------------------------
// registry

// Peers returns the connected peers sorted by id.
func (n *Network) Peers() []*Peer {
	values := n.peers.Values()
	peers := make([]*Peer, 0, len(values))
	for _, v := range values {
		peers = append(peers, v.(*Peer))
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

func (n *Network) Peer(id string) (*Peer, bool) {
	v := n.peers.Get(id)
	if v == nil {
		return nil, false
	}
	return v.(*Peer), true
}

func (n *Network) NumPeers() int {
	return n.peers.Size()
}

func (n *Network) hasAddr(addr string) bool {
	for _, p := range n.Peers() {
		if p.Addr == addr {
			return true
		}
	}
	return false
}

func (n *Network) addPeer(peer *Peer) error {
	n.regMtx.Lock()
	if !n.peers.Has(peer.ID) && n.peers.Size() >= n.config.MaxPeers {
		n.regMtx.Unlock()
		return ErrPeerLimit
	}
	n.peers.Set(peer.ID, peer)
	n.regMtx.Unlock()

	n.evicted.Delete(peer.Addr)
	n.state.MarkPeers(n.peers.Size())
	n.Logger.Info("added peer", "peer", peer.ID, "addr", peer.Addr)
	n.checkPartition()
	return nil
}

// RemovePeer drops id from the registry. It only comes back through a fresh handshake.
func (n *Network) RemovePeer(id string, reason interface{}) {
	n.regMtx.Lock()
	_, ok := n.Peer(id)
	n.peers.Delete(id)
	n.regMtx.Unlock()
	if !ok {
		return
	}
	n.state.MarkPeers(n.peers.Size())
	n.Logger.Info("removed peer", "peer", id, "reason", reason)
	n.checkPartition()
}

func (n *Network) checkPartition() {
	degraded := n.peers.Size() < n.config.MinPeers
	if !n.state.setDegraded(degraded) {
		return
	}
	if degraded {
		n.Logger.Error("network degraded", "peers", n.peers.Size(), "min_peers", n.config.MinPeers)
	} else {
		n.Logger.Info("network recovered", "peers", n.peers.Size())
	}
}

//-----------------------------------------------------------------------------
// outbound

// NewSignedMessage builds a message from this node and signs it.
func (n *Network) NewSignedMessage(t MessageType, payload interface{}) (*Message, error) {
	msg, err := NewMessage(t, n.nodeID, payload)
	if err != nil {
		return nil, err
	}
	if err := msg.Sign(n.crypto, n.privKey); err != nil {
		return nil, err
	}
	return msg, nil
}

// Send delivers msg to one peer. A transport failure removes the peer.
func (n *Network) Send(peerID string, msg *Message) error {
	peer, ok := n.Peer(peerID)
	if !ok {
		return errors.Wrap(ErrUnknownPeer, peerID)
	}
	err := n.sendRaw(n.context(), peer.Addr, msg)
	if err != nil && !errors.Is(err, types.ErrCapacity) {
		n.RemovePeer(peerID, err)
	}
	return err
}

// Broadcast sends msg to every peer except the listed ids and returns how
// many sends succeeded. Failing peers are pruned, errors never propagate.
func (n *Network) Broadcast(msg *Message, except ...string) int {
	skip := make(map[string]struct{}, len(except))
	for _, id := range except {
		skip[id] = struct{}{}
	}

	var (
		wg        sync.WaitGroup
		delivered int32
	)
	for _, peer := range n.Peers() {
		if _, ok := skip[peer.ID]; ok {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := n.Send(id, msg); err != nil {
				n.Logger.Debug("broadcast send failed", "peer", id, "type", msg.Type, "err", err)
				return
			}
			atomic.AddInt32(&delivered, 1)
		}(peer.ID)
	}
	wg.Wait()
	return int(delivered)
}

func (n *Network) sendRaw(ctx context.Context, addr string, msg *Message) error {
	bz, err := n.codec.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	if len(bz) > n.config.MaxMsgSize {
		return ErrMessageTooLarge{Size: len(bz), Max: n.config.MaxMsgSize}
	}

	ctx, cancel := context.WithTimeout(ctx, n.config.SendTimeout)
	defer cancel()
	if err := n.transport.Send(ctx, addr, bz); err != nil {
		return errors.Wrap(types.ErrNetwork, err.Error())
	}
	n.state.MarkSent()
	return nil
}

func (n *Network) context() context.Context {
	if n.ctx == nil {
		return context.Background()
	}
	return n.ctx
}

//-----------------------------------------------------------------------------
// handshake

// Connect handshakes with the node at addr and returns it once it is in the
// registry.
func (n *Network) Connect(ctx context.Context, addr string) (*Peer, error) {
	if addr == n.transport.LocalAddr() {
		return nil, ErrSelfConnect
	}

	ch := make(chan handshakeResult, 1)
	n.pmtx.Lock()
	if _, ok := n.pending[addr]; ok {
		n.pmtx.Unlock()
		return nil, ErrDialInProgress
	}
	n.pending[addr] = ch
	n.pmtx.Unlock()
	defer func() {
		n.pmtx.Lock()
		delete(n.pending, addr)
		n.pmtx.Unlock()
	}()

	if err := n.sendHandshake(ctx, addr, false); err != nil {
		return nil, errors.Wrapf(err, "handshake with %s", addr)
	}

	ctx, cancel := context.WithTimeout(ctx, n.config.HandshakeTimeout)
	defer cancel()
	select {
	case res := <-ch:
		return res.peer, res.err
	case <-ctx.Done():
		return nil, errors.Wrapf(types.ErrNetwork, "handshake with %s timed out", addr)
	}
}

// markDialing claims addr for one dialer; false means a dial is already running.
func (n *Network) markDialing(addr string) bool {
	n.pmtx.Lock()
	defer n.pmtx.Unlock()
	if _, ok := n.dialing[addr]; ok {
		return false
	}
	n.dialing[addr] = struct{}{}
	return true
}

func (n *Network) unmarkDialing(addr string) {
	n.pmtx.Lock()
	delete(n.dialing, addr)
	n.pmtx.Unlock()
}

func (n *Network) dialAsync(addr string) {
	if !n.markDialing(addr) {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.unmarkDialing(addr)
		if _, err := n.Connect(n.ctx, addr); err != nil {
			n.Logger.Info("failed to connect to peer", "addr", addr, "err", err)
		}
	}()
}

func (n *Network) sendHandshake(ctx context.Context, addr string, reply bool) error {
	msg, err := n.NewSignedMessage(MsgHandshake, Handshake{
		Version:      n.config.ProtocolVersion,
		NodeID:       n.nodeID,
		PubKey:       n.pubKey,
		ListenAddr:   n.transport.LocalAddr(),
		Timestamp:    time.Now().UnixNano(),
		Capabilities: n.capabilities,
		Reply:        reply,
	})
	if err != nil {
		return err
	}
	return n.sendRaw(ctx, addr, msg)
}

func (n *Network) handleHandshake(from string, msg *Message) {
	var hs Handshake
	if err := msg.DecodePayload(&hs); err != nil {
		n.drop(msg, err)
		return
	}
	addr := hs.ListenAddr
	if addr == "" {
		addr = from
	}
	if hs.Version != n.config.ProtocolVersion {
		err := ErrVersionMismatch{Ours: n.config.ProtocolVersion, Theirs: hs.Version}
		n.drop(msg, err)
		n.resolvePending(addr, handshakeResult{err: err})
		if !hs.Reply {
			// answer with our version so the dialer fails fast
			_ = n.sendHandshake(n.context(), addr, true)
		}
		return
	}
	if hs.NodeID != msg.Sender || !msg.Verify(n.crypto, hs.PubKey) {
		n.drop(msg, errors.Wrap(types.ErrSignature, "handshake"))
		return
	}
	if hs.NodeID == n.nodeID {
		return
	}

	now := time.Now()
	peer := &Peer{
		ID:           hs.NodeID,
		Addr:         addr,
		PubKey:       hs.PubKey,
		Capabilities: hs.Capabilities,
		ConnectedAt:  now,
		LastSeen:     now,
	}
	if err := n.addPeer(peer); err != nil {
		n.drop(msg, err)
		n.resolvePending(addr, handshakeResult{err: err})
		return
	}
	if !hs.Reply {
		if err := n.sendHandshake(n.context(), addr, true); err != nil {
			n.RemovePeer(peer.ID, err)
			return
		}
	}
	n.resolvePending(addr, handshakeResult{peer: peer})
}

func (n *Network) resolvePending(addr string, res handshakeResult) {
	n.pmtx.Lock()
	ch, ok := n.pending[addr]
	n.pmtx.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- res:
	default:
	}
}

//-----------------------------------------------------------------------------
// inbound

func (n *Network) recvRoutine() {
	defer n.wg.Done()
	for {
		select {
		case env := <-n.transport.Consumer():
			msg, err := n.decode(env.Data)
			if err != nil {
				n.state.MarkDropped()
				n.Logger.Debug("dropped inbound frame", "from", env.From, "err", err)
				continue
			}
			select {
			case n.inbox <- inbound{from: env.From, msg: msg}:
			case <-n.ctx.Done():
				return
			}
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Network) decode(bz []byte) (*Message, error) {
	if len(bz) > n.config.MaxMsgSize {
		return nil, ErrMessageTooLarge{Size: len(bz), Max: n.config.MaxMsgSize}
	}
	msg := new(Message)
	if err := n.codec.Unmarshal(bz, msg); err != nil {
		return nil, errors.Wrap(types.ErrNetwork, err.Error())
	}
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (n *Network) dispatchRoutine() {
	defer n.wg.Done()
	for {
		select {
		case in := <-n.inbox:
			n.dispatch(in)
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Network) dispatch(in inbound) {
	n.state.MarkReceived()
	msg := in.msg

	if msg.Type == MsgHandshake {
		n.handleHandshake(in.from, msg)
		return
	}

	peer, ok := n.Peer(msg.Sender)
	if !ok {
		n.drop(msg, ErrUnknownPeer)
		return
	}
	if !msg.Verify(n.crypto, peer.PubKey) {
		n.drop(msg, errors.Wrap(types.ErrSignature, "message"))
		return
	}

	if msg.Type == MsgPeerDiscovery {
		n.handleDiscovery(peer, msg)
		return
	}

	n.hmtx.RLock()
	h, ok := n.handlers[msg.Type]
	n.hmtx.RUnlock()
	if !ok {
		n.Logger.Debug("no handler for message", "type", msg.Type, "peer", peer.ID)
		return
	}
	h(peer, msg)
}

func (n *Network) drop(msg *Message, reason error) {
	n.state.MarkDropped()
	n.Logger.Debug("dropped message", "type", msg.Type, "sender", msg.Sender, "reason", reason)
}

//-----------------------------------------------------------------------------
// discovery and maintenance

func (n *Network) handleDiscovery(peer *Peer, msg *Message) {
	var pd PeerDiscovery
	if err := msg.DecodePayload(&pd); err != nil {
		n.drop(msg, err)
		return
	}
	for _, addr := range pd.Peers {
		if n.NumPeers() >= n.config.MaxPeers {
			break
		}
		if addr == "" || addr == n.transport.LocalAddr() || n.hasAddr(addr) || n.recentlyEvicted(addr) {
			continue
		}
		n.dialAsync(addr)
	}
	if !pd.Request {
		return
	}
	reply, err := n.NewSignedMessage(MsgPeerDiscovery, PeerDiscovery{Peers: n.peerAddrs(peer.ID)})
	if err != nil {
		n.Logger.Error("failed to build discovery reply", "err", err)
		return
	}
	_ = n.Send(peer.ID, reply)
}

// Discover asks every peer for its peer list and redials persistent peers
// that dropped out.
func (n *Network) Discover() {
	for _, addr := range n.persistentPeers() {
		if !n.hasAddr(addr) && !n.recentlyEvicted(addr) {
			n.dialAsync(addr)
		}
	}
	if n.NumPeers() == 0 {
		return
	}
	msg, err := n.NewSignedMessage(MsgPeerDiscovery, PeerDiscovery{Peers: n.peerAddrs(""), Request: true})
	if err != nil {
		n.Logger.Error("failed to build discovery request", "err", err)
		return
	}
	n.Broadcast(msg)
}

func (n *Network) peerAddrs(except string) []string {
	peers := n.Peers()
	addrs := make([]string, 0, len(peers))
	for _, p := range peers {
		if p.ID != except {
			addrs = append(addrs, p.Addr)
		}
	}
	return addrs
}

func (n *Network) recentlyEvicted(addr string) bool {
	v := n.evicted.Get(addr)
	if v == nil {
		return false
	}
	return time.Since(v.(time.Time)) < evictionBackoff
}

func (n *Network) persistentPeers() []string {
	var addrs []string
	for _, addr := range tmstrings.SplitAndTrim(n.config.PersistentPeers, ",", " ") {
		if addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

func (n *Network) maintenanceRoutine() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.config.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.maintain()
		case <-n.ctx.Done():
			return
		}
	}
}

// maintain probes every peer once. Peers that fail the probe or answer slower
// than LatencyThreshold are evicted and replacements are looked for.
func (n *Network) maintain() {
	evicted := 0
	for _, peer := range n.Peers() {
		ctx, cancel := context.WithTimeout(n.ctx, n.config.LatencyThreshold)
		latency, err := n.transport.Ping(ctx, peer.Addr)
		cancel()

		if err == nil && latency <= n.config.LatencyThreshold {
			n.state.MarkLatency(latency)
			n.regMtx.Lock()
			if n.peers.Has(peer.ID) {
				n.peers.Set(peer.ID, peer.withLatency(latency, time.Now()))
			}
			n.regMtx.Unlock()
			continue
		}

		if err == nil {
			err = errors.Errorf("latency %v over threshold %v", latency, n.config.LatencyThreshold)
		}
		n.evicted.Set(peer.Addr, time.Now())
		n.state.MarkEvicted()
		n.RemovePeer(peer.ID, err)
		evicted++
	}
	if evicted > 0 {
		n.Discover()
	}
	n.checkPartition()
}
