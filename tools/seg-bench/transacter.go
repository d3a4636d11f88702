package main

import (
	"fmt"
	// it is ok to use math/rand here: picking senders and recipients does not
	// need a cryptographically secure generator
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
	jsonrpc "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"segchain/crypto"
	"segchain/libs/utils"
	"segchain/types"
	"segchain/wallet"
)

const (
	sendTimeout = 10 * time.Second
	// the rpc server drops websocket connections that go quiet for 30s
	pingPeriod = (30 * 9 / 10) * time.Second
)

// transacter pushes signed MESSAGE transactions to a node over websocket
// JSON-RPC at a fixed rate per connection and records how long the node
// takes to answer each broadcast_tx.
type transacter struct {
	Target      string
	Rate        int
	Connections int
	Accounts    int
	Priority    int

	wallets []*wallet.Wallet
	conns   []*websocket.Conn
	quit    chan struct{}

	startingWg sync.WaitGroup
	endingWg   sync.WaitGroup

	mtx       sync.Mutex
	pending   map[int]time.Time
	latencies []float64
	accepted  int
	rejected  int
	nextID    int

	logger log.Logger
}

func newTransacter(target string, connections, rate, accounts, priority int) *transacter {
	return &transacter{
		Target:      target,
		Rate:        rate,
		Connections: connections,
		Accounts:    accounts,
		Priority:    priority,
		conns:       make([]*websocket.Conn, connections),
		pending:     make(map[int]time.Time),
		logger:      log.NewNopLogger(),
	}
}

// SetLogger lets you set your own logger
func (t *transacter) SetLogger(l log.Logger) {
	t.logger = l
}

// Start generates the sender wallets, opens N = `t.Connections` connections
// to the target and creates read and write goroutines for each connection.
func (t *transacter) Start() error {
	if t.Accounts < 2 {
		return errors.New("at least two accounts are needed to exchange messages")
	}
	p := crypto.NewKyberProvider()
	t.wallets = make([]*wallet.Wallet, t.Accounts)
	for i := range t.wallets {
		w, err := wallet.NewWallet(p)
		if err != nil {
			return err
		}
		t.wallets[i] = w
	}

	for i := 0; i < t.Connections; i++ {
		c, _, err := connect(t.Target)
		if err != nil {
			return errors.Wrapf(err, "connect to %s", t.Target)
		}
		t.conns[i] = c
	}

	t.quit = make(chan struct{})
	t.startingWg.Add(t.Connections)
	t.endingWg.Add(2 * t.Connections)
	for i := 0; i < t.Connections; i++ {
		go t.sendLoop(i)
		go t.receiveLoop(i)
	}

	t.startingWg.Wait()

	return nil
}

// Stop closes the connections.
func (t *transacter) Stop() {
	close(t.quit)
	for _, c := range t.conns {
		// unblocks the reader once the close handshake is done
		_ = c.SetReadDeadline(time.Now().Add(sendTimeout))
	}
	t.endingWg.Wait()
	for _, c := range t.conns {
		c.Close()
	}
}

// Report summarizes the answers received so far.
type Report struct {
	Accepted int
	Rejected int
	Pending  int
	Min      time.Duration
	Median   time.Duration
	P99      time.Duration
	Max      time.Duration
	Avg      time.Duration
}

func (t *transacter) Report() Report {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	seconds := func(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }
	return Report{
		Accepted: t.accepted,
		Rejected: t.rejected,
		Pending:  len(t.pending),
		Min:      seconds(utils.Min(t.latencies...)),
		Median:   seconds(utils.Median(t.latencies...)),
		P99:      seconds(utils.Percentile(99, t.latencies...)),
		Max:      seconds(utils.Max(t.latencies...)),
		Avg:      seconds(utils.Avg(t.latencies...)),
	}
}

func (t *transacter) stopped() bool {
	select {
	case <-t.quit:
		return true
	default:
		return false
	}
}

// receiveLoop reads broadcast_tx answers from the connection.
func (t *transacter) receiveLoop(connIndex int) {
	c := t.conns[connIndex]
	defer t.endingWg.Done()
	for {
		var resp jsonrpc.RPCResponse
		if err := c.ReadJSON(&resp); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !t.stopped() {
				t.logger.Error(fmt.Sprintf("failed to read response on conn %d", connIndex), "err", err)
			}
			return
		}
		t.record(resp)
	}
}

func (t *transacter) record(resp jsonrpc.RPCResponse) {
	id, ok := resp.ID.(jsonrpc.JSONRPCIntID)
	if !ok {
		return
	}
	var res struct {
		Code string `json:"code"`
	}
	accepted := resp.Error == nil && json.Unmarshal(resp.Result, &res) == nil && res.Code == "0"

	t.mtx.Lock()
	defer t.mtx.Unlock()
	sent, ok := t.pending[int(id)]
	if !ok {
		return
	}
	delete(t.pending, int(id))
	t.latencies = append(t.latencies, time.Since(sent).Seconds())
	if accepted {
		t.accepted++
	} else {
		t.rejected++
	}
}

// sendLoop generates transactions at a given rate.
func (t *transacter) sendLoop(connIndex int) {
	started := false
	// Close the starting waitgroup, in the event that this fails to start
	defer func() {
		if !started {
			t.startingWg.Done()
		}
	}()
	c := t.conns[connIndex]

	c.SetPingHandler(func(message string) error {
		err := c.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(sendTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		} else if e, ok := err.(net.Error); ok && e.Temporary() {
			return nil
		}
		return err
	})

	logger := t.logger.With("addr", c.RemoteAddr())
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(connIndex)))

	pingsTicker := time.NewTicker(pingPeriod)
	txsTicker := time.NewTicker(1 * time.Second)
	defer func() {
		pingsTicker.Stop()
		txsTicker.Stop()
		t.endingWg.Done()
	}()

	for {
		select {
		case <-txsTicker.C:
			startTime := time.Now()
			endTime := startTime.Add(time.Second)
			numTxSent := t.Rate
			if !started {
				t.startingWg.Done()
				started = true
			}

			for i := 0; i < t.Rate; i++ {
				req, err := t.nextRequest(rng)
				if err != nil {
					logger.Error("failed to build tx", "err", err)
					return
				}
				_ = c.SetWriteDeadline(time.Now().Add(sendTimeout))
				if err := c.WriteJSON(req); err != nil {
					logger.Error(errors.Wrapf(err, "txs send failed on connection #%d", connIndex).Error())
					return
				}
				if time.Now().After(endTime) {
					// Plus one accounts for sending this tx
					numTxSent = i + 1
					break
				}
			}

			timeToSend := time.Since(startTime)
			logger.Info(fmt.Sprintf("sent %d transactions", numTxSent), "took", timeToSend)

		case <-pingsTicker.C:
			_ = c.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := c.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				logger.Error(errors.Wrapf(err, "failed to write ping message on conn #%d", connIndex).Error())
			}

		case <-t.quit:
		}

		if t.stopped() {
			// To cleanly close a connection, a client should send a close
			// frame and wait for the server to close the connection.
			_ = c.SetWriteDeadline(time.Now().Add(sendTimeout))
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				logger.Error(errors.Wrapf(err, "failed to write close message on conn #%d", connIndex).Error())
			}
			return
		}
	}
}

// nextRequest signs a message between two random wallets and wraps it in a
// broadcast_tx call.
func (t *transacter) nextRequest(rng *rand.Rand) (jsonrpc.RPCRequest, error) {
	from := t.wallets[rng.Intn(len(t.wallets))]
	to := from
	for to == from {
		to = t.wallets[rng.Intn(len(t.wallets))]
	}
	tx, err := from.CreateMessage(to.Address(), to.PubKey(), fmt.Sprintf("bench %d", rng.Int63()))
	if err != nil {
		return jsonrpc.RPCRequest{}, err
	}
	return t.broadcastRequest(tx)
}

func (t *transacter) broadcastRequest(tx *types.Tx) (jsonrpc.RPCRequest, error) {
	txJSON, err := json.MarshalToString(tx)
	if err != nil {
		return jsonrpc.RPCRequest{}, err
	}
	params, err := json.Marshal(map[string]string{"tx": txJSON, "priority": strconv.Itoa(t.Priority)})
	if err != nil {
		return jsonrpc.RPCRequest{}, errors.Wrap(err, "encode params")
	}

	t.mtx.Lock()
	t.nextID++
	id := t.nextID
	t.pending[id] = time.Now()
	t.mtx.Unlock()

	return jsonrpc.RPCRequest{
		JSONRPC: "2.0",
		ID:      jsonrpc.JSONRPCIntID(id),
		Method:  "broadcast_tx",
		Params:  params,
	}, nil
}

func connect(host string) (*websocket.Conn, *http.Response, error) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/websocket"}
	return websocket.DefaultDialer.Dial(u.String(), nil)
}
