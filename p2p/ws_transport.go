package p2p

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
	tmrand "github.com/tendermint/tendermint/libs/rand"
)

const (
	wsPath      = "/p2p"
	wsFromParam = "from"
)

// WSTransport carries frames over websocket connections. Every node dials its
// own outbound connection per target, inbound connections are read-only.
type WSTransport struct {
	listenAddr string
	localAddr  string
	maxMsgSize int
	timeout    time.Duration

	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	consumerCh chan Envelope

	mtx    sync.Mutex
	conns  map[string]*wsConn
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup

	logger log.Logger
}

type wsConn struct {
	wmtx  sync.Mutex
	conn  *websocket.Conn
	pongs chan string
}

var _ Transport = (*WSTransport)(nil)

// NewWSTransport creates a transport listening on listenAddr
// ("tcp://host:port" or "host:port").
func NewWSTransport(listenAddr string, maxMsgSize int, timeout time.Duration, logger log.Logger) *WSTransport {
	return &WSTransport{
		listenAddr: strings.TrimPrefix(listenAddr, "tcp://"),
		maxMsgSize: maxMsgSize,
		timeout:    timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer:     &websocket.Dialer{HandshakeTimeout: timeout},
		consumerCh: make(chan Envelope, 1024),
		conns:      make(map[string]*wsConn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (t *WSTransport) Listen() error {
	ln, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", t.listenAddr)
	}
	t.listener = ln
	t.localAddr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, t.handleInbound)
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: t.timeout}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.logger.Error("p2p listener stopped", "err", err)
		}
	}()
	return nil
}

func (t *WSTransport) LocalAddr() string {
	if t.localAddr == "" {
		return t.listenAddr
	}
	return t.localAddr
}

func (t *WSTransport) Consumer() <-chan Envelope {
	return t.consumerCh
}

func (t *WSTransport) handleInbound(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Debug("failed to upgrade inbound connection", "remote", r.RemoteAddr, "err", err)
		return
	}
	from := r.URL.Query().Get(wsFromParam)
	c := &wsConn{conn: conn}
	if !t.track(c) {
		conn.Close()
		return
	}
	defer t.wg.Done()
	t.readLoop(c, from, true)
}

// track registers an inbound connection so Close can shut it and wait for
// its reader.
func (t *WSTransport) track(c *wsConn) bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.closed {
		return false
	}
	t.conns["in:"+c.conn.RemoteAddr().String()] = c
	t.wg.Add(1)
	return true
}

// readLoop forwards data frames (inbound only) and pong frames to waiting pings.
func (t *WSTransport) readLoop(c *wsConn, from string, inbound bool) {
	c.conn.SetReadLimit(int64(t.maxMsgSize) + 1)
	c.conn.SetPongHandler(func(nonce string) error {
		if c.pongs != nil {
			select {
			case c.pongs <- nonce:
			default:
			}
		}
		return nil
	})
	defer func() {
		c.conn.Close()
		t.mtx.Lock()
		if inbound {
			delete(t.conns, "in:"+c.conn.RemoteAddr().String())
		} else if t.conns[from] == c {
			delete(t.conns, from)
		}
		t.mtx.Unlock()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug("connection read failed", "from", from, "err", err)
			}
			return
		}
		if !inbound {
			continue
		}
		select {
		case t.consumerCh <- Envelope{From: from, Data: data}:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) Send(ctx context.Context, addr string, data []byte) error {
	c, err := t.dial(ctx, addr)
	if err != nil {
		return err
	}
	c.wmtx.Lock()
	defer c.wmtx.Unlock()

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.drop(addr, c)
		return errors.Wrapf(err, "send to %s", addr)
	}
	return nil
}

// Ping sends a websocket ping and waits for the matching pong.
func (t *WSTransport) Ping(ctx context.Context, addr string) (time.Duration, error) {
	c, err := t.dial(ctx, addr)
	if err != nil {
		return 0, err
	}
	nonce := tmrand.Str(8)
	start := time.Now()

	c.wmtx.Lock()
	err = c.conn.WriteControl(websocket.PingMessage, []byte(nonce), start.Add(t.timeout))
	c.wmtx.Unlock()
	if err != nil {
		t.drop(addr, c)
		return 0, errors.Wrapf(err, "ping %s", addr)
	}

	for {
		select {
		case got := <-c.pongs:
			if got == nonce {
				return time.Since(start), nil
			}
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-t.done:
			return 0, ErrTransportClosed
		}
	}
}

func (t *WSTransport) dial(ctx context.Context, addr string) (*wsConn, error) {
	t.mtx.Lock()
	if t.closed {
		t.mtx.Unlock()
		return nil, ErrTransportClosed
	}
	if c, ok := t.conns[addr]; ok {
		t.mtx.Unlock()
		return c, nil
	}
	t.mtx.Unlock()

	u := url.URL{
		Scheme:   "ws",
		Host:     strings.TrimPrefix(addr, "tcp://"),
		Path:     wsPath,
		RawQuery: url.Values{wsFromParam: {t.LocalAddr()}}.Encode(),
	}
	conn, _, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	c := &wsConn{conn: conn, pongs: make(chan string, 1)}

	t.mtx.Lock()
	if t.closed {
		t.mtx.Unlock()
		conn.Close()
		return nil, ErrTransportClosed
	}
	if existing, ok := t.conns[addr]; ok {
		t.mtx.Unlock()
		conn.Close()
		return existing, nil
	}
	t.conns[addr] = c
	t.wg.Add(1)
	t.mtx.Unlock()

	go func() {
		defer t.wg.Done()
		t.readLoop(c, addr, false)
	}()
	return c, nil
}

func (t *WSTransport) drop(addr string, c *wsConn) {
	t.mtx.Lock()
	if t.conns[addr] == c {
		delete(t.conns, addr)
	}
	t.mtx.Unlock()
	c.conn.Close()
}

func (t *WSTransport) Close() error {
	t.mtx.Lock()
	if t.closed {
		t.mtx.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conns := t.conns
	t.conns = make(map[string]*wsConn)
	t.mtx.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}
	var err error
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		err = t.server.Shutdown(ctx)
		cancel()
	}
	t.wg.Wait()
	return err
}
