package protocol

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aesync/aesync/internal/core/observability/log"
)

const wsSendQueueSize = 64

// WebSocketTransport carries every message as a binary WebSocket frame.
// The underlying TCP stream is always reliable, so the unreliable channel is
// approximated by dropping sends when a connection's queue is full instead
// of stalling the tick loop.
type WebSocketTransport struct {
	core transportCore

	mu     sync.Mutex
	server *http.Server
	conns  map[ConnectionID]*wsConn

	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type wsConn struct {
	id     ConnectionID
	conn   *websocket.Conn
	sendQ  chan *Buffer
	closed chan struct{}
	once   sync.Once
}

var _ Transport = (*WebSocketTransport)(nil)

func NewWebSocketTransport(lg log.Log) *WebSocketTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &WebSocketTransport{
		core:  newTransportCore(lg),
		conns: make(map[ConnectionID]*wsConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	t.core.disconnect = t.Disconnect
	return t
}

func (t *WebSocketTransport) SetHandler(h Handler) {
	t.core.setHandler(h)
}

func (t *WebSocketTransport) Listen(addr string) error {
	if t.core.getState() != StateNone {
		return ErrTransportOpen
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleUpgrade)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	t.mu.Lock()
	t.server = server
	t.mu.Unlock()
	t.core.setState(StateConnected)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_ = server.Serve(listener)
	}()
	return nil
}

func (t *WebSocketTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.core.log.Warn("websocket upgrade failed", log.Error(err))
		return
	}
	t.startConn(conn)
}

func (t *WebSocketTransport) Dial(addr string) error {
	if t.core.getState() != StateNone {
		return ErrTransportOpen
	}
	t.core.setState(StateConnecting)

	url := addr
	if !strings.Contains(url, "://") {
		url = "ws://" + url
	}

	conn, _, err := websocket.DefaultDialer.DialContext(t.ctx, url, nil)
	if err != nil {
		t.core.setState(StateNone)
		return err
	}

	t.core.setState(StateConnected)
	t.startConn(conn)
	return nil
}

func (t *WebSocketTransport) startConn(conn *websocket.Conn) {
	wc := &wsConn{
		id:     newConnectionID(),
		conn:   conn,
		sendQ:  make(chan *Buffer, wsSendQueueSize),
		closed: make(chan struct{}),
	}

	t.mu.Lock()
	t.conns[wc.id] = wc
	t.mu.Unlock()

	t.core.pushJoin(wc.id)

	t.wg.Add(2)
	go t.readLoop(wc)
	go t.writeLoop(wc)
}

func (t *WebSocketTransport) readLoop(wc *wsConn) {
	defer t.wg.Done()

	for {
		messageType, data, err := wc.conn.ReadMessage()
		if err != nil {
			t.dropConn(wc)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		t.core.pushMessage(wc.id, data)
	}
}

func (t *WebSocketTransport) writeLoop(wc *wsConn) {
	defer t.wg.Done()

	for {
		select {
		case buf := <-wc.sendQ:
			err := wc.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
			buf.Release()
			if err != nil {
				t.dropConn(wc)
				return
			}
		case <-wc.closed:
			for {
				select {
				case buf := <-wc.sendQ:
					buf.Release()
				default:
					return
				}
			}
		}
	}
}

func (t *WebSocketTransport) Send(except ConnectionID, buf *Buffer, broadcast, reliable bool) error {
	defer buf.Release()

	t.mu.Lock()
	targets := make([]*wsConn, 0, len(t.conns))
	if broadcast {
		for id, wc := range t.conns {
			if id == except {
				continue
			}
			targets = append(targets, wc)
		}
	} else {
		wc, ok := t.conns[except]
		if !ok {
			t.mu.Unlock()
			return ErrConnectionUnknown
		}
		targets = append(targets, wc)
	}
	t.mu.Unlock()

	for _, wc := range targets {
		buf.Retain()

		if reliable {
			select {
			case wc.sendQ <- buf:
			case <-wc.closed:
				buf.Release()
			case <-t.ctx.Done():
				buf.Release()
			}
		} else {
			select {
			case wc.sendQ <- buf:
			default:
				// Backpressure on the unreliable channel is packet loss.
				buf.Release()
				if !broadcast {
					return ErrSendQueueFull
				}
			}
		}
	}
	return nil
}

func (t *WebSocketTransport) Update() {
	t.core.update()
}

func (t *WebSocketTransport) Disconnect(id ConnectionID) {
	t.mu.Lock()
	wc, ok := t.conns[id]
	t.mu.Unlock()
	if ok {
		t.dropConn(wc)
	}
}

func (t *WebSocketTransport) dropConn(wc *wsConn) {
	wc.once.Do(func() {
		t.mu.Lock()
		delete(t.conns, wc.id)
		t.mu.Unlock()

		close(wc.closed)
		_ = wc.conn.Close()
		t.core.pushLeave(wc.id)
	})
}

func (t *WebSocketTransport) AddWarning(id ConnectionID) {
	t.core.addWarning(id)
}

func (t *WebSocketTransport) Close() error {
	t.cancel()

	t.mu.Lock()
	server := t.server
	t.server = nil
	conns := make([]*wsConn, 0, len(t.conns))
	for _, wc := range t.conns {
		conns = append(conns, wc)
	}
	t.mu.Unlock()

	for _, wc := range conns {
		t.dropConn(wc)
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = server.Shutdown(shutdownCtx)
		cancel()
	}

	t.core.setState(StateClosed)
	t.wg.Wait()
	return nil
}

func (t *WebSocketTransport) State() TransportState {
	return t.core.getState()
}

func (t *WebSocketTransport) ConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
