package protocol

import (
	"sync"

	"github.com/google/uuid"

	"github.com/aesync/aesync/internal/core/observability/log"
)

// MaxConnectionWarnings is how many protocol warnings a connection may
// accumulate before it is forcibly disconnected.
const MaxConnectionWarnings = 5

// ConnectionID identifies one remote peer for the lifetime of its
// connection.
type ConnectionID uuid.UUID

// InvalidConnection is the zero ConnectionID. Broadcasts may pass it as the
// excluded connection to reach everyone.
var InvalidConnection = ConnectionID{}

func newConnectionID() ConnectionID {
	return ConnectionID(uuid.New())
}

func (id ConnectionID) String() string {
	return uuid.UUID(id).String()
}

// TransportState tracks the lifecycle of the transport as a whole.
type TransportState uint8

const (
	StateNone TransportState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s TransportState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives transport events. All callbacks run on the goroutine
// calling Update, never concurrently.
type Handler interface {
	OnJoin(id ConnectionID)
	OnLeave(id ConnectionID)
	// OnMessage handles one received message. Returning an error counts a
	// protocol warning against the connection.
	OnMessage(id ConnectionID, data []byte) error
}

// Transport moves opaque messages between this process and its peers.
//
// Listen and Dial report failure as an ordinary error; neither is fatal.
// Send transfers the caller's buffer reference: with broadcast set, the
// message goes to every connection except except, and the buffer is retained
// once per outgoing envelope and freed only after the last one completes.
// An unreliable unicast squeezed out by backpressure reports
// ErrSendQueueFull; broadcast treats the same condition as packet loss.
type Transport interface {
	SetHandler(h Handler)

	Listen(addr string) error
	Dial(addr string) error
	Close() error

	Send(except ConnectionID, buf *Buffer, broadcast, reliable bool) error

	// Update drains queued joins, leaves, and messages into the handler on
	// the calling goroutine.
	Update()

	Disconnect(id ConnectionID)
	AddWarning(id ConnectionID)

	State() TransportState
	ConnectionCount() int
}

type eventKind uint8

const (
	eventJoin eventKind = iota
	eventLeave
	eventMessage
)

type transportEvent struct {
	kind eventKind
	conn ConnectionID
	data []byte
}

// transportCore carries the bookkeeping every transport implementation
// shares: the handler, the lifecycle state, queued events waiting for
// Update, and per-connection warning counters.
type transportCore struct {
	mu       sync.Mutex
	handler  Handler
	state    TransportState
	events   []transportEvent
	warnings map[ConnectionID]uint32
	log      log.Log

	// disconnect forcibly closes one connection; set by the owning
	// transport before use.
	disconnect func(id ConnectionID)
}

func newTransportCore(lg log.Log) transportCore {
	return transportCore{
		warnings: make(map[ConnectionID]uint32),
		log:      lg,
	}
}

func (c *transportCore) setHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *transportCore) setState(s TransportState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *transportCore) getState() TransportState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *transportCore) pushJoin(id ConnectionID) {
	c.mu.Lock()
	c.warnings[id] = 0
	c.events = append(c.events, transportEvent{kind: eventJoin, conn: id})
	c.mu.Unlock()
}

func (c *transportCore) pushLeave(id ConnectionID) {
	c.mu.Lock()
	delete(c.warnings, id)
	c.events = append(c.events, transportEvent{kind: eventLeave, conn: id})
	c.mu.Unlock()
}

func (c *transportCore) pushMessage(id ConnectionID, data []byte) {
	c.mu.Lock()
	c.events = append(c.events, transportEvent{kind: eventMessage, conn: id, data: data})
	c.mu.Unlock()
}

// update drains the event queue into the handler on the caller's goroutine.
// Handler errors on messages count as protocol warnings.
func (c *transportCore) update() {
	c.mu.Lock()
	events := c.events
	c.events = nil
	handler := c.handler
	c.mu.Unlock()

	if handler == nil {
		return
	}

	for _, ev := range events {
		switch ev.kind {
		case eventJoin:
			handler.OnJoin(ev.conn)
		case eventLeave:
			handler.OnLeave(ev.conn)
		case eventMessage:
			if err := handler.OnMessage(ev.conn, ev.data); err != nil {
				c.log.Warn("message handling failed",
					log.String("connection", ev.conn.String()),
					log.Error(err))
				c.addWarning(ev.conn)
			}
		}
	}
}

// addWarning bumps the connection's warning counter and forces a disconnect
// once it exceeds MaxConnectionWarnings.
func (c *transportCore) addWarning(id ConnectionID) {
	c.mu.Lock()
	count, ok := c.warnings[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	count++
	c.warnings[id] = count
	disconnect := c.disconnect
	c.mu.Unlock()

	if count > MaxConnectionWarnings {
		c.log.Warn("connection exceeded max warnings, disconnecting",
			log.String("connection", id.String()),
			log.Uint32("warnings", count))
		if disconnect != nil {
			disconnect(id)
		}
	}
}
