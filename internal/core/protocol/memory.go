package protocol

import (
	"sync"

	"github.com/aesync/aesync/internal/core/observability/log"
)

// MemoryTransport is an in-process Transport. Two transports linked with
// ConnectMemory exchange messages through each other's event queues, which
// makes the full replication path testable without sockets.
type MemoryTransport struct {
	core transportCore

	mu             sync.Mutex
	links          map[ConnectionID]*memoryLink
	dropUnreliable bool
}

type memoryLink struct {
	remote *MemoryTransport
	// How the remote end names this connection.
	remoteID ConnectionID
}

var _ Transport = (*MemoryTransport)(nil)

func NewMemoryTransport(lg log.Log) *MemoryTransport {
	t := &MemoryTransport{
		core:  newTransportCore(lg),
		links: make(map[ConnectionID]*memoryLink),
	}
	t.core.disconnect = t.Disconnect
	return t
}

// SetDropUnreliable makes the transport silently drop unreliable sends,
// simulating total datagram loss.
func (t *MemoryTransport) SetDropUnreliable(drop bool) {
	t.mu.Lock()
	t.dropUnreliable = drop
	t.mu.Unlock()
}

func (t *MemoryTransport) SetHandler(h Handler) {
	t.core.setHandler(h)
}

// Listen marks the transport as accepting links.
func (t *MemoryTransport) Listen(string) error {
	if t.core.getState() == StateClosed {
		return ErrTransportClosed
	}
	t.core.setState(StateConnected)
	return nil
}

// Dial is not meaningful for a memory transport; use ConnectMemory.
func (t *MemoryTransport) Dial(string) error {
	return ErrConnectionUnknown
}

// ConnectMemory links t to host, queueing a join on both sides. It returns
// the id under which host appears on t.
func (t *MemoryTransport) ConnectMemory(host *MemoryTransport) ConnectionID {
	localID := newConnectionID()  // host, as seen from t
	remoteID := newConnectionID() // t, as seen from host

	t.mu.Lock()
	t.links[localID] = &memoryLink{remote: host, remoteID: remoteID}
	t.mu.Unlock()

	host.mu.Lock()
	host.links[remoteID] = &memoryLink{remote: t, remoteID: localID}
	host.mu.Unlock()

	t.core.setState(StateConnected)
	t.core.pushJoin(localID)
	host.core.pushJoin(remoteID)
	return localID
}

func (t *MemoryTransport) Send(except ConnectionID, buf *Buffer, broadcast, reliable bool) error {
	defer buf.Release()

	t.mu.Lock()
	targets := make([]*memoryLink, 0, len(t.links))
	if broadcast {
		for id, link := range t.links {
			if id == except {
				continue
			}
			targets = append(targets, link)
		}
	} else {
		link, ok := t.links[except]
		if !ok {
			t.mu.Unlock()
			return ErrConnectionUnknown
		}
		targets = append(targets, link)
	}
	t.mu.Unlock()

	for _, link := range targets {
		if !reliable {
			link.remote.mu.Lock()
			drop := link.remote.dropUnreliable
			link.remote.mu.Unlock()
			if drop {
				continue
			}
		}

		// Each envelope holds its own reference for the duration of the
		// delivery, mirroring the socket transports.
		buf.Retain()
		data := append([]byte(nil), buf.Bytes()...)
		buf.Release()
		link.remote.core.pushMessage(link.remoteID, data)
	}
	return nil
}

func (t *MemoryTransport) Update() {
	t.core.update()
}

func (t *MemoryTransport) Disconnect(id ConnectionID) {
	t.mu.Lock()
	link, ok := t.links[id]
	if ok {
		delete(t.links, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	t.core.pushLeave(id)

	remote := link.remote
	remote.mu.Lock()
	_, stillLinked := remote.links[link.remoteID]
	delete(remote.links, link.remoteID)
	remote.mu.Unlock()
	if stillLinked {
		remote.core.pushLeave(link.remoteID)
	}
}

func (t *MemoryTransport) AddWarning(id ConnectionID) {
	t.core.addWarning(id)
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	ids := make([]ConnectionID, 0, len(t.links))
	for id := range t.links {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.Disconnect(id)
	}
	t.core.setState(StateClosed)
	return nil
}

func (t *MemoryTransport) State() TransportState {
	return t.core.getState()
}

func (t *MemoryTransport) ConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.links)
}
