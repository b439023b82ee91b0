package replication

import (
	"fmt"

	"github.com/aesync/aesync/internal/core/observability/log"
	"github.com/aesync/aesync/internal/core/protocol"
)

// MaxBufferedTicks is how many unapplied ticks a peer buffers before it
// assumes the stream has desynced and requests a full snapshot.
const MaxBufferedTicks = 30

// tickDeltas is the buffered payloads for one tick, split by channel.
type tickDeltas struct {
	reliable   []byte
	unreliable []byte
}

// Peer is the receiving side of the replication stream. Incoming delta
// entries are buffered by tick and applied in tick order, one tick per
// Advance. The reliable entry opens a tick's buffer slot; datagrams only
// attach to an open slot and are otherwise dropped as lost.
//
// A peer is unsynced until its first full snapshot lands; deltas received
// before that stay buffered. When more than MaxBufferedTicks ticks pile up
// unapplied, the peer sends a single full snapshot request and suppresses
// further requests until the snapshot arrives.
type Peer struct {
	manager   *Manager
	transport protocol.Transport
	log       log.Log

	host   protocol.ConnectionID
	synced bool
	// Next tick to apply; meaningless until synced.
	tick    uint64
	pending map[uint64]*tickDeltas

	fullRequested bool
}

var _ protocol.Handler = (*Peer)(nil)

func NewPeer(manager *Manager, transport protocol.Transport, lg log.Log) *Peer {
	return &Peer{
		manager:   manager,
		transport: transport,
		log:       lg,
		pending:   make(map[uint64]*tickDeltas),
	}
}

func (p *Peer) Synced() bool { return p.synced }

// Tick returns the next tick the peer expects to apply.
func (p *Peer) Tick() uint64 { return p.tick }

// PendingTicks returns how many ticks are buffered but not yet applied.
func (p *Peer) PendingTicks() int { return len(p.pending) }

func (p *Peer) OnJoin(id protocol.ConnectionID) {
	p.host = id
	p.log.Info("connected to host", log.String("connection", id.String()))
}

func (p *Peer) OnLeave(id protocol.ConnectionID) {
	p.log.Info("disconnected from host", log.String("connection", id.String()))
	p.host = protocol.InvalidConnection
	p.synced = false
	p.fullRequested = false
	clear(p.pending)
}

func (p *Peer) OnMessage(id protocol.ConnectionID, data []byte) error {
	r := protocol.NewReader(data)
	header := protocol.Header(r.U8())

	switch header {
	case protocol.HeaderDeltaSnapshot:
		return p.bufferDeltas(r)
	case protocol.HeaderFullSnapshot:
		return p.applyFull(r)
	default:
		return fmt.Errorf("%w: %s", protocol.ErrInvalidHeader, header)
	}
}

// bufferDeltas stores every entry in the message into the reorder buffer.
func (p *Peer) bufferDeltas(r *protocol.Reader) error {
	for r.Remaining() > 0 {
		tick := r.U64()
		length := r.U32()
		payload := r.Bytes(int(length))
		if r.Err() != nil {
			return fmt.Errorf("delta entry at tick %d: %w", tick, r.Err())
		}
		if len(payload) == 0 {
			return fmt.Errorf("delta entry at tick %d: %w", tick, protocol.ErrShortBuffer)
		}

		if payload[0]&flagLowPriority != 0 {
			// Datagrams attach to an already buffered tick or are treated
			// as lost: too late if the tick was applied, too early if its
			// reliable entry has not arrived yet.
			if entry, ok := p.pending[tick]; ok {
				entry.unreliable = payload
			}
			continue
		}

		if p.synced && tick < p.tick {
			p.log.Warn("reliable delta arrived for an already applied tick",
				log.Uint64("tick", tick),
				log.Uint64("expected", p.tick))
			continue
		}

		entry := p.pending[tick]
		if entry == nil {
			entry = &tickDeltas{}
			p.pending[tick] = entry
		}
		entry.reliable = payload
	}

	p.checkDesync()
	return nil
}

func (p *Peer) applyFull(r *protocol.Reader) error {
	tick := r.U64()
	if err := p.manager.ApplyFull(r); err != nil {
		return fmt.Errorf("apply full snapshot: %w", err)
	}

	// Everything at or before the snapshot tick is baked into it.
	for t := range p.pending {
		if t <= tick {
			delete(p.pending, t)
		}
	}

	p.tick = tick + 1
	p.synced = true
	p.fullRequested = false
	p.log.Info("applied full snapshot", log.Uint64("tick", tick))
	return nil
}

// Advance applies the next tick's buffered deltas, if they have arrived.
// Call it once per local tick.
func (p *Peer) Advance() error {
	if !p.synced {
		return nil
	}

	entry, ok := p.pending[p.tick]
	if !ok {
		p.checkDesync()
		return nil
	}
	delete(p.pending, p.tick)

	if err := p.manager.ApplyDelta(protocol.NewReader(entry.reliable)); err != nil {
		return fmt.Errorf("apply delta at tick %d: %w", p.tick, err)
	}
	if entry.unreliable != nil {
		if err := p.manager.ApplyDelta(protocol.NewReader(entry.unreliable)); err != nil {
			return fmt.Errorf("apply unreliable delta at tick %d: %w", p.tick, err)
		}
	}

	p.tick++
	return nil
}

// checkDesync requests a full snapshot once the buffer outgrows
// MaxBufferedTicks. The request is single-shot until a snapshot lands.
func (p *Peer) checkDesync() {
	if p.fullRequested || len(p.pending) <= MaxBufferedTicks {
		return
	}
	if p.host == protocol.InvalidConnection {
		return
	}

	p.log.Warn("replication stream desynced, requesting full snapshot",
		log.Int("buffered_ticks", len(p.pending)),
		log.Uint64("expected_tick", p.tick))

	buf := protocol.NewBuffer()
	protocol.NewWriter(buf).U8(uint8(protocol.HeaderRequestFullSnapshot))
	if err := p.transport.Send(p.host, buf, false, true); err != nil {
		p.log.Error("full snapshot request failed", log.Error(err))
		return
	}
	p.fullRequested = true
}
