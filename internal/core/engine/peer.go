package engine

import (
	"github.com/aesync/aesync/internal/core/replication"
)

// Peer is the mirroring side: it connects to a host and applies the
// replication stream to its local store and world. Peers never simulate
// authoritatively; local systems may read the mirrored state freely.
type Peer struct {
	ctx  *Context
	recv *replication.Peer
}

func NewPeer(ctx *Context) *Peer {
	p := &Peer{
		ctx:  ctx,
		recv: replication.NewPeer(ctx.Manager, ctx.Transport, ctx.Log),
	}
	ctx.Transport.SetHandler(p.recv)
	return p
}

// Dial connects to the configured host address.
func (p *Peer) Dial() error {
	return p.ctx.Transport.Dial(p.ctx.Config().DialAddr)
}

// Update drains the transport and applies the next buffered snapshot tick,
// if it has arrived. Call once per local tick.
func (p *Peer) Update() error {
	p.ctx.Transport.Update()
	return p.recv.Advance()
}

// Synced reports whether the initial full snapshot has been applied.
func (p *Peer) Synced() bool {
	return p.recv.Synced()
}

// ServerTick is the next snapshot tick the peer expects to apply.
func (p *Peer) ServerTick() uint64 {
	return p.recv.Tick()
}
