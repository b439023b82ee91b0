package engine

import (
	"fmt"

	"github.com/aesync/aesync/internal/core/observability/log"
	"github.com/aesync/aesync/internal/core/protocol"
	"github.com/aesync/aesync/internal/core/replication"
)

// Host is the authoritative side: it simulates, compiles snapshots, and
// serves full syncs to joining or desynced peers.
//
// Replication runs at its own cadence (UPS), at most once per simulation
// tick; a config asking for more snapshots than ticks is clamped with a
// warning. The snapshot tick counter is independent of the simulation tick
// so the peers' reorder buffers see a gap-free stream.
type Host struct {
	ctx      *Context
	compiler *replication.Compiler

	// Simulation ticks per snapshot.
	ticksPerSnapshot uint64
	simTick          uint64
	// Tick stamp for the next compiled snapshot.
	nextSnapshot uint64
}

var _ protocol.Handler = (*Host)(nil)

func NewHost(ctx *Context) *Host {
	cfg := ctx.Config()
	ratio := uint64(1)
	if cfg.UPS > cfg.TPS {
		ctx.Log.Warn("replication rate exceeds tick rate, clamping",
			log.Int("ups", cfg.UPS),
			log.Int("tps", cfg.TPS))
	} else {
		ratio = uint64(cfg.TPS / cfg.UPS)
	}

	h := &Host{
		ctx:              ctx,
		compiler:         replication.NewCompiler(ctx.Manager, ctx.Transport, ctx.Log),
		ticksPerSnapshot: ratio,
		nextSnapshot:     1,
	}
	ctx.Transport.SetHandler(h)
	return h
}

// Listen starts accepting peers on the configured address.
func (h *Host) Listen() error {
	return h.ctx.Transport.Listen(h.ctx.Config().ListenAddr)
}

// BeginTick resets the snapshot compiler and drains transport events. Call
// it at the top of every simulation tick, before the game systems run.
func (h *Host) BeginTick() {
	h.compiler.Reset()
	h.ctx.Transport.Update()
}

// EndTick flushes deferred state transitions and, on snapshot ticks,
// compiles and broadcasts the delta.
func (h *Host) EndTick() error {
	h.ctx.flushStateTransition()
	h.simTick++

	if h.simTick%h.ticksPerSnapshot != 0 {
		return nil
	}
	tick := h.nextSnapshot
	h.nextSnapshot++
	if err := h.compiler.Compile(tick); err != nil {
		return fmt.Errorf("compile snapshot %d: %w", tick, err)
	}
	return nil
}

func (h *Host) OnJoin(id protocol.ConnectionID) {
	h.ctx.Log.Info("peer joined", log.String("connection", id.String()))
	// The snapshot is stamped with the last compiled tick so the peer's
	// next expected delta lines up with the stream.
	if err := h.compiler.SendFull(id, h.nextSnapshot-1); err != nil {
		h.ctx.Log.Error("initial full sync failed",
			log.String("connection", id.String()),
			log.Error(err))
	}
}

func (h *Host) OnLeave(id protocol.ConnectionID) {
	h.ctx.Log.Info("peer left", log.String("connection", id.String()))
}

func (h *Host) OnMessage(id protocol.ConnectionID, data []byte) error {
	r := protocol.NewReader(data)
	header := protocol.Header(r.U8())
	if r.Err() != nil {
		return r.Err()
	}

	switch header {
	case protocol.HeaderRequestFullSnapshot:
		h.ctx.Log.Info("peer requested full sync",
			log.String("connection", id.String()))
		return h.compiler.SendFull(id, h.nextSnapshot-1)
	default:
		return fmt.Errorf("%w: %s from peer", protocol.ErrInvalidHeader, header)
	}
}
