package replication

import (
	"fmt"

	"github.com/aesync/aesync/internal/core/observability/log"
	"github.com/aesync/aesync/internal/core/protocol"
)

// CompilerState tracks where the compiler is within the current tick.
type CompilerState uint8

const (
	CompileIdle CompilerState = iota
	CompileInProgress
	CompileSent
)

func (s CompilerState) String() string {
	switch s {
	case CompileIdle:
		return "idle"
	case CompileInProgress:
		return "in-progress"
	case CompileSent:
		return "sent"
	default:
		return "unknown"
	}
}

// Compiler turns the manager's accumulated changes into tick-stamped
// snapshot messages and hands them to the transport. The host runs one per
// transport; peers never compile.
//
// Each delta entry on the wire is tick-stamped and length-prefixed:
//
//	header u8 | tick u64 | length u32 | payload
//
// so a single message can carry several entries back to back and the
// receiver can reorder them by tick.
type Compiler struct {
	manager   *Manager
	transport protocol.Transport
	log       log.Log
	state     CompilerState
}

func NewCompiler(manager *Manager, transport protocol.Transport, lg log.Log) *Compiler {
	return &Compiler{
		manager:   manager,
		transport: transport,
		log:       lg,
	}
}

func (c *Compiler) State() CompilerState {
	return c.state
}

// Reset returns the compiler to idle. The host calls it at the top of each
// tick so the state traces idle → in-progress → sent within a single tick.
func (c *Compiler) Reset() {
	c.state = CompileIdle
}

// Compile builds the delta for tick and broadcasts it. The reliable entry
// goes out every tick, even when empty, so receivers see a gap-free tick
// stream; the unreliable entry is skipped when it carries no values.
func (c *Compiler) Compile(tick uint64) error {
	c.state = CompileInProgress

	reliable := protocol.NewBuffer()
	unreliable := protocol.NewBuffer()
	c.manager.CreateDelta(reliable, unreliable)

	framed := frameDelta(tick, reliable)
	reliable.Release()
	err := c.transport.Send(protocol.InvalidConnection, framed, true, true)
	if err != nil {
		unreliable.Release()
		c.state = CompileIdle
		return fmt.Errorf("broadcast reliable delta: %w", err)
	}

	// A flags-only unreliable payload carries nothing worth a datagram.
	if unreliable.Len() > 1 {
		framed = frameDelta(tick, unreliable)
		unreliable.Release()
		if err := c.transport.Send(protocol.InvalidConnection, framed, true, false); err != nil {
			c.state = CompileIdle
			return fmt.Errorf("broadcast unreliable delta: %w", err)
		}
	} else {
		unreliable.Release()
	}

	c.state = CompileSent
	return nil
}

// SendFull compiles a full snapshot for tick and sends it to one
// connection, reliably.
func (c *Compiler) SendFull(to protocol.ConnectionID, tick uint64) error {
	payload := protocol.NewBuffer()
	c.manager.CreateFull(payload)

	buf := protocol.NewBuffer()
	w := protocol.NewWriter(buf)
	w.U8(uint8(protocol.HeaderFullSnapshot))
	w.U64(tick)
	w.Bytes(payload.Bytes())
	payload.Release()

	if err := c.transport.Send(to, buf, false, true); err != nil {
		return fmt.Errorf("send full snapshot: %w", err)
	}
	c.log.Debug("sent full snapshot",
		log.String("connection", to.String()),
		log.Uint64("tick", tick))
	return nil
}

func frameDelta(tick uint64, payload *protocol.Buffer) *protocol.Buffer {
	buf := protocol.NewBuffer()
	w := protocol.NewWriter(buf)
	w.U8(uint8(protocol.HeaderDeltaSnapshot))
	w.U64(tick)
	w.U32(uint32(payload.Len()))
	w.Bytes(payload.Bytes())
	return buf
}
