package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aesync/aesync/internal/core/observability/log"
	"github.com/aesync/aesync/internal/core/physics"
	"github.com/aesync/aesync/internal/core/protocol"
)

// recordingHost stands in for the host-side session loop: it remembers the
// joined client and every message the client sends back.
type recordingHost struct {
	client   protocol.ConnectionID
	messages [][]byte
}

func (h *recordingHost) OnJoin(id protocol.ConnectionID)  { h.client = id }
func (h *recordingHost) OnLeave(id protocol.ConnectionID) {}
func (h *recordingHost) OnMessage(_ protocol.ConnectionID, data []byte) error {
	h.messages = append(h.messages, append([]byte(nil), data...))
	return nil
}

func (h *recordingHost) fullRequests() int {
	n := 0
	for _, msg := range h.messages {
		if len(msg) == 1 && protocol.Header(msg[0]) == protocol.HeaderRequestFullSnapshot {
			n++
		}
	}
	return n
}

type link struct {
	host, client *side
	hostT        *protocol.MemoryTransport
	clientT      *protocol.MemoryTransport
	compiler     *Compiler
	peer         *Peer
	rec          *recordingHost
}

func newLink(t *testing.T) *link {
	t.Helper()
	lg := log.New(log.LevelError)

	l := &link{
		host:    newSide(t),
		client:  newSide(t),
		hostT:   protocol.NewMemoryTransport(lg),
		clientT: protocol.NewMemoryTransport(lg),
		rec:     &recordingHost{},
	}
	l.compiler = NewCompiler(l.host.manager, l.hostT, lg)
	l.peer = NewPeer(l.client.manager, l.clientT, lg)

	l.hostT.SetHandler(l.rec)
	l.clientT.SetHandler(l.peer)
	require.NoError(t, l.hostT.Listen(""))

	l.clientT.ConnectMemory(l.hostT)
	l.hostT.Update()
	l.clientT.Update()
	require.NotEqual(t, protocol.InvalidConnection, l.rec.client)
	return l
}

// sync sends the initial full snapshot for tick and applies it.
func (l *link) sync(t *testing.T, tick uint64) {
	t.Helper()
	require.NoError(t, l.compiler.SendFull(l.rec.client, tick))
	l.clientT.Update()
	require.True(t, l.peer.Synced())
	require.Equal(t, tick+1, l.peer.Tick())
}

// sendEmptyDelta frames and sends an empty reliable delta for tick,
// bypassing the compiler so ticks can be skipped at will.
func (l *link) sendEmptyDelta(t *testing.T, tick uint64) {
	t.Helper()
	payload := protocol.NewBuffer()
	protocol.NewWriter(payload).U8(0)
	framed := frameDelta(tick, payload)
	payload.Release()
	require.NoError(t, l.hostT.Send(l.rec.client, framed, false, true))
}

func TestPeerEndToEnd(t *testing.T) {
	l := newLink(t)
	l.sync(t, 0)

	e := l.host.store.Create(true)
	l.host.store.Set(e, l.host.health, uint32(100))
	shapeID := l.host.world.CreateShape(
		physics.NewCircle(physics.Vec2{X: 50, Y: 50}, 0, 10))

	require.NoError(t, l.compiler.Compile(1))
	assert.Equal(t, CompileSent, l.compiler.State())

	l.clientT.Update()
	require.NoError(t, l.peer.Advance())
	assert.Equal(t, uint64(2), l.peer.Tick())

	require.True(t, l.client.store.IsAlive(e))
	value, _ := l.client.store.Get(e, l.client.health)
	assert.Equal(t, uint32(100), value)

	shape := l.client.world.GetShape(shapeID)
	require.NotNil(t, shape)
	assert.Equal(t, physics.KindCircle, shape.Kind())
	assert.Equal(t, float32(10), shape.Radius())
	assert.Equal(t, physics.Vec2{X: 50, Y: 50}, shape.Pos())
}

func TestPeerBuffersUntilSynced(t *testing.T) {
	l := newLink(t)

	l.sendEmptyDelta(t, 1)
	l.clientT.Update()
	require.NoError(t, l.peer.Advance())
	assert.False(t, l.peer.Synced())
	assert.Equal(t, 1, l.peer.PendingTicks())

	// The full snapshot at tick 0 releases the buffered tick 1.
	l.sync(t, 0)
	require.NoError(t, l.peer.Advance())
	assert.Equal(t, uint64(2), l.peer.Tick())
	assert.Equal(t, 0, l.peer.PendingTicks())
}

func TestPeerAppliesTicksInOrder(t *testing.T) {
	l := newLink(t)
	l.sync(t, 0)

	e := l.host.store.Create(true)
	l.host.store.Set(e, l.host.health, uint32(1))
	require.NoError(t, l.compiler.Compile(1))
	l.host.store.Set(e, l.host.health, uint32(2))
	require.NoError(t, l.compiler.Compile(2))

	l.clientT.Update()

	require.NoError(t, l.peer.Advance())
	value, _ := l.client.store.Get(e, l.client.health)
	assert.Equal(t, uint32(1), value)

	require.NoError(t, l.peer.Advance())
	value, _ = l.client.store.Get(e, l.client.health)
	assert.Equal(t, uint32(2), value)
}

func TestPeerStallsOnMissingTick(t *testing.T) {
	l := newLink(t)
	l.sync(t, 0)

	// Tick 1 never arrives; tick 2 must not apply ahead of it.
	l.sendEmptyDelta(t, 2)
	l.clientT.Update()
	require.NoError(t, l.peer.Advance())
	assert.Equal(t, uint64(1), l.peer.Tick())
	assert.Equal(t, 1, l.peer.PendingTicks())

	l.sendEmptyDelta(t, 1)
	l.clientT.Update()
	require.NoError(t, l.peer.Advance())
	require.NoError(t, l.peer.Advance())
	assert.Equal(t, uint64(3), l.peer.Tick())
	assert.Equal(t, 0, l.peer.PendingTicks())
}

func TestPeerDesyncRequestsFullSnapshotOnce(t *testing.T) {
	l := newLink(t)
	l.sync(t, 0)

	// Tick 1 is lost; 31 later ticks pile up unapplied, one past the
	// buffering threshold.
	for tick := uint64(2); tick < 2+MaxBufferedTicks+1; tick++ {
		l.sendEmptyDelta(t, tick)
	}
	l.clientT.Update()
	require.NoError(t, l.peer.Advance())

	l.hostT.Update()
	assert.Equal(t, 1, l.rec.fullRequests())

	// More backlog must not trigger another request while one is in
	// flight.
	l.sendEmptyDelta(t, 100)
	l.clientT.Update()
	require.NoError(t, l.peer.Advance())
	l.hostT.Update()
	assert.Equal(t, 1, l.rec.fullRequests())

	// The snapshot resolves the desync and re-arms the request.
	l.sync(t, 200)
	assert.Equal(t, 0, l.peer.PendingTicks())
	assert.Equal(t, uint64(201), l.peer.Tick())
}

func TestPeerDropsLateDatagram(t *testing.T) {
	l := newLink(t)
	l.sync(t, 5)

	payload := protocol.NewBuffer()
	protocol.NewWriter(payload).U8(flagLowPriority)
	framed := frameDelta(3, payload)
	payload.Release()
	require.NoError(t, l.hostT.Send(l.rec.client, framed, false, false))

	l.clientT.Update()
	assert.Equal(t, 0, l.peer.PendingTicks())
	assert.Equal(t, uint64(6), l.peer.Tick())
}

func TestPeerDropsDatagramWithoutReliableEntry(t *testing.T) {
	l := newLink(t)
	l.sync(t, 0)

	// A datagram that overtakes its tick's reliable entry has no buffer
	// slot to attach to and counts as lost.
	payload := protocol.NewBuffer()
	protocol.NewWriter(payload).U8(flagLowPriority)
	framed := frameDelta(1, payload)
	payload.Release()
	require.NoError(t, l.hostT.Send(l.rec.client, framed, false, false))

	l.clientT.Update()
	assert.Equal(t, 0, l.peer.PendingTicks())

	// Once the reliable entry opens the slot, a datagram for the same tick
	// attaches and both halves apply together.
	e := l.host.store.Create(true)
	l.host.store.Set(e, l.host.heading, uint32(42))
	require.NoError(t, l.compiler.Compile(1))

	l.clientT.Update()
	require.NoError(t, l.peer.Advance())
	assert.Equal(t, uint64(2), l.peer.Tick())
	value, _ := l.client.store.Get(e, l.client.heading)
	assert.Equal(t, uint32(42), value)
}

func TestCompilerStateRoundTrip(t *testing.T) {
	l := newLink(t)
	assert.Equal(t, CompileIdle, l.compiler.State())

	require.NoError(t, l.compiler.Compile(1))
	assert.Equal(t, CompileSent, l.compiler.State())

	l.compiler.Reset()
	assert.Equal(t, CompileIdle, l.compiler.State())
}

func TestPeerCoalescedEntries(t *testing.T) {
	l := newLink(t)
	l.sync(t, 0)

	// Two tick entries packed into one message apply over two Advances.
	buf := protocol.NewBuffer()
	w := protocol.NewWriter(buf)
	w.U8(uint8(protocol.HeaderDeltaSnapshot))
	for _, tick := range []uint64{1, 2} {
		payload := protocol.NewBuffer()
		protocol.NewWriter(payload).U8(0)
		w.U64(tick)
		w.U32(uint32(payload.Len()))
		w.Bytes(payload.Bytes())
		payload.Release()
	}
	require.NoError(t, l.hostT.Send(l.rec.client, buf, false, true))

	l.clientT.Update()
	require.NoError(t, l.peer.Advance())
	require.NoError(t, l.peer.Advance())
	assert.Equal(t, uint64(3), l.peer.Tick())
}

func TestPeerRejectsUnknownHeader(t *testing.T) {
	l := newLink(t)
	err := l.peer.OnMessage(l.peer.host, []byte{0xff})
	assert.ErrorIs(t, err, protocol.ErrInvalidHeader)
}

func TestPeerRejectsTruncatedEntry(t *testing.T) {
	l := newLink(t)

	buf := protocol.NewBuffer()
	w := protocol.NewWriter(buf)
	w.U8(uint8(protocol.HeaderDeltaSnapshot))
	w.U64(1)
	w.U32(64) // length overruns the message
	w.U8(0)
	err := l.peer.OnMessage(l.peer.host, buf.Bytes())
	buf.Release()
	assert.ErrorIs(t, err, protocol.ErrShortBuffer)
}

func TestPeerResetsOnLeave(t *testing.T) {
	l := newLink(t)
	l.sync(t, 0)
	l.sendEmptyDelta(t, 1)
	l.clientT.Update()

	l.clientT.Disconnect(l.peer.host)
	l.clientT.Update()

	assert.False(t, l.peer.Synced())
	assert.Equal(t, 0, l.peer.PendingTicks())
}
