package replication

import (
	"fmt"

	"github.com/aesync/aesync/internal/core/ecs"
	"github.com/aesync/aesync/internal/core/observability/log"
	"github.com/aesync/aesync/internal/core/physics"
	"github.com/aesync/aesync/internal/core/protocol"
)

// Delta payload flags.
const (
	flagState           uint8 = 1 << 0
	flagPhysics         uint8 = 1 << 1
	flagMeta            uint8 = 1 << 2
	flagComponentUpdate uint8 = 1 << 3
	flagLowPriority     uint8 = 1 << 4
)

// Manager turns local store and physics mutations into snapshots and applies
// received snapshots back onto a store. The host compiles deltas out of the
// dirty accumulator; peers only apply.
type Manager struct {
	store *ecs.Store
	world *physics.World
	dirty *ecs.DirtyAccumulator
	log   log.Log

	// State id plumbing, owned by the engine context.
	getState     func() uint64
	applyState   func(id uint64)
	statePending bool

	// Shapes erased by entity teardown since the last delta; the remote
	// side must drop them too.
	erasedShapes []uint32
}

func NewManager(store *ecs.Store, world *physics.World, lg log.Log) *Manager {
	m := &Manager{
		store: store,
		world: world,
		dirty: ecs.NewDirtyAccumulator(store.Registry()),
		log:   lg,
	}
	store.AddObserver(m.dirty)
	return m
}

// RegisterComponent registers a replicated component type. Must be called
// identically and in the same order on every participant.
func (m *Manager) RegisterComponent(name string, priority ecs.Priority, codec ecs.Codec) ecs.ComponentID {
	return m.store.Registry().Register(name, priority, codec)
}

// SetStateHooks wires the engine's state table into snapshots: get supplies
// the current state id for outgoing deltas, apply transitions on receipt.
func (m *Manager) SetStateHooks(get func() uint64, apply func(id uint64)) {
	m.getState = get
	m.applyState = apply
}

// MarkStateChanged schedules the current state id for the next delta.
func (m *Manager) MarkStateChanged() {
	m.statePending = true
}

// MarkShapeErased schedules a shape removal for the next delta.
func (m *Manager) MarkShapeErased(id uint32) {
	m.erasedShapes = append(m.erasedShapes, id)
}

// Dirty exposes the accumulator, mainly for tests.
func (m *Manager) Dirty() *ecs.DirtyAccumulator {
	return m.dirty
}

// CreateDelta writes the delta payloads for everything accumulated since
// the last call. The reliable payload carries the state id, entity
// lifecycle, physics shapes, and High-priority values; the unreliable
// payload carries Low-priority values only. The store is read-only for the
// duration.
func (m *Manager) CreateDelta(reliable, unreliable *protocol.Buffer) {
	m.store.SetDeferred(true)
	defer m.store.SetDeferred(false)

	dirtyShapes := m.collectDirtyShapes()

	var flags uint8
	if m.statePending && m.getState != nil {
		flags |= flagState
	}
	if m.dirty.HasMetaChanges() {
		flags |= flagMeta
	}
	if len(dirtyShapes) > 0 || len(m.erasedShapes) > 0 {
		flags |= flagPhysics
	}
	if m.dirty.Updates(ecs.PriorityHigh).Len() > 0 {
		flags |= flagComponentUpdate
	}

	w := protocol.NewWriter(reliable)
	w.U8(flags)
	if flags&flagState != 0 {
		w.U64(m.getState())
	}
	if flags&flagMeta != 0 {
		m.writeDestroyed(w)
		m.writeArchetypes(w, m.dirty.Adds(), false)
		m.writeArchetypes(w, m.dirty.Removes(), false)
		m.writeActive(w)
	}
	if flags&flagPhysics != 0 {
		m.writeErasedShapes(w)
		m.writeShapes(w, dirtyShapes)
	}
	if flags&flagComponentUpdate != 0 {
		m.writeArchetypes(w, m.dirty.Updates(ecs.PriorityHigh), true)
	}

	flags = flagLowPriority
	if m.dirty.Updates(ecs.PriorityLow).Len() > 0 {
		flags |= flagComponentUpdate
	}

	w = protocol.NewWriter(unreliable)
	w.U8(flags)
	if flags&flagComponentUpdate != 0 {
		m.writeArchetypes(w, m.dirty.Updates(ecs.PriorityLow), true)
	}

	m.statePending = false
	m.erasedShapes = m.erasedShapes[:0]
	m.dirty.Reset()
}

// ApplyDelta replays one delta payload onto the local store and physics
// world. Calling it while the store is deferred is a programmer error.
// Malformed input surfaces as an error after whatever prefix was readable
// has been applied.
func (m *Manager) ApplyDelta(r *protocol.Reader) error {
	if m.store.Deferred() {
		panic("replication: ApplyDelta on a deferred store")
	}
	m.store.SetObserversEnabled(false)
	defer m.store.SetObserversEnabled(true)

	flags := r.U8()

	if flags&flagState != 0 {
		stateID := r.U64()
		if r.Err() == nil && m.applyState != nil {
			m.applyState(stateID)
		}
	}
	if flags&flagMeta != 0 {
		m.readDestroyed(r)
		m.readArchetypes(r, opAdd)
		m.readArchetypes(r, opRemove)
		m.readActive(r)
	}
	if flags&flagPhysics != 0 {
		m.readErasedShapes(r)
		m.readShapes(r)
	}
	if flags&flagComponentUpdate != 0 {
		m.readArchetypes(r, opUpdate)
	}

	return r.Err()
}

// CreateFull serializes every networked entity, component, and shape. The
// payload is self-contained: applying it reproduces the full replicated
// world regardless of the receiver's starting state.
func (m *Manager) CreateFull(buf *protocol.Buffer) {
	m.store.SetDeferred(true)
	defer m.store.SetDeferred(false)

	var tags, valued ecs.EntityCompMap
	m.store.ForEachNetworked(func(e ecs.Entity) {
		for _, id := range m.store.ComponentIDs(e) {
			if m.store.Registry().IsTag(id) {
				tags.Insert(e.Index, id)
			} else {
				valued.Insert(e.Index, id)
			}
		}
	})

	allShapes := make(map[physics.ShapeKind][]uint32)
	m.world.ForEachShape(func(id uint32, s *physics.Shape) {
		allShapes[s.Kind()] = append(allShapes[s.Kind()], id)
	})

	w := protocol.NewWriter(buf)
	if m.getState != nil {
		w.U64(m.getState())
	} else {
		w.U64(0)
	}
	m.writeArchetypes(w, &tags, false)
	m.writeArchetypes(w, &valued, true)
	m.writeShapes(w, allShapes)
}

// ApplyFull destroys all networked entities and rebuilds the replicated
// world from the payload. Applying the same payload twice is idempotent.
func (m *Manager) ApplyFull(r *protocol.Reader) error {
	if m.store.Deferred() {
		panic("replication: ApplyFull on a deferred store")
	}
	m.store.SetObserversEnabled(false)
	defer m.store.SetObserversEnabled(true)

	m.store.DestroyAllNetworked()

	// The snapshot carries the complete shape set; anything local is
	// stale.
	var doomed []uint32
	m.world.ForEachShape(func(id uint32, _ *physics.Shape) {
		doomed = append(doomed, id)
	})
	for _, id := range doomed {
		m.world.EraseShape(id)
	}
	m.erasedShapes = m.erasedShapes[:0]

	stateID := r.U64()
	if r.Err() == nil && m.applyState != nil {
		m.applyState(stateID)
	}

	m.readArchetypes(r, opAdd)
	m.readArchetypes(r, opUpdate)
	m.readShapes(r)

	return r.Err()
}

func (m *Manager) collectDirtyShapes() map[physics.ShapeKind][]uint32 {
	dirty := make(map[physics.ShapeKind][]uint32)
	m.world.ForEachNetworkDirty(func(id uint32, s *physics.Shape) {
		dirty[s.Kind()] = append(dirty[s.Kind()], id)
		s.ClearNetworkDirty()
	})
	return dirty
}

func (m *Manager) writeDestroyed(w protocol.Writer) {
	destroyed := m.dirty.Destroyed()
	w.U32(uint32(len(destroyed)))
	for _, e := range destroyed {
		w.U32(e.Index)
		w.U32(e.Generation)
	}
}

func (m *Manager) readDestroyed(r *protocol.Reader) {
	count := r.U32()
	for i := uint32(0); i < count && r.Err() == nil; i++ {
		index := r.U32()
		r.U32() // remote generation; the local occupant dies regardless

		if m.localRange(index) {
			continue
		}
		if e, ok := m.store.EntityAt(index); ok {
			m.store.Destroy(e)
		}
	}
}

// localRange reports whether a wire index falls in the receiver's local-only
// entity range. A well-formed snapshot never names one; treat it as a
// protocol warning and leave the local entity alone.
func (m *Manager) localRange(index uint32) bool {
	if index < ecs.LocalEntityStart {
		return false
	}
	m.log.Warn("snapshot referenced local entity range, possible desync",
		log.Uint32("index", index))
	return true
}

func (m *Manager) writeActive(w protocol.Writer) {
	w.U32(uint32(m.dirty.ActiveLen()))
	m.dirty.ForEachActive(func(index uint32, flag ecs.ActiveFlag) {
		e, _ := m.store.EntityAt(index)
		w.U32(index)
		w.U32(e.Generation)
		w.U8(uint8(flag))
	})
}

func (m *Manager) readActive(r *protocol.Reader) {
	count := r.U32()
	for i := uint32(0); i < count && r.Err() == nil; i++ {
		e := ecs.Entity{Index: r.U32(), Generation: r.U32()}
		flag := ecs.ActiveFlag(r.U8())

		if r.Err() != nil {
			return
		}
		if m.localRange(e.Index) {
			continue
		}
		if !m.store.IsAlive(e) {
			m.log.Warn("active flag for unknown entity, possible desync",
				log.Uint32("index", e.Index),
				log.Uint32("generation", e.Generation))
			continue
		}
		m.store.SetEnabled(e, flag&ecs.DoEnable != 0)
	}
}

// writeArchetypes groups the map's entities by their changed-component set
// and serializes one block per group, so the component id list is written
// once per archetype instead of once per entity.
func (m *Manager) writeArchetypes(w protocol.Writer, entities *ecs.EntityCompMap, withValues bool) {
	groups := groupArchetypes(entities)

	w.U32(uint32(len(groups)))
	for _, group := range groups {
		w.U32(uint32(len(group.ids)))
		for _, id := range group.ids {
			w.U32(uint32(id))
		}

		w.U32(uint32(len(group.entities)))
		for _, index := range group.entities {
			e, ok := m.store.EntityAt(index)
			if !ok {
				// Accumulator entries for dead entities were purged, so
				// this only fires on a bookkeeping bug.
				panic(fmt.Sprintf("replication: dead entity %d in snapshot", index))
			}
			w.U32(e.Index)
			w.U32(e.Generation)

			if !withValues {
				continue
			}
			for _, id := range group.ids {
				info, _ := m.store.Registry().Info(id)
				value, _ := m.store.Get(e, id)
				info.Codec.Encode(w, value)
			}
		}
	}
}

// archetypeOp selects what an archetype block means to the receiver.
type archetypeOp int

const (
	// opAdd materializes entities (purging generation mismatches) and
	// attaches the listed components with placeholder values; real values
	// follow in the update section of the same payload.
	opAdd archetypeOp = iota
	// opRemove detaches the listed components from known entities.
	opRemove
	// opUpdate materializes entities and decodes component values.
	opUpdate
)

// readArchetypes is the inverse of writeArchetypes. Adds and updates
// materialize unknown entities; removes for unknown entities are a
// protocol warning since the destroy already handled them.
func (m *Manager) readArchetypes(r *protocol.Reader, op archetypeOp) {
	groupCount := r.U32()
	for g := uint32(0); g < groupCount && r.Err() == nil; g++ {
		compCount := r.U32()
		ids := make([]ecs.ComponentID, 0, compCount)
		for c := uint32(0); c < compCount && r.Err() == nil; c++ {
			ids = append(ids, ecs.ComponentID(r.U32()))
		}

		entityCount := r.U32()
		for i := uint32(0); i < entityCount && r.Err() == nil; i++ {
			wire := ecs.Entity{Index: r.U32(), Generation: r.U32()}
			if r.Err() != nil {
				return
			}
			m.readEntityComponents(r, wire, ids, op)
		}
	}
}

func (m *Manager) readEntityComponents(r *protocol.Reader, wire ecs.Entity, ids []ecs.ComponentID, op archetypeOp) {
	var known bool
	if !m.localRange(wire.Index) {
		known = m.store.IsAlive(wire)
		if !known && op != opRemove {
			m.store.CreateAt(wire)
			known = true
		}
		if !known {
			m.log.Warn("snapshot referenced unknown entity, possible desync",
				log.Uint32("index", wire.Index),
				log.Uint32("generation", wire.Generation))
		}
	}

	for _, id := range ids {
		info, ok := m.store.Registry().Info(id)
		if !ok {
			// Unknown component id: the remaining payload cannot be
			// framed, give up on this message.
			m.log.Warn("snapshot referenced unregistered component",
				log.Uint32("component", uint32(id)))
			r.Bytes(r.Remaining())
			return
		}

		switch op {
		case opAdd:
			if known && !m.store.Has(wire, id) {
				m.store.Set(wire, id, nil)
			}
		case opRemove:
			if known {
				m.store.Remove(wire, id)
			}
		case opUpdate:
			value := info.Codec.Decode(r)
			if r.Err() != nil {
				return
			}
			if known {
				m.store.Set(wire, id, value)
			}
		}
	}
}

func (m *Manager) writeErasedShapes(w protocol.Writer) {
	w.U32(uint32(len(m.erasedShapes)))
	for _, id := range m.erasedShapes {
		w.U32(id)
	}
}

func (m *Manager) readErasedShapes(r *protocol.Reader) {
	count := r.U32()
	for i := uint32(0); i < count && r.Err() == nil; i++ {
		m.world.EraseShape(r.U32())
	}
}

// writeShapes serializes the given shapes grouped by kind.
func (m *Manager) writeShapes(w protocol.Writer, byKind map[physics.ShapeKind][]uint32) {
	kinds := make([]physics.ShapeKind, 0, len(byKind))
	for _, kind := range physics.ShapeKinds {
		if len(byKind[kind]) > 0 {
			kinds = append(kinds, kind)
		}
	}

	w.U32(uint32(len(kinds)))
	for _, kind := range kinds {
		w.U8(uint8(kind))
		w.U32(uint32(len(byKind[kind])))
		for _, id := range byKind[kind] {
			w.U32(id)
			writeShape(w, m.world.GetShape(id))
		}
	}
}

func (m *Manager) readShapes(r *protocol.Reader) {
	kindCount := r.U32()
	for k := uint32(0); k < kindCount && r.Err() == nil; k++ {
		kind := physics.ShapeKind(r.U8())
		count := r.U32()

		for i := uint32(0); i < count && r.Err() == nil; i++ {
			id := r.U32()
			m.readShape(r, kind, id)
		}
	}
}

func (m *Manager) readShape(r *protocol.Reader, kind physics.ShapeKind, id uint32) {
	rot := r.F32()
	pos := r.Vec2()

	switch kind {
	case physics.KindCircle:
		radius := r.F32()
		if r.Err() != nil {
			return
		}
		if shape := m.world.GetShape(id); shape != nil && shape.Kind() == physics.KindCircle {
			shape.SetPos(pos)
			shape.SetRot(rot)
			shape.SetRadius(radius)
		} else {
			if shape != nil {
				m.world.EraseShape(id)
			}
			m.world.InsertShape(id, physics.NewCircle(pos, rot, radius))
		}

	case physics.KindPolygon:
		count := int(r.U8())
		if count < 3 || count > physics.MaxPolygonVertices {
			m.log.Warn("snapshot carried invalid polygon vertex count",
				log.Int("count", count))
			r.Bytes(r.Remaining())
			return
		}
		verts := make([]physics.Vec2, count)
		for i := range verts {
			verts[i] = r.Vec2()
		}
		if r.Err() != nil {
			return
		}
		if shape := m.world.GetShape(id); shape != nil && shape.Kind() == physics.KindPolygon {
			shape.SetPos(pos)
			shape.SetRot(rot)
			shape.SetVertices(verts)
		} else {
			if shape != nil {
				m.world.EraseShape(id)
			}
			m.world.InsertShape(id, physics.NewPolygon(pos, rot, verts))
		}

	default:
		m.log.Warn("snapshot carried unknown shape kind",
			log.Uint8("kind", uint8(kind)))
		r.Bytes(r.Remaining())
	}
}

func writeShape(w protocol.Writer, s *physics.Shape) {
	w.F32(s.Rot())
	w.Vec2(s.Pos())

	switch s.Kind() {
	case physics.KindCircle:
		w.F32(s.Radius())
	case physics.KindPolygon:
		verts := s.Vertices()
		w.U8(uint8(len(verts)))
		for _, v := range verts {
			w.Vec2(v)
		}
	}
}
