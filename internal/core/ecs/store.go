package ecs

import (
	"fmt"
	"sort"
)

// LocalEntityStart is the first index of the local-only entity range.
// Replicated entities always allocate below it and local-only entities at
// or above it, so an incoming snapshot can never name an index the remote
// side does not own.
const LocalEntityStart uint32 = 1_000_000

// Observer is notified of lifecycle and component changes on networked
// entities. Observers run synchronously on the mutating call.
type Observer interface {
	OnEntityDestroyed(e Entity)
	OnEntityActive(e Entity, enabled bool)
	OnComponentAdded(e Entity, id ComponentID)
	OnComponentSet(e Entity, id ComponentID)
	OnComponentRemoved(e Entity, id ComponentID)
}

type entitySlot struct {
	generation uint32
	alive      bool
	enabled    bool
	networked  bool
}

// Store holds all entities and their components. It is single-threaded;
// every mutation happens on the tick goroutine.
//
// While the deferred flag is set the store is read-only: any mutation is a
// programmer error and panics. Serialization paths set it so a stray
// observer or callback cannot edit state mid-snapshot.
type Store struct {
	registry *Registry

	// Replicated range, indices in [0, LocalEntityStart).
	slots    []entitySlot
	freeList []uint32

	// Local-only range, index = LocalEntityStart + position.
	localSlots []entitySlot
	localFree  []uint32

	order     []uint32
	pools     []map[uint32]any
	observers []Observer
	deferred  bool
	silenced  bool
}

func NewStore(registry *Registry) *Store {
	return &Store{
		registry: registry,
	}
}

func (s *Store) Registry() *Registry {
	return s.registry
}

func (s *Store) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// SetObserversEnabled silences or restores observer delivery. Applying a
// remote snapshot mutates the store without the edits being local changes,
// so the apply path silences observers to keep them out of the dirty set.
func (s *Store) SetObserversEnabled(enabled bool) {
	s.silenced = !enabled
}

func (s *Store) notify() []Observer {
	if s.silenced {
		return nil
	}
	return s.observers
}

// SetDeferred toggles the read-only guard.
func (s *Store) SetDeferred(deferred bool) {
	s.deferred = deferred
}

func (s *Store) Deferred() bool {
	return s.deferred
}

func (s *Store) guardMutable(op string) {
	if s.deferred {
		panic(fmt.Sprintf("ecs: %s on a deferred store", op))
	}
}

// slot resolves an index in either range, or nil when never allocated.
func (s *Store) slot(index uint32) *entitySlot {
	if index >= LocalEntityStart {
		if i := index - LocalEntityStart; int(i) < len(s.localSlots) {
			return &s.localSlots[i]
		}
		return nil
	}
	if int(index) < len(s.slots) {
		return &s.slots[index]
	}
	return nil
}

// Create allocates an entity, reusing the oldest free index of its range if
// one exists. Networked entities allocate from the replicated range and feed
// the replication observers; local-only entities allocate at or above
// LocalEntityStart and are invisible to them.
func (s *Store) Create(networked bool) Entity {
	s.guardMutable("Create")

	var index uint32
	if networked {
		if len(s.freeList) > 0 {
			index = s.freeList[0]
			s.freeList = s.freeList[1:]
		} else {
			index = uint32(len(s.slots))
			s.slots = append(s.slots, entitySlot{})
		}
	} else {
		if len(s.localFree) > 0 {
			index = s.localFree[0]
			s.localFree = s.localFree[1:]
		} else {
			index = LocalEntityStart + uint32(len(s.localSlots))
			s.localSlots = append(s.localSlots, entitySlot{})
		}
	}

	slot := s.slot(index)
	slot.alive = true
	slot.enabled = true
	slot.networked = networked

	s.order = append(s.order, index)
	return Entity{Index: index, Generation: slot.generation}
}

// CreateAt materializes a networked entity at an exact (index, generation),
// used when mirroring a remote store. A live entity already occupying the
// index with a different generation is stale state from a recycled handle:
// it is purged and the entity recreated, never merged. A live entity with
// the same generation is returned as-is.
//
// The index must be in the replicated range; local-only entities never
// appear on the wire.
func (s *Store) CreateAt(e Entity) Entity {
	s.guardMutable("CreateAt")
	if e.Index >= LocalEntityStart {
		panic(fmt.Sprintf("ecs: CreateAt index %d in the local entity range", e.Index))
	}

	for uint32(len(s.slots)) <= e.Index {
		s.slots = append(s.slots, entitySlot{})
	}

	slot := &s.slots[e.Index]
	if slot.alive {
		if slot.generation == e.Generation {
			return e
		}
		s.Destroy(Entity{Index: e.Index, Generation: slot.generation})
		slot = &s.slots[e.Index]
	}

	s.removeFree(e.Index)
	slot.generation = e.Generation
	slot.alive = true
	slot.enabled = true
	slot.networked = true

	s.order = append(s.order, e.Index)
	return e
}

func (s *Store) removeFree(index uint32) {
	for i, free := range s.freeList {
		if free == index {
			s.freeList = append(s.freeList[:i], s.freeList[i+1:]...)
			return
		}
	}
}

// Destroy kills the entity, drops its components, and recycles the index
// under a bumped generation. Stale handles are ignored.
func (s *Store) Destroy(e Entity) {
	s.guardMutable("Destroy")
	if !s.IsAlive(e) {
		return
	}

	slot := s.slot(e.Index)
	if slot.networked {
		for _, o := range s.notify() {
			o.OnEntityDestroyed(e)
		}
	}

	for _, pool := range s.pools {
		delete(pool, e.Index)
	}

	slot.alive = false
	slot.generation++
	if e.Index >= LocalEntityStart {
		s.localFree = append(s.localFree, e.Index)
	} else {
		s.freeList = append(s.freeList, e.Index)
	}

	for i, idx := range s.order {
		if idx == e.Index {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// DestroyAllNetworked removes every networked entity. Applying a full
// snapshot starts from this clean slate.
func (s *Store) DestroyAllNetworked() {
	s.guardMutable("DestroyAllNetworked")

	var doomed []Entity
	for _, idx := range s.order {
		slot := s.slot(idx)
		if slot.networked {
			doomed = append(doomed, Entity{Index: idx, Generation: slot.generation})
		}
	}
	for _, e := range doomed {
		s.Destroy(e)
	}
}

func (s *Store) IsAlive(e Entity) bool {
	slot := s.slot(e.Index)
	return slot != nil && slot.alive && slot.generation == e.Generation
}

func (s *Store) IsEnabled(e Entity) bool {
	return s.IsAlive(e) && s.slot(e.Index).enabled
}

func (s *Store) IsNetworked(e Entity) bool {
	return s.IsAlive(e) && s.slot(e.Index).networked
}

// SetEnabled flips the entity's active flag. Disabled entities keep their
// components but are skipped by systems.
func (s *Store) SetEnabled(e Entity, enabled bool) {
	s.guardMutable("SetEnabled")
	if !s.IsAlive(e) {
		return
	}

	slot := s.slot(e.Index)
	if slot.enabled == enabled {
		return
	}
	slot.enabled = enabled

	if slot.networked {
		for _, o := range s.notify() {
			o.OnEntityActive(e, enabled)
		}
	}
}

func (s *Store) ensurePool(id ComponentID) map[uint32]any {
	for int(id) >= len(s.pools) {
		s.pools = append(s.pools, nil)
	}
	if s.pools[id] == nil {
		s.pools[id] = make(map[uint32]any)
	}
	return s.pools[id]
}

// Set adds or overwrites a component. Tag components take a nil value.
func (s *Store) Set(e Entity, id ComponentID, value any) {
	s.guardMutable("Set")
	if !s.IsAlive(e) {
		return
	}
	if _, ok := s.registry.Info(id); !ok {
		panic(fmt.Sprintf("ecs: set of unregistered component %d", id))
	}

	pool := s.ensurePool(id)
	_, existed := pool[e.Index]
	pool[e.Index] = value

	if !s.slot(e.Index).networked {
		return
	}
	for _, o := range s.notify() {
		if existed {
			o.OnComponentSet(e, id)
		} else {
			o.OnComponentAdded(e, id)
		}
	}
}

// Remove drops a component from the entity, if present.
func (s *Store) Remove(e Entity, id ComponentID) {
	s.guardMutable("Remove")
	if !s.IsAlive(e) || int(id) >= len(s.pools) || s.pools[id] == nil {
		return
	}
	if _, ok := s.pools[id][e.Index]; !ok {
		return
	}
	delete(s.pools[id], e.Index)

	if !s.slot(e.Index).networked {
		return
	}
	for _, o := range s.notify() {
		o.OnComponentRemoved(e, id)
	}
}

func (s *Store) Has(e Entity, id ComponentID) bool {
	if !s.IsAlive(e) || int(id) >= len(s.pools) || s.pools[id] == nil {
		return false
	}
	_, ok := s.pools[id][e.Index]
	return ok
}

func (s *Store) Get(e Entity, id ComponentID) (any, bool) {
	if !s.Has(e, id) {
		return nil, false
	}
	return s.pools[id][e.Index], true
}

// ComponentIDs returns the entity's component ids in ascending order.
func (s *Store) ComponentIDs(e Entity) []ComponentID {
	if !s.IsAlive(e) {
		return nil
	}
	var ids []ComponentID
	for id, pool := range s.pools {
		if pool == nil {
			continue
		}
		if _, ok := pool[e.Index]; ok {
			ids = append(ids, ComponentID(id))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ForEach visits live entities in creation order.
func (s *Store) ForEach(fn func(e Entity)) {
	for _, idx := range append([]uint32(nil), s.order...) {
		slot := s.slot(idx)
		if slot.alive {
			fn(Entity{Index: idx, Generation: slot.generation})
		}
	}
}

// ForEachNetworked visits live networked entities in creation order.
func (s *Store) ForEachNetworked(fn func(e Entity)) {
	s.ForEach(func(e Entity) {
		if s.slot(e.Index).networked {
			fn(e)
		}
	})
}

// EntityAt returns the live entity currently occupying index.
func (s *Store) EntityAt(index uint32) (Entity, bool) {
	slot := s.slot(index)
	if slot == nil || !slot.alive {
		return InvalidEntity, false
	}
	return Entity{Index: index, Generation: slot.generation}, true
}

func (s *Store) EntityCount() int {
	return len(s.order)
}
