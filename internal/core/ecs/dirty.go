package ecs

// ActiveFlag encodes a pending enable/disable for an entity. Zero is never
// serialized.
type ActiveFlag uint8

const (
	ActiveNone ActiveFlag = 0
	DoEnable   ActiveFlag = 1 << 1
	DoDisable  ActiveFlag = 1 << 2
)

// EntityCompMap is an ordered map from entity index to a sorted set of
// component ids. Iteration follows first-touch order, which keeps snapshot
// layout deterministic within a run.
type EntityCompMap struct {
	order []uint32
	sets  map[uint32][]ComponentID
}

// Insert adds id to the entity's set, keeping the set sorted and free of
// duplicates.
func (m *EntityCompMap) Insert(index uint32, id ComponentID) {
	if m.sets == nil {
		m.sets = make(map[uint32][]ComponentID)
	}

	set, ok := m.sets[index]
	if !ok {
		m.order = append(m.order, index)
		m.sets[index] = []ComponentID{id}
		return
	}

	// Sorted insert; duplicates collapse.
	pos := 0
	for pos < len(set) && set[pos] < id {
		pos++
	}
	if pos < len(set) && set[pos] == id {
		return
	}
	set = append(set, 0)
	copy(set[pos+1:], set[pos:])
	set[pos] = id
	m.sets[index] = set
}

func (m *EntityCompMap) removeComponent(index uint32, id ComponentID) {
	set, ok := m.sets[index]
	if !ok {
		return
	}
	for i, have := range set {
		if have == id {
			m.sets[index] = append(set[:i], set[i+1:]...)
			break
		}
	}
	if len(m.sets[index]) == 0 {
		m.remove(index)
	}
}

func (m *EntityCompMap) remove(index uint32) {
	if _, ok := m.sets[index]; !ok {
		return
	}
	delete(m.sets, index)
	for i, have := range m.order {
		if have == index {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *EntityCompMap) Len() int {
	return len(m.order)
}

// ForEach visits entries in first-touch order.
func (m *EntityCompMap) ForEach(fn func(index uint32, ids []ComponentID)) {
	for _, index := range m.order {
		fn(index, m.sets[index])
	}
}

func (m *EntityCompMap) reset() {
	m.order = m.order[:0]
	for k := range m.sets {
		delete(m.sets, k)
	}
}

// DirtyAccumulator collects everything that changed since the last snapshot
// was compiled. It implements Observer and is fed by the store.
//
// Destroying an entity supersedes its other pending changes, and a
// generation change observed on an index (the old handle died and the index
// was recycled within the snapshot window) purges the stale entries and
// records the destruction so the remote side recreates rather than merges.
type DirtyAccumulator struct {
	registry *Registry

	destroyed    []Entity
	destroyedSet map[uint32]struct{}

	// Generation last seen per index within this snapshot window.
	gens map[uint32]uint32

	toAdd     EntityCompMap
	toRemove  EntityCompMap
	updates   [2]EntityCompMap
	active    map[uint32]ActiveFlag
	activeOrd []uint32
}

var _ Observer = (*DirtyAccumulator)(nil)

func NewDirtyAccumulator(registry *Registry) *DirtyAccumulator {
	return &DirtyAccumulator{
		registry:     registry,
		destroyedSet: make(map[uint32]struct{}),
		gens:         make(map[uint32]uint32),
		active:       make(map[uint32]ActiveFlag),
	}
}

func (a *DirtyAccumulator) OnEntityDestroyed(e Entity) {
	a.resetEntity(e.Index)
	a.markDestroyed(e)
	a.gens[e.Index] = e.Generation
}

func (a *DirtyAccumulator) OnEntityActive(e Entity, enabled bool) {
	a.trackGeneration(e)
	if _, ok := a.active[e.Index]; !ok {
		a.activeOrd = append(a.activeOrd, e.Index)
	}
	if enabled {
		a.active[e.Index] = DoEnable
	} else {
		a.active[e.Index] = DoDisable
	}
}

func (a *DirtyAccumulator) OnComponentAdded(e Entity, id ComponentID) {
	a.trackGeneration(e)
	a.toRemove.removeComponent(e.Index, id)
	a.toAdd.Insert(e.Index, id)

	// A fresh add also carries the component's value.
	if info, ok := a.registry.Info(id); ok && info.Codec != nil {
		a.updates[info.Priority].Insert(e.Index, id)
	}
}

func (a *DirtyAccumulator) OnComponentSet(e Entity, id ComponentID) {
	a.trackGeneration(e)
	info, ok := a.registry.Info(id)
	if !ok || info.Codec == nil {
		return
	}
	a.updates[info.Priority].Insert(e.Index, id)
}

func (a *DirtyAccumulator) OnComponentRemoved(e Entity, id ComponentID) {
	a.trackGeneration(e)
	a.toAdd.removeComponent(e.Index, id)
	a.updates[PriorityHigh].removeComponent(e.Index, id)
	a.updates[PriorityLow].removeComponent(e.Index, id)
	a.toRemove.Insert(e.Index, id)
}

// trackGeneration purges stale pending state when an index shows up with a
// new generation inside one snapshot window.
func (a *DirtyAccumulator) trackGeneration(e Entity) {
	gen, seen := a.gens[e.Index]
	if !seen {
		a.gens[e.Index] = e.Generation
		return
	}
	if gen != e.Generation {
		a.resetEntity(e.Index)
		a.markDestroyed(Entity{Index: e.Index, Generation: gen})
		a.gens[e.Index] = e.Generation
	}
}

func (a *DirtyAccumulator) markDestroyed(e Entity) {
	if _, ok := a.destroyedSet[e.Index]; ok {
		return
	}
	a.destroyedSet[e.Index] = struct{}{}
	a.destroyed = append(a.destroyed, e)
}

func (a *DirtyAccumulator) resetEntity(index uint32) {
	a.toAdd.remove(index)
	a.toRemove.remove(index)
	a.updates[PriorityHigh].remove(index)
	a.updates[PriorityLow].remove(index)
	if _, ok := a.active[index]; ok {
		delete(a.active, index)
		for i, have := range a.activeOrd {
			if have == index {
				a.activeOrd = append(a.activeOrd[:i], a.activeOrd[i+1:]...)
				break
			}
		}
	}
}

// Reset clears the accumulator after a snapshot has been compiled.
func (a *DirtyAccumulator) Reset() {
	a.destroyed = a.destroyed[:0]
	for k := range a.destroyedSet {
		delete(a.destroyedSet, k)
	}
	for k := range a.gens {
		delete(a.gens, k)
	}
	a.toAdd.reset()
	a.toRemove.reset()
	a.updates[PriorityHigh].reset()
	a.updates[PriorityLow].reset()
	for k := range a.active {
		delete(a.active, k)
	}
	a.activeOrd = a.activeOrd[:0]
}

// Destroyed lists entities destroyed this window, in destruction order.
func (a *DirtyAccumulator) Destroyed() []Entity {
	return a.destroyed
}

// Adds is the pending component additions per entity.
func (a *DirtyAccumulator) Adds() *EntityCompMap {
	return &a.toAdd
}

// Removes is the pending component removals per entity.
func (a *DirtyAccumulator) Removes() *EntityCompMap {
	return &a.toRemove
}

// Updates is the pending value updates for one priority.
func (a *DirtyAccumulator) Updates(p Priority) *EntityCompMap {
	return &a.updates[p]
}

// ForEachActive visits pending enable/disable flags in first-touch order.
func (a *DirtyAccumulator) ForEachActive(fn func(index uint32, flag ActiveFlag)) {
	for _, index := range a.activeOrd {
		fn(index, a.active[index])
	}
}

func (a *DirtyAccumulator) ActiveLen() int {
	return len(a.activeOrd)
}

// HasMetaChanges reports whether the meta section of a delta would be
// non-empty.
func (a *DirtyAccumulator) HasMetaChanges() bool {
	return len(a.destroyed) > 0 ||
		a.toAdd.Len() > 0 ||
		a.toRemove.Len() > 0 ||
		len(a.activeOrd) > 0
}
