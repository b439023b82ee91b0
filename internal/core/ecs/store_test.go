package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aesync/aesync/internal/core/protocol"
)

type u32Codec struct{}

func (u32Codec) Encode(w protocol.Writer, value any) { w.U32(value.(uint32)) }
func (u32Codec) Decode(r *protocol.Reader) any       { return r.U32() }

func newTestRegistry() (*Registry, ComponentID, ComponentID, ComponentID) {
	registry := NewRegistry()
	high := registry.Register("position", PriorityHigh, u32Codec{})
	low := registry.Register("velocity", PriorityLow, u32Codec{})
	tag := registry.Register("marker", PriorityHigh, nil)
	return registry, high, low, tag
}

func TestRegistryPositionalIDs(t *testing.T) {
	_, high, low, tag := newTestRegistry()
	assert.Equal(t, ComponentID(0), high)
	assert.Equal(t, ComponentID(1), low)
	assert.Equal(t, ComponentID(2), tag)
}

func TestRegistryDoubleRegistrationPanics(t *testing.T) {
	registry := NewRegistry()
	registry.Register("position", PriorityHigh, u32Codec{})
	assert.Panics(t, func() {
		registry.Register("position", PriorityLow, u32Codec{})
	})
}

func TestRegistryTagComponents(t *testing.T) {
	registry, _, _, tag := newTestRegistry()
	assert.True(t, registry.IsTag(tag))
	assert.False(t, registry.IsTag(ComponentID(0)))
}

func TestEntityPackUnpack(t *testing.T) {
	e := Entity{Index: 42, Generation: 7}
	assert.Equal(t, e, Unpack(e.Pack()))
}

func TestStoreGenerationReuse(t *testing.T) {
	registry, _, _, _ := newTestRegistry()
	store := NewStore(registry)

	first := store.Create(true)
	store.Destroy(first)
	assert.False(t, store.IsAlive(first))

	// The index is recycled under a new generation; the stale handle
	// never matches the new entity.
	second := store.Create(true)
	assert.Equal(t, first.Index, second.Index)
	assert.NotEqual(t, first.Generation, second.Generation)
	assert.True(t, store.IsAlive(second))
	assert.False(t, store.IsAlive(first))
}

func TestStoreComponents(t *testing.T) {
	registry, pos, vel, tag := newTestRegistry()
	store := NewStore(registry)
	e := store.Create(true)

	store.Set(e, pos, uint32(10))
	store.Set(e, tag, nil)
	assert.True(t, store.Has(e, pos))
	assert.True(t, store.Has(e, tag))
	assert.False(t, store.Has(e, vel))

	value, ok := store.Get(e, pos)
	require.True(t, ok)
	assert.Equal(t, uint32(10), value)

	assert.Equal(t, []ComponentID{pos, tag}, store.ComponentIDs(e))

	store.Remove(e, pos)
	assert.False(t, store.Has(e, pos))
}

func TestStoreDestroyDropsComponents(t *testing.T) {
	registry, pos, _, _ := newTestRegistry()
	store := NewStore(registry)

	e := store.Create(true)
	store.Set(e, pos, uint32(1))
	store.Destroy(e)

	reborn := store.Create(true)
	assert.Equal(t, e.Index, reborn.Index)
	assert.False(t, store.Has(reborn, pos))
}

func TestStoreDeferredGuard(t *testing.T) {
	registry, pos, _, _ := newTestRegistry()
	store := NewStore(registry)
	e := store.Create(true)

	store.SetDeferred(true)
	assert.Panics(t, func() { store.Create(true) })
	assert.Panics(t, func() { store.Destroy(e) })
	assert.Panics(t, func() { store.Set(e, pos, uint32(1)) })
	assert.Panics(t, func() { store.Remove(e, pos) })
	assert.Panics(t, func() { store.SetEnabled(e, false) })

	// Reads stay legal.
	assert.True(t, store.IsAlive(e))

	store.SetDeferred(false)
	store.Set(e, pos, uint32(1))
	assert.True(t, store.Has(e, pos))
}

func TestStoreCreateAtPurgesGenerationMismatch(t *testing.T) {
	registry, pos, _, _ := newTestRegistry()
	store := NewStore(registry)

	local := store.Create(true)
	store.Set(local, pos, uint32(99))

	// The remote says this index now holds generation 5; the local
	// occupant is stale and must be purged, never merged.
	remote := Entity{Index: local.Index, Generation: 5}
	created := store.CreateAt(remote)

	assert.Equal(t, remote, created)
	assert.True(t, store.IsAlive(remote))
	assert.False(t, store.IsAlive(local))
	assert.False(t, store.Has(remote, pos))
}

func TestStoreCreateAtIdempotent(t *testing.T) {
	registry, pos, _, _ := newTestRegistry()
	store := NewStore(registry)

	e := store.CreateAt(Entity{Index: 3, Generation: 2})
	store.Set(e, pos, uint32(7))

	again := store.CreateAt(Entity{Index: 3, Generation: 2})
	assert.Equal(t, e, again)
	assert.True(t, store.Has(again, pos), "matching generation must not purge")
}

func TestStoreLocalEntitiesAllocateAboveReplicatedRange(t *testing.T) {
	registry, pos, _, _ := newTestRegistry()
	store := NewStore(registry)

	local := store.Create(false)
	networked := store.Create(true)
	assert.Equal(t, LocalEntityStart, local.Index)
	assert.Equal(t, uint32(0), networked.Index)

	// A remote snapshot materializing the low range can never land on the
	// local entity's index.
	remote := store.CreateAt(Entity{Index: networked.Index, Generation: 5})
	assert.NotEqual(t, local.Index, remote.Index)
	assert.True(t, store.IsAlive(local))

	store.Set(local, pos, uint32(7))
	value, ok := store.Get(local, pos)
	require.True(t, ok)
	assert.Equal(t, uint32(7), value)
}

func TestStoreLocalIndexRecycling(t *testing.T) {
	registry, _, _, _ := newTestRegistry()
	store := NewStore(registry)

	first := store.Create(false)
	second := store.Create(false)
	assert.Equal(t, LocalEntityStart+1, second.Index)

	store.Destroy(first)
	reborn := store.Create(false)
	assert.Equal(t, first.Index, reborn.Index)
	assert.NotEqual(t, first.Generation, reborn.Generation)

	// Local recycling must not leak indices into the replicated free list.
	networked := store.Create(true)
	assert.Equal(t, uint32(0), networked.Index)
}

func TestStoreCreateAtRejectsLocalRange(t *testing.T) {
	registry, _, _, _ := newTestRegistry()
	store := NewStore(registry)
	assert.Panics(t, func() {
		store.CreateAt(Entity{Index: LocalEntityStart, Generation: 0})
	})
}

func TestStoreObserverFiltersNonNetworked(t *testing.T) {
	registry, pos, _, _ := newTestRegistry()
	store := NewStore(registry)
	acc := NewDirtyAccumulator(registry)
	store.AddObserver(acc)

	hidden := store.Create(false)
	store.Set(hidden, pos, uint32(1))
	store.Destroy(hidden)

	assert.Equal(t, 0, acc.Adds().Len())
	assert.Empty(t, acc.Destroyed())
}

func TestStoreEnableDisable(t *testing.T) {
	registry, _, _, _ := newTestRegistry()
	store := NewStore(registry)
	e := store.Create(true)

	assert.True(t, store.IsEnabled(e))
	store.SetEnabled(e, false)
	assert.False(t, store.IsEnabled(e))
	assert.True(t, store.IsAlive(e))
}

func TestStoreForEachInsertionOrder(t *testing.T) {
	registry, _, _, _ := newTestRegistry()
	store := NewStore(registry)

	a := store.Create(true)
	b := store.Create(false)
	c := store.Create(true)
	store.Destroy(b)

	var seen []Entity
	store.ForEach(func(e Entity) { seen = append(seen, e) })
	assert.Equal(t, []Entity{a, c}, seen)

	var networked []Entity
	store.ForEachNetworked(func(e Entity) { networked = append(networked, e) })
	assert.Equal(t, []Entity{a, c}, networked)
}

func TestStoreDestroyAllNetworked(t *testing.T) {
	registry, _, _, _ := newTestRegistry()
	store := NewStore(registry)

	kept := store.Create(false)
	store.Create(true)
	store.Create(true)

	store.DestroyAllNetworked()
	assert.Equal(t, 1, store.EntityCount())
	assert.True(t, store.IsAlive(kept))
}
