package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDirtyFixture() (*Store, *DirtyAccumulator, ComponentID, ComponentID, ComponentID) {
	registry, high, low, tag := newTestRegistry()
	store := NewStore(registry)
	acc := NewDirtyAccumulator(registry)
	store.AddObserver(acc)
	return store, acc, high, low, tag
}

func TestDirtyAddCarriesValueUpdate(t *testing.T) {
	store, acc, pos, _, _ := newDirtyFixture()
	e := store.Create(true)

	store.Set(e, pos, uint32(1))

	assert.Equal(t, 1, acc.Adds().Len())
	assert.Equal(t, 1, acc.Updates(PriorityHigh).Len())
	assert.Equal(t, 0, acc.Updates(PriorityLow).Len())
}

func TestDirtyAddSupersedesSet(t *testing.T) {
	store, acc, pos, _, _ := newDirtyFixture()
	e := store.Create(true)

	// Add followed by repeated sets collapses to one add and one update.
	store.Set(e, pos, uint32(1))
	store.Set(e, pos, uint32(2))
	store.Set(e, pos, uint32(3))

	assert.Equal(t, 1, acc.Adds().Len())
	acc.Adds().ForEach(func(index uint32, ids []ComponentID) {
		assert.Equal(t, e.Index, index)
		assert.Equal(t, []ComponentID{pos}, ids)
	})
	assert.Equal(t, 1, acc.Updates(PriorityHigh).Len())
}

func TestDirtyTagHasNoValueUpdate(t *testing.T) {
	store, acc, _, _, tag := newDirtyFixture()
	e := store.Create(true)

	store.Set(e, tag, nil)

	assert.Equal(t, 1, acc.Adds().Len())
	assert.Equal(t, 0, acc.Updates(PriorityHigh).Len())
	assert.Equal(t, 0, acc.Updates(PriorityLow).Len())
}

func TestDirtyPrioritySplit(t *testing.T) {
	store, acc, pos, vel, _ := newDirtyFixture()
	e := store.Create(true)

	store.Set(e, pos, uint32(1))
	store.Set(e, vel, uint32(2))

	assert.Equal(t, 1, acc.Updates(PriorityHigh).Len())
	assert.Equal(t, 1, acc.Updates(PriorityLow).Len())
}

func TestDirtyDestroySupersedesEverything(t *testing.T) {
	store, acc, pos, vel, _ := newDirtyFixture()
	e := store.Create(true)

	store.Set(e, pos, uint32(1))
	store.Set(e, vel, uint32(2))
	store.SetEnabled(e, false)
	store.Destroy(e)

	require.Len(t, acc.Destroyed(), 1)
	assert.Equal(t, e, acc.Destroyed()[0])
	assert.Equal(t, 0, acc.Adds().Len())
	assert.Equal(t, 0, acc.Removes().Len())
	assert.Equal(t, 0, acc.Updates(PriorityHigh).Len())
	assert.Equal(t, 0, acc.Updates(PriorityLow).Len())
	assert.Equal(t, 0, acc.ActiveLen())
}

func TestDirtyRemoveSupersedesAdd(t *testing.T) {
	store, acc, pos, _, _ := newDirtyFixture()
	e := store.Create(true)

	store.Set(e, pos, uint32(1))
	store.Remove(e, pos)

	// Add-then-remove within one window nets out to a removal only.
	assert.Equal(t, 0, acc.Adds().Len())
	assert.Equal(t, 0, acc.Updates(PriorityHigh).Len())
	assert.Equal(t, 1, acc.Removes().Len())
}

func TestDirtyReAddSupersedesRemove(t *testing.T) {
	store, acc, pos, _, _ := newDirtyFixture()
	e := store.Create(true)
	store.Set(e, pos, uint32(1))
	acc.Reset()

	store.Remove(e, pos)
	store.Set(e, pos, uint32(2))

	assert.Equal(t, 0, acc.Removes().Len())
	assert.Equal(t, 1, acc.Adds().Len())
	assert.Equal(t, 1, acc.Updates(PriorityHigh).Len())
}

func TestDirtyGenerationRecyclePurgesStaleEntries(t *testing.T) {
	store, acc, pos, _, _ := newDirtyFixture()

	old := store.Create(true)
	store.Set(old, pos, uint32(1))
	store.Destroy(old)

	// Recycling the index within the same window must not leak the dead
	// entity's pending changes into the new one.
	fresh := store.Create(true)
	store.Set(fresh, pos, uint32(2))

	require.Len(t, acc.Destroyed(), 1)
	assert.Equal(t, old, acc.Destroyed()[0])
	assert.Equal(t, 1, acc.Adds().Len())
	acc.Adds().ForEach(func(index uint32, _ []ComponentID) {
		assert.Equal(t, fresh.Index, index)
	})
}

func TestDirtyLastActiveFlagWins(t *testing.T) {
	store, acc, _, _, _ := newDirtyFixture()
	e := store.Create(true)

	store.SetEnabled(e, false)
	store.SetEnabled(e, true)

	require.Equal(t, 1, acc.ActiveLen())
	acc.ForEachActive(func(index uint32, flag ActiveFlag) {
		assert.Equal(t, e.Index, index)
		assert.Equal(t, DoEnable, flag)
	})
}

func TestDirtyReset(t *testing.T) {
	store, acc, pos, _, _ := newDirtyFixture()
	e := store.Create(true)
	store.Set(e, pos, uint32(1))
	store.Destroy(e)

	acc.Reset()
	assert.Empty(t, acc.Destroyed())
	assert.False(t, acc.HasMetaChanges())
	assert.Equal(t, 0, acc.Updates(PriorityHigh).Len())
}
