package physics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorldShapeLifecycle(t *testing.T) {
	world := NewWorld()

	id := world.CreateShape(NewCircle(Vec2{}, 0, 1))
	require.NotEqual(t, InvalidShapeID, id)
	assert.True(t, world.HasShape(id))
	assert.NotNil(t, world.GetShape(id))

	world.EraseShape(id)
	assert.False(t, world.HasShape(id))
	assert.Nil(t, world.GetShape(id))
}

func TestWorldInsertShapeAtID(t *testing.T) {
	world := NewWorld()

	// Mirroring a remote world places shapes at fixed ids.
	world.InsertShape(42, NewCircle(Vec2{}, 0, 2))
	assert.True(t, world.HasShape(42))

	// Later local creations must not collide with the inserted id.
	id := world.CreateShape(NewCircle(Vec2{}, 0, 1))
	assert.NotEqual(t, uint32(42), id)

	assert.Panics(t, func() {
		world.InsertShape(42, NewCircle(Vec2{}, 0, 3))
	})
}

func TestWorldStepEmitsCollisions(t *testing.T) {
	world := NewWorld()

	a := world.CreateShape(NewCircle(Vec2{}, 0, 5))
	b := world.CreateShape(NewCircle(Vec2{}, 0, 5))
	c := world.CreateShape(NewCircle(Vec2{}, 0, 1))

	bodies := []BodyState{
		{EntityID: 1, ShapeID: a, Pos: Vec2{0, 0}},
		{EntityID: 2, ShapeID: b, Pos: Vec2{8, 0}},
		{EntityID: 3, ShapeID: c, Pos: Vec2{100, 100}},
	}

	var events []CollisionEvent
	world.Step(bodies, func(ev CollisionEvent) {
		events = append(events, ev)
	})

	// Each body of the overlapping pair sees the collision once.
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.NotEqual(t, ev.Self, ev.Other)
		assert.NotEqual(t, uint64(3), ev.Self)
		assert.InDelta(t, 2.0, float64(ev.Manifold.Depth), 1e-4)
	}
}

func TestWorldStepWritesTransformsBack(t *testing.T) {
	world := NewWorld()
	id := world.CreateShape(NewCircle(Vec2{}, 0, 1))

	bodies := []BodyState{{EntityID: 1, ShapeID: id, Pos: Vec2{7, 3}, Rot: 0.5}}
	world.Step(bodies, nil)

	assert.Equal(t, Vec2{7, 3}, bodies[0].Pos)
	assert.Equal(t, float32(0.5), bodies[0].Rot)
	assert.Equal(t, Vec2{}, bodies[0].Centroid)
}

func TestWorldStepSeesHandlerMutations(t *testing.T) {
	world := NewWorld()
	a := world.CreateShape(NewCircle(Vec2{}, 0, 5))
	b := world.CreateShape(NewCircle(Vec2{}, 0, 5))

	bodies := []BodyState{
		{EntityID: 1, ShapeID: a, Pos: Vec2{0, 0}},
		{EntityID: 2, ShapeID: b, Pos: Vec2{8, 0}},
	}

	// Push the colliding shape apart during the event; the write-back phase
	// must observe the new position.
	world.Step(bodies, func(ev CollisionEvent) {
		if ev.Self == 1 {
			shape := world.GetShape(ev.SelfShape)
			shape.SetPos(shape.Pos().Sub(ev.Manifold.Normal.Scale(ev.Manifold.Depth)))
		}
	})

	assert.InDelta(t, -2.0, float64(bodies[0].Pos.X), 1e-4)
}

func TestWorldForEachNetworkDirty(t *testing.T) {
	world := NewWorld()
	a := world.CreateShape(NewCircle(Vec2{}, 0, 1))
	b := world.CreateShape(NewCircle(Vec2{}, 0, 2))

	world.GetShape(a).ClearNetworkDirty()

	var dirty []uint32
	world.ForEachNetworkDirty(func(id uint32, s *Shape) {
		dirty = append(dirty, id)
	})
	assert.Equal(t, []uint32{b}, dirty)
}
