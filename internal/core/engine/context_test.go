package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aesync/aesync/internal/core/observability/log"
	"github.com/aesync/aesync/internal/core/physics"
	"github.com/aesync/aesync/internal/core/protocol"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Transport = "memory"
	lg := log.New(log.LevelError)
	return NewContext(cfg, protocol.NewMemoryTransport(lg), lg)
}

func TestSpawnBodyBindsShapeAndTransform(t *testing.T) {
	ctx := newTestContext(t)

	e := ctx.SpawnBody(
		Transform{Pos: physics.Vec2{X: 50, Y: 50}},
		physics.NewCircle(physics.Vec2{}, 0, 10))

	tr, ok := ctx.Transform(e)
	require.True(t, ok)
	assert.Equal(t, physics.Vec2{X: 50, Y: 50}, tr.Pos)

	shape := ctx.Shape(e)
	require.NotNil(t, shape)
	assert.Equal(t, float32(10), shape.Radius())
	assert.Equal(t, physics.Vec2{X: 50, Y: 50}, shape.Pos())
}

func TestStepPhysicsWritesBackResolvedTransform(t *testing.T) {
	ctx := newTestContext(t)

	// An off-center polygon: the constructor re-centers the vertices, so
	// the resolved transform carries the centroid as its origin.
	e := ctx.SpawnBody(
		Transform{Pos: physics.Vec2{X: 10, Y: 0}},
		physics.NewPolygon(physics.Vec2{}, 0, []physics.Vec2{
			{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 2}, {X: 0, Y: 2},
		}))

	ctx.StepPhysics()

	tr, ok := ctx.Transform(e)
	require.True(t, ok)
	shape := ctx.Shape(e)
	require.NotNil(t, shape)
	assert.Equal(t, shape.WeightedPos(), tr.Pos)
	assert.Equal(t, shape.Centroid(), tr.Origin)

	// Feeding the resolved transform back through must be a fixed point.
	ctx.StepPhysics()
	again, _ := ctx.Transform(e)
	assert.Equal(t, tr, again)
}

func TestStepPhysicsSkipsDisabled(t *testing.T) {
	ctx := newTestContext(t)

	a := ctx.SpawnBody(
		Transform{Pos: physics.Vec2{X: 0, Y: 0}},
		physics.NewCircle(physics.Vec2{}, 0, 5))
	ctx.SpawnBody(
		Transform{Pos: physics.Vec2{X: 3, Y: 0}},
		physics.NewCircle(physics.Vec2{}, 0, 5))

	var events int
	ctx.SetCollisionHandler(func(physics.CollisionEvent) { events++ })

	ctx.StepPhysics()
	assert.Equal(t, 2, events, "one event per side of the pair")

	events = 0
	ctx.Store.SetEnabled(a, false)
	ctx.StepPhysics()
	assert.Equal(t, 0, events)
}

func TestDestroyReapsShape(t *testing.T) {
	ctx := newTestContext(t)

	e := ctx.SpawnBody(
		Transform{Pos: physics.Vec2{X: 1, Y: 1}},
		physics.NewCircle(physics.Vec2{}, 0, 1))
	require.Equal(t, 1, ctx.World.ShapeCount())

	ctx.Store.Destroy(e)
	assert.Equal(t, 0, ctx.World.ShapeCount())
}

func TestStateTransitionDeferred(t *testing.T) {
	ctx := newTestContext(t)

	var trace []string
	ctx.RegisterState(0, StateHooks{
		OnExit: func(*Context) { trace = append(trace, "exit-0") },
	})
	ctx.RegisterState(7, StateHooks{
		OnEnter: func(*Context) { trace = append(trace, "enter-7") },
	})

	ctx.TransitionState(7, false)
	assert.Equal(t, uint64(0), ctx.State(), "deferred transition waits for the tick boundary")
	assert.Empty(t, trace)

	ctx.flushStateTransition()
	assert.Equal(t, uint64(7), ctx.State())
	assert.Equal(t, []string{"exit-0", "enter-7"}, trace)
}

func TestStateTransitionImmediate(t *testing.T) {
	ctx := newTestContext(t)
	ctx.TransitionState(3, true)
	assert.Equal(t, uint64(3), ctx.State())

	// A later flush must not re-run the transition.
	ctx.flushStateTransition()
	assert.Equal(t, uint64(3), ctx.State())
}
