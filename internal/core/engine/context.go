package engine

import (
	"github.com/aesync/aesync/internal/core/ecs"
	"github.com/aesync/aesync/internal/core/observability/log"
	"github.com/aesync/aesync/internal/core/physics"
	"github.com/aesync/aesync/internal/core/protocol"
	"github.com/aesync/aesync/internal/core/replication"
)

// Context owns one engine instance: the store, the physics world, the
// replication manager, and the transport, wired together. Everything hangs
// off a Context value; there is no process-global engine.
type Context struct {
	Log       log.Log
	Store     *ecs.Store
	World     *physics.World
	Manager   *replication.Manager
	Transport protocol.Transport
	Ticker    *Ticker

	// Built-in replicated components, registered at construction in wire
	// id order.
	TransformID ecs.ComponentID
	ShapeRefID  ecs.ComponentID

	cfg    Config
	states *stateTable
	bodies []physics.BodyState
	// Pairs overlapping in the current physics step, from each side.
	onCollision func(physics.CollisionEvent)
}

func NewContext(cfg Config, transport protocol.Transport, lg log.Log) *Context {
	store := ecs.NewStore(ecs.NewRegistry())
	world := physics.NewWorld()

	c := &Context{
		Log:       lg,
		Store:     store,
		World:     world,
		Manager:   replication.NewManager(store, world, lg),
		Transport: transport,
		Ticker:    NewTicker(cfg.TPS),
		cfg:       cfg,
		states:    newStateTable(lg),
	}

	// Transforms change every simulated tick; losing one costs nothing
	// because the next tick replaces it. Shape bindings must never be
	// lost.
	c.TransformID = c.Manager.RegisterComponent("transform", ecs.PriorityLow, transformCodec{})
	c.ShapeRefID = c.Manager.RegisterComponent("shape", ecs.PriorityHigh, shapeRefCodec{})

	c.Manager.SetStateHooks(
		func() uint64 { return c.states.current },
		func(id uint64) { c.states.apply(c, id) },
	)
	store.AddObserver(&shapeReaper{ctx: c})
	return c
}

func (c *Context) Config() Config {
	return c.cfg
}

// RegisterState installs transition hooks for a state id.
func (c *Context) RegisterState(id uint64, hooks StateHooks) {
	c.states.register(id, hooks)
}

// State returns the current engine state id.
func (c *Context) State() uint64 {
	return c.states.current
}

// TransitionState switches the engine state. A deferred transition runs at
// the end of the current tick; an immediate one runs in place. The change
// rides the next delta.
func (c *Context) TransitionState(id uint64, immediate bool) {
	if c.states.transition(c, id, immediate) {
		c.Manager.MarkStateChanged()
	}
}

func (c *Context) flushStateTransition() {
	if c.states.flush(c) {
		c.Manager.MarkStateChanged()
	}
}

// SetCollisionHandler installs the callback StepPhysics reports overlaps
// to. Each overlapping pair is reported twice, once from each side.
func (c *Context) SetCollisionHandler(fn func(physics.CollisionEvent)) {
	c.onCollision = fn
}

// SpawnBody creates a networked entity bound to a freshly registered
// shape, placing the shape at the transform.
func (c *Context) SpawnBody(t Transform, shape *physics.Shape) ecs.Entity {
	shape.SetPos(t.Pos.Sub(t.Origin))
	shape.SetRot(t.Rot)
	id := c.World.CreateShape(shape)

	e := c.Store.Create(true)
	c.Store.Set(e, c.TransformID, t)
	c.Store.Set(e, c.ShapeRefID, ShapeRef{ID: id})
	return e
}

// Transform returns the entity's transform component.
func (c *Context) Transform(e ecs.Entity) (Transform, bool) {
	value, ok := c.Store.Get(e, c.TransformID)
	if !ok {
		return Transform{}, false
	}
	t, ok := value.(Transform)
	return t, ok
}

// Shape resolves the entity's bound physics shape, or nil.
func (c *Context) Shape(e ecs.Entity) *physics.Shape {
	value, ok := c.Store.Get(e, c.ShapeRefID)
	if !ok {
		return nil
	}
	ref, ok := value.(ShapeRef)
	if !ok {
		return nil
	}
	return c.World.GetShape(ref.ID)
}

// StepPhysics runs the fixed physics pipeline over every enabled entity
// that carries both a transform and a shape, then writes the resolved
// placements back into the transforms.
func (c *Context) StepPhysics() {
	bodies := c.bodies[:0]
	entities := make([]ecs.Entity, 0, len(c.bodies))

	c.Store.ForEach(func(e ecs.Entity) {
		if !c.Store.IsEnabled(e) {
			return
		}
		tv, ok := c.Store.Get(e, c.TransformID)
		if !ok {
			return
		}
		rv, ok := c.Store.Get(e, c.ShapeRefID)
		if !ok {
			return
		}
		t, ok := tv.(Transform)
		if !ok {
			return
		}
		ref, ok := rv.(ShapeRef)
		if !ok {
			return
		}

		bodies = append(bodies, physics.BodyState{
			EntityID: e.Pack(),
			ShapeID:  ref.ID,
			// Shapes track their unweighted position; the transform holds
			// the centroid-weighted one.
			Pos: t.Pos.Sub(t.Origin),
			Rot: t.Rot,
		})
		entities = append(entities, e)
	})

	c.World.Step(bodies, c.onCollision)

	for i, b := range bodies {
		c.Store.Set(entities[i], c.TransformID, Transform{
			Pos:    b.Pos,
			Rot:    b.Rot,
			Origin: b.Centroid,
		})
	}
	c.bodies = bodies
}

// shapeReaper erases an entity's physics shape when the entity dies, and
// schedules the erasure for replication. It only sees networked entities;
// local-only bodies are the caller's to clean up.
type shapeReaper struct {
	ctx *Context
}

var _ ecs.Observer = (*shapeReaper)(nil)

func (s *shapeReaper) OnEntityDestroyed(e ecs.Entity) {
	value, ok := s.ctx.Store.Get(e, s.ctx.ShapeRefID)
	if !ok {
		return
	}
	ref, ok := value.(ShapeRef)
	if !ok {
		return
	}
	s.ctx.World.EraseShape(ref.ID)
	s.ctx.Manager.MarkShapeErased(ref.ID)
}

func (s *shapeReaper) OnEntityActive(ecs.Entity, bool)                {}
func (s *shapeReaper) OnComponentAdded(ecs.Entity, ecs.ComponentID)   {}
func (s *shapeReaper) OnComponentSet(ecs.Entity, ecs.ComponentID)     {}
func (s *shapeReaper) OnComponentRemoved(ecs.Entity, ecs.ComponentID) {}
