package physics

import "fmt"

// InvalidShapeID is never allocated by CreateShape.
const InvalidShapeID uint32 = 0

// BodyState is one entity's view into the pipeline: its shape, the transform
// fed in, and the resolved transform written back by Step.
type BodyState struct {
	EntityID uint64
	ShapeID  uint32

	// In: the entity transform. Out: the resolved shape transform.
	Pos Vec2
	Rot float32

	// Out only; the shape's local centroid for transform origins.
	Centroid Vec2
}

// CollisionEvent reports one overlapping pair found by the narrow phase,
// from the perspective of Self.
type CollisionEvent struct {
	Self       uint64
	Other      uint64
	SelfShape  uint32
	OtherShape uint32
	Manifold   Manifold
}

// World owns all shapes, keyed by id, plus the per-tick spatial index.
type World struct {
	shapes map[uint32]*Shape
	// Creation order, so iteration is deterministic within a run.
	order     []uint32
	index     Index
	idCounter uint32
}

func NewWorld() *World {
	return &World{
		shapes: make(map[uint32]*Shape),
	}
}

func (w *World) HasShape(id uint32) bool {
	_, ok := w.shapes[id]
	return ok
}

// CreateShape stores the shape under a fresh id.
func (w *World) CreateShape(s *Shape) uint32 {
	w.idCounter++
	id := w.idCounter
	w.shapes[id] = s
	w.order = append(w.order, id)
	return id
}

// InsertShape stores the shape under a caller-chosen id, used when mirroring
// a remote world. The id must be free.
func (w *World) InsertShape(id uint32, s *Shape) {
	if _, ok := w.shapes[id]; ok {
		panic(fmt.Sprintf("physics: shape id %d already exists", id))
	}
	w.shapes[id] = s
	w.order = append(w.order, id)
	if id > w.idCounter {
		w.idCounter = id
	}
}

// GetShape returns the shape, or nil when the id is unknown.
func (w *World) GetShape(id uint32) *Shape {
	return w.shapes[id]
}

func (w *World) EraseShape(id uint32) {
	if _, ok := w.shapes[id]; !ok {
		return
	}
	delete(w.shapes, id)
	for i, oid := range w.order {
		if oid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// ShapeCount returns the number of live shapes.
func (w *World) ShapeCount() int { return len(w.shapes) }

// ForEachShape visits shapes in creation order.
func (w *World) ForEachShape(fn func(id uint32, s *Shape)) {
	for _, id := range w.order {
		fn(id, w.shapes[id])
	}
}

// ForEachNetworkDirty visits, in creation order, every shape flagged as
// changed since the last replication pass.
func (w *World) ForEachNetworkDirty(fn func(id uint32, s *Shape)) {
	for _, id := range w.order {
		if s := w.shapes[id]; s.NetworkDirty() {
			fn(id, s)
		}
	}
}

// Index exposes the spatial index for ad-hoc queries between steps.
func (w *World) Index() *Index { return &w.index }

// Step runs the fixed physics pipeline over the given bodies:
//
//  1. clear the spatial index
//  2. write each body's transform into its shape and insert it
//  3. broad phase via the index, narrow phase per candidate pair, one
//     collision event per overlapping non-self pair
//  4. write the resolved shape transforms back into the bodies
//
// onCollision may mutate shapes through the world; the write-back phase sees
// those mutations.
func (w *World) Step(bodies []BodyState, onCollision func(CollisionEvent)) {
	w.index.Clear()

	for _, b := range bodies {
		shape := w.shapes[b.ShapeID]
		if shape == nil {
			continue
		}
		shape.SetPos(b.Pos)
		shape.SetRot(b.Rot)
		w.index.Insert(Entry{
			Bounds:   shape.Bounds(),
			ShapeID:  b.ShapeID,
			EntityID: b.EntityID,
		})
	}

	for _, b := range bodies {
		shape := w.shapes[b.ShapeID]
		if shape == nil {
			continue
		}

		self := b
		w.index.Query(shape.Bounds(), func(e Entry) bool {
			if e.ShapeID == self.ShapeID {
				return true
			}
			other := w.shapes[e.ShapeID]
			if other == nil {
				return true
			}

			if manifold, hit := TestCollision(shape, other); hit && onCollision != nil {
				onCollision(CollisionEvent{
					Self:       self.EntityID,
					Other:      e.EntityID,
					SelfShape:  self.ShapeID,
					OtherShape: e.ShapeID,
					Manifold:   manifold,
				})
			}
			return true
		})
	}

	for i := range bodies {
		shape := w.shapes[bodies[i].ShapeID]
		if shape == nil {
			continue
		}
		bodies[i].Pos = shape.WeightedPos()
		bodies[i].Rot = shape.Rot()
		bodies[i].Centroid = shape.Centroid()
	}
}
