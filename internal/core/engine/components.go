package engine

import (
	"github.com/aesync/aesync/internal/core/ecs"
	"github.com/aesync/aesync/internal/core/physics"
	"github.com/aesync/aesync/internal/core/protocol"
)

// Transform is an entity's world placement. Origin is the local offset the
// physics pipeline resolved the position around (the shape centroid); Pos
// is the weighted world position including it.
type Transform struct {
	Pos    physics.Vec2
	Rot    float32
	Origin physics.Vec2
}

// ShapeRef binds an entity to a shape in the physics world.
type ShapeRef struct {
	ID uint32
}

type transformCodec struct{}

func (transformCodec) Encode(w protocol.Writer, value any) {
	t := value.(Transform)
	w.Vec2(t.Pos)
	w.F32(t.Rot)
	w.Vec2(t.Origin)
}

func (transformCodec) Decode(r *protocol.Reader) any {
	return Transform{
		Pos:    r.Vec2(),
		Rot:    r.F32(),
		Origin: r.Vec2(),
	}
}

type shapeRefCodec struct{}

func (shapeRefCodec) Encode(w protocol.Writer, value any) {
	w.U32(value.(ShapeRef).ID)
}

func (shapeRefCodec) Decode(r *protocol.Reader) any {
	return ShapeRef{ID: r.U32()}
}

var (
	_ ecs.Codec = transformCodec{}
	_ ecs.Codec = shapeRefCodec{}
)
