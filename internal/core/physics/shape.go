package physics

import (
	"fmt"
	"math"
	"sort"
)

// MaxPolygonVertices bounds convex polygons so shapes stay fixed-size on the
// wire and in memory.
const MaxPolygonVertices = 8

// ShapeKind discriminates the Shape union.
type ShapeKind uint8

const (
	KindPolygon ShapeKind = iota
	KindCircle
	KindInvalid
)

// ShapeKinds is every valid kind, in wire order.
var ShapeKinds = [...]ShapeKind{KindPolygon, KindCircle}

func (k ShapeKind) String() string {
	switch k {
	case KindPolygon:
		return "polygon"
	case KindCircle:
		return "circle"
	default:
		return "invalid"
	}
}

// Shape is a tagged union of a circle and a convex polygon. Kind is fixed at
// construction; all collision dispatch keys off it rather than an interface.
//
// Shapes carry two independent dirty bits. The local bit invalidates the
// cached world-space vertices and normals and is cleared whenever they are
// recomputed. The network bit marks the shape as changed since it was last
// replicated and is cleared only by the snapshot compiler.
type Shape struct {
	kind ShapeKind

	pos Vec2
	rot float32

	// Circle radius, or the polygon's bounding radius.
	radius float32

	centroid    Vec2
	vertexCount uint8
	verts       [MaxPolygonVertices]Vec2
	normals     [MaxPolygonVertices]Vec2

	cacheVerts   [MaxPolygonVertices]Vec2
	cacheNormals [MaxPolygonVertices]Vec2

	localDirty   bool
	networkDirty bool
}

// NewCircle builds a circle shape at pos with the given rotation and radius.
func NewCircle(pos Vec2, rot float32, radius float32) *Shape {
	return &Shape{
		kind:         KindCircle,
		pos:          pos,
		rot:          rot,
		radius:       radius,
		localDirty:   true,
		networkDirty: true,
	}
}

// NewPolygon builds a convex polygon shape from local-space vertices. The
// vertices are re-sorted counter-clockwise and re-centered about their
// centroid; fewer than 3 or more than 8 vertices is a programmer error and
// panics.
func NewPolygon(pos Vec2, rot float32, verts []Vec2) *Shape {
	s := &Shape{
		kind:         KindPolygon,
		pos:          pos,
		rot:          rot,
		localDirty:   true,
		networkDirty: true,
	}
	s.SetVertices(verts)
	return s
}

func (s *Shape) Kind() ShapeKind { return s.kind }

func (s *Shape) Pos() Vec2 { return s.pos }

func (s *Shape) SetPos(pos Vec2) {
	s.markLocalDirty()
	s.pos = pos
}

func (s *Shape) Rot() float32 { return s.rot }

func (s *Shape) SetRot(rot float32) {
	s.markLocalDirty()
	s.rot = rot
}

// Centroid is the polygon centroid in local space; zero for circles.
func (s *Shape) Centroid() Vec2 { return s.centroid }

// WeightedPos is the shape position offset by its centroid.
func (s *Shape) WeightedPos() Vec2 { return s.pos.Add(s.centroid) }

// Radius returns the circle radius, or the polygon's bounding radius.
func (s *Shape) Radius() float32 { return s.radius }

// SetRadius sets the circle radius. Calling it on a polygon panics.
func (s *Shape) SetRadius(radius float32) {
	if s.kind != KindCircle {
		panic("physics: SetRadius on a non-circle shape")
	}
	s.radius = radius
	s.markFullDirty()
}

// VertexCount returns the polygon vertex count; zero for circles.
func (s *Shape) VertexCount() int { return int(s.vertexCount) }

// Vertices returns the fixed-up local-space vertices. The slice aliases the
// shape and is only valid until the next SetVertices.
func (s *Shape) Vertices() []Vec2 { return s.verts[:s.vertexCount] }

// SetVertices replaces the polygon's local vertices, re-sorting them
// counter-clockwise and re-centering them about their centroid. Panics on a
// non-polygon shape or a vertex count outside [3, 8].
func (s *Shape) SetVertices(verts []Vec2) {
	if s.kind != KindPolygon {
		panic("physics: SetVertices on a non-polygon shape")
	}
	if len(verts) < 3 || len(verts) > MaxPolygonVertices {
		panic(fmt.Sprintf("physics: polygon vertex count %d outside [3, %d]", len(verts), MaxPolygonVertices))
	}

	s.vertexCount = uint8(len(verts))
	copy(s.verts[:], verts)
	s.fixVertices()
	s.markFullDirty()
}

// WorldVertices returns the cached world-space vertices, recomputing them
// when the local geometry is dirty.
func (s *Shape) WorldVertices() []Vec2 {
	if s.localDirty {
		s.computeWorldVertices()
	}
	return s.cacheVerts[:s.vertexCount]
}

// WorldNormals returns the cached world-space edge normals, recomputing them
// when the local geometry is dirty.
func (s *Shape) WorldNormals() []Vec2 {
	if s.localDirty {
		s.computeWorldVertices()
	}
	return s.cacheNormals[:s.vertexCount]
}

// Bounds returns the world-space AABB of the shape.
func (s *Shape) Bounds() AABB {
	if s.kind == KindCircle {
		return NewAABB(s.radius, s.radius, s.pos)
	}

	verts := s.WorldVertices()
	bounds := AABB{
		Min: Vec2{math.MaxFloat32, math.MaxFloat32},
		Max: Vec2{-math.MaxFloat32, -math.MaxFloat32},
	}
	for _, v := range verts {
		bounds.Min.X = min32(bounds.Min.X, v.X)
		bounds.Min.Y = min32(bounds.Min.Y, v.Y)
		bounds.Max.X = max32(bounds.Max.X, v.X)
		bounds.Max.Y = max32(bounds.Max.Y, v.Y)
	}
	return bounds
}

func (s *Shape) NetworkDirty() bool { return s.networkDirty }

func (s *Shape) ClearNetworkDirty() { s.networkDirty = false }

// MarkNetworkDirty flags the shape for the next replication pass.
func (s *Shape) MarkNetworkDirty() { s.networkDirty = true }

func (s *Shape) markLocalDirty() { s.localDirty = true }

func (s *Shape) markFullDirty() {
	s.localDirty = true
	s.networkDirty = true
}

// fixVertices normalizes a freshly assigned vertex set: compute the centroid,
// re-center the vertices about it, sort them counter-clockwise, then derive
// the bounding radius and outward edge normals.
func (s *Shape) fixVertices() {
	n := int(s.vertexCount)

	centroid := Vec2{}
	for i := 0; i < n; i++ {
		centroid = centroid.Add(s.verts[i])
	}
	centroid = centroid.Scale(1.0 / float32(n))
	s.centroid = centroid

	for i := 0; i < n; i++ {
		s.verts[i] = s.verts[i].Sub(centroid)
	}

	sort.Slice(s.verts[:n], func(i, j int) bool {
		return s.verts[i].angle() < s.verts[j].angle()
	})

	s.radius = 0.0
	for i := 0; i < n; i++ {
		if l := s.verts[i].Length(); l > s.radius {
			s.radius = l
		}
	}

	for i := 0; i < n; i++ {
		va := s.verts[i]
		vb := s.verts[(i+1)%n]

		edge := vb.Sub(va).Normalized()
		s.normals[i] = Vec2{edge.Y, -edge.X}
	}
}

func (s *Shape) computeWorldVertices() {
	s.localDirty = false

	sin, cos := math.Sincos(float64(s.rot))
	sin32, cos32 := float32(sin), float32(cos)

	for i := 0; i < int(s.vertexCount); i++ {
		s.cacheVerts[i] = s.verts[i].rotatedSinCos(sin32, cos32).Add(s.pos)
		s.cacheNormals[i] = s.normals[i].rotatedSinCos(sin32, cos32)
	}
}
