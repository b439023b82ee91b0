package physics

import "math"

// Manifold describes a detected collision. Normal is the minimum translation
// axis; Depth is the penetration along it. Either shape can be moved by
// Depth along Normal (or its negation) to separate the pair.
type Manifold struct {
	Depth  float32
	Normal Vec2
}

// TestCollision runs the narrow phase for any pair of shape kinds and
// reports whether they intersect. The boolean outcome and depth are
// symmetric in argument order; the normal may flip sign.
func TestCollision(a, b *Shape) (Manifold, bool) {
	manifold := Manifold{Depth: math.MaxFloat32}
	hit := collisionTable[a.kind][b.kind](a, b, &manifold)
	return manifold, hit
}

// collisionTable dispatches on the two shape kinds. Indexed
// [a.kind][b.kind]; the mixed cells swap arguments into the single
// polygon/circle routine.
var collisionTable = [2][2]func(a, b *Shape, m *Manifold) bool{
	KindPolygon: {
		KindPolygon: collidePolyPoly,
		KindCircle:  collidePolyCircle,
	},
	KindCircle: {
		KindPolygon: func(a, b *Shape, m *Manifold) bool { return collidePolyCircle(b, a, m) },
		KindCircle:  collideCircleCircle,
	},
}

type projection struct {
	min, max float32
}

func project(verts []Vec2, normal Vec2) projection {
	proj := projection{min: normal.Dot(verts[0])}
	proj.max = proj.min

	for _, v := range verts[1:] {
		p := normal.Dot(v)
		if p < proj.min {
			proj.min = p
		} else if p > proj.max {
			proj.max = p
		}
	}
	return proj
}

// satHalfTest projects both vertex sets onto one shape's normals. It returns
// false as soon as a separating axis is found; otherwise it narrows the
// manifold to the shallowest overlapping axis seen so far.
func satHalfTest(verts1, verts2, normals1 []Vec2, m *Manifold) bool {
	for _, normal := range normals1 {
		proj1 := project(verts1, normal)
		proj2 := project(verts2, normal)

		if !(proj1.max >= proj2.min && proj2.max >= proj1.min) {
			return false
		}

		depth := max32(0.0, min32(proj1.max, proj2.max)-max32(proj1.min, proj2.min))
		if depth <= m.Depth {
			m.Depth = depth
			m.Normal = normal
		}
	}
	return true
}

// pointSegmentDistance returns the distance from p to segment v1-v2 and the
// closest point on the segment.
func pointSegmentDistance(p, v1, v2 Vec2) (float32, Vec2) {
	seg := v2.Sub(v1)
	d := p.Sub(v1).Dot(seg) / seg.LengthSq()

	var cp Vec2
	switch {
	case d <= 0.0:
		cp = v1
	case d >= 1.0:
		cp = v2
	default:
		cp = v1.Add(seg.Scale(d))
	}
	return p.Sub(cp).Length(), cp
}

func collidePolyPoly(a, b *Shape, m *Manifold) bool {
	verts1, normals1 := a.WorldVertices(), a.WorldNormals()
	verts2, normals2 := b.WorldVertices(), b.WorldNormals()

	if !satHalfTest(verts1, verts2, normals1, m) {
		return false
	}
	if !satHalfTest(verts2, verts1, normals2, m) {
		return false
	}
	return true
}

func collideCircleCircle(a, b *Shape, m *Manifold) bool {
	totalRadius := a.radius + b.radius
	dir := b.pos.Sub(a.pos)
	length := dir.Length()

	if totalRadius > length {
		if dir.X == 0.0 && dir.Y == 0.0 {
			// Coincident centers have no meaningful axis.
			m.Normal = Vec2{0.0, 1.0}
		} else {
			m.Normal = dir.Normalized()
		}
		m.Depth = totalRadius - length
		return true
	}
	return false
}

func collidePolyCircle(poly, circle *Shape, m *Manifold) bool {
	verts := poly.WorldVertices()
	normals := poly.WorldNormals()

	for i := range verts {
		v1 := verts[i]
		v2 := verts[(i+1)%len(verts)]

		dist, _ := pointSegmentDistance(circle.pos, v1, v2)
		if dist < m.Depth {
			m.Depth = dist
			m.Normal = normals[i]
		}
	}

	if m.Depth < circle.radius {
		m.Depth = circle.radius - m.Depth
		return true
	}
	return false
}
