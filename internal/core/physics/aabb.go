package physics

// AABB is an axis-aligned bounding box in world space.
type AABB struct {
	Min Vec2
	Max Vec2
}

// NewAABB builds a box of the given half extents centered on pos.
func NewAABB(halfWidth, halfHeight float32, pos Vec2) AABB {
	return AABB{
		Min: Vec2{pos.X - halfWidth, pos.Y - halfHeight},
		Max: Vec2{pos.X + halfWidth, pos.Y + halfHeight},
	}
}

// Overlaps reports whether a and b intersect, touching edges included.
func (a AABB) Overlaps(b AABB) bool {
	d1 := b.Min.Sub(a.Max)
	d2 := a.Min.Sub(b.Max)

	if d1.X > 0.0 || d1.Y > 0.0 {
		return false
	}
	if d2.X > 0.0 || d2.Y > 0.0 {
		return false
	}
	return true
}

func (a AABB) Contains(p Vec2) bool {
	return a.Min.X <= p.X && p.X <= a.Max.X && a.Min.Y <= p.Y && p.Y <= a.Max.Y
}

// Union returns the smallest box enclosing both a and b.
func (a AABB) Union(b AABB) AABB {
	return AABB{
		Min: Vec2{min32(a.Min.X, b.Min.X), min32(a.Min.Y, b.Min.Y)},
		Max: Vec2{max32(a.Max.X, b.Max.X), max32(a.Max.Y, b.Max.Y)},
	}
}

func (a AABB) center() Vec2 {
	return Vec2{(a.Min.X + a.Max.X) * 0.5, (a.Min.Y + a.Max.Y) * 0.5}
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
