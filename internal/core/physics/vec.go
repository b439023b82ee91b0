package physics

import "math"

// Vec2 is a 2-D vector. All geometry in the engine is float32; intermediate
// math goes through float64 only where the stdlib requires it.
type Vec2 struct {
	X float32
	Y float32
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

func (v Vec2) Scale(s float32) Vec2 { return Vec2{v.X * s, v.Y * s} }

func (v Vec2) Dot(o Vec2) float32 { return v.X*o.X + v.Y*o.Y }

// Cross returns the z component of the 3-D cross product.
func (v Vec2) Cross(o Vec2) float32 { return v.X*o.Y - v.Y*o.X }

func (v Vec2) LengthSq() float32 { return v.X*v.X + v.Y*v.Y }

func (v Vec2) Length() float32 {
	return float32(math.Hypot(float64(v.X), float64(v.Y)))
}

// Normalized returns the unit vector, or the zero vector unchanged.
func (v Vec2) Normalized() Vec2 {
	l := v.Length()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{v.X / l, v.Y / l}
}

// Rotated rotates v by angle radians about the origin.
func (v Vec2) Rotated(angle float32) Vec2 {
	sin, cos := math.Sincos(float64(angle))
	return v.rotatedSinCos(float32(sin), float32(cos))
}

// rotatedSinCos rotates using precalculated sin and cos.
func (v Vec2) rotatedSinCos(sin, cos float32) Vec2 {
	return Vec2{
		X: v.X*cos - v.Y*sin,
		Y: v.X*sin + v.Y*cos,
	}
}

func (v Vec2) angle() float32 {
	return float32(math.Atan2(float64(v.Y), float64(v.X)))
}
