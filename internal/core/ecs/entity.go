package ecs

import "fmt"

// Entity is a versioned handle: an index into the store plus the generation
// the index had when the handle was issued. Destroying an entity bumps the
// index's generation, so stale handles compare unequal to any later entity
// reusing the index.
type Entity struct {
	Index      uint32
	Generation uint32
}

// InvalidEntity is never alive.
var InvalidEntity = Entity{Index: ^uint32(0)}

func (e Entity) Valid() bool {
	return e != InvalidEntity
}

// Pack folds the entity into a single uint64, index in the high bits.
func (e Entity) Pack() uint64 {
	return uint64(e.Index)<<32 | uint64(e.Generation)
}

// Unpack is the inverse of Pack.
func Unpack(v uint64) Entity {
	return Entity{
		Index:      uint32(v >> 32),
		Generation: uint32(v),
	}
}

func (e Entity) String() string {
	return fmt.Sprintf("entity(%d:%d)", e.Index, e.Generation)
}
