package physics

import "sort"

// Entry is one indexed shape. EntityID carries the owning entity packed by
// the caller; the index itself only compares ShapeID.
type Entry struct {
	Bounds   AABB
	ShapeID  uint32
	EntityID uint64
}

// Index is a bulk-rebuilt AABB tree. Entries are inserted over the course of
// a tick and the tree is (re)built lazily on the first query; Clear resets
// it for the next tick. There is no incremental update, every tick starts
// from an empty index.
type Index struct {
	entries []Entry
	nodes   []indexNode
	dirty   bool
}

type indexNode struct {
	bounds AABB
	// Leaf nodes hold entry >= 0; internal nodes hold child node indices.
	left, right int32
	entry       int32
}

// Insert queues an entry for the next build.
func (x *Index) Insert(e Entry) {
	x.entries = append(x.entries, e)
	x.dirty = true
}

// Clear drops all entries and the built tree, keeping capacity.
func (x *Index) Clear() {
	x.entries = x.entries[:0]
	x.nodes = x.nodes[:0]
	x.dirty = false
}

// Len returns the number of queued entries.
func (x *Index) Len() int { return len(x.entries) }

// Query calls fn for every entry whose bounds overlap aabb. fn returning
// false stops the walk early.
func (x *Index) Query(aabb AABB, fn func(Entry) bool) {
	if x.dirty {
		x.build()
	}
	if len(x.nodes) == 0 {
		return
	}
	x.walk(int32(len(x.nodes)-1), aabb, fn)
}

func (x *Index) walk(node int32, aabb AABB, fn func(Entry) bool) bool {
	n := &x.nodes[node]
	if !n.bounds.Overlaps(aabb) {
		return true
	}
	if n.entry >= 0 {
		return fn(x.entries[n.entry])
	}
	if !x.walk(n.left, aabb, fn) {
		return false
	}
	return x.walk(n.right, aabb, fn)
}

// build constructs a static median-split tree over the queued entries. The
// root is always the last node appended.
func (x *Index) build() {
	x.dirty = false
	x.nodes = x.nodes[:0]
	if len(x.entries) == 0 {
		return
	}

	order := make([]int32, len(x.entries))
	for i := range order {
		order[i] = int32(i)
	}
	x.buildRange(order)
}

func (x *Index) buildRange(order []int32) int32 {
	if len(order) == 1 {
		idx := order[0]
		x.nodes = append(x.nodes, indexNode{
			bounds: x.entries[idx].Bounds,
			entry:  idx,
		})
		return int32(len(x.nodes) - 1)
	}

	bounds := x.entries[order[0]].Bounds
	for _, idx := range order[1:] {
		bounds = bounds.Union(x.entries[idx].Bounds)
	}

	// Split on the longer axis at the median center.
	splitX := bounds.Max.X-bounds.Min.X >= bounds.Max.Y-bounds.Min.Y
	sort.Slice(order, func(i, j int) bool {
		ci := x.entries[order[i]].Bounds.center()
		cj := x.entries[order[j]].Bounds.center()
		if splitX {
			return ci.X < cj.X
		}
		return ci.Y < cj.Y
	})

	mid := len(order) / 2
	left := x.buildRange(order[:mid])
	right := x.buildRange(order[mid:])

	x.nodes = append(x.nodes, indexNode{
		bounds: x.nodes[left].bounds.Union(x.nodes[right].bounds),
		left:   left,
		right:  right,
		entry:  -1,
	})
	return int32(len(x.nodes) - 1)
}
