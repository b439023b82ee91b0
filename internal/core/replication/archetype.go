package replication

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/aesync/aesync/internal/core/ecs"
)

// archetypeGroup is a set of entities sharing one changed-component set.
// Serializing per group writes the component id list once instead of once
// per entity.
type archetypeGroup struct {
	ids      []ecs.ComponentID
	entities []uint32
}

// groupArchetypes buckets the map's entities by their component set. Sets
// are keyed by an xxhash of the sorted ids; a hash collision falls through
// to a full comparison, so colliding sets end up in separate groups rather
// than merged. Group order follows the first entity touched with each set.
func groupArchetypes(entities *ecs.EntityCompMap) []archetypeGroup {
	var groups []archetypeGroup
	byHash := make(map[uint64][]int)

	var scratch [4]byte
	entities.ForEach(func(index uint32, ids []ecs.ComponentID) {
		digest := xxhash.New()
		for _, id := range ids {
			binary.LittleEndian.PutUint32(scratch[:], uint32(id))
			_, _ = digest.Write(scratch[:])
		}
		hash := digest.Sum64()

		for _, gi := range byHash[hash] {
			if equalIDs(groups[gi].ids, ids) {
				groups[gi].entities = append(groups[gi].entities, index)
				return
			}
		}

		groups = append(groups, archetypeGroup{
			ids:      append([]ecs.ComponentID(nil), ids...),
			entities: []uint32{index},
		})
		byHash[hash] = append(byHash[hash], len(groups)-1)
	})

	return groups
}

func equalIDs(a, b []ecs.ComponentID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
