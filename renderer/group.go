// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"fmt"

	"honnef.co/go/indraw/encoding"
	"honnef.co/go/indraw/mem"
)

// DrawGroup is a contiguous run of sorted draws sharing one key, drawn as a
// single instanced indirect command if any of its objects survive culling.
type DrawGroup struct {
	Key encoding.DrawKey
	// MeshIdx indexes the frame's mesh table. Groups are mesh-uniform: one
	// command can only source one index range.
	MeshIdx uint32
	// FirstInstance is the group's base offset in the compacted per-instance
	// index space, the running sum of preceding capacities.
	FirstInstance uint32
	// Capacity is the run length before culling; the surviving instance
	// count never exceeds it.
	Capacity uint32
}

// MeshTable interns the mesh handles referenced by a frame into a dense
// array that is uploaded alongside the group descriptors, so the compaction
// kernel can look up static geometry by index.
type MeshTable struct {
	locs  []MeshLocation
	index mem.BinaryTreeMap[MeshHandle, uint32]
}

func (t *MeshTable) Reset() {
	// Both live in arena memory; see ObjectStore.Reset.
	t.locs = nil
	t.index = mem.BinaryTreeMap[MeshHandle, uint32]{}
}

func (t *MeshTable) Intern(arena *mem.Arena, h MeshHandle, meshes MeshAllocator) uint32 {
	if idx, ok := t.index.Get(h); ok {
		return idx
	}
	idx := uint32(len(t.locs))
	t.locs = mem.Append(arena, t.locs, meshes.Resolve(h))
	t.index.Insert(arena, h, idx)
	return idx
}

func (t *MeshTable) Locations() []MeshLocation { return t.locs }

// BuildGroups collapses the sorted draw sequence into groups and fills in
// the per-object device records in the same pass. Group ranges are disjoint,
// cover the whole input, and appear in order of first occurrence of each key.
// An empty input produces no groups.
func BuildGroups(
	arena *mem.Arena,
	sorted []encoding.DrawID,
	store *ObjectStore,
	meshes MeshAllocator,
	table *MeshTable,
	gpuIDs []GpuObjectID,
) []DrawGroup {
	if len(sorted) == 0 {
		return nil
	}

	var groups []DrawGroup
	cur := DrawGroup{
		Key:     sorted[0].Key,
		MeshIdx: table.Intern(arena, MeshHandle(store.At(sorted[0].Offset).Mesh), meshes),
	}
	var firstInstance uint32
	for i, id := range sorted {
		if id.Key != cur.Key {
			groups = mem.Append(arena, groups, cur)
			firstInstance += cur.Capacity
			cur = DrawGroup{
				Key:           id.Key,
				MeshIdx:       table.Intern(arena, MeshHandle(store.At(id.Offset).Mesh), meshes),
				FirstInstance: firstInstance,
			}
		}
		if cur.Capacity > 0 && store.At(id.Offset).Mesh != store.At(sorted[i-1].Offset).Mesh {
			panic(fmt.Sprintf(
				"draws with key %#x reference both mesh %d and mesh %d; material instances must be mesh-unique",
				id.Key, store.At(sorted[i-1].Offset).Mesh, store.At(id.Offset).Mesh))
		}
		gpuIDs[i] = GpuObjectID{
			DataIdx:  id.Offset,
			GroupIdx: uint32(len(groups)),
		}
		cur.Capacity++
	}
	// The trailing run has no key transition to close it.
	groups = mem.Append(arena, groups, cur)
	return groups
}
