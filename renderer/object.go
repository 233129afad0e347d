// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package renderer implements the host side of the GPU-driven draw
// submission pipeline: per-frame object storage, key sorting, grouping into
// instanced runs, binning runs by bindable state, and the recording of the
// culling and compaction dispatches whose results feed indirect draws.
package renderer

import (
	"structs"

	"github.com/go-gl/mathgl/mgl32"
	"honnef.co/go/indraw/mem"
	"honnef.co/go/safeish"
)

// Handles produced by the external allocators. This core treats them as
// opaque keys; only the collaborator interfaces below give them meaning.
type (
	MeshHandle             uint32
	MaterialHandle         uint32
	MaterialInstanceHandle uint32
	PipelineID             uint32
)

// VertexLayoutMask names the set of vertex attribute buffers a draw sources
// from. Attributes of one layout class share identical offsets across all of
// the class's buffers, which the unified-vertex-memory addressing relies on.
type VertexLayoutMask uint32

// MeshLocation is the static draw geometry of a mesh, stable for the mesh's
// lifetime. The field layout matches the mesh table buffer read by the
// compaction kernel.
type MeshLocation struct {
	_ structs.HostLayout

	IndexCount   uint32
	FirstIndex   uint32
	VertexOffset int32
	_            uint32
}

// MeshAllocator resolves mesh handles to their geometry ranges. Implemented
// by the surrounding renderer's vertex/index pool.
type MeshAllocator interface {
	Resolve(MeshHandle) MeshLocation
}

type MaterialInfo struct {
	Pipeline PipelineID
	// DataSize is the byte size of the material's per-instance data block.
	DataSize uint32
}

type InstanceInfo struct {
	Material MaterialHandle
	// Offsets into the bindless data and texture arrays.
	DataOffset  uint32
	TextureBase uint32
}

// MaterialSystem resolves material and material-instance handles. Implemented
// by the surrounding renderer's material slab allocator.
type MaterialSystem interface {
	Material(MaterialHandle) MaterialInfo
	Instance(MaterialInstanceHandle) InstanceInfo
}

// OcclusionTest is the black-box half of the visibility predicate, typically
// a test against the previous frame's depth hierarchy. A nil test passes
// everything.
type OcclusionTest interface {
	Occluded(bounds [4]float32) bool
}

// Object is one renderable as handed to the per-frame entry point.
type Object struct {
	Transform mgl32.Mat4
	// Bounds is a bounding sphere: center xyz and radius, in world space.
	Bounds   [4]float32
	Mesh     MeshHandle
	Layout   VertexLayoutMask
	Instance MaterialInstanceHandle
}

// ObjectData is the per-object GPU-visible payload. One record is written
// per object per frame, at the index equal to the object's upload order.
//
// This struct must be kept in sync with ObjectData in the culling kernel.
type ObjectData struct {
	_ structs.HostLayout

	Transform mgl32.Mat4
	Bounds    [4]float32
	Mesh      uint32
	Instance  uint32
	_         [2]uint32
}

// ObjectStore is the frame's host-writable object array, mirrored into a
// device buffer at encode time.
type ObjectStore struct {
	data []ObjectData
}

func (s *ObjectStore) Reset() {
	// The backing array is arena memory; dropping the slice, rather than
	// truncating it, keeps Append from writing into a reset slab.
	s.data = nil
}

func (s *ObjectStore) Len() uint32 {
	return uint32(len(s.data))
}

// Push appends one object's payload and returns its data index.
func (s *ObjectStore) Push(arena *mem.Arena, obj *Object, inst InstanceInfo) uint32 {
	idx := uint32(len(s.data))
	s.data = mem.Append(arena, s.data, ObjectData{
		Transform: obj.Transform,
		Bounds:    obj.Bounds,
		Mesh:      uint32(obj.Mesh),
		Instance:  inst.DataOffset,
	})
	return idx
}

func (s *ObjectStore) At(idx uint32) *ObjectData {
	return &s.data[idx]
}

// Bytes returns the store's device representation.
func (s *ObjectStore) Bytes() []byte {
	return safeish.SliceCast[[]byte](s.data)
}
