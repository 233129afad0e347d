// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"structs"
	"unsafe"

	"honnef.co/go/indraw/jmath"
)

type WorkgroupSize [3]uint32

// Kernels identifies the pipeline's device kernels within an engine.
type Kernels struct {
	Cull    ShaderID
	Compact ShaderID
}

// GpuObjectID is the per-object record consumed by the culling kernel.
//
// This struct must be kept in sync with ObjectID in the culling kernel.
type GpuObjectID struct {
	_ structs.HostLayout

	DataIdx  uint32
	GroupIdx uint32
}

// GpuDrawGroup is the device descriptor of a DrawGroup.
//
// This struct must be kept in sync with Group in the kernels.
type GpuDrawGroup struct {
	_ structs.HostLayout

	FirstInstance uint32
	Capacity      uint32
	BinIdx        uint32
	MeshIdx       uint32
}

// GpuDrawBin is the device descriptor of a DrawBin: the command range the
// compaction kernel appends into.
//
// This struct must be kept in sync with Bin in the compaction kernel.
type GpuDrawBin struct {
	_ structs.HostLayout

	CommandOffset   uint32
	CommandCapacity uint32
}

// IndirectDrawCommand is one GPU-consumable draw descriptor, laid out like
// VkDrawIndexedIndirectCommand. InstanceCount is written exclusively by the
// culling kernel's atomic counters; zero means the group emitted no command.
type IndirectDrawCommand struct {
	_ structs.HostLayout

	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	VertexOffset  int32
	FirstInstance uint32
}

// IndirectCommandStride is the byte distance between consecutive commands in
// the command buffer, as passed to the indirect draw call.
const IndirectCommandStride = uint32(unsafe.Sizeof(IndirectDrawCommand{}))

// Flags in CullConfig.
const (
	CullFlagFrustum uint32 = 1 << iota
	CullFlagOcclusion
)

// CullConfig is the uniform configuration shared by both device dispatches.
//
// This struct must be kept in sync with the definition in the kernels.
type CullConfig struct {
	_ structs.HostLayout

	NumObjects uint32
	NumGroups  uint32
	NumBins    uint32
	Flags      uint32
	Frustum    jmath.Frustum
}

// Workgroup widths of the two dispatches. The culling dispatch is wide and
// memory-bound; compaction touches one group per invocation.
const cullWg = 256
const compactWg = 64

type WorkgroupCounts struct {
	Cull    WorkgroupSize
	Compact WorkgroupSize
}

func NewWorkgroupCounts(numObjects, numGroups uint32) WorkgroupCounts {
	return WorkgroupCounts{
		Cull:    WorkgroupSize{jmath.DivRoundUp(numObjects, cullWg), 1, 1},
		Compact: WorkgroupSize{jmath.DivRoundUp(numGroups, compactWg), 1, 1},
	}
}

type BufferSize[T any] uint32

func NewBufferSize[T any](x uint32) BufferSize[T] {
	return BufferSize[T](max(x, 1))
}

func (s BufferSize[T]) sizeInBytes() uint32 {
	return uint32(s) * uint32(unsafe.Sizeof(*new(T)))
}

// BufferSizes lists every device buffer a frame allocates, in elements.
type BufferSizes struct {
	Objects         BufferSize[ObjectData]
	ObjectIDs       BufferSize[GpuObjectID]
	Groups          BufferSize[GpuDrawGroup]
	Bins            BufferSize[GpuDrawBin]
	Meshes          BufferSize[MeshLocation]
	LiveCounts      BufferSize[uint32]
	CommandCounts   BufferSize[uint32]
	InstanceIndices BufferSize[uint32]
	Commands        BufferSize[IndirectDrawCommand]
}

func NewBufferSizes(numObjects, numGroups, numBins, numMeshes uint32) BufferSizes {
	return BufferSizes{
		Objects:   NewBufferSize[ObjectData](numObjects),
		ObjectIDs: NewBufferSize[GpuObjectID](numObjects),
		Groups:    NewBufferSize[GpuDrawGroup](numGroups),
		Bins:      NewBufferSize[GpuDrawBin](numBins),
		Meshes:    NewBufferSize[MeshLocation](numMeshes),
		// One live counter per group, one command counter per bin.
		LiveCounts:    NewBufferSize[uint32](numGroups),
		CommandCounts: NewBufferSize[uint32](numBins),
		// The compacted index space is exactly as large as the candidate set;
		// each group reserves one command slot per member group of its bin.
		InstanceIndices: NewBufferSize[uint32](numObjects),
		Commands:        NewBufferSize[IndirectDrawCommand](numGroups),
	}
}
