// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"fmt"

	"honnef.co/go/indraw/encoding"
	"honnef.co/go/indraw/jmath"
	"honnef.co/go/indraw/mem"
	"honnef.co/go/indraw/profiler"
	"honnef.co/go/safeish"
)

// CullParams configures the visibility predicate for one frame.
type CullParams struct {
	Frustum jmath.Frustum
	// FrustumCulling and OcclusionCulling gate the two halves of the
	// predicate. Disabling both passes every object through.
	FrustumCulling   bool
	OcclusionCulling bool
}

// FrameStats accumulates per-frame counters. Buffer growth is a
// performance-relevant event, not a fault; it is counted here and reported
// to the profiler.
type FrameStats struct {
	Objects      uint32
	Groups       uint32
	Bins         uint32
	GrownBuffers uint32
}

// FrameBuffers names the device buffers that outlive the frame's dispatches:
// the object payloads and compacted instance indices read while rendering,
// and the command buffer and counters consumed by the indirect draws.
type FrameBuffers struct {
	Objects         BufferProxy
	InstanceIndices BufferProxy
	Commands        BufferProxy
	CommandCounts   BufferProxy
}

// Frame holds all transient state of one frame in flight. Frames are
// recycled, not reallocated; keeping several allows host work for frame N to
// overlap device work for frame N-1.
type Frame struct {
	arena  *mem.Arena
	layout encoding.KeyLayout

	store  ObjectStore
	ids    []encoding.DrawID
	gpuIDs []GpuObjectID
	groups []DrawGroup
	bins   []DrawBin
	meshes MeshTable

	// High-water marks from previous uses of this frame, for growth
	// accounting.
	objectCap, groupCap, binCap uint32

	stats   FrameStats
	buffers FrameBuffers
	// set once buffers holds live proxies from a previous encode
	retained bool
}

func NewFrame(layout encoding.KeyLayout) *Frame {
	return &Frame{
		arena:  mem.NewArena(),
		layout: layout,
	}
}

func (f *Frame) Arena() *mem.Arena     { return f.arena }
func (f *Frame) Stats() FrameStats     { return f.stats }
func (f *Frame) Buffers() FrameBuffers { return f.buffers }
func (f *Frame) Bins() []DrawBin       { return f.bins }
func (f *Frame) Groups() []DrawGroup   { return f.groups }

func (f *Frame) reset() {
	f.arena.Reset()
	f.store.Reset()
	f.meshes.Reset()
	f.ids = nil
	f.gpuIDs = nil
	f.groups = nil
	f.bins = nil
	f.stats = FrameStats{}
}

// Build runs the host stages: object upload order assignment, key
// derivation, sorting, grouping and binning. It must complete before Encode.
func (f *Frame) Build(
	objects []Object,
	meshes MeshAllocator,
	materials MaterialSystem,
	pgroup profiler.ProfilerGroup,
) {
	pgroup = pgroup.Start("Frame.Build")
	defer pgroup.End()

	f.reset()

	f.ids = mem.NewSlice[[]encoding.DrawID](f.arena, 0, len(objects))
	for i := range objects {
		obj := &objects[i]
		inst := materials.Instance(obj.Instance)
		key := f.layout.Encode(uint32(inst.Material), uint32(obj.Layout), uint32(obj.Instance))
		offset := f.store.Push(f.arena, obj, inst)
		f.ids = mem.Append(f.arena, f.ids, encoding.DrawID{Key: key, Offset: offset})
	}

	SortDrawIDs(f.arena, f.ids)

	f.gpuIDs = mem.NewSlice[[]GpuObjectID](f.arena, len(f.ids), len(f.ids))
	f.groups = BuildGroups(f.arena, f.ids, &f.store, meshes, &f.meshes, f.gpuIDs)
	f.bins = AllocateBins(f.arena, f.groups, f.layout, materials)

	f.stats.Objects = f.store.Len()
	f.stats.Groups = uint32(len(f.groups))
	f.stats.Bins = uint32(len(f.bins))
	f.accountGrowth(pgroup)
}

func (f *Frame) accountGrowth(pgroup profiler.ProfilerGroup) {
	grow := func(label string, cap *uint32, n uint32) {
		if n > *cap {
			if *cap > 0 {
				f.stats.GrownBuffers++
				pgroup.Event("buffer grown: "+label, int64(n-*cap))
			}
			*cap = n
		}
	}
	grow("objects", &f.objectCap, f.stats.Objects)
	grow("groups", &f.groupCap, f.stats.Groups)
	grow("bins", &f.binCap, f.stats.Bins)
}

// validate is the hard capacity check run before recording the dispatches.
// The kernels' atomic counters rely on these invariants; violating them
// would corrupt neighbouring slots on the device.
func (f *Frame) validate() {
	var total uint32
	for i := range f.groups {
		g := &f.groups[i]
		if g.FirstInstance != total {
			panic(fmt.Sprintf(
				"group %d first instance %d does not match running offset %d",
				i, g.FirstInstance, total))
		}
		total += g.Capacity
	}
	if total != f.store.Len() {
		panic(fmt.Sprintf(
			"group capacities cover %d instances, store holds %d objects",
			total, f.store.Len()))
	}
	var covered uint32
	for i := range f.bins {
		b := &f.bins[i]
		if b.GroupOffset != covered {
			panic(fmt.Sprintf(
				"bin %d group offset %d does not match running offset %d",
				i, b.GroupOffset, covered))
		}
		covered += b.GroupCount
	}
	if covered != uint32(len(f.groups)) {
		panic(fmt.Sprintf("bins cover %d groups, frame has %d", covered, len(f.groups)))
	}
}

// Encode uploads the frame's descriptors and records the culling and
// compaction dispatches. The recording must be replayed by an engine before
// Submit issues draws against the frame's buffers.
func (f *Frame) Encode(kernels *Kernels, params *CullParams, pgroup profiler.ProfilerGroup) Recording {
	pgroup = pgroup.Start("Frame.Encode")
	defer pgroup.End()

	f.validate()

	var recording Recording
	arena := f.arena

	if f.retained {
		// Return the previous use's buffers to the engine's pool.
		recording.FreeBuffer(arena, f.buffers.Objects)
		recording.FreeBuffer(arena, f.buffers.InstanceIndices)
		recording.FreeBuffer(arena, f.buffers.Commands)
		recording.FreeBuffer(arena, f.buffers.CommandCounts)
		f.retained = false
	}

	numGroups := uint32(len(f.groups))
	numBins := uint32(len(f.bins))
	sizes := NewBufferSizes(f.store.Len(), numGroups, numBins, uint32(len(f.meshes.Locations())))

	flags := uint32(0)
	if params.FrustumCulling {
		flags |= CullFlagFrustum
	}
	if params.OcclusionCulling {
		flags |= CullFlagOcclusion
	}
	cfg := mem.Make(arena, CullConfig{
		NumObjects: f.store.Len(),
		NumGroups:  numGroups,
		NumBins:    numBins,
		Flags:      flags,
		Frustum:    params.Frustum,
	})

	gpuGroups := mem.NewSlice[[]GpuDrawGroup](arena, len(f.groups), len(f.groups))
	for i := range f.bins {
		b := &f.bins[i]
		for g := b.GroupOffset; g < b.GroupOffset+b.GroupCount; g++ {
			gpuGroups[g] = GpuDrawGroup{
				FirstInstance: f.groups[g].FirstInstance,
				Capacity:      f.groups[g].Capacity,
				BinIdx:        uint32(i),
				MeshIdx:       f.groups[g].MeshIdx,
			}
		}
	}
	gpuBins := mem.NewSlice[[]GpuDrawBin](arena, len(f.bins), len(f.bins))
	for i := range f.bins {
		gpuBins[i] = GpuDrawBin{
			CommandOffset:   f.bins[i].GroupOffset,
			CommandCapacity: f.bins[i].GroupCount,
		}
	}

	configBuf := recording.UploadUniform(arena, "cullConfig", safeish.AsBytes(cfg))
	objectBuf := recording.Upload(arena, "objectData", f.store.Bytes())
	idBuf := recording.Upload(arena, "objectIDs", safeish.SliceCast[[]byte](f.gpuIDs))
	groupBuf := recording.Upload(arena, "drawGroups", safeish.SliceCast[[]byte](gpuGroups))
	binBuf := recording.Upload(arena, "drawBins", safeish.SliceCast[[]byte](gpuBins))
	meshBuf := recording.Upload(arena, "meshTable", safeish.SliceCast[[]byte](f.meshes.Locations()))

	liveCountBuf := NewBufferProxy(uint64(sizes.LiveCounts.sizeInBytes()), "liveCounts")
	commandCountBuf := NewBufferProxy(uint64(sizes.CommandCounts.sizeInBytes()), "commandCounts")
	instanceIdxBuf := NewBufferProxy(uint64(sizes.InstanceIndices.sizeInBytes()), "instanceIndices")
	commandBuf := NewBufferProxy(uint64(sizes.Commands.sizeInBytes()), "drawCommands")

	// The counters are the epoch state of the two kernels and must start at
	// zero.
	recording.ClearAll(arena, liveCountBuf)
	recording.ClearAll(arena, commandCountBuf)
	recording.ClearAll(arena, commandBuf)

	wgCounts := NewWorkgroupCounts(f.store.Len(), numGroups)
	recording.Dispatch(
		arena,
		kernels.Cull,
		wgCounts.Cull,
		mem.MakeSlice(arena, []BufferProxy{
			configBuf,
			objectBuf,
			idBuf,
			groupBuf,
			liveCountBuf,
			instanceIdxBuf,
		}),
	)
	// Replayed strictly after the culling dispatch; the barrier between the
	// two is what makes the live counter reads coherent.
	recording.Dispatch(
		arena,
		kernels.Compact,
		wgCounts.Compact,
		mem.MakeSlice(arena, []BufferProxy{
			configBuf,
			groupBuf,
			binBuf,
			meshBuf,
			liveCountBuf,
			commandCountBuf,
			commandBuf,
		}),
	)

	recording.FreeBuffer(arena, configBuf)
	recording.FreeBuffer(arena, idBuf)
	recording.FreeBuffer(arena, groupBuf)
	recording.FreeBuffer(arena, binBuf)
	recording.FreeBuffer(arena, meshBuf)
	recording.FreeBuffer(arena, liveCountBuf)

	f.buffers = FrameBuffers{
		Objects:         objectBuf,
		InstanceIndices: instanceIdxBuf,
		Commands:        commandBuf,
		CommandCounts:   commandCountBuf,
	}
	f.retained = true
	return recording
}
