// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package cpu provides CPU implementations of the compute kernels.
//
// The kernels intentionally replicate the device kernels, including their
// unordered atomic writes. Workgroups run on separate goroutines so that
// tests exercise the same ordering freedom the GPU has.
package cpu

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"honnef.co/go/indraw/renderer"
	"honnef.co/go/safeish"
)

// Workgroup widths. These must be kept in sync with the @workgroup_size
// attributes in the WGSL sources.
const CullWgSize = 256
const CompactWgSize = 64

type CPUBinding interface {
	// Always CPUBuffer; an interface to leave room for texture bindings.
}

type CPUBuffer []byte

// XXX move this into safeish
func fromBytes[E any, T *E](b []byte) T {
	if uintptr(len(b)) < unsafe.Sizeof(*new(E)) {
		panic(fmt.Sprintf(
			"buffer of size %d cannot represent object of size %d", len(b), unsafe.Sizeof(*new(E))))
	}

	return safeish.Cast[T](&b[0])
}

// parallel runs fn once per workgroup, each on its own goroutine.
func parallel(numWgs uint32, fn func(wg uint32)) {
	var wg sync.WaitGroup
	wg.Add(int(numWgs))
	for i := range numWgs {
		go func() {
			defer wg.Done()
			fn(i)
		}()
	}
	wg.Wait()
}

// Cull returns the culling kernel, closed over the occlusion test. A nil
// test passes everything; the frustum half comes from the config uniform.
//
// Bindings: config, objects, object ids, groups, live counts, instance
// indices.
func Cull(occlusion renderer.OcclusionTest) func(uint32, []CPUBinding) {
	return func(numWgs uint32, resources []CPUBinding) {
		config := fromBytes[renderer.CullConfig](resources[0].(CPUBuffer))
		objects := safeish.SliceCast[[]renderer.ObjectData](resources[1].(CPUBuffer))
		ids := safeish.SliceCast[[]renderer.GpuObjectID](resources[2].(CPUBuffer))
		groups := safeish.SliceCast[[]renderer.GpuDrawGroup](resources[3].(CPUBuffer))
		liveCounts := safeish.SliceCast[[]uint32](resources[4].(CPUBuffer))
		instanceIndices := safeish.SliceCast[[]uint32](resources[5].(CPUBuffer))

		parallel(numWgs, func(wg uint32) {
			for local := range uint32(CullWgSize) {
				ix := wg*CullWgSize + local
				if ix >= config.NumObjects {
					return
				}
				id := ids[ix]
				obj := &objects[id.DataIdx]
				if config.Flags&renderer.CullFlagFrustum != 0 &&
					!config.Frustum.ContainsSphere(obj.Bounds) {
					continue
				}
				if config.Flags&renderer.CullFlagOcclusion != 0 &&
					occlusion != nil && occlusion.Occluded(obj.Bounds) {
					continue
				}
				slot := atomic.AddUint32(&liveCounts[id.GroupIdx], 1) - 1
				instanceIndices[groups[id.GroupIdx].FirstInstance+slot] = id.DataIdx
			}
		})
	}
}

// Compact emits one indirect draw command per surviving group, claiming a
// slot in the group's bin with an atomic append.
//
// Bindings: config, groups, bins, mesh table, live counts, command counts,
// commands.
func Compact(numWgs uint32, resources []CPUBinding) {
	config := fromBytes[renderer.CullConfig](resources[0].(CPUBuffer))
	groups := safeish.SliceCast[[]renderer.GpuDrawGroup](resources[1].(CPUBuffer))
	bins := safeish.SliceCast[[]renderer.GpuDrawBin](resources[2].(CPUBuffer))
	meshes := safeish.SliceCast[[]renderer.MeshLocation](resources[3].(CPUBuffer))
	liveCounts := safeish.SliceCast[[]uint32](resources[4].(CPUBuffer))
	commandCounts := safeish.SliceCast[[]uint32](resources[5].(CPUBuffer))
	commands := safeish.SliceCast[[]renderer.IndirectDrawCommand](resources[6].(CPUBuffer))

	parallel(numWgs, func(wg uint32) {
		for local := range uint32(CompactWgSize) {
			g := wg*CompactWgSize + local
			if g >= config.NumGroups {
				return
			}
			// The culling dispatch finished before this one started; the
			// plain read sees the final count.
			live := liveCounts[g]
			if live == 0 {
				continue
			}
			group := &groups[g]
			bin := &bins[group.BinIdx]
			slot := atomic.AddUint32(&commandCounts[group.BinIdx], 1) - 1
			if slot >= bin.CommandCapacity {
				panic(fmt.Sprintf(
					"bin %d overflowed its command range of %d slots", group.BinIdx, bin.CommandCapacity))
			}
			mesh := &meshes[group.MeshIdx]
			commands[bin.CommandOffset+slot] = renderer.IndirectDrawCommand{
				IndexCount:    mesh.IndexCount,
				InstanceCount: live,
				FirstIndex:    mesh.FirstIndex,
				VertexOffset:  mesh.VertexOffset,
				FirstInstance: group.FirstInstance,
			}
		}
	})
}
