// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package indraw

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"honnef.co/go/indraw/jmath"
	"honnef.co/go/indraw/renderer"
	"honnef.co/go/safeish"
)

type testMeshes map[renderer.MeshHandle]renderer.MeshLocation

func (m testMeshes) Resolve(h renderer.MeshHandle) renderer.MeshLocation { return m[h] }

type testMaterials struct {
	materials map[renderer.MaterialHandle]renderer.MaterialInfo
	instances map[renderer.MaterialInstanceHandle]renderer.InstanceInfo
}

func (m *testMaterials) Material(h renderer.MaterialHandle) renderer.MaterialInfo {
	return m.materials[h]
}

func (m *testMaterials) Instance(h renderer.MaterialInstanceHandle) renderer.InstanceInfo {
	return m.instances[h]
}

type testDraw struct {
	pipeline       renderer.PipelineID
	layout         renderer.VertexLayoutMask
	dataSize       uint32
	commandsOffset uint64
	countOffset    uint64
	maxCount       uint32
}

type testRecorder struct {
	pipeline renderer.PipelineID
	layout   renderer.VertexLayoutMask
	dataSize uint32
	draws    []testDraw
}

func (r *testRecorder) BindPipeline(p renderer.PipelineID)           { r.pipeline = p }
func (r *testRecorder) BindVertexBuffers(l renderer.VertexLayoutMask) { r.layout = l }
func (r *testRecorder) BindMaterialData(size uint32)                 { r.dataSize = size }

func (r *testRecorder) DrawIndexedIndirectCount(
	commands renderer.BufferProxy, commandsOffset uint64,
	count renderer.BufferProxy, countOffset uint64,
	maxCount, stride uint32,
) {
	r.draws = append(r.draws, testDraw{
		pipeline:       r.pipeline,
		layout:         r.layout,
		dataSize:       r.dataSize,
		commandsOffset: commandsOffset,
		countOffset:    countOffset,
		maxCount:       maxCount,
	})
}

// wideOpen passes every bounding sphere.
var wideOpen = jmath.Frustum{
	{1, 0, 0, 1e9},
	{-1, 0, 0, 1e9},
	{0, 1, 0, 1e9},
	{0, -1, 0, 1e9},
	{0, 0, 1, 1e9},
	{0, 0, -1, 1e9},
}

func newTestRenderer(t *testing.T, occlusion renderer.OcclusionTest) *Renderer {
	t.Helper()
	return New(nil, &Options{
		UseCPU:              true,
		Occlusion:           occlusion,
		MaxMaterials:        64,
		MaxVertexAttributes: 4,
		MaxInstances:        1024,
	})
}

func readCommands(t *testing.T, r *Renderer, frame *renderer.Frame) ([]renderer.IndirectDrawCommand, []uint32) {
	t.Helper()
	cmdBytes, ok := r.Engine().CPUBuf(frame.Buffers().Commands)
	if !ok {
		t.Fatal("command buffer not materialized")
	}
	countBytes, ok := r.Engine().CPUBuf(frame.Buffers().CommandCounts)
	if !ok {
		t.Fatal("command count buffer not materialized")
	}
	return safeish.SliceCast[[]renderer.IndirectDrawCommand](cmdBytes),
		safeish.SliceCast[[]uint32](countBytes)
}

func testScene() (testMeshes, *testMaterials, []renderer.Object) {
	meshes := testMeshes{
		1: {IndexCount: 36, FirstIndex: 0, VertexOffset: 0},
		2: {IndexCount: 12, FirstIndex: 36, VertexOffset: 64},
	}
	materials := &testMaterials{
		materials: map[renderer.MaterialHandle]renderer.MaterialInfo{
			1: {Pipeline: 10, DataSize: 16},
			2: {Pipeline: 20, DataSize: 32},
		},
		instances: map[renderer.MaterialInstanceHandle]renderer.InstanceInfo{
			1: {Material: 1, DataOffset: 100},
			2: {Material: 2, DataOffset: 200},
		},
	}
	// Three draws of instance 1/mesh 1 and two of instance 2/mesh 2,
	// deliberately interleaved; the sort has to bring them together.
	objects := []renderer.Object{
		{Bounds: [4]float32{0, 0, -5, 1}, Mesh: 1, Layout: 0b01, Instance: 1},
		{Bounds: [4]float32{1, 0, -5, 1}, Mesh: 2, Layout: 0b01, Instance: 2},
		{Bounds: [4]float32{2, 0, -5, 1}, Mesh: 1, Layout: 0b01, Instance: 1},
		{Bounds: [4]float32{3, 0, -5, 1}, Mesh: 2, Layout: 0b01, Instance: 2},
		{Bounds: [4]float32{4, 0, -5, 1}, Mesh: 1, Layout: 0b01, Instance: 1},
	}
	return meshes, materials, objects
}

func TestRender(t *testing.T) {
	meshes, materials, objects := testScene()
	r := newTestRenderer(t, nil)

	var rec testRecorder
	frame := r.Render(nil, objects, &renderer.CullParams{
		Frustum:        wideOpen,
		FrustumCulling: true,
	}, meshes, materials, &rec)

	stats := frame.Stats()
	if stats.Objects != 5 || stats.Groups != 2 || stats.Bins != 2 {
		t.Fatalf("stats = %+v, want 5 objects, 2 groups, 2 bins", stats)
	}

	commands, counts := readCommands(t, r, frame)
	if counts[0] != 1 || counts[1] != 1 {
		t.Fatalf("command counts = %v, want [1 1]", counts[:2])
	}
	wantCmds := []renderer.IndirectDrawCommand{
		{IndexCount: 36, InstanceCount: 3, FirstIndex: 0, VertexOffset: 0, FirstInstance: 0},
		{IndexCount: 12, InstanceCount: 2, FirstIndex: 36, VertexOffset: 64, FirstInstance: 3},
	}
	for i, want := range wantCmds {
		if commands[i] != want {
			t.Errorf("commands[%d] = %+v, want %+v", i, commands[i], want)
		}
	}

	// Every survivor's index must land in its group's compacted range.
	idxBytes, ok := r.Engine().CPUBuf(frame.Buffers().InstanceIndices)
	if !ok {
		t.Fatal("instance index buffer not materialized")
	}
	indices := safeish.SliceCast[[]uint32](idxBytes)
	objBytes, ok := r.Engine().CPUBuf(frame.Buffers().Objects)
	if !ok {
		t.Fatal("object buffer not materialized")
	}
	objData := safeish.SliceCast[[]renderer.ObjectData](objBytes)
	for i, cmd := range wantCmds {
		wantMesh := []uint32{1, 2}[i]
		for _, idx := range indices[cmd.FirstInstance : cmd.FirstInstance+cmd.InstanceCount] {
			if objData[idx].Mesh != wantMesh {
				t.Errorf("group %d: object %d has mesh %d, want %d", i, idx, objData[idx].Mesh, wantMesh)
			}
		}
	}

	if len(rec.draws) != 2 {
		t.Fatalf("recorded %d draws, want 2", len(rec.draws))
	}
	want := []testDraw{
		{pipeline: 10, layout: 0b01, dataSize: 16, commandsOffset: 0, countOffset: 0, maxCount: 1},
		{
			pipeline: 20, layout: 0b01, dataSize: 32,
			commandsOffset: uint64(renderer.IndirectCommandStride), countOffset: 4, maxCount: 1,
		},
	}
	for i := range want {
		if rec.draws[i] != want[i] {
			t.Errorf("draws[%d] = %+v, want %+v", i, rec.draws[i], want[i])
		}
	}
}

func TestRenderEmpty(t *testing.T) {
	meshes, materials, _ := testScene()
	r := newTestRenderer(t, nil)

	var rec testRecorder
	frame := r.Render(nil, nil, &renderer.CullParams{
		Frustum:        wideOpen,
		FrustumCulling: true,
	}, meshes, materials, &rec)

	if stats := frame.Stats(); stats.Objects != 0 || stats.Groups != 0 || stats.Bins != 0 {
		t.Fatalf("stats = %+v, want all zero", stats)
	}
	if len(rec.draws) != 0 {
		t.Fatalf("recorded %d draws for empty scene", len(rec.draws))
	}
}

func TestRenderAllCulled(t *testing.T) {
	meshes, materials, objects := testScene()
	r := newTestRenderer(t, nil)

	// A frustum that contains nothing.
	var nothing jmath.Frustum
	nothing[0] = [4]float32{1, 0, 0, -1e9}

	var rec testRecorder
	frame := r.Render(nil, objects, &renderer.CullParams{
		Frustum:        nothing,
		FrustumCulling: true,
	}, meshes, materials, &rec)

	// Bins still submit; the device-side counts make them zero-draw.
	if len(rec.draws) != 2 {
		t.Fatalf("recorded %d draws, want 2", len(rec.draws))
	}
	_, counts := readCommands(t, r, frame)
	if counts[0] != 0 || counts[1] != 0 {
		t.Fatalf("command counts = %v, want [0 0]", counts[:2])
	}
}

func TestRenderFrustum(t *testing.T) {
	meshes, materials, _ := testScene()
	r := newTestRenderer(t, nil)

	proj := mgl32.Ortho(-10, 10, -10, 10, 0.1, 100)
	objects := []renderer.Object{
		{Bounds: [4]float32{0, 0, -5, 1}, Mesh: 1, Layout: 0b01, Instance: 1},
		{Bounds: [4]float32{50, 0, -5, 1}, Mesh: 1, Layout: 0b01, Instance: 1}, // out
		{Bounds: [4]float32{0, 3, -50, 1}, Mesh: 1, Layout: 0b01, Instance: 1},
	}

	var rec testRecorder
	frame := r.Render(nil, objects, &renderer.CullParams{
		Frustum:        jmath.FrustumFromMatrix(proj),
		FrustumCulling: true,
	}, meshes, materials, &rec)

	commands, counts := readCommands(t, r, frame)
	if counts[0] != 1 {
		t.Fatalf("command counts = %v, want [1]", counts[:1])
	}
	if commands[0].InstanceCount != 2 {
		t.Fatalf("instance count = %d, want 2", commands[0].InstanceCount)
	}
}

func TestRenderOcclusion(t *testing.T) {
	meshes, materials, objects := testScene()

	// Occlude everything left of x=2.
	occ := occlusionFunc(func(bounds [4]float32) bool {
		return bounds[0] < 2
	})
	r := newTestRenderer(t, occ)

	var rec testRecorder
	frame := r.Render(nil, objects, &renderer.CullParams{
		Frustum:          wideOpen,
		FrustumCulling:   true,
		OcclusionCulling: true,
	}, meshes, materials, &rec)

	commands, counts := readCommands(t, r, frame)
	if counts[0] != 1 || counts[1] != 1 {
		t.Fatalf("command counts = %v, want [1 1]", counts[:2])
	}
	// Objects at x=2 and x=4 survive in group 0, x=3 in group 1.
	if commands[0].InstanceCount != 2 {
		t.Errorf("group 0 instance count = %d, want 2", commands[0].InstanceCount)
	}
	if commands[1].InstanceCount != 1 {
		t.Errorf("group 1 instance count = %d, want 1", commands[1].InstanceCount)
	}
}

type occlusionFunc func(bounds [4]float32) bool

func (f occlusionFunc) Occluded(bounds [4]float32) bool { return f(bounds) }

func TestRenderFrameReuse(t *testing.T) {
	// Rendering more frames than are in flight recycles contexts and returns
	// earlier frames' buffers to the pool.
	meshes, materials, objects := testScene()
	r := newTestRenderer(t, nil)

	for range 5 {
		var rec testRecorder
		frame := r.Render(nil, objects, &renderer.CullParams{
			Frustum:        wideOpen,
			FrustumCulling: true,
		}, meshes, materials, &rec)

		commands, counts := readCommands(t, r, frame)
		if counts[0] != 1 || counts[1] != 1 {
			t.Fatalf("command counts = %v, want [1 1]", counts[:2])
		}
		if commands[0].InstanceCount != 3 || commands[1].InstanceCount != 2 {
			t.Fatalf("instance counts = %d, %d, want 3, 2",
				commands[0].InstanceCount, commands[1].InstanceCount)
		}
		if got := frame.Stats().GrownBuffers; got != 0 {
			t.Fatalf("%d buffers grew on a same-sized frame", got)
		}
	}
}
