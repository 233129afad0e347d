// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package indraw implements a GPU-driven draw submission pipeline. Each
// frame, renderable objects are sorted by bit-packed state keys, collapsed
// into instanced draw groups and state-change bins on the host, then culled
// and compacted into indirect draw commands on the device. Draws are issued
// with indirect count draws, so visibility results never round-trip to the
// CPU.
package indraw

import (
	"honnef.co/go/indraw/encoding"
	"honnef.co/go/indraw/engine/wgpu_engine"
	"honnef.co/go/indraw/profiler"
	"honnef.co/go/indraw/renderer"
	"honnef.co/go/wgpu"
)

type Options struct {
	// UseCPU runs the kernels on the CPU instead of the device. Device and
	// queue may be nil in that mode.
	UseCPU bool
	// Occlusion is the black-box half of the visibility predicate, or nil.
	Occlusion renderer.OcclusionTest

	// Key space limits. Zero values pick defaults.
	MaxMaterials        uint32
	MaxVertexAttributes uint32
	MaxInstances        uint32

	// FramesInFlight is the number of frame contexts cycled through; host
	// work for one frame can overlap device work for the previous ones.
	FramesInFlight int

	Profiler profiler.ProfilerGroup
}

const (
	defaultMaxMaterials        = 1 << 10
	defaultMaxVertexAttributes = 8
	defaultMaxInstances        = 1 << 20
	defaultFramesInFlight      = 2
)

type Renderer struct {
	engine *wgpu_engine.Engine
	layout encoding.KeyLayout
	frames []*renderer.Frame
	next   int
	pgroup profiler.ProfilerGroup
}

func New(dev *wgpu.Device, options *Options) *Renderer {
	maxMaterials := options.MaxMaterials
	if maxMaterials == 0 {
		maxMaterials = defaultMaxMaterials
	}
	vertexAttrs := options.MaxVertexAttributes
	if vertexAttrs == 0 {
		vertexAttrs = defaultMaxVertexAttributes
	}
	maxInstances := options.MaxInstances
	if maxInstances == 0 {
		maxInstances = defaultMaxInstances
	}
	framesInFlight := options.FramesInFlight
	if framesInFlight == 0 {
		framesInFlight = defaultFramesInFlight
	}
	pgroup := options.Profiler
	if pgroup == nil {
		pgroup = profiler.Nop()
	}

	layout := encoding.NewKeyLayout(maxMaterials, vertexAttrs, maxInstances)
	frames := make([]*renderer.Frame, framesInFlight)
	for i := range frames {
		frames[i] = renderer.NewFrame(layout)
	}
	return &Renderer{
		engine: wgpu_engine.New(dev, &wgpu_engine.Options{
			UseCPU:    options.UseCPU,
			Occlusion: options.Occlusion,
		}),
		layout: layout,
		frames: frames,
		pgroup: pgroup,
	}
}

// KeyLayout returns the key layout derived from the renderer's limits.
func (r *Renderer) KeyLayout() encoding.KeyLayout { return r.layout }

// Engine exposes the engine for binding the frame's buffers in the caller's
// render pass.
func (r *Renderer) Engine() *wgpu_engine.Engine { return r.engine }

// Render runs one frame end to end: host build, kernel dispatches, and
// indirect draw submission through rec. The returned frame stays valid until
// it comes up again in the frames-in-flight rotation; its Buffers can be
// bound by the caller's render pass in the meantime.
func (r *Renderer) Render(
	queue *wgpu.Queue,
	objects []renderer.Object,
	params *renderer.CullParams,
	meshes renderer.MeshAllocator,
	materials renderer.MaterialSystem,
	rec renderer.CommandRecorder,
) *renderer.Frame {
	pgroup := r.pgroup.Start("Render")
	defer pgroup.End()

	frame := r.frames[r.next]
	r.next = (r.next + 1) % len(r.frames)

	frame.Build(objects, meshes, materials, pgroup)
	recording := frame.Encode(r.engine.Kernels(), params, pgroup)
	r.engine.RunRecording(frame.Arena(), queue, &recording, nil, "indraw frame", pgroup)
	frame.Submit(materials, rec)
	return frame
}
