// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package wgpu_engine

// OPT reuse bind groups

import (
	"fmt"
	"math"
	"math/bits"

	"honnef.co/go/indraw/mem"
	"honnef.co/go/indraw/profiler"
	"honnef.co/go/indraw/renderer"
	"honnef.co/go/wgpu"
)

type Engine struct {
	// Device is nil when UseCPU is set.
	Device  *wgpu.Device
	shaders []shader
	pool    resourcePool
	UseCPU  bool

	// The bind map persists across recordings: a frame's command and counter
	// buffers stay alive until the next recording frees them, so the render
	// pass can source indirect draws from them in between.
	bindMap bindMap

	kernels *renderer.Kernels
}

type wgpuShader struct {
	label           string
	pipeline        *wgpu.ComputePipeline
	bindGroupLayout *wgpu.BindGroupLayout
}

type cpuShader struct {
	shader func(uint32, []cpuBinding)
}

type shader struct {
	Label string
	WGPU  *wgpuShader
	CPU   *cpuShader
}

func (s shader) Select() any {
	if s.CPU != nil {
		return s.CPU
	} else if s.WGPU != nil {
		return s.WGPU
	} else {
		panic(fmt.Sprintf("no available shader for %s", s.Label))
	}
}

// ExternalBuffer binds a caller-managed buffer to a proxy for the duration
// of one recording.
type ExternalBuffer struct {
	Proxy  renderer.BufferProxy
	Buffer *wgpu.Buffer
}

type materializedBuffer interface {
	// One of wgpu.Buffer and []byte
}

type bindMapBuffer struct {
	Buffer materializedBuffer
	Label  string
}

type bindMap struct {
	bufMap        map[renderer.ResourceID]*bindMapBuffer
	pendingClears map[renderer.ResourceID]struct{}
}

type bufferProperties struct {
	size   uint64
	usages wgpu.BufferUsage
}

type resourcePool struct {
	bufs map[bufferProperties][]*wgpu.Buffer
}

type transientBindMap struct {
	bufs mem.BinaryTreeMap[renderer.ResourceID, transientBuf]
}

type transientBufKind int

const (
	transientBufKindBytes transientBufKind = iota + 1
	transientBufKindBuffer
)

type transientBuf struct {
	kind   transientBufKind
	bytes  []byte
	buffer *wgpu.Buffer
}

type Options struct {
	UseCPU bool
	// Occlusion is the black-box half of the visibility predicate. Only
	// consulted by the CPU kernels for now.
	Occlusion renderer.OcclusionTest
}

func New(dev *wgpu.Device, options *Options) *Engine {
	eng := &Engine{
		Device: dev,
		pool: resourcePool{
			bufs: make(map[bufferProperties][]*wgpu.Buffer),
		},
		UseCPU: options.UseCPU,
		bindMap: bindMap{
			bufMap:        make(map[renderer.ResourceID]*bindMapBuffer),
			pendingClears: make(map[renderer.ResourceID]struct{}),
		},
	}
	eng.kernels = eng.newKernels(options.Occlusion)
	return eng
}

// Kernels identifies the culling and compaction kernels for recording
// dispatches.
func (eng *Engine) Kernels() *renderer.Kernels {
	return eng.kernels
}

func (eng *Engine) RunRecording(
	arena *mem.Arena,
	queue *wgpu.Queue,
	recording *renderer.Recording,
	externalResources []ExternalBuffer,
	label string,
	pgroup profiler.ProfilerGroup,
) {
	pgroup = pgroup.Start("RunRecording")
	defer pgroup.End()

	var freeBufs mem.BinaryTreeMap[renderer.ResourceID, struct{}]
	transientMap := newTransientBindMap(arena, externalResources)

	var encoder *wgpu.CommandEncoder
	if !eng.UseCPU {
		encoder = eng.Device.CreateCommandEncoder(mem.Make(arena, wgpu.CommandEncoderDescriptor{Label: label}))
	}

	for _, cmd := range recording.Commands {
		switch cmd := cmd.(type) {
		case *renderer.Upload:
			bufProxy := cmd.Buffer
			bytes := cmd.Data
			transientMap.bufs.Insert(arena, bufProxy.ID, transientBuf{kind: transientBufKindBytes, bytes: bytes})
			if eng.UseCPU {
				eng.bindMap.bufMap[bufProxy.ID] = &bindMapBuffer{Buffer: bytes, Label: bufProxy.Name}
			} else {
				usage := wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst | wgpu.BufferUsageStorage
				buf := eng.pool.getBuf(bufProxy.Size, bufProxy.Name, usage, eng.Device)
				queue.WriteBuffer(buf, 0, bytes)
				eng.bindMap.insertBuf(bufProxy, buf)
			}

		case *renderer.UploadUniform:
			bufProxy := cmd.Buffer
			bytes := cmd.Data
			transientMap.bufs.Insert(arena, bufProxy.ID, transientBuf{kind: transientBufKindBytes, bytes: bytes})
			if eng.UseCPU {
				eng.bindMap.bufMap[bufProxy.ID] = &bindMapBuffer{Buffer: bytes, Label: bufProxy.Name}
			} else {
				usage := wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
				buf := eng.pool.getBuf(bufProxy.Size, bufProxy.Name, usage, eng.Device)
				queue.WriteBuffer(buf, 0, bytes)
				eng.bindMap.insertBuf(bufProxy, buf)
			}

		case *renderer.Dispatch:
			shaderID := cmd.Shader
			wgSize := cmd.WorkgroupSize
			bindings := cmd.Bindings
			shader := eng.shaders[shaderID]
			switch s := shader.Select().(type) {
			case *cpuShader:
				resources := transientMap.createCPUResources(&eng.bindMap, bindings)
				s.shader(wgSize[0], resources)
			case *wgpuShader:
				bindGroup := transientMap.createBindGroup(
					arena,
					&eng.bindMap,
					&eng.pool,
					eng.Device,
					queue,
					encoder,
					s.bindGroupLayout,
					bindings,
				)

				cpass := encoder.BeginComputePass(mem.Make(arena, wgpu.ComputePassDescriptor{
					Label: shader.Label,
				}))

				cpass.SetPipeline(s.pipeline)
				cpass.SetBindGroup(0, bindGroup, nil)
				cpass.DispatchWorkgroups(wgSize[0], wgSize[1], wgSize[2])
				cpass.End()
				bindGroup.Release()
				cpass.Release()
			default:
				panic(fmt.Sprintf("unhandled type %T", s))
			}

		case *renderer.Clear:
			proxy := cmd.Buffer
			offset := cmd.Offset
			size := cmd.Size
			if buf, ok := eng.bindMap.getBuf(proxy); ok {
				switch b := buf.Buffer.(type) {
				case *wgpu.Buffer:
					encoder.ClearBuffer(b, offset, uint64(size))
				case []byte:
					slice := b[offset:]
					if size >= 0 {
						slice = slice[:size]
					}
					clear(slice)
				default:
					panic(fmt.Sprintf("unhandled type %T", b))
				}
			} else {
				eng.bindMap.pendingClears[proxy.ID] = struct{}{}
			}

		case *renderer.Download:
			// Readback goes through CPUBuf/GPUBuf on the persistent bind map
			// instead; the command survives for recordings that want an
			// explicit copy point in the future.

		case *renderer.FreeBuffer:
			freeBufs.Insert(arena, cmd.Buffer.ID, struct{}{})

		default:
			panic(fmt.Sprintf("unhandled command %T", cmd))
		}
	}

	if !eng.UseCPU {
		cmd := encoder.Finish(nil)
		encoder.Release()
		queue.Submit(cmd)
		cmd.Release()
	}

	for id := range freeBufs.Keys() {
		buf, ok := eng.bindMap.bufMap[id]
		if ok {
			delete(eng.bindMap.bufMap, id)
			if gpuBuf, ok := buf.Buffer.(*wgpu.Buffer); ok {
				props := bufferProperties{
					size:   gpuBuf.Size(),
					usages: gpuBuf.Usage(),
				}
				// TODO(dh): add a method to resourcePool to return buffers
				eng.pool.bufs[props] = append(eng.pool.bufs[props], gpuBuf)
			}
		}
	}
}

// CPUBuf returns the byte contents backing a proxy. Only valid in CPU mode,
// for proxies that haven't been freed.
func (eng *Engine) CPUBuf(proxy renderer.BufferProxy) ([]byte, bool) {
	b, ok := eng.bindMap.bufMap[proxy.ID]
	if !ok {
		return nil, false
	}
	bytes, ok := b.Buffer.([]byte)
	return bytes, ok
}

// GPUBuf returns the device buffer backing a proxy, for binding the frame's
// command and counter buffers in the caller's render pass.
func (eng *Engine) GPUBuf(proxy renderer.BufferProxy) (*wgpu.Buffer, bool) {
	return eng.bindMap.getGPUBuf(proxy.ID)
}

func (eng *Engine) createComputePipeline(
	label string,
	wgsl []byte,
	entries []wgpu.BindGroupLayoutEntry,
) wgpuShader {
	// OPT(dh): use SPIR-V instead of WGSL for faster engine creation.
	shaderModule := eng.Device.CreateShaderModule(wgpu.ShaderModuleDescriptor{
		Label:  label,
		Source: wgpu.ShaderSourceWGSL(wgsl),
	})
	bindGroupLayout := eng.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Entries: entries,
	})
	computePipelineLayout := eng.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{bindGroupLayout},
	})
	pipeline := eng.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label,
		Layout: computePipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     shaderModule,
			EntryPoint: "main",
		},
	})
	computePipelineLayout.Release()

	return wgpuShader{
		label:           label,
		pipeline:        pipeline,
		bindGroupLayout: bindGroupLayout,
	}
}

func (m *bindMap) insertBuf(proxy renderer.BufferProxy, buffer *wgpu.Buffer) {
	m.bufMap[proxy.ID] = &bindMapBuffer{
		Buffer: buffer,
		Label:  proxy.Name,
	}
}

func (m *bindMap) getGPUBuf(id renderer.ResourceID) (*wgpu.Buffer, bool) {
	mbuf, ok := m.bufMap[id]
	if !ok {
		return nil, false
	}
	buf, ok := mbuf.Buffer.(*wgpu.Buffer)
	return buf, ok
}

func (m *bindMap) getCPUBuf(id renderer.ResourceID) cpuBinding {
	b, ok := m.bufMap[id]
	if !ok {
		panic("getting nonexistent CPU buffer")
	}
	buf, ok := b.Buffer.([]byte)
	if !ok {
		panic("getting CPU buffer, but it's on GPU")
	}
	return cpuBuffer(buf)
}

func (m *bindMap) materializeCPUBuf(proxy renderer.BufferProxy) {
	if _, ok := m.bufMap[proxy.ID]; !ok {
		// make zeroes the buffer, which also services pending clears.
		buffer := make([]byte, proxy.Size)
		delete(m.pendingClears, proxy.ID)
		m.bufMap[proxy.ID] = &bindMapBuffer{
			Buffer: buffer,
			Label:  proxy.Name,
		}
	}
}

func (m *bindMap) getBuf(proxy renderer.BufferProxy) (*bindMapBuffer, bool) {
	b, ok := m.bufMap[proxy.ID]
	return b, ok
}

func (pool *resourcePool) getBuf(
	size uint64,
	name string,
	usage wgpu.BufferUsage,
	dev *wgpu.Device,
) *wgpu.Buffer {
	const sizeClassBits = 1

	roundedSize := poolSizeClass(size, sizeClassBits)
	props := bufferProperties{
		size:   roundedSize,
		usages: usage,
	}
	if bufVec, ok := pool.bufs[props]; ok {
		if len(bufVec) > 0 {
			buf := bufVec[len(bufVec)-1]
			bufVec = bufVec[:len(bufVec)-1]
			pool.bufs[props] = bufVec
			return buf
		}
	}
	return dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: name,
		Size:  roundedSize,
		Usage: usage,
	})
}

func poolSizeClass(x uint64, numBits uint32) uint64 {
	if x > 1<<numBits {
		a := bits.LeadingZeros64(x - 1)
		b := (x - 1) | (((math.MaxUint64 / 2) >> numBits) >> a)
		return b + 1
	} else {
		return 1 << numBits
	}
}

func (b *bindMapBuffer) uploadIfNeeded(
	proxy renderer.BufferProxy,
	dev *wgpu.Device,
	queue *wgpu.Queue,
	pool *resourcePool,
) {
	cpuBuf, ok := b.Buffer.([]byte)
	if !ok {
		return
	}
	usage := wgpu.BufferUsageCopySrc |
		wgpu.BufferUsageCopyDst |
		wgpu.BufferUsageStorage |
		wgpu.BufferUsageIndirect
	buf := pool.getBuf(proxy.Size, proxy.Name, usage, dev)
	queue.WriteBuffer(buf, 0, cpuBuf)
	b.Buffer = buf
}

func newTransientBindMap(arena *mem.Arena, externalResources []ExternalBuffer) transientBindMap {
	bufs := mem.BinaryTreeMap[renderer.ResourceID, transientBuf]{}
	for _, res := range externalResources {
		bufs.Insert(arena, res.Proxy.ID, transientBuf{kind: transientBufKindBuffer, buffer: res.Buffer})
	}
	return transientBindMap{
		bufs: bufs,
	}
}

func (m *transientBindMap) createBindGroup(
	arena *mem.Arena,
	bindMap *bindMap,
	pool *resourcePool,
	dev *wgpu.Device,
	queue *wgpu.Queue,
	encoder *wgpu.CommandEncoder,
	layout *wgpu.BindGroupLayout,
	bindings []renderer.BufferProxy,
) *wgpu.BindGroup {
	for _, proxy := range bindings {
		if _, ok := m.bufs.Get(proxy.ID); ok {
			continue
		}
		if o, ok := bindMap.bufMap[proxy.ID]; ok {
			o.uploadIfNeeded(proxy, dev, queue, pool)
		} else {
			// The command and counter buffers need Indirect for the draws
			// that consume them; the blanket usage keeps the pool's size
			// classes coarse.
			usage := wgpu.BufferUsageCopySrc |
				wgpu.BufferUsageCopyDst |
				wgpu.BufferUsageStorage |
				wgpu.BufferUsageIndirect
			buf := pool.getBuf(proxy.Size, proxy.Name, usage, dev)
			if _, ok := bindMap.pendingClears[proxy.ID]; ok {
				delete(bindMap.pendingClears, proxy.ID)
				encoder.ClearBuffer(buf, 0, buf.Size())
			}
			bindMap.bufMap[proxy.ID] = &bindMapBuffer{
				Buffer: buf,
				Label:  proxy.Name,
			}
		}
	}

	entries := mem.NewSlice[[]wgpu.BindGroupEntry](arena, len(bindings), len(bindings))
	for i, proxy := range bindings {
		var buf *wgpu.Buffer
		b, _ := m.bufs.Get(proxy.ID)
		switch b.kind {
		case transientBufKindBuffer:
			buf = b.buffer
		default:
			var ok bool
			buf, ok = bindMap.getGPUBuf(proxy.ID)
			if !ok {
				panic("unexpected ok == false")
			}
		}
		entries[i] = wgpu.BindGroupEntry{
			Binding: uint32(i),
			Buffer:  buf,
			Size:    ^uint64(0),
		}
	}

	return dev.CreateBindGroup(mem.Make(arena, wgpu.BindGroupDescriptor{
		Layout:  layout,
		Entries: entries,
	}))
}

func (m *transientBindMap) createCPUResources(
	bindMap *bindMap,
	bindings []renderer.BufferProxy,
) []cpuBinding {
	for _, proxy := range bindings {
		tbuf, _ := m.bufs.Get(proxy.ID)
		switch tbuf.kind {
		case transientBufKindBytes:
		case transientBufKindBuffer:
			panic("buffer was already materialized on GPU")
		case 0:
			bindMap.materializeCPUBuf(proxy)
		default:
			panic(fmt.Sprintf("unhandled kind %d", tbuf.kind))
		}
	}

	out := make([]cpuBinding, len(bindings))
	for i, proxy := range bindings {
		out[i] = bindMap.getCPUBuf(proxy.ID)
	}
	return out
}
