// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package wgpu_engine replays recordings on a wgpu device, or on the CPU
// kernels when running device-less.
package wgpu_engine

import (
	"fmt"

	"honnef.co/go/indraw/engine/wgpu_engine/shaders"
	"honnef.co/go/indraw/engine/wgpu_engine/shaders/cpu"
	"honnef.co/go/indraw/renderer"
	"honnef.co/go/wgpu"
)

type cpuBinding = cpu.CPUBinding

func cpuBuffer(b []byte) cpu.CPUBuffer { return cpu.CPUBuffer(b) }

var bindTypeMapping = [...]renderer.BindType{
	shaders.Buffer:      renderer.BindTypeBuffer,
	shaders.BufReadOnly: renderer.BindTypeBufReadOnly,
	shaders.Uniform:     renderer.BindTypeUniform,
}

func (eng *Engine) newKernels(occlusion renderer.OcclusionTest) *renderer.Kernels {
	return &renderer.Kernels{
		Cull:    eng.addShader(&shaders.Collection.Cull, cpu.Cull(occlusion)),
		Compact: eng.addShader(&shaders.Collection.Compact, cpu.Compact),
	}
}

func (eng *Engine) addShader(
	desc *shaders.ComputeShader,
	cpuKernel func(uint32, []cpuBinding),
) renderer.ShaderID {
	add := func(shader shader) renderer.ShaderID {
		id := len(eng.shaders)
		eng.shaders = append(eng.shaders, shader)
		return renderer.ShaderID(id)
	}

	if eng.UseCPU {
		if cpuKernel == nil {
			panic(fmt.Sprintf("shader %q has no CPU implementation", desc.Name))
		}
		return add(shader{
			Label: desc.Name,
			CPU:   &cpuShader{shader: cpuKernel},
		})
	}

	if len(desc.WGSL) == 0 {
		panic(fmt.Sprintf("shader %q has no code", desc.Name))
	}
	entries := make([]wgpu.BindGroupLayoutEntry, len(desc.Bindings))
	for i, bindType := range desc.Bindings {
		switch bindTypeMapping[bindType] {
		case renderer.BindTypeBuffer, renderer.BindTypeBufReadOnly:
			var typ wgpu.BufferBindingType
			if bindTypeMapping[bindType] == renderer.BindTypeBuffer {
				typ = wgpu.BufferBindingTypeStorage
			} else {
				typ = wgpu.BufferBindingTypeReadOnlyStorage
			}
			entries[i] = wgpu.BindGroupLayoutEntry{
				Binding:    uint32(i),
				Visibility: wgpu.ShaderStageCompute,
				Buffer: &wgpu.BufferBindingLayout{
					Type:             typ,
					HasDynamicOffset: false,
					MinBindingSize:   0,
				},
			}
		case renderer.BindTypeUniform:
			entries[i] = wgpu.BindGroupLayoutEntry{
				Binding:    uint32(i),
				Visibility: wgpu.ShaderStageCompute,
				Buffer: &wgpu.BufferBindingLayout{
					Type:             wgpu.BufferBindingTypeUniform,
					HasDynamicOffset: false,
					MinBindingSize:   0,
				},
			}
		default:
			panic(fmt.Sprintf("invalid bind type %d", bindType))
		}
	}

	wgpuSh := eng.createComputePipeline(desc.Name, desc.WGSL, entries)
	return add(shader{
		Label: desc.Name,
		WGPU:  &wgpuSh,
	})
}
