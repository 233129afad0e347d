// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package shaders describes the pipeline's compute kernels: their bindings,
// workgroup sizes, and WGSL sources.
package shaders

type BindType int

const (
	Buffer BindType = iota + 1
	BufReadOnly
	Uniform
)

func (typ BindType) IsMutable() bool {
	return typ == Buffer
}

type ComputeShader struct {
	Name          string
	WorkgroupSize [3]uint32
	Bindings      []BindType
	WGSL          []byte
}

// Collection lists every kernel the engine instantiates. The binding lists
// must be kept in sync with the @binding declarations in the WGSL sources and
// with the buffer order the dispatch encoder uses.
var Collection = struct {
	Cull    ComputeShader
	Compact ComputeShader
}{
	Cull: ComputeShader{
		Name:          "cull",
		WorkgroupSize: [3]uint32{256, 1, 1},
		Bindings: []BindType{
			Uniform,     // config
			BufReadOnly, // objects
			BufReadOnly, // object ids
			BufReadOnly, // groups
			Buffer,      // live counts
			Buffer,      // instance indices
		},
		WGSL: []byte(cullWGSL),
	},
	Compact: ComputeShader{
		Name:          "compact",
		WorkgroupSize: [3]uint32{64, 1, 1},
		Bindings: []BindType{
			Uniform,     // config
			BufReadOnly, // groups
			BufReadOnly, // bins
			BufReadOnly, // mesh table
			BufReadOnly, // live counts
			Buffer,      // command counts
			Buffer,      // commands
		},
		WGSL: []byte(compactWGSL),
	},
}

const cullWGSL = `
struct Config {
    num_objects: u32,
    num_groups: u32,
    num_bins: u32,
    flags: u32,
    frustum: array<vec4<f32>, 6>,
}

struct ObjectData {
    transform: mat4x4<f32>,
    bounds: vec4<f32>,
    mesh: u32,
    instance: u32,
    pad0: u32,
    pad1: u32,
}

struct ObjectID {
    data_idx: u32,
    group_idx: u32,
}

struct Group {
    first_instance: u32,
    capacity: u32,
    bin_idx: u32,
    mesh_idx: u32,
}

@group(0) @binding(0) var<uniform> config: Config;
@group(0) @binding(1) var<storage> objects: array<ObjectData>;
@group(0) @binding(2) var<storage> object_ids: array<ObjectID>;
@group(0) @binding(3) var<storage> groups: array<Group>;
@group(0) @binding(4) var<storage, read_write> live_counts: array<atomic<u32>>;
@group(0) @binding(5) var<storage, read_write> instance_indices: array<u32>;

const FLAG_FRUSTUM = 1u;
const FLAG_OCCLUSION = 2u;

// bounds is a bounding sphere, center xyz and radius w. Planes point inward;
// an object is out when it's entirely on the negative side of any plane.
fn sphere_visible(bounds: vec4<f32>) -> bool {
    for (var i = 0u; i < 6u; i++) {
        let plane = config.frustum[i];
        if dot(plane.xyz, bounds.xyz) + plane.w < -bounds.w {
            return false;
        }
    }
    return true;
}

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let ix = gid.x;
    if ix >= config.num_objects {
        return;
    }
    let id = object_ids[ix];
    let obj = objects[id.data_idx];
    if (config.flags & FLAG_FRUSTUM) != 0u && !sphere_visible(obj.bounds) {
        return;
    }
    // TODO(dh): sample the previous frame's depth pyramid when FLAG_OCCLUSION
    // is set. Only the CPU kernel implements the occlusion half so far.
    let slot = atomicAdd(&live_counts[id.group_idx], 1u);
    instance_indices[groups[id.group_idx].first_instance + slot] = id.data_idx;
}
`

const compactWGSL = `
struct Config {
    num_objects: u32,
    num_groups: u32,
    num_bins: u32,
    flags: u32,
    frustum: array<vec4<f32>, 6>,
}

struct Group {
    first_instance: u32,
    capacity: u32,
    bin_idx: u32,
    mesh_idx: u32,
}

struct Bin {
    command_offset: u32,
    command_capacity: u32,
}

struct Mesh {
    index_count: u32,
    first_index: u32,
    vertex_offset: i32,
    pad: u32,
}

// Matches VkDrawIndexedIndirectCommand.
struct DrawCommand {
    index_count: u32,
    instance_count: u32,
    first_index: u32,
    vertex_offset: i32,
    first_instance: u32,
}

@group(0) @binding(0) var<uniform> config: Config;
@group(0) @binding(1) var<storage> groups: array<Group>;
@group(0) @binding(2) var<storage> bins: array<Bin>;
@group(0) @binding(3) var<storage> meshes: array<Mesh>;
@group(0) @binding(4) var<storage> live_counts: array<u32>;
@group(0) @binding(5) var<storage, read_write> command_counts: array<atomic<u32>>;
@group(0) @binding(6) var<storage, read_write> commands: array<DrawCommand>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let g = gid.x;
    if g >= config.num_groups {
        return;
    }
    // The culling dispatch completed before this one started, so the plain
    // read sees the final count.
    let live = live_counts[g];
    if live == 0u {
        return;
    }
    let group = groups[g];
    let bin = bins[group.bin_idx];
    let slot = atomicAdd(&command_counts[group.bin_idx], 1u);
    let mesh = meshes[group.mesh_idx];
    var cmd: DrawCommand;
    cmd.index_count = mesh.index_count;
    cmd.instance_count = live;
    cmd.first_index = mesh.first_index;
    cmd.vertex_offset = mesh.vertex_offset;
    cmd.first_instance = group.first_instance;
    commands[bin.command_offset + slot] = cmd;
}
`
