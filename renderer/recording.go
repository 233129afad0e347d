// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"sync/atomic"

	"honnef.co/go/indraw/mem"
)

var resourceID atomic.Uint64

func nextResourceID() ResourceID {
	return ResourceID(resourceID.Add(1))
}

type ResourceID uint64

// BufferProxy names a device buffer before it is materialized. The engine
// resolves proxies to real buffers (or plain byte slices, in CPU mode) when
// it replays a recording.
type BufferProxy struct {
	Size uint64
	ID   ResourceID
	Name string
}

func NewBufferProxy(size uint64, name string) BufferProxy {
	return BufferProxy{Size: size, ID: nextResourceID(), Name: name}
}

type ShaderID int

// Recording is the list of device commands a frame produces. The pipeline
// only ever appends two dispatches — culling, then compaction — and the
// engine replays dispatches in order, which provides the full barrier the
// compaction kernel's counter reads depend on.
type Recording struct {
	Commands []Command
}

func (rec *Recording) push(arena *mem.Arena, cmd Command) {
	rec.Commands = mem.Append(arena, rec.Commands, cmd)
}

func (rec *Recording) Upload(arena *mem.Arena, name string, data []byte) BufferProxy {
	buf := NewBufferProxy(uint64(len(data)), name)
	rec.push(arena, mem.Make(arena, Upload{buf, data}))
	return buf
}

func (rec *Recording) UploadUniform(arena *mem.Arena, name string, data []byte) BufferProxy {
	buf := NewBufferProxy(uint64(len(data)), name)
	rec.push(arena, mem.Make(arena, UploadUniform{buf, data}))
	return buf
}

func (rec *Recording) Dispatch(arena *mem.Arena, shader ShaderID, wgSize WorkgroupSize, resources []BufferProxy) {
	rec.push(arena, mem.Make(arena, Dispatch{shader, wgSize, resources}))
}

func (rec *Recording) ClearAll(arena *mem.Arena, buf BufferProxy) {
	rec.push(arena, mem.Make(arena, Clear{buf, 0, -1}))
}

func (rec *Recording) Download(arena *mem.Arena, buf BufferProxy) {
	rec.push(arena, mem.Make(arena, Download{buf}))
}

func (rec *Recording) FreeBuffer(arena *mem.Arena, buf BufferProxy) {
	rec.push(arena, mem.Make(arena, FreeBuffer{buf}))
}

type Command interface {
	isCommand()
}

func (*Upload) isCommand()        {}
func (*UploadUniform) isCommand() {}
func (*Dispatch) isCommand()      {}
func (*Clear) isCommand()         {}
func (*Download) isCommand()      {}
func (*FreeBuffer) isCommand()    {}

type BindType int

const (
	BindTypeBuffer BindType = iota + 1
	BindTypeBufReadOnly
	BindTypeUniform
)

type Upload struct {
	Buffer BufferProxy
	Data   []byte
}

type UploadUniform struct {
	Buffer BufferProxy
	Data   []byte
}

type Dispatch struct {
	Shader        ShaderID
	WorkgroupSize WorkgroupSize
	Bindings      []BufferProxy
}

type Clear struct {
	Buffer BufferProxy
	Offset uint64
	Size   int64
}

type Download struct {
	Buffer BufferProxy
}

type FreeBuffer struct {
	Buffer BufferProxy
}
