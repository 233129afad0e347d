// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

// CommandRecorder is the render-side sink that Submit drives. It is
// implemented by whatever records the application's render pass; the pipeline
// itself never binds pipelines or issues draws directly.
type CommandRecorder interface {
	BindPipeline(pipeline PipelineID)
	BindVertexBuffers(layout VertexLayoutMask)
	// BindMaterialData rebinds the per-material data range. size is the byte
	// size shared by all instances of the bin's material.
	BindMaterialData(size uint32)
	// DrawIndexedIndirectCount draws up to maxCount commands starting at
	// commandsOffset, with the actual count read from count at countOffset.
	DrawIndexedIndirectCount(
		commands BufferProxy, commandsOffset uint64,
		count BufferProxy, countOffset uint64,
		maxCount, stride uint32,
	)
}

// Submit walks the frame's bins in order and issues one indirect draw per
// bin. State is rebound lazily: only the axes recorded in each bin's Changed
// mask are touched, everything else is inherited from the previous bin. The
// draw count for each bin comes from the per-bin counter the compaction
// kernel filled in, so empty bins cost a single zero-count draw and no
// readback.
//
// The frame's recording must have been replayed before calling Submit.
func (f *Frame) Submit(materials MaterialSystem, rec CommandRecorder) {
	for i := range f.bins {
		bin := &f.bins[i]
		if bin.Changed&ChangeMaterial != 0 {
			rec.BindPipeline(materials.Material(bin.Material).Pipeline)
		}
		if bin.Changed&ChangeVertexLayout != 0 {
			rec.BindVertexBuffers(bin.Layout)
		}
		if bin.Changed&ChangeMaterialData != 0 {
			rec.BindMaterialData(bin.DataSize)
		}
		rec.DrawIndexedIndirectCount(
			f.buffers.Commands, uint64(bin.GroupOffset)*uint64(IndirectCommandStride),
			f.buffers.CommandCounts, uint64(i)*4,
			bin.GroupCount, IndirectCommandStride,
		)
	}
}
