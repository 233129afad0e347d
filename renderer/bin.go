// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"honnef.co/go/indraw/encoding"
	"honnef.co/go/indraw/mem"
)

// StateChange is the set of bindable resources that differ between a bin and
// its predecessor. Unset axes are inherited, so a bin that only changes the
// vertex layout doesn't force a pipeline rebind.
type StateChange uint8

const (
	ChangeMaterial StateChange = 1 << iota
	ChangeVertexLayout
	ChangeMaterialData
)

// DrawBin is a contiguous run of groups that render without any state
// change. Bins are totally ordered by the state-change boundaries detected
// while walking the group sequence.
type DrawBin struct {
	Changed  StateChange
	Material MaterialHandle
	Layout   VertexLayoutMask
	// DataSize is the material-data byte size bound for this bin.
	DataSize uint32

	GroupOffset uint32
	GroupCount  uint32
}

// AllocateBins collapses adjacent groups whose decoded keys agree on
// material, vertex layout and material-data size. On every transition it
// records which of the three axes changed relative to the previous bin. The
// first bin changes all axes. An empty group sequence yields no bins.
func AllocateBins(
	arena *mem.Arena,
	groups []DrawGroup,
	layout encoding.KeyLayout,
	materials MaterialSystem,
) []DrawBin {
	if len(groups) == 0 {
		return nil
	}

	var bins []DrawBin
	open := func(idx uint32, prev *DrawBin) DrawBin {
		material, mask, _ := layout.Decode(groups[idx].Key)
		bin := DrawBin{
			Material:    MaterialHandle(material),
			Layout:      VertexLayoutMask(mask),
			DataSize:    materials.Material(MaterialHandle(material)).DataSize,
			GroupOffset: idx,
		}
		if prev == nil {
			bin.Changed = ChangeMaterial | ChangeVertexLayout | ChangeMaterialData
		} else {
			if bin.Material != prev.Material {
				bin.Changed |= ChangeMaterial
			}
			if bin.Layout != prev.Layout {
				bin.Changed |= ChangeVertexLayout
			}
			if bin.DataSize != prev.DataSize {
				bin.Changed |= ChangeMaterialData
			}
		}
		return bin
	}

	cur := open(0, nil)
	for i := 1; i < len(groups); i++ {
		material, mask, _ := layout.Decode(groups[i].Key)
		dataSize := materials.Material(MaterialHandle(material)).DataSize
		if MaterialHandle(material) == cur.Material &&
			VertexLayoutMask(mask) == cur.Layout &&
			dataSize == cur.DataSize {
			continue
		}
		cur.GroupCount = uint32(i) - cur.GroupOffset
		bins = mem.Append(arena, bins, cur)
		cur = open(uint32(i), &bins[len(bins)-1])
	}
	// There is no trailing transition; the last bin closes here.
	cur.GroupCount = uint32(len(groups)) - cur.GroupOffset
	bins = mem.Append(arena, bins, cur)
	return bins
}
