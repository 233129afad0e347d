// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"testing"

	"honnef.co/go/indraw/encoding"
	"honnef.co/go/indraw/mem"
)

func TestAllocateBins(t *testing.T) {
	arena := mem.NewArena()
	layout := encoding.NewKeyLayout(16, 8, 256)
	mats := &fakeMaterials{
		materials: map[MaterialHandle]MaterialInfo{
			1: {Pipeline: 10, DataSize: 64},
			2: {Pipeline: 20, DataSize: 64},
			3: {Pipeline: 30, DataSize: 128},
		},
	}

	mkGroup := func(material, mask, instance uint32) DrawGroup {
		return DrawGroup{Key: layout.Encode(material, mask, instance), Capacity: 1}
	}
	groups := []DrawGroup{
		// bin 0: material 1, layout 0b01
		mkGroup(1, 0b01, 0),
		mkGroup(1, 0b01, 1),
		// bin 1: same material, layout changes
		mkGroup(1, 0b11, 2),
		// bin 2: material changes, same layout and data size
		mkGroup(2, 0b11, 3),
		// bin 3: material and data size change
		mkGroup(3, 0b11, 4),
	}
	for i := range groups {
		groups[i].FirstInstance = uint32(i)
	}

	bins := AllocateBins(arena, groups, layout, mats)

	want := []DrawBin{
		{
			Changed:     ChangeMaterial | ChangeVertexLayout | ChangeMaterialData,
			Material:    1,
			Layout:      0b01,
			DataSize:    64,
			GroupOffset: 0,
			GroupCount:  2,
		},
		{
			Changed:     ChangeVertexLayout,
			Material:    1,
			Layout:      0b11,
			DataSize:    64,
			GroupOffset: 2,
			GroupCount:  1,
		},
		{
			Changed:     ChangeMaterial,
			Material:    2,
			Layout:      0b11,
			DataSize:    64,
			GroupOffset: 3,
			GroupCount:  1,
		},
		{
			Changed:     ChangeMaterial | ChangeMaterialData,
			Material:    3,
			Layout:      0b11,
			DataSize:    128,
			GroupOffset: 4,
			GroupCount:  1,
		},
	}
	if len(bins) != len(want) {
		t.Fatalf("got %d bins, want %d: %+v", len(bins), len(want), bins)
	}
	for i := range want {
		if bins[i] != want[i] {
			t.Errorf("bins[%d] = %+v, want %+v", i, bins[i], want[i])
		}
	}
}

func TestAllocateBinsCoverage(t *testing.T) {
	// Bin ranges must partition the group sequence, including the final run.
	arena := mem.NewArena()
	layout := encoding.NewKeyLayout(16, 4, 64)
	mats := &fakeMaterials{
		materials: map[MaterialHandle]MaterialInfo{
			0: {}, 1: {}, 2: {},
		},
	}

	groups := []DrawGroup{
		{Key: layout.Encode(0, 1, 0)},
		{Key: layout.Encode(1, 1, 1)},
		{Key: layout.Encode(1, 1, 2)},
		{Key: layout.Encode(2, 1, 3)},
	}
	bins := AllocateBins(arena, groups, layout, mats)

	var covered uint32
	for i, b := range bins {
		if b.GroupOffset != covered {
			t.Errorf("bins[%d].GroupOffset = %d, want %d", i, b.GroupOffset, covered)
		}
		if b.GroupCount == 0 {
			t.Errorf("bins[%d] is empty", i)
		}
		covered += b.GroupCount
	}
	if covered != uint32(len(groups)) {
		t.Errorf("bins cover %d groups, want %d", covered, len(groups))
	}
	if len(bins) != 3 {
		t.Errorf("got %d bins, want 3", len(bins))
	}
}

func TestAllocateBinsEmpty(t *testing.T) {
	arena := mem.NewArena()
	layout := encoding.NewKeyLayout(2, 2, 2)
	bins := AllocateBins(arena, nil, layout, &fakeMaterials{})
	if bins != nil {
		t.Fatalf("got %d bins for empty input", len(bins))
	}
}
