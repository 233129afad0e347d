// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"golang.org/x/exp/slices"
	"honnef.co/go/indraw/encoding"
	"honnef.co/go/indraw/mem"
)

// Sorting has to handle tens of thousands to low millions of draws per
// frame, so large inputs take an LSD radix sort over the fixed-width key
// instead of a comparison sort. Stability isn't required; draws with equal
// keys differ only in per-instance data.
const radixSortMinLen = 128

const radixBits = 8
const radixBuckets = 1 << radixBits

// SortDrawIDs orders ids by non-decreasing key. Scratch memory comes from
// the frame arena.
func SortDrawIDs(arena *mem.Arena, ids []encoding.DrawID) {
	if len(ids) < radixSortMinLen {
		slices.SortFunc(ids, func(a, b encoding.DrawID) int {
			switch {
			case a.Key < b.Key:
				return -1
			case a.Key > b.Key:
				return 1
			default:
				return 0
			}
		})
		return
	}

	scratch := mem.NewSlice[[]encoding.DrawID](arena, len(ids), len(ids))
	src, dst := ids, scratch
	for shift := uint(0); shift < 64; shift += radixBits {
		var counts [radixBuckets]uint32
		for _, id := range src {
			counts[uint8(id.Key>>shift)]++
		}
		// A digit that is identical across all keys permutes nothing.
		if counts[uint8(src[0].Key>>shift)] == uint32(len(src)) {
			continue
		}
		var sum uint32
		for i := range counts {
			c := counts[i]
			counts[i] = sum
			sum += c
		}
		for _, id := range src {
			bucket := uint8(id.Key >> shift)
			dst[counts[bucket]] = id
			counts[bucket]++
		}
		src, dst = dst, src
	}
	if &src[0] != &ids[0] {
		copy(ids, src)
	}
}
