// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"math/rand"
	"testing"

	"golang.org/x/exp/slices"
	"honnef.co/go/indraw/encoding"
	"honnef.co/go/indraw/mem"
)

func checkSorted(t *testing.T, ids []encoding.DrawID) {
	t.Helper()
	for i := 1; i < len(ids); i++ {
		if ids[i-1].Key > ids[i].Key {
			t.Fatalf("ids[%d].Key = %#x > ids[%d].Key = %#x", i-1, ids[i-1].Key, i, ids[i].Key)
		}
	}
}

func TestSortDrawIDs(t *testing.T) {
	// Sizes on both sides of the radix threshold.
	sizes := []int{0, 1, 2, 127, 128, 129, 1000, 20000}
	rng := rand.New(rand.NewSource(1))
	arena := mem.NewArena()
	for _, n := range sizes {
		arena.Reset()
		ids := make([]encoding.DrawID, n)
		for i := range ids {
			ids[i] = encoding.DrawID{
				Key:    encoding.DrawKey(rng.Uint64()),
				Offset: uint32(i),
			}
		}
		want := slices.Clone(ids)
		slices.SortFunc(want, func(a, b encoding.DrawID) int {
			switch {
			case a.Key < b.Key:
				return -1
			case a.Key > b.Key:
				return 1
			default:
				return 0
			}
		})

		SortDrawIDs(arena, ids)
		checkSorted(t, ids)

		// Same multiset of keys; offsets with equal keys may be permuted.
		for i := range ids {
			if ids[i].Key != want[i].Key {
				t.Fatalf("n=%d: ids[%d].Key = %#x, want %#x", n, i, ids[i].Key, want[i].Key)
			}
		}
		seen := make(map[uint32]bool, n)
		for _, id := range ids {
			if seen[id.Offset] {
				t.Fatalf("n=%d: offset %d appears twice", n, id.Offset)
			}
			seen[id.Offset] = true
		}
	}
}

func TestSortDrawIDsUniformDigits(t *testing.T) {
	// Keys that differ only in one byte exercise the uniform-digit skip.
	arena := mem.NewArena()
	ids := make([]encoding.DrawID, 512)
	rng := rand.New(rand.NewSource(2))
	for i := range ids {
		ids[i] = encoding.DrawID{
			Key:    encoding.DrawKey(0xabcd_0000_0000_ef00 | uint64(rng.Intn(256))<<24),
			Offset: uint32(i),
		}
	}
	SortDrawIDs(arena, ids)
	checkSorted(t, ids)
}

func TestSortDrawIDsPresorted(t *testing.T) {
	arena := mem.NewArena()
	ids := make([]encoding.DrawID, 1000)
	for i := range ids {
		ids[i] = encoding.DrawID{Key: encoding.DrawKey(i), Offset: uint32(i)}
	}
	SortDrawIDs(arena, ids)
	for i := range ids {
		if ids[i].Offset != uint32(i) {
			t.Fatalf("ids[%d].Offset = %d, want %d", i, ids[i].Offset, i)
		}
	}
}
