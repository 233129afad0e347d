// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package encoding

import "testing"

func TestKeyRoundTrip(t *testing.T) {
	layout := NewKeyLayout(4096, 12, 1<<20)

	tests := []struct {
		name                       string
		material, mask, instance uint32
	}{
		{"zero", 0, 0, 0},
		{"small", 3, 0b101, 17},
		{"material max", 4095, 0, 0},
		{"mask max", 0, 1<<12 - 1, 0},
		{"instance max", 0, 0, 1<<20 - 1},
		{"all max", 4095, 1<<12 - 1, 1<<20 - 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := layout.Encode(tt.material, tt.mask, tt.instance)
			material, mask, instance := layout.Decode(key)
			if material != tt.material || mask != tt.mask || instance != tt.instance {
				t.Errorf("Decode(Encode(%d, %#b, %d)) = (%d, %#b, %d)",
					tt.material, tt.mask, tt.instance, material, mask, instance)
			}
		})
	}
}

func TestKeyOrdering(t *testing.T) {
	layout := NewKeyLayout(256, 8, 1024)

	// Key order must equal lexicographic order on (material, mask, instance),
	// regardless of the values of the lower-priority fields.
	triples := [][3]uint32{
		{0, 0, 0},
		{0, 0, 1023},
		{0, 1, 0},
		{0, 255, 1023},
		{1, 0, 0},
		{1, 0, 500},
		{1, 255, 0},
		{2, 0, 0},
		{255, 0, 0},
		{255, 255, 1023},
	}
	prev := layout.Encode(triples[0][0], triples[0][1], triples[0][2])
	for _, tr := range triples[1:] {
		key := layout.Encode(tr[0], tr[1], tr[2])
		if key <= prev {
			t.Errorf("Encode(%v) = %#x, not above previous key %#x", tr, key, prev)
		}
		prev = key
	}
}

func TestKeyRangePanics(t *testing.T) {
	layout := NewKeyLayout(16, 4, 32)

	tests := []struct {
		name                     string
		material, mask, instance uint32
		field                    string
	}{
		{"material overflow", 16, 0, 0, "material"},
		{"mask overflow", 0, 16, 0, "vertex layout"},
		{"instance overflow", 0, 0, 32, "material instance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				r := recover()
				if r == nil {
					t.Fatal("Encode did not panic")
				}
				err, ok := r.(*RangeError)
				if !ok {
					t.Fatalf("panicked with %T, want *RangeError", r)
				}
				if err.Field != tt.field {
					t.Errorf("RangeError.Field = %q, want %q", err.Field, tt.field)
				}
			}()
			layout.Encode(tt.material, tt.mask, tt.instance)
		})
	}
}

func TestKeyLayoutTooWide(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewKeyLayout did not panic for fields wider than 64 bits")
		}
	}()
	NewKeyLayout(1<<31, 32, 1<<31)
}
