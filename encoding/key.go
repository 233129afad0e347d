// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package encoding implements the bit-packed sort keys that drive draw
// ordering, grouping and binning.
package encoding

import (
	"fmt"
	"math/bits"
)

// DrawKey encodes the bindable state of one draw in a fixed-width integer.
// Keys order as (material, vertex layout, material instance), most expensive
// state to rebind in the highest bits, so sorting draws by key alone yields
// a state-change-minimal submission order.
type DrawKey uint64

// DrawID is one renderable object before sorting. Offset indexes the
// object's record in the frame's object store and stays stable for the
// frame; the key is derived from the object's handles and never mutated in
// place.
type DrawID struct {
	Key    DrawKey
	Offset uint32
}

// RangeError reports a key field value that does not fit its configured bit
// width. Encoding never truncates; an overflow is a programming error and
// panics with this value.
type RangeError struct {
	Field string
	Value uint32
	Max   uint32
}

func (err *RangeError) Error() string {
	return fmt.Sprintf("encoding: %s value %d exceeds field maximum %d", err.Field, err.Value, err.Max)
}

// KeyLayout fixes the bit widths of the three key fields for one renderer
// configuration. All packing and unpacking goes through this type, so a
// change in widths touches exactly one place.
type KeyLayout struct {
	materialBits uint
	layoutBits   uint
	instanceBits uint
}

// NewKeyLayout derives field widths from the configured maxima: the number
// of materials, the number of vertex attributes a layout mask can name, and
// the number of material instances.
func NewKeyLayout(maxMaterials, vertexAttrs, maxInstances uint32) KeyLayout {
	if maxMaterials == 0 || maxInstances == 0 {
		panic("encoding: key layout requires at least one material and one instance")
	}
	l := KeyLayout{
		materialBits: uint(bits.Len32(maxMaterials - 1)),
		layoutBits:   uint(vertexAttrs),
		instanceBits: uint(bits.Len32(maxInstances - 1)),
	}
	if l.materialBits == 0 {
		l.materialBits = 1
	}
	if l.instanceBits == 0 {
		l.instanceBits = 1
	}
	if l.materialBits+l.layoutBits+l.instanceBits > 64 {
		panic(fmt.Sprintf(
			"encoding: key fields need %d bits, at most 64 available",
			l.materialBits+l.layoutBits+l.instanceBits))
	}
	return l
}

func (l KeyLayout) materialShift() uint { return l.layoutBits + l.instanceBits }
func (l KeyLayout) layoutShift() uint   { return l.instanceBits }

func (l KeyLayout) materialMax() uint32 { return uint32(1<<l.materialBits - 1) }
func (l KeyLayout) layoutMax() uint32   { return uint32(1<<l.layoutBits - 1) }
func (l KeyLayout) instanceMax() uint32 { return uint32(1<<l.instanceBits - 1) }

// Encode packs the three identifiers into a key. It is an order-preserving
// bijection on the valid domain: for any fixed layout, key order equals
// lexicographic order on (material, layoutMask, instance).
func (l KeyLayout) Encode(material uint32, layoutMask uint32, instance uint32) DrawKey {
	if material > l.materialMax() {
		panic(&RangeError{Field: "material", Value: material, Max: l.materialMax()})
	}
	if layoutMask > l.layoutMax() {
		panic(&RangeError{Field: "vertex layout", Value: layoutMask, Max: l.layoutMax()})
	}
	if instance > l.instanceMax() {
		panic(&RangeError{Field: "material instance", Value: instance, Max: l.instanceMax()})
	}
	return DrawKey(material)<<l.materialShift() |
		DrawKey(layoutMask)<<l.layoutShift() |
		DrawKey(instance)
}

// Decode unpacks a key produced by Encode with the same layout.
func (l KeyLayout) Decode(key DrawKey) (material, layoutMask, instance uint32) {
	return l.Material(key), l.LayoutMask(key), l.Instance(key)
}

func (l KeyLayout) Material(key DrawKey) uint32 {
	return uint32(key>>l.materialShift()) & l.materialMax()
}

func (l KeyLayout) LayoutMask(key DrawKey) uint32 {
	return uint32(key>>l.layoutShift()) & l.layoutMax()
}

func (l KeyLayout) Instance(key DrawKey) uint32 {
	return uint32(key) & l.instanceMax()
}
