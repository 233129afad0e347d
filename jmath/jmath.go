// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package jmath provides the small amount of math shared between the host
// pipeline and the CPU kernels.
package jmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/exp/constraints"
)

func AlignUp[T constraints.Integer](x, alignment T) T {
	return (x + alignment - 1) & -alignment
}

// DivRoundUp computes ceil(x / y) for positive operands without overflowing
// intermediate values for the sizes this pipeline deals in.
func DivRoundUp[T constraints.Integer](x, y T) T {
	return (x + y - 1) / y
}

func NextMultipleOf[T constraints.Integer](x, y T) T {
	r := x % y
	if r == 0 {
		return x
	}
	return x + y - r
}

// Frustum holds the six clip planes of a view-projection matrix, each as
// (nx, ny, nz, d) with the normal pointing into the visible half-space. The
// layout matches the plane array in the culling kernel's config uniform.
type Frustum [6][4]float32

// FrustumFromMatrix extracts clip planes from a column-major view-projection
// matrix using the Gribb–Hartmann method. The planes are normalized so that
// plane distances can be compared against sphere radii directly.
func FrustumFromMatrix(m mgl32.Mat4) Frustum {
	row := func(i int) [4]float32 {
		return [4]float32{m.At(i, 0), m.At(i, 1), m.At(i, 2), m.At(i, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	var f Frustum
	combine := func(out *[4]float32, a [4]float32, sign float32) {
		for i := range out {
			out[i] = r3[i] + sign*a[i]
		}
		n := float32(math.Sqrt(float64(out[0]*out[0] + out[1]*out[1] + out[2]*out[2])))
		if n > 0 {
			for i := range out {
				out[i] /= n
			}
		}
	}
	combine(&f[0], r0, 1)  // left
	combine(&f[1], r0, -1) // right
	combine(&f[2], r1, 1)  // bottom
	combine(&f[3], r1, -1) // top
	combine(&f[4], r2, 1)  // near
	combine(&f[5], r2, -1) // far

	return f
}

// ContainsSphere reports whether a bounding sphere (center xyz, radius)
// intersects the frustum. Conservative: spheres straddling a plane are kept.
func (f Frustum) ContainsSphere(bounds [4]float32) bool {
	for _, p := range f {
		d := p[0]*bounds[0] + p[1]*bounds[1] + p[2]*bounds[2] + p[3]
		if d < -bounds[3] {
			return false
		}
	}
	return true
}
