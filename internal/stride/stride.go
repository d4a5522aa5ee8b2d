// Copyright 2025 einsum-ir Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stride implements the StrideBuilder component of spec.md §4.2:
// deriving per-dimension byte strides from a tensor's outer-to-inner
// dimension order and the contraction's shared inner sizes.
package stride

import "github.com/breuera/einsum-ir/internal/types"

// Map is a per-dimension stride: in elements as Build returns it, in
// bytes once scaled by ByteStride.
type Map map[types.DimId]int64

// Build computes the element stride of every dimension in spec's
// DimIDs: the stride of dim_i is the product of the inner sizes of every
// dimension to its right (spec.md §4.2 / §8 "stride correctness"). A
// dimension link (spec.md §3, secondary→primary) makes the spatial
// dimension inherit the storage stride of its linked position dimension,
// scaled by the tensor's stride multiplier, instead of the product rule —
// this is how a convolution's sliding window is expressed as a fixed
// contraction schedule.
func Build(spec *types.TensorSpec, innerSizes map[types.DimId]int64) Map {
	n := len(spec.DimIDs)
	strides := make(Map, n)

	// Base product-of-inner-sizes-to-the-right stride for every real
	// storage dimension (position dims among them).
	running := int64(1)
	for i := n - 1; i >= 0; i-- {
		id := spec.DimIDs[i]
		strides[id] = running * spec.StrideMultOf(id)
		running *= innerSizes[id]
	}

	// Spatial dims that are linked to a position dim share the position
	// dim's storage stride (spec.md §3: "requires the two dims to share
	// storage stride").
	for spatial, primary := range spec.Link {
		if s, ok := strides[primary]; ok {
			strides[spatial] = s
		}
	}

	return strides
}

// ByteStride scales an element stride map to bytes for a scalar of the
// given width.
func ByteStride(m Map, byteWidth int64) Map {
	out := make(Map, len(m))
	for id, s := range m {
		out[id] = s * byteWidth
	}
	return out
}

// Of returns the byte stride of dim in m, or 0 (broadcast) if the tensor
// does not reference dim — matching spec.md §4.2 "missing dims get
// stride 0".
func Of(m Map, id types.DimId) int64 {
	if s, ok := m[id]; ok {
		return s
	}
	return 0
}
