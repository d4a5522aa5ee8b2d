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

package stride

import (
	"testing"

	"github.com/breuera/einsum-ir/internal/types"
)

func TestBuildRowMajor(t *testing.T) {
	// A [4,8] row-major tensor: dim 0 stride 8, dim 1 stride 1.
	spec := &types.TensorSpec{DimIDs: []types.DimId{0, 1}}
	sizes := map[types.DimId]int64{0: 4, 1: 8}

	m := Build(spec, sizes)
	if got, want := m[0], int64(8); got != want {
		t.Errorf("m[0] = %d, want %d", got, want)
	}
	if got, want := m[1], int64(1); got != want {
		t.Errorf("m[1] = %d, want %d", got, want)
	}
}

func TestBuildStrideMult(t *testing.T) {
	spec := &types.TensorSpec{
		DimIDs:     []types.DimId{0, 1},
		StrideMult: map[types.DimId]int64{0: 2},
	}
	sizes := map[types.DimId]int64{0: 4, 1: 8}

	m := Build(spec, sizes)
	if got, want := m[0], int64(16); got != want {
		t.Errorf("m[0] = %d, want %d", got, want)
	}
}

func TestBuildLink(t *testing.T) {
	// Spatial dim 2 slides over position dim 1 (a convolution window).
	spec := &types.TensorSpec{
		DimIDs: []types.DimId{0, 1},
		Link:   map[types.DimId]types.DimId{2: 1},
	}
	sizes := map[types.DimId]int64{0: 4, 1: 8}

	m := Build(spec, sizes)
	if got, want := m[2], m[1]; got != want {
		t.Errorf("m[2] = %d, want %d (linked to dim 1)", got, want)
	}
}

func TestByteStride(t *testing.T) {
	m := Map{0: 8, 1: 1}
	b := ByteStride(m, 4)
	if got, want := b[0], int64(32); got != want {
		t.Errorf("b[0] = %d, want %d", got, want)
	}
	if got, want := b[1], int64(4); got != want {
		t.Errorf("b[1] = %d, want %d", got, want)
	}
}

func TestOfMissingDimIsZero(t *testing.T) {
	m := Map{0: 8}
	if got := Of(m, 99); got != 0 {
		t.Errorf("Of(missing) = %d, want 0", got)
	}
	if got := Of(nil, 0); got != 0 {
		t.Errorf("Of(nil map) = %d, want 0", got)
	}
}
