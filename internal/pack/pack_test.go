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

package pack

import (
	"testing"
	"unsafe"

	"github.com/breuera/einsum-ir/internal/arena"
	"github.com/breuera/einsum-ir/internal/stride"
	"github.com/breuera/einsum-ir/internal/types"
)

func TestDecideSideAlreadyContiguousSkipsPacking(t *testing.T) {
	elem := stride.Map{0: 1, 1: 1} // both dims already stride-1
	s := DecideSide(elem, 0, 1, 4, 8, 4, false)
	if s.Enabled {
		t.Errorf("Enabled = true, want false: %s", s.Reason)
	}
}

func TestDecideSideRepacksWhenBlockDimNotContiguous(t *testing.T) {
	elem := stride.Map{0: 8, 1: 1} // block dim 0 has stride 8, not 1
	s := DecideSide(elem, 0, 1, 4, 8, 4, false)
	if !s.Enabled {
		t.Fatal("Enabled = false, want true")
	}
	if s.TileBytes != 4*8*4 {
		t.Errorf("TileBytes = %d, want %d", s.TileBytes, 4*8*4)
	}
	if s.PackedStrideBlock != 8*4 {
		t.Errorf("PackedStrideBlock = %d, want %d", s.PackedStrideBlock, 8*4)
	}
	if s.PackedStrideK != 4 {
		t.Errorf("PackedStrideK = %d, want 4", s.PackedStrideK)
	}
}

func TestDecideSideRepacksWhenKDimNotContiguous(t *testing.T) {
	elem := stride.Map{0: 1, 1: 8}
	s := DecideSide(elem, 0, 1, 4, 8, 4, false)
	if !s.Enabled {
		t.Fatal("Enabled = false, want true")
	}
}

func TestDecideSideExplicitForcesPackingEvenIfContiguous(t *testing.T) {
	elem := stride.Map{0: 1, 1: 1}
	s := DecideSide(elem, 0, 1, 4, 8, 4, true)
	if !s.Enabled {
		t.Fatal("Enabled = false, want true (explicit)")
	}
	if s.Reason != "explicit pack request" {
		t.Errorf("Reason = %q, want %q", s.Reason, "explicit pack request")
	}
}

func TestValidateRejectsPackingWithComplexMain(t *testing.T) {
	left := Side{Enabled: true}
	right := Side{Enabled: false}
	if err := Validate(left, right, true); err == nil {
		t.Fatal("Validate() error = nil, want an error")
	}
	if err := Validate(right, right, true); err != nil {
		t.Errorf("Validate() with no packing enabled = %v, want nil", err)
	}
	if err := Validate(left, right, false); err != nil {
		t.Errorf("Validate() with non-complex main = %v, want nil", err)
	}
}

func TestReserveWiresArenaAndCopyKernel(t *testing.T) {
	elem := stride.Map{0: 8, 1: 1}
	s := DecideSide(elem, 0, 1, 2, 3, 4, false)

	a := arena.New()
	// Source is laid out K-major (blockDim contiguous within each K slice):
	// srcStrideBlock=4B (1 elem), srcStrideK=8B (2 elem, the blockDim extent).
	s.Reserve(a, 2, types.FP32, 4, 8)

	if s.ArenaID == 0 {
		t.Error("ArenaID left unset after Reserve")
	}
	a.AllocAll()
	if a.HighWater() < 2*s.TileBytes {
		t.Errorf("HighWater() = %d, want at least %d", a.HighWater(), 2*s.TileBytes)
	}
	if s.Copy == nil {
		t.Fatal("Copy kernel left nil after Reserve")
	}

	src := []float32{1, 2, 3, 4, 5, 6} // flat index i + 2*j for block i in [0,2), k j in [0,3)
	dst := make([]float32, 6)
	s.Copy(unsafe.Pointer(&src[0]), unsafe.Pointer(&dst[0]))
	want := []float32{1, 3, 5, 2, 4, 6} // dst flat index i*3+j, contiguous [BlockDim,Kb]
	for i, w := range want {
		if dst[i] != w {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], w)
		}
	}
}

func TestReserveNoopWhenDisabled(t *testing.T) {
	s := Side{Enabled: false}
	a := arena.New()
	s.Reserve(a, 4, types.FP32, 4, 4)
	if s.ArenaID != 0 {
		t.Errorf("ArenaID = %d, want 0 for a disabled side", s.ArenaID)
	}
	if s.Copy != nil {
		t.Error("Copy kernel set for a disabled side, want nil")
	}
}
