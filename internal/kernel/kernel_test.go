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

package kernel

import (
	"testing"
	"unsafe"

	"github.com/breuera/einsum-ir/internal/types"
)

func TestBuildScalarMaddBlock(t *testing.T) {
	// A 2x2 = 2x3 * 3x2 contraction block, row-major throughout.
	spec := &types.KernelSpec{
		DTypeLeft: types.FP32, DTypeRight: types.FP32, DTypeOut: types.FP32,
		Mb: 2, Nb: 2, Kb: 3,
		StrideMLeft: 3 * 4, StrideKLeft: 4,
		StrideNRight: 3 * 4, StrideKRight: 4,
		StrideMOut: 2 * 4, StrideNOut: 4,
		KindMain: types.KindMadd,
	}
	set, err := BuildScalar(spec)
	if err != nil {
		t.Fatalf("BuildScalar() error = %v", err)
	}

	left := []float32{1, 2, 3, 4, 5, 6}    // [2,3]
	right := []float32{1, 0, 0, 1, 1, 1}   // [2,3], row-major, N outer K inner
	out := []float32{0, 0, 0, 0}           // [2,2]

	set.Main(unsafe.Pointer(&left[0]), unsafe.Pointer(&right[0]), unsafe.Pointer(&out[0]))

	// out[m][n] = sum_k left[m][k]*right[n][k]
	want := []float32{1, 6, 4, 15}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("out[%d] = %v, want %v", i, out[i], w)
		}
	}
}

func TestBuildScalarZeroTouch(t *testing.T) {
	spec := &types.KernelSpec{
		DTypeOut: types.FP32, DTypeLeft: types.FP32, DTypeRight: types.FP32,
		Mb: 2, Nb: 2,
		StrideMOut:     2 * 4,
		StrideNOut:     4,
		KindFirstTouch: types.KindZero,
		KindMain:       types.KindMadd,
	}
	set, err := BuildScalar(spec)
	if err != nil {
		t.Fatalf("BuildScalar() error = %v", err)
	}

	out := []float32{1, 2, 3, 4}
	set.FirstTouch(nil, unsafe.Pointer(&out[0]))
	for i, v := range out {
		if v != 0 {
			t.Errorf("out[%d] = %v, want 0", i, v)
		}
	}
}

func TestBuildScalarAddTouchBroadcastsBias(t *testing.T) {
	spec := &types.KernelSpec{
		DTypeOut:       types.FP32,
		DTypeLeft:      types.FP32,
		DTypeRight:     types.FP32,
		Mb:             2,
		Nb:             3,
		StrideMOut:     3 * 4,
		StrideNOut:     4,
		StrideMOutAux:  0, // bias broadcasts across M
		StrideNOutAux:  4,
		KindFirstTouch: types.KindAdd,
		KindMain:       types.KindMadd,
	}
	set, err := BuildScalar(spec)
	if err != nil {
		t.Fatalf("BuildScalar() error = %v", err)
	}

	bias := []float32{10, 20, 30}
	out := make([]float32, 6)
	set.FirstTouch(unsafe.Pointer(&bias[0]), unsafe.Pointer(&out[0]))

	want := []float32{10, 20, 30, 10, 20, 30}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("out[%d] = %v, want %v", i, out[i], w)
		}
	}
}

func TestBuildScalarRejectsUnsupportedMain(t *testing.T) {
	spec := &types.KernelSpec{DTypeOut: types.FP32, DTypeLeft: types.FP32, DTypeRight: types.FP32}
	if _, err := BuildScalar(spec); err == nil {
		t.Fatal("BuildScalar() error = nil, want an error for KindNone main kernel")
	}
}

func TestBuildCopyPermutes(t *testing.T) {
	// src is [2,3] with stride (3,1) elements (contiguous); the copy reads
	// it transposed, as a [3,2] block through source strides (1,3), and
	// writes dst as a contiguous [3,2] block (strides (2,1)).
	src := []float32{1, 2, 3, 4, 5, 6}
	dst := make([]float32, 6)

	cp := BuildCopy(types.FP32, 3, 2, 4, 3*4, 2*4, 4)
	cp(unsafe.Pointer(&src[0]), unsafe.Pointer(&dst[0]))

	want := []float32{1, 4, 2, 5, 3, 6}
	for i, w := range want {
		if dst[i] != w {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], w)
		}
	}
}

func TestBF16RoundTrip(t *testing.T) {
	for _, f := range []float32{0, 1, -1, 3.5, 100000, -0.001} {
		b := float32ToBF16(f)
		got := bf16ToFloat32(b)
		if diff := got - f; diff > 0.05*abs(f)+0.05 || diff < -(0.05*abs(f)+0.05) {
			t.Errorf("bf16 round trip of %v = %v, off by more than tolerance", f, got)
		}
	}
}

func TestFP16RoundTrip(t *testing.T) {
	for _, f := range []float32{0, 1, -1, 3.5, 100, -0.001} {
		h := float32ToFP16(f)
		got := fp16ToFloat32(h)
		if diff := got - f; diff > 0.01*abs(f)+0.01 || diff < -(0.01*abs(f)+0.01) {
			t.Errorf("fp16 round trip of %v = %v, off by more than tolerance", f, got)
		}
	}
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
