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

package facade

import (
	"context"
	"errors"
	"testing"
	"unsafe"

	"github.com/breuera/einsum-ir/internal/types"
)

func gemmConfig() Config {
	return Config{
		Left:       &types.TensorSpec{DimIDs: []types.DimId{0, 2}}, // M, K
		Right:      &types.TensorSpec{DimIDs: []types.DimId{2, 1}}, // K, N
		Out:        &types.TensorSpec{DimIDs: []types.DimId{0, 1}}, // M, N
		Sizes:      map[types.DimId]int64{0: 2, 1: 2, 2: 3},
		DTypeLeft:  types.FP32, DTypeRight: types.FP32, DTypeComp: types.FP32, DTypeOut: types.FP32,
		KindFirstTouch: types.KindZero,
		KindMain:       types.KindMadd,
		KindLastTouch:  types.KindNone,
		TargetTasks:    1,
	}
}

func TestFacadeInitRejectsMissingTensors(t *testing.T) {
	f := New()
	if err := f.Init(Config{}); err == nil {
		t.Fatal("Init() error = nil, want an error for a config missing tensor specs")
	}
	if f.State() != Failed {
		t.Errorf("State() = %v, want Failed", f.State())
	}
}

func TestFacadeCompileBeforeInitFails(t *testing.T) {
	f := New()
	err := f.Compile()
	if err == nil {
		t.Fatal("Compile() error = nil, want CalledBeforeCompile")
	}
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != types.CalledBeforeCompile {
		t.Fatalf("error = %v, want *Error with Kind CalledBeforeCompile", err)
	}
}

func TestFacadeContractBeforeCompileFails(t *testing.T) {
	f := New()
	if err := f.Init(gemmConfig()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	err := f.Contract(context.Background(), nil, nil, nil, nil)
	if err == nil {
		t.Fatal("Contract() error = nil, want an error before Compile")
	}
	if f.State() != Failed {
		t.Errorf("State() = %v, want Failed", f.State())
	}
}

func TestFacadeFullRoundTrip(t *testing.T) {
	f := New()
	if err := f.Init(gemmConfig()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if f.State() != Configured {
		t.Fatalf("State() = %v, want Configured", f.State())
	}
	if err := f.Compile(); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if f.State() != Compiled {
		t.Fatalf("State() = %v, want Compiled (arena allocation is deferred to the first Contract)", f.State())
	}

	left := []float32{1, 2, 3, 4, 5, 6}    // [M=2,K=3] row-major
	right := []float32{1, 0, 0, 1, 1, 1}   // [K=3,N=2] row-major
	out := make([]float32, 4)

	err := f.Contract(context.Background(), unsafe.Pointer(&left[0]), unsafe.Pointer(&right[0]), nil, unsafe.Pointer(&out[0]))
	if err != nil {
		t.Fatalf("Contract() error = %v", err)
	}
	if f.State() != Ready {
		t.Fatalf("State() = %v, want Ready after the first Contract call", f.State())
	}

	want := []float32{4, 5, 10, 11}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("out[%d] = %v, want %v", i, out[i], w)
		}
	}

	// A second Contract call is reentrant and does not re-allocate.
	out2 := make([]float32, 4)
	if err := f.Contract(context.Background(), unsafe.Pointer(&left[0]), unsafe.Pointer(&right[0]), nil, unsafe.Pointer(&out2[0])); err != nil {
		t.Fatalf("second Contract() error = %v", err)
	}
	for i, w := range want {
		if out2[i] != w {
			t.Errorf("out2[%d] = %v, want %v", i, out2[i], w)
		}
	}
}

func TestFacadeCompileFailurePropagatesErrorKind(t *testing.T) {
	f := New()
	cfg := gemmConfig()
	cfg.Sizes[2] = 0 // K dimension given a non-positive size
	if err := f.Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	err := f.Compile()
	if err == nil {
		t.Fatal("Compile() error = nil, want InvalidSize")
	}
	if f.State() != Failed {
		t.Errorf("State() = %v, want Failed", f.State())
	}
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != types.InvalidSize {
		t.Fatalf("error = %v, want *Error with Kind InvalidSize", err)
	}
}

func TestFacadeReinitFromFailedState(t *testing.T) {
	f := New()
	_ = f.Init(Config{})
	if f.State() != Failed {
		t.Fatalf("State() = %v, want Failed", f.State())
	}
	if err := f.Init(gemmConfig()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if f.State() != Configured {
		t.Errorf("State() = %v, want Configured", f.State())
	}
}
