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

package classify

import (
	"errors"
	"testing"

	"github.com/breuera/einsum-ir/internal/types"
)

func TestClassifySimpleMatMul(t *testing.T) {
	// left[m,k] * right[k,n] -> out[m,n]
	res, err := Classify(
		[]types.DimId{0, 2}, // m, k
		[]types.DimId{2, 1}, // k, n
		[]types.DimId{0, 1}, // m, n
	)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got, want := res.Kind[0], types.M; got != want {
		t.Errorf("dim 0 kind = %v, want %v", got, want)
	}
	if got, want := res.Kind[1], types.N; got != want {
		t.Errorf("dim 1 kind = %v, want %v", got, want)
	}
	if got, want := res.Kind[2], types.K; got != want {
		t.Errorf("dim 2 kind = %v, want %v", got, want)
	}
	if len(res.C) != 0 {
		t.Errorf("len(res.C) = %d, want 0", len(res.C))
	}
}

func TestClassifyBatchedMatMul(t *testing.T) {
	// left[b,m,k] * right[b,k,n] -> out[b,m,n]
	res, err := Classify(
		[]types.DimId{0, 1, 3},
		[]types.DimId{0, 3, 2},
		[]types.DimId{0, 1, 2},
	)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	want := map[types.DimId]types.DimKind{0: types.C, 1: types.M, 2: types.N, 3: types.K}
	for id, k := range want {
		if got := res.Kind[id]; got != k {
			t.Errorf("dim %d kind = %v, want %v", id, got, k)
		}
	}
	if len(res.C) != 1 || res.C[0] != 0 {
		t.Errorf("res.C = %v, want [0]", res.C)
	}
}

func TestClassifyOrderIsFirstAppearance(t *testing.T) {
	res, err := Classify(
		[]types.DimId{5, 0},
		[]types.DimId{5, 1},
		[]types.DimId{0, 1, 5},
	)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if len(res.C) != 1 || res.C[0] != 5 {
		t.Errorf("res.C = %v, want [5]", res.C)
	}
	if len(res.M) != 1 || res.M[0] != 0 {
		t.Errorf("res.M = %v, want [0]", res.M)
	}
	if len(res.N) != 1 || res.N[0] != 1 {
		t.Errorf("res.N = %v, want [1]", res.N)
	}
}

func TestClassifyInvalidDim(t *testing.T) {
	// dim 9 appears only in left: neither M (needs out), N, C, nor K.
	_, err := Classify(
		[]types.DimId{9},
		[]types.DimId{},
		[]types.DimId{},
	)
	if err == nil {
		t.Fatal("Classify() error = nil, want an error")
	}
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("Classify() error type = %T, want *Error", err)
	}
	if ce.Kind != types.InvalidDim {
		t.Errorf("ce.Kind = %v, want %v", ce.Kind, types.InvalidDim)
	}
}

func TestClassifyRepeatedDim(t *testing.T) {
	_, err := Classify(
		[]types.DimId{0, 0},
		[]types.DimId{1},
		[]types.DimId{0, 1},
	)
	if err == nil {
		t.Fatal("Classify() error = nil, want an error")
	}
}
