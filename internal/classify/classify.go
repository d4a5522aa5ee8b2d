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

// Package classify implements the Classifier component of spec.md §4.1:
// deriving each dimension's C/M/N/K kind from the three dimension-id
// lists, grounded on einsum_ir's ContractionLoops.cpp dimension-type
// derivation.
package classify

import (
	"github.com/pkg/errors"

	"github.com/breuera/einsum-ir/internal/types"
)

// Result is the Classifier's output: a per-dimension kind lookup plus the
// four kind-grouped id lists, each preserving first-appearance order
// across left, then right, then out — used later as the LoopOptimizer's
// stable tie-break (spec.md §4.1).
type Result struct {
	Kind map[types.DimId]types.DimKind
	C    []types.DimId
	M    []types.DimId
	N    []types.DimId
	K    []types.DimId
}

// Error wraps an ErrorKind so callers can distinguish taxonomy members
// with errors.As while still getting a formatted message from Error().
type Error struct {
	Kind types.ErrorKind
	Dim  types.DimId
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newErr(kind types.ErrorKind, dim types.DimId, msg string) error {
	return errors.WithStack(&Error{Kind: kind, Dim: dim, msg: msg})
}

// Classify derives dim kinds from the left/right/out dimension-id lists
// per the rules in spec.md §4.1:
//
//	d in left ∧ right ∧ out       -> C
//	d in left ∧ out ∧ ¬right      -> M
//	d in right ∧ out ∧ ¬left      -> N
//	d in left ∧ right ∧ ¬out      -> K
//	anything else                 -> INVALID_DIM
func Classify(left, right, out []types.DimId) (*Result, error) {
	inLeft := toSet(left)
	inRight := toSet(right)
	inOut := toSet(out)

	res := &Result{Kind: make(map[types.DimId]types.DimKind)}

	// First appearance order across left, right, out (spec.md §4.1).
	seen := make(map[types.DimId]bool)
	appendUnique := func(ids []types.DimId) []types.DimId {
		out := make([]types.DimId, 0, len(ids))
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
		return out
	}
	order := make([]types.DimId, 0, len(left)+len(right)+len(out))
	order = append(order, appendUnique(left)...)
	order = append(order, appendUnique(right)...)
	order = append(order, appendUnique(out)...)

	for _, id := range order {
		l, r, o := inLeft[id], inRight[id], inOut[id]
		var kind types.DimKind
		switch {
		case l && r && o:
			kind = types.C
		case l && o && !r:
			kind = types.M
		case r && o && !l:
			kind = types.N
		case l && r && !o:
			kind = types.K
		default:
			return nil, newErr(types.InvalidDim, id,
				"dimension appears in an illegal tensor combination")
		}
		res.Kind[id] = kind
		switch kind {
		case types.C:
			res.C = append(res.C, id)
		case types.M:
			res.M = append(res.M, id)
		case types.N:
			res.N = append(res.N, id)
		case types.K:
			res.K = append(res.K, id)
		}
	}

	if err := checkNoRepeats(left); err != nil {
		return nil, err
	}
	if err := checkNoRepeats(right); err != nil {
		return nil, err
	}
	if err := checkNoRepeats(out); err != nil {
		return nil, err
	}

	return res, nil
}

func toSet(ids []types.DimId) map[types.DimId]bool {
	m := make(map[types.DimId]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func checkNoRepeats(ids []types.DimId) error {
	seen := make(map[types.DimId]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return newErr(types.InvalidDim, id, "dimension repeats within one tensor")
		}
		seen[id] = true
	}
	return nil
}
