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

// Package pack implements the PackingPlan component of spec.md §4.4,
// grounded on einsum_ir's ContractionPackingTpp.h and the packing copy
// kernels of hwy/contrib/matmul/packing.go (BasePackLHSVec/BasePackRHSVec),
// simplified from their register-blocked micro-panel layout to a single
// contiguous [blockDim, Kb] tile per task since this repo's default
// backend is the scalar reference kernel, not a SIMD one.
package pack

import (
	"github.com/pkg/errors"

	"github.com/breuera/einsum-ir/internal/arena"
	"github.com/breuera/einsum-ir/internal/kernel"
	"github.com/breuera/einsum-ir/internal/stride"
	"github.com/breuera/einsum-ir/internal/types"
)

// Side is one input's packing decision.
type Side struct {
	Enabled bool
	Reason  string

	// BlockDim is the primitive M (left) or N (right) block extent; Kb is
	// shared.
	BlockDim, Kb int64
	ElemBytes    int64

	// PackedStrideBlock/PackedStrideK are the byte strides of the packed
	// tile's own two axes (block dim first, K second) — a plain
	// contiguous [BlockDim, Kb] row-major layout.
	PackedStrideBlock int64
	PackedStrideK     int64

	// TileBytes is one task's packed tile size; the arena reserves
	// numTasks * TileBytes.
	TileBytes int64
	ArenaID   int64

	Copy kernel.CopyKernel
}

// Plan is the packing decision for both inputs plus the nest depth at
// which packing triggers, shared by both sides since the primitive block
// (spec.md §4.3) is a single contiguous suffix of the nest.
type Plan struct {
	Left, Right Side
	// Depth is the loop-nest index of the first PRIM-exec loop: packing
	// fires when the engine's descent reaches this depth, replacing the
	// side's pointer with its task's packed slot for the remainder of
	// the descent (spec.md §4.5).
	Depth int
}

// Error reports that packing cannot be satisfied for the requested
// configuration; the facade surfaces it as KERNEL_UNSUPPORTED.
type Error struct{ msg string }

func (e *Error) Error() string { return e.msg }

func fail(msg string) error { return errors.WithStack(&Error{msg: "pack: " + msg}) }

// DecideSide implements spec.md §4.4's repacking rule for one input:
// repack when the chosen block dimension is not the tensor's stride-1
// dimension, when the K dimension is not contiguous, or when the caller
// explicitly requested packing.
func DecideSide(elemStrides stride.Map, blockDim, kDim types.DimId, blockExtent, kExtent, elemBytes int64, explicit bool) Side {
	blockStrideOne := elemStrides[blockDim] == 1
	kStrideOne := elemStrides[kDim] == 1

	needs := explicit || !blockStrideOne || !kStrideOne
	if !needs {
		return Side{Enabled: false, Reason: "already contiguous in the kernel's preferred layout"}
	}

	reason := "explicit pack request"
	switch {
	case !blockStrideOne && !kStrideOne:
		reason = "neither block dim nor K dim is contiguous in storage"
	case !blockStrideOne:
		reason = "block dimension is not the stride-1 dimension in storage"
	case !kStrideOne:
		reason = "K dimension is not contiguous in storage"
	}

	tileBytes := blockExtent * kExtent * elemBytes
	return Side{
		Enabled:           true,
		Reason:            reason,
		BlockDim:          blockExtent,
		Kb:                kExtent,
		ElemBytes:         elemBytes,
		PackedStrideBlock: kExtent * elemBytes,
		PackedStrideK:     elemBytes,
		TileBytes:         tileBytes,
	}
}

// Reserve allocates numTasks packed-tile slots for a side in a and
// builds the side's copy kernel. It reserves in whatever arena layer the
// caller has already entered — the supplemented MemoryManager layering
// feature documented in SPEC_FULL.md gives each independently-packed
// side its own layer, and that bracketing has to span both sides'
// Reserve calls at once (loopopt.Optimize does this) rather than being
// owned by a single call, or every side would re-enter the same layer.
//
// srcStrideBlock/srcStrideK are this side's original tensor byte strides
// along the block and K dimensions, i.e. the strides the copy kernel
// reads through.
func (s *Side) Reserve(a *arena.Arena, numTasks int, dt types.DType, srcStrideBlock, srcStrideK int64) {
	if !s.Enabled {
		return
	}
	s.ArenaID = a.Reserve(int64(numTasks) * s.TileBytes)

	s.Copy = kernel.BuildCopy(dt, s.BlockDim, s.Kb, srcStrideBlock, srcStrideK, s.PackedStrideBlock, s.PackedStrideK)
}

// Validate enforces the supplemented complex/packing restriction: the
// packing copy kernel has no complex-interleave semantics, so packing a
// side while the engine runs a CPX_MADD main kernel is unsupported.
func Validate(left, right Side, complexMain bool) error {
	if complexMain && (left.Enabled || right.Enabled) {
		return fail("packing is unsupported together with a complex main kernel")
	}
	return nil
}
