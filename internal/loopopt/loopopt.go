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

// Package loopopt implements the LoopOptimizer component of spec.md
// §4.3/§4.6: turning a classified dimension universe into an ordered loop
// nest, a primitive block shape, a parallel prefix, and first/last-touch
// placement. Grounded on einsum_ir's ContractionLoops.cpp::compile(),
// which builds the same C→M/N→K ordered dimension list and walks it once
// to assign touch markers while tracking how many C/M/N and K dimensions
// have been visited.
package loopopt

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/breuera/einsum-ir/internal/arena"
	"github.com/breuera/einsum-ir/internal/classify"
	"github.com/breuera/einsum-ir/internal/pack"
	"github.com/breuera/einsum-ir/internal/stride"
	"github.com/breuera/einsum-ir/internal/types"
)

// Default primitive-block targets, mirroring the tuned constants
// hwy/contrib/matmul/dispatch.go documents inline rather than exposing as
// external configuration.
const (
	DefaultTargetM = 32
	DefaultTargetN = 32
	DefaultTargetK = 256
)

// dummyDim is the sentinel dimension id used for the injected loop of
// spec.md §4.3 when no C/M/N loop exists to carry a touch marker. Caller
// dimension ids are expected to be non-negative small integers assigned
// by the caller's own dimension universe, so a negative sentinel never
// collides.
const dummyDim types.DimId = -1

// Config is everything the LoopOptimizer needs to plan one contraction.
type Config struct {
	Left, Right, Out *types.TensorSpec
	// OutAux is the optional first-touch input (spec.md §4.1), sharing
	// Out's dimension universe but possibly omitting some of them to
	// broadcast. Nil when KindFirstTouch needs no aux input.
	OutAux *types.TensorSpec

	// Sizes gives the shared inner extent of every dimension referenced
	// by Left, Right or Out.
	Sizes map[types.DimId]int64

	DTypeLeft, DTypeRight, DTypeOut, DTypeComp types.DType

	KindFirstTouch, KindMain, KindLastTouch types.KernelKind

	// TargetM/TargetN/TargetK cap the primitive block's extents; a
	// zero value selects the package default.
	TargetM, TargetN, TargetK int64
	// TargetTasks is the thread count T of spec.md §4.6.
	TargetTasks int

	// ExplicitPackLeft/ExplicitPackRight force repacking a side even
	// when its chosen block/K dims are already contiguous.
	ExplicitPackLeft, ExplicitPackRight bool

	// Arena receives the packed-tile reservations any packed side needs.
	// May be nil if neither side ends up packed.
	Arena *arena.Arena
}

// Result is the compiled plan a facade hands to the loop engine.
type Result struct {
	// Loops is the ordered nest, outermost first, including the
	// primitive block's own entries (Exec == types.Prim) as its final
	// three-or-fewer members.
	Loops []types.Loop
	// Kernel is the fixed block shape and stride contract the loop
	// engine's micro-kernel calls receive.
	Kernel types.KernelSpec
	// Pack is the packing decision for both inputs.
	Pack pack.Plan
	// Classify is the dimension-kind classification the plan was built
	// from, exposed for diagnostics.
	Classify *classify.Result
	// RealizedTasks is the actual number of concurrently active tasks
	// the parallel prefix can support, min(product of OMP loop sizes,
	// TargetTasks) — IterSpace partitions this many task ranges at
	// contract() time.
	RealizedTasks int
}

// Error reports a planning failure tagged with the spec.md §7 ErrorKind
// the facade should surface.
type Error struct {
	Kind types.ErrorKind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func fail(kind types.ErrorKind, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, msg: "loopopt: " + fmt.Sprintf(format, args...)})
}

// Optimize builds the loop nest, primitive block, parallel prefix and
// touch-marker placement for one contraction.
func Optimize(cfg Config) (*Result, error) {
	cls, err := classify.Classify(cfg.Left.DimIDs, cfg.Right.DimIDs, cfg.Out.DimIDs)
	if err != nil {
		return nil, err
	}
	if err := checkSizes(cls, cfg.Sizes, cfg.Left, cfg.Right, cfg.Out, cfg.OutAux); err != nil {
		return nil, err
	}

	targetM, targetN, targetK := cfg.TargetM, cfg.TargetN, cfg.TargetK
	if targetM <= 0 {
		targetM = DefaultTargetM
	}
	if targetN <= 0 {
		targetN = DefaultTargetN
	}
	if targetK <= 0 {
		targetK = DefaultTargetK
	}

	elemLeft := stride.Build(cfg.Left, cfg.Sizes)
	elemRight := stride.Build(cfg.Right, cfg.Sizes)
	elemOut := stride.Build(cfg.Out, cfg.Sizes)
	byteLeft := stride.ByteStride(elemLeft, cfg.DTypeLeft.ByteWidth())
	byteRight := stride.ByteStride(elemRight, cfg.DTypeRight.ByteWidth())
	byteOut := stride.ByteStride(elemOut, cfg.DTypeOut.ByteWidth())
	var byteOutAux stride.Map
	if cfg.OutAux != nil {
		byteOutAux = stride.ByteStride(stride.Build(cfg.OutAux, cfg.Sizes), cfg.DTypeOut.ByteWidth())
	}

	// Complex outer-C handling (spec.md §4.3): the first C dimension of a
	// complex contraction carries the real/imaginary pairing and is
	// removed from the iterated nest; its stride on each side becomes the
	// kernel's Cpx stride instead.
	complexMain := cfg.KindMain.IsComplexMain()
	cList := append([]types.DimId(nil), cls.C...)
	var cpxDim types.DimId
	if complexMain {
		if len(cList) == 0 {
			return nil, fail(types.InvalidCpxDim, "complex contraction requires at least one C dimension")
		}
		cpxDim = cList[0]
		if cfg.Sizes[cpxDim] != 2 {
			return nil, fail(types.InvalidCpxDim, "the leading C dimension of a complex contraction must have extent 2")
		}
		cList = cList[1:]
	}

	primaryM, hasM := choosePrimary(cls.M, elemOut)
	primaryN, hasN := choosePrimary(cls.N, elemOut)
	primaryK, hasK := choosePrimaryK(cls.K, elemLeft, elemRight)

	var mOuterSize, mInnerSize int64 = 1, 1
	var nOuterSize, nInnerSize int64 = 1, 1
	var kOuterSize, kInnerSize int64 = 1, 1
	if hasM {
		mOuterSize, mInnerSize = splitBlock(cfg.Sizes[primaryM], targetM)
	}
	if hasN {
		nOuterSize, nInnerSize = splitBlock(cfg.Sizes[primaryN], targetN)
	}
	if hasK {
		kOuterSize, kInnerSize = splitBlock(cfg.Sizes[primaryK], targetK)
	}

	// C loops (outermost), skipping the removed complex dimension.
	var cLoops []types.Loop
	for _, id := range cList {
		cLoops = append(cLoops, types.Loop{
			DimId:        id,
			Kind:         types.C,
			Exec:         types.Seq,
			Size:         cfg.Sizes[id],
			StrideLeft:   stride.Of(byteLeft, id),
			StrideRight:  stride.Of(byteRight, id),
			StrideOutAux: stride.Of(byteOutAux, id),
			StrideOut:    stride.Of(byteOut, id),
		})
	}

	// Middle M/N group: every non-primary M/N dim plus the outer-block
	// portion of the primary dim if it was split. Ordered so the
	// output-contiguous axis (chosen as primary for that reason) sits
	// innermost within this group, per spec.md §4.3's interleave rule.
	mGroup := extraLoops(cls.M, primaryM, types.M, byteLeft, byteRight, byteOutAux, byteOut, cfg.Sizes)
	if hasM && mOuterSize > 1 {
		mGroup = append(mGroup, types.Loop{
			DimId:        primaryM,
			Kind:         types.M,
			Exec:         types.Seq,
			Size:         mOuterSize,
			StrideLeft:   stride.Of(byteLeft, primaryM) * mInnerSize,
			StrideOutAux: stride.Of(byteOutAux, primaryM) * mInnerSize,
			StrideOut:    stride.Of(byteOut, primaryM) * mInnerSize,
		})
	}
	nGroup := extraLoops(cls.N, primaryN, types.N, byteLeft, byteRight, byteOutAux, byteOut, cfg.Sizes)
	if hasN && nOuterSize > 1 {
		nGroup = append(nGroup, types.Loop{
			DimId:        primaryN,
			Kind:         types.N,
			Exec:         types.Seq,
			Size:         nOuterSize,
			StrideRight:  stride.Of(byteRight, primaryN) * nInnerSize,
			StrideOutAux: stride.Of(byteOutAux, primaryN) * nInnerSize,
			StrideOut:    stride.Of(byteOut, primaryN) * nInnerSize,
		})
	}

	mContiguous := hasM && elemOut[primaryM] == 1
	var middle []types.Loop
	if mContiguous {
		middle = append(append(middle, nGroup...), mGroup...)
	} else {
		middle = append(append(middle, mGroup...), nGroup...)
	}

	outerNonK := append(append([]types.Loop(nil), cLoops...), middle...)

	// K run: every non-primary K dim, then the outer-block portion of the
	// primary K dim if it was split, all placed innermost among the
	// non-primitive loops.
	var kRun []types.Loop
	for _, id := range cls.K {
		if id == primaryK {
			continue
		}
		kRun = append(kRun, types.Loop{
			DimId:       id,
			Kind:        types.K,
			Exec:        types.Seq,
			Size:        cfg.Sizes[id],
			StrideLeft:  stride.Of(byteLeft, id),
			StrideRight: stride.Of(byteRight, id),
		})
	}
	if hasK && kOuterSize > 1 {
		kRun = append(kRun, types.Loop{
			DimId:       primaryK,
			Kind:        types.K,
			Exec:        types.Seq,
			Size:        kOuterSize,
			StrideLeft:  stride.Of(byteLeft, primaryK) * kInnerSize,
			StrideRight: stride.Of(byteRight, primaryK) * kInnerSize,
		})
	}

	// Touch marker placement (ContractionLoops.cpp::compile()): fires on
	// the innermost non-K loop that immediately encloses every K
	// iteration, including the K activity collapsed inside the
	// primitive block. If no such loop exists, inject one of size 1.
	if len(outerNonK) == 0 {
		outerNonK = []types.Loop{{DimId: dummyDim, Kind: types.Undef, Exec: types.Seq, Size: 1}}
	}
	marker := types.TouchEveryIter
	if hasK || len(cls.K) > 0 {
		marker = types.TouchBeforeAfterIter
	}
	outerNonK[len(outerNonK)-1].Touch = marker

	// Parallel prefix (spec.md §4.3 point 3 / §4.6): the smallest prefix
	// of non-K loops whose extent product reaches TargetTasks. K loops
	// are never parallelized, and by construction they never appear
	// before position len(outerNonK).
	product := int64(1)
	if cfg.TargetTasks > 1 {
		for i := range outerNonK {
			if product >= int64(cfg.TargetTasks) {
				break
			}
			outerNonK[i].Exec = types.Omp
			product *= outerNonK[i].Size
		}
	}
	realizedTasks := int(product)
	if realizedTasks < 1 {
		realizedTasks = 1
	}
	if cfg.TargetTasks > 0 && realizedTasks > cfg.TargetTasks {
		realizedTasks = cfg.TargetTasks
	}

	loops := append(append([]types.Loop(nil), outerNonK...), kRun...)
	primDepth := len(loops)

	if hasM {
		loops = append(loops, types.Loop{DimId: primaryM, Kind: types.M, Exec: types.Prim, Size: mInnerSize})
	}
	if hasN {
		loops = append(loops, types.Loop{DimId: primaryN, Kind: types.N, Exec: types.Prim, Size: nInnerSize})
	}
	if hasK {
		loops = append(loops, types.Loop{DimId: primaryK, Kind: types.K, Exec: types.Prim, Size: kInnerSize})
	}

	accumSteps := int64(0)
	for _, l := range kRun {
		accumSteps += l.Size - 1
	}
	if hasK {
		accumSteps += kInnerSize - 1
	}

	// Packing (spec.md §4.4): decide per side against the side's natural
	// (pre-packing) stride to the chosen block/K dims, then patch the
	// kernel's strides for any side that ends up packed.
	var packLeft, packRight pack.Side
	if hasM && hasK {
		packLeft = pack.DecideSide(elemLeft, primaryM, primaryK, mInnerSize, kInnerSize, cfg.DTypeLeft.ByteWidth(), cfg.ExplicitPackLeft)
	}
	if hasN && hasK {
		packRight = pack.DecideSide(elemRight, primaryN, primaryK, nInnerSize, kInnerSize, cfg.DTypeRight.ByteWidth(), cfg.ExplicitPackRight)
	}
	if err := pack.Validate(packLeft, packRight, complexMain); err != nil {
		return nil, err
	}
	// Each enabled side reserves in its own arena layer so left and right
	// packing never share a parity by accident of call order.
	if packLeft.Enabled && cfg.Arena != nil {
		cfg.Arena.EnterLayer()
		packLeft.Reserve(cfg.Arena, realizedTasks, cfg.DTypeLeft, stride.Of(byteLeft, primaryM), stride.Of(byteLeft, primaryK))
	}
	if packRight.Enabled && cfg.Arena != nil {
		cfg.Arena.EnterLayer()
		packRight.Reserve(cfg.Arena, realizedTasks, cfg.DTypeRight, stride.Of(byteRight, primaryN), stride.Of(byteRight, primaryK))
	}

	kernelSpec := types.KernelSpec{
		DTypeLeft:  cfg.DTypeLeft,
		DTypeRight: cfg.DTypeRight,
		DTypeComp:  cfg.DTypeComp,
		DTypeOut:   cfg.DTypeOut,

		Mb: mInnerSize,
		Nb: nInnerSize,
		Kb: kInnerSize,

		StrideMOut:    stride.Of(byteOut, primaryM),
		StrideNOut:    stride.Of(byteOut, primaryN),
		StrideMOutAux: stride.Of(byteOutAux, primaryM),
		StrideNOutAux: stride.Of(byteOutAux, primaryN),

		KindFirstTouch: cfg.KindFirstTouch,
		KindMain:       cfg.KindMain,
		KindLastTouch:  cfg.KindLastTouch,
		AccumSteps:     accumSteps,

		Complex: complexMain,
	}
	if packLeft.Enabled {
		kernelSpec.StrideMLeft = packLeft.PackedStrideBlock
		kernelSpec.StrideKLeft = packLeft.PackedStrideK
	} else {
		kernelSpec.StrideMLeft = stride.Of(byteLeft, primaryM)
		kernelSpec.StrideKLeft = stride.Of(byteLeft, primaryK)
	}
	if packRight.Enabled {
		kernelSpec.StrideNRight = packRight.PackedStrideBlock
		kernelSpec.StrideKRight = packRight.PackedStrideK
	} else {
		kernelSpec.StrideNRight = stride.Of(byteRight, primaryN)
		kernelSpec.StrideKRight = stride.Of(byteRight, primaryK)
	}
	if complexMain {
		kernelSpec.CpxStrideLeft = stride.Of(byteLeft, cpxDim)
		kernelSpec.CpxStrideRight = stride.Of(byteRight, cpxDim)
		kernelSpec.CpxStrideOutAux = stride.Of(byteOutAux, cpxDim)
		kernelSpec.CpxStrideOut = stride.Of(byteOut, cpxDim)
	}

	return &Result{
		Loops:         loops,
		Kernel:        kernelSpec,
		Pack:          pack.Plan{Left: packLeft, Right: packRight, Depth: primDepth},
		Classify:      cls,
		RealizedTasks: realizedTasks,
	}, nil
}

// checkSizes enforces spec.md §3's "outer size ≥ inner size" invariant
// alongside the basic positivity check: a dimension's OuterSizes entry
// (padded convolution storage) may never fall short of the contraction's
// shared inner size on any tensor that declares it.
func checkSizes(cls *classify.Result, sizes map[types.DimId]int64, specs ...*types.TensorSpec) error {
	for id := range cls.Kind {
		if sizes[id] <= 0 {
			return fail(types.InvalidSize, "dimension %d has non-positive size", id)
		}
	}
	for _, spec := range specs {
		if spec == nil {
			continue
		}
		for id, outer := range spec.OuterSizes {
			if inner, ok := sizes[id]; ok && inner > outer {
				return fail(types.InvalidSize, "dimension %d inner size %d exceeds outer size %d", id, inner, outer)
			}
		}
	}
	return nil
}

// choosePrimary picks the dimension the primitive block carves out of
// dims: the one that is stride-1 in elem (output-contiguous), or the
// last dimension in first-appearance order if none is.
func choosePrimary(dims []types.DimId, elem stride.Map) (types.DimId, bool) {
	if len(dims) == 0 {
		return 0, false
	}
	for _, d := range dims {
		if elem[d] == 1 {
			return d, true
		}
	}
	return dims[len(dims)-1], true
}

// choosePrimaryK picks the reduction dimension the primitive block
// carves out of dims: the one that is stride-1 on either input side, or
// the last dimension in first-appearance order if none is.
func choosePrimaryK(dims []types.DimId, elemLeft, elemRight stride.Map) (types.DimId, bool) {
	if len(dims) == 0 {
		return 0, false
	}
	for _, d := range dims {
		if elemLeft[d] == 1 || elemRight[d] == 1 {
			return d, true
		}
	}
	return dims[len(dims)-1], true
}

// splitBlock decides how a dimension of the given size is divided
// between an outer sequential loop and the primitive block: divided when
// it exceeds target and evenly divides, left whole otherwise (spec.md
// §4.3 point 1).
func splitBlock(size, target int64) (outer, inner int64) {
	if target <= 0 || size <= target {
		return 1, size
	}
	if size%target == 0 {
		return size / target, target
	}
	return 1, size
}

// extraLoops builds one Seq loop entry per dimension of the given kind
// other than primary, in first-appearance order.
func extraLoops(dims []types.DimId, primary types.DimId, kind types.DimKind, byteLeft, byteRight, byteOutAux, byteOut stride.Map, sizes map[types.DimId]int64) []types.Loop {
	var out []types.Loop
	for _, id := range dims {
		if id == primary {
			continue
		}
		out = append(out, types.Loop{
			DimId:        id,
			Kind:         kind,
			Exec:         types.Seq,
			Size:         sizes[id],
			StrideLeft:   stride.Of(byteLeft, id),
			StrideRight:  stride.Of(byteRight, id),
			StrideOutAux: stride.Of(byteOutAux, id),
			StrideOut:    stride.Of(byteOut, id),
		})
	}
	return out
}
