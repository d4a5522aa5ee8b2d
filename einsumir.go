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

// Package einsumir compiles and executes binary tensor contractions: a
// generalized batched, strided einsum of the form
//
//	out[c, m, n] += op(left[c, m, k], right[c, n, k])
//
// A Contraction moves through a small state machine: construct with New,
// describe the operands and kernel with Init, plan the loop nest and
// pick a primitive block with Compile, then invoke Contract as many
// times as needed against raw buffers of the compiled shape.
//
// The package never assumes a particular micro-kernel backend; the
// scalar reference kernels in the kernel subpackage are always
// available and are what Compile uses today.
package einsumir

import (
	"context"
	"unsafe"

	"github.com/breuera/einsum-ir/internal/facade"
	"github.com/breuera/einsum-ir/internal/types"
)

// Re-exported data-model types (internal/types), so callers never import
// an internal package directly.
type (
	DimId      = types.DimId
	DimKind    = types.DimKind
	DType      = types.DType
	KernelKind = types.KernelKind
	ErrorKind  = types.ErrorKind
	TensorSpec = types.TensorSpec
)

// Dimension kinds.
const (
	C = types.C
	M = types.M
	N = types.N
	K = types.K
)

// Scalar and complex-component element types.
const (
	FP32    = types.FP32
	FP64    = types.FP64
	BF16    = types.BF16
	FP16    = types.FP16
	CpxFP32 = types.CpxFP32
	CpxFP64 = types.CpxFP64
)

// Kernel kinds a first-touch, main, or last-touch collaborator may
// implement.
const (
	KindNone    = types.KindNone
	KindZero    = types.KindZero
	KindCopy    = types.KindCopy
	KindAdd     = types.KindAdd
	KindMadd    = types.KindMadd
	KindRelu    = types.KindRelu
	KindCpxMadd = types.KindCpxMadd
)

// Error taxonomy members returned by Init/Compile/Contract.
const (
	InvalidDim          = types.InvalidDim
	InvalidSize         = types.InvalidSize
	InvalidCpxDim       = types.InvalidCpxDim
	CompilationFailed   = types.CompilationFailed
	CalledBeforeCompile = types.CalledBeforeCompile
	KernelUnsupported   = types.KernelUnsupported
)

// State is a Contraction's lifecycle position.
type State = facade.State

const (
	Fresh      = facade.Fresh
	Configured = facade.Configured
	Compiled   = facade.Compiled
	Ready      = facade.Ready
	Failed     = facade.Failed
)

// Config describes one contraction's operand shapes, element types, and
// kernel selection — the parameters of init() in spec.md §4.7.
type Config struct {
	// Left, Right and Out give each tensor's dimension order and sizing.
	// OutAux, if non-nil, is the first-touch kernel's auxiliary input
	// (e.g. a bias to add or copy into the output before accumulation).
	Left, Right, Out, OutAux *TensorSpec

	// Sizes gives the shared inner extent of every dimension referenced
	// by Left, Right or Out.
	Sizes map[DimId]int64

	DTypeLeft, DTypeRight, DTypeComp, DTypeOut DType

	// KindFirstTouch and KindLastTouch may be KindNone. KindMain is
	// required; use KindCpxMadd only when the leading C dimension of
	// every tensor carries the real/imaginary pairing (extent 2).
	KindFirstTouch, KindMain, KindLastTouch KernelKind

	// TargetM/TargetN/TargetK cap the primitive block; zero selects a
	// tuned default. TargetTasks is the thread count the parallel prefix
	// targets; zero or one disables parallel dispatch.
	TargetM, TargetN, TargetK int64
	TargetTasks               int

	// ExplicitPackLeft/ExplicitPackRight force repacking a side even
	// when its natural layout is already contiguous for the kernel.
	ExplicitPackLeft, ExplicitPackRight bool
}

// Contraction is a compiled (or in-progress) binary tensor contraction.
// The zero value is not usable; construct with New.
type Contraction struct {
	f *facade.Facade
}

// New returns a Contraction in the Fresh state.
func New() *Contraction {
	return &Contraction{f: facade.New()}
}

// State reports the contraction's current lifecycle position.
func (c *Contraction) State() State { return c.f.State() }

// Init records the contraction's shape and kernel configuration.
func (c *Contraction) Init(cfg Config) error {
	return c.f.Init(facade.Config{
		Left:              cfg.Left,
		Right:             cfg.Right,
		Out:               cfg.Out,
		OutAux:            cfg.OutAux,
		Sizes:             cfg.Sizes,
		DTypeLeft:         cfg.DTypeLeft,
		DTypeRight:        cfg.DTypeRight,
		DTypeComp:         cfg.DTypeComp,
		DTypeOut:          cfg.DTypeOut,
		KindFirstTouch:    cfg.KindFirstTouch,
		KindMain:          cfg.KindMain,
		KindLastTouch:     cfg.KindLastTouch,
		TargetM:           cfg.TargetM,
		TargetN:           cfg.TargetN,
		TargetK:           cfg.TargetK,
		TargetTasks:       cfg.TargetTasks,
		ExplicitPackLeft:  cfg.ExplicitPackLeft,
		ExplicitPackRight: cfg.ExplicitPackRight,
	})
}

// Compile plans the loop nest and primitive block, and materializes the
// backend kernels. Init must have succeeded first.
func (c *Contraction) Compile() error {
	return c.f.Compile()
}

// Contract executes the compiled plan once against raw buffers. left,
// right and out must point to buffers at least as large as the shapes
// passed to Init describe; outAux may be nil (unsafe.Pointer(nil)) when
// the compiled first-touch kernel takes no aux input. Compile must have
// succeeded first — calling Contract before a successful Compile
// returns a CalledBeforeCompile error rather than panicking, since the
// state machine transition is a caller mistake spec.md classifies as a
// recoverable usage error, not a programmer-only invariant violation.
func (c *Contraction) Contract(ctx context.Context, left, right, outAux, out unsafe.Pointer) error {
	return c.f.Contract(ctx, left, right, outAux, out)
}
