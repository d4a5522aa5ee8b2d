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

// Package facade orchestrates Classifier, StrideBuilder (both invoked
// from within LoopOptimizer), PackingPlan and LoopEngine behind the
// {Fresh, Configured, Compiled, Ready, Failed} state machine of
// spec.md §4.7, mirroring the "collaborators wired by one owning type"
// structure einsum_ir's BinaryContractionTpp.cpp gives its backend.
package facade

import (
	"context"
	"unsafe"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/breuera/einsum-ir/internal/arena"
	"github.com/breuera/einsum-ir/internal/classify"
	"github.com/breuera/einsum-ir/internal/engine"
	"github.com/breuera/einsum-ir/internal/kernel"
	"github.com/breuera/einsum-ir/internal/loopopt"
	"github.com/breuera/einsum-ir/internal/pack"
	"github.com/breuera/einsum-ir/internal/types"
)

// State is the facade's lifecycle position, per spec.md §4.7.
type State uint8

const (
	Fresh State = iota
	Configured
	Compiled
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "FRESH"
	case Configured:
		return "CONFIGURED"
	case Compiled:
		return "COMPILED"
	case Ready:
		return "READY"
	case Failed:
		return "FAILED"
	default:
		return "?"
	}
}

// Error is the taxonomy-tagged failure returned by Init/Compile/Contract.
type Error struct {
	Kind types.ErrorKind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newErr(kind types.ErrorKind, msg string) error {
	return errors.WithStack(&Error{Kind: kind, msg: msg})
}

// Config mirrors loopopt.Config; it is the caller-facing init()
// parameter set of spec.md §4.7, minus the Arena (the facade owns its
// own arena instance internally).
type Config struct {
	Left, Right, Out, OutAux *types.TensorSpec
	Sizes                    map[types.DimId]int64
	DTypeLeft, DTypeRight, DTypeComp, DTypeOut types.DType
	KindFirstTouch, KindMain, KindLastTouch    types.KernelKind
	TargetM, TargetN, TargetK                  int64
	TargetTasks                                int
	ExplicitPackLeft, ExplicitPackRight        bool
}

// Facade is one compiled contraction. Contract calls on one Facade are not
// safe to run concurrently: every call reuses the same per-task
// packed-tile slots in the arena. compile() itself is single-threaded,
// per spec.md §5.
type Facade struct {
	state State
	err   error

	cfg    Config
	arena  *arena.Arena
	result *loopopt.Result
	kset   *kernel.Set
	eng    *engine.Engine
}

// New returns a Facade in the Fresh state.
func New() *Facade { return &Facade{state: Fresh} }

// State reports the facade's current lifecycle position.
func (f *Facade) State() State { return f.state }

// Init records the contraction's shape and kernel configuration,
// transitioning Fresh -> Configured. Calling Init again re-configures a
// facade from any state.
func (f *Facade) Init(cfg Config) error {
	if cfg.Left == nil || cfg.Right == nil || cfg.Out == nil {
		f.state = Failed
		f.err = newErr(types.InvalidDim, "facade: left, right and out tensor specs are required")
		return f.err
	}
	f.cfg = cfg
	f.state = Configured
	f.err = nil
	return nil
}

// Compile runs the Classifier, LoopOptimizer, and PackingPlan and
// materializes the backend kernel set, transitioning
// Configured -> Compiled (or -> Failed on any error). The arena's
// backing buffer is not allocated here — spec.md §3/§4.7 allocate it
// lazily on the first Contract call, so Compiled -> Ready happens there.
func (f *Facade) Compile() error {
	if f.state != Configured {
		f.state = Failed
		f.err = newErr(types.CalledBeforeCompile, "facade: compile called before init")
		return f.err
	}

	f.arena = arena.New()
	result, err := loopopt.Optimize(loopopt.Config{
		Left:              f.cfg.Left,
		Right:             f.cfg.Right,
		Out:               f.cfg.Out,
		OutAux:            f.cfg.OutAux,
		Sizes:             f.cfg.Sizes,
		DTypeLeft:         f.cfg.DTypeLeft,
		DTypeRight:        f.cfg.DTypeRight,
		DTypeComp:         f.cfg.DTypeComp,
		DTypeOut:          f.cfg.DTypeOut,
		KindFirstTouch:    f.cfg.KindFirstTouch,
		KindMain:          f.cfg.KindMain,
		KindLastTouch:     f.cfg.KindLastTouch,
		TargetM:           f.cfg.TargetM,
		TargetN:           f.cfg.TargetN,
		TargetK:           f.cfg.TargetK,
		TargetTasks:       f.cfg.TargetTasks,
		ExplicitPackLeft:  f.cfg.ExplicitPackLeft,
		ExplicitPackRight: f.cfg.ExplicitPackRight,
		Arena:             f.arena,
	})
	if err != nil {
		f.state = Failed
		f.err = errors.WithStack(&Error{Kind: classifyKind(err), msg: "facade: compile failed: " + err.Error()})
		return f.err
	}

	kset, err := kernel.BuildScalar(&result.Kernel)
	if err != nil {
		f.state = Failed
		f.err = errors.WithStack(&Error{Kind: types.KernelUnsupported, msg: "facade: " + err.Error()})
		return f.err
	}

	f.result = result
	f.kset = kset
	f.eng = &engine.Engine{
		Loops:         result.Loops,
		PrimDepth:     result.Pack.Depth,
		Kernels:       kset,
		Pack:          result.Pack,
		RealizedTasks: result.RealizedTasks,
	}

	klog.V(2).InfoS("compiled contraction",
		"loops", len(result.Loops),
		"realizedTasks", result.RealizedTasks,
		"packLeft", result.Pack.Left.Enabled,
		"packRight", result.Pack.Right.Enabled,
		"mb", result.Kernel.Mb, "nb", result.Kernel.Nb, "kb", result.Kernel.Kb,
	)

	f.state = Compiled
	f.err = nil
	return nil
}

// Contract executes the compiled plan once against the given raw
// pointers, per spec.md §4.5. outAux may be nil when the compiled
// first-touch kernel takes no aux input. The first call from Compiled
// lazily allocates the arena's backing buffer and advances to Ready;
// every call thereafter is a reentrant Ready -> Ready execution. Calling
// Contract from any other state is a caller mistake: it transitions to
// Failed and returns CalledBeforeCompile, mirroring Init/Compile's
// failure reporting rather than panicking.
func (f *Facade) Contract(ctx context.Context, left, right, outAux, out unsafe.Pointer) error {
	if f.state != Compiled && f.state != Ready {
		f.state = Failed
		f.err = newErr(types.CalledBeforeCompile, "facade: contract called before a successful compile")
		return f.err
	}
	if f.state == Compiled {
		f.arena.AllocAll()
		f.state = Ready
	}
	return f.eng.Contract(ctx, left, right, outAux, out, f.arena.Ptr)
}

// Result exposes the compiled plan for diagnostics and testing.
func (f *Facade) Result() *loopopt.Result { return f.result }

func classifyKind(err error) types.ErrorKind {
	var lo *loopopt.Error
	if errors.As(err, &lo) {
		return lo.Kind
	}
	var cl *classify.Error
	if errors.As(err, &cl) {
		return cl.Kind
	}
	var pk *pack.Error
	if errors.As(err, &pk) {
		return types.KernelUnsupported
	}
	var kn *kernel.Error
	if errors.As(err, &kn) {
		return types.KernelUnsupported
	}
	return types.CompilationFailed
}
