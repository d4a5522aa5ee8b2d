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

// Package types holds the data model shared by every stage of the
// contraction planner: the dimension domain, tensor descriptors, the
// planned loop nest, and the kernel/error vocabularies. It has no
// dependency on any other internal package so that classify, stride,
// loopopt, pack, and engine can each depend on it without cycles.
package types

import "fmt"

// DimId names a dimension globally. Two dimensions sharing a DimId across
// tensors are the same axis and must have identical inner extent.
type DimId int64

// DimKind classifies a dimension by which tensors reference it.
type DimKind uint8

const (
	Undef DimKind = iota
	C             // batch: present in left, right and out
	M             // present in left and out
	N             // present in right and out
	K             // reduction: present in left and right, not out
)

func (k DimKind) String() string {
	switch k {
	case C:
		return "C"
	case M:
		return "M"
	case N:
		return "N"
	case K:
		return "K"
	default:
		return "UNDEF"
	}
}

// ExecKind is how a planned loop is executed.
type ExecKind uint8

const (
	Seq  ExecKind = iota // sequential outer loop
	Omp                  // parallelized across tasks
	Prim                 // consumed by the inner micro-kernel
	Pack                 // drives the unary packing copy kernel
)

func (e ExecKind) String() string {
	switch e {
	case Seq:
		return "SEQ"
	case Omp:
		return "OMP"
	case Prim:
		return "PRIM"
	case Pack:
		return "PACK"
	default:
		return "?"
	}
}

// TouchMarker annotates the loop depth at which first/last-touch kernels
// fire, per spec.md §4.3.
type TouchMarker uint8

const (
	TouchNone TouchMarker = iota
	// TouchBeforeAfterIter fires first-touch once before the loop body and
	// last-touch once after, accumulating across every interior iteration.
	TouchBeforeAfterIter
	// TouchEveryIter fires first-touch and last-touch around every call to
	// the main kernel; used only when the nest has no K dimension.
	TouchEveryIter
)

// KernelKind selects the behavior of a first-touch, main, or last-touch
// kernel.
type KernelKind uint8

const (
	KindNone KernelKind = iota
	KindZero
	KindCopy
	KindAdd
	KindMadd
	KindRelu
	KindCpxMadd
)

func (k KernelKind) String() string {
	switch k {
	case KindNone:
		return "NONE"
	case KindZero:
		return "ZERO"
	case KindCopy:
		return "COPY"
	case KindAdd:
		return "ADD"
	case KindMadd:
		return "MADD"
	case KindRelu:
		return "RELU"
	case KindCpxMadd:
		return "CPX_MADD"
	default:
		return "?"
	}
}

// IsComplexMain reports whether a main-kernel kind requires the complex
// outer-C-dimension treatment of spec.md §4.3.
func (k KernelKind) IsComplexMain() bool {
	return k == KindCpxMadd
}

// DType is a recognized scalar (or complex-component) element type.
type DType uint8

const (
	FP32 DType = iota
	FP64
	BF16
	FP16
	CpxFP32
	CpxFP64
)

func (d DType) String() string {
	switch d {
	case FP32:
		return "FP32"
	case FP64:
		return "FP64"
	case BF16:
		return "BF16"
	case FP16:
		return "FP16"
	case CpxFP32:
		return "CPX_FP32"
	case CpxFP64:
		return "CPX_FP64"
	default:
		return "?"
	}
}

// ByteWidth is the size of one scalar component in bytes. For complex
// dtypes this is the width of one real/imaginary component, not the pair:
// spec.md §4.3 represents the complex axis as an extra leading C dimension
// of extent 2 rather than an interleaved wide element.
func (d DType) ByteWidth() int64 {
	switch d {
	case FP32, CpxFP32:
		return 4
	case FP64, CpxFP64:
		return 8
	case BF16, FP16:
		return 2
	default:
		panic(fmt.Sprintf("types: unrecognized dtype %d", d))
	}
}

// IsComplex reports whether d designates the complex-component pairing.
func (d DType) IsComplex() bool {
	return d == CpxFP32 || d == CpxFP64
}

// ErrorKind is the taxonomy returned by init/compile per spec.md §7.
type ErrorKind uint8

const (
	InvalidDim ErrorKind = iota
	InvalidSize
	InvalidCpxDim
	CompilationFailed
	CalledBeforeCompile
	KernelUnsupported
)

func (e ErrorKind) String() string {
	switch e {
	case InvalidDim:
		return "INVALID_DIM"
	case InvalidSize:
		return "INVALID_SIZE"
	case InvalidCpxDim:
		return "INVALID_CPX_DIM"
	case CompilationFailed:
		return "COMPILATION_FAILED"
	case CalledBeforeCompile:
		return "CALLED_BEFORE_COMPILE"
	case KernelUnsupported:
		return "KERNEL_UNSUPPORTED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// TensorSpec describes one tensor's dimension order and sizing, per
// spec.md §3.
type TensorSpec struct {
	// DimIDs lists dimensions outer-to-inner in storage order. No id may
	// repeat.
	DimIDs []DimId
	// OuterSizes gives the storage extent per dimension; may exceed the
	// contraction's shared inner size for padded convolution inputs.
	OuterSizes map[DimId]int64
	// StrideMult optionally scales the derived stride of a dimension
	// (strided convolutions). Dimensions absent here have multiplier 1.
	StrideMult map[DimId]int64
	// Link maps a spatial dimension id to the position dimension id it
	// slides over: traversing the position dim by one advances the
	// spatial dim by one in storage. Absent for non-convolution axes.
	Link map[DimId]DimId
}

// HasDim reports whether id appears in the tensor's dimension list.
func (t *TensorSpec) HasDim(id DimId) bool {
	for _, d := range t.DimIDs {
		if d == id {
			return true
		}
	}
	return false
}

func (t *TensorSpec) strideMult(id DimId) int64 {
	if t.StrideMult == nil {
		return 1
	}
	if m, ok := t.StrideMult[id]; ok {
		return m
	}
	return 1
}

// StrideMultOf exposes strideMult to other internal packages.
func (t *TensorSpec) StrideMultOf(id DimId) int64 { return t.strideMult(id) }

// Loop is one element of the planned nest; position 0 is outermost, per
// spec.md §3.
type Loop struct {
	DimId DimId
	Kind  DimKind
	Exec  ExecKind
	Size  int64

	// Byte strides for one unit of iteration along this loop, per tensor
	// side. Zero means the tensor does not depend on this dimension
	// (broadcast).
	StrideLeft    int64
	StrideRight   int64
	StrideOutAux  int64
	StrideOut     int64

	Touch TouchMarker
}

// KernelSpec describes the inner micro-kernel's fixed shape, per
// spec.md §4.6/§6.
type KernelSpec struct {
	DTypeLeft  DType
	DTypeRight DType
	DTypeComp  DType
	DTypeOut   DType

	Mb, Nb, Kb int64

	// Byte strides of the primitive block's operands, as seen by the
	// micro-kernel (post-packing when packing applies to that side). Left
	// varies over M and K, right over N and K, output and its optional
	// first-touch aux input over M and N only — the block is never assumed
	// contiguous along any axis except when packing has made it so.
	StrideMLeft  int64
	StrideKLeft  int64
	StrideNRight int64
	StrideKRight int64
	StrideMOut   int64
	StrideNOut   int64
	// StrideMOutAux/StrideNOutAux are the first-touch aux input's strides,
	// independently zeroable from StrideMOut/StrideNOut so a bias that
	// broadcasts across M or N (spec.md §4.1's dim-drop broadcast rule)
	// reads the same aux element for every position along that axis.
	StrideMOutAux int64
	StrideNOutAux int64

	KindFirstTouch KernelKind
	KindMain       KernelKind
	KindLastTouch  KernelKind

	// AccumSteps is Σ(size_k - 1) across every K loop in the nest
	// (einsum_ir's m_loop_sum_k_sizes) — a hint a JIT backend may use to
	// size its accumulator width. Unused by the scalar reference kernel.
	AccumSteps int64

	Complex bool
	// CpxStride{Left,Right,OutAux,Out} is the byte stride between the
	// real and imaginary halves of the corresponding tensor, valid only
	// when Complex is true (spec.md §4.3).
	CpxStrideLeft   int64
	CpxStrideRight  int64
	CpxStrideOutAux int64
	CpxStrideOut    int64
}
