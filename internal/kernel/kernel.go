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

// Package kernel defines the micro-kernel collaborator contract of
// spec.md §4.5/§6 and ships the always-available scalar reference
// backend, grounded on einsum_ir's BinaryContractionScalar.h. A JIT or
// vectorized backend satisfies the same TouchKernel/MainKernel/CopyKernel
// function shapes; this package never assumes one exists.
package kernel

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/breuera/einsum-ir/internal/types"
)

// TouchKernel is the unary first/last-touch collaborator signature of
// spec.md §6: `(const void* aux_or_null, void* out) -> ()`.
type TouchKernel func(aux, out unsafe.Pointer)

// MainKernel is the binary main-contraction collaborator signature of
// spec.md §6: `(const void* left, const void* right, void* out) -> ()`.
// It receives the KernelSpec's fixed block shape via closure, not as an
// argument, matching a JIT kernel compiled once per shape at compile()
// time.
type MainKernel func(left, right, out unsafe.Pointer)

// CopyKernel is the unary permute+cast packing collaborator of
// spec.md §4.4: reads a tile via arbitrary strides and writes a
// contiguous copy.
type CopyKernel func(src, dst unsafe.Pointer)

// Set bundles the three touch/main kernels a compiled plan invokes.
type Set struct {
	FirstTouch TouchKernel
	Main       MainKernel
	LastTouch  TouchKernel
}

// Error reports that the scalar backend cannot materialize a requested
// kernel kind for the given dtype combination.
type Error struct{ msg string }

func (e *Error) Error() string { return e.msg }

func unsupported(format string, args ...any) error {
	return errors.WithStack(&Error{msg: "kernel: " + fmt.Sprintf(format, args...)})
}

// BuildScalar constructs the scalar reference Set for spec, returning
// KernelUnsupported-flavored errors (via the kernel.Error type; the
// caller — internal/facade's Compile — is responsible for mapping it to
// types.KernelUnsupported) when the scalar backend cannot express
// the requested kind/dtype combination.
//
// The scalar backend loops the KernelSpec's Mb×Nb×Kb block explicitly,
// generalizing BinaryContractionScalar.h's single-scalar kernel_madd —
// the original is instantiated once per (T_LEFT,T_RIGHT,T_OUT) at build
// time and called once per innermost iteration; the block loop here plays
// the same role a JIT backend's register blocking would.
func BuildScalar(spec *types.KernelSpec) (*Set, error) {
	if spec.Complex && spec.KindMain != types.KindCpxMadd {
		return nil, unsupported("complex block requires KindCpxMadd, got %s", spec.KindMain)
	}
	if !spec.Complex && spec.KindMain == types.KindCpxMadd {
		return nil, unsupported("KindCpxMadd requires a complex block")
	}

	main, err := buildMain(spec)
	if err != nil {
		return nil, err
	}
	first, err := buildTouch(spec.KindFirstTouch, spec.DTypeOut, spec.Mb, spec.Nb, spec.StrideMOut, spec.StrideNOut, spec.StrideMOutAux, spec.StrideNOutAux)
	if err != nil {
		return nil, err
	}
	last, err := buildTouch(spec.KindLastTouch, spec.DTypeOut, spec.Mb, spec.Nb, spec.StrideMOut, spec.StrideNOut, spec.StrideMOutAux, spec.StrideNOutAux)
	if err != nil {
		return nil, err
	}

	return &Set{FirstTouch: first, Main: main, LastTouch: last}, nil
}

func buildTouch(kind types.KernelKind, dtOut types.DType, mb, nb, strideMOut, strideNOut, strideMAux, strideNAux int64) (TouchKernel, error) {
	switch kind {
	case types.KindNone:
		return func(aux, out unsafe.Pointer) {}, nil
	case types.KindZero:
		return func(aux, out unsafe.Pointer) {
			forBlock(mb, nb, strideMOut, strideNOut, func(off int64) {
				writeScalar(unsafe.Add(out, off), dtOut, 0)
			})
		}, nil
	case types.KindCopy:
		return func(aux, out unsafe.Pointer) {
			forBlockDual(mb, nb, strideMOut, strideNOut, strideMAux, strideNAux, func(outOff, auxOff int64) {
				v := readScalar(unsafe.Add(aux, auxOff), dtOut)
				writeScalar(unsafe.Add(out, outOff), dtOut, v)
			})
		}, nil
	case types.KindAdd:
		return func(aux, out unsafe.Pointer) {
			forBlockDual(mb, nb, strideMOut, strideNOut, strideMAux, strideNAux, func(outOff, auxOff int64) {
				a := readScalar(unsafe.Add(aux, auxOff), dtOut)
				o := readScalar(unsafe.Add(out, outOff), dtOut)
				writeScalar(unsafe.Add(out, outOff), dtOut, a+o)
			})
		}, nil
	case types.KindRelu:
		return func(aux, out unsafe.Pointer) {
			forBlock(mb, nb, strideMOut, strideNOut, func(off int64) {
				v := readScalar(unsafe.Add(out, off), dtOut)
				if v < 0 {
					v = 0
				}
				writeScalar(unsafe.Add(out, off), dtOut, v)
			})
		}, nil
	default:
		return nil, unsupported("touch kernel kind %s unsupported by scalar backend", kind)
	}
}

func buildMain(spec *types.KernelSpec) (MainKernel, error) {
	dtL, dtR, dtO := spec.DTypeLeft, spec.DTypeRight, spec.DTypeOut
	mb, nb, kb := spec.Mb, spec.Nb, spec.Kb
	smL, skL := spec.StrideMLeft, spec.StrideKLeft
	snR, skR := spec.StrideNRight, spec.StrideKRight
	smO, snO := spec.StrideMOut, spec.StrideNOut

	switch spec.KindMain {
	case types.KindMadd:
		return func(left, right, out unsafe.Pointer) {
			for m := int64(0); m < mb; m++ {
				for n := int64(0); n < nb; n++ {
					outOff := m*smO + n*snO
					acc := readScalar(unsafe.Add(out, outOff), dtO)
					for k := int64(0); k < kb; k++ {
						l := readScalar(unsafe.Add(left, m*smL+k*skL), dtL)
						r := readScalar(unsafe.Add(right, n*snR+k*skR), dtR)
						acc += l * r
					}
					writeScalar(unsafe.Add(out, outOff), dtO, acc)
				}
			}
		}, nil
	case types.KindCpxMadd:
		if !spec.Complex {
			return nil, unsupported("KindCpxMadd requires a complex block")
		}
		clL, clR, clO := spec.CpxStrideLeft, spec.CpxStrideRight, spec.CpxStrideOut
		return func(left, right, out unsafe.Pointer) {
			for m := int64(0); m < mb; m++ {
				for n := int64(0); n < nb; n++ {
					outOff := m*smO + n*snO
					accRe := readScalar(unsafe.Add(out, outOff), dtO)
					accIm := readScalar(unsafe.Add(out, outOff+clO), dtO)
					for k := int64(0); k < kb; k++ {
						lOff := m*smL + k*skL
						rOff := n*snR + k*skR
						lRe := readScalar(unsafe.Add(left, lOff), dtL)
						lIm := readScalar(unsafe.Add(left, lOff+clL), dtL)
						rRe := readScalar(unsafe.Add(right, rOff), dtR)
						rIm := readScalar(unsafe.Add(right, rOff+clR), dtR)
						accRe += lRe*rRe - lIm*rIm
						accIm += lRe*rIm + lIm*rRe
					}
					writeScalar(unsafe.Add(out, outOff), dtO, accRe)
					writeScalar(unsafe.Add(out, outOff+clO), dtO, accIm)
				}
			}
		}, nil
	default:
		return nil, unsupported("main kernel kind %s unsupported by scalar backend", spec.KindMain)
	}
}

// BuildCopy constructs the unary permute+copy packing kernel of
// spec.md §4.4: it reads a [dim0Extent, dim1Extent] logical block through
// arbitrary source strides and writes it contiguously (per the
// destination strides), the way BasePackLHSVec/BasePackRHSVec in
// hwy/contrib/matmul/packing.go read a strided panel and emit a packed
// micro-panel, simplified here to a single dtype (no cast) since packing
// never crosses a dtype boundary in this backend.
func BuildCopy(dt types.DType, dim0Extent, dim1Extent, srcStride0, srcStride1, dstStride0, dstStride1 int64) CopyKernel {
	return func(src, dst unsafe.Pointer) {
		for i := int64(0); i < dim0Extent; i++ {
			srcRow := i * srcStride0
			dstRow := i * dstStride0
			for j := int64(0); j < dim1Extent; j++ {
				v := readScalar(unsafe.Add(src, srcRow+j*srcStride1), dt)
				writeScalar(unsafe.Add(dst, dstRow+j*dstStride1), dt, v)
			}
		}
	}
}

// forBlock walks an Mb×Nb output block, invoking fn with the byte offset
// of each element relative to the block's base pointer.
func forBlock(mb, nb, strideM, strideN int64, fn func(off int64)) {
	for m := int64(0); m < mb; m++ {
		rowOff := m * strideM
		for n := int64(0); n < nb; n++ {
			fn(rowOff + n*strideN)
		}
	}
}

// forBlockDual walks an Mb×Nb block over two independently strided
// operands at once — the out tensor and a first-touch aux input that may
// broadcast (zero stride) along either axis.
func forBlockDual(mb, nb, strideMOut, strideNOut, strideMAux, strideNAux int64, fn func(outOff, auxOff int64)) {
	for m := int64(0); m < mb; m++ {
		outRow := m * strideMOut
		auxRow := m * strideMAux
		for n := int64(0); n < nb; n++ {
			fn(outRow+n*strideNOut, auxRow+n*strideNAux)
		}
	}
}
