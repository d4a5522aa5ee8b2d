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
	"math"
	"unsafe"

	"github.com/x448/float16"

	"github.com/breuera/einsum-ir/internal/types"
)

// readScalar loads the element at ptr, upconverting to float64 for
// computation, mirroring how BinaryContractionScalar.h's templated
// kernel_madd is instantiated once per dtype pairing in the original —
// here the widening happens at read time instead of at compile time.
func readScalar(ptr unsafe.Pointer, dt types.DType) float64 {
	switch dt {
	case types.FP32, types.CpxFP32:
		return float64(*(*float32)(ptr))
	case types.FP64, types.CpxFP64:
		return *(*float64)(ptr)
	case types.BF16:
		return float64(bf16ToFloat32(*(*uint16)(ptr)))
	case types.FP16:
		return float64(fp16ToFloat32(*(*uint16)(ptr)))
	default:
		panic("kernel: unrecognized dtype in readScalar")
	}
}

func writeScalar(ptr unsafe.Pointer, dt types.DType, v float64) {
	switch dt {
	case types.FP32, types.CpxFP32:
		*(*float32)(ptr) = float32(v)
	case types.FP64, types.CpxFP64:
		*(*float64)(ptr) = v
	case types.BF16:
		*(*uint16)(ptr) = float32ToBF16(float32(v))
	case types.FP16:
		*(*uint16)(ptr) = float32ToFP16(float32(v))
	default:
		panic("kernel: unrecognized dtype in writeScalar")
	}
}

// bf16ToFloat32 widens a bfloat16 bit pattern (the top 16 bits of an
// IEEE-754 float32) back to float32.
func bf16ToFloat32(b uint16) float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// float32ToBF16 truncates with round-to-nearest-even, matching the
// conversion x448/float16-style libraries use for bf16 in the retrieved
// pack (gomlx depends on x448/float16 for the sibling fp16 conversion).
func float32ToBF16(f float32) uint16 {
	bits := math.Float32bits(f)
	// Round to nearest even: add the rounding bias before truncating.
	rounded := bits + 0x7fff + ((bits >> 16) & 1)
	return uint16(rounded >> 16)
}

// fp16ToFloat32 and float32ToFP16 implement IEEE-754 binary16 conversion
// via x448/float16, the standalone scalar codec the retrieved pack
// already depends on (gomlx uses it directly for fp16 element
// conversion, not only through a tensor type).
func fp16ToFloat32(h uint16) float32 {
	return float16.Float16(h).Float32()
}

func float32ToFP16(f float32) uint16 {
	return uint16(float16.Fromfloat32(f))
}
