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

// Package arena implements the double-ended bump allocator of spec.md
// §4.7, grounded on einsum_ir's MemoryManager.cpp. Two free lists grow
// toward each other from opposite ends of a single backing buffer; the
// buffer is sized to the high-water mark observed across every
// reservation and allocated once, lazily, on first use.
package arena

import "unsafe"

const (
	// CacheLineBytes is the rounding granularity for every reservation.
	CacheLineBytes = 64
	// PageBytes is the alignment granularity of the backing buffer.
	PageBytes = 4096
)

// Arena is a scratch-memory allocator shared across tensor lifetimes
// within one compiled plan. It is not safe for concurrent Reserve/Remove
// calls; all reservations happen during compile(), which spec.md §5
// defines as single-threaded. Once AllocAll has run, Ptr is read-only and
// safe to call concurrently from every contract() task.
type Arena struct {
	layer int64

	// left grows from offset 0 upward (even layers); right grows from the
	// high end downward (odd layers). Both lists are ordered most-recent
	// reservation first, mirroring MemoryManager.cpp's std::list::push_front.
	leftIDs      []int64
	leftOffsets  []int64
	rightIDs     []int64
	rightOffsets []int64

	lastID int64
	// tensorOffset[id-1] is the raw (pre-alignment) offset recorded for
	// reservation id at the time it was made, mirroring
	// MemoryManager::m_tensor_offset. Right-side entries store a negative
	// offset measured from the high end.
	tensorOffset []int64

	reqBytes int64

	buf         []byte
	alignOffset int64
}

// New returns an empty arena. Call Reserve for every scratch buffer
// needed, then AllocAll once before resolving any Ptr.
func New() *Arena {
	return &Arena{}
}

// EnterLayer advances the layer counter, flipping which side the next
// Reserve grows. Callers reserve one layer per independent packing side
// (spec.md's supplemented feature: MemoryManager's increase_layer) so
// that two sides packed within the same compile don't collide on parity
// by accident of call order.
func (a *Arena) EnterLayer() { a.layer++ }

// ExitLayer reverses EnterLayer.
func (a *Arena) ExitLayer() { a.layer-- }

// Reserve records a new allocation of size bytes (rounded up to a
// cache-line multiple) and returns its id. Positive ids live in the left
// list, negative ids in the right list, chosen by the parity of the
// current layer.
func (a *Arena) Reserve(size int64) int64 {
	if size%CacheLineBytes != 0 {
		size += CacheLineBytes - size%CacheLineBytes
	}

	a.lastID++
	var id int64
	var offset int64

	if a.layer%2 == 0 {
		if len(a.leftOffsets) > 0 {
			offset = a.leftOffsets[0]
		}
		a.tensorOffset = append(a.tensorOffset, offset)
		offset += size
		id = a.lastID
		a.leftIDs = prepend(a.leftIDs, id)
		a.leftOffsets = prepend(a.leftOffsets, offset)
	} else {
		if len(a.rightOffsets) > 0 {
			offset = a.rightOffsets[0]
		}
		offset -= size
		id = -a.lastID
		a.tensorOffset = append(a.tensorOffset, offset)
		a.rightIDs = prepend(a.rightIDs, id)
		a.rightOffsets = prepend(a.rightOffsets, offset)
	}

	leftFront := int64(0)
	if len(a.leftOffsets) > 0 {
		leftFront = a.leftOffsets[0]
	}
	rightFront := int64(0)
	if len(a.rightOffsets) > 0 {
		rightFront = a.rightOffsets[0]
	}
	if cur := leftFront - rightFront; cur > a.reqBytes {
		a.reqBytes = cur
	}

	return id
}

func prepend(s []int64, v int64) []int64 {
	s = append(s, 0)
	copy(s[1:], s)
	s[0] = v
	return s
}

// Remove frees a single reservation, matching
// MemoryManager::remove_reservation.
func (a *Arena) Remove(id int64) {
	if id >= 0 {
		a.leftIDs, a.leftOffsets = removeID(a.leftIDs, a.leftOffsets, id)
	} else {
		a.rightIDs, a.rightOffsets = removeID(a.rightIDs, a.rightOffsets, id)
	}
}

func removeID(ids, offsets []int64, id int64) ([]int64, []int64) {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...), append(offsets[:i], offsets[i+1:]...)
		}
	}
	return ids, offsets
}

// HighWater returns the peak (left_front − right_front) observed across
// every Reserve call, i.e. the number of bytes the backing buffer needs.
func (a *Arena) HighWater() int64 { return a.reqBytes }

// AllocAll allocates the backing buffer once, sized to the high-water
// mark plus page alignment slack, and computes the page-aligned base.
// A no-op if nothing was ever reserved.
func (a *Arena) AllocAll() {
	if a.reqBytes <= 0 {
		return
	}
	a.buf = make([]byte, a.reqBytes+PageBytes)
	base := uintptr(unsafe.Pointer(&a.buf[0]))
	if align := base % PageBytes; align != 0 {
		a.alignOffset = int64(PageBytes - align)
	}
}

// Ptr resolves a reservation id to its aligned address within the
// backing buffer. Left ids (id > 0) are measured from the base; right
// ids (id < 0) are measured from base+reqBytes downward, matching
// MemoryManager::get_mem_ptr.
func (a *Arena) Ptr(id int64) unsafe.Pointer {
	var offset int64
	if id >= 0 {
		offset = a.tensorOffset[id-1]
	} else {
		offset = a.reqBytes + a.tensorOffset[-id-1]
	}
	return unsafe.Add(unsafe.Pointer(&a.buf[0]), a.alignOffset+offset)
}
