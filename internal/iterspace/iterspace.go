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

// Package iterspace partitions the parallel prefix of a compiled loop
// nest across a fixed number of tasks, per spec.md §4.6. Grounded on
// einsum_ir's ContractionLoops.h, which hand-specializes the collapse of
// 1 through 4 outermost loops into contract_iter_parallel_{1,2,3,4}; this
// package generalizes that into a single flat-index decomposition that
// works for any collapsed prefix depth, since Go's lack of OpenMP
// collapse() means the engine drives every task by hand regardless.
package iterspace

import "github.com/breuera/einsum-ir/internal/types"

// Task is one worker's contiguous share of the flattened parallel
// prefix's combined iteration space.
type Task struct {
	Start, End int64
}

// OmpPrefix returns the sizes of the contiguous run of Exec == types.Omp
// loops at the front of loops, and their product (the combined iteration
// count the parallel prefix spans).
func OmpPrefix(loops []types.Loop) (sizes []int64, total int64) {
	total = 1
	for _, l := range loops {
		if l.Exec != types.Omp {
			break
		}
		sizes = append(sizes, l.Size)
		total *= l.Size
	}
	if len(sizes) == 0 {
		total = 1
	}
	return sizes, total
}

// Partition splits total combined iterations into tasks contiguous
// ranges. If tasks exceeds total, only total tasks are realized — spec.md
// §4.6's "if Π < T, the actual task count is Π". The first (total mod
// tasks) ranges get one extra unit so every unit is covered exactly once.
func Partition(total int64, tasks int) []Task {
	if total < 1 {
		total = 1
	}
	if tasks < 1 {
		tasks = 1
	}
	if int64(tasks) > total {
		tasks = int(total)
	}

	chunk := total / int64(tasks)
	rem := total % int64(tasks)

	out := make([]Task, tasks)
	var cur int64
	for t := 0; t < tasks; t++ {
		size := chunk
		if int64(t) < rem {
			size++
		}
		out[t] = Task{Start: cur, End: cur + size}
		cur += size
	}
	return out
}

// Coord decodes a flat index over the combined space described by sizes
// (outer to inner, row-major) into one index per loop.
func Coord(flat int64, sizes []int64) []int64 {
	coords := make([]int64, len(sizes))
	for i := len(sizes) - 1; i >= 0; i-- {
		if sizes[i] <= 0 {
			continue
		}
		coords[i] = flat % sizes[i]
		flat /= sizes[i]
	}
	return coords
}
