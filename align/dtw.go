// elsig: a high-performance tool for mapping raw nanopore signals.
// Copyright (c) 2024 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elsig/blob/master/LICENSE.txt>.

// Package align refines chain scores by dynamic time warping of the
// read events against the reference events.
package align

import (
	"math"
	"sync"
)

// A Kernel computes the cost of warping a query event sequence onto a
// reference event sequence. Both ends are aligned. With excludeLast,
// the cost of the final cell is left out so that adjacent segments
// sharing a boundary cell count it once. Costs are non-negative.
// A Kernel must be safe for concurrent use.
type Kernel interface {
	Global(q, r []float32, excludeLast bool) float32
	Banded(q, r []float32, radius int, excludeLast bool) float32
}

// AbsDiff is a Kernel with absolute-difference cell costs.
type AbsDiff struct{}

type dtwRows struct {
	prev, cur []float32
}

func (rows *dtwRows) ensureSize(cols int) {
	if cap(rows.prev) < cols {
		rows.prev = make([]float32, cols)
		rows.cur = make([]float32, cols)
	}
	rows.prev, rows.cur = rows.prev[:cols], rows.cur[:cols]
}

var dtwRowsPool = sync.Pool{New: func() interface{} { return &dtwRows{} }}

func getDtwRows(cols int) *dtwRows {
	rows := dtwRowsPool.Get().(*dtwRows)
	rows.ensureSize(cols)
	return rows
}

func putDtwRows(rows *dtwRows) {
	dtwRowsPool.Put(rows)
}

var inf = float32(math.Inf(1))

func absDiff(a, b float32) float32 {
	if a > b {
		return a - b
	}
	return b - a
}

func min3(a, b, c float32) float32 {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// Global implements the Kernel interface with a full cost matrix.
func (AbsDiff) Global(q, r []float32, excludeLast bool) float32 {
	return AbsDiff{}.band(q, r, -1, excludeLast)
}

// Banded implements the Kernel interface, restricting the warping
// path to a band of the given radius around the straight line from
// the first to the last cell.
func (AbsDiff) Banded(q, r []float32, radius int, excludeLast bool) float32 {
	if radius < 1 {
		radius = 1
	}
	return AbsDiff{}.band(q, r, radius, excludeLast)
}

// band fills the cost matrix row by row. A negative radius selects
// the full matrix.
func (AbsDiff) band(q, r []float32, radius int, excludeLast bool) float32 {
	n, m := len(q), len(r)
	if n == 0 || m == 0 {
		return 0
	}
	rows := getDtwRows(m)
	defer putDtwRows(rows)
	prev, cur := rows.prev, rows.cur
	prevLo, prevHi := 0, -1
	for i := 0; i < n; i++ {
		lo, hi := 0, m-1
		if radius >= 0 {
			center := 0
			if n > 1 {
				center = int(int64(i) * int64(m-1) / int64(n-1))
			}
			if lo = center - radius; lo < 0 {
				lo = 0
			}
			if hi = center + radius; hi > m-1 {
				hi = m - 1
			}
			// keep consecutive bands connected
			if i > 0 && lo > prevHi {
				lo = prevHi
			}
			if i == n-1 {
				hi = m - 1
			}
		}
		for j := lo; j <= hi; j++ {
			best := inf
			switch {
			case i == 0 && j == 0:
				best = 0
			case i == 0:
				best = cur[j-1]
			default:
				up, diag, left := inf, inf, inf
				if j >= prevLo && j <= prevHi {
					up = prev[j]
				}
				if j > 0 && j-1 >= prevLo && j-1 <= prevHi {
					diag = prev[j-1]
				}
				if j > lo {
					left = cur[j-1]
				}
				best = min3(up, diag, left)
			}
			cur[j] = best + absDiff(q[i], r[j])
		}
		prev, cur = cur, prev
		prevLo, prevHi = lo, hi
	}
	cost := prev[m-1]
	if excludeLast {
		cost -= absDiff(q[n-1], r[m-1])
	}
	if cost < 0 {
		cost = 0
	}
	return cost
}
