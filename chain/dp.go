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

package chain

import (
	"math"

	"github.com/exascience/elsig/seeds"
)

// score returns the score of appending ai to a chain ending in aj, or
// false when ai cannot follow aj.
func (c *Chainer) score(ai, aj seeds.Packed, maxDistX, maxDistY, bw int32) (int32, bool) {
	dq := ai.QPos() - aj.QPos()
	if dq <= 0 || dq > maxDistX {
		return 0, false
	}
	dr := int32(ai.X - aj.X)
	if dr == 0 || dq > maxDistY {
		return 0, false
	}
	dd := absInt32(dr - dq)
	if dd > bw {
		return 0, false
	}
	dg := minInt32(dr, dq)
	qSpan := aj.QSpan()
	sc := minInt32(qSpan, dg)
	if dd != 0 || dg > qSpan {
		sc -= c.penalty(dd, dg)
	}
	return sc, true
}

// ChainDP chains anchors sorted by the total anchor order with
// dynamic programming over a bounded window of predecessors.
func (c *Chainer) ChainDP(anchors []seeds.Packed) Result {
	n := len(anchors)
	if n == 0 {
		return Result{}
	}
	bw := c.Bandwidth
	maxDistX := maxInt32(c.MaxGapRef, bw)
	maxDistY := maxInt32(c.MaxGapQuery, bw)
	c.reset(n)
	f, p, t := c.f, c.p, c.t
	st, maxII := 0, -1
	for i, ai := range anchors {
		maxJ, maxF, nSkip := -1, ai.QSpan(), 0
		for st < i && (ai.Target() != anchors[st].Target() || ai.X > anchors[st].X+uint64(maxDistX)) {
			st++
		}
		if i-st > c.MaxIter {
			st = i - c.MaxIter
		}
		j := i - 1
		for ; j >= st; j-- {
			sc, ok := c.score(ai, anchors[j], maxDistX, maxDistY, bw)
			if !ok {
				continue
			}
			sc += f[j]
			if sc > maxF {
				maxF, maxJ = sc, j
				if nSkip > 0 {
					nSkip--
				}
			} else if t[j] == int32(i) {
				if nSkip++; nSkip > c.MaxSkip {
					break
				}
			}
			if p[j] >= 0 {
				t[p[j]] = int32(i)
			}
		}
		endJ := j
		if maxII < 0 || ai.X-anchors[maxII].X > uint64(maxDistX) {
			max := int32(math.MinInt32)
			maxII = -1
			for j := i - 1; j >= st; j-- {
				if max < f[j] {
					max, maxII = f[j], j
				}
			}
		}
		if maxII >= 0 && maxII < endJ {
			if sc, ok := c.score(ai, anchors[maxII], maxDistX, maxDistY, bw); ok && maxF < sc+f[maxII] {
				maxF, maxJ = sc+f[maxII], maxII
			}
		}
		f[i], p[i] = maxF, int32(maxJ)
		if maxII < 0 || (ai.X-anchors[maxII].X <= uint64(maxDistX) && f[maxII] < f[i]) {
			maxII = i
		}
	}
	return c.backtrack(anchors, bw)
}
