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
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/exascience/elsig/seeds"
)

// segTree answers range-maximum queries over anchors indexed by their
// rank in query order. Empty leaves hold -Inf.
type segTree struct {
	size int
	key  []float64
	arg  []int32
}

func (s *segTree) reset(n int) {
	s.size = 1
	for s.size < n {
		s.size <<= 1
	}
	if cap(s.key) < 2*s.size {
		s.key = make([]float64, 2*s.size)
		s.arg = make([]int32, 2*s.size)
	}
	s.key, s.arg = s.key[:2*s.size], s.arg[:2*s.size]
	for i := range s.key {
		s.key[i] = math.Inf(-1)
		s.arg[i] = -1
	}
}

// better reports whether node a beats node b: larger key, then the
// smaller anchor index.
func (s *segTree) better(a, b int) bool {
	if s.key[a] != s.key[b] {
		return s.key[a] > s.key[b]
	}
	return s.arg[b] < 0 || (s.arg[a] >= 0 && s.arg[a] < s.arg[b])
}

func (s *segTree) set(pos int, key float64, arg int32) {
	i := pos + s.size
	s.key[i], s.arg[i] = key, arg
	for i > 1 {
		i >>= 1
		l, r := 2*i, 2*i+1
		if s.better(r, l) {
			l = r
		}
		s.key[i], s.arg[i] = s.key[l], s.arg[l]
	}
}

func (s *segTree) clear(pos int) {
	s.set(pos, math.Inf(-1), -1)
}

// query returns the anchor with the maximum key among the ranks in
// [lo, hi), or -1.
func (s *segTree) query(lo, hi int) int32 {
	best := 0 // node 0 is unused and always empty
	s.key[0], s.arg[0] = math.Inf(-1), -1
	for lo, hi = lo+s.size, hi+s.size; lo < hi; lo, hi = lo>>1, hi>>1 {
		if lo&1 == 1 {
			if s.better(lo, best) {
				best = lo
			}
			lo++
		}
		if hi&1 == 1 {
			hi--
			if s.better(hi, best) {
				best = hi
			}
		}
	}
	return s.arg[best]
}

// scoreSimple is the gap score used by RMQ chaining. It also returns
// whether the two anchors are exactly collinear and adjacent, and the
// diagonal distance between them.
func (c *Chainer) scoreSimple(ai, aj seeds.Packed) (sc int32, exact bool, width int32) {
	dq := ai.QPos() - aj.QPos()
	dr := int32(ai.X - aj.X)
	dd := absInt32(dr - dq)
	dg := minInt32(dr, dq)
	qSpan := aj.QSpan()
	sc = minInt32(qSpan, dg)
	exact = dd == 0 && dg <= qSpan
	if dd != 0 || dq > qSpan {
		sc -= c.penalty(dd, dg)
	}
	return sc, exact, dd
}

// rankByQuery orders the anchors by query position and records each
// anchor's rank.
func (c *Chainer) rankByQuery(anchors []seeds.Packed) {
	n := len(anchors)
	c.order = c.order[:0]
	for i := 0; i < n; i++ {
		c.order = append(c.order, int32(i))
	}
	order := c.order
	sort.Slice(order, func(i, j int) bool {
		qi, qj := anchors[order[i]].QPos(), anchors[order[j]].QPos()
		if qi != qj {
			return qi < qj
		}
		return order[i] < order[j]
	})
	if cap(c.rank) < n {
		c.rank = make([]int32, n)
		c.ys = make([]int32, n)
	}
	c.rank, c.ys = c.rank[:n], c.ys[:n]
	for r, i := range order {
		c.rank[i] = int32(r)
		c.ys[r] = anchors[i].QPos()
	}
}

// ChainRMQ chains anchors sorted by the total anchor order, finding the
// best predecessor within a query distance by range-maximum queries.
// Predecessors within the inner distance are additionally scanned
// exactly.
func (c *Chainer) ChainRMQ(anchors []seeds.Packed, bw int32) Result {
	n := len(anchors)
	if n == 0 {
		return Result{}
	}
	maxDist := maxInt32(c.MaxGap(), bw)
	innerDist := c.RMQInnerDist
	if innerDist < 0 {
		innerDist = 0
	}
	if innerDist > maxDist {
		innerDist = maxDist
	}
	c.reset(n)
	c.rankByQuery(anchors)
	c.tree.reset(n)
	if c.inner == nil {
		c.inner = bitset.New(uint(n))
	} else {
		c.inner.ClearAll()
	}
	f, p, t := c.f, c.p, c.t
	rank, ys, order := c.rank, c.ys, c.order
	halfGap := 0.5 * float64(c.GapPenalty)

	// anchors in [st, i0) are in the tree, anchors in [stInner, i0)
	// in the inner set
	i0, st, stInner := 0, 0, 0
	for i, ai := range anchors {
		maxJ, maxF := int32(-1), ai.QSpan()
		if i0 < i && anchors[i0].X != ai.X {
			for j := i0; j < i; j++ {
				aj := anchors[j]
				key := float64(f[j]) + halfGap*(float64(aj.RefPos())+float64(aj.QPos()))
				c.tree.set(int(rank[j]), key, int32(j))
				if innerDist > 0 {
					c.inner.Set(uint(rank[j]))
				}
			}
			i0 = i
		}
		for st < i && (ai.Target() != anchors[st].Target() || ai.X > anchors[st].X+uint64(maxDist) || i0-st > c.RMQSizeCap) {
			if st < i0 {
				c.tree.clear(int(rank[st]))
			}
			st++
		}
		if innerDist > 0 {
			for stInner < i && (ai.Target() != anchors[stInner].Target() || ai.X > anchors[stInner].X+uint64(innerDist) || i0-stInner > c.RMQSizeCap) {
				if stInner < i0 {
					c.inner.Clear(uint(rank[stInner]))
				}
				stInner++
			}
		}
		yi := ai.QPos()
		lo := sort.Search(n, func(r int) bool { return ys[r] > yi-maxDist })
		hi := sort.Search(n, func(r int) bool { return ys[r] >= yi })
		if j := c.tree.query(lo, hi); j >= 0 {
			sc, exact, width := c.scoreSimple(ai, anchors[j])
			if sc += f[j]; width <= bw && sc > maxF {
				maxF, maxJ = sc, j
			}
			if !exact && innerDist > 0 && yi > 0 {
				nSkip := 0
				for r := hi - 1; r >= 0 && ys[r] >= yi-innerDist; r-- {
					if !c.inner.Test(uint(r)) {
						continue
					}
					j := order[r]
					sc, _, width := c.scoreSimple(ai, anchors[j])
					if width > bw {
						continue
					}
					if sc += f[j]; sc > maxF {
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
			}
		}
		f[i], p[i] = maxF, maxJ
	}
	return c.backtrack(anchors, bw)
}
