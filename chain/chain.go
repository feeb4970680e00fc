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

// Package chain groups anchors into chains and resolves the chains of
// one read into primary and secondary mappings.
package chain

import (
	"math"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/exascience/elsig/seeds"
)

// Params configures the chaining algorithms.
type Params struct {
	// MaxGapRef and MaxGapQuery bound the distance between two
	// consecutive anchors of a chain on the reference and the query.
	MaxGapRef, MaxGapQuery int32

	Bandwidth     int32
	BandwidthLong int32

	MaxSkip int
	MaxIter int

	// RMQ selects range-maximum-query chaining instead of dynamic
	// programming.
	RMQ          bool
	RMQInnerDist int32
	RMQSizeCap   int

	MinCount int32
	MinScore int32

	GapPenalty  float32
	SkipPenalty float32
}

// Penalties derives the linear gap and skip penalties from their
// scales and the number of events covered by a seed.
func Penalties(gapScale, skipScale float32, seedSpan int) (gap, skip float32) {
	return gapScale * 0.01 * float32(seedSpan), skipScale * 0.01 * float32(seedSpan)
}

// MaxGap is the larger of the two gap bounds, used as the query
// distance of RMQ chaining.
func (par *Params) MaxGap() int32 {
	if par.MaxGapRef > par.MaxGapQuery {
		return par.MaxGapRef
	}
	return par.MaxGapQuery
}

// A Chain is a scored group of anchors.
type Chain struct {
	Score int32
	Count int32
}

// A Result holds the chains found for one anchor array. The anchors of
// chain i are consecutive in Anchors, sorted by reference position,
// and chains appear in order of their first anchor. Owner maps each
// anchor to its chain.
type Result struct {
	Anchors []seeds.Packed
	Chains  []Chain
	Owner   []int32
}

// Start returns the index of the first anchor of each chain.
func (res Result) Start(dst []int32) []int32 {
	dst = dst[:0]
	var k int32
	for _, ch := range res.Chains {
		dst = append(dst, k)
		k += ch.Count
	}
	return dst
}

type scoreIndex struct {
	f, i int32
}

// A Chainer runs the chaining algorithms. It keeps scratch space
// between calls and must not be shared between goroutines. A Result
// remains valid until the next call on the same Chainer.
type Chainer struct {
	Params

	f, p, t []int32
	z       []scoreIndex
	members []int32
	chains  []Chain
	starts  []int32
	order   []int32

	rank  []int32
	ys    []int32
	tree  segTree
	inner *bitset.BitSet

	in, out []seeds.Packed
	owner   []int32
	result  []Chain
}

// NewChainer returns a Chainer for the given parameters.
func NewChainer(par Params) *Chainer {
	return &Chainer{Params: par, inner: bitset.New(0)}
}

func (c *Chainer) reset(n int) {
	if cap(c.f) < n {
		c.f = make([]int32, n)
		c.p = make([]int32, n)
		c.t = make([]int32, n)
	}
	c.f, c.p, c.t = c.f[:n], c.p[:n], c.t[:n]
	for i := range c.t {
		c.t[i] = 0
	}
}

func log2(x int32) float32 {
	return float32(math.Log2(float64(x)))
}

func absInt32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}

func minInt32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func maxInt32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func (c *Chainer) penalty(dd, dg int32) int32 {
	lin := c.GapPenalty*float32(dd) + c.SkipPenalty*float32(dg)
	var logPen float32
	if dd >= 1 {
		logPen = log2(dd + 1)
	}
	return int32(lin + 0.5*logPen)
}

// Chain chains the anchors, which must be sorted by the total anchor
// order, with the configured algorithm. When the long bandwidth
// exceeds the bandwidth and more than one chain was found, the chains
// are re-chained by RMQ with the long bandwidth.
func (c *Chainer) Chain(anchors []seeds.Packed) Result {
	var res Result
	if c.RMQ {
		res = c.ChainRMQ(anchors, c.Bandwidth)
	} else {
		res = c.ChainDP(anchors)
	}
	if c.BandwidthLong > c.Bandwidth && len(res.Chains) > 1 {
		c.in = append(c.in[:0], res.Anchors...)
		seeds.Sort(c.in)
		res = c.ChainRMQ(c.in, c.BandwidthLong)
	}
	return res
}

// backtrackEnd follows the predecessors of the chain ending at top
// and returns the anchor before the highest-scoring suffix. It stops
// early when the score drops by more than maxDrop from its maximum.
func (c *Chainer) backtrackEnd(maxDrop int32, top scoreIndex) int32 {
	f, p, t := c.f, c.p, c.t
	i, end, maxI := top.i, int32(-1), top.i
	var maxS int32
	if i < 0 || t[i] != 0 {
		return i
	}
	for {
		t[i] = 2
		i = p[i]
		end = i
		s := top.f
		if i >= 0 {
			s -= f[i]
		}
		if s > maxS {
			maxS, maxI = s, i
		} else if maxS-s > maxDrop {
			break
		}
		if i < 0 || t[i] != 0 {
			break
		}
	}
	for i = top.i; i >= 0 && i != end; i = p[i] {
		t[i] = 0
	}
	return maxI
}

// backtrack extracts chains from the score and predecessor arrays,
// best-scoring end first, and compacts their anchors.
func (c *Chainer) backtrack(anchors []seeds.Packed, maxDrop int32) Result {
	f, p, t := c.f, c.p, c.t
	c.z = c.z[:0]
	for i, score := range f {
		if score >= c.MinScore {
			c.z = append(c.z, scoreIndex{score, int32(i)})
		}
	}
	if len(c.z) == 0 {
		return Result{}
	}
	z := c.z
	sort.Slice(z, func(i, j int) bool {
		if z[i].f != z[j].f {
			return z[i].f < z[j].f
		}
		return z[i].i < z[j].i
	})
	for i := range t {
		t[i] = 0
	}
	c.members, c.chains, c.starts = c.members[:0], c.chains[:0], c.starts[:0]
	for k := len(z) - 1; k >= 0; k-- {
		if t[z[k].i] != 0 {
			continue
		}
		n0 := len(c.members)
		end := c.backtrackEnd(maxDrop, z[k])
		i := z[k].i
		for ; i != end; i = p[i] {
			c.members = append(c.members, i)
			t[i] = 1
		}
		score := z[k].f
		if i >= 0 {
			score -= f[i]
		}
		count := int32(len(c.members) - n0)
		if score >= c.MinScore && count > 0 && count >= c.MinCount {
			c.chains = append(c.chains, Chain{score, count})
			c.starts = append(c.starts, int32(n0))
		} else {
			c.members = c.members[:n0]
		}
	}
	return c.compact(anchors)
}

// compact copies the chain members into a fresh array, each chain in
// ascending order, with chains sorted by their first anchor.
func (c *Chainer) compact(anchors []seeds.Packed) Result {
	first := func(ch int32) seeds.Packed {
		// members are recorded from the chain end backwards
		return anchors[c.members[c.starts[ch]+c.chains[ch].Count-1]]
	}
	c.order = c.order[:0]
	for ch := range c.chains {
		c.order = append(c.order, int32(ch))
	}
	order := c.order
	sort.Slice(order, func(i, j int) bool {
		xi, xj := first(order[i]).X, first(order[j]).X
		if xi != xj {
			return xi < xj
		}
		return c.starts[order[i]] < c.starts[order[j]]
	})
	c.out, c.owner, c.result = c.out[:0], c.owner[:0], c.result[:0]
	for k, ch := range order {
		chain := c.chains[ch]
		start := c.starts[ch]
		for j := chain.Count - 1; j >= 0; j-- {
			c.out = append(c.out, anchors[c.members[start+j]])
			c.owner = append(c.owner, int32(k))
		}
		c.result = append(c.result, chain)
	}
	return Result{Anchors: c.out, Chains: c.result, Owner: c.owner}
}
