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

package seeds

import (
	"sort"

	"github.com/exascience/elsig/index"
	"github.com/exascience/elsig/intervals"
	"github.com/exascience/elsig/sketch"
)

// Occurrence bounds the number of reference occurrences a seed may
// have before it is considered repetitive.
type Occurrence struct {
	// MaxOcc is the occurrence count above which seeds are dropped.
	MaxOcc int
	// MaxMaxOcc is the occurrence count up to which a dropped seed is
	// rescued when no kept seed lies within Dist query positions.
	MaxMaxOcc int
	Dist      int
}

// A Collector turns seeds into anchors. It keeps scratch space
// between calls and must not be shared between goroutines.
type Collector struct {
	Occurrence
	kept    []bool
	keptPos []int32
	rep     []intervals.Interval
}

// NewCollector returns a Collector with the given occurrence bounds.
func NewCollector(occ Occurrence) *Collector {
	return &Collector{Occurrence: occ}
}

func (c *Collector) selectSeeds(mins []sketch.Minimizer, idx index.Index) {
	if cap(c.kept) < len(mins) {
		c.kept = make([]bool, len(mins))
	}
	c.kept = c.kept[:len(mins)]
	c.keptPos = c.keptPos[:0]
	c.rep = c.rep[:0]
	for i, min := range mins {
		n := len(idx.Lookup(min.Hash))
		c.kept[i] = n > 0 && n <= c.MaxOcc
		if c.kept[i] {
			c.keptPos = append(c.keptPos, int32(min.Pos))
		}
	}
	sort.Slice(c.keptPos, func(i, j int) bool { return c.keptPos[i] < c.keptPos[j] })
	low := len(c.keptPos)
	for i, min := range mins {
		n := len(idx.Lookup(min.Hash))
		if n <= c.MaxOcc {
			continue
		}
		pos := int32(min.Pos)
		if n <= c.MaxMaxOcc && !c.near(pos, low) {
			c.kept[i] = true
			c.keptPos = append(c.keptPos, pos)
			continue
		}
		c.rep = append(c.rep, intervals.Interval{Start: pos + 1 - int32(min.Span), End: pos + 1})
	}
}

// near reports whether a kept seed lies within Dist of pos. The first
// low entries of keptPos are sorted; rescued positions follow.
func (c *Collector) near(pos int32, low int) bool {
	dist := int32(c.Dist)
	sorted := c.keptPos[:low]
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= pos })
	if i < len(sorted) && sorted[i]-pos <= dist {
		return true
	}
	if i > 0 && pos-sorted[i-1] <= dist {
		return true
	}
	for _, p := range c.keptPos[low:] {
		if d := p - pos; d <= dist && d >= -dist {
			return true
		}
	}
	return false
}

// Collect looks up each seed in the index and returns the anchors of
// the kept seeds, merged with the carried anchors and sorted by the
// total anchor order. Query positions are shifted by offset, the
// number of events of the read processed before this chunk. Matches
// against a reference named qname are skipped. Collect also returns
// the number of seed occurrences considered and the number of query
// positions covered by dropped repetitive seeds.
func (c *Collector) Collect(dst []Packed, mins []sketch.Minimizer, qname string, offset uint32, idx index.Index, carried []Packed) (anchors []Packed, nSeeds, repLen int) {
	anchors = dst[:0]
	c.selectSeeds(mins, idx)
	for i, min := range mins {
		if !c.kept[i] {
			continue
		}
		matches := idx.Lookup(min.Hash)
		nSeeds += len(matches)
		for _, match := range matches {
			if idx.Ref(match.RefID).Name == qname {
				continue
			}
			anchors = append(anchors, Pack(Anchor{
				Rev:    match.Rev,
				RefID:  match.RefID,
				RefPos: match.Pos,
				QSpan:  min.Span,
				QPos:   min.Pos + offset,
				Tandem: match.Tandem,
				Self:   match.Self,
			}))
		}
	}
	anchors = append(anchors, carried...)
	Sort(anchors)
	return anchors, nSeeds, intervals.Covered(c.rep)
}
