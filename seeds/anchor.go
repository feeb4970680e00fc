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

// Package seeds collects the anchors that link positions in a read to
// positions in the reference.
package seeds

import (
	"sort"

	psort "github.com/exascience/pargo/sort"
)

const (
	posMask    = 1<<32 - 1
	refIDMask  = 1<<31 - 1
	qSpanMask  = 0xff
	revBit     = 1 << 63
	selfBit    = 1 << 43
	tandemBit  = 1 << 42
	qSpanShift = 32
	segIDShift = 48
)

// An Anchor is a matched pair of a reference location and a query
// location.
type Anchor struct {
	Rev    bool
	RefID  uint32
	RefPos uint32
	SegID  uint16
	QSpan  uint8
	QPos   uint32
	Tandem bool
	Self   bool
}

// Encode packs the anchor into two words:
//
//	x = rev<<63 | refID<<32 | refPos
//	y = segID<<48 | self<<43 | tandem<<42 | qSpan<<32 | qPos
func (a Anchor) Encode() (x, y uint64) {
	x = uint64(a.RefID&refIDMask)<<32 | uint64(a.RefPos)
	if a.Rev {
		x |= revBit
	}
	y = uint64(a.SegID)<<segIDShift | uint64(a.QSpan)<<qSpanShift | uint64(a.QPos)
	if a.Self {
		y |= selfBit
	}
	if a.Tandem {
		y |= tandemBit
	}
	return x, y
}

// DecodeAnchor is the inverse of Anchor.Encode.
func DecodeAnchor(x, y uint64) Anchor {
	return Anchor{
		Rev:    x&revBit != 0,
		RefID:  uint32(x>>32) & refIDMask,
		RefPos: uint32(x & posMask),
		SegID:  uint16(y >> segIDShift),
		QSpan:  uint8(y >> qSpanShift & qSpanMask),
		QPos:   uint32(y & posMask),
		Tandem: y&tandemBit != 0,
		Self:   y&selfBit != 0,
	}
}

// A Packed anchor is the encoded form used by the chaining
// algorithms. Packed anchors are totally ordered by (X, Y).
type Packed struct {
	X, Y uint64
}

// Pack encodes an anchor.
func Pack(a Anchor) Packed {
	x, y := a.Encode()
	return Packed{x, y}
}

// Anchor decodes a packed anchor.
func (p Packed) Anchor() Anchor {
	return DecodeAnchor(p.X, p.Y)
}

// Rev reports whether the anchor is on the reverse strand.
func (p Packed) Rev() bool { return p.X&revBit != 0 }

// RefID returns the reference id.
func (p Packed) RefID() uint32 { return uint32(p.X>>32) & refIDMask }

// Target returns the strand and reference id as one comparable value.
func (p Packed) Target() uint64 { return p.X >> 32 }

// RefPos returns the reference position of the last event of the seed.
func (p Packed) RefPos() int32 { return int32(p.X & posMask) }

// QPos returns the query position of the last event of the seed.
func (p Packed) QPos() int32 { return int32(p.Y & posMask) }

// QSpan returns the number of events covered by the seed.
func (p Packed) QSpan() int32 { return int32(p.Y >> qSpanShift & qSpanMask) }

// Tandem reports whether the seed is a tandem repeat in the reference.
func (p Packed) Tandem() bool { return p.Y&tandemBit != 0 }

// Less is the total anchor order.
func Less(a, b Packed) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Y < b.Y
}

type anchorSorter []Packed

func (s anchorSorter) SequentialSort(i, j int) {
	slice := s[i:j]
	sort.Slice(slice, func(i, j int) bool {
		return Less(slice[i], slice[j])
	})
}

func (s anchorSorter) NewTemp() psort.StableSorter {
	return anchorSorter(make([]Packed, len(s)))
}

func (s anchorSorter) Len() int {
	return len(s)
}

func (s anchorSorter) Less(i, j int) bool {
	return Less(s[i], s[j])
}

func (s anchorSorter) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s, source.(anchorSorter)
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

const parallelSortGrainSize = 0x4000

// Sort orders anchors by the total anchor order. Equal anchors are
// identical, so the sequential fallback need not be stable.
func Sort(anchors []Packed) {
	if len(anchors) < parallelSortGrainSize {
		anchorSorter(anchors).SequentialSort(0, len(anchors))
		return
	}
	psort.StableSort(anchorSorter(anchors))
}
