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

package align

import (
	"fmt"

	"github.com/exascience/elsig/chain"
	"github.com/exascience/elsig/seeds"
)

// Border selects which part of a chain is aligned.
type Border int

const (
	// BorderGlobal aligns the whole span of the chain at once.
	BorderGlobal Border = iota
	// BorderSparse aligns the stretch between each pair of
	// consecutive anchors separately.
	BorderSparse
)

// Fill selects how much of the cost matrix is computed.
type Fill int

const (
	FillFull Fill = iota
	FillBanded
)

// ParseBorder parses a border constraint name.
func ParseBorder(s string) (Border, error) {
	switch s {
	case "global":
		return BorderGlobal, nil
	case "sparse":
		return BorderSparse, nil
	}
	return 0, fmt.Errorf("unknown border constraint %v", s)
}

// ParseFill parses a fill method name.
func ParseFill(s string) (Fill, error) {
	switch s {
	case "full":
		return FillFull, nil
	case "banded":
		return FillBanded, nil
	}
	return 0, fmt.Errorf("unknown fill method %v", s)
}

// Abandoned is the score of a chain whose alignment was abandoned
// because it could no longer reach the required score.
const Abandoned = -1e10

// A Verifier scores chains by aligning read events to reference
// events. The score is the number of aligned read events times the
// match bonus, minus the alignment cost.
type Verifier struct {
	Kernel         Kernel
	Border         Border
	Fill           Fill
	BandRadiusFrac float32
	MatchBonus     float32
}

func (v *Verifier) cost(q, r []float32, excludeLast bool) float32 {
	if v.Fill == FillFull {
		return v.Kernel.Global(q, r, excludeLast)
	}
	radius := int(float32(len(q)) * v.BandRadiusFrac)
	if radius < 1 {
		radius = 1
	}
	return v.Kernel.Banded(q, r, radius, excludeLast)
}

func clamp(lo, hi, n int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

// Verify returns the alignment score of the chain formed by anchors,
// or Abandoned as soon as the score can no longer reach minScore.
// readEvents holds all events of the read seen so far; refEvents the
// events of the reference strand the chain lies on.
func (v *Verifier) Verify(anchors []seeds.Packed, readEvents, refEvents []float32, minScore float32) float32 {
	if len(anchors) == 0 {
		return Abandoned
	}
	first, last := anchors[0], anchors[len(anchors)-1]
	if v.Border == BorderGlobal || len(anchors) < 2 {
		qs, qe := clamp(int(first.QPos()+1-first.QSpan()), int(last.QPos()+2), len(readEvents))
		rs, re := clamp(int(first.RefPos()+1-first.QSpan()), int(last.RefPos()+2), len(refEvents))
		aligned := float32(qe-qs) * v.MatchBonus
		if aligned < minScore || qe == qs || re == rs {
			return Abandoned
		}
		return aligned - v.cost(readEvents[qs:qe], refEvents[rs:re], false)
	}
	// Consecutive segments share their boundary anchor, so it counts
	// once per segment.
	var total float32
	for k := 0; k+1 < len(anchors); k++ {
		qs, qe := clamp(int(anchors[k].QPos()), int(anchors[k+1].QPos()+1), len(readEvents))
		total += float32(qe-qs) * v.MatchBonus
	}
	current := total
	var cost float32
	for k := 0; k+1 < len(anchors); k++ {
		if current < minScore {
			return Abandoned
		}
		a, b := anchors[k], anchors[k+1]
		qs, qe := clamp(int(a.QPos()), int(b.QPos()+1), len(readEvents))
		rs, re := clamp(int(a.RefPos()), int(b.RefPos()+1), len(refEvents))
		if qe == qs || re == rs {
			current -= float32(qe-qs) * v.MatchBonus
			total -= float32(qe-qs) * v.MatchBonus
			continue
		}
		c := v.cost(readEvents[qs:qe], refEvents[rs:re], k+2 < len(anchors))
		cost += c
		current -= c
	}
	return total - cost
}

// VerifyRegion is Verify for the anchors of a region, choosing the
// reference strand from the region.
func (v *Verifier) VerifyRegion(r *chain.Region, res chain.Result, readEvents []float32, forward, reverse []float32, minScore float32) float32 {
	refEvents := forward
	if r.Rev {
		refEvents = reverse
	}
	return v.Verify(r.Anchors(res), readEvents, refEvents, minScore)
}
