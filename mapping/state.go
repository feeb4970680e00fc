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

package mapping

import (
	"fmt"

	"github.com/exascience/elsig/chain"
	"github.com/exascience/elsig/seeds"
)

// Phase is the mapping state of a read.
type Phase int

const (
	// Mapping means more chunks of the read may be mapped.
	Mapping Phase = iota
	// Accepted means a chunk produced a confident mapping.
	Accepted
	// Exhausted means the chunks ran out without a confident mapping.
	Exhausted
)

func (p Phase) String() string {
	switch p {
	case Mapping:
		return "mapping"
	case Accepted:
		return "accepted"
	case Exhausted:
		return "exhausted"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// ReadState is the state that is carried from one chunk of a read to
// the next.
type ReadState struct {
	Phase Phase

	// Offset is the number of events of the read mapped so far. The
	// query positions of all anchors are relative to the first event
	// of the read.
	Offset uint32

	// Chunks is the number of chunks consumed.
	Chunks int

	// Regions are the chains of the last chunk, best first.
	Regions []chain.Region

	carry    []seeds.Packed
	events   []float32
	result   chain.Result
	repLen   int
	accepted []int
}

func (st *ReadState) reset() {
	st.Phase = Mapping
	st.Offset = 0
	st.Chunks = 0
	st.Regions = st.Regions[:0]
	st.carry = st.carry[:0]
	st.events = st.events[:0]
	st.result = chain.Result{}
	st.repLen = 0
	st.accepted = st.accepted[:0]
}

// Carried returns the anchors carried over to the next chunk.
func (st *ReadState) Carried() []seeds.Packed {
	return st.carry
}

// Events returns the events of all mapped chunks. It is only
// maintained when chains are verified.
func (st *ReadState) Events() []float32 {
	return st.events
}

// AcceptedRegions returns the indices in Regions of the accepted chains.
func (st *ReadState) AcceptedRegions() []int {
	return st.accepted
}
