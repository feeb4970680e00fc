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

// Package index provides the reference index consulted by the
// mapper: sketch lookups, reference metadata, and the reference event
// traces used for alignment verification.
package index

import (
	"sort"

	"github.com/exascience/elsig/sketch"
)

// A Match is one occurrence of a sketch value in the reference.
// Tandem marks a seed repeated at an adjacent position; Self marks an
// occurrence in a reference that is itself a query of the run.
type Match struct {
	RefID  uint32
	Pos    uint32
	Rev    bool
	Tandem bool
	Self   bool
}

// A Reference describes one indexed target.
type Reference struct {
	Name   string
	Length uint32

	// Forward and Reverse hold the expected event values of the
	// reference on either strand. They may be nil when alignment
	// verification is not used.
	Forward, Reverse []float32
}

// Index is the read-only interface of a reference index. An Index is
// shared between all mapping workers, so implementations must be safe
// for concurrent lookups.
type Index interface {
	// Lookup returns all occurrences of a sketch value. The result
	// must not be modified.
	Lookup(hash uint64) []Match

	// NumRefs returns the number of references.
	NumRefs() int

	// Ref returns the reference with the given id.
	Ref(id uint32) *Reference

	// SeedSpan is the number of events covered by a seed, used to
	// scale chaining penalties.
	SeedSpan() int

	// SignalTarget reports whether the references are themselves
	// signals, in which case coordinates are not rescaled on output.
	SignalTarget() bool
}

// Memory is an in-memory Index.
type Memory struct {
	table        map[uint64][]Match
	refs         []*Reference
	seedSpan     int
	signalTarget bool
}

// NewMemory creates an empty in-memory index.
func NewMemory(seedSpan int, signalTarget bool) *Memory {
	return &Memory{
		table:        make(map[uint64][]Match),
		seedSpan:     seedSpan,
		signalTarget: signalTarget,
	}
}

// AddReference registers a reference and returns its id.
func (m *Memory) AddReference(ref *Reference) uint32 {
	m.refs = append(m.refs, ref)
	return uint32(len(m.refs) - 1)
}

// Add records an occurrence of a sketch value.
func (m *Memory) Add(hash uint64, match Match) {
	m.table[hash] = append(m.table[hash], match)
}

// AddSketch records the seeds of one strand of a reference. Seeds
// whose hash equals that of an adjacent seed are flagged as tandem.
func (m *Memory) AddSketch(refID uint32, rev bool, mins []sketch.Minimizer) {
	for i, min := range mins {
		tandem := (i > 0 && mins[i-1].Hash == min.Hash) ||
			(i+1 < len(mins) && mins[i+1].Hash == min.Hash)
		m.Add(min.Hash, Match{RefID: refID, Pos: min.Pos, Rev: rev, Tandem: tandem})
	}
}

// Lookup implements the Index interface.
func (m *Memory) Lookup(hash uint64) []Match {
	return m.table[hash]
}

// NumRefs implements the Index interface.
func (m *Memory) NumRefs() int {
	return len(m.refs)
}

// Ref implements the Index interface.
func (m *Memory) Ref(id uint32) *Reference {
	return m.refs[id]
}

// SeedSpan implements the Index interface.
func (m *Memory) SeedSpan() int {
	return m.seedSpan
}

// SignalTarget implements the Index interface.
func (m *Memory) SignalTarget() bool {
	return m.signalTarget
}

// NumValues returns the number of distinct sketch values.
func (m *Memory) NumValues() int {
	return len(m.table)
}

// MaxOcc returns the occurrence count above which the given fraction
// of the most frequent sketch values lie. Seeds occurring more often
// than this are considered repetitive.
func (m *Memory) MaxOcc(frac float64) int {
	if frac <= 0 || len(m.table) == 0 {
		return int(^uint(0) >> 1)
	}
	counts := make([]int, 0, len(m.table))
	for _, matches := range m.table {
		counts = append(counts, len(matches))
	}
	sort.Ints(counts)
	i := int(float64(len(counts)) * (1 - frac))
	if i >= len(counts) {
		i = len(counts) - 1
	}
	return counts[i] + 1
}

// Sort orders the occurrence lists by reference id, strand and
// position so that lookups are independent of insertion order.
func (m *Memory) Sort() {
	for _, matches := range m.table {
		sort.Slice(matches, func(i, j int) bool {
			a, b := matches[i], matches[j]
			if a.RefID != b.RefID {
				return a.RefID < b.RefID
			}
			if a.Rev != b.Rev {
				return !a.Rev
			}
			return a.Pos < b.Pos
		})
	}
}
