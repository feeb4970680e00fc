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

// Package sketch turns event sequences into compact seed values.
package sketch

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash"
)

// A Minimizer is a hashed seed selected from an event sequence. Pos is
// the index of the last event covered by the seed, and Span the number
// of events it covers.
type Minimizer struct {
	Hash uint64
	Pos  uint32
	Span uint8
	Rev  bool
}

// A Sketcher extracts seeds from normalized events. Implementations
// append to dst and return the extended slice. A Sketcher must be safe
// for concurrent use.
type Sketcher interface {
	Sketch(events []float32, dst []Minimizer) []Minimizer
}

// Quantizer sketches events by quantizing them into discrete levels,
// packing consecutive levels into a seed, and keeping window
// minimizers of the seed hashes.
type Quantizer struct {
	events int
	window int
	bits   uint
	lo, hi float32
}

// NewQuantizer returns a Quantizer that packs e events of q bits each
// and selects minimizers over windows of w seeds. Quantization covers
// the normalized range [-3, 3].
func NewQuantizer(e, q, w int) (*Quantizer, error) {
	switch {
	case e <= 0 || e > 255:
		return nil, fmt.Errorf("invalid number of events per seed %v", e)
	case q <= 0 || q > 16 || e*q > 64:
		return nil, fmt.Errorf("invalid quantization %v bits for %v events", q, e)
	case w <= 0:
		return nil, fmt.Errorf("invalid window size %v", w)
	}
	return &Quantizer{events: e, window: w, bits: uint(q), lo: -3, hi: 3}, nil
}

// Span returns the number of events covered by one seed.
func (s *Quantizer) Span() int {
	return s.events
}

func (s *Quantizer) level(v float32) uint64 {
	levels := uint64(1) << s.bits
	if v <= s.lo {
		return 0
	}
	if v >= s.hi {
		return levels - 1
	}
	l := uint64((v - s.lo) / (s.hi - s.lo) * float32(levels))
	if l >= levels {
		l = levels - 1
	}
	return l
}

func hash64(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return xxhash.Sum64(buf[:])
}

// Sketch implements the Sketcher interface.
func (s *Quantizer) Sketch(events []float32, dst []Minimizer) []Minimizer {
	n := len(events) - s.events + 1
	if n <= 0 {
		return dst
	}
	mask := uint64(1)<<(s.bits*uint(s.events)) - 1
	if s.bits*uint(s.events) == 64 {
		mask = ^uint64(0)
	}
	var key uint64
	for i := 0; i < s.events-1; i++ {
		key = key<<s.bits | s.level(events[i])
	}
	hashes := make([]uint64, n)
	for i := s.events - 1; i < len(events); i++ {
		key = (key<<s.bits | s.level(events[i])) & mask
		hashes[i-s.events+1] = hash64(key)
	}
	// monotone queue of candidate positions, minimum at the front
	queue := make([]int, 0, s.window)
	last := -1
	for i, h := range hashes {
		for len(queue) > 0 && hashes[queue[len(queue)-1]] > h {
			queue = queue[:len(queue)-1]
		}
		queue = append(queue, i)
		if queue[0] <= i-s.window {
			queue = queue[1:]
		}
		if i < s.window-1 && i != n-1 {
			continue
		}
		if m := queue[0]; m != last {
			last = m
			dst = append(dst, Minimizer{
				Hash: hashes[m],
				Pos:  uint32(m + s.events - 1),
				Span: uint8(s.events),
			})
		}
	}
	return dst
}
