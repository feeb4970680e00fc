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
	"github.com/exascience/elsig/chain"
	"github.com/exascience/elsig/seeds"
	"github.com/exascience/elsig/sketch"
)

// A Buffer is the scratch space of one mapping worker. It is reused
// for many reads and must not be shared between goroutines.
type Buffer struct {
	chainer   *chain.Chainer
	collector *seeds.Collector

	events  []float32
	mins    []sketch.Minimizer
	anchors []seeds.Packed

	state ReadState
}

func newBuffer(par chain.Params, occ seeds.Occurrence) *Buffer {
	return &Buffer{
		chainer:   chain.NewChainer(par),
		collector: seeds.NewCollector(occ),
	}
}

// State returns the state of the read currently mapped with the
// buffer.
func (b *Buffer) State() *ReadState {
	return &b.state
}

// Reset prepares the buffer for the next read.
func (b *Buffer) Reset() *ReadState {
	b.events = b.events[:0]
	b.mins = b.mins[:0]
	b.anchors = b.anchors[:0]
	b.state.reset()
	return &b.state
}

// GetBuffer returns a reset Buffer from the mapper's pool.
func (m *Mapper) GetBuffer() *Buffer {
	b := m.buffers.Get().(*Buffer)
	b.Reset()
	return b
}

// PutBuffer returns a Buffer to the mapper's pool.
func (m *Mapper) PutBuffer(b *Buffer) {
	m.buffers.Put(b)
}
