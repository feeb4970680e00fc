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

package index

import (
	"github.com/exascience/elsig/signal"
	"github.com/exascience/elsig/sketch"
	"github.com/exascience/pargo/pipeline"
)

type builtReference struct {
	ref              *Reference
	forward, reverse []sketch.Minimizer
}

// Build creates a signal-target index from the reference signals of
// reader. The events of each reference are detected, kept on both
// strands for alignment verification, and sketched on both strands.
// The reverse strand is the reversed event sequence.
func Build(reader *signal.Reader, detector signal.Detector, sketcher sketch.Sketcher, seedSpan int) (*Memory, error) {
	idx := NewMemory(seedSpan, true)
	var p pipeline.Pipeline
	p.Source(reader)
	p.Add(
		pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
			reads := data.([]*signal.Read)
			refs := make([]builtReference, len(reads))
			for i, read := range reads {
				events := detector.Detect(read.Samples, nil)
				reverse := make([]float32, len(events))
				for j, e := range events {
					reverse[len(events)-1-j] = e
				}
				refs[i] = builtReference{
					ref:     &Reference{Name: read.Name, Length: uint32(len(events)), Forward: events, Reverse: reverse},
					forward: sketcher.Sketch(events, nil),
					reverse: sketcher.Sketch(reverse, nil),
				}
			}
			return refs
		})),
		pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
			for _, built := range data.([]builtReference) {
				id := idx.AddReference(built.ref)
				idx.AddSketch(id, false, built.forward)
				idx.AddSketch(id, true, built.reverse)
			}
			return nil
		})),
	)
	p.Run()
	if err := p.Err(); err != nil {
		return nil, err
	}
	idx.Sort()
	return idx, nil
}
