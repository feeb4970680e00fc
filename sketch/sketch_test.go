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

package sketch

import (
	"math/rand"
	"testing"
)

func randomEvents(n int, seed int64) []float32 {
	rnd := rand.New(rand.NewSource(seed))
	events := make([]float32, n)
	for i := range events {
		events[i] = float32(rnd.NormFloat64())
	}
	return events
}

func TestNewQuantizer(t *testing.T) {
	if _, err := NewQuantizer(0, 4, 3); err == nil {
		t.Error("NewQuantizer events failed")
	}
	if _, err := NewQuantizer(8, 9, 3); err == nil {
		t.Error("NewQuantizer bits failed")
	}
	if _, err := NewQuantizer(8, 4, 0); err == nil {
		t.Error("NewQuantizer window failed")
	}
	if _, err := NewQuantizer(16, 4, 5); err != nil {
		t.Errorf("NewQuantizer failed: %v", err)
	}
}

func TestSketch(t *testing.T) {
	s, err := NewQuantizer(6, 4, 3)
	if err != nil {
		t.Fatal(err)
	}
	if mins := s.Sketch(randomEvents(5, 1), nil); len(mins) != 0 {
		t.Error("short Sketch failed")
	}
	events := randomEvents(500, 2)
	mins1 := s.Sketch(events, nil)
	mins2 := s.Sketch(events, nil)
	if len(mins1) == 0 || len(mins1) != len(mins2) {
		t.Fatal("Sketch determinism failed")
	}
	for i := range mins1 {
		if mins1[i] != mins2[i] {
			t.Fatal("Sketch determinism failed")
		}
		if mins1[i].Span != 6 || mins1[i].Pos < 5 || int(mins1[i].Pos) >= len(events) {
			t.Fatalf("Sketch position failed: %v", mins1[i])
		}
		if i > 0 && mins1[i].Pos <= mins1[i-1].Pos {
			t.Fatal("Sketch order failed")
		}
	}
}

func TestSketchSharedSegment(t *testing.T) {
	s, err := NewQuantizer(6, 4, 3)
	if err != nil {
		t.Fatal(err)
	}
	ref := randomEvents(1000, 3)
	read := ref[200:400]
	refHashes := make(map[uint64]bool)
	for _, m := range s.Sketch(ref, nil) {
		refHashes[m.Hash] = true
	}
	mins := s.Sketch(read, nil)
	shared := 0
	for _, m := range mins {
		if refHashes[m.Hash] {
			shared++
		}
	}
	if shared < len(mins)*9/10 {
		t.Errorf("Sketch shared segment failed: %v of %v", shared, len(mins))
	}
}
