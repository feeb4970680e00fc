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
	"math"
	"math/rand"
	"testing"

	"github.com/exascience/elsig/seeds"
)

func randomEvents(rnd *rand.Rand, n int) []float32 {
	events := make([]float32, n)
	for i := range events {
		events[i] = float32(rnd.NormFloat64())
	}
	return events
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-4
}

func TestDTW(t *testing.T) {
	var k AbsDiff
	q := []float32{1, 2, 3, 4}
	if c := k.Global(q, q, false); c != 0 {
		t.Errorf("Global identity failed: %v", c)
	}
	if c := k.Global([]float32{1, 2, 3}, []float32{1, 1, 2, 2, 3, 3}, false); c != 0 {
		t.Errorf("Global warping failed: %v", c)
	}
	if c := k.Global([]float32{0, 0}, []float32{1}, false); c != 2 {
		t.Errorf("Global cost failed: %v", c)
	}
	if c := k.Global([]float32{0, 0}, []float32{1}, true); c != 1 {
		t.Errorf("Global excludeLast failed: %v", c)
	}
	if c := k.Global(nil, q, false); c != 0 {
		t.Error("Global empty failed")
	}
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		q, r := randomEvents(rnd, 20+rnd.Intn(40)), randomEvents(rnd, 20+rnd.Intn(40))
		full := k.Global(q, r, false)
		banded := k.Banded(q, r, 3, false)
		if banded < full-1e-4 {
			t.Fatalf("Banded below full cost: %v < %v", banded, full)
		}
		if wide := k.Banded(q, r, 1000, false); !near(wide, full) {
			t.Fatalf("wide Banded failed: %v != %v", wide, full)
		}
		if math.IsInf(float64(k.Banded(q, r, 1, false)), 0) {
			t.Fatal("narrow Banded disconnected")
		}
	}
}

func collinearAnchors(n int) (anchors []seeds.Packed) {
	for k := 0; k < n; k++ {
		anchors = append(anchors, seeds.Pack(seeds.Anchor{RefPos: uint32(100 + 10*k), QSpan: 5, QPos: uint32(4 + 10*k)}))
	}
	return anchors
}

func TestVerify(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	ref := randomEvents(rnd, 400)
	read := make([]float32, 200)
	copy(read, ref[96:296])
	anchors := collinearAnchors(10)
	for _, border := range []Border{BorderGlobal, BorderSparse} {
		for _, fill := range []Fill{FillFull, FillBanded} {
			v := &Verifier{Kernel: AbsDiff{}, Border: border, Fill: fill, BandRadiusFrac: 0.1, MatchBonus: 0.4}
			score := v.Verify(anchors, read, ref, 0)
			var want float32
			if border == BorderGlobal {
				want = 96 * 0.4
			} else {
				want = 99 * 0.4
			}
			if !near(score, want) {
				t.Errorf("Verify %v/%v failed: %v != %v", border, fill, score, want)
			}
		}
	}
}

func TestEarlyAbandonment(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	ref := randomEvents(rnd, 400)
	read := randomEvents(rnd, 200)
	anchors := collinearAnchors(10)
	for _, border := range []Border{BorderGlobal, BorderSparse} {
		v := &Verifier{Kernel: AbsDiff{}, Border: border, Fill: FillFull, MatchBonus: 0.4}
		full := v.Verify(anchors, read, ref, float32(math.Inf(-1)))
		for _, minScore := range []float32{-100, -20, -5, 0, 5, 20, 40, 100} {
			score := v.Verify(anchors, read, ref, minScore)
			if score == Abandoned {
				if full >= minScore {
					t.Errorf("%v abandoned a chain reaching %v: %v", border, minScore, full)
				}
			} else if !near(score, full) {
				t.Errorf("%v score changed by the bound: %v != %v", border, score, full)
			}
		}
	}
	v := &Verifier{Kernel: AbsDiff{}, MatchBonus: 0.4}
	if v.Verify(nil, read, ref, 0) != Abandoned {
		t.Error("empty Verify failed")
	}
}

func TestParse(t *testing.T) {
	if b, err := ParseBorder("sparse"); err != nil || b != BorderSparse {
		t.Error("ParseBorder failed")
	}
	if _, err := ParseBorder("local"); err == nil {
		t.Error("ParseBorder error failed")
	}
	if f, err := ParseFill("banded"); err != nil || f != FillBanded {
		t.Error("ParseFill failed")
	}
	if _, err := ParseFill("sparse"); err == nil {
		t.Error("ParseFill error failed")
	}
}
