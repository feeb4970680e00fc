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
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/exascience/elsig/signal"
	"github.com/exascience/elsig/sketch"
)

type passthrough struct{}

func (passthrough) Detect(samples []float32, dst []float32) []float32 {
	return append(dst, samples...)
}

func containsMatch(matches []Match, m Match) bool {
	for _, match := range matches {
		if match.RefID == m.RefID && match.Pos == m.Pos && match.Rev == m.Rev {
			return true
		}
	}
	return false
}

func TestBuild(t *testing.T) {
	dir, err := ioutil.TempDir("", "elsig-build")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	rng := rand.New(rand.NewSource(7))
	refs := make([][]float32, 2)
	var lines []string
	for i := range refs {
		refs[i] = make([]float32, 300)
		fields := make([]string, len(refs[i]))
		for j := range refs[i] {
			refs[i][j] = rng.Float32()*5 - 2.5
			fields[j] = strconv.FormatFloat(float64(refs[i][j]), 'g', -1, 32)
		}
		lines = append(lines, "ref"+strconv.Itoa(i)+"\t"+strings.Join(fields, ","))
	}
	input := filepath.Join(dir, "refs.txt")
	if err = ioutil.WriteFile(input, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sk, err := sketch.NewQuantizer(6, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	reader, err := signal.NewReader(input, 0)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := Build(reader, passthrough{}, sk, sk.Span())
	if cerr := reader.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		t.Fatal(err)
	}
	if idx.NumRefs() != 2 || !idx.SignalTarget() || idx.SeedSpan() != sk.Span() {
		t.Fatal("Build parameters failed")
	}
	for i, events := range refs {
		ref := idx.Ref(uint32(i))
		if ref.Name != "ref"+strconv.Itoa(i) || ref.Length != 300 || len(ref.Forward) != 300 {
			t.Fatalf("Build reference failed: %v %v", ref.Name, ref.Length)
		}
		if ref.Forward[10] != events[10] || ref.Reverse[0] != events[299] {
			t.Error("Build event traces failed")
		}
		fwd := sk.Sketch(ref.Forward, nil)
		if !containsMatch(idx.Lookup(fwd[5].Hash), Match{RefID: uint32(i), Pos: fwd[5].Pos}) {
			t.Error("Build forward seeds failed")
		}
		rev := sk.Sketch(ref.Reverse, nil)
		if !containsMatch(idx.Lookup(rev[5].Hash), Match{RefID: uint32(i), Pos: rev[5].Pos, Rev: true}) {
			t.Error("Build reverse seeds failed")
		}
	}

	output := filepath.Join(dir, "refs.idx.zst")
	if err = idx.Store(output); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(output)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NumRefs() != 2 || loaded.NumValues() != idx.NumValues() || !loaded.SignalTarget() {
		t.Error("Build Store/Load failed")
	}
	if ref := loaded.Ref(1); ref.Name != "ref1" || len(ref.Reverse) != 300 || ref.Reverse[7] != idx.Ref(1).Reverse[7] {
		t.Error("Build Store/Load traces failed")
	}
}
