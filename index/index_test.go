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
	"os"
	"path/filepath"
	"testing"

	"github.com/exascience/elsig/sketch"
)

func testIndex() *Memory {
	idx := NewMemory(6, false)
	a := idx.AddReference(&Reference{Name: "chrA", Length: 100, Forward: []float32{0.5, -1.25, 2}, Reverse: []float32{2, -1.25, 0.5}})
	b := idx.AddReference(&Reference{Name: "chrB", Length: 50})
	idx.Add(42, Match{RefID: b, Pos: 7})
	idx.Add(42, Match{RefID: a, Pos: 9, Rev: true})
	idx.Add(42, Match{RefID: a, Pos: 3})
	idx.Add(7, Match{RefID: a, Pos: 11, Tandem: true})
	idx.Add(7, Match{RefID: a, Pos: 20, Self: true})
	idx.Sort()
	return idx
}

func TestMemory(t *testing.T) {
	idx := testIndex()
	if idx.NumRefs() != 2 || idx.NumValues() != 2 {
		t.Error("Memory counts failed")
	}
	matches := idx.Lookup(42)
	if len(matches) != 3 {
		t.Fatal("Memory Lookup failed")
	}
	if matches[0] != (Match{RefID: 0, Pos: 3}) || matches[1] != (Match{RefID: 0, Pos: 9, Rev: true}) || matches[2] != (Match{RefID: 1, Pos: 7}) {
		t.Errorf("Memory Sort failed: %v", matches)
	}
	if idx.Lookup(1) != nil {
		t.Error("Memory missing Lookup failed")
	}
	if idx.MaxOcc(0.5) != 4 {
		t.Errorf("Memory MaxOcc failed: %v", idx.MaxOcc(0.5))
	}
}

func TestAddSketch(t *testing.T) {
	idx := NewMemory(6, false)
	id := idx.AddReference(&Reference{Name: "r", Length: 10})
	idx.AddSketch(id, false, []sketch.Minimizer{{Hash: 1, Pos: 5, Span: 6}, {Hash: 1, Pos: 6, Span: 6}, {Hash: 2, Pos: 8, Span: 6}})
	if m := idx.Lookup(1); len(m) != 2 || !m[0].Tandem || !m[1].Tandem {
		t.Error("AddSketch tandem failed")
	}
	if m := idx.Lookup(2); len(m) != 1 || m[0].Tandem || m[0].Pos != 8 {
		t.Error("AddSketch failed")
	}
}

func testStoreLoad(t *testing.T, name string) {
	dir, err := ioutil.TempDir("", "elsig-index")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	filename := filepath.Join(dir, name)
	idx := testIndex()
	if err := idx.Store(filename); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(filename)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SeedSpan() != 6 || loaded.SignalTarget() || loaded.NumRefs() != 2 {
		t.Fatal("Load parameters failed")
	}
	if ref := loaded.Ref(0); ref.Name != "chrA" || ref.Length != 100 || len(ref.Forward) != 3 || ref.Reverse[1] != -1.25 {
		t.Errorf("Load reference failed: %v", ref)
	}
	if ref := loaded.Ref(1); ref.Forward != nil {
		t.Error("Load empty trace failed")
	}
	for _, hash := range []uint64{7, 42} {
		m1, m2 := idx.Lookup(hash), loaded.Lookup(hash)
		if len(m1) != len(m2) {
			t.Fatalf("Load seeds failed for %v", hash)
		}
		for i := range m1 {
			if m1[i] != m2[i] {
				t.Errorf("Load seeds failed for %v: %v", hash, m2)
			}
		}
	}
	if m := loaded.Lookup(7); len(m) != 2 || !m[0].Tandem || m[0].Self || m[1].Tandem || !m[1].Self {
		t.Errorf("Load seed flags failed: %v", m)
	}
}

func TestStoreLoad(t *testing.T) {
	testStoreLoad(t, "test.idx")
}

func TestStoreLoadZstd(t *testing.T) {
	testStoreLoad(t, "test.idx.zst")
}

func TestLoadInvalid(t *testing.T) {
	dir, err := ioutil.TempDir("", "elsig-index")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	filename := filepath.Join(dir, "bad.idx")
	if err := ioutil.WriteFile(filename, []byte("not an index\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(filename); err == nil {
		t.Error("Load header check failed")
	}
	if err := ioutil.WriteFile(filename, []byte(IndexHeader+"P\t6\t0\nH\t1\t3\t0\t+\t0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(filename); err == nil {
		t.Error("Load reference check failed")
	}
}
