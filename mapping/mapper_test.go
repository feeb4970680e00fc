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
	"math"
	"math/rand"
	"testing"

	"github.com/exascience/elsig/chain"
	"github.com/exascience/elsig/index"
	"github.com/exascience/elsig/signal"
	"github.com/exascience/elsig/sketch"
)

type passthrough struct{}

func (passthrough) Detect(samples []float32, dst []float32) []float32 {
	return append(dst, samples...)
}

func randomEvents(rng *rand.Rand, n int) []float32 {
	events := make([]float32, n)
	for i := range events {
		events[i] = rng.Float32()*5 - 2.5
	}
	return events
}

type fixture struct {
	ref      []float32
	idx      *index.Memory
	sketcher *sketch.Quantizer
	rng      *rand.Rand
}

func newFixture(t *testing.T, signalTarget bool) *fixture {
	rng := rand.New(rand.NewSource(42))
	ref := randomEvents(rng, 2000)
	reverse := make([]float32, len(ref))
	for i, e := range ref {
		reverse[len(ref)-1-i] = e
	}
	sk, err := sketch.NewQuantizer(8, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	idx := index.NewMemory(sk.Span(), signalTarget)
	id := idx.AddReference(&index.Reference{Name: "ref1", Length: uint32(len(ref)), Forward: ref, Reverse: reverse})
	idx.AddSketch(id, false, sk.Sketch(ref, nil))
	idx.Sort()
	return &fixture{ref: ref, idx: idx, sketcher: sk, rng: rng}
}

// noise returns events that do not occur in the reference.
func (f *fixture) noise(n int) []float32 {
	return randomEvents(f.rng, n)
}

func (f *fixture) mapper(t *testing.T, opts *Options) *Mapper {
	m, err := NewMapper(f.idx, passthrough{}, f.sketcher, opts)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func testOptions() *Options {
	opts := DefaultOptions()
	opts.ChunkSize = 400
	opts.MaxChunks = 3
	opts.MinEvents = 10
	opts.QuantBits = 4
	opts.MaxInFlight = 1
	return opts
}

func TestValidate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Error(err)
	}
	opts := DefaultOptions()
	opts.Chaining = "greedy"
	if opts.Validate() == nil {
		t.Error("Validate chaining algorithm failed")
	}
	opts = DefaultOptions()
	opts.Verify = true
	opts.Border = "local"
	if opts.Validate() == nil {
		t.Error("Validate border constraint failed")
	}
	opts = DefaultOptions()
	opts.Verify = true
	opts.Fill = "sparse"
	if opts.Validate() == nil {
		t.Error("Validate fill method failed")
	}
	opts = DefaultOptions()
	opts.ChunkSize = 0
	if opts.Validate() == nil {
		t.Error("Validate chunk size failed")
	}
	opts = DefaultOptions()
	opts.SequenceUntil = true
	opts.Until.Samples = 1
	if opts.Validate() == nil {
		t.Error("Validate sequence until failed")
	}
}

func TestMaxChunks(t *testing.T) {
	opts := DefaultOptions()
	opts.ChunkSize = 400
	opts.MaxChunks = 3
	if n := opts.maxChunks(10000); n != 3 {
		t.Errorf("maxChunks failed: %v", n)
	}
	opts.NoAdaptive = true
	if n := opts.maxChunks(10000); n != 25 {
		t.Errorf("maxChunks without adaptive failed: %v", n)
	}
	if n := opts.maxChunks(100); n != 1 {
		t.Errorf("maxChunks short read failed: %v", n)
	}
}

func TestCarryOver(t *testing.T) {
	f := newFixture(t, true)
	m := f.mapper(t, testOptions())
	samples := f.ref[500:1300]
	b := m.GetBuffer()
	defer m.PutBuffer(b)
	st := b.State()

	m.MapChunk(b, "read", samples[:400])
	if st.Offset != 400 {
		t.Fatalf("offset after first chunk failed: %v", st.Offset)
	}
	if len(st.Carried()) == 0 {
		t.Fatal("carry after first chunk failed")
	}
	for _, a := range st.Carried() {
		if a.QPos() < 0 || a.QPos() >= 400 {
			t.Errorf("first chunk anchor out of range: %v", a.QPos())
		}
	}
	if len(st.Regions) != 1 || st.Regions[0].QStart != 0 || st.Regions[0].QEnd != 400 {
		t.Errorf("first chunk regions failed: %+v", st.Regions)
	}

	m.MapChunk(b, "read", samples[400:])
	if st.Offset != 800 {
		t.Fatalf("offset after second chunk failed: %v", st.Offset)
	}
	var old, fresh int
	for _, a := range st.Carried() {
		switch {
		case a.QPos() < 400:
			old++
		case a.QPos() < 800:
			fresh++
		default:
			t.Errorf("second chunk anchor out of range: %v", a.QPos())
		}
	}
	if old == 0 || fresh == 0 {
		t.Errorf("carry after second chunk failed: %v old, %v new", old, fresh)
	}
	if len(st.Regions) != 1 {
		t.Fatalf("second chunk regions failed: %+v", st.Regions)
	}
	if r := st.Regions[0]; r.QStart != 0 || r.QEnd != 800 || r.RefStart != 500 || r.RefEnd != 1300 {
		t.Errorf("chain across chunks failed: %+v", r)
	}
	if st.Chunks != 2 {
		t.Errorf("chunk count failed: %v", st.Chunks)
	}
}

func TestShortChunk(t *testing.T) {
	f := newFixture(t, true)
	opts := testOptions()
	opts.MinEvents = 500
	m := f.mapper(t, opts)
	b := m.GetBuffer()
	defer m.PutBuffer(b)
	m.MapChunk(b, "read", f.ref[500:900])
	st := b.State()
	if st.Offset != 0 || len(st.Regions) != 0 || len(st.Carried()) != 0 {
		t.Error("MapChunk with too few events failed")
	}
}

func TestMapReadFirstChunk(t *testing.T) {
	f := newFixture(t, true)
	m := f.mapper(t, testOptions())
	res := m.MapRead(&signal.Read{Name: "r1", Samples: f.ref[500:900]})
	if len(res.Records) != 1 || !res.Mapped() {
		t.Fatalf("MapRead failed: %+v", res.Records)
	}
	rec := res.Records[0]
	if rec.Tags.Chunks != 1 || rec.RefName != "ref1" || rec.Rev {
		t.Errorf("MapRead record failed: %+v", rec)
	}
	if rec.ReadStart != 0 || rec.ReadEnd != 400 || rec.ReadLength != 400 {
		t.Errorf("MapRead read positions failed: %+v", rec)
	}
	if rec.FragStart != 500 || rec.FragLength != 401 {
		t.Errorf("MapRead reference positions failed: %+v", rec)
	}
	if rec.MapQ != chain.MaxMapQ || rec.Tags.Count != 393 || rec.Tags.Score != 400 || rec.Tags.NumChains != 1 {
		t.Errorf("MapRead scores failed: %+v", rec)
	}
}

func TestMapReadLastChunk(t *testing.T) {
	f := newFixture(t, true)
	m := f.mapper(t, testOptions())
	var samples []float32
	samples = append(samples, f.noise(800)...)
	samples = append(samples, f.ref[500:900]...)
	res := m.MapRead(&signal.Read{Name: "r3", Samples: samples})
	if len(res.Records) != 1 || !res.Mapped() {
		t.Fatalf("MapRead on last chunk failed: %+v", res.Records)
	}
	rec := res.Records[0]
	if rec.Tags.Chunks != 3 {
		t.Errorf("MapRead chunk count failed: %v", rec.Tags.Chunks)
	}
	if rec.ReadStart != 800 || rec.ReadEnd != 1200 || rec.ReadLength != 1200 {
		t.Errorf("MapRead read positions failed: %+v", rec)
	}
	if rec.FragStart != 500 || rec.FragLength != 401 {
		t.Errorf("MapRead reference positions failed: %+v", rec)
	}
}

func TestMapReadExhausted(t *testing.T) {
	f := newFixture(t, true)
	opts := testOptions()
	opts.MaxChunks = 2
	opts.MinMapQ = 61
	opts.WeightThreshold = 2
	m := f.mapper(t, opts)
	res := m.MapRead(&signal.Read{Name: "r4", Samples: f.ref[500:1700]})
	if len(res.Records) != 1 || res.Mapped() {
		t.Fatalf("MapRead exhausted failed: %+v", res.Records)
	}
	rec := res.Records[0]
	if rec.Tags.Chunks != 2 || rec.ReadLength != 800 || rec.MapQ != 0 {
		t.Errorf("MapRead exhausted record failed: %+v", rec)
	}
	if rec.Tags.NumChains != 1 || rec.Tags.Count != 786 || rec.Tags.Score != 800 {
		t.Errorf("MapRead exhausted tags failed: %+v", rec.Tags)
	}
}

func TestMapReadNoEvents(t *testing.T) {
	f := newFixture(t, true)
	m := f.mapper(t, testOptions())
	for _, samples := range [][]float32{nil, f.ref[:5]} {
		res := m.MapRead(&signal.Read{Name: "r0", Samples: samples})
		if len(res.Records) != 1 || res.Mapped() {
			t.Fatalf("MapRead without events failed: %+v", res.Records)
		}
		rec := res.Records[0]
		if rec.MapQ != 0 || rec.Tags.Chunks != 1 || rec.Tags.NumChains != 0 || rec.ReadLength != 0 {
			t.Errorf("MapRead without events record failed: %+v", rec)
		}
		want := "r0\t0\t*\t*\t*\t*\t*\t*\t*\t*\t*\t0\tmt:f:"
		if line := string(rec.Format(nil)); line[:len(want)] != want {
			t.Errorf("MapRead without events line failed: %q", line)
		}
	}
}

func TestMapReadProjection(t *testing.T) {
	f := newFixture(t, false)
	m := f.mapper(t, testOptions())
	res := m.MapRead(&signal.Read{Name: "r1", Samples: f.ref[500:900]})
	if !res.Mapped() {
		t.Fatal("MapRead on sequence index failed")
	}
	rec := res.Records[0]
	if rec.ReadStart != 0 || rec.ReadEnd != 40 || rec.ReadLength != 40 {
		t.Errorf("MapRead projection failed: %+v", rec)
	}
}

func TestReverseRecord(t *testing.T) {
	f := newFixture(t, true)
	m := f.mapper(t, testOptions())
	b := m.GetBuffer()
	defer m.PutBuffer(b)
	st := b.State()
	st.Offset = 100
	st.Chunks = 1
	st.Regions = append(st.Regions, chain.Region{
		RefID: 0, Rev: true,
		QStart: 0, QEnd: 100,
		RefStart: 100, RefEnd: 300,
		Count: 5, Score: 50, MapQ: 30,
	})
	st.accepted = append(st.accepted, 0)
	res := m.records(&signal.Read{Name: "r5", Samples: make([]float32, 100)}, st, 100, 0)
	rec := res.Records[0]
	if !rec.Rev || rec.FragStart != 1701 || rec.FragLength != 201 {
		t.Errorf("reverse record failed: %+v", rec)
	}
}

func TestVerifiedMapping(t *testing.T) {
	f := newFixture(t, true)
	opts := testOptions()
	opts.Verify = true
	opts.Border = "global"
	opts.Fill = "full"
	m := f.mapper(t, opts)
	b := m.GetBuffer()
	defer m.PutBuffer(b)
	m.MapChunk(b, "r1", f.ref[1600:2000])
	st := b.State()
	if len(st.Events()) != 400 {
		t.Fatalf("event trace failed: %v", len(st.Events()))
	}
	if len(st.Regions) != 1 || math.Abs(float64(st.Regions[0].AlignScore-160)) > 1e-3 {
		t.Fatalf("verified regions failed: %+v", st.Regions)
	}
	if !m.decide(st) {
		t.Error("verified decide failed")
	}
}

func TestSparseVerifiedMapping(t *testing.T) {
	f := newFixture(t, true)
	opts := testOptions()
	opts.Verify = true
	opts.Border = "sparse"
	opts.Fill = "full"
	m := f.mapper(t, opts)
	b := m.GetBuffer()
	defer m.PutBuffer(b)
	m.MapChunk(b, "r1", f.ref[500:900])
	st := b.State()
	if len(st.Regions) != 1 {
		t.Fatalf("sparse verified regions failed: %+v", st.Regions)
	}
	// consecutive anchors are one event apart, so each segment aligns
	// two events at no cost
	r := st.Regions[0]
	want := float32(2*(r.Count-1)) * opts.MatchBonus
	if math.Abs(float64(r.AlignScore-want)) > 1e-2 {
		t.Errorf("sparse alignment score failed: %v != %v", r.AlignScore, want)
	}
	res := m.MapRead(&signal.Read{Name: "r1", Samples: f.ref[500:900]})
	if !res.Mapped() || res.Records[0].FragStart != 500 || res.Records[0].FragLength != 401 {
		t.Errorf("sparse verified MapRead failed: %+v", res.Records)
	}
}

func TestMapReadRMQ(t *testing.T) {
	f := newFixture(t, true)
	opts := testOptions()
	opts.Chaining = "rmq"
	m := f.mapper(t, opts)
	res := m.MapRead(&signal.Read{Name: "r1", Samples: f.ref[500:900]})
	if len(res.Records) != 1 || !res.Mapped() {
		t.Fatalf("MapRead with rmq chaining failed: %+v", res.Records)
	}
	rec := res.Records[0]
	if rec.Tags.Chunks != 1 || rec.ReadStart != 0 || rec.ReadEnd != 400 {
		t.Errorf("MapRead rmq read positions failed: %+v", rec)
	}
	if rec.FragStart != 500 || rec.FragLength != 401 {
		t.Errorf("MapRead rmq reference positions failed: %+v", rec)
	}
	if rec.MapQ != chain.MaxMapQ || rec.Tags.Score != 400 || rec.Tags.NumChains != 1 {
		t.Errorf("MapRead rmq scores failed: %+v", rec)
	}
}

func TestMapReadAllChains(t *testing.T) {
	f := newFixture(t, true)
	idx := index.NewMemory(f.sketcher.Span(), true)
	for _, name := range []string{"ref1", "ref2"} {
		id := idx.AddReference(&index.Reference{Name: name, Length: uint32(len(f.ref)), Forward: f.ref})
		idx.AddSketch(id, false, f.sketcher.Sketch(f.ref, nil))
	}
	idx.Sort()
	opts := testOptions()
	opts.AllChains = true
	opts.WeightThreshold = 0
	m, err := NewMapper(idx, passthrough{}, f.sketcher, opts)
	if err != nil {
		t.Fatal(err)
	}
	res := m.MapRead(&signal.Read{Name: "r1", Samples: f.ref[500:900]})
	if len(res.Records) != 2 || !res.Mapped() {
		t.Fatalf("MapRead with all chains failed: %+v", res.Records)
	}
	names := make(map[string]bool)
	for _, rec := range res.Records {
		if !rec.Mapped || rec.FragStart != 500 || rec.FragLength != 401 || rec.Tags.NumChains != 2 {
			t.Errorf("MapRead all chains record failed: %+v", rec)
		}
		names[rec.RefName] = true
	}
	if !names["ref1"] || !names["ref2"] {
		t.Errorf("MapRead all chains references failed: %v", names)
	}
}

func TestDecideAllChains(t *testing.T) {
	f := newFixture(t, true)
	opts := testOptions()
	m := f.mapper(t, opts)
	b := m.GetBuffer()
	defer m.PutBuffer(b)
	st := b.State()
	st.Offset = 400
	st.Chunks = 1
	st.Regions = append(st.Regions,
		chain.Region{ID: 0, Parent: 0, QStart: 0, QEnd: 400, RefStart: 100, RefEnd: 500, MapQ: 30, Score: 400, Count: 100},
		chain.Region{ID: 1, Parent: 1, QStart: 0, QEnd: 400, RefStart: 1100, RefEnd: 1500, MapQ: 30, Score: 400, Count: 90},
	)
	if !m.decide(st) || len(st.AcceptedRegions()) != 1 || st.AcceptedRegions()[0] != 0 {
		t.Fatalf("decide single output failed: %v", st.AcceptedRegions())
	}
	m.opts.AllChains = true
	if !m.decide(st) || len(st.AcceptedRegions()) != 2 {
		t.Fatalf("decide all chains failed: %v", st.AcceptedRegions())
	}
	res := m.records(&signal.Read{Name: "r6", Samples: make([]float32, 400)}, st, 400, 0)
	if len(res.Records) != 2 || !res.Mapped() {
		t.Fatalf("all chains records failed: %+v", res.Records)
	}
	if res.Records[0].FragStart != 100 || res.Records[1].FragStart != 1100 || res.Records[1].Tags.Count != 90 {
		t.Errorf("all chains record positions failed: %+v", res.Records)
	}
}

func TestDecideBestAligned(t *testing.T) {
	f := newFixture(t, true)
	opts := testOptions()
	opts.Verify = true
	m := f.mapper(t, opts)
	st := &ReadState{Regions: []chain.Region{
		{ID: 0, Parent: 0, MapQ: 30, Score: 400, Count: 100, AlignScore: 15},
		{ID: 1, Parent: 1, MapQ: 30, Score: 400, Count: 100, AlignScore: 60},
	}}
	if !m.decide(st) || len(st.AcceptedRegions()) != 1 || st.AcceptedRegions()[0] != 1 {
		t.Errorf("decide best aligned failed: %v", st.AcceptedRegions())
	}
	st.Regions[1].AlignScore = 5
	if m.decide(st) {
		t.Error("decide below minimum alignment score failed")
	}
}

func TestDecide(t *testing.T) {
	f := newFixture(t, true)
	opts := testOptions()
	m := f.mapper(t, opts)
	st := &ReadState{}
	if m.decide(st) {
		t.Error("decide without regions failed")
	}
	st.Regions = []chain.Region{{MapQ: uint8(opts.MinMapQ), Score: 40, Count: 5}}
	if !m.decide(st) || len(st.AcceptedRegions()) != 1 {
		t.Error("decide single region failed")
	}
	st.Regions = []chain.Region{
		{ID: 0, Parent: 0, MapQ: 60, Score: 400, Count: 100},
		{ID: 1, Parent: 1, MapQ: 0, Score: 20, Count: 3},
	}
	if !m.decide(st) || len(st.AcceptedRegions()) != 1 || st.AcceptedRegions()[0] != 0 {
		t.Error("decide dominant region failed")
	}
	st.Regions[0].MapQ = 20
	st.Regions[1] = chain.Region{ID: 1, Parent: 1, MapQ: 20, Score: 400, Count: 100}
	if m.decide(st) {
		t.Error("decide ambiguous regions failed")
	}
}

func TestDecisionMonotonicity(t *testing.T) {
	f := newFixture(t, true)
	m := f.mapper(t, testOptions())
	const meanQ, meanC = 20, 100
	prev := float32(-1)
	for q := 0; q <= chain.MaxMapQ; q++ {
		r := chain.Region{MapQ: uint8(q), Score: 150}
		c := m.confidence(&r, meanQ, meanC)
		if c < prev {
			t.Errorf("confidence decreased at mapq %v: %v < %v", q, c, prev)
		}
		prev = c
	}
	prev = -1
	for score := int32(1); score <= 1000; score += 10 {
		r := chain.Region{MapQ: 30, Score: score}
		c := m.confidence(&r, meanQ, meanC)
		if c < prev {
			t.Errorf("confidence decreased at score %v: %v < %v", score, c, prev)
		}
		prev = c
	}
}

func TestProfiler(t *testing.T) {
	var nilProfiler *Profiler
	nilProfiler.Add(StageMap, 5)
	nilProfiler.AddSeeds(5)
	if nilProfiler.Total(StageMap) != 0 || nilProfiler.Seeds() != 0 {
		t.Error("nil Profiler failed")
	}
	f := newFixture(t, true)
	m := f.mapper(t, testOptions())
	p := NewProfiler()
	m.SetProfiler(p)
	m.MapRead(&signal.Read{Name: "r1", Samples: f.ref[500:900]})
	if p.Total(StageMap) <= 0 || p.Total(StageMap) < p.Total(StageChain) {
		t.Error("Profiler totals failed")
	}
	if p.Seeds() < 393 {
		t.Errorf("Profiler seeds failed: %v", p.Seeds())
	}
	if StageSeed.String() != "seed" {
		t.Error("Stage.String failed")
	}
}
