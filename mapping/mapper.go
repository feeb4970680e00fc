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

// Package mapping maps raw signal reads chunk by chunk onto an index
// and decides after each chunk whether a read can be accepted.
package mapping

import (
	"math"
	"sync"
	"time"

	"github.com/exascience/elsig/align"
	"github.com/exascience/elsig/chain"
	"github.com/exascience/elsig/index"
	"github.com/exascience/elsig/paf"
	"github.com/exascience/elsig/seeds"
	"github.com/exascience/elsig/signal"
	"github.com/exascience/elsig/sketch"
)

// A Mapper maps reads onto an index. It is safe for concurrent use:
// each goroutine maps with its own Buffer.
type Mapper struct {
	opts     *Options
	idx      index.Index
	detector signal.Detector
	sketcher sketch.Sketcher
	verifier *align.Verifier
	profiler *Profiler

	par chain.Params
	occ seeds.Occurrence

	buffers sync.Pool
}

type occurrenceQuantile interface {
	MaxOcc(frac float64) int
}

// NewMapper returns a Mapper for the given index and collaborators.
// The options are validated and must not be modified afterwards.
func NewMapper(idx index.Index, detector signal.Detector, sketcher sketch.Sketcher, opts *Options) (*Mapper, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	maxOcc := opts.MaxOcc
	if maxOcc == 0 {
		if q, ok := idx.(occurrenceQuantile); ok {
			maxOcc = q.MaxOcc(opts.OccFrac)
		} else {
			maxOcc = math.MaxInt32
		}
	}
	m := &Mapper{
		opts:     opts,
		idx:      idx,
		detector: detector,
		sketcher: sketcher,
		par:      opts.chainParams(idx.SeedSpan()),
		occ:      opts.occurrence(maxOcc),
	}
	if opts.Verify {
		border, _ := align.ParseBorder(opts.Border)
		fill, _ := align.ParseFill(opts.Fill)
		m.verifier = &align.Verifier{
			Kernel:         align.AbsDiff{},
			Border:         border,
			Fill:           fill,
			BandRadiusFrac: opts.BandRadiusFrac,
			MatchBonus:     opts.MatchBonus,
		}
	}
	m.buffers.New = func() interface{} {
		return newBuffer(m.par, m.occ)
	}
	return m, nil
}

// SetProfiler sets the profiler that times the mapping stages. A nil
// profiler disables profiling.
func (m *Mapper) SetProfiler(p *Profiler) {
	m.profiler = p
}

// Profiler returns the profiler set with SetProfiler.
func (m *Mapper) Profiler() *Profiler {
	return m.profiler
}

// MapChunk maps the next chunk of a read, continuing from the state
// in b. The chains of the previous chunk are dropped; their anchors
// are carried into this chunk. Chunks with too few events leave the
// state unchanged apart from the chunk count.
func (m *Mapper) MapChunk(b *Buffer, name string, samples []float32) {
	opts := m.opts
	st := &b.state
	st.Chunks++
	st.Regions = st.Regions[:0]
	st.result = chain.Result{}

	start := m.profiler.start()
	b.events = m.detector.Detect(samples, b.events[:0])
	m.profiler.stop(StageSignal, start)
	nEvents := len(b.events)
	if nEvents == 0 || nEvents < opts.MinEvents {
		return
	}
	if m.verifier != nil {
		st.events = append(st.events, b.events...)
	}

	start = m.profiler.start()
	b.mins = m.sketcher.Sketch(b.events, b.mins[:0])
	m.profiler.stop(StageSketch, start)

	start = m.profiler.start()
	var nSeeds int
	b.anchors, nSeeds, st.repLen = b.collector.Collect(b.anchors, b.mins, name, st.Offset, m.idx, st.carry)
	m.profiler.stop(StageSeed, start)
	m.profiler.AddSeeds(nSeeds)

	start = m.profiler.start()
	res := b.chainer.Chain(b.anchors)
	st.carry = append(st.carry[:0], res.Anchors...)
	qlen := st.Offset + uint32(nEvents)
	st.Regions = chain.GenRegions(st.Regions, chain.ReadHash(qlen), int32(qlen), res)
	st.Regions = chain.SetParent(st.Regions, opts.MaskLevel, int32(opts.MaskLen), opts.AltDrop)
	st.Regions = chain.SelectSub(st.Regions, opts.PriRatio, opts.BestN, int32(float32(opts.MaxGapRef)*0.8))
	st.result = res
	m.profiler.stop(StageChain, start)

	if m.verifier != nil {
		start = m.profiler.start()
		m.verify(st)
		m.profiler.stop(StageAlign, start)
	}
	chain.SetMapQ(st.Regions, int32(opts.MinChainScore), st.repLen, int32(opts.MinAnchors), m.verifier != nil, opts.MinAlignScore)
	st.Offset = qlen
}

// verify scores the regions by alignment. The best score found so far
// bounds the alignment of the remaining regions. Scores below the
// minimum are set to zero unless they are negative.
func (m *Mapper) verify(st *ReadState) {
	var best float32
	for i := range st.Regions {
		r := &st.Regions[i]
		ref := m.idx.Ref(r.RefID)
		score := m.verifier.VerifyRegion(r, st.result, st.events, ref.Forward, ref.Reverse, best)
		if score >= m.opts.MinAlignScore {
			if score > best {
				best = score
			}
		} else if score >= 0 {
			score = 0
		}
		r.AlignScore = score
	}
}

// confidence is the weighted score of a region compared against
// WeightThreshold. meanQ and meanC are the mean mapping quality and
// chaining score of all regions of the chunk.
func (m *Mapper) confidence(r *chain.Region, meanQ, meanC float32) float32 {
	opts := m.opts
	q, c := float32(r.MapQ), float32(r.Score)
	var rmq, rmc float32
	if q > 0 {
		rmq = float32(math.Max(float64(1-meanQ/q), 0))
	}
	if c > 0 {
		rmc = float32(math.Max(float64(1-meanC/c), 0))
	}
	if m.verifier != nil {
		a := r.AlignScore
		if a < opts.MinAlignScore {
			return 0
		}
		var ra float32
		if a > 0 {
			ra = a / 50
		}
		return opts.WeightAlign*ra + opts.WeightMeanQ*rmq + opts.WeightMeanC*rmc
	}
	var rq float32
	if q > 0 {
		rq = float32(math.Min(float64(q/30), 1))
	}
	return opts.WeightQ*rq + opts.WeightMeanQ*rmq + opts.WeightMeanC*rmc
}

func bestAligned(regions []chain.Region) int {
	best := 0
	for i := 1; i < len(regions); i++ {
		if regions[i].AlignScore > regions[best].AlignScore {
			best = i
		}
	}
	return best
}

// decide reports whether the read can be accepted after the last
// mapped chunk and records the accepted regions in the state.
func (m *Mapper) decide(st *ReadState) bool {
	opts := m.opts
	regions := st.Regions
	st.accepted = st.accepted[:0]
	if len(regions) == 0 {
		return false
	}
	if len(regions) == 1 && (int(regions[0].MapQ) >= opts.MinMapQ ||
		(m.verifier != nil && regions[0].AlignScore >= opts.MinAlignScore)) {
		st.accepted = append(st.accepted, 0)
		return true
	}
	var meanQ, meanC float32
	for i := range regions {
		meanQ += float32(regions[i].MapQ)
		meanC += float32(regions[i].Score)
	}
	meanQ /= float32(len(regions))
	meanC /= float32(len(regions))
	if !opts.AllChains {
		i := 0
		if m.verifier != nil {
			i = bestAligned(regions)
		}
		if m.confidence(&regions[i], meanQ, meanC) >= opts.WeightThreshold {
			st.accepted = append(st.accepted, i)
		}
		return len(st.accepted) > 0
	}
	for i := range regions {
		if m.confidence(&regions[i], meanQ, meanC) >= opts.WeightThreshold {
			st.accepted = append(st.accepted, i)
		}
	}
	return len(st.accepted) > 0
}

// A Result is the outcome of mapping one read.
type Result struct {
	Records []paf.Record
	// RefID is the reference of the first record when it is mapped.
	RefID uint32
}

// Mapped reports whether the read was mapped.
func (res *Result) Mapped() bool {
	return len(res.Records) > 0 && res.Records[0].Mapped
}

// Unmapped returns the first record of the result as an unmapped
// record.
func (res *Result) Unmapped() paf.Record {
	rec := res.Records[0]
	rec.Mapped = false
	rec.MapQ = 0
	return rec
}

// MapRead maps a read chunk by chunk until it is accepted or no
// chunks remain, and returns its records.
func (m *Mapper) MapRead(read *signal.Read) Result {
	b := m.GetBuffer()
	defer m.PutBuffer(b)
	return m.mapRead(b, read)
}

func (m *Mapper) mapRead(b *Buffer, read *signal.Read) Result {
	start := time.Now()
	st := b.Reset()
	qlen := len(read.Samples)
	chunk := m.opts.ChunkSize
	if chunk > qlen {
		chunk = qlen
	}
	maxChunks := m.opts.maxChunks(qlen)
	for qs := 0; qs < qlen && st.Chunks < maxChunks; qs += chunk {
		qe := qs + chunk
		if qe > qlen {
			qe = qlen
		}
		m.MapChunk(b, read.Name, read.Samples[qs:qe])
		if m.decide(st) {
			st.Phase = Accepted
			break
		}
	}
	if st.Phase != Accepted {
		st.Phase = Exhausted
		if len(st.Regions) > 0 && int(st.Regions[0].MapQ) > m.opts.MinMapQ {
			st.accepted = append(st.accepted[:0], 0)
		}
	}
	elapsed := time.Since(start)
	m.profiler.Add(StageMap, elapsed)
	return m.records(read, st, chunk, elapsed)
}

// records builds the output records of a read. Positions are event
// positions for signal indexes, and are projected onto bases with
// the samples per event and SamplePerBase otherwise.
func (m *Mapper) records(read *signal.Read, st *ReadState, chunk int, elapsed time.Duration) Result {
	chunks := st.Chunks
	if chunks == 0 {
		chunks = 1
	}
	signalTarget := m.idx.SignalTarget()
	var scale float32
	if st.Offset > 0 && m.opts.SamplePerBase > 0 {
		scale = float32(chunks*chunk) / float32(st.Offset) / m.opts.SamplePerBase
	}
	project := func(pos uint32) uint32 {
		if signalTarget {
			return pos
		}
		return uint32(scale * float32(pos))
	}
	tags := paf.Tags{
		Time:         float64(elapsed) / float64(time.Millisecond),
		Chunks:       uint32(chunks),
		SignalLength: uint32(len(read.Samples)),
		NumChains:    int32(len(st.Regions)),
	}
	if n := len(st.Regions); n > 0 {
		var sum float32
		for i := range st.Regions {
			sum += float32(st.Regions[i].Score)
		}
		tags.MeanScore = sum / float32(n)
	}
	if len(st.accepted) == 0 {
		if len(st.Regions) > 0 {
			tags.Count = st.Regions[0].Count
			tags.Score = st.Regions[0].Score
		}
		return Result{Records: []paf.Record{{
			ReadName:   read.Name,
			ReadLength: project(st.Offset),
			Tags:       tags,
		}}}
	}
	res := Result{Records: make([]paf.Record, 0, len(st.accepted))}
	for _, i := range st.accepted {
		r := &st.Regions[i]
		ref := m.idx.Ref(r.RefID)
		rec := paf.Record{
			ReadName:   read.Name,
			ReadLength: project(uint32(r.QEnd)),
			ReadStart:  project(uint32(r.QStart)),
			ReadEnd:    project(uint32(r.QEnd)),
			Rev:        r.Rev,
			RefName:    ref.Name,
			RefLength:  ref.Length,
			FragStart:  uint32(r.RefStart),
			FragLength: uint32(r.RefEnd - r.RefStart + 1),
			MapQ:       r.MapQ,
			Mapped:     true,
			Tags:       tags,
		}
		if signalTarget {
			rec.ReadLength = st.Offset
		}
		if r.Rev {
			rec.FragStart = ref.Length + 1 - uint32(r.RefEnd)
		}
		rec.Tags.Count = r.Count
		rec.Tags.Score = r.Score
		if len(res.Records) == 0 {
			res.RefID = r.RefID
		}
		res.Records = append(res.Records, rec)
	}
	return res
}
