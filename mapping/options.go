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
	"fmt"
	"math"

	"github.com/exascience/elsig/align"
	"github.com/exascience/elsig/chain"
	"github.com/exascience/elsig/seeds"
	"github.com/exascience/elsig/until"
)

// Options configures a Mapper and the mapping pipeline.
type Options struct {
	// ChunkSize is the number of samples mapped at a time.
	ChunkSize int
	// MaxChunks bounds the number of chunks of a read that are mapped
	// before giving up on it.
	MaxChunks int
	// NoAdaptive maps reads in full instead of stopping after
	// MaxChunks chunks.
	NoAdaptive bool
	// MinEvents is the number of events below which a chunk is
	// skipped.
	MinEvents int
	MinMapQ   int

	// Chaining is "dp" or "rmq".
	Chaining      string
	Bandwidth     int
	BandwidthLong int
	MaxGapRef     int
	MaxGapQuery   int
	MaxSkips      int
	MaxIter       int
	RMQInnerDist  int
	RMQSizeCap    int
	GapScale      float32
	SkipScale     float32
	MinAnchors    int
	MinChainScore int

	MaskLevel float32
	MaskLen   int
	PriRatio  float32
	BestN     int
	AltDrop   float32

	// MaxOcc is the occurrence count above which seeds are dropped.
	// When zero, it is derived from the index with OccFrac.
	MaxOcc    int
	OccFrac   float64
	MaxMaxOcc int
	OccDist   int

	// QuantBits and Window configure the sketcher and must match the
	// index.
	QuantBits int
	Window    int

	Verify         bool
	Border         string
	Fill           string
	BandRadiusFrac float32
	MatchBonus     float32
	MinAlignScore  float32

	WeightQ         float32
	WeightMeanQ     float32
	WeightMeanC     float32
	WeightAlign     float32
	WeightThreshold float32

	SequenceUntil bool
	Until         until.Options

	// AllChains reports every accepted chain instead of only the best.
	AllChains     bool
	SamplePerBase float32

	// MiniBatchSize is the number of samples read per batch.
	MiniBatchSize int
	// BatchReads bounds the number of reads per batch.
	BatchReads  int
	MaxInFlight int
	Threads     int
	Timed       bool
}

// DefaultOptions returns the options used when no flags are given.
func DefaultOptions() *Options {
	return &Options{
		ChunkSize:     4000,
		MaxChunks:     5,
		MinEvents:     50,
		MinMapQ:       5,
		Chaining:      "dp",
		Bandwidth:     500,
		MaxGapRef:     2000,
		MaxGapQuery:   2000,
		MaxSkips:      25,
		MaxIter:       5000,
		RMQInnerDist:  1000,
		RMQSizeCap:    100000,
		GapScale:      1.2,
		SkipScale:     0,
		MinAnchors:    2,
		MinChainScore: 15,

		MaskLevel: 0.5,
		MaskLen:   math.MaxInt32,
		PriRatio:  0.3,
		BestN:     5,
		AltDrop:   0.15,

		OccFrac:   0.005,
		MaxMaxOcc: 4095,
		OccDist:   500,

		QuantBits: 4,
		Window:    1,

		Border:         "sparse",
		Fill:           "banded",
		BandRadiusFrac: 0.1,
		MatchBonus:     0.4,
		MinAlignScore:  10,

		WeightQ:         0.5,
		WeightMeanQ:     0.2,
		WeightMeanC:     0.3,
		WeightAlign:     0.5,
		WeightThreshold: 0.5,

		Until: until.Options{
			MinReads:  500,
			Interval:  500,
			Samples:   5,
			Threshold: 0.05,
		},

		SamplePerBase: 10,
		MiniBatchSize: 500000000,
		BatchReads:    4096,
		MaxInFlight:   2,
	}
}

// Validate checks the options for consistency.
func (opts *Options) Validate() error {
	switch {
	case opts.ChunkSize <= 0:
		return fmt.Errorf("invalid chunk size %v", opts.ChunkSize)
	case !opts.NoAdaptive && opts.MaxChunks <= 0:
		return fmt.Errorf("invalid maximum number of chunks %v", opts.MaxChunks)
	case opts.MinEvents < 0:
		return fmt.Errorf("invalid minimum number of events %v", opts.MinEvents)
	case opts.MinMapQ < 0 || opts.MinMapQ > 255:
		return fmt.Errorf("invalid minimum mapping quality %v", opts.MinMapQ)
	case opts.Chaining != "dp" && opts.Chaining != "rmq":
		return fmt.Errorf("unknown chaining algorithm %v", opts.Chaining)
	case opts.Bandwidth <= 0:
		return fmt.Errorf("invalid bandwidth %v", opts.Bandwidth)
	case opts.MaxGapRef <= 0 || opts.MaxGapQuery <= 0:
		return fmt.Errorf("invalid maximum gap %v/%v", opts.MaxGapRef, opts.MaxGapQuery)
	case opts.MaxIter <= 0:
		return fmt.Errorf("invalid maximum number of chaining iterations %v", opts.MaxIter)
	case opts.MaxSkips < 0:
		return fmt.Errorf("invalid maximum number of skips %v", opts.MaxSkips)
	case opts.RMQInnerDist < 0 || opts.RMQSizeCap <= 0:
		return fmt.Errorf("invalid RMQ inner distance %v or size cap %v", opts.RMQInnerDist, opts.RMQSizeCap)
	case opts.MinAnchors <= 0:
		return fmt.Errorf("invalid minimum number of anchors %v", opts.MinAnchors)
	case opts.BestN < 0:
		return fmt.Errorf("invalid number of secondary chains %v", opts.BestN)
	case opts.MaxOcc < 0 || opts.OccFrac < 0 || opts.OccFrac >= 1:
		return fmt.Errorf("invalid occurrence bounds %v/%v", opts.MaxOcc, opts.OccFrac)
	case opts.QuantBits <= 0:
		return fmt.Errorf("invalid quantization %v", opts.QuantBits)
	case opts.Window <= 0:
		return fmt.Errorf("invalid minimizer window %v", opts.Window)
	case opts.SamplePerBase < 0:
		return fmt.Errorf("invalid samples per base %v", opts.SamplePerBase)
	case opts.MiniBatchSize <= 0 || opts.BatchReads <= 0:
		return fmt.Errorf("invalid batch size %v/%v", opts.MiniBatchSize, opts.BatchReads)
	case opts.MaxInFlight <= 0:
		return fmt.Errorf("invalid number of batches in flight %v", opts.MaxInFlight)
	case opts.Threads < 0:
		return fmt.Errorf("invalid number of threads %v", opts.Threads)
	}
	if opts.Verify {
		if _, err := align.ParseBorder(opts.Border); err != nil {
			return err
		}
		if _, err := align.ParseFill(opts.Fill); err != nil {
			return err
		}
		if opts.BandRadiusFrac <= 0 {
			return fmt.Errorf("invalid band radius fraction %v", opts.BandRadiusFrac)
		}
	}
	if opts.SequenceUntil {
		if err := opts.Until.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// maxChunks is the number of chunks of a read of qlen samples that
// may be mapped.
func (opts *Options) maxChunks(qlen int) int {
	if !opts.NoAdaptive {
		return opts.MaxChunks
	}
	chunk := opts.ChunkSize
	if chunk > qlen {
		chunk = qlen
	}
	return qlen/(chunk+1) + 1
}

// chainParams derives the chaining parameters for seeds covering
// seedSpan events.
func (opts *Options) chainParams(seedSpan int) chain.Params {
	gap, skip := chain.Penalties(opts.GapScale, opts.SkipScale, seedSpan)
	return chain.Params{
		MaxGapRef:     int32(opts.MaxGapRef),
		MaxGapQuery:   int32(opts.MaxGapQuery),
		Bandwidth:     int32(opts.Bandwidth),
		BandwidthLong: int32(opts.BandwidthLong),
		MaxSkip:       opts.MaxSkips,
		MaxIter:       opts.MaxIter,
		RMQ:           opts.Chaining == "rmq",
		RMQInnerDist:  int32(opts.RMQInnerDist),
		RMQSizeCap:    opts.RMQSizeCap,
		MinCount:      int32(opts.MinAnchors),
		MinScore:      int32(opts.MinChainScore),
		GapPenalty:    gap,
		SkipPenalty:   skip,
	}
}

func (opts *Options) occurrence(maxOcc int) seeds.Occurrence {
	return seeds.Occurrence{MaxOcc: maxOcc, MaxMaxOcc: opts.MaxMaxOcc, Dist: opts.OccDist}
}
