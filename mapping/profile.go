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
	"log"
	"sync/atomic"
	"time"
)

// Stage is a part of the mapping work timed by a Profiler.
type Stage int

const (
	StageSignal Stage = iota
	StageSketch
	StageSeed
	StageChain
	StageAlign
	StageMap
	numStages
)

var stageNames = [numStages]string{"signal", "sketch", "seed", "chain", "align", "map"}

func (s Stage) String() string {
	if s >= 0 && s < numStages {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// A Profiler accumulates the time spent in each stage and the number
// of seed occurrences looked up over all workers. A nil *Profiler
// records nothing.
type Profiler struct {
	totals [numStages]int64
	seeds  int64
}

// NewProfiler returns an empty Profiler.
func NewProfiler() *Profiler {
	return &Profiler{}
}

func (p *Profiler) start() time.Time {
	if p == nil {
		return time.Time{}
	}
	return time.Now()
}

func (p *Profiler) stop(s Stage, start time.Time) {
	if p == nil {
		return
	}
	p.Add(s, time.Since(start))
}

// Add adds d to the total of stage s. It is safe for concurrent use.
func (p *Profiler) Add(s Stage, d time.Duration) {
	if p == nil {
		return
	}
	atomic.AddInt64(&p.totals[s], int64(d))
}

// Total returns the accumulated time of stage s.
func (p *Profiler) Total(s Stage) time.Duration {
	if p == nil {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&p.totals[s]))
}

// AddSeeds adds n seed occurrences. It is safe for concurrent use.
func (p *Profiler) AddSeeds(n int) {
	if p == nil {
		return
	}
	atomic.AddInt64(&p.seeds, int64(n))
}

// Seeds returns the number of seed occurrences looked up.
func (p *Profiler) Seeds() int64 {
	if p == nil {
		return 0
	}
	return atomic.LoadInt64(&p.seeds)
}

// Log writes the totals to the standard logger.
func (p *Profiler) Log() {
	if p == nil {
		return
	}
	for s := Stage(0); s < numStages; s++ {
		log.Printf("%v time: %v\n", s, p.Total(s))
	}
	log.Printf("seed occurrences: %v\n", p.Seeds())
}
