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

// Package intervals provides half-open query intervals and the
// operations needed to measure how much of a read is covered by
// repetitive seeds.
package intervals

import (
	"sort"

	psort "github.com/exascience/pargo/sort"
)

// Interval is a half-open range [Start, End) of query positions.
type Interval struct {
	Start, End int32
}

// Len returns the number of positions covered by the interval.
func (interval Interval) Len() int32 {
	if interval.End < interval.Start {
		return 0
	}
	return interval.End - interval.Start
}

type stableIntervalSorter []Interval

func (s stableIntervalSorter) SequentialSort(i, j int) {
	slice := s[i:j]
	sort.SliceStable(slice, func(i, j int) bool {
		return slice[i].Start < slice[j].Start
	})
}

func (s stableIntervalSorter) NewTemp() psort.StableSorter {
	return stableIntervalSorter(make([]Interval, len(s)))
}

func (s stableIntervalSorter) Len() int {
	return len(s)
}

func (s stableIntervalSorter) Less(i, j int) bool {
	return s[i].Start < s[j].Start
}

func (s stableIntervalSorter) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s, source.(stableIntervalSorter)
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

const parallelSortGrainSize = 0x2000

// SortByStart stably sorts intervals by start position. Large slices
// are sorted in parallel.
func SortByStart(intervals []Interval) {
	if len(intervals) < parallelSortGrainSize {
		stableIntervalSorter(intervals).SequentialSort(0, len(intervals))
		return
	}
	psort.StableSort(stableIntervalSorter(intervals))
}

// Extend grows interval1 to cover interval2 if they overlap or touch.
// interval2.Start >= interval1.Start must hold. Returns whether
// interval1 absorbed interval2.
func (interval1 *Interval) Extend(interval2 Interval) bool {
	if interval2.Start > interval1.End {
		return false
	}
	if interval2.End > interval1.End {
		interval1.End = interval2.End
	}
	return true
}

// Flatten merges overlapping or touching intervals in place.
// intervals must be sorted by start. The result is sorted, pairwise
// disjoint, and shares memory with the argument.
func Flatten(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return intervals
	}
	last := 0
	for _, interval := range intervals[1:] {
		if !intervals[last].Extend(interval) {
			last++
			intervals[last] = interval
		}
	}
	return intervals[:last+1]
}

// Covered returns the total number of positions covered by the union
// of the given intervals. The argument is sorted and flattened in
// place.
func Covered(intervals []Interval) (total int) {
	SortByStart(intervals)
	for _, interval := range Flatten(intervals) {
		total += int(interval.Len())
	}
	return total
}
