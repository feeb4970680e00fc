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

// Package until decides when an acquisition run can stop because the
// estimated abundance of each reference has stabilized.
package until

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// State is the phase of a Controller.
type State int

const (
	// Collecting is the initial state, before any snapshot is taken.
	Collecting State = iota
	// Estimating means snapshots are being taken.
	Estimating
	// Converged is terminal.
	Converged
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Estimating:
		return "estimating"
	case Converged:
		return "converged"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a Controller.
type Options struct {
	// MinReads is the number of mapped reads before the first snapshot.
	MinReads int
	// Interval is the number of mapped reads between snapshots.
	Interval int
	// Samples is the number of snapshots compared.
	Samples int
	// Threshold is the largest coefficient of variation of any
	// reference's share across the snapshots at which the estimates
	// count as converged.
	Threshold float64
}

// Validate checks the options for consistency.
func (opts *Options) Validate() error {
	switch {
	case opts.MinReads < 0:
		return fmt.Errorf("invalid minimum number of reads %v", opts.MinReads)
	case opts.Interval <= 0:
		return fmt.Errorf("invalid snapshot interval %v", opts.Interval)
	case opts.Samples < 2:
		return fmt.Errorf("invalid number of snapshots %v", opts.Samples)
	case opts.Threshold < 0:
		return fmt.Errorf("invalid convergence threshold %v", opts.Threshold)
	}
	return nil
}

// A Controller tracks per-reference abundance. It is not safe for
// concurrent use.
type Controller struct {
	opts      Options
	state     State
	perRef    []float64
	total     float64
	nReads    int
	snapshots [][]float64
	current   int
	nSamples  int
	statistic float64
	column    []float64
}

// New creates a Controller for nRefs references.
func New(opts Options, nRefs int) *Controller {
	snapshots := make([][]float64, opts.Samples)
	for i := range snapshots {
		snapshots[i] = make([]float64, nRefs)
	}
	return &Controller{
		opts:      opts,
		perRef:    make([]float64, nRefs),
		snapshots: snapshots,
		statistic: math.Inf(1),
		column:    make([]float64, opts.Samples),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Reads returns the number of mapped reads added.
func (c *Controller) Reads() int {
	return c.nReads
}

// Statistic returns the last convergence statistic, or +Inf if none
// was computed yet.
func (c *Controller) Statistic() float64 {
	return c.statistic
}

// Estimates returns the current share of each reference.
func (c *Controller) Estimates() []float64 {
	shares := make([]float64, len(c.perRef))
	if c.total > 0 {
		for i, v := range c.perRef {
			shares[i] = v / c.total
		}
	}
	return shares
}

// Add records a mapped read of the given fragment length and reports
// whether the estimates converged as a result.
func (c *Controller) Add(refID uint32, length uint32) bool {
	if c.state == Converged || int(refID) >= len(c.perRef) {
		return false
	}
	c.perRef[refID] += float64(length)
	c.total += float64(length)
	c.nReads++
	if c.nReads <= c.opts.MinReads || c.nReads%c.opts.Interval != 0 || c.total == 0 {
		return false
	}
	snapshot := c.snapshots[c.current]
	for i, v := range c.perRef {
		snapshot[i] = v / c.total
	}
	c.current = (c.current + 1) % len(c.snapshots)
	c.state = Estimating
	if c.nSamples++; c.nSamples < len(c.snapshots) {
		return false
	}
	c.statistic = c.variation()
	if c.statistic <= c.opts.Threshold {
		c.state = Converged
		return true
	}
	return false
}

// variation returns the largest coefficient of variation of any
// reference's share across the stored snapshots.
func (c *Controller) variation() float64 {
	var max float64
	for ref := range c.perRef {
		for i, snapshot := range c.snapshots {
			c.column[i] = snapshot[ref]
		}
		mean, std := stat.MeanStdDev(c.column, nil)
		if mean <= 0 {
			continue
		}
		if cv := std / mean; cv > max {
			max = cv
		}
	}
	return max
}
