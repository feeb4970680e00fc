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

package signal

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// A Detector segments raw samples into events. Implementations
// append the event values to dst and return the extended slice. A
// Detector must be safe for concurrent use.
type Detector interface {
	Detect(samples []float32, dst []float32) []float32
}

// TTestDetector finds event boundaries as peaks of two-sample
// t-statistics over a short and a long window. Events are the means
// of the samples between boundaries, normalized to zero mean and unit
// variance.
type TTestDetector struct {
	Window1, Window2       int
	Threshold1, Threshold2 float32
	PeakHeight             float32
}

// DefaultTTestDetector returns a detector with the usual nanopore
// settings.
func DefaultTTestDetector() *TTestDetector {
	return &TTestDetector{
		Window1:    3,
		Window2:    6,
		Threshold1: 4.30265,
		Threshold2: 2.57058,
		PeakHeight: 1.0,
	}
}

const minVariance = 1e-5

// tstat computes the t-statistic of the windows [i-w, i) and [i, i+w)
// for each position i, zero where a window does not fit.
func tstat(sum, sumsq []float64, w int, dst []float32) []float32 {
	n := len(sum) - 1
	dst = dst[:0]
	for i := 0; i < n; i++ {
		dst = append(dst, 0)
	}
	if n < 2*w || w < 1 {
		return dst
	}
	fw := float64(w)
	for i := w; i <= n-w; i++ {
		sum1, sumsq1 := sum[i]-sum[i-w], sumsq[i]-sumsq[i-w]
		sum2, sumsq2 := sum[i+w]-sum[i], sumsq[i+w]-sumsq[i]
		mean1, mean2 := sum1/fw, sum2/fw
		variance := sumsq1/fw - mean1*mean1 + sumsq2/fw - mean2*mean2
		if variance < minVariance {
			variance = minVariance
		}
		dst[i] = float32(math.Abs(mean2-mean1) / math.Sqrt(variance/fw))
	}
	return dst
}

type peakDetector struct {
	signal    []float32
	threshold float32
	window    int
	maskedTo  int
	peakPos   int
	peakValue float32
	valid     bool
}

func (d *peakDetector) reset(value float32) {
	d.peakPos = -1
	d.peakValue = value
	d.valid = false
}

// peaks runs the short and the long peak detectors side by side. A
// confident short peak masks the long detector for one window.
func (d *TTestDetector) peaks(short, long *peakDetector, dst []int) []int {
	detectors := [2]*peakDetector{short, long}
	for i := range short.signal {
		for _, det := range detectors {
			if det.maskedTo >= i {
				continue
			}
			value := det.signal[i]
			if det.peakPos < 0 {
				if value < det.peakValue {
					det.peakValue = value
				} else if value-det.peakValue > d.PeakHeight {
					det.peakValue = value
					det.peakPos = i
				}
				continue
			}
			if value > det.peakValue {
				det.peakValue = value
				det.peakPos = i
			}
			if det == short && det.peakValue > det.threshold {
				long.maskedTo = det.peakPos + det.window
				long.reset(math.MaxFloat32)
			}
			if det.peakValue-value > d.PeakHeight && det.peakValue > det.threshold {
				det.valid = true
			}
			if det.valid && i-det.peakPos > det.window/2 {
				dst = append(dst, det.peakPos)
				det.reset(value)
			}
		}
	}
	return dst
}

// Detect implements the Detector interface.
func (d *TTestDetector) Detect(samples []float32, dst []float32) []float32 {
	n := len(samples)
	if n < 2*d.Window2 {
		return dst
	}
	sum := make([]float64, n+1)
	sumsq := make([]float64, n+1)
	for i, s := range samples {
		v := float64(s)
		sum[i+1] = sum[i] + v
		sumsq[i+1] = sumsq[i] + v*v
	}
	short := &peakDetector{signal: tstat(sum, sumsq, d.Window1, nil), threshold: d.Threshold1, window: d.Window1}
	long := &peakDetector{signal: tstat(sum, sumsq, d.Window2, nil), threshold: d.Threshold2, window: d.Window2}
	short.reset(math.MaxFloat32)
	long.reset(math.MaxFloat32)
	boundaries := d.peaks(short, long, nil)
	sort.Ints(boundaries)

	start := len(dst)
	prev := 0
	for _, b := range append(boundaries, n) {
		if b <= prev {
			continue
		}
		dst = append(dst, float32((sum[b]-sum[prev])/float64(b-prev)))
		prev = b
	}
	Normalize(dst[start:])
	return dst
}

// Normalize rescales events to zero mean and unit variance in place.
func Normalize(events []float32) {
	if len(events) < 2 {
		return
	}
	values := make([]float64, len(events))
	for i, e := range events {
		values[i] = float64(e)
	}
	mean, std := stat.MeanStdDev(values, nil)
	if std <= 0 {
		std = 1
	}
	for i, v := range values {
		events[i] = float32((v - mean) / std)
	}
}
