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

package until

import "testing"

func testOptions() Options {
	return Options{MinReads: 10, Interval: 20, Samples: 5, Threshold: 0.01}
}

func TestValidate(t *testing.T) {
	opts := testOptions()
	if err := opts.Validate(); err != nil {
		t.Error(err)
	}
	opts.Samples = 1
	if err := opts.Validate(); err == nil {
		t.Error("Validate samples failed")
	}
	opts = testOptions()
	opts.Interval = 0
	if err := opts.Validate(); err == nil {
		t.Error("Validate interval failed")
	}
}

func TestConvergence(t *testing.T) {
	c := New(testOptions(), 2)
	if c.State() != Collecting {
		t.Error("initial state failed")
	}
	converged := -1
	for i := 0; i < 200; i++ {
		ref := uint32(0)
		if i%4 == 3 {
			ref = 1
		}
		if c.Add(ref, 1000) {
			converged = i
			break
		}
		if i == 20 && c.State() != Estimating {
			t.Error("estimating state failed")
		}
	}
	if converged != 99 || c.State() != Converged {
		t.Fatalf("convergence failed at %v in state %v", converged, c.State())
	}
	if c.Statistic() > 1e-9 {
		t.Errorf("convergence statistic failed: %v", c.Statistic())
	}
	if shares := c.Estimates(); shares[0] != 0.75 || shares[1] != 0.25 {
		t.Errorf("Estimates failed: %v", shares)
	}
	if c.Add(0, 1000) || c.Reads() != 100 || c.State() != Converged {
		t.Error("Converged is not terminal")
	}
}

func TestDrift(t *testing.T) {
	c := New(testOptions(), 2)
	for i := 0; i < 500; i++ {
		if i%2 == 0 {
			if c.Add(0, 100) {
				t.Fatalf("drifting estimates converged at %v", i)
			}
		} else if c.Add(1, uint32(i)) {
			t.Fatalf("drifting estimates converged at %v", i)
		}
	}
	if c.State() != Estimating || c.Statistic() <= 0.01 {
		t.Errorf("drift failed: %v %v", c.State(), c.Statistic())
	}
}
