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
	"log"

	"github.com/exascience/elsig/paf"
	"github.com/exascience/elsig/signal"
	"github.com/exascience/elsig/until"
	"github.com/exascience/pargo/parallel"
	"github.com/exascience/pargo/pipeline"
)

type batch struct {
	results []Result
	// stop is the index of the first read emitted as unmapped because
	// sequencing was stopped.
	stop    int
	dropped bool
}

// Run maps all reads of reader and writes their records to w, in
// input order. When sequence-until is enabled and the abundance
// estimates converge, reading stops: the reads after the triggering
// read in its batch are written as unmapped, and batches that were
// already read are dropped. Run returns the controller, which is nil
// when sequence-until is disabled.
func (m *Mapper) Run(reader *signal.Reader, w *paf.Writer) (*until.Controller, error) {
	opts := m.opts
	var controller *until.Controller
	if opts.SequenceUntil {
		controller = until.New(opts.Until, m.idx.NumRefs())
	}
	reader.SetLimiter(make(chan struct{}, opts.MaxInFlight))

	var p pipeline.Pipeline
	p.Source(reader)
	p.SetVariableBatchSize(opts.BatchReads, opts.BatchReads)

	stopped := false
	p.Add(
		pipeline.Ord(pipeline.Receive(func(_ int, data interface{}) interface{} {
			if stopped {
				return &batch{dropped: true}
			}
			reads := data.([]*signal.Read)
			b := &batch{results: make([]Result, len(reads)), stop: len(reads)}
			parallel.Range(0, len(reads), 0, func(low, high int) {
				buf := m.GetBuffer()
				defer m.PutBuffer(buf)
				for i := low; i < high; i++ {
					b.results[i] = m.mapRead(buf, reads[i])
				}
			})
			if controller == nil {
				return b
			}
			for i := range b.results {
				res := &b.results[i]
				if !res.Mapped() {
					continue
				}
				if controller.Add(res.RefID, res.Records[0].FragLength) {
					b.stop = i + 1
					stopped = true
					reader.Stop()
					log.Printf("Sequence until converged, stopping sequencing after %v mapped reads.\n", controller.Reads())
					break
				}
			}
			return b
		})),
		pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
			defer reader.Release()
			b := data.(*batch)
			if b.dropped {
				return nil
			}
			for i := range b.results {
				res := &b.results[i]
				var err error
				if i < b.stop {
					for j := range res.Records {
						if err = w.Write(&res.Records[j]); err != nil {
							break
						}
					}
				} else {
					rec := res.Unmapped()
					err = w.Write(&rec)
				}
				if err != nil {
					p.SetErr(err)
					return nil
				}
			}
			return nil
		})),
	)
	p.Run()
	if err := p.Err(); err != nil {
		return controller, err
	}
	return controller, w.Flush()
}
