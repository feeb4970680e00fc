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

// Package signal reads raw signal reads and segments them into
// events.
package signal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/exascience/elsig/internal"
)

// A Read is one raw signal read.
type Read struct {
	Name    string
	Samples []float32
}

const maxLineLength = 1 << 30

// Reader is a pipeline.Source that produces batches of reads from a
// file or from all files in a directory, in name order. Each line
// holds a read name, a tab, and comma-separated sample values.
//
// A batch ends after size reads or once it holds at least the
// configured number of samples. When a limiter is set, a slot must be
// acquired in it before each batch is fetched; the consumer of the
// batch releases it.
type Reader struct {
	files        []string
	next         int
	scanner      *bufio.Scanner
	closer       io.Closer
	batchSamples int

	limiter chan struct{}
	stopped int32
	ctx     context.Context

	err  error
	data []*Read
}

// NewReader creates a Reader for the given file or directory.
func NewReader(path string, batchSamples int) (*Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	names, err := internal.Directory(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if info.IsDir() {
		dir = path
	}
	files := make([]string, 0, len(names))
	for _, name := range names {
		files = append(files, filepath.Join(dir, name))
	}
	return &Reader{files: files, batchSamples: batchSamples}, nil
}

// SetLimiter sets the channel used to bound the number of batches in
// flight.
func (r *Reader) SetLimiter(limiter chan struct{}) {
	r.limiter = limiter
}

// Stop makes subsequent fetches return no data. It is safe to call
// from any goroutine.
func (r *Reader) Stop() {
	atomic.StoreInt32(&r.stopped, 1)
}

// Stopped reports whether Stop was called.
func (r *Reader) Stopped() bool {
	return atomic.LoadInt32(&r.stopped) != 0
}

// Close closes the currently open file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer, r.scanner = nil, nil
	return err
}

// Err implements the method of the pipeline.Source interface.
func (r *Reader) Err() error {
	return r.err
}

// Prepare implements the method of the pipeline.Source interface.
func (r *Reader) Prepare(ctx context.Context) (size int) {
	r.ctx = ctx
	return -1
}

func (r *Reader) nextLine() (string, bool) {
	for {
		if r.scanner == nil {
			if r.next >= len(r.files) {
				return "", false
			}
			in, err := internal.Open(r.files[r.next])
			if err != nil {
				r.err = err
				return "", false
			}
			r.next++
			r.closer = in
			r.scanner = bufio.NewScanner(in)
			r.scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
		}
		if r.scanner.Scan() {
			return r.scanner.Text(), true
		}
		if err := r.scanner.Err(); err != nil {
			r.err = fmt.Errorf("%v, while reading %v", err, r.files[r.next-1])
			return "", false
		}
		if err := r.Close(); err != nil {
			r.err = err
			return "", false
		}
	}
}

// ParseRead parses one line of a signal file.
func ParseRead(line string) (*Read, error) {
	tab := strings.IndexByte(line, '\t')
	if tab <= 0 {
		return nil, fmt.Errorf("invalid signal line, missing read name")
	}
	read := &Read{Name: line[:tab]}
	values := line[tab+1:]
	if values == "" {
		return read, nil
	}
	read.Samples = make([]float32, 0, strings.Count(values, ",")+1)
	for len(values) > 0 {
		field := values
		if comma := strings.IndexByte(values, ','); comma >= 0 {
			field, values = values[:comma], values[comma+1:]
		} else {
			values = ""
		}
		value, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return nil, fmt.Errorf("%v, while parsing signal of read %v", err, read.Name)
		}
		read.Samples = append(read.Samples, float32(value))
	}
	return read, nil
}

func (r *Reader) acquire() bool {
	if r.limiter == nil {
		return true
	}
	var done <-chan struct{}
	if r.ctx != nil {
		done = r.ctx.Done()
	}
	select {
	case r.limiter <- struct{}{}:
		return true
	case <-done:
		return false
	}
}

// Fetch implements the method of the pipeline.Source interface.
func (r *Reader) Fetch(size int) (fetched int) {
	r.data = nil
	if r.err != nil || r.Stopped() || !r.acquire() {
		return 0
	}
	var samples int
	var reads []*Read
	for fetched < size && (r.batchSamples <= 0 || samples < r.batchSamples) {
		line, ok := r.nextLine()
		if !ok {
			break
		}
		if line == "" {
			continue
		}
		read, err := ParseRead(line)
		if err != nil {
			r.err = err
			break
		}
		reads = append(reads, read)
		samples += len(read.Samples)
		fetched++
	}
	if fetched == 0 || r.err != nil {
		r.Release()
		return 0
	}
	r.data = reads
	return fetched
}

// Release frees a slot in the limiter.
func (r *Reader) Release() {
	if r.limiter != nil {
		<-r.limiter
	}
}

// Data implements the method of the pipeline.Source interface.
func (r *Reader) Data() interface{} {
	return r.data
}
