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

package index

import (
	"bufio"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/exascience/elsig/internal"
	"github.com/exascience/pargo/pipeline"
)

// IndexHeader is the header line that every elsig index file starts with.
const IndexHeader = "# elsig index format version 1.0\n"

// flags of hash lines
const (
	tandemFlag = 1 << iota
	selfFlag
)

type (
	refEntry struct {
		name   string
		length uint32
	}

	hashEntry struct {
		hash  uint64
		match Match
	}

	traceEntry struct {
		refID  uint32
		rev    bool
		events []float32
	}

	indexChunk struct {
		params []int
		refs   []refEntry
		hashes []hashEntry
		traces []traceEntry
	}
)

func parseEvents(s string) ([]float32, error) {
	fields := strings.Split(s, ",")
	events := make([]float32, 0, len(fields))
	for _, field := range fields {
		if field == "" {
			continue
		}
		value, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return nil, err
		}
		events = append(events, float32(value))
	}
	return events, nil
}

func parseIndexLine(line string, chunk *indexChunk) error {
	fields := strings.Split(line, "\t")
	if len(fields) == 0 || fields[0] == "" {
		return nil
	}
	switch fields[0] {
	case "P":
		if len(fields) != 3 {
			return fmt.Errorf("invalid parameter line %v", line)
		}
		seedSpan, err := strconv.Atoi(fields[1])
		if err != nil {
			return err
		}
		signal, err := strconv.Atoi(fields[2])
		if err != nil {
			return err
		}
		chunk.params = append(chunk.params, seedSpan, signal)
	case "R":
		if len(fields) != 3 {
			return fmt.Errorf("invalid reference line %v", line)
		}
		length, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return err
		}
		chunk.refs = append(chunk.refs, refEntry{name: fields[1], length: uint32(length)})
	case "H":
		if len(fields) != 6 {
			return fmt.Errorf("invalid hash line %v", line)
		}
		hash, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return err
		}
		refID, err := strconv.ParseUint(fields[2], 10, 31)
		if err != nil {
			return err
		}
		pos, err := strconv.ParseUint(fields[3], 10, 32)
		if err != nil {
			return err
		}
		flags, err := strconv.ParseUint(fields[5], 10, 8)
		if err != nil {
			return err
		}
		chunk.hashes = append(chunk.hashes, hashEntry{hash, Match{
			RefID:  uint32(refID),
			Pos:    uint32(pos),
			Rev:    fields[4] == "-",
			Tandem: flags&tandemFlag != 0,
			Self:   flags&selfFlag != 0,
		}})
	case "F", "B":
		if len(fields) != 3 {
			return fmt.Errorf("invalid event line %v", line)
		}
		refID, err := strconv.ParseUint(fields[1], 10, 31)
		if err != nil {
			return err
		}
		events, err := parseEvents(fields[2])
		if err != nil {
			return err
		}
		chunk.traces = append(chunk.traces, traceEntry{uint32(refID), fields[0] == "B", events})
	default:
		return fmt.Errorf("unknown index record type %v", fields[0])
	}
	return nil
}

// Load reads an index in the elsig text index format. Files ending
// in .zst are decompressed transparently.
func Load(filename string) (idx *Memory, err error) {
	pathname, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}
	in, err := internal.Open(pathname)
	if err != nil {
		return nil, err
	}
	defer func() {
		if nerr := in.Close(); nerr != nil {
			if err == nil {
				idx = nil
				err = nerr
			}
		}
	}()
	input := bufio.NewReader(in)
	header, err := input.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if header != IndexHeader {
		return nil, fmt.Errorf("%v is not an elsig index file - invalid header", filename)
	}
	var p pipeline.Pipeline
	p.Source(pipeline.NewScanner(input))
	p.Add(pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
		chunk := &indexChunk{}
		for _, line := range data.([]string) {
			if err := parseIndexLine(line, chunk); err != nil {
				p.SetErr(fmt.Errorf("%v, while parsing index line %v", err, line))
				return chunk
			}
		}
		return chunk
	})))
	var all indexChunk
	p.Add(pipeline.Ord(pipeline.Receive(func(_ int, data interface{}) interface{} {
		chunk := data.(*indexChunk)
		all.params = append(all.params, chunk.params...)
		all.refs = append(all.refs, chunk.refs...)
		all.hashes = append(all.hashes, chunk.hashes...)
		all.traces = append(all.traces, chunk.traces...)
		return data
	})))
	p.Run()
	if err = p.Err(); err != nil {
		return nil, err
	}
	if len(all.params) != 2 {
		return nil, fmt.Errorf("%v: missing or repeated parameter line", filename)
	}
	idx = NewMemory(all.params[0], all.params[1] != 0)
	for _, ref := range all.refs {
		idx.AddReference(&Reference{Name: ref.name, Length: ref.length})
	}
	for _, trace := range all.traces {
		if int(trace.refID) >= len(idx.refs) {
			return nil, fmt.Errorf("%v: event trace for unknown reference %v", filename, trace.refID)
		}
		if trace.rev {
			idx.refs[trace.refID].Reverse = trace.events
		} else {
			idx.refs[trace.refID].Forward = trace.events
		}
	}
	for _, entry := range all.hashes {
		if int(entry.match.RefID) >= len(idx.refs) {
			return nil, fmt.Errorf("%v: seed for unknown reference %v", filename, entry.match.RefID)
		}
		idx.Add(entry.hash, entry.match)
	}
	idx.Sort()
	return idx, nil
}

func appendEvents(buf []byte, events []float32) []byte {
	for i, e := range events {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(e), 'g', -1, 32)
	}
	return buf
}

// Store writes the index in the elsig text index format. Seeds are
// written in hash order so that equal indexes produce equal files.
func (m *Memory) Store(filename string) (err error) {
	pathname, err := filepath.Abs(filename)
	if err != nil {
		return err
	}
	out, err := internal.Create(pathname)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := out.Close(); nerr != nil {
			if err == nil {
				err = nerr
			}
		}
	}()
	output := bufio.NewWriter(out)
	defer func() {
		if nerr := output.Flush(); nerr != nil {
			if err == nil {
				err = nerr
			}
		}
	}()
	if _, err = output.WriteString(IndexHeader); err != nil {
		return err
	}
	buf := []byte("P\t")
	buf = strconv.AppendInt(buf, int64(m.seedSpan), 10)
	if m.signalTarget {
		buf = append(buf, "\t1\n"...)
	} else {
		buf = append(buf, "\t0\n"...)
	}
	if _, err = output.Write(buf); err != nil {
		return err
	}
	buf = buf[:0]
	for id, ref := range m.refs {
		buf = append(buf, "R\t"...)
		buf = append(buf, ref.Name...)
		buf = append(buf, '\t')
		buf = strconv.AppendUint(buf, uint64(ref.Length), 10)
		buf = append(buf, '\n')
		for _, trace := range []struct {
			tag    string
			events []float32
		}{{"F\t", ref.Forward}, {"B\t", ref.Reverse}} {
			if trace.events == nil {
				continue
			}
			buf = append(buf, trace.tag...)
			buf = strconv.AppendInt(buf, int64(id), 10)
			buf = append(buf, '\t')
			buf = appendEvents(buf, trace.events)
			buf = append(buf, '\n')
		}
		if _, err = output.Write(buf); err != nil {
			return err
		}
		buf = buf[:0]
	}
	hashes := make([]uint64, 0, len(m.table))
	for hash := range m.table {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	for _, hash := range hashes {
		for _, match := range m.table[hash] {
			buf = append(buf, "H\t"...)
			buf = strconv.AppendUint(buf, hash, 10)
			buf = append(buf, '\t')
			buf = strconv.AppendUint(buf, uint64(match.RefID), 10)
			buf = append(buf, '\t')
			buf = strconv.AppendUint(buf, uint64(match.Pos), 10)
			if match.Rev {
				buf = append(buf, "\t-"...)
			} else {
				buf = append(buf, "\t+"...)
			}
			var flags uint64
			if match.Tandem {
				flags |= tandemFlag
			}
			if match.Self {
				flags |= selfFlag
			}
			buf = append(buf, '\t')
			buf = strconv.AppendUint(buf, flags, 10)
			buf = append(buf, '\n')
		}
		if _, err = output.Write(buf); err != nil {
			return err
		}
		buf = buf[:0]
	}
	return nil
}
