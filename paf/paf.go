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

// Package paf formats mapping records as tab-separated lines in the
// pairwise mapping format.
package paf

import (
	"bufio"
	"io"
	"strconv"

	"github.com/exascience/elsig/internal"
)

// Tags are the diagnostic fields appended to every record.
type Tags struct {
	// Time is the mapping time of the read in milliseconds.
	Time float64
	// Chunks is the number of chunks consumed.
	Chunks uint32
	// SignalLength is the number of raw samples of the read.
	SignalLength uint32
	// Count, Score and NumChains describe the reported chain and the
	// chains of the last chunk; MeanScore is their mean score.
	Count     int32
	NumChains int32
	Score     int32
	MeanScore float32
}

// A Record is one output line. Positional fields are ignored when
// Mapped is false.
type Record struct {
	ReadName   string
	ReadLength uint32
	ReadStart  uint32
	ReadEnd    uint32
	Rev        bool

	RefName    string
	RefLength  uint32
	FragStart  uint32
	FragLength uint32

	MapQ   uint8
	Mapped bool
	Tags   Tags
}

func appendUint(out []byte, v uint32) []byte {
	return append(strconv.AppendUint(out, uint64(v), 10), '\t')
}

// Format appends the tags, separated by tabs.
func (tags *Tags) Format(out []byte) []byte {
	out = strconv.AppendFloat(append(out, "mt:f:"...), tags.Time, 'f', 6, 64)
	out = strconv.AppendUint(append(out, "\tci:i:"...), uint64(tags.Chunks), 10)
	out = strconv.AppendUint(append(out, "\tsl:i:"...), uint64(tags.SignalLength), 10)
	if tags.NumChains == 0 {
		return append(out, "\tcm:i:0\tnc:i:0\ts1:i:0\tsm:f:0"...)
	}
	out = strconv.AppendInt(append(out, "\tcm:i:"...), int64(tags.Count), 10)
	out = strconv.AppendInt(append(out, "\tnc:i:"...), int64(tags.NumChains), 10)
	out = strconv.AppendInt(append(out, "\ts1:i:"...), int64(tags.Score), 10)
	return strconv.AppendFloat(append(out, "\tsm:f:"...), float64(tags.MeanScore), 'f', 2, 32)
}

// Format appends the record as one line, including the newline.
func (rec *Record) Format(out []byte) []byte {
	out = append(append(out, rec.ReadName...), '\t')
	out = appendUint(out, rec.ReadLength)
	if !rec.Mapped {
		out = append(out, "*\t*\t*\t*\t*\t*\t*\t*\t*\t"...)
		out = appendUint(out, uint32(rec.MapQ))
		return append(rec.Tags.Format(out), '\n')
	}
	out = appendUint(out, rec.ReadStart)
	out = appendUint(out, rec.ReadEnd)
	if rec.Rev {
		out = append(out, '-', '\t')
	} else {
		out = append(out, '+', '\t')
	}
	out = append(append(out, rec.RefName...), '\t')
	out = appendUint(out, rec.RefLength)
	out = appendUint(out, rec.FragStart)
	out = appendUint(out, rec.FragStart+rec.FragLength)
	var span uint32
	if rec.ReadEnd > rec.ReadStart {
		span = rec.ReadEnd - rec.ReadStart - 1
	}
	out = appendUint(out, span)
	out = appendUint(out, rec.FragLength)
	out = appendUint(out, uint32(rec.MapQ))
	return append(rec.Tags.Format(out), '\n')
}

// A Writer writes records to a file. Files with a .zst extension are
// compressed, and "-" denotes standard output.
type Writer struct {
	wc  io.WriteCloser
	out *bufio.Writer
	buf []byte
}

// Create opens a Writer on the named file.
func Create(filename string) (*Writer, error) {
	wc, err := internal.Create(filename)
	if err != nil {
		return nil, err
	}
	return NewWriter(wc), nil
}

// NewWriter returns a Writer on wc. Close closes wc.
func NewWriter(wc io.WriteCloser) *Writer {
	return &Writer{
		wc:  wc,
		out: bufio.NewWriter(wc),
		buf: internal.ReserveByteBuffer(),
	}
}

// Write formats and writes the given records.
func (w *Writer) Write(records ...*Record) error {
	for _, rec := range records {
		w.buf = rec.Format(w.buf[:0])
		if _, err := w.out.Write(w.buf); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes buffered data to the underlying file.
func (w *Writer) Flush() error {
	return w.out.Flush()
}

// Close flushes and closes the Writer.
func (w *Writer) Close() error {
	if w.buf != nil {
		internal.ReleaseByteBuffer(w.buf)
		w.buf = nil
	}
	err := w.out.Flush()
	if cerr := w.wc.Close(); err == nil {
		err = cerr
	}
	return err
}
