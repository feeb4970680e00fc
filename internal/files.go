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

package internal

import (
	"bufio"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Directory returns the names of the files in the given directory,
// sorted by name. If file is not a directory, it returns the base
// name of file.
func Directory(file string) (files []string, err error) {
	info, err := os.Stat(file)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{filepath.Base(file)}, nil
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer func() {
		nerr := f.Close()
		if err == nil {
			err = nerr
		}
	}()
	files, err = f.Readdirnames(0)
	sort.Strings(files)
	return files, err
}

// FullPathname returns filename as an absolute path.
func FullPathname(filename string) (string, error) {
	if filepath.IsAbs(filename) {
		return filename, nil
	}
	wd, err := os.Getwd()
	return filepath.Join(wd, filename), err
}

// IsZstd reports whether filename designates a zstd-compressed file.
func IsZstd(filename string) bool {
	return strings.HasSuffix(filename, ".zst")
}

type zstdReadCloser struct {
	*zstd.Decoder
	file *os.File
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.file.Close()
}

// Open opens a file for reading. Files ending in .zst are
// decompressed transparently; "-" designates os.Stdin.
func Open(filename string) (io.ReadCloser, error) {
	if filename == "-" {
		return os.Stdin, nil
	}
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	if !IsZstd(filename) {
		return file, nil
	}
	dec, err := zstd.NewReader(bufio.NewReader(file))
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return zstdReadCloser{dec, file}, nil
}

type zstdWriteCloser struct {
	*zstd.Encoder
	file *os.File
}

func (z zstdWriteCloser) Close() error {
	err := z.Encoder.Close()
	if nerr := z.file.Close(); err == nil {
		err = nerr
	}
	return err
}

// Create creates a file for writing. Files ending in .zst are
// compressed transparently; "-" designates os.Stdout.
func Create(filename string) (io.WriteCloser, error) {
	if filename == "-" {
		return os.Stdout, nil
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	if !IsZstd(filename) {
		return file, nil
	}
	enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return zstdWriteCloser{enc, file}, nil
}

// FileCreate is os.Create with panics in place of errors
func FileCreate(name string) *os.File {
	file, err := os.Create(name)
	if err != nil {
		log.Panic(err)
	}
	return file
}

// MkdirAll is os.MkdirAll with panics in place of errors
func MkdirAll(path string, perm os.FileMode) {
	if err := os.MkdirAll(path, perm); err != nil {
		log.Panic(err)
	}
}

// Close is c.Close() with panics in place of errors
func Close(c io.Closer) {
	if err := c.Close(); err != nil {
		log.Panic(err)
	}
}
