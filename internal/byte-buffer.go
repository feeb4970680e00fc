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

import "sync"

// lineBufferSize is the initial capacity of a pooled buffer, enough
// for one mapping record.
const lineBufferSize = 512

// maxPooledBuffer bounds the capacity of buffers kept in the pool.
const maxPooledBuffer = 1 << 20

var bufPool = sync.Pool{New: func() interface{} {
	return make([]byte, 0, lineBufferSize)
}}

// ReserveByteBuffer returns an empty slice of bytes from an internal
// pool. Use ReleaseByteBuffer to return it.
func ReserveByteBuffer() []byte {
	return bufPool.Get().([]byte)[:0]
}

// ReleaseByteBuffer returns the given slice of bytes to the internal
// pool. Buffers that grew beyond maxPooledBuffer are dropped.
func ReleaseByteBuffer(buf []byte) {
	if cap(buf) > maxPooledBuffer {
		return
	}
	bufPool.Put(buf[:0])
}
