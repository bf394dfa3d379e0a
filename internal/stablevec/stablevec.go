// Copyright 2024 The sxpdb Authors
// This file is part of sxpdb.
//
// sxpdb is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// sxpdb is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with sxpdb. If not, see <http://www.gnu.org/licenses/>.

// Package stablevec implements a chunked vector: a sequence whose
// element addresses never move on append. Each chunk has a fixed,
// pre-reserved capacity; growth allocates a new chunk instead of
// reallocating an existing one, so a pointer handed out by At never
// dangles after later appends.
package stablevec

const defaultChunkElems = 4096

// Vector is a stable-address, append-only sequence of T. The zero value
// is ready to use.
type Vector[T any] struct {
	chunks    [][]T
	chunkSize int
	size      int
}

// New returns a Vector whose chunks hold chunkSizeElems elements each.
// A value <= 0 selects a reasonable default.
func New[T any](chunkSizeElems int) *Vector[T] {
	if chunkSizeElems <= 0 {
		chunkSizeElems = defaultChunkElems
	}
	return &Vector[T]{chunkSize: chunkSizeElems}
}

// Len reports the number of elements appended so far.
func (v *Vector[T]) Len() int { return v.size }

// Append adds value at the end and returns a pointer to its stored copy.
// That pointer remains valid for the lifetime of the Vector: Append
// never moves existing elements, it only ever allocates new chunks.
func (v *Vector[T]) Append(value T) *T {
	if v.chunkSize == 0 {
		v.chunkSize = defaultChunkElems
	}
	chunkIdx := v.size / v.chunkSize
	offset := v.size % v.chunkSize
	if chunkIdx == len(v.chunks) {
		v.chunks = append(v.chunks, make([]T, 0, v.chunkSize))
	}
	v.chunks[chunkIdx] = append(v.chunks[chunkIdx], value)
	v.size++
	return &v.chunks[chunkIdx][offset]
}

// At returns a pointer to the element at pos, valid for the Vector's
// lifetime regardless of subsequent Appends.
func (v *Vector[T]) At(pos int) *T {
	if pos < 0 || pos >= v.size {
		panic("stablevec: index out of range")
	}
	chunkIdx := pos / v.chunkSize
	offset := pos % v.chunkSize
	return &v.chunks[chunkIdx][offset]
}

// Get returns the element at pos by value.
func (v *Vector[T]) Get(pos int) T { return *v.At(pos) }

// ForEach calls fn for every element in order, passing its stable
// address. fn must not retain the Vector beyond the call if it intends
// to keep appending concurrently (the Vector is not goroutine-safe).
func (v *Vector[T]) ForEach(fn func(i int, elem *T)) {
	i := 0
	for _, chunk := range v.chunks {
		for off := range chunk {
			fn(i, &chunk[off])
			i++
		}
	}
}

// Truncate drops every element at index >= n, the only operation that
// ever discards already-appended elements. Used by repair paths that
// roll a table back to its last fully-formed record after a crash.
func (v *Vector[T]) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n >= v.size {
		return
	}
	chunkIdx := n / v.chunkSize
	offset := n % v.chunkSize
	if offset == 0 {
		v.chunks = v.chunks[:chunkIdx]
	} else {
		v.chunks[chunkIdx] = v.chunks[chunkIdx][:offset]
		v.chunks = v.chunks[:chunkIdx+1]
	}
	v.size = n
}
