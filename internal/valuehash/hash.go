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

// Package valuehash computes the 128-bit content hash the dedup layer
// keys on. It wraps zeebo/xxh3's Hash128: same algorithm family and
// collision bound as XXH3_128.
package valuehash

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// Hash is the 16-byte content hash stored verbatim in hashes_table.bin.
type Hash [16]byte

// Sum computes the 128-bit hash of the canonical serialized bytes of a
// value. The on-disk representation is little-endian Lo then Hi, which
// is also the order the Lo and Hi accessors read the two halves back.
func Sum(data []byte) Hash {
	h := xxh3.Hash128(data)
	var out Hash
	binary.LittleEndian.PutUint64(out[0:8], h.Lo)
	binary.LittleEndian.PutUint64(out[8:16], h.Hi)
	return out
}

// Lo returns the low 64 bits. The dedup map keys on the whole Hash.
func (h Hash) Lo() uint64 { return binary.LittleEndian.Uint64(h[0:8]) }

// Hi returns the high 64 bits.
func (h Hash) Hi() uint64 { return binary.LittleEndian.Uint64(h[8:16]) }

// IsZero reports whether h is the all-zero sentinel (never a real hash
// in practice, used by callers to detect an unset field).
func (h Hash) IsZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}
