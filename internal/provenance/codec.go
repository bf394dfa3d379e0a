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

// Package provenance tracks, per stored value, where it came from: the
// (package, function, parameter) call sites that produced it (origins),
// the R class chain it carried (classes), the opaque call identifiers
// that observed it (callids), and the names of the source databases it
// was merged in from (dbnames). All four share the same discipline: an
// in-memory mirror of per-index sets/lists, snapshotted to a fresh pair
// of files and swapped into place on close so a crash mid-write never
// corrupts the previous snapshot.
package provenance

import (
	"bytes"
	"encoding/binary"
)

func encodeUint32s(ids []uint32) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(ids)))
	buf.Write(tmp[:n])
	for _, id := range ids {
		n := binary.PutUvarint(tmp[:], uint64(id))
		buf.Write(tmp[:n])
	}
	return buf.Bytes()
}

func decodeUint32s(data []byte) []uint32 {
	r := bytes.NewReader(data)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil
	}
	out := make([]uint32, 0, count)
	for i := uint64(0); i < count; i++ {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			break
		}
		out = append(out, uint32(v))
	}
	return out
}

func encodeUint64s(ids []uint64) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(ids)))
	buf.Write(tmp[:n])
	for _, id := range ids {
		n := binary.PutUvarint(tmp[:], id)
		buf.Write(tmp[:n])
	}
	return buf.Bytes()
}

func decodeUint64s(data []byte) []uint64 {
	r := bytes.NewReader(data)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil
	}
	out := make([]uint64, 0, count)
	for i := uint64(0); i < count; i++ {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			break
		}
		out = append(out, v)
	}
	return out
}
