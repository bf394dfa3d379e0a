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

package sxpdb

import (
	"encoding/binary"

	"github.com/PRL-PRG/sxpdb/internal/codec"
	"github.com/PRL-PRG/sxpdb/internal/valuehash"
)

// StaticMeta is a value's immutable metadata, written once on first
// insertion: the derivation rule lives in deriveStaticMeta.
type StaticMeta struct {
	Type        codec.Type
	SizeBytes   uint64
	Length      uint64
	NAttributes uint64
	NDims       uint32
	NRows       uint32
}

type staticMetaCodec struct{}

func (staticMetaCodec) Size() int { return 36 }
func (staticMetaCodec) Encode(v StaticMeta, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(v.Type))
	binary.LittleEndian.PutUint64(buf[4:12], v.SizeBytes)
	binary.LittleEndian.PutUint64(buf[12:20], v.Length)
	binary.LittleEndian.PutUint64(buf[20:28], v.NAttributes)
	binary.LittleEndian.PutUint32(buf[28:32], v.NDims)
	binary.LittleEndian.PutUint32(buf[32:36], v.NRows)
}
func (staticMetaCodec) Decode(buf []byte) StaticMeta {
	return StaticMeta{
		Type:        codec.Type(binary.LittleEndian.Uint32(buf[0:4])),
		SizeBytes:   binary.LittleEndian.Uint64(buf[4:12]),
		Length:      binary.LittleEndian.Uint64(buf[12:20]),
		NAttributes: binary.LittleEndian.Uint64(buf[20:28]),
		NDims:       binary.LittleEndian.Uint32(buf[28:32]),
		NRows:       binary.LittleEndian.Uint32(buf[32:36]),
	}
}

// RuntimeMeta is mutated on every re-observation of an already-known
// value.
type RuntimeMeta struct {
	NCalls  uint64
	NMerges uint32
}

type runtimeMetaCodec struct{}

func (runtimeMetaCodec) Size() int { return 12 }
func (runtimeMetaCodec) Encode(v RuntimeMeta, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], v.NCalls)
	binary.LittleEndian.PutUint32(buf[8:12], v.NMerges)
}
func (runtimeMetaCodec) Decode(buf []byte) RuntimeMeta {
	return RuntimeMeta{
		NCalls:  binary.LittleEndian.Uint64(buf[0:8]),
		NMerges: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// DebugCounters is the optional per-value diagnostic counter pair.
type DebugCounters struct {
	NMaybeShared    uint64
	NSexpAddressOpt uint64
}

type debugCountersCodec struct{}

func (debugCountersCodec) Size() int { return 16 }
func (debugCountersCodec) Encode(v DebugCounters, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], v.NMaybeShared)
	binary.LittleEndian.PutUint64(buf[8:16], v.NSexpAddressOpt)
}
func (debugCountersCodec) Decode(buf []byte) DebugCounters {
	return DebugCounters{
		NMaybeShared:    binary.LittleEndian.Uint64(buf[0:8]),
		NSexpAddressOpt: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// Counters is a per-Database lifetime counter record: how many ids
// were read or written, and how many values passed through the
// serializer in each direction. It replaces the original's
// process-wide globals with state scoped to one Database, matching
// the rest of the package's single-writer, not-thread-safe model - a
// caller sharing a *Database across goroutines must already
// synchronize every other method, so Counters needs no lock of its
// own.
type Counters struct {
	Reads        uint64
	Writes       uint64
	Serialized   uint64
	Deserialized uint64
}

type hashCodec struct{}

func (hashCodec) Size() int                           { return 16 }
func (hashCodec) Encode(v valuehash.Hash, buf []byte) { copy(buf, v[:]) }
func (hashCodec) Decode(buf []byte) valuehash.Hash {
	var h valuehash.Hash
	copy(h[:], buf)
	return h
}

// deriveStaticMeta derives a value's static metadata: length is the
// element count, n_attributes/n_dims read off the value's attributes,
// and n_rows follows the matrix/data-frame/vector fallback chain
// codec.Value.NRows already implements.
func deriveStaticMeta(v *codec.Value, sizeBytes uint64) StaticMeta {
	return StaticMeta{
		Type:        v.Type,
		SizeBytes:   sizeBytes,
		Length:      v.Length(),
		NAttributes: v.NAttributes(),
		NDims:       v.NDims(),
		NRows:       v.NRows(),
	}
}
