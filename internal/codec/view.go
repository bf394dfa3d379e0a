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

package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ElementView is the zero-copy { type_tag, length, data } triple the
// search index's slow pass (na scanning) reads directly off of, without
// materializing a *Value. It only covers the top-level scalar-vector
// payload.
type ElementView struct {
	Type   Type
	Length uint64
	Data   []byte // raw little-endian element bytes for fixed-width types
}

// View parses just enough of a canonical payload's header to report its
// type, length and a slice over the raw element bytes, without walking
// into attributes or child values.
func View(data []byte) (ElementView, error) {
	if len(data) < 6 || data[0] != headerMagic[0] || data[1] != headerMagic[1] {
		return ElementView{}, fmt.Errorf("codec: bad header")
	}
	r := &reader{data: data, pos: 6}
	tb, err := r.byte()
	if err != nil {
		return ElementView{}, err
	}
	t := Type(tb)
	ev := ElementView{Type: t}

	switch t {
	case TypeEnvironment, TypeClosure, TypeNull, TypeList, TypeGeneric:
		return ev, nil
	case TypeRaw:
		n, err := r.uvarint()
		if err != nil {
			return ElementView{}, err
		}
		b, err := r.take(int(n))
		if err != nil {
			return ElementView{}, err
		}
		ev.Length = n
		ev.Data = b
		return ev, nil
	case TypeCharacter:
		n, err := r.uvarint()
		if err != nil {
			return ElementView{}, err
		}
		ev.Length = n
		ev.Data = r.data[r.pos:] // caller must use ElementView.HasNA for character
		return ev, nil
	case TypeLogical, TypeInteger, TypeDouble, TypeComplex:
		n, err := r.uvarint()
		if err != nil {
			return ElementView{}, err
		}
		width := elementWidth(t)
		b, err := r.take(int(n) * width)
		if err != nil {
			return ElementView{}, err
		}
		ev.Length = n
		ev.Data = b
		return ev, nil
	default:
		return ElementView{}, fmt.Errorf("codec: unknown type tag %d", t)
	}
}

func elementWidth(t Type) int {
	switch t {
	case TypeLogical:
		return 1
	case TypeInteger:
		return 4
	case TypeDouble:
		return 8
	case TypeComplex:
		return 16
	default:
		return 0
	}
}

// HasNA scans an ElementView's raw bytes for a missing-value sentinel
// without deserializing attributes or nested values, the fast path the
// search index's na_index build uses.
func (ev ElementView) HasNA() bool {
	switch ev.Type {
	case TypeLogical:
		for _, b := range ev.Data {
			if int8(b) == NABool {
				return true
			}
		}
	case TypeInteger:
		for i := 0; i+4 <= len(ev.Data); i += 4 {
			if int32(binary.LittleEndian.Uint32(ev.Data[i:i+4])) == NAInt32 {
				return true
			}
		}
	case TypeDouble:
		for i := 0; i+8 <= len(ev.Data); i += 8 {
			d := math.Float64frombits(binary.LittleEndian.Uint64(ev.Data[i : i+8]))
			if isNaN(d) {
				return true
			}
		}
	case TypeComplex:
		for i := 0; i+16 <= len(ev.Data); i += 16 {
			re := math.Float64frombits(binary.LittleEndian.Uint64(ev.Data[i : i+8]))
			im := math.Float64frombits(binary.LittleEndian.Uint64(ev.Data[i+8 : i+16]))
			if isNaN(re) || isNaN(im) {
				return true
			}
		}
	case TypeCharacter:
		r := &reader{data: ev.Data, pos: 0}
		for i := uint64(0); i < ev.Length; i++ {
			flag, err := r.byte()
			if err != nil {
				return false
			}
			if flag == 1 {
				return true
			}
			l, err := r.uvarint()
			if err != nil {
				return false
			}
			if _, err := r.take(int(l)); err != nil {
				return false
			}
		}
	}
	return false
}
