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
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// headerMagic is the fixed two-byte prefix every canonical payload
// starts with.
var headerMagic = [2]byte{'B', '\n'}

// FormatVersion is bumped whenever the field layout below changes.
const FormatVersion = 1

// Serializer turns Values into the canonical byte sequence the rest of
// the engine hashes, stores and deduplicates on, and back. It keeps a
// reusable buffer so repeated Add calls do not thrash the allocator.
type Serializer struct {
	buf bytes.Buffer
}

// NewSerializer returns a Serializer with size bytes pre-reserved.
func NewSerializer(size int) *Serializer {
	s := &Serializer{}
	s.buf.Grow(size)
	return s
}

// Serialize encodes v into the reusable internal buffer and returns a
// view of it. The returned slice is invalidated by the next call to
// Serialize; callers that need to retain the bytes must copy them.
func (s *Serializer) Serialize(v *Value) ([]byte, error) {
	s.buf.Reset()
	s.buf.Write(headerMagic[:])
	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], FormatVersion)
	s.buf.Write(verBuf[:])
	if err := encodeValue(&s.buf, v); err != nil {
		return nil, err
	}
	return s.buf.Bytes(), nil
}

// Serialize is the free-function form used where no reusable buffer is
// warranted (merge, tests).
func Serialize(v *Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(headerMagic[:])
	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], FormatVersion)
	buf.Write(verBuf[:])
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize reconstructs a Value from canonical bytes produced by
// Serialize. Elided environments/closures come back as empty values of
// their own type, since a shared/cyclic reference cannot be
// reconstructed from a standalone record.
func Deserialize(data []byte) (*Value, error) {
	if len(data) < 6 || data[0] != headerMagic[0] || data[1] != headerMagic[1] {
		return nil, fmt.Errorf("codec: bad header")
	}
	ver := binary.LittleEndian.Uint32(data[2:6])
	if ver != FormatVersion {
		return nil, fmt.Errorf("codec: unsupported format version %d", ver)
	}
	r := &reader{data: data, pos: 6}
	v, err := decodeValue(r)
	if err != nil {
		return nil, err
	}
	return v, nil
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("codec: truncated payload")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("codec: truncated payload")
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uvarint() (uint64, error) {
	var x uint64
	var s uint
	for {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		if b < 0x80 {
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
}

func putUvarint(buf *bytes.Buffer, x uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], x)
	buf.Write(tmp[:n])
}

func encodeValue(buf *bytes.Buffer, v *Value) error {
	buf.WriteByte(byte(v.Type))

	switch v.Type {
	case TypeEnvironment, TypeClosure:
		// Cyclic/host-only values are elided entirely: no payload.
		return nil
	case TypeNull:
		return nil
	case TypeLogical:
		putUvarint(buf, uint64(len(v.Logical)))
		for _, b := range v.Logical {
			buf.WriteByte(byte(b))
		}
	case TypeInteger:
		putUvarint(buf, uint64(len(v.Integer)))
		var tmp [4]byte
		for _, i := range v.Integer {
			binary.LittleEndian.PutUint32(tmp[:], uint32(i))
			buf.Write(tmp[:])
		}
	case TypeDouble:
		putUvarint(buf, uint64(len(v.Double)))
		var tmp [8]byte
		for _, d := range v.Double {
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(d))
			buf.Write(tmp[:])
		}
	case TypeComplex:
		putUvarint(buf, uint64(len(v.Complex)))
		var tmp [8]byte
		for _, c := range v.Complex {
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(c.Re))
			buf.Write(tmp[:])
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(c.Im))
			buf.Write(tmp[:])
		}
	case TypeCharacter:
		putUvarint(buf, uint64(len(v.Character)))
		for i, str := range v.Character {
			na := i < len(v.CharacterNA) && v.CharacterNA[i]
			if na {
				buf.WriteByte(1)
				continue
			}
			buf.WriteByte(0)
			putUvarint(buf, uint64(len(str)))
			buf.WriteString(str)
		}
	case TypeRaw:
		putUvarint(buf, uint64(len(v.Raw)))
		buf.Write(v.Raw)
	case TypeList, TypeGeneric:
		putUvarint(buf, uint64(len(v.List)))
		for _, child := range v.List {
			if child == nil {
				child = &Value{Type: TypeNull}
			}
			if err := encodeValue(buf, child); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("codec: unknown type tag %d", v.Type)
	}

	return encodeAttributes(buf, v.Attributes)
}

func encodeAttributes(buf *bytes.Buffer, attrs map[string]*Value) error {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	putUvarint(buf, uint64(len(names)))
	for _, name := range names {
		putUvarint(buf, uint64(len(name)))
		buf.WriteString(name)
		if err := encodeValue(buf, attrs[name]); err != nil {
			return err
		}
	}
	return nil
}

func decodeValue(r *reader) (*Value, error) {
	tb, err := r.byte()
	if err != nil {
		return nil, err
	}
	v := &Value{Type: Type(tb)}

	switch v.Type {
	case TypeEnvironment, TypeClosure:
		v.Elided = true
		return v, nil
	case TypeNull:
		return v, nil
	case TypeLogical:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		v.Logical = make([]int8, n)
		for i := range v.Logical {
			b, err := r.byte()
			if err != nil {
				return nil, err
			}
			v.Logical[i] = int8(b)
		}
	case TypeInteger:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		v.Integer = make([]int32, n)
		for i := range v.Integer {
			b, err := r.take(4)
			if err != nil {
				return nil, err
			}
			v.Integer[i] = int32(binary.LittleEndian.Uint32(b))
		}
	case TypeDouble:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		v.Double = make([]float64, n)
		for i := range v.Double {
			b, err := r.take(8)
			if err != nil {
				return nil, err
			}
			v.Double[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
	case TypeComplex:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		v.Complex = make([]Complex, n)
		for i := range v.Complex {
			re, err := r.take(8)
			if err != nil {
				return nil, err
			}
			im, err := r.take(8)
			if err != nil {
				return nil, err
			}
			v.Complex[i] = Complex{
				Re: math.Float64frombits(binary.LittleEndian.Uint64(re)),
				Im: math.Float64frombits(binary.LittleEndian.Uint64(im)),
			}
		}
	case TypeCharacter:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		v.Character = make([]string, n)
		v.CharacterNA = make([]bool, n)
		for i := range v.Character {
			flag, err := r.byte()
			if err != nil {
				return nil, err
			}
			if flag == 1 {
				v.CharacterNA[i] = true
				continue
			}
			l, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			b, err := r.take(int(l))
			if err != nil {
				return nil, err
			}
			v.Character[i] = string(b)
		}
	case TypeRaw:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		b, err := r.take(int(n))
		if err != nil {
			return nil, err
		}
		v.Raw = append([]byte(nil), b...)
	case TypeList, TypeGeneric:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		v.List = make([]*Value, n)
		for i := range v.List {
			child, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			v.List[i] = child
		}
	default:
		return nil, fmt.Errorf("codec: unknown type tag %d", v.Type)
	}

	attrs, err := decodeAttributes(r)
	if err != nil {
		return nil, err
	}
	v.Attributes = attrs
	if cls, ok := attrs["class"]; ok {
		v.Class = append([]string(nil), cls.Character...)
	}
	if dim, ok := attrs["dim"]; ok {
		v.Dims = make([]int, len(dim.Integer))
		for i, d := range dim.Integer {
			v.Dims[i] = int(d)
		}
	}
	return v, nil
}

func decodeAttributes(r *reader) (map[string]*Value, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	attrs := make(map[string]*Value, n)
	for i := uint64(0); i < n; i++ {
		l, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		nameBytes, err := r.take(int(l))
		if err != nil {
			return nil, err
		}
		val, err := decodeValue(r)
		if err != nil {
			return nil, err
		}
		attrs[string(nameBytes)] = val
	}
	return attrs, nil
}

// Normalize syncs the Class/Dims convenience fields back into the
// Attributes map so that Serialize sees them. Callers that build a
// Value by hand (tests, bindings) should call this before Add.
func (v *Value) Normalize() {
	if v.Attributes == nil && (len(v.Class) > 0 || len(v.Dims) > 0) {
		v.Attributes = map[string]*Value{}
	}
	if len(v.Class) > 0 {
		na := make([]bool, len(v.Class))
		v.Attributes["class"] = &Value{Type: TypeCharacter, Character: append([]string(nil), v.Class...), CharacterNA: na}
	}
	if len(v.Dims) > 0 {
		ints := make([]int32, len(v.Dims))
		for i, d := range v.Dims {
			ints[i] = int32(d)
		}
		v.Attributes["dim"] = &Value{Type: TypeInteger, Integer: ints}
	}
	for _, child := range v.List {
		if child != nil {
			child.Normalize()
		}
	}
}
