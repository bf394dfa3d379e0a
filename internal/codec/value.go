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

// Package codec is the pinned external-collaborator boundary: a pure
// bytes <-> logical-value codec. The core storage engine never
// inspects a Value's payload directly outside of this package; it
// goes through Serialize/Deserialize and the zero-copy View.
package codec

// Type tags the algebraic kind of a stored value. Values 0..25 line up
// with the fixed-size types-index array the search layer keeps one
// bitmap per tag for.
type Type uint32

const (
	TypeNull Type = iota
	TypeLogical
	TypeInteger
	TypeDouble
	TypeComplex
	TypeCharacter
	TypeRaw
	TypeList
	TypeClosure
	TypeEnvironment
	TypeGeneric // catch-all structured/S4-like object
	numTypes
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeLogical:
		return "logical"
	case TypeInteger:
		return "integer"
	case TypeDouble:
		return "double"
	case TypeComplex:
		return "complex"
	case TypeCharacter:
		return "character"
	case TypeRaw:
		return "raw"
	case TypeList:
		return "list"
	case TypeClosure:
		return "closure"
	case TypeEnvironment:
		return "environment"
	case TypeGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// Complex mirrors a two-component complex number element.
type Complex struct {
	Re, Im float64
}

// Value is the in-memory logical representation callers hand to Add and
// get back from GetValue. Exactly one of the typed slices is meaningful,
// selected by Type; Attributes and Dims cover the R-style attribute
// system (class, dim, names, ...) the search index keys off of.
type Value struct {
	Type Type

	Logical   []int8 // 0/1, NABool sentinel for NA
	Integer   []int32
	Double    []float64
	Complex   []Complex
	Character []string // NA marked in the parallel CharacterNA slice below
	Raw       []byte

	// CharacterNA[i] true means Character[i] is NA_character_ rather than "".
	CharacterNA []bool

	// List holds child values for TypeList and TypeGeneric.
	List []*Value

	// Attributes is a name -> Value map (e.g. "class", "dim", "names").
	// Class and Dims are also exposed directly for convenience/index use.
	Attributes map[string]*Value
	Class      []string
	Dims       []int

	// Elided is true for TypeEnvironment/TypeClosure values the codec
	// chose not to serialize structurally (see Deserialize doc).
	Elided bool
}

// NAInt32 is the sentinel for a missing integer element (logical NA
// uses NABool).
const NAInt32 = int32(-2147483648)

// HasNA reports whether any element of the value's own vector payload
// (not its children) is a missing-value sentinel. This backs the
// search index's na-presence bitmap.
func (v *Value) HasNA() bool {
	switch v.Type {
	case TypeLogical:
		for _, b := range v.Logical {
			if b == NABool {
				return true
			}
		}
	case TypeInteger:
		for _, i := range v.Integer {
			if i == NAInt32 {
				return true
			}
		}
	case TypeDouble:
		for _, d := range v.Double {
			if isNaN(d) {
				return true
			}
		}
	case TypeComplex:
		for _, c := range v.Complex {
			if isNaN(c.Re) || isNaN(c.Im) {
				return true
			}
		}
	case TypeCharacter:
		for _, na := range v.CharacterNA {
			if na {
				return true
			}
		}
	}
	return false
}

// NABool is the sentinel logical value for NA.
const NABool = int8(-128)

func isNaN(f float64) bool { return f != f }

// Length is the element count used by static-meta derivation.
func (v *Value) Length() uint64 {
	switch v.Type {
	case TypeLogical:
		return uint64(len(v.Logical))
	case TypeInteger:
		return uint64(len(v.Integer))
	case TypeDouble:
		return uint64(len(v.Double))
	case TypeComplex:
		return uint64(len(v.Complex))
	case TypeCharacter:
		return uint64(len(v.Character))
	case TypeRaw:
		return uint64(len(v.Raw))
	case TypeList, TypeGeneric:
		return uint64(len(v.List))
	default:
		return 0
	}
}

// NAttributes is the attribute count used by static-meta derivation.
func (v *Value) NAttributes() uint64 { return uint64(len(v.Attributes)) }

// NDims is len(dims attribute).
func (v *Value) NDims() uint32 { return uint32(len(v.Dims)) }

// NRows is the per-shape row count: length for 1-D, dims[0] for 2-D+
// arrays, first-column length for data-frame-like generic objects
// carrying both "names" and "row.names" attributes over list columns.
func (v *Value) NRows() uint32 {
	if len(v.Dims) >= 1 {
		return uint32(v.Dims[0])
	}
	if v.Type == TypeGeneric && isDataFrameShaped(v) && len(v.List) > 0 && v.List[0] != nil {
		return uint32(v.List[0].Length())
	}
	return uint32(v.Length())
}

func isDataFrameShaped(v *Value) bool {
	_, hasNames := v.Attributes["names"]
	_, hasRowNames := v.Attributes["row.names"]
	return v.Type == TypeGeneric && hasNames && hasRowNames
}

// IsVector matches the search index's vector_index predicate: non-scalar,
// not an environment, not a list-pair (here: not TypeList of length 1
// used as a dotted pair cell).
func (v *Value) IsVector() bool {
	return v.Length() != 1 && v.Type != TypeEnvironment && v.Type != TypeClosure
}
