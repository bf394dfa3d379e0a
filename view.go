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

import "github.com/PRL-PRG/sxpdb/internal/codec"

// FilterIndex calls fn for every stored value in id order and returns
// the ids for which it reports true. Go has no overloaded functions,
// so the query-scoped variant is FilterIndexQuery instead of a second
// overload.
func (db *Database) FilterIndex(fn func(id uint64, v *codec.Value) (bool, error)) ([]uint64, error) {
	var out []uint64
	err := db.Map(func(id uint64, v *codec.Value) error {
		ok, err := fn(id, v)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, id)
		}
		return nil
	})
	return out, err
}

// FilterIndexQuery calls fn for every value matching q and returns the
// ids for which it reports true.
func (db *Database) FilterIndexQuery(q *Query, fn func(id uint64, v *codec.Value) (bool, error)) ([]uint64, error) {
	var out []uint64
	err := q.Each(func(id uint64) error {
		v, err := db.GetValue(id)
		if err != nil {
			return err
		}
		ok, err := fn(id, v)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, id)
		}
		return nil
	})
	return out, err
}

// MetadataView pairs an id with its static and runtime metadata, the
// unit ViewMetadata returns one of per matching value.
type MetadataView struct {
	ID      uint64
	Static  StaticMeta
	Runtime RuntimeMeta
}

// OriginsView pairs an id with its resolved call-site provenance, the
// unit ViewOrigins returns one of per matching value.
type OriginsView struct {
	ID      uint64
	Sources []SourceTupleView
}

// SourceTupleView is a resolved (package, function, parameter) triple,
// re-exported at the façade so callers don't need to import
// internal/provenance for the field names.
type SourceTupleView struct {
	Package  string
	Function string
	Param    string
}

// ViewValues deserializes and returns every value matching q, in id
// order.
func (db *Database) ViewValues(q *Query) ([]*codec.Value, error) {
	var out []*codec.Value
	err := q.Each(func(id uint64) error {
		v, err := db.GetValue(id)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// ViewMetadata returns the static and runtime metadata of every value
// matching q, in id order.
func (db *Database) ViewMetadata(q *Query) ([]MetadataView, error) {
	var out []MetadataView
	err := q.Each(func(id uint64) error {
		static, runtime, err := db.GetMetadata(id)
		if err != nil {
			return err
		}
		out = append(out, MetadataView{ID: id, Static: static, Runtime: runtime})
		return nil
	})
	return out, err
}

// ViewOrigins returns the resolved call-site provenance of every value
// matching q, in id order.
func (db *Database) ViewOrigins(q *Query) ([]OriginsView, error) {
	var out []OriginsView
	err := q.Each(func(id uint64) error {
		tuples := db.SourceLocations(id)
		sources := make([]SourceTupleView, len(tuples))
		for i, t := range tuples {
			sources[i] = SourceTupleView{Package: t.Package, Function: t.Function, Param: t.Param}
		}
		out = append(out, OriginsView{ID: id, Sources: sources})
		return nil
	})
	return out, err
}
