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
	"math/rand"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/PRL-PRG/sxpdb/internal/codec"
	"github.com/PRL-PRG/sxpdb/internal/errs"
	"github.com/PRL-PRG/sxpdb/internal/searchindex"
)

// boolPredicate is a tri-state: unset (not a predicate), or set to
// true/false (a required presence/absence).
type boolPredicate struct {
	set   bool
	value bool
}

func want(v bool) boolPredicate { return boolPredicate{set: true, value: v} }

// Query composes a set of predicates over a database: type, vector-ness,
// NA/attribute/class presence, length, dimensionality, and the
// reverse-indexed class-name/package/function membership tests, plus
// a recursive union of sub-queries.
type Query struct {
	db *Database

	Type       *codec.Type
	IsVector   boolPredicate
	HasNA      boolPredicate
	HasAttrs   boolPredicate
	HasClass   boolPredicate
	Length     *uint64
	NDims      *uint32
	ClassNames []uint32
	Packages   []uint32
	Functions  []uint32
	Union      []*Query

	// NoMatch short-circuits rebuild to an empty result set. Set by
	// constructors like ValuesFromOrigin when a queried name was never
	// interned, so the predicate is known unsatisfiable without
	// touching the index at all.
	NoMatch bool

	// requireCallID additionally restricts the result to ids with at
	// least one recorded call id, set by ValuesFromCalls.
	requireCallID bool

	initialized bool
	lastBuiltAt uint64
	cache       *roaring64.Bitmap
}

// NewQuery returns an empty query bound to db. An empty query, once
// updated, matches every stored value.
func NewQuery(db *Database) *Query { return &Query{db: db} }

// Update rebuilds the query's result set if the database has grown
// since the last build or it has never run.
func (q *Query) Update() error {
	if !q.initialized || q.lastBuiltAt != q.db.NbValues() {
		if err := q.rebuild(); err != nil {
			return err
		}
	}
	return nil
}

func (q *Query) rebuild() error {
	if q.NoMatch {
		q.cache = roaring64.New()
		q.lastBuiltAt = q.db.NbValues()
		q.initialized = true
		return nil
	}

	idx := q.db.searchIdx
	n := q.db.NbValues()

	var result *roaring64.Bitmap
	switch {
	case len(q.Union) > 0:
		result = roaring64.New()
		for _, sub := range q.Union {
			if err := sub.Update(); err != nil {
				return err
			}
			result.Or(sub.cache)
		}
	case q.Type != nil:
		if int(*q.Type) >= searchindex.NbSexpTypes {
			return errs.New(errs.KindIndexOutOfRange, "rebuild", "unknown type predicate")
		}
		result = idx.TypesIndex[*q.Type].Clone()
	default:
		result = idx.AnyIndex(n)
	}

	result = applyBool(result, q.IsVector, idx.VectorIndex, n)
	result = applyBool(result, q.HasNA, idx.NAIndex, n)
	result = applyBool(result, q.HasAttrs, idx.AttributesIndex, n)
	result = applyBool(result, q.HasClass, idx.ClassIndex, n)

	if q.Length != nil {
		bucket := searchindex.LengthBucket(*q.Length)
		result = andBitmap(result, idx.LengthsIndex[bucket])
		if !searchindex.BucketIsExact(bucket) {
			result = q.refineByLength(result, *q.Length)
		}
	}

	if q.NDims != nil {
		bucket := searchindex.NDimsBucket(*q.NDims)
		result = andBitmap(result, idx.NDimsIndex[bucket])
		if bucket == 5 {
			result = q.refineByNDims(result, *q.NDims)
		}
	}

	for _, key := range q.ClassNames {
		result = intersectReverse(result, idx.ClassNamesIndex, uint64(key), func(id uint64) bool {
			for _, c := range q.db.classes.Classes(id) {
				if c == key {
					return true
				}
			}
			return false
		})
	}
	for _, key := range q.Packages {
		result = intersectReverse(result, idx.PackagesIndex, uint64(key), func(id uint64) bool {
			for _, loc := range q.db.origins.Locations(id) {
				if loc.Package == key {
					return true
				}
			}
			return false
		})
	}
	for _, key := range q.Functions {
		result = intersectReverse(result, idx.FunctionsIndex, uint64(key), func(id uint64) bool {
			for _, loc := range q.db.origins.Locations(id) {
				if loc.Function == key {
					return true
				}
			}
			return false
		})
	}

	if q.requireCallID {
		out := roaring64.New()
		it := result.Iterator()
		for it.HasNext() {
			id := it.Next()
			if len(q.db.callIDs.CallIDs(id)) > 0 {
				out.Add(id)
			}
		}
		result = out
	}

	q.cache = result
	q.lastBuiltAt = n
	q.initialized = true
	return nil
}

// andBitmap returns a new bitmap holding base AND other, leaving both
// inputs untouched (the fixed indexes are shared, read-only state).
func andBitmap(base, other *roaring64.Bitmap) *roaring64.Bitmap {
	out := base.Clone()
	out.And(other)
	return out
}

func applyBool(base *roaring64.Bitmap, p boolPredicate, index *roaring64.Bitmap, n uint64) *roaring64.Bitmap {
	if !p.set {
		return base
	}
	if p.value {
		return andBitmap(base, index)
	}
	return andBitmap(base, searchindex.Complement(index, 0, n))
}

// intersectReverse intersects base with the bin covering key in idx. A
// bin built over more than one distinct key (single == false) is only
// a superset of the true match set, since ReverseIndex.Finalize merges
// per-key bitmaps into bins and discards the per-key detail; member
// performs the linear id-by-id refinement the caller needs in that
// case by checking the candidate's actual provenance.
func intersectReverse(base *roaring64.Bitmap, idx *searchindex.ReverseIndex, key uint64, member func(id uint64) bool) *roaring64.Bitmap {
	bin, single := idx.GetIndex(key)
	result := andBitmap(base, bin)
	if single {
		return result
	}
	out := roaring64.New()
	it := result.Iterator()
	for it.HasNext() {
		id := it.Next()
		if member(id) {
			out.Add(id)
		}
	}
	return out
}

func (q *Query) refineByLength(candidates *roaring64.Bitmap, length uint64) *roaring64.Bitmap {
	out := roaring64.New()
	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		m := q.db.staticMeta.Get(int(id))
		if m.Length == length {
			out.Add(id)
		}
	}
	return out
}

func (q *Query) refineByNDims(candidates *roaring64.Bitmap, ndims uint32) *roaring64.Bitmap {
	out := roaring64.New()
	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		m := q.db.staticMeta.Get(int(id))
		if m.NDims == ndims {
			out.Add(id)
		}
	}
	return out
}

// Cardinality returns the number of matching ids. Update must have
// been called (directly or via Sample/SampleN/Each) at least once.
func (q *Query) Cardinality() uint64 {
	if q.cache == nil {
		return 0
	}
	return q.cache.GetCardinality()
}

// Sample draws one uniformly random id from the result set.
func (q *Query) Sample(rng *rand.Rand) (uint64, error) {
	if err := q.Update(); err != nil {
		return 0, err
	}
	card := q.cache.GetCardinality()
	if card == 0 {
		return 0, errs.New(errs.KindIndexOutOfRange, "Sample", "query result is empty")
	}
	k := uint64(rng.Int63n(int64(card)))
	v, err := q.cache.Select(k)
	if err != nil {
		return 0, errs.Wrap(errs.KindIndexOutOfRange, "Sample", "", err)
	}
	return v, nil
}

// SampleN performs reservoir sampling over the result set, returning
// up to n distinct ids (fewer if the result set is smaller).
func (q *Query) SampleN(n int, rng *rand.Rand) ([]uint64, error) {
	if err := q.Update(); err != nil {
		return nil, err
	}
	reservoir := make([]uint64, 0, n)
	it := q.cache.Iterator()
	seen := 0
	for it.HasNext() {
		id := it.Next()
		seen++
		if len(reservoir) < n {
			reservoir = append(reservoir, id)
			continue
		}
		j := rng.Int63n(int64(seen))
		if int(j) < n {
			reservoir[j] = id
		}
	}
	return reservoir, nil
}

// Each calls fn for every matching id in ascending order.
func (q *Query) Each(fn func(id uint64) error) error {
	if err := q.Update(); err != nil {
		return err
	}
	it := q.cache.Iterator()
	for it.HasNext() {
		if err := fn(it.Next()); err != nil {
			return err
		}
	}
	return nil
}
