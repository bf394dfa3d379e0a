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
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PRL-PRG/sxpdb/internal/codec"
)

func seedMixedValues(t *testing.T, db *Database) {
	t.Helper()
	for i := 0; i < 10; i++ {
		_, _, err := db.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{int32(i)}}, AddOptions{})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		v := &codec.Value{Type: codec.TypeDouble, Double: []float64{float64(i), 2, 3}, Class: []string{"foo"}}
		_, _, err := db.Add(v, AddOptions{})
		require.NoError(t, err)
	}
	require.NoError(t, db.BuildIndexes())
}

func TestQueryEmptyMatchesEverything(t *testing.T) {
	db := openTestDB(t)
	seedMixedValues(t, db)

	q := NewQuery(db)
	require.NoError(t, q.Update())
	require.EqualValues(t, db.NbValues(), q.Cardinality())
}

func TestQueryByTypeAndHasClass(t *testing.T) {
	db := openTestDB(t)
	seedMixedValues(t, db)

	doubleType := codec.TypeDouble
	q := NewQuery(db)
	q.Type = &doubleType
	q.HasClass = want(true)
	require.NoError(t, q.Update())
	require.EqualValues(t, 3, q.Cardinality())

	var seen []uint64
	require.NoError(t, q.Each(func(id uint64) error {
		seen = append(seen, id)
		return nil
	}))
	require.Len(t, seen, 3)
}

func TestQueryRebuildsAfterDatabaseGrows(t *testing.T) {
	db := openTestDB(t)
	seedMixedValues(t, db)

	q := NewQuery(db)
	require.NoError(t, q.Update())
	require.EqualValues(t, db.NbValues(), q.Cardinality())

	_, _, err := db.Add(&codec.Value{Type: codec.TypeRaw, Raw: []byte("new")}, AddOptions{})
	require.NoError(t, err)
	require.NoError(t, db.BuildIndexes())

	require.NoError(t, q.Update())
	require.EqualValues(t, db.NbValues(), q.Cardinality())
}

func TestQuerySampleAndSampleN(t *testing.T) {
	db := openTestDB(t)
	seedMixedValues(t, db)

	q := NewQuery(db)
	rng := rand.New(rand.NewSource(7))
	id, err := q.Sample(rng)
	require.NoError(t, err)
	require.Less(t, id, db.NbValues())

	ids, err := q.SampleN(5, rng)
	require.NoError(t, err)
	require.Len(t, ids, 5)
	seen := map[uint64]struct{}{}
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	require.Len(t, seen, 5)
}

func TestQueryUnionOfSubQueries(t *testing.T) {
	db := openTestDB(t)
	seedMixedValues(t, db)

	intType := codec.TypeInteger
	doubleType := codec.TypeDouble
	sub1 := NewQuery(db)
	sub1.Type = &intType
	sub2 := NewQuery(db)
	sub2.Type = &doubleType

	union := NewQuery(db)
	union.Union = []*Query{sub1, sub2}
	require.NoError(t, union.Update())
	require.EqualValues(t, 13, union.Cardinality())
}

// TestQueryClassNamesRefinesMultiKeyBin exercises a reverse-index bin
// that covers more than one distinct class name: with 250 distinct
// classes and a default bin threshold of 200, the first bin merges 200
// per-key bitmaps together, so a membership test on a single class
// name must linearly refine the bin rather than return it whole.
func TestQueryClassNamesRefinesMultiKeyBin(t *testing.T) {
	db := openTestDB(t)

	const n = 250
	ids := make([]uint64, n)
	for i := 0; i < n; i++ {
		v := &codec.Value{
			Type:    codec.TypeInteger,
			Integer: []int32{int32(i)},
			Class:   []string{fmt.Sprintf("class%03d", i)},
		}
		id, _, err := db.Add(v, AddOptions{})
		require.NoError(t, err)
		ids[i] = id
	}
	require.NoError(t, db.BuildIndexes())

	targetID, ok := db.classes.ClassID("class000")
	require.True(t, ok)

	q := NewQuery(db)
	q.ClassNames = []uint32{targetID}
	require.NoError(t, q.Update())
	require.EqualValues(t, 1, q.Cardinality())

	var matched []uint64
	require.NoError(t, q.Each(func(id uint64) error {
		matched = append(matched, id)
		return nil
	}))
	require.Equal(t, []uint64{ids[0]}, matched)
}
