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
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/PRL-PRG/sxpdb/internal/codec"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "db"), Options{Mode: ReadWrite})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddDedupesIdenticalValues(t *testing.T) {
	db := openTestDB(t)

	v1 := &codec.Value{Type: codec.TypeInteger, Integer: []int32{1, 2, 3}}
	v2 := &codec.Value{Type: codec.TypeInteger, Integer: []int32{1, 2, 3}}

	id1, isNew1, err := db.Add(v1, AddOptions{Package: "base", Function: "f", Param: "x"})
	require.NoError(t, err)
	require.True(t, isNew1)

	id2, isNew2, err := db.Add(v2, AddOptions{Package: "base", Function: "g", Param: "y"})
	require.NoError(t, err)
	require.False(t, isNew2)
	require.Equal(t, id1, id2)

	require.Equal(t, uint64(1), db.NbValues())

	_, rm, err := db.GetMetadata(id1)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rm.NCalls)

	locs := db.SourceLocations(id1)
	require.Len(t, locs, 2)
}

func TestAddDistinctValuesGetDistinctIDs(t *testing.T) {
	db := openTestDB(t)

	id1, _, err := db.Add(&codec.Value{Type: codec.TypeDouble, Double: []float64{1}}, AddOptions{})
	require.NoError(t, err)
	id2, _, err := db.Add(&codec.Value{Type: codec.TypeDouble, Double: []float64{2}}, AddOptions{})
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
	require.Equal(t, uint64(2), db.NbValues())
}

func TestHaveSeen(t *testing.T) {
	db := openTestDB(t)
	v := &codec.Value{Type: codec.TypeCharacter, Character: []string{"a"}, CharacterNA: []bool{false}}

	_, seen, err := db.HaveSeen(v)
	require.NoError(t, err)
	require.False(t, seen)

	id, _, err := db.Add(v, AddOptions{})
	require.NoError(t, err)

	gotID, seen, err := db.HaveSeen(v)
	require.NoError(t, err)
	require.True(t, seen)
	require.Equal(t, id, gotID)
}

func TestCloseAndReopenPreservesValuesAndHashIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := Open(dir, Options{Mode: ReadWrite})
	require.NoError(t, err)

	v := &codec.Value{Type: codec.TypeLogical, Logical: []int8{1, 0, 1}}
	id, _, err := db.Add(v, AddOptions{Package: "p", Function: "f", Param: "x"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := Open(dir, Options{Mode: ReadWrite})
	require.NoError(t, err)
	defer db2.Close()

	require.Equal(t, uint64(1), db2.NbValues())
	_, seen, err := db2.HaveSeen(v)
	require.NoError(t, err)
	require.True(t, seen)

	got, err := db2.GetValue(id)
	require.NoError(t, err)
	if diff := cmp.Diff(v.Logical, got.Logical); diff != "" {
		t.Fatalf("round-tripped value differs (-want +got):\n%s", diff)
	}

	locs := db2.SourceLocations(id)
	require.Len(t, locs, 1)
	require.Equal(t, "p", locs[0].Package)
}

func TestEveryValueHasAnOriginsEntryEvenWhenEmpty(t *testing.T) {
	db := openTestDB(t)
	id, _, err := db.Add(&codec.Value{Type: codec.TypeNull}, AddOptions{})
	require.NoError(t, err)

	require.Empty(t, db.SourceLocations(id))
	require.Equal(t, db.NbValues(), db.origins.NbValues())
}

func TestAddRefusesWritesAfterFork(t *testing.T) {
	db := openTestDB(t)
	db.openPID = db.openPID - 1 // simulate a child inheriting db after fork

	_, _, err := db.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{1}}, AddOptions{})
	require.Error(t, err)
}

func TestBuildIndexesThenQueryByType(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 5; i++ {
		_, _, err := db.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{int32(i)}}, AddOptions{})
		require.NoError(t, err)
	}
	_, _, err := db.Add(&codec.Value{Type: codec.TypeDouble, Double: []float64{1.5}}, AddOptions{})
	require.NoError(t, err)

	require.NoError(t, db.BuildIndexes())
	require.True(t, db.HasSearchIndex())

	intType := codec.TypeInteger
	q := NewQuery(db)
	q.Type = &intType
	require.NoError(t, q.Update())
	require.EqualValues(t, 5, q.Cardinality())
}
