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

	"github.com/stretchr/testify/require"

	"github.com/PRL-PRG/sxpdb/internal/codec"
)

func TestMergeInDeduplicatesAndUnionsProvenance(t *testing.T) {
	dest := openTestDB(t)

	srcDir := filepath.Join(t.TempDir(), "src")
	src, err := Open(srcDir, Options{Mode: ReadWrite})
	require.NoError(t, err)

	shared := &codec.Value{Type: codec.TypeInteger, Integer: []int32{1, 2, 3}}
	destID, _, err := dest.Add(shared, AddOptions{Package: "a", Function: "f", Param: "x"})
	require.NoError(t, err)

	_, _, err = src.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{1, 2, 3}}, AddOptions{Package: "b", Function: "g", Param: "y"})
	require.NoError(t, err)
	_, _, err = src.Add(&codec.Value{Type: codec.TypeDouble, Double: []float64{9}}, AddOptions{})
	require.NoError(t, err)
	require.NoError(t, src.Close())

	src2, err := Open(srcDir, Options{Mode: ReadOnly})
	require.NoError(t, err)
	defer src2.Close()

	result, err := dest.MergeIn(src2)
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)
	require.Equal(t, 1, result.Deduped)

	require.Equal(t, uint64(2), dest.NbValues())

	locs := dest.SourceLocations(destID)
	require.Len(t, locs, 2)

	names := dest.dbNames.DBNames(destID)
	require.Contains(t, names, "src")
}

func TestMergeIntoReturnsFullRemap(t *testing.T) {
	dest := openTestDB(t)

	srcDir := filepath.Join(t.TempDir(), "src")
	src, err := Open(srcDir, Options{Mode: ReadWrite})
	require.NoError(t, err)
	srcID0, _, err := src.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{1}}, AddOptions{})
	require.NoError(t, err)
	srcID1, _, err := src.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{2}}, AddOptions{})
	require.NoError(t, err)
	require.NoError(t, src.Close())

	src2, err := Open(srcDir, Options{Mode: ReadOnly})
	require.NoError(t, err)
	defer src2.Close()

	_, remap, err := dest.MergeInto(src2)
	require.NoError(t, err)
	require.Len(t, remap, 2)

	v0, err := dest.GetValue(remap[srcID0])
	require.NoError(t, err)
	require.Equal(t, []int32{1}, v0.Integer)

	v1, err := dest.GetValue(remap[srcID1])
	require.NoError(t, err)
	require.Equal(t, []int32{2}, v1.Integer)
}

func TestParallelMergeInMultipleSources(t *testing.T) {
	dest := openTestDB(t)

	var srcs []*Database
	for i := 0; i < 3; i++ {
		dir := filepath.Join(t.TempDir(), "src")
		db, err := Open(dir, Options{Mode: ReadWrite})
		require.NoError(t, err)
		_, _, err = db.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{int32(i)}}, AddOptions{})
		require.NoError(t, err)
		require.NoError(t, db.Close())

		roDB, err := Open(dir, Options{Mode: ReadOnly})
		require.NoError(t, err)
		defer roDB.Close()
		srcs = append(srcs, roDB)
	}

	var result MergeResult
	for _, src := range srcs {
		r, err := dest.ParallelMergeIn(src, 1)
		require.NoError(t, err)
		result.Added += r.Added
		result.Deduped += r.Deduped
	}
	require.Equal(t, 3, result.Added)
	require.Equal(t, uint64(3), dest.NbValues())
}

func TestParallelMergeInChunking(t *testing.T) {
	dest := openTestDB(t)

	srcDir := t.TempDir()
	src, err := Open(srcDir, Options{Mode: ReadWrite})
	require.NoError(t, err)
	const n = 50
	for i := 0; i < n; i++ {
		_, _, err := src.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{int32(i)}}, AddOptions{})
		require.NoError(t, err)
	}
	require.NoError(t, src.Close())

	roSrc, err := Open(srcDir, Options{Mode: ReadOnly})
	require.NoError(t, err)
	defer roSrc.Close()

	result, err := dest.ParallelMergeIn(roSrc, 7)
	require.NoError(t, err)
	require.Equal(t, n, result.Added)
	require.Equal(t, uint64(n), dest.NbValues())
}
