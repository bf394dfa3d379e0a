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
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PRL-PRG/sxpdb/internal/codec"
	"github.com/PRL-PRG/sxpdb/internal/errs"
)

// TestScenarioDedupeAndNAIndex: add [1,2,3] twice, then a double vector
// carrying one NA, and check that the second [1,2,3] insertion
// deduplicates against the first while the NA-presence index picks up
// only the double.
func TestScenarioDedupeAndNAIndex(t *testing.T) {
	d1, err := Open(filepath.Join(t.TempDir(), "d1"), Options{Mode: ReadWrite})
	require.NoError(t, err)
	defer d1.Close()

	intVec := func() *codec.Value { return &codec.Value{Type: codec.TypeInteger, Integer: []int32{1, 2, 3}} }

	id0, isNew0, err := d1.Add(intVec(), AddOptions{})
	require.NoError(t, err)
	require.True(t, isNew0)

	id0Again, isNew1, err := d1.Add(intVec(), AddOptions{})
	require.NoError(t, err)
	require.False(t, isNew1)
	require.Equal(t, id0, id0Again)

	doubleWithNA := &codec.Value{Type: codec.TypeDouble, Double: []float64{1.0, math.NaN(), 3.0}}
	id1, isNew2, err := d1.Add(doubleWithNA, AddOptions{})
	require.NoError(t, err)
	require.True(t, isNew2)

	require.EqualValues(t, 2, d1.NbValues())

	_, rm0, err := d1.GetMetadata(id0)
	require.NoError(t, err)
	require.EqualValues(t, 2, rm0.NCalls)

	require.NoError(t, d1.BuildIndexes())
	require.Equal(t, []uint64{id1}, d1.searchIdx.NAIndex.ToArray())
}

// TestScenarioOriginDedupe: recording the same call site against an id
// twice leaves exactly one origin tuple behind.
func TestScenarioOriginDedupe(t *testing.T) {
	d1 := openTestDB(t)

	v := &codec.Value{Type: codec.TypeInteger, Integer: []int32{1, 2, 3}}
	id, _, err := d1.Add(v, AddOptions{Package: "pkg", Function: "f", Param: "x"})
	require.NoError(t, err)

	_, _, err = d1.Add(v, AddOptions{Package: "pkg", Function: "f", Param: "x"})
	require.NoError(t, err)

	require.Len(t, d1.origins.Locations(id), 1)

	locs := d1.SourceLocations(id)
	require.Len(t, locs, 1)
	require.Equal(t, "pkg", locs[0].Package)
	require.Equal(t, "f", locs[0].Function)
	require.Equal(t, "x", locs[0].Param)
}

// mergedPair opens a fresh d1 holding [1,2,3], merges in a second
// database holding [4,5] and a duplicate [1,2,3], and returns d1 along
// with the surviving id of each.
func mergedPair(t *testing.T) (d1 *Database, idShared, idNew uint64) {
	t.Helper()
	d1, err := Open(filepath.Join(t.TempDir(), "d1"), Options{Mode: ReadWrite})
	require.NoError(t, err)
	t.Cleanup(func() { d1.Close() })

	idShared, _, err = d1.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{1, 2, 3}}, AddOptions{})
	require.NoError(t, err)

	d2dir := filepath.Join(t.TempDir(), "d2")
	d2, err := Open(d2dir, Options{Mode: ReadWrite})
	require.NoError(t, err)
	idD2New, _, err := d2.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{4, 5}}, AddOptions{})
	require.NoError(t, err)
	_, _, err = d2.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{1, 2, 3}}, AddOptions{})
	require.NoError(t, err)
	require.NoError(t, d2.Close())

	d2ro, err := Open(d2dir, Options{Mode: ReadOnly})
	require.NoError(t, err)
	t.Cleanup(func() { d2ro.Close() })

	result, remap, err := d1.MergeInto(d2ro)
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)
	require.Equal(t, 1, result.Deduped)

	return d1, idShared, remap[idD2New]
}

// TestScenarioMergeDedupesAndTracksMerges: merging a second database
// whose values are partly overlapping only adds the genuinely new
// one, deduplicates the repeat, and bumps n_merges on the id that
// already existed.
func TestScenarioMergeDedupesAndTracksMerges(t *testing.T) {
	d1, idShared, _ := mergedPair(t)

	_, rm, err := d1.GetMetadata(idShared)
	require.NoError(t, err)
	require.EqualValues(t, 1, rm.NMerges)
}

// TestScenarioQueryAndSampleAfterMerge: querying the merged database
// for non-NA integers selects exactly the two surviving ids, and
// SampleN over that result draws from the same set.
func TestScenarioQueryAndSampleAfterMerge(t *testing.T) {
	d1, idShared, idNew := mergedPair(t)
	require.NoError(t, d1.BuildIndexes())

	intType := codec.TypeInteger
	q := NewQuery(d1)
	q.Type = &intType
	q.HasNA = want(false)
	require.NoError(t, q.Update())
	require.EqualValues(t, 2, q.Cardinality())

	var fromQuery []uint64
	require.NoError(t, q.Each(func(id uint64) error {
		fromQuery = append(fromQuery, id)
		return nil
	}))
	require.ElementsMatch(t, []uint64{idShared, idNew}, fromQuery)

	rng := rand.New(rand.NewSource(1))
	sampled, err := q.SampleN(2, rng)
	require.NoError(t, err)
	require.ElementsMatch(t, fromQuery, sampled)
}

// TestScenarioCrashRecoveryRepairsTruncatedHashes simulates a writer
// that dies after appending a value's bytes but before its hash record
// finished writing: truncating hashes_table.bin by one record's worth
// of bytes with the .LOCK file still present. Open must refuse to
// reopen for writing until Repair has rolled every table back to the
// last id that has a row everywhere.
func TestScenarioCrashRecoveryRepairsTruncatedHashes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "crash")

	db, err := Open(dir, Options{Mode: ReadWrite})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := db.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{int32(i)}}, AddOptions{})
		require.NoError(t, err)
	}
	require.NoError(t, db.values.Flush())
	require.NoError(t, db.hashes.Flush())
	require.NoError(t, db.staticMeta.Flush())
	require.NoError(t, db.runtimeMeta.Flush())

	// A crashed writer never releases flock(2) itself - the OS does -
	// so dropping just the advisory lock (not the .LOCK file) is what
	// makes this process look, from the outside, like one that died.
	require.NoError(t, db.lock.fl.Unlock())

	hashesPath := filepath.Join(dir, "hashes_table.bin")
	info, err := os.Stat(hashesPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(hashesPath, info.Size()-16))

	_, err = Open(dir, Options{Mode: ReadWrite})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindUncleanShutdown))

	require.NoError(t, Repair(dir))

	db2, err := Open(dir, Options{Mode: ReadWrite})
	require.NoError(t, err)
	defer db2.Close()

	require.EqualValues(t, 2, db2.NbValues())
	require.Equal(t, 2, db2.hashes.Len())
	require.Equal(t, 2, db2.staticMeta.Len())
	require.Equal(t, 2, db2.runtimeMeta.Len())

	report, err := db2.CheckSlow()
	require.NoError(t, err)
	require.True(t, report.OK())
}

// TestScenarioIncrementalRebuildPicksUpNewValues: a query updated after
// 100 more values were added must include every new matching id, not
// just the ones present when the index was first built.
func TestScenarioIncrementalRebuildPicksUpNewValues(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 10; i++ {
		_, _, err := db.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{int32(i)}}, AddOptions{})
		require.NoError(t, err)
	}
	require.NoError(t, db.BuildIndexes())

	intType := codec.TypeInteger
	q := NewQuery(db)
	q.Type = &intType
	require.NoError(t, q.Update())
	require.EqualValues(t, 10, q.Cardinality())

	newIDs := make([]uint64, 100)
	for i := 0; i < 100; i++ {
		id, _, err := db.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{int32(1000 + i)}}, AddOptions{})
		require.NoError(t, err)
		newIDs[i] = id
	}
	require.NoError(t, db.BuildIndexes())

	require.NoError(t, q.Update())
	require.EqualValues(t, 110, q.Cardinality())

	for _, id := range newIDs {
		require.True(t, q.cache.Contains(id), "expected id %d to be present after incremental rebuild", id)
	}
}
