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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PRL-PRG/sxpdb/internal/codec"
)

func TestCheckFastAndSlowPassOnHealthyDatabase(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 20; i++ {
		_, _, err := db.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{int32(i), int32(i * 2)}}, AddOptions{})
		require.NoError(t, err)
	}

	fast, err := db.CheckFast()
	require.NoError(t, err)
	require.Equal(t, 20, fast.ValuesChecked)
	require.Empty(t, fast.Mismatches)

	slow, err := db.CheckSlow()
	require.NoError(t, err)
	require.Equal(t, 20, slow.ValuesChecked)
	require.Empty(t, slow.Mismatches)
}

func TestCheckFastDetectsCorruptedStaticMeta(t *testing.T) {
	db := openTestDB(t)
	id, _, err := db.Add(&codec.Value{Type: codec.TypeInteger, Integer: []int32{1, 2, 3}}, AddOptions{})
	require.NoError(t, err)

	corrupted := db.staticMeta.Get(int(id))
	corrupted.Length = 999
	*db.staticMeta.At(int(id)) = corrupted

	report, err := db.CheckFast()
	require.NoError(t, err)
	require.Len(t, report.Mismatches, 1)
	require.Equal(t, id, report.Mismatches[0].ID)
}
