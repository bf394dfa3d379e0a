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

package provenance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOriginsAddAndRecoverAfterReopen(t *testing.T) {
	dir := t.TempDir()
	o, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, o.AddOrigin(0, "base", "sum", "x"))
	require.NoError(t, o.AddOrigin(0, "base", "mean", "x"))
	require.NoError(t, o.AddOrigin(1, "stats", "lm", "formula"))
	require.Error(t, o.AddOrigin(5, "base", "sum", "x"))
	require.NoError(t, o.Close())

	o2, err := Open(dir)
	require.NoError(t, err)
	defer o2.Close()

	require.Equal(t, uint64(2), o2.NbValues())
	locs := o2.SourceLocations(0)
	require.Len(t, locs, 2)
	locs1 := o2.SourceLocations(1)
	require.Equal(t, []SourceTuple{{Package: "stats", Function: "lm", Param: "formula"}}, locs1)
}

func TestClassNamesOrderedChain(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenClassNames(dir)
	require.NoError(t, err)

	require.NoError(t, c.AddClasses(0, []string{"data.frame", "list"}))
	require.NoError(t, c.AddClasses(1, nil))
	require.Error(t, c.AddClasses(5, []string{"foo"}))
	require.NoError(t, c.Close())

	c2, err := OpenClassNames(dir)
	require.NoError(t, err)
	defer c2.Close()

	ids := c2.Classes(0)
	require.Len(t, ids, 2)
	name0, ok := c2.ClassName(ids[0])
	require.True(t, ok)
	require.Equal(t, "data.frame", name0)
	require.Empty(t, c2.Classes(1))
}

func TestCallIdsAccumulate(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenCallIds(dir)
	require.NoError(t, err)

	require.NoError(t, c.AddCallID(0, 100))
	require.NoError(t, c.AddCallID(0, 101))
	require.NoError(t, c.Close())

	c2, err := OpenCallIds(dir)
	require.NoError(t, err)
	defer c2.Close()
	require.ElementsMatch(t, []uint64{100, 101}, c2.CallIDs(0))
}

func TestDBNamesUnion(t *testing.T) {
	dir := t.TempDir()
	d, err := OpenDBNames(dir)
	require.NoError(t, err)

	require.NoError(t, d.AddDBName(0, "run1.sxpdb"))
	require.NoError(t, d.AddDBName(0, "run2.sxpdb"))
	require.NoError(t, d.AddDBName(0, "run1.sxpdb"))
	require.NoError(t, d.Close())

	d2, err := OpenDBNames(dir)
	require.NoError(t, err)
	defer d2.Close()
	require.ElementsMatch(t, []string{"run1.sxpdb", "run2.sxpdb"}, d2.DBNames(0))
}
