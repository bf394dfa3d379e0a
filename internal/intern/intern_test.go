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

package intern

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternEmptyStringIsZero(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(filepath.Join(dir, "strings.txt"))
	require.NoError(t, err)
	defer tbl.Close()

	require.Equal(t, uint32(0), tbl.Intern(""))
	s, ok := tbl.Lookup(0)
	require.True(t, ok)
	require.Equal(t, "", s)
}

func TestInternDedupAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strings.txt")
	tbl, err := Open(path)
	require.NoError(t, err)

	idA1 := tbl.Intern("base")
	idB := tbl.Intern("stats")
	idA2 := tbl.Intern("base")
	require.Equal(t, idA1, idA2)
	require.NotEqual(t, idA1, idB)
	require.NoError(t, tbl.Close())

	tbl2, err := Open(path)
	require.NoError(t, err)
	defer tbl2.Close()
	require.True(t, tbl2.Has("base"))
	require.True(t, tbl2.Has("stats"))
	require.Equal(t, idA1, tbl2.Intern("base"))
}

func TestInternMergeRemapsIds(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	defer b.Close()

	a.Intern("base")
	bID := b.Intern("stats")
	b.Intern("base")

	remap := a.Merge(b)
	require.Equal(t, uint32(0), remap[0])
	wantID := a.Intern("stats")
	require.Equal(t, wantID, remap[bID])
}
