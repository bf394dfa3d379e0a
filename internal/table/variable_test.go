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

package table

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVariableAppendGetUncompressed(t *testing.T) {
	dir := t.TempDir()
	v, err := OpenVariable(filepath.Join(dir, "data.bin"), false)
	require.NoError(t, err)
	defer v.Close()

	payloads := [][]byte{[]byte("hello"), []byte(""), bytes.Repeat([]byte{0xAB}, 4096)}
	for _, p := range payloads {
		v.Append(p)
	}
	require.NoError(t, v.Flush())

	for i, want := range payloads {
		got, err := v.Get(i)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestVariableCompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	v, err := OpenVariable(filepath.Join(dir, "data.bin"), true)
	require.NoError(t, err)
	defer v.Close()

	payload := bytes.Repeat([]byte("compress me please "), 500)
	idx := v.Append(payload)
	require.NoError(t, v.Flush())

	got, err := v.Get(idx)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestVariableReadBeforeFlushSeesPending(t *testing.T) {
	dir := t.TempDir()
	v, err := OpenVariable(filepath.Join(dir, "data.bin"), false)
	require.NoError(t, err)
	defer v.Close()

	idx := v.Append([]byte("pending"))
	got, err := v.Get(idx)
	require.NoError(t, err)
	require.Equal(t, []byte("pending"), got)
}

func TestVariableReopenPreservesRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	v, err := OpenVariable(path, false)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		v.Append([]byte(fmt.Sprintf("record-%03d", i)))
	}
	require.NoError(t, v.Close())

	v2, err := OpenVariable(path, false)
	require.NoError(t, err)
	defer v2.Close()
	require.Equal(t, 50, v2.Len())
	for i := 0; i < 50; i++ {
		got, err := v2.Get(i)
		require.NoError(t, err)
		require.Equal(t, []byte(fmt.Sprintf("record-%03d", i)), got)
	}
}
