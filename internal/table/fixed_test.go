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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type u32Codec struct{}

func (u32Codec) Size() int { return 4 }
func (u32Codec) Encode(v uint32, buf []byte) {
	for i := 0; i < 4; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}
func (u32Codec) Decode(buf []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(buf[i]) << (8 * i)
	}
	return v
}

func TestFixedAppendFlushReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.bin")

	f, err := OpenFixed(path, u32Codec{})
	require.NoError(t, err)
	for i := uint32(0); i < 100; i++ {
		f.Append(i * i)
	}
	require.NoError(t, f.Flush())
	require.Equal(t, 100, f.Len())
	require.NoError(t, f.Close())

	f2, err := OpenFixed(path, u32Codec{})
	require.NoError(t, err)
	require.Equal(t, 100, f2.Len())
	for i := uint32(0); i < 100; i++ {
		require.Equal(t, i*i, f2.Get(int(i)))
	}
	require.NoError(t, f2.Close())
}

func TestFixedAtPointerStableAcrossAppend(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenFixed(filepath.Join(dir, "r.bin"), u32Codec{})
	require.NoError(t, err)
	defer f.Close()

	p := f.Append(42)
	for i := 0; i < 10000; i++ {
		f.Append(uint32(i))
	}
	require.Equal(t, uint32(42), *p)
}

func TestFixedRecordSizeMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.bin")

	f, err := OpenFixed(path, u32Codec{})
	require.NoError(t, err)
	f.Append(1)
	require.NoError(t, f.Close())

	_, err = OpenFixed(path, uint64Codec{})
	require.Error(t, err)
}
