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

package searchindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PRL-PRG/sxpdb/internal/codec"
)

func TestLengthBucketBoundaries(t *testing.T) {
	require.Equal(t, 0, LengthBucket(0))
	require.Equal(t, 50, LengthBucket(50))
	require.Equal(t, 100, LengthBucket(100))
	require.True(t, BucketIsExact(50))
	require.False(t, BucketIsExact(150))
}

func TestNDimsBucket(t *testing.T) {
	require.Equal(t, 0, NDimsBucket(0))
	require.Equal(t, 4, NDimsBucket(4))
	require.Equal(t, 5, NDimsBucket(5))
	require.Equal(t, 5, NDimsBucket(100))
}

type fakeSource struct {
	metas []StaticMeta
	nas   []bool
}

func (f *fakeSource) NbValues() uint64 { return uint64(len(f.metas)) }
func (f *fakeSource) StaticMeta(id uint64) (StaticMeta, error) { return f.metas[id], nil }
func (f *fakeSource) ElementView(id uint64) (codec.ElementView, error) {
	if f.nas[id] {
		return codec.ElementView{Type: codec.TypeInteger, Length: 1, Data: []byte{0, 0, 0, 0x80}}, nil
	}
	return codec.ElementView{Type: codec.TypeInteger, Length: 1, Data: []byte{1, 0, 0, 0}}, nil
}

func TestBuildIndexesAndIncrementalRebuild(t *testing.T) {
	src := &fakeSource{
		metas: []StaticMeta{
			{Type: codec.TypeInteger, Length: 1, IsVector: false},
			{Type: codec.TypeDouble, Length: 10, IsVector: true, Packages: []uint32{7}},
			{Type: codec.TypeCharacter, Length: 3, NAttributes: 1, Classes: []uint32{2}},
		},
		nas: []bool{false, true, false},
	}

	idx := New(t.TempDir())
	require.NoError(t, idx.Build(context.Background(), src))
	require.True(t, idx.Generated)
	require.Equal(t, uint64(3), idx.LastComputed)

	require.True(t, idx.TypesIndex[codec.TypeInteger].Contains(0))
	require.True(t, idx.VectorIndex.Contains(1))
	require.True(t, idx.NAIndex.Contains(1))
	require.True(t, idx.AttributesIndex.Contains(2))

	bm, single := idx.PackagesIndex.GetIndex(7)
	require.True(t, single)
	require.True(t, bm.Contains(1))

	src.metas = append(src.metas, StaticMeta{Type: codec.TypeLogical, Length: 1})
	src.nas = append(src.nas, false)
	require.NoError(t, idx.Build(context.Background(), src))
	require.Equal(t, uint64(4), idx.LastComputed)
	require.True(t, idx.TypesIndex[codec.TypeLogical].Contains(3))
}

func TestSaveAndOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{
		metas: []StaticMeta{{Type: codec.TypeInteger, Length: 5}},
		nas:   []bool{false},
	}
	idx := New(dir)
	require.NoError(t, idx.Build(context.Background(), src))
	require.NoError(t, idx.Save())

	idx2, err := Open(dir)
	require.NoError(t, err)
	require.True(t, idx2.Generated)
	require.Equal(t, uint64(1), idx2.LastComputed)
	require.True(t, idx2.TypesIndex[codec.TypeInteger].Contains(0))
	_ = filepath.Join(dir, "search_index")
}
