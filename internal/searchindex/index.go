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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/PRL-PRG/sxpdb/internal/codec"
	"github.com/PRL-PRG/sxpdb/internal/errs"
)

// StaticMeta is the subset of a value's immutable metadata the index
// builder reads per id.
type StaticMeta struct {
	Type        codec.Type
	Length      uint64
	NAttributes uint64
	NDims       uint32
	IsVector    bool
	HasClass    bool
	Classes     []uint32
	Packages    []uint32
	Functions   []uint32
}

// DataSource is the narrow view of a value store that build_indexes
// needs: static meta for the fast pass, and raw element bytes (for NA
// scanning) on the slow pass.
type DataSource interface {
	NbValues() uint64
	StaticMeta(id uint64) (StaticMeta, error)
	ElementView(id uint64) (codec.ElementView, error)
}

const reverseIndexThreshold = 200

// Index holds every fixed and reverse bitmap index plus the
// incremental-rebuild watermark.
type Index struct {
	basePath string

	TypesIndex      [NbSexpTypes]*roaring64.Bitmap
	NAIndex         *roaring64.Bitmap
	ClassIndex      *roaring64.Bitmap
	VectorIndex     *roaring64.Bitmap
	AttributesIndex *roaring64.Bitmap
	LengthsIndex    [NbIntervals]*roaring64.Bitmap
	NDimsIndex      [6]*roaring64.Bitmap

	ClassNamesIndex *ReverseIndex
	PackagesIndex   *ReverseIndex
	FunctionsIndex  *ReverseIndex

	LastComputed uint64
	Generated    bool
}

// New returns an empty, uninitialized index rooted at basePath.
func New(basePath string) *Index {
	idx := &Index{basePath: basePath}
	for i := range idx.TypesIndex {
		idx.TypesIndex[i] = roaring64.New()
	}
	idx.NAIndex = roaring64.New()
	idx.ClassIndex = roaring64.New()
	idx.VectorIndex = roaring64.New()
	idx.AttributesIndex = roaring64.New()
	for i := range idx.LengthsIndex {
		idx.LengthsIndex[i] = roaring64.New()
	}
	for i := range idx.NDimsIndex {
		idx.NDimsIndex[i] = roaring64.New()
	}
	idx.ClassNamesIndex = NewReverseIndex(reverseIndexThreshold)
	idx.PackagesIndex = NewReverseIndex(reverseIndexThreshold)
	idx.FunctionsIndex = NewReverseIndex(reverseIndexThreshold)
	return idx
}

// shard is a half-open id range [Start, End) that one build_indexes
// worker processes independently.
type shard struct {
	Start, End uint64
	Types      [NbSexpTypes]*roaring64.Bitmap
	NA         *roaring64.Bitmap
	Class      *roaring64.Bitmap
	Vector     *roaring64.Bitmap
	Attrs      *roaring64.Bitmap
	Lengths    [NbIntervals]*roaring64.Bitmap
	NDims      [6]*roaring64.Bitmap
	Classnames map[uint64][]uint64
	Packages   map[uint64][]uint64
	Functions  map[uint64][]uint64
}

func newShard(start, end uint64) *shard {
	s := &shard{Start: start, End: end,
		NA: roaring64.New(), Class: roaring64.New(), Vector: roaring64.New(), Attrs: roaring64.New(),
		Classnames: map[uint64][]uint64{}, Packages: map[uint64][]uint64{}, Functions: map[uint64][]uint64{}}
	for i := range s.Types {
		s.Types[i] = roaring64.New()
	}
	for i := range s.Lengths {
		s.Lengths[i] = roaring64.New()
	}
	for i := range s.NDims {
		s.NDims[i] = roaring64.New()
	}
	return s
}

const defaultShardSize = 4096

// Build runs (or incrementally extends) every index over
// [LastComputed, db.NbValues()), sharding the range across goroutines
// via golang.org/x/sync/errgroup.
func (idx *Index) Build(ctx context.Context, db DataSource) error {
	start := idx.LastComputed
	end := db.NbValues()
	if start >= end {
		return nil
	}

	nShards := int((end - start + defaultShardSize - 1) / defaultShardSize)
	shards := make([]*shard, nShards)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < nShards; i++ {
		i := i
		sStart := start + uint64(i)*defaultShardSize
		sEnd := sStart + defaultShardSize
		if sEnd > end {
			sEnd = end
		}
		g.Go(func() error {
			s := newShard(sStart, sEnd)
			if err := buildShard(ctx, db, s); err != nil {
				return err
			}
			shards[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, s := range shards {
		idx.mergeShard(s)
	}
	idx.ClassNamesIndex.Finalize()
	idx.PackagesIndex.Finalize()
	idx.FunctionsIndex.Finalize()

	for _, bm := range idx.TypesIndex {
		bm.RunOptimize()
	}
	idx.NAIndex.RunOptimize()
	idx.ClassIndex.RunOptimize()
	idx.VectorIndex.RunOptimize()
	idx.AttributesIndex.RunOptimize()
	for _, bm := range idx.LengthsIndex {
		bm.RunOptimize()
	}
	for _, bm := range idx.NDimsIndex {
		bm.RunOptimize()
	}

	idx.LastComputed = end
	idx.Generated = true
	return nil
}

func buildShard(ctx context.Context, db DataSource, s *shard) error {
	for id := s.Start; id < s.End; id++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		meta, err := db.StaticMeta(id)
		if err != nil {
			return err
		}
		if int(meta.Type) < NbSexpTypes {
			s.Types[meta.Type].Add(id)
		}
		if meta.HasClass {
			s.Class.Add(id)
		}
		if meta.IsVector {
			s.Vector.Add(id)
		}
		if meta.NAttributes > 0 {
			s.Attrs.Add(id)
		}
		s.Lengths[LengthBucket(meta.Length)].Add(id)
		s.NDims[NDimsBucket(meta.NDims)].Add(id)
		for _, c := range meta.Classes {
			s.Classnames[uint64(c)] = append(s.Classnames[uint64(c)], id)
		}
		for _, p := range meta.Packages {
			s.Packages[uint64(p)] = append(s.Packages[uint64(p)], id)
		}
		for _, f := range meta.Functions {
			s.Functions[uint64(f)] = append(s.Functions[uint64(f)], id)
		}

		view, err := db.ElementView(id)
		if err != nil {
			return err
		}
		if view.HasNA() {
			s.NA.Add(id)
		}
	}
	return nil
}

func (idx *Index) mergeShard(s *shard) {
	for i := range idx.TypesIndex {
		idx.TypesIndex[i].Or(s.Types[i])
	}
	idx.NAIndex.Or(s.NA)
	idx.ClassIndex.Or(s.Class)
	idx.VectorIndex.Or(s.Vector)
	idx.AttributesIndex.Or(s.Attrs)
	for i := range idx.LengthsIndex {
		idx.LengthsIndex[i].Or(s.Lengths[i])
	}
	for i := range idx.NDimsIndex {
		idx.NDimsIndex[i].Or(s.NDims[i])
	}
	for key, ids := range s.Classnames {
		for _, id := range ids {
			idx.ClassNamesIndex.AddProperty(key, id)
		}
	}
	for key, ids := range s.Packages {
		for _, id := range ids {
			idx.PackagesIndex.AddProperty(key, id)
		}
	}
	for key, ids := range s.Functions {
		for _, id := range ids {
			idx.FunctionsIndex.AddProperty(key, id)
		}
	}
}

// AnyIndex returns the bitmap of every indexed value, used as the
// "any type" convention: the flip of the empty set over [0, n).
func (idx *Index) AnyIndex(nbValues uint64) *roaring64.Bitmap {
	return complement(roaring64.New(), 0, nbValues)
}

// Complement flips bm over [lo, hi).
func Complement(bm *roaring64.Bitmap, lo, hi uint64) *roaring64.Bitmap {
	return complement(bm, lo, hi)
}

const dirName = "search_index"

// Save persists every bitmap and reverse index under basePath/search_index.
func (idx *Index) Save() error {
	dir := filepath.Join(idx.basePath, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindIO, "Save", dir, err)
	}
	for i, bm := range idx.TypesIndex {
		if err := writeBitmap(filepath.Join(dir, fmt.Sprintf("types_index_%d.ror", i)), bm); err != nil {
			return err
		}
	}
	if err := writeBitmap(filepath.Join(dir, "na_index.ror"), idx.NAIndex); err != nil {
		return err
	}
	if err := writeBitmap(filepath.Join(dir, "class_index.ror"), idx.ClassIndex); err != nil {
		return err
	}
	if err := writeBitmap(filepath.Join(dir, "vector_index.ror"), idx.VectorIndex); err != nil {
		return err
	}
	if err := writeBitmap(filepath.Join(dir, "attributes_index.ror"), idx.AttributesIndex); err != nil {
		return err
	}
	for i, bm := range idx.LengthsIndex {
		if err := writeBitmap(filepath.Join(dir, fmt.Sprintf("lengths_index_%d.ror", i)), bm); err != nil {
			return err
		}
	}
	for i, bm := range idx.NDimsIndex {
		if err := writeBitmap(filepath.Join(dir, fmt.Sprintf("ndims_index_%d.ror", i)), bm); err != nil {
			return err
		}
	}
	if err := idx.ClassNamesIndex.Save(filepath.Join(dir, "classnames_index.conf")); err != nil {
		return err
	}
	if err := idx.PackagesIndex.Save(filepath.Join(dir, "packages_index.conf")); err != nil {
		return err
	}
	if err := idx.FunctionsIndex.Save(filepath.Join(dir, "functions_index.conf")); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.conf"),
		[]byte("index_last_computed="+strconv.FormatUint(idx.LastComputed, 10)+"\nindex_generated="+strconv.FormatBool(idx.Generated)+"\n"), 0o644)
}

// Open loads a previously-saved index from basePath/search_index, or
// returns a fresh, ungenerated Index if none exists yet.
func Open(basePath string) (*Index, error) {
	idx := New(basePath)
	dir := filepath.Join(basePath, dirName)
	if _, err := os.Stat(dir); err != nil {
		return idx, nil
	}

	for i := range idx.TypesIndex {
		bm, err := readBitmap(filepath.Join(dir, fmt.Sprintf("types_index_%d.ror", i)))
		if err != nil {
			return nil, err
		}
		idx.TypesIndex[i] = bm
	}
	var err error
	if idx.NAIndex, err = readBitmap(filepath.Join(dir, "na_index.ror")); err != nil {
		return nil, err
	}
	if idx.ClassIndex, err = readBitmap(filepath.Join(dir, "class_index.ror")); err != nil {
		return nil, err
	}
	if idx.VectorIndex, err = readBitmap(filepath.Join(dir, "vector_index.ror")); err != nil {
		return nil, err
	}
	if idx.AttributesIndex, err = readBitmap(filepath.Join(dir, "attributes_index.ror")); err != nil {
		return nil, err
	}
	for i := range idx.LengthsIndex {
		bm, err := readBitmap(filepath.Join(dir, fmt.Sprintf("lengths_index_%d.ror", i)))
		if err != nil {
			return nil, err
		}
		idx.LengthsIndex[i] = bm
	}
	for i := range idx.NDimsIndex {
		bm, err := readBitmap(filepath.Join(dir, fmt.Sprintf("ndims_index_%d.ror", i)))
		if err != nil {
			return nil, err
		}
		idx.NDimsIndex[i] = bm
	}
	if idx.ClassNamesIndex, err = LoadReverseIndex(filepath.Join(dir, "classnames_index.conf")); err != nil {
		return nil, err
	}
	if idx.PackagesIndex, err = LoadReverseIndex(filepath.Join(dir, "packages_index.conf")); err != nil {
		return nil, err
	}
	if idx.FunctionsIndex, err = LoadReverseIndex(filepath.Join(dir, "functions_index.conf")); err != nil {
		return nil, err
	}

	meta, err := os.ReadFile(filepath.Join(dir, "meta.conf"))
	if err == nil {
		vals := parseSimpleConf(meta)
		if v, ok := vals["index_last_computed"]; ok {
			idx.LastComputed, _ = strconv.ParseUint(v, 10, 64)
		}
		if v, ok := vals["index_generated"]; ok {
			idx.Generated, _ = strconv.ParseBool(v)
		}
	}
	return idx, nil
}

func parseSimpleConf(data []byte) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			out[line[:i]] = line[i+1:]
		}
	}
	return out
}
