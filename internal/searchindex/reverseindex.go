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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/PRL-PRG/sxpdb/internal/errs"
)

// ReverseIndex maps a high-cardinality property key (class-name id,
// package id, function id) to the bitmap of value ids carrying it,
// bucketed into bins of at most threshold distinct keys so that the
// on-disk footprint stays bounded regardless of key cardinality.
type ReverseIndex struct {
	threshold int
	keys      []uint64            // lower bound key of each bin, ascending
	bins      []*roaring64.Bitmap // bins[i] covers [keys[i], keys[i+1])
	pending   map[uint64]*roaring64.Bitmap
}

// NewReverseIndex returns an empty reverse index with the given
// per-bin key threshold.
func NewReverseIndex(threshold int) *ReverseIndex {
	return &ReverseIndex{threshold: threshold, pending: map[uint64]*roaring64.Bitmap{}}
}

// AddProperty records that value id carries property key.
func (r *ReverseIndex) AddProperty(key, id uint64) {
	bm, ok := r.pending[key]
	if !ok {
		bm = roaring64.New()
		r.pending[key] = bm
	}
	bm.Add(id)
}

// Finalize groups the accumulated per-key bitmaps into bins of at most
// threshold distinct keys each, unioning their bitmaps, and clears the
// pending accumulator. Call after every AddProperty batch (build or
// incremental rebuild).
func (r *ReverseIndex) Finalize() {
	props := make([]uint64, 0, len(r.pending))
	for k := range r.pending {
		props = append(props, k)
	}
	sort.Slice(props, func(i, j int) bool { return props[i] < props[j] })

	var keys []uint64
	var bins []*roaring64.Bitmap
	for i := 0; i < len(props); i += r.threshold {
		end := i + r.threshold
		if end > len(props) {
			end = len(props)
		}
		cur := roaring64.New()
		for _, k := range props[i:end] {
			cur.Or(r.pending[k])
		}
		keys = append(keys, props[i])
		bins = append(bins, cur)
	}
	r.keys = keys
	r.bins = bins
	r.pending = map[uint64]*roaring64.Bitmap{}
}

// GetIndex returns the bitmap of the bin containing key and whether
// that bin represents a single distinct key (true: no further
// filtering needed; false: caller must linearly refine).
func (r *ReverseIndex) GetIndex(key uint64) (*roaring64.Bitmap, bool) {
	if len(r.keys) == 0 {
		return roaring64.New(), true
	}
	idx := sort.Search(len(r.keys), func(i int) bool { return r.keys[i] > key }) - 1
	if idx < 0 {
		return roaring64.New(), true
	}
	single := idx+1 >= len(r.keys) || r.keys[idx+1]-r.keys[idx] <= 1
	return r.bins[idx], single
}

// Save persists the reverse index as confPath (threshold/nb_indexes)
// plus one numbered ".ror" sibling file per bin.
func (r *ReverseIndex) Save(confPath string) error {
	stem := strings.TrimSuffix(filepath.Base(confPath), filepath.Ext(confPath))
	dir := filepath.Dir(confPath)

	var sb strings.Builder
	fmt.Fprintf(&sb, "threshold=%d\n", r.threshold)
	fmt.Fprintf(&sb, "nb_indexes=%d\n", len(r.bins))
	for i, bm := range r.bins {
		binPath := filepath.Join(dir, fmt.Sprintf("%s_%d.ror", stem, i))
		if err := writeBitmap(binPath, bm); err != nil {
			return err
		}
		fmt.Fprintf(&sb, "key_%d=%d\n", i, r.keys[i])
	}
	if err := os.WriteFile(confPath, []byte(sb.String()), 0o644); err != nil {
		return errs.Wrap(errs.KindIO, "Save", confPath, err)
	}
	return nil
}

// LoadReverseIndex reads back a reverse index written by Save.
func LoadReverseIndex(confPath string) (*ReverseIndex, error) {
	data, err := os.ReadFile(confPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewReverseIndex(200), nil
		}
		return nil, errs.Wrap(errs.KindIO, "LoadReverseIndex", confPath, err)
	}
	values := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			values[parts[0]] = parts[1]
		}
	}
	threshold, _ := strconv.Atoi(values["threshold"])
	if threshold == 0 {
		threshold = 200
	}
	nbIndexes, _ := strconv.Atoi(values["nb_indexes"])

	stem := strings.TrimSuffix(filepath.Base(confPath), filepath.Ext(confPath))
	dir := filepath.Dir(confPath)

	r := NewReverseIndex(threshold)
	r.keys = make([]uint64, nbIndexes)
	r.bins = make([]*roaring64.Bitmap, nbIndexes)
	for i := 0; i < nbIndexes; i++ {
		key, err := strconv.ParseUint(values[fmt.Sprintf("key_%d", i)], 10, 64)
		if err != nil {
			return nil, errs.Wrap(errs.KindCorruption, "LoadReverseIndex", confPath, err)
		}
		r.keys[i] = key
		binPath := filepath.Join(dir, fmt.Sprintf("%s_%d.ror", stem, i))
		bm, err := readBitmap(binPath)
		if err != nil {
			return nil, err
		}
		r.bins[i] = bm
	}
	return r, nil
}
