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
	"context"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/PRL-PRG/sxpdb/internal/codec"
	"github.com/PRL-PRG/sxpdb/internal/errs"
	"github.com/PRL-PRG/sxpdb/internal/provenance"
	"github.com/PRL-PRG/sxpdb/internal/valuehash"
)

// MergeResult reports the outcome of folding one database's values into
// another: how many were genuinely new versus deduplicated against an
// existing hash.
type MergeResult struct {
	Added   int
	Deduped int
}

// mergeItem is a source value decoded once, off the write path, so the
// sequential reduction that follows only ever does cheap hash-map work.
type mergeItem struct {
	value    *codec.Value
	locs     []provenance.SourceTuple
	callIDs  []uint64
	ncalls   uint64
	debug    DebugCounters
	hasDebug bool
}

const mergeShardSize = 4096

// loadMergeItems decodes every value in src plus its provenance,
// sharding the range across goroutines in chunks of at least
// chunkSize values (chunkSize <= 0 selects mergeShardSize). The
// decode/hash work this does is read-only against src, so shards
// never contend with each other.
func loadMergeItems(ctx context.Context, src *Database, chunkSize int) ([]mergeItem, error) {
	if chunkSize <= 0 {
		chunkSize = mergeShardSize
	}
	n := src.NbValues()
	items := make([]mergeItem, n)

	g, gctx := errgroup.WithContext(ctx)
	for lo := uint64(0); lo < n; lo += uint64(chunkSize) {
		lo := lo
		hi := lo + uint64(chunkSize)
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				v, err := src.GetValue(i)
				if err != nil {
					return err
				}
				item := mergeItem{
					value:   v,
					locs:    src.origins.SourceLocations(i),
					callIDs: src.callIDs.CallIDs(i),
					ncalls:  src.runtimeMeta.Get(int(i)).NCalls,
				}
				if src.debugCounters != nil {
					item.debug = src.debugCounters.Get(int(i))
					item.hasDebug = true
				}
				items[i] = item
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errs.Wrap(errs.KindCodec, "loadMergeItems", src.basePath, err)
	}
	return items, nil
}

// mergeMiss appends item as a brand new id: bytes, hash, static meta,
// runtime meta carrying the source's own call count, then empty
// auxiliary rows filled in with the source's provenance remapped to
// the new id. n_merges starts at 1, since the value has now passed
// through one merge to get here.
func (db *Database) mergeMiss(item mergeItem, srcName string) (uint64, error) {
	item.value.Normalize()
	data, err := db.serializer.Serialize(item.value)
	if err != nil {
		return 0, errs.Wrap(errs.KindCodec, "MergeIn", db.basePath, err)
	}
	h := valuehash.Sum(data)

	idx := db.values.Append(data)
	id := uint64(idx)
	db.hashes.Append(h)
	db.staticMeta.Append(deriveStaticMeta(item.value, uint64(len(data))))
	db.runtimeMeta.Append(RuntimeMeta{NCalls: item.ncalls, NMerges: 1})
	if db.debugCounters != nil {
		db.debugCounters.Append(item.debug)
	}

	if err := db.origins.EnsureIndex(id); err != nil {
		return 0, err
	}
	for _, loc := range item.locs {
		if err := db.origins.AddOrigin(id, loc.Package, loc.Function, loc.Param); err != nil {
			return 0, err
		}
	}
	if err := db.classes.AddClasses(id, item.value.Class); err != nil {
		return 0, err
	}
	if err := db.callIDs.EnsureIndex(id); err != nil {
		return 0, err
	}
	for _, callID := range item.callIDs {
		if err := db.callIDs.AddCallID(id, callID); err != nil {
			return 0, err
		}
	}
	if err := db.dbNames.EnsureIndex(id); err != nil {
		return 0, err
	}
	if err := db.dbNames.AddDBName(id, srcName); err != nil {
		return 0, err
	}

	db.hashIndex[h] = id
	return id, nil
}

// mergeHit folds item into an id db already holds: provenance sets are
// unioned, the source's call count is added to the existing total, and
// n_merges is bumped. The value's own class chain is left untouched
// since an identical content hash implies an identical class chain.
func (db *Database) mergeHit(id uint64, item mergeItem, srcName string) error {
	for _, loc := range item.locs {
		if err := db.origins.AddOrigin(id, loc.Package, loc.Function, loc.Param); err != nil {
			return err
		}
	}
	for _, callID := range item.callIDs {
		if err := db.callIDs.AddCallID(id, callID); err != nil {
			return err
		}
	}
	if err := db.dbNames.AddDBName(id, srcName); err != nil {
		return err
	}

	rm := db.runtimeMeta.Get(int(id))
	rm.NCalls += item.ncalls
	rm.NMerges++
	*db.runtimeMeta.At(int(id)) = rm

	if db.debugCounters != nil && item.hasDebug {
		dc := db.debugCounters.Get(int(id))
		dc.NMaybeShared += item.debug.NMaybeShared
		dc.NSexpAddressOpt += item.debug.NSexpAddressOpt
		*db.debugCounters.At(int(id)) = dc
	}
	return nil
}

// reduceMergeItems applies decoded items to db one at a time, in order,
// so the dense append-only id invariant holds regardless of how many
// goroutines produced the items. remap, if non-nil, is filled in with
// every source id's destination id.
func reduceMergeItems(db *Database, items []mergeItem, srcName string, remap map[uint64]uint64) (MergeResult, error) {
	var result MergeResult
	for srcID, item := range items {
		existing, existedBefore, err := db.HaveSeen(item.value)
		if err != nil {
			return result, err
		}

		var destID uint64
		if existedBefore {
			if err := db.mergeHit(existing, item, srcName); err != nil {
				return result, err
			}
			destID = existing
			result.Deduped++
		} else {
			destID, err = db.mergeMiss(item, srcName)
			if err != nil {
				return result, err
			}
			result.Added++
		}
		if remap != nil {
			remap[uint64(srcID)] = destID
		}
	}
	return result, nil
}

// MergeIn folds every value of src into db. Values already present (by
// content hash) are deduplicated: only their provenance is unioned in,
// never a second copy of the bytes. src's base directory name is
// recorded as a source database against every copied id.
func (db *Database) MergeIn(src *Database) (MergeResult, error) {
	if db.mode != ReadWrite {
		return MergeResult{}, errs.New(errs.KindIO, "MergeIn", "database was not opened for writing")
	}

	items, err := loadMergeItems(context.Background(), src, 0)
	if err != nil {
		return MergeResult{}, err
	}
	return reduceMergeItems(db, items, filepath.Base(src.basePath), nil)
}

// MergeInto is MergeIn plus the full id remap: src's id i moved to
// (or matched) destination id remap[i]. Callers with external
// references into src (a cache keyed by id, a log of ids already
// processed) use the remap to rewrite those references against db
// instead of having to look every value back up by content.
func (db *Database) MergeInto(src *Database) (MergeResult, map[uint64]uint64, error) {
	if db.mode != ReadWrite {
		return MergeResult{}, nil, errs.New(errs.KindIO, "MergeInto", "database was not opened for writing")
	}

	items, err := loadMergeItems(context.Background(), src, 0)
	if err != nil {
		return MergeResult{}, nil, err
	}
	remap := make(map[uint64]uint64, len(items))
	result, err := reduceMergeItems(db, items, filepath.Base(src.basePath), remap)
	return result, remap, err
}

// ParallelMergeIn folds src into db the same way MergeIn does, except
// the decode pass shards src's ids into chunks of at least
// minChunkSize (instead of the fixed internal default), giving the
// caller control over how finely the concurrent decode work is split.
// The actual inserts are still reduced sequentially, in src id order,
// preserving the dense id invariant a concurrent Add would break.
func (db *Database) ParallelMergeIn(src *Database, minChunkSize int) (MergeResult, error) {
	if db.mode != ReadWrite {
		return MergeResult{}, errs.New(errs.KindIO, "ParallelMergeIn", "database was not opened for writing")
	}

	items, err := loadMergeItems(context.Background(), src, minChunkSize)
	if err != nil {
		return MergeResult{}, err
	}
	return reduceMergeItems(db, items, filepath.Base(src.basePath), nil)
}
