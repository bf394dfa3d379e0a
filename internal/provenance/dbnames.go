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
	"os"
	"path/filepath"

	"github.com/PRL-PRG/sxpdb/internal/errs"
	"github.com/PRL-PRG/sxpdb/internal/intern"
	"github.com/PRL-PRG/sxpdb/internal/table"
)

// DBNames tracks, per value index, the set of source database names a
// value is known to have come from - populated as databases are
// merged into one another, so a value kept across several merges
// accumulates every origin database's name.
type DBNames struct {
	basePath string
	names    *intern.Table
	dbs      []map[uint32]struct{}
	dirty    bool
}

// OpenDBNames opens (or creates) the db-name store rooted at basePath.
func OpenDBNames(basePath string) (*DBNames, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindIO, "OpenDBNames", basePath, err)
	}
	names, err := intern.Open(filepath.Join(basePath, "dbnames.txt"))
	if err != nil {
		return nil, err
	}
	d := &DBNames{basePath: basePath, names: names}

	dataPath := filepath.Join(basePath, "dbs.bin")
	if _, err := os.Stat(dataPath); err == nil {
		v, err := table.OpenVariable(dataPath, false)
		if err != nil {
			return nil, err
		}
		d.dbs = make([]map[uint32]struct{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			raw, err := v.Get(i)
			if err != nil {
				v.Close()
				return nil, err
			}
			ids := decodeUint32s(raw)
			set := make(map[uint32]struct{}, len(ids))
			for _, id := range ids {
				set[id] = struct{}{}
			}
			d.dbs[i] = set
		}
		if err := v.Close(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// AddDBName records that the value at index is known to have come
// from dbName. index may be an existing entry (adds to its set) or
// exactly one past the end.
func (d *DBNames) AddDBName(index uint64, dbName string) error {
	id := d.names.Intern(dbName)
	switch {
	case index < uint64(len(d.dbs)):
		if _, ok := d.dbs[index][id]; !ok {
			d.dbs[index][id] = struct{}{}
			d.dirty = true
		}
	case index == uint64(len(d.dbs)):
		d.dbs = append(d.dbs, map[uint32]struct{}{id: {}})
		d.dirty = true
	default:
		return errs.New(errs.KindIndexOutOfRange, "AddDBName",
			"dbnames: cannot add a db name for an index past the table's end")
	}
	return nil
}

// EnsureIndex extends the table with an empty db-name set for index if
// index is exactly one past the current end, otherwise is a no-op.
func (d *DBNames) EnsureIndex(index uint64) error {
	switch {
	case index < uint64(len(d.dbs)):
		return nil
	case index == uint64(len(d.dbs)):
		d.dbs = append(d.dbs, map[uint32]struct{}{})
		d.dirty = true
		return nil
	default:
		return errs.New(errs.KindIndexOutOfRange, "EnsureIndex",
			"dbnames: cannot extend the table past its next index")
	}
}

// DBNames returns the database names recorded for index.
func (d *DBNames) DBNames(index uint64) []string {
	if index >= uint64(len(d.dbs)) {
		return nil
	}
	out := make([]string, 0, len(d.dbs[index]))
	for id := range d.dbs[index] {
		if name, ok := d.names.Lookup(id); ok {
			out = append(out, name)
		}
	}
	return out
}

// NbDBNames reports how many distinct database names have been
// interned.
func (d *DBNames) NbDBNames() uint64 { return uint64(d.names.Len()) }

// Close snapshots the db-name table (rename-swap) and flushes the
// interning table.
func (d *DBNames) Close() error {
	if d.dirty {
		if err := d.snapshot(); err != nil {
			return err
		}
		d.dirty = false
	}
	return d.names.Close()
}

func (d *DBNames) snapshot() error {
	newPath := filepath.Join(d.basePath, "dbs-new.bin")
	v, err := table.OpenVariable(newPath, false)
	if err != nil {
		return err
	}
	for _, set := range d.dbs {
		ids := make([]uint32, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		v.Append(encodeUint32s(ids))
	}
	if err := v.Close(); err != nil {
		return err
	}

	finalData := filepath.Join(d.basePath, "dbs.bin")
	finalOffsets := finalData + ".offsets"
	if err := os.Rename(newPath, finalData); err != nil {
		return errs.Wrap(errs.KindIO, "snapshot", finalData, err)
	}
	if err := os.Rename(newPath+".offsets", finalOffsets); err != nil {
		return errs.Wrap(errs.KindIO, "snapshot", finalOffsets, err)
	}
	if err := os.Rename(newPath+".offsets.conf", finalOffsets+".conf"); err != nil {
		return errs.Wrap(errs.KindIO, "snapshot", finalOffsets+".conf", err)
	}
	return nil
}
