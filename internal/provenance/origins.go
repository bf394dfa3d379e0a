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
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/PRL-PRG/sxpdb/internal/errs"
	"github.com/PRL-PRG/sxpdb/internal/intern"
	"github.com/PRL-PRG/sxpdb/internal/table"
)

// Location is a single (package, function, parameter) call site that
// produced a value. Argument is the special ArgumentReturn sentinel
// when the value was observed as a function's return rather than one
// of its arguments.
type Location struct {
	Package  uint32
	Function uint32
	Argument uint32
}

// ArgumentReturn marks a Location that records a function's return
// value rather than one of its arguments.
const ArgumentReturn = ^uint32(0)

// Origins tracks, for every value index, the set of call sites that
// produced it. It owns three interning tables (package/function/param
// names) plus a per-index set of Locations, mirrored in memory and
// snapshotted to disk on Close.
type Origins struct {
	basePath string
	packages *intern.Table
	funcs    *intern.Table
	params   *intern.Table

	locations []map[Location]struct{}
	dirty     bool
}

// Open opens (or creates) the origins store rooted at basePath.
func Open(basePath string) (*Origins, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindIO, "Open", basePath, err)
	}
	packages, err := intern.Open(filepath.Join(basePath, "packages.txt"))
	if err != nil {
		return nil, err
	}
	funcs, err := intern.Open(filepath.Join(basePath, "functions.txt"))
	if err != nil {
		return nil, err
	}
	params, err := intern.Open(filepath.Join(basePath, "params.txt"))
	if err != nil {
		return nil, err
	}

	o := &Origins{basePath: basePath, packages: packages, funcs: funcs, params: params}

	dataPath := filepath.Join(basePath, "origins.bin")
	if _, err := os.Stat(dataPath); err == nil {
		v, err := table.OpenVariable(dataPath, false)
		if err != nil {
			return nil, err
		}
		defer v.Close()
		o.locations = make([]map[Location]struct{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			raw, err := v.Get(i)
			if err != nil {
				return nil, err
			}
			o.locations[i] = decodeLocations(raw)
		}
	}
	return o, nil
}

// AddOrigin records that the value at index was observed at the given
// call site. index must be an already-recorded value index, or exactly
// one past the last recorded index (extending the table by one).
func (o *Origins) AddOrigin(index uint64, packageName, functionName, paramName string) error {
	loc := Location{
		Package:  o.packages.Intern(packageName),
		Function: o.funcs.Intern(functionName),
		Argument: o.params.Intern(paramName),
	}

	switch {
	case index < uint64(len(o.locations)):
		set := o.locations[index]
		if _, ok := set[loc]; !ok {
			set[loc] = struct{}{}
			o.dirty = true
		}
	case index == uint64(len(o.locations)):
		o.locations = append(o.locations, map[Location]struct{}{loc: {}})
		o.dirty = true
	default:
		return errs.New(errs.KindIndexOutOfRange, "AddOrigin",
			"origins: cannot add an origin for an index past the table's end")
	}
	return nil
}

// EnsureIndex extends the table with an empty location set for index
// if index is exactly one past the current end, otherwise is a no-op
// (index already exists). Used to give every value id an origins
// entry even when no call site is known yet.
func (o *Origins) EnsureIndex(index uint64) error {
	switch {
	case index < uint64(len(o.locations)):
		return nil
	case index == uint64(len(o.locations)):
		o.locations = append(o.locations, map[Location]struct{}{})
		o.dirty = true
		return nil
	default:
		return errs.New(errs.KindIndexOutOfRange, "EnsureIndex",
			"origins: cannot extend the table past its next index")
	}
}

// Locations returns the raw call sites recorded for index.
func (o *Origins) Locations(index uint64) []Location {
	if index >= uint64(len(o.locations)) {
		return nil
	}
	set := o.locations[index]
	out := make([]Location, 0, len(set))
	for loc := range set {
		out = append(out, loc)
	}
	return out
}

// SourceTuple is a resolved (package, function, parameter) name triple.
type SourceTuple struct {
	Package  string
	Function string
	Param    string
}

// SourceLocations resolves every Location recorded for index into its
// package/function/param name strings.
func (o *Origins) SourceLocations(index uint64) []SourceTuple {
	locs := o.Locations(index)
	out := make([]SourceTuple, 0, len(locs))
	for _, loc := range locs {
		pkg, _ := o.packages.Lookup(loc.Package)
		fn, _ := o.funcs.Lookup(loc.Function)
		param, _ := o.params.Lookup(loc.Argument)
		out = append(out, SourceTuple{Package: pkg, Function: fn, Param: param})
	}
	return out
}

// NbValues reports how many value indices have at least a recorded
// (possibly empty) origin set.
func (o *Origins) NbValues() uint64 { return uint64(len(o.locations)) }

// PackageID resolves a package name to its interned id without
// interning it, false if the name was never recorded.
func (o *Origins) PackageID(name string) (uint32, bool) { return o.packages.ID(name) }

// FunctionID resolves a function name to its interned id without
// interning it, false if the name was never recorded.
func (o *Origins) FunctionID(name string) (uint32, bool) { return o.funcs.ID(name) }

func (o *Origins) NbPackages() uint64   { return uint64(o.packages.Len()) }
func (o *Origins) NbFunctions() uint64  { return uint64(o.funcs.Len()) }
func (o *Origins) NbParameters() uint64 { return uint64(o.params.Len()) }

func encodeLocations(locs map[Location]struct{}) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(locs)))
	buf.Write(tmp[:n])
	for loc := range locs {
		for _, v := range [3]uint32{loc.Package, loc.Function, loc.Argument} {
			n := binary.PutUvarint(tmp[:], uint64(v))
			buf.Write(tmp[:n])
		}
	}
	return buf.Bytes()
}

func decodeLocations(data []byte) map[Location]struct{} {
	r := bytes.NewReader(data)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return map[Location]struct{}{}
	}
	out := make(map[Location]struct{}, count)
	for i := uint64(0); i < count; i++ {
		pkg, err1 := binary.ReadUvarint(r)
		fn, err2 := binary.ReadUvarint(r)
		arg, err3 := binary.ReadUvarint(r)
		if err1 != nil || err2 != nil || err3 != nil {
			break
		}
		out[Location{Package: uint32(pkg), Function: uint32(fn), Argument: uint32(arg)}] = struct{}{}
	}
	return out
}

// Close snapshots the full location table to a fresh pair of files and
// swaps them into place (rename-swap), then flushes and closes the
// interning tables. A crash between the snapshot write and the rename
// leaves the previous snapshot intact.
func (o *Origins) Close() error {
	if o.dirty {
		if err := o.snapshot(); err != nil {
			return err
		}
		o.dirty = false
	}
	if err := o.packages.Close(); err != nil {
		return err
	}
	if err := o.funcs.Close(); err != nil {
		return err
	}
	return o.params.Close()
}

func (o *Origins) snapshot() error {
	newPath := filepath.Join(o.basePath, "origins-new.bin")
	v, err := table.OpenVariable(newPath, false)
	if err != nil {
		return err
	}
	for _, locs := range o.locations {
		v.Append(encodeLocations(locs))
	}
	if err := v.Close(); err != nil {
		return err
	}

	finalData := filepath.Join(o.basePath, "origins.bin")
	finalOffsets := finalData + ".offsets"
	finalOffsetsConf := finalOffsets + ".conf"

	if err := os.Rename(newPath, finalData); err != nil {
		return errs.Wrap(errs.KindIO, "snapshot", finalData, err)
	}
	if err := os.Rename(newPath+".offsets", finalOffsets); err != nil {
		return errs.Wrap(errs.KindIO, "snapshot", finalOffsets, err)
	}
	if err := os.Rename(newPath+".offsets.conf", finalOffsetsConf); err != nil {
		return errs.Wrap(errs.KindIO, "snapshot", finalOffsetsConf, err)
	}
	return nil
}
