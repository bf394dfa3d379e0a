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

// ClassNames tracks, per value index, the ordered chain of R class
// names the value carried when it was added (R class order is
// significant - it is not a set). An empty chain means the value had
// no class attribute.
type ClassNames struct {
	basePath string
	names    *intern.Table
	classes  [][]uint32
	dirty    bool
}

// OpenClassNames opens (or creates) the class-name store rooted at
// basePath.
func OpenClassNames(basePath string) (*ClassNames, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindIO, "OpenClassNames", basePath, err)
	}
	names, err := intern.Open(filepath.Join(basePath, "classnames.txt"))
	if err != nil {
		return nil, err
	}

	c := &ClassNames{basePath: basePath, names: names}
	dataPath := filepath.Join(basePath, "classes.bin")
	if _, err := os.Stat(dataPath); err == nil {
		v, err := table.OpenVariable(dataPath, false)
		if err != nil {
			return nil, err
		}
		c.classes = make([][]uint32, v.Len())
		for i := 0; i < v.Len(); i++ {
			raw, err := v.Get(i)
			if err != nil {
				v.Close()
				return nil, err
			}
			c.classes[i] = decodeUint32s(raw)
		}
		if err := v.Close(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddClasses records the class chain for the value at index, interning
// each class name. index must equal the current number of recorded
// entries (classes can only be appended in lockstep with the main
// value table).
func (c *ClassNames) AddClasses(index uint64, classNames []string) error {
	if index != uint64(len(c.classes)) {
		return errs.New(errs.KindIndexOutOfRange, "AddClasses",
			"classnames: cannot add classes for an index that is not the next one")
	}
	ids := make([]uint32, len(classNames))
	for i, name := range classNames {
		ids[i] = c.names.Intern(name)
	}
	c.classes = append(c.classes, ids)
	c.dirty = true
	return nil
}

// Classes returns the ordered class-name ids recorded for index.
func (c *ClassNames) Classes(index uint64) []uint32 {
	if index >= uint64(len(c.classes)) {
		return nil
	}
	return c.classes[index]
}

// ClassName resolves a class-name id to its string.
func (c *ClassNames) ClassName(id uint32) (string, bool) { return c.names.Lookup(id) }

// ClassID resolves a class name to its interned id without interning
// it, false if the name was never recorded.
func (c *ClassNames) ClassID(name string) (uint32, bool) { return c.names.ID(name) }

// NbClassnames reports how many distinct class names have been
// interned.
func (c *ClassNames) NbClassnames() uint64 { return uint64(c.names.Len()) }

// NbValues reports how many value indices have a recorded class chain.
func (c *ClassNames) NbValues() uint64 { return uint64(len(c.classes)) }

// Close snapshots the class table (rename-swap) and flushes the
// interning table.
func (c *ClassNames) Close() error {
	if c.dirty {
		if err := c.snapshot(); err != nil {
			return err
		}
		c.dirty = false
	}
	return c.names.Close()
}

func (c *ClassNames) snapshot() error {
	newPath := filepath.Join(c.basePath, "classes-new.bin")
	v, err := table.OpenVariable(newPath, false)
	if err != nil {
		return err
	}
	for _, ids := range c.classes {
		v.Append(encodeUint32s(ids))
	}
	if err := v.Close(); err != nil {
		return err
	}

	finalData := filepath.Join(c.basePath, "classes.bin")
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
