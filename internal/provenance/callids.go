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
	"github.com/PRL-PRG/sxpdb/internal/table"
)

// CallIds tracks, per value index, the opaque call identifiers
// (unique within a single tracing run) that observed the value. Unlike
// class names these are raw uint64s, not interned - call ids are
// already dense and unique within a file, so interning would only add
// overhead.
type CallIds struct {
	basePath string
	ids      [][]uint64
	dirty    bool
}

// OpenCallIds opens (or creates) the call-id store rooted at basePath.
func OpenCallIds(basePath string) (*CallIds, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindIO, "OpenCallIds", basePath, err)
	}
	c := &CallIds{basePath: basePath}
	dataPath := filepath.Join(basePath, "call_ids.bin")
	if _, err := os.Stat(dataPath); err == nil {
		v, err := table.OpenVariable(dataPath, false)
		if err != nil {
			return nil, err
		}
		c.ids = make([][]uint64, v.Len())
		for i := 0; i < v.Len(); i++ {
			raw, err := v.Get(i)
			if err != nil {
				v.Close()
				return nil, err
			}
			c.ids[i] = decodeUint64s(raw)
		}
		if err := v.Close(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddCallID records that the value at index was observed during
// callID. index may be an existing entry (appends to its list) or
// exactly one past the end (starts a new one).
func (c *CallIds) AddCallID(index uint64, callID uint64) error {
	switch {
	case index < uint64(len(c.ids)):
		c.ids[index] = append(c.ids[index], callID)
	case index == uint64(len(c.ids)):
		c.ids = append(c.ids, []uint64{callID})
	default:
		return errs.New(errs.KindIndexOutOfRange, "AddCallID",
			"callids: cannot add a call id for an index past the table's end")
	}
	c.dirty = true
	return nil
}

// EnsureIndex extends the table with an empty call-id list for index
// if index is exactly one past the current end, otherwise is a no-op.
func (c *CallIds) EnsureIndex(index uint64) error {
	switch {
	case index < uint64(len(c.ids)):
		return nil
	case index == uint64(len(c.ids)):
		c.ids = append(c.ids, nil)
		c.dirty = true
		return nil
	default:
		return errs.New(errs.KindIndexOutOfRange, "EnsureIndex",
			"callids: cannot extend the table past its next index")
	}
}

// CallIDs returns the call ids recorded for index.
func (c *CallIds) CallIDs(index uint64) []uint64 {
	if index >= uint64(len(c.ids)) {
		return nil
	}
	return c.ids[index]
}

// NbValues reports how many value indices have a recorded call id list.
func (c *CallIds) NbValues() uint64 { return uint64(len(c.ids)) }

// Close snapshots the call-id table (rename-swap).
func (c *CallIds) Close() error {
	if !c.dirty {
		return nil
	}
	newPath := filepath.Join(c.basePath, "call_ids-new.bin")
	v, err := table.OpenVariable(newPath, false)
	if err != nil {
		return err
	}
	for _, ids := range c.ids {
		v.Append(encodeUint64s(ids))
	}
	if err := v.Close(); err != nil {
		return err
	}

	finalData := filepath.Join(c.basePath, "call_ids.bin")
	finalOffsets := finalData + ".offsets"
	if err := os.Rename(newPath, finalData); err != nil {
		return errs.Wrap(errs.KindIO, "Close", finalData, err)
	}
	if err := os.Rename(newPath+".offsets", finalOffsets); err != nil {
		return errs.Wrap(errs.KindIO, "Close", finalOffsets, err)
	}
	if err := os.Rename(newPath+".offsets.conf", finalOffsets+".conf"); err != nil {
		return errs.Wrap(errs.KindIO, "Close", finalOffsets+".conf", err)
	}
	c.dirty = false
	return nil
}
