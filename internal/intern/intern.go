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

// Package intern implements the dense-id string interning table shared
// by package names, function names, parameter names, class names and
// source database names. Id 0 is permanently reserved for "" so that a
// zero-value id field in a record unambiguously means "absent" rather
// than colliding with a real string.
package intern

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/PRL-PRG/sxpdb/internal/errs"
)

// Table interns strings to dense uint32 ids and back. It is backed by
// an append-only newline-delimited file: the id of a string is its
// line number (1-based; line 0 does not exist, id 0 means "").
type Table struct {
	path    string
	strings []string // index 0 unused, kept nil-shaped for id alignment
	ids     map[string]uint32
	file    *os.File
	dirty   int // count of entries appended since last Flush
}

// Open opens (or creates) an interning table at path.
func Open(path string) (*Table, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "intern: mkdir")
	}
	t := &Table{
		path:    path,
		strings: []string{""},
		ids:     map[string]uint32{"": 0},
	}

	if data, err := os.ReadFile(path); err == nil {
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for sc.Scan() {
			s := sc.Text()
			id := uint32(len(t.strings))
			t.strings = append(t.strings, s)
			t.ids[s] = id
		}
		if err := sc.Err(); err != nil {
			return nil, errs.Wrap(errs.KindCorruption, "Open", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.KindIO, "Open", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "Open", path, err)
	}
	t.file = f
	return t, nil
}

// Intern returns s's id, assigning a new one if s has never been
// interned before. The empty string always maps to 0.
func (t *Table) Intern(s string) uint32 {
	if s == "" {
		return 0
	}
	if id, ok := t.ids[s]; ok {
		return id
	}
	id := uint32(len(t.strings))
	t.strings = append(t.strings, s)
	t.ids[s] = id
	t.dirty++
	return id
}

// Lookup returns the string for id, or false if id has never been
// assigned.
func (t *Table) Lookup(id uint32) (string, bool) {
	if int(id) >= len(t.strings) {
		return "", false
	}
	return t.strings[id], true
}

// ID returns s's id without interning it, the second value false if s
// has never been interned. The empty string always resolves to (0, true).
func (t *Table) ID(s string) (uint32, bool) {
	if s == "" {
		return 0, true
	}
	id, ok := t.ids[s]
	return id, ok
}

// Has reports whether s has already been interned.
func (t *Table) Has(s string) bool {
	if s == "" {
		return true
	}
	_, ok := t.ids[s]
	return ok
}

// Len returns the number of distinct non-empty strings interned.
func (t *Table) Len() int { return len(t.strings) - 1 }

// Flush appends newly interned strings to disk.
func (t *Table) Flush() error {
	if t.dirty == 0 {
		return nil
	}
	w := bufio.NewWriter(t.file)
	for _, s := range t.strings[len(t.strings)-t.dirty:] {
		if _, err := w.WriteString(s); err != nil {
			return errs.Wrap(errs.KindIO, "Flush", t.path, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return errs.Wrap(errs.KindIO, "Flush", t.path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return errs.Wrap(errs.KindIO, "Flush", t.path, err)
	}
	if err := t.file.Sync(); err != nil {
		return errs.Wrap(errs.KindIO, "Flush", t.path, err)
	}
	t.dirty = 0
	return nil
}

// Close flushes pending entries and closes the backing file.
func (t *Table) Close() error {
	if err := t.Flush(); err != nil {
		return err
	}
	return t.file.Close()
}

// Merge unions other's strings into t, returning a remap from other's
// ids to t's ids.
func (t *Table) Merge(other *Table) []uint32 {
	remap := make([]uint32, len(other.strings))
	for id, s := range other.strings {
		if id == 0 {
			remap[0] = 0
			continue
		}
		remap[id] = t.Intern(s)
	}
	return remap
}
