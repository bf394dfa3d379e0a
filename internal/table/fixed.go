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

// Package table implements the two append-only, on-disk record stores
// the rest of sxpdb is built from: Fixed, a flat array of fixed-size
// records served from an in-memory mirror, and Variable, a data-file-
// plus-offsets pair for variable-length payloads (optionally
// zstd-framed) read back from disk with ReadAt. Both grow by appending;
// Truncate is the only operation that shrinks them.
package table

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/PRL-PRG/sxpdb/internal/errs"
	"github.com/PRL-PRG/sxpdb/internal/stablevec"
)

// Codec encodes and decodes a fixed-size record of type T. Size must be
// constant across the table's lifetime; changing it invalidates every
// record already on disk.
type Codec[T any] interface {
	Size() int
	Encode(v T, buf []byte)
	Decode(buf []byte) T
}

// Fixed is an append-only table of fixed-size records of type T,
// mirrored in memory via stablevec.Vector so that Append never
// invalidates a pointer returned by a prior At.
//
// As long as records are only appended, Flush writes just the suffix
// appended since the last flush (only_append in the original). Taking a
// pointer with At marks the whole table for rewrite on the next Flush.
// Open always reads every record back into memory.
type Fixed[T any] struct {
	path     string
	confPath string
	codec    Codec[T]

	file *os.File
	mem  *stablevec.Vector[T]

	lastWritten int // records already flushed to disk
	dirty       bool
}

// OpenFixed opens (or creates) a fixed-record table rooted at path
// (path itself is the data file; path+".conf" holds record_size and
// nb_values metadata).
func OpenFixed[T any](path string, codec Codec[T]) (*Fixed[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "table: mkdir")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "OpenFixed", path, err)
	}

	t := &Fixed[T]{
		path:     path,
		confPath: path + ".conf",
		codec:    codec,
		file:     f,
		mem:      stablevec.New[T](0),
	}

	conf, err := loadSidecarConf(t.confPath)
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.KindIO, "OpenFixed", t.confPath, err)
	}
	recordSize := conf.getUint64("record_size", uint64(codec.Size()))
	if int(recordSize) != codec.Size() {
		f.Close()
		return nil, errs.New(errs.KindVersionMismatch, "OpenFixed",
			fmt.Sprintf("%s: record_size=%d on disk, codec wants %d", path, recordSize, codec.Size()))
	}
	nbValues := conf.getUint64("nb_values", 0)

	if err := t.loadFromDisk(int(nbValues)); err != nil {
		f.Close()
		return nil, err
	}
	t.lastWritten = int(nbValues)
	return t, nil
}

// loadFromDisk reads up to n records from the data file. If the file
// is shorter than n complete records — the signature of a writer that
// crashed mid-append — it silently loads only the complete records
// actually present instead of failing Open outright; the resulting
// short table is what Repair detects and rolls the rest of the
// database back to.
func (t *Fixed[T]) loadFromDisk(n int) error {
	if n == 0 {
		return nil
	}
	size := t.codec.Size()
	fi, err := t.file.Stat()
	if err != nil {
		return errs.Wrap(errs.KindIO, "loadFromDisk", t.path, err)
	}
	if complete := int(fi.Size()) / size; complete < n {
		n = complete
	}
	buf := make([]byte, size)
	for i := 0; i < n; i++ {
		if _, err := t.file.ReadAt(buf, int64(i*size)); err != nil {
			return errs.Wrap(errs.KindIO, "loadFromDisk", t.path, err)
		}
		t.mem.Append(t.codec.Decode(buf))
	}
	return nil
}

// Truncate drops every record at index >= n and rewrites the sidecar
// conf to match, used by Repair to roll a table back to its last
// fully-formed record.
func (t *Fixed[T]) Truncate(n int) error {
	if n >= t.mem.Len() {
		return nil
	}
	t.mem.Truncate(n)
	t.lastWritten = n
	t.dirty = false
	size := t.codec.Size()
	if err := t.file.Truncate(int64(n) * int64(size)); err != nil {
		return errs.Wrap(errs.KindIO, "Truncate", t.path, err)
	}
	conf, err := loadSidecarConf(t.confPath)
	if err != nil {
		return errs.Wrap(errs.KindIO, "Truncate", t.confPath, err)
	}
	conf.setUint64("record_size", uint64(size))
	conf.setUint64("nb_values", uint64(n))
	if err := conf.save(t.confPath); err != nil {
		return errs.Wrap(errs.KindIO, "Truncate", t.confPath, err)
	}
	return nil
}

// Len reports the number of records, flushed or not.
func (t *Fixed[T]) Len() int { return t.mem.Len() }

// Append adds a record at the end and returns a stable pointer to it.
func (t *Fixed[T]) Append(v T) *T {
	t.dirty = true
	return t.mem.Append(v)
}

// At returns a stable pointer to the record at pos. The caller may write
// through it, so the next Flush rewrites every record, not just the
// appended suffix.
func (t *Fixed[T]) At(pos int) *T {
	t.dirty = true
	t.lastWritten = 0
	return t.mem.At(pos)
}

// Get returns a copy of the record at pos.
func (t *Fixed[T]) Get(pos int) T { return t.mem.Get(pos) }

// ForEach visits every record in order.
func (t *Fixed[T]) ForEach(fn func(i int, elem *T)) { t.mem.ForEach(fn) }

// Flush appends every record added since the last Flush/Open to disk
// and persists the sidecar conf. Records already on disk are rewritten
// only when At was called since the last Flush.
func (t *Fixed[T]) Flush() error {
	if !t.dirty {
		return nil
	}
	size := t.codec.Size()
	buf := make([]byte, size)
	for i := t.lastWritten; i < t.mem.Len(); i++ {
		t.codec.Encode(t.mem.Get(i), buf)
		if _, err := t.file.WriteAt(buf, int64(i*size)); err != nil {
			return errs.Wrap(errs.KindIO, "Flush", t.path, err)
		}
	}
	if err := t.file.Sync(); err != nil {
		return errs.Wrap(errs.KindIO, "Flush", t.path, err)
	}
	t.lastWritten = t.mem.Len()

	conf, err := loadSidecarConf(t.confPath)
	if err != nil {
		return errs.Wrap(errs.KindIO, "Flush", t.confPath, err)
	}
	conf.setUint64("record_size", uint64(size))
	conf.setUint64("nb_values", uint64(t.mem.Len()))
	if err := conf.save(t.confPath); err != nil {
		return errs.Wrap(errs.KindIO, "Flush", t.confPath, err)
	}
	t.dirty = false
	return nil
}

// Mmap maps the currently flushed portion of the file read-only, for a
// caller that wants to scan on-disk bytes without going through the
// in-memory mirror. After At it maps nothing until the next Flush.
// Nothing in sxpdb itself calls it.
func (t *Fixed[T]) Mmap() (mmap.MMap, error) {
	if t.lastWritten == 0 {
		return nil, nil
	}
	m, err := mmap.MapRegion(t.file, t.lastWritten*t.codec.Size(), mmap.RDONLY, 0, 0)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "Mmap", t.path, err)
	}
	return m, nil
}

// Close flushes pending records and closes the backing file.
func (t *Fixed[T]) Close() error {
	if err := t.Flush(); err != nil {
		return err
	}
	return t.file.Close()
}
