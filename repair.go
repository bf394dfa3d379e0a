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

// Repair rolls the value, hash, static-meta, runtime-meta (and, when
// present, debug-counter) tables at path back to the last id present
// in all of them; provenance tables are left as they are. It discards
// any orphan tail a crashed writer left
// behind (a partially-flushed value and the auxiliary rows that either
// never got written, or - as in a hashes_table.bin truncated mid-write
// - did get written but then lost their tail to a torn write). It
// opens path directly rather than through Open, since Open's own
// unclean-shutdown gate would otherwise refuse to open the very
// database Repair exists to fix.
func Repair(path string) error {
	db, err := openTables(path, Options{Mode: ReadWrite})
	if err != nil {
		return err
	}

	complete := int(db.completeRows())

	if db.values.Len() > complete {
		if err := db.values.Truncate(complete); err != nil {
			db.closeBestEffort()
			return err
		}
	}
	if db.hashes.Len() > complete {
		if err := db.hashes.Truncate(complete); err != nil {
			db.closeBestEffort()
			return err
		}
	}
	if db.staticMeta.Len() > complete {
		if err := db.staticMeta.Truncate(complete); err != nil {
			db.closeBestEffort()
			return err
		}
	}
	if db.runtimeMeta.Len() > complete {
		if err := db.runtimeMeta.Truncate(complete); err != nil {
			db.closeBestEffort()
			return err
		}
	}
	if db.debugCounters != nil && db.debugCounters.Len() > complete {
		if err := db.debugCounters.Truncate(complete); err != nil {
			db.closeBestEffort()
			return err
		}
	}

	// hashIndex was built from db.hashes before the truncation above;
	// an id truncated out of hashes is already absent from it, but a
	// table other than hashes may have been the short one, so re-filter
	// against the now-common length defensively.
	for h, id := range db.hashIndex {
		if id >= uint64(complete) {
			delete(db.hashIndex, h)
		}
	}

	lock, err := acquireWriteLock(path)
	if err != nil {
		db.closeBestEffort()
		return err
	}
	db.lock = lock

	return db.Close()
}
