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
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/PRL-PRG/sxpdb/internal/errs"
)

// writeLock wraps a .LOCK file: a single writer process may hold it at
// a time, enforced via flock(2)/LockFileEx. Readers never take it.
type writeLock struct {
	fl *flock.Flock
}

func lockPath(basePath string) string { return filepath.Join(basePath, ".LOCK") }

// acquireWriteLock takes the exclusive write lock for basePath,
// failing immediately (rather than blocking) if another process
// already holds it: a second concurrent writer is forbidden outright
// rather than queued.
func acquireWriteLock(basePath string) (*writeLock, error) {
	fl := flock.New(lockPath(basePath))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "acquireWriteLock", lockPath(basePath), err)
	}
	if !ok {
		return nil, errs.New(errs.KindUncleanShutdown, "acquireWriteLock",
			"database is already open for writing by another process")
	}
	return &writeLock{fl: fl}, nil
}

// staleLock reports whether a .LOCK file is already present on disk -
// the signal Open uses to run CheckSlow before allowing a write-open.
// The OS releases flock(2)'s advisory lock itself when a process dies,
// so a crashed writer's .LOCK file would otherwise be silently
// re-acquired by the next writer with no integrity check at all; the
// file's mere existence, independent of whether it is still held, is
// what flags the prior shutdown as unclean.
func staleLock(basePath string) (bool, error) {
	_, err := os.Stat(lockPath(basePath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errs.Wrap(errs.KindIO, "staleLock", lockPath(basePath), err)
}

// release unlocks and removes the lock file.
func (w *writeLock) release() error {
	if w == nil || w.fl == nil {
		return nil
	}
	path := w.fl.Path()
	if err := w.fl.Unlock(); err != nil {
		return errs.Wrap(errs.KindIO, "release", path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindIO, "release", path, err)
	}
	return nil
}
