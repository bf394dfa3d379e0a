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
	"sync"

	"github.com/PRL-PRG/sxpdb/internal/errs"
)

// defaultDB is the single process-wide database instance that
// OpenDefault/CloseDefault/DefaultDB manage, mirroring the tracer
// runtime's single global store: a process only ever traces against
// one database at a time, opened once at startup and closed once at
// exit.
var (
	defaultMu sync.Mutex
	defaultDB *Database
)

// OpenDefault opens path as the process-wide default database. Calling
// it again before CloseDefault returns an error; callers that want a
// second independent handle should use Open directly.
func OpenDefault(path string, opts Options) (*Database, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultDB != nil {
		return nil, errs.New(errs.KindIO, "OpenDefault", "a default database is already open")
	}
	db, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	defaultDB = db
	return db, nil
}

// DefaultDB returns the process-wide default database, or nil if none
// has been opened.
func DefaultDB() *Database {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultDB
}

// CloseDefault closes and clears the process-wide default database. It
// is a no-op if none is open.
func CloseDefault() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultDB == nil {
		return nil
	}
	err := defaultDB.Close()
	defaultDB = nil
	return err
}
