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
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/PRL-PRG/sxpdb/internal/codec"
	"github.com/PRL-PRG/sxpdb/internal/errs"
	"github.com/PRL-PRG/sxpdb/internal/provenance"
	"github.com/PRL-PRG/sxpdb/internal/searchindex"
	"github.com/PRL-PRG/sxpdb/internal/table"
	"github.com/PRL-PRG/sxpdb/internal/valuehash"
)

// ErrNotStored is returned by Add when v's type can never be recorded
// as a top-level id. Environments and closures elide to an identical
// empty payload at serialize time (see internal/codec), so hashing
// and deduping them like any other value would silently collapse
// every environment ever added into a single shared id and corrupt
// the provenance recorded against it.
var ErrNotStored = errors.New("sxpdb: value type cannot be stored as a top-level id")

// OpenMode selects whether Open takes the write lock.
type OpenMode int

const (
	ReadOnly OpenMode = iota
	ReadWrite
)

// Options configures Open. The zero value is a reasonable default
// (read-only, no debug counters, a logger that discards output).
type Options struct {
	Mode                OpenMode
	EnableDebugCounters bool
	IdentityCacheSize   int
	Logger              *zap.Logger
}

// Database is the façade over every on-disk layer: value bytes, hash
// dedup, static/runtime metadata, provenance and the search index.
type Database struct {
	basePath string
	mode     OpenMode
	conf     *config
	lock     *writeLock
	log      *zap.Logger

	values        *table.Variable
	hashes        *table.Fixed[valuehash.Hash]
	staticMeta    *table.Fixed[StaticMeta]
	runtimeMeta   *table.Fixed[RuntimeMeta]
	debugCounters *table.Fixed[DebugCounters]

	origins *provenance.Origins
	classes *provenance.ClassNames
	callIDs *provenance.CallIds
	dbNames *provenance.DBNames

	hashIndex map[valuehash.Hash]uint64
	identity  *identityCache

	searchIdx *searchindex.Index

	serializer *codec.Serializer
	counters   Counters

	// openPID is the process that opened db for writing. A forked
	// child inherits the same *Database value but a different pid;
	// Add refuses to write until the child reopens for itself, since
	// the flock held by the parent does not protect the child's writes
	// from racing the parent's.
	openPID int
}

// Open opens (or creates) a database rooted at path. A write-mode open
// whose .LOCK file is still present from a previous process - the OS
// releases flock(2)'s advisory lock itself when a writer dies, so the
// file's mere presence is the only surviving signal - first runs
// CheckSlow and refuses to proceed if it finds a mismatch, per the
// unclean-shutdown recovery rule: run Repair and reopen.
func Open(path string, opts Options) (*Database, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	var wasStale bool
	if opts.Mode == ReadWrite {
		var err error
		wasStale, err = staleLock(path)
		if err != nil {
			return nil, err
		}
	}

	db, err := openTables(path, opts)
	if err != nil {
		return nil, err
	}

	if wasStale {
		report, err := db.CheckSlow()
		if err != nil {
			db.closeBestEffort()
			return nil, err
		}
		if !report.OK() {
			db.closeBestEffort()
			return nil, errs.New(errs.KindUncleanShutdown, "Open",
				fmt.Sprintf("%s: previous writer did not shut down cleanly (%s); run Repair before reopening for writing",
					path, report.Summary()))
		}
		db.log.Warn("recovered from an unclean shutdown left behind by a crashed writer", zap.String("path", path))
	}

	if opts.Mode == ReadWrite {
		lock, err := acquireWriteLock(path)
		if err != nil {
			db.closeBestEffort()
			return nil, err
		}
		db.lock = lock
	}

	db.log.Debug("opened database", zap.String("path", path), zap.Int("nb_values", db.values.Len()))
	return db, nil
}

// openTables opens every on-disk layer at path without touching the
// write lock, leaving that to the caller: Open gates it behind the
// stale-lock/CheckSlow pass, and Repair takes it only after truncating
// whatever the check found inconsistent.
func openTables(path string, opts Options) (*Database, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindIO, "Open", path, err)
	}

	conf, err := openConfig(filepath.Join(path, "config.conf"))
	if err != nil {
		return nil, err
	}
	if err := conf.checkVersion(); err != nil {
		return nil, err
	}

	db := &Database{
		basePath:   path,
		mode:       opts.Mode,
		conf:       conf,
		log:        opts.Logger,
		hashIndex:  map[valuehash.Hash]uint64{},
		identity:   newIdentityCache(opts.IdentityCacheSize),
		serializer: codec.NewSerializer(4096),
		openPID:    os.Getpid(),
	}
	if db.log == nil {
		db.log = zap.NewNop()
	}

	closeAllOnErr := func(err error) (*Database, error) {
		db.closeBestEffort()
		return nil, err
	}

	db.values, err = table.OpenVariable(filepath.Join(path, "sexp_table.bin"), false)
	if err != nil {
		return closeAllOnErr(err)
	}
	db.hashes, err = table.OpenFixed(filepath.Join(path, "hashes_table.bin"), hashCodec{})
	if err != nil {
		return closeAllOnErr(err)
	}
	db.staticMeta, err = table.OpenFixed(filepath.Join(path, "static_meta.bin"), staticMetaCodec{})
	if err != nil {
		return closeAllOnErr(err)
	}
	db.runtimeMeta, err = table.OpenFixed(filepath.Join(path, "runtime_meta.bin"), runtimeMetaCodec{})
	if err != nil {
		return closeAllOnErr(err)
	}
	if opts.EnableDebugCounters {
		db.debugCounters, err = table.OpenFixed(filepath.Join(path, "debug_counters.bin"), debugCountersCodec{})
		if err != nil {
			return closeAllOnErr(err)
		}
	}

	db.origins, err = provenance.Open(path)
	if err != nil {
		return closeAllOnErr(err)
	}
	db.classes, err = provenance.OpenClassNames(path)
	if err != nil {
		return closeAllOnErr(err)
	}
	db.callIDs, err = provenance.OpenCallIds(path)
	if err != nil {
		return closeAllOnErr(err)
	}
	db.dbNames, err = provenance.OpenDBNames(path)
	if err != nil {
		return closeAllOnErr(err)
	}

	db.searchIdx, err = searchindex.Open(path)
	if err != nil {
		return closeAllOnErr(err)
	}

	for i := 0; i < db.hashes.Len(); i++ {
		db.hashIndex[db.hashes.Get(i)] = uint64(i)
	}

	return db, nil
}

// NbValues reports the number of distinct values stored.
func (db *Database) NbValues() uint64 { return uint64(db.values.Len()) }

// HasSearchIndex reports whether build_indexes has ever run.
func (db *Database) HasSearchIndex() bool { return db.searchIdx.Generated }

// HaveSeen reports whether a value with the given content hash has
// already been recorded, without adding it.
func (db *Database) HaveSeen(v *codec.Value) (uint64, bool, error) {
	v.Normalize()
	data, err := codec.Serialize(v)
	if err != nil {
		return 0, false, errs.Wrap(errs.KindCodec, "HaveSeen", db.basePath, err)
	}
	h := valuehash.Sum(data)
	id, ok := db.hashIndex[h]
	return id, ok, nil
}

// AddOptions carries the host-provided context for Add: the call site
// that produced the value, and an optional identity-cache shortcut.
type AddOptions struct {
	Package, Function, Param string
	CallID                   uint64
	HasCallID                bool
	Identity                 uintptr
	HasIdentity              bool
}

// Add serializes, hashes, and inserts v if new (bumping runtime
// counters if not), then records its origin. Insertion order is: value
// bytes, hash, static meta, empty auxiliary rows, hash-map install,
// identity-cache update, origin append.
func (db *Database) Add(v *codec.Value, opts AddOptions) (id uint64, isNew bool, err error) {
	if db.mode != ReadWrite {
		return 0, false, errs.New(errs.KindIO, "Add", "database was not opened for writing")
	}
	if pid := os.Getpid(); pid != db.openPID {
		return 0, false, errs.New(errs.KindForkedWrite, "Add",
			fmt.Sprintf("process forked since Open (parent pid %d, this pid %d); reopen the database in the child", db.openPID, pid))
	}
	if v.Type == codec.TypeEnvironment || v.Type == codec.TypeClosure {
		return 0, false, ErrNotStored
	}

	if opts.HasIdentity {
		if cached, ok := db.identity.lookup(opts.Identity); ok {
			if err := db.recordOrigin(cached, opts); err != nil {
				return 0, false, err
			}
			return cached, false, nil
		}
	}

	v.Normalize()
	data, err := db.serializer.Serialize(v)
	if err != nil {
		return 0, false, errs.Wrap(errs.KindCodec, "Add", db.basePath, err)
	}
	h := valuehash.Sum(data)
	db.counters.Serialized++

	if existing, ok := db.hashIndex[h]; ok {
		rm := db.runtimeMeta.Get(int(existing))
		rm.NCalls++
		*db.runtimeMeta.At(int(existing)) = rm
		if opts.HasIdentity {
			db.identity.record(opts.Identity, existing)
		}
		if err := db.recordOrigin(existing, opts); err != nil {
			return 0, false, err
		}
		return existing, false, nil
	}

	idx := db.values.Append(data)
	id = uint64(idx)
	db.counters.Writes++
	db.hashes.Append(h)
	db.staticMeta.Append(deriveStaticMeta(v, uint64(len(data))))
	db.runtimeMeta.Append(RuntimeMeta{NCalls: 1})
	if db.debugCounters != nil {
		db.debugCounters.Append(DebugCounters{})
	}
	// Every id gets an entry in each auxiliary table even when empty;
	// recordOrigin below fills them in when the caller supplied real
	// provenance.
	if err := db.origins.EnsureIndex(id); err != nil {
		return 0, false, err
	}
	if err := db.classes.AddClasses(id, v.Class); err != nil {
		return 0, false, err
	}
	if err := db.callIDs.EnsureIndex(id); err != nil {
		return 0, false, err
	}
	if err := db.dbNames.EnsureIndex(id); err != nil {
		return 0, false, err
	}

	db.hashIndex[h] = id
	if opts.HasIdentity {
		db.identity.record(opts.Identity, id)
	}

	if err := db.recordOrigin(id, opts); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (db *Database) recordOrigin(id uint64, opts AddOptions) error {
	if opts.Package != "" || opts.Function != "" || opts.Param != "" {
		if err := db.origins.AddOrigin(id, opts.Package, opts.Function, opts.Param); err != nil {
			return err
		}
	}
	if opts.HasCallID {
		if err := db.callIDs.AddCallID(id, opts.CallID); err != nil {
			return err
		}
	}
	return nil
}

// GetValue deserializes and returns the value stored at id.
func (db *Database) GetValue(id uint64) (*codec.Value, error) {
	data, err := db.values.Get(int(id))
	if err != nil {
		return nil, err
	}
	db.counters.Reads++
	v, err := codec.Deserialize(data)
	if err != nil {
		return nil, err
	}
	db.counters.Deserialized++
	return v, nil
}

// Counters returns a snapshot of the database's lifetime read/write/
// serialize/deserialize counts.
func (db *Database) Counters() Counters { return db.counters }

// GetMetadata returns the static and runtime metadata for id.
func (db *Database) GetMetadata(id uint64) (StaticMeta, RuntimeMeta, error) {
	if id >= db.NbValues() {
		return StaticMeta{}, RuntimeMeta{}, errs.New(errs.KindIndexOutOfRange, "GetMetadata", db.basePath)
	}
	return db.staticMeta.Get(int(id)), db.runtimeMeta.Get(int(id)), nil
}

// SourceLocations returns the resolved call sites that produced id.
func (db *Database) SourceLocations(id uint64) []provenance.SourceTuple {
	return db.origins.SourceLocations(id)
}

// ValuesFromOrigin returns a Query matching every value recorded as
// having been observed (as an argument or a return) at the given
// (package, function) call site. A name that was never interned
// yields a Query that matches nothing rather than an error, since
// "this package was never seen" and "this package was seen but has no
// values" are both legitimately empty results.
func (db *Database) ValuesFromOrigin(pkg, fn string) *Query {
	pkgID, ok := db.origins.PackageID(pkg)
	if !ok {
		return &Query{db: db, NoMatch: true}
	}
	fnID, ok := db.origins.FunctionID(fn)
	if !ok {
		return &Query{db: db, NoMatch: true}
	}
	return &Query{db: db, Packages: []uint32{pkgID}, Functions: []uint32{fnID}}
}

// ValuesFromCalls narrows ValuesFromOrigin to values that were also
// observed during at least one recorded call (db.callIDs is
// non-empty for the id), excluding values whose only provenance is a
// static origin record with no call id attached.
func (db *Database) ValuesFromCalls(pkg, fn string) *Query {
	q := db.ValuesFromOrigin(pkg, fn)
	if q.NoMatch {
		return q
	}
	q.requireCallID = true
	return q
}

// SampleValue draws a uniformly random id in [0, NbValues()) and
// returns it with its deserialized value.
func (db *Database) SampleValue(rng *rand.Rand) (uint64, *codec.Value, error) {
	n := db.NbValues()
	if n == 0 {
		return 0, nil, errs.New(errs.KindIndexOutOfRange, "SampleValue", "database is empty")
	}
	id := uint64(rng.Int63n(int64(n)))
	v, err := db.GetValue(id)
	return id, v, err
}

// SampleIndex draws a uniformly random id without materializing its
// value.
func (db *Database) SampleIndex(rng *rand.Rand) (uint64, error) {
	n := db.NbValues()
	if n == 0 {
		return 0, errs.New(errs.KindIndexOutOfRange, "SampleIndex", "database is empty")
	}
	return uint64(rng.Int63n(int64(n))), nil
}

// Map calls fn for every stored value in id order, stopping and
// returning fn's error if it returns one.
func (db *Database) Map(fn func(id uint64, v *codec.Value) error) error {
	n := db.NbValues()
	for id := uint64(0); id < n; id++ {
		v, err := db.GetValue(id)
		if err != nil {
			return err
		}
		if err := fn(id, v); err != nil {
			return err
		}
	}
	return nil
}

// BuildIndexes runs (or incrementally extends) the search index over
// every value added since it was last computed.
func (db *Database) BuildIndexes() error {
	if db.mode != ReadWrite {
		return errs.New(errs.KindIO, "BuildIndexes", "database was not opened for writing")
	}
	return db.searchIdx.Build(context.Background(), &indexDataSource{db: db})
}

// Close flushes every layer, saves the search index and config, and
// releases the write lock.
func (db *Database) Close() error {
	db.conf.setUint64("nb_values", db.NbValues())
	db.conf.setUint64("major", FormatVersionMajor)
	db.conf.setUint64("minor", FormatVersionMinor)
	db.conf.setUint64("patch", FormatVersionPatch)

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(db.values.Close())
	record(db.hashes.Close())
	record(db.staticMeta.Close())
	record(db.runtimeMeta.Close())
	if db.debugCounters != nil {
		record(db.debugCounters.Close())
	}
	record(db.origins.Close())
	record(db.classes.Close())
	record(db.callIDs.Close())
	record(db.dbNames.Close())
	if db.mode == ReadWrite && db.searchIdx.Generated {
		record(db.searchIdx.Save())
	}
	if db.mode == ReadWrite {
		record(db.conf.write())
	}
	if db.lock != nil {
		record(db.lock.release())
	}
	return firstErr
}

// closeBestEffort is used on a failed Open to release whatever was
// already acquired, ignoring further errors.
func (db *Database) closeBestEffort() {
	if db.values != nil {
		db.values.Close()
	}
	if db.hashes != nil {
		db.hashes.Close()
	}
	if db.staticMeta != nil {
		db.staticMeta.Close()
	}
	if db.runtimeMeta != nil {
		db.runtimeMeta.Close()
	}
	if db.debugCounters != nil {
		db.debugCounters.Close()
	}
	if db.origins != nil {
		db.origins.Close()
	}
	if db.classes != nil {
		db.classes.Close()
	}
	if db.callIDs != nil {
		db.callIDs.Close()
	}
	if db.dbNames != nil {
		db.dbNames.Close()
	}
	if db.lock != nil {
		db.lock.release()
	}
}

// indexDataSource adapts Database to searchindex.DataSource.
type indexDataSource struct{ db *Database }

func (s *indexDataSource) NbValues() uint64 { return s.db.NbValues() }

func (s *indexDataSource) StaticMeta(id uint64) (searchindex.StaticMeta, error) {
	meta := s.db.staticMeta.Get(int(id))
	classes := s.db.classes.Classes(id)

	locs := s.db.origins.Locations(id)
	packages := make([]uint32, 0, len(locs))
	functions := make([]uint32, 0, len(locs))
	for _, loc := range locs {
		packages = append(packages, loc.Package)
		functions = append(functions, loc.Function)
	}

	return searchindex.StaticMeta{
		Type:        meta.Type,
		Length:      meta.Length,
		NAttributes: meta.NAttributes,
		NDims:       meta.NDims,
		IsVector:    meta.Length != 1 && meta.Type != codec.TypeEnvironment && meta.Type != codec.TypeClosure,
		HasClass:    len(classes) > 0,
		Classes:     classes,
		Packages:    packages,
		Functions:   functions,
	}, nil
}

func (s *indexDataSource) ElementView(id uint64) (codec.ElementView, error) {
	data, err := s.db.values.Get(int(id))
	if err != nil {
		return codec.ElementView{}, err
	}
	return codec.View(data)
}
