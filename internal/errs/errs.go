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

// Package errs defines the closed error taxonomy shared by every layer of
// the database: version mismatch, configuration inconsistency, unclean
// shutdown, corruption, index-out-of-range, I/O, codec, forked-process and
// allocation-failure kinds.
package errs

import "fmt"

// Kind identifies one of the closed set of error categories the
// package distinguishes. Kinds are not Go error types themselves; they
// are attached to a *Error so callers can switch on them with Kind(err).
type Kind int

const (
	// KindVersionMismatch: config.conf declares an incompatible library version. Fatal at Open.
	KindVersionMismatch Kind = iota + 1
	// KindConfigInconsistent: per-table counters disagree with nb_values. Fatal at Open.
	KindConfigInconsistent
	// KindUncleanShutdown: .LOCK was present at Open.
	KindUncleanShutdown
	// KindCorruption: a fast- or slow-check mismatch was found.
	KindCorruption
	// KindIndexOutOfRange: programmer error addressing past nb_values.
	KindIndexOutOfRange
	// KindIO: an underlying file operation failed.
	KindIO
	// KindCodec: the value serializer/deserializer rejected a payload.
	KindCodec
	// KindForkedWrite: add() called after the process was forked since Open.
	KindForkedWrite
	// KindAllocation: an allocation failed; considered fatal.
	KindAllocation
)

func (k Kind) String() string {
	switch k {
	case KindVersionMismatch:
		return "version_mismatch"
	case KindConfigInconsistent:
		return "config_inconsistent"
	case KindUncleanShutdown:
		return "unclean_shutdown"
	case KindCorruption:
		return "corruption"
	case KindIndexOutOfRange:
		return "index_out_of_range"
	case KindIO:
		return "io"
	case KindCodec:
		return "codec"
	case KindForkedWrite:
		return "forked_write"
	case KindAllocation:
		return "allocation"
	default:
		return "unknown"
	}
}

// Error is the concrete error value carried through the taxonomy. Path
// and Op give I/O errors file/operation context for diagnostics.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("sxpdb: %s: %s (%s): %v", e.Kind, e.Op, e.Path, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("sxpdb: %s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("sxpdb: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error without an underlying cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf("%s", msg)}
}

// Wrap attaches a taxonomy kind and operation/path context to err.
func Wrap(kind Kind, op, path string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
