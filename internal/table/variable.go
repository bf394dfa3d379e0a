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

package table

import (
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/PRL-PRG/sxpdb/internal/errs"
)

// uint64Codec is the Fixed codec for the offset table underlying
// Variable: one little-endian uint64 byte offset per record, pointing
// into the data file.
type uint64Codec struct{}

func (uint64Codec) Size() int { return 8 }
func (uint64Codec) Encode(v uint64, buf []byte) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}
func (uint64Codec) Decode(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}

// Variable is an append-only table of variable-length byte payloads:
// a data file holding concatenated frames, and an offset table (a
// Fixed[uint64] of byte offsets, one per record plus a trailing
// end-of-data sentinel) recording where each one starts. Payloads may
// optionally be zstd-compressed, each framed with a 1-byte flag and
// (if set) an 8-byte little-endian decompressed size.
type Variable struct {
	path     string
	dataFile *os.File
	offsets  *Fixed[uint64]
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	dataSize int64 // bytes already flushed to the data file
	pending  [][]byte
}

// OpenVariable opens (or creates) a variable-length table rooted at
// path (path is the data file; path+".offsets" holds the Fixed offset
// table). compress enables zstd framing for every record appended
// after open.
func OpenVariable(path string, compress bool) (*Variable, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "table: mkdir")
	}
	df, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "OpenVariable", path, err)
	}
	offsets, err := OpenFixed(path+".offsets", uint64Codec{})
	if err != nil {
		df.Close()
		return nil, err
	}

	v := &Variable{path: path, dataFile: df, offsets: offsets, compress: compress}
	if offsets.Len() == 0 {
		offsets.Append(0)
	} else {
		v.dataSize = int64(offsets.Get(offsets.Len() - 1))
	}

	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			df.Close()
			offsets.Close()
			return nil, errs.Wrap(errs.KindIO, "OpenVariable", path, err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			enc.Close()
			df.Close()
			offsets.Close()
			return nil, errs.Wrap(errs.KindIO, "OpenVariable", path, err)
		}
		v.encoder = enc
		v.decoder = dec
	}
	return v, nil
}

// Len reports the number of records stored (flushed or pending).
func (v *Variable) Len() int { return v.offsets.Len() - 1 + len(v.pending) }

// Append adds a payload at the end and returns its new record index.
// The bytes are framed (and optionally compressed) lazily at Flush
// time; the caller's slice may be reused afterwards.
func (v *Variable) Append(payload []byte) int {
	idx := v.Len()
	cp := append([]byte(nil), payload...)
	v.pending = append(v.pending, cp)
	return idx
}

// frame compresses (if enabled) and prefixes payload with its framing
// header: 1 flag byte (1 = compressed) followed by, when compressed,
// an 8-byte little-endian original length.
func (v *Variable) frame(payload []byte) []byte {
	if !v.compress {
		return append([]byte{0}, payload...)
	}
	compressed := v.encoder.EncodeAll(payload, nil)
	out := make([]byte, 9, 9+len(compressed))
	out[0] = 1
	n := uint64(len(payload))
	for i := 0; i < 8; i++ {
		out[1+i] = byte(n >> (8 * i))
	}
	out = append(out, compressed...)
	return out
}

func (v *Variable) unframe(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errs.New(errs.KindCorruption, "unframe", v.path+": empty frame")
	}
	if raw[0] == 0 {
		return raw[1:], nil
	}
	if len(raw) < 9 {
		return nil, errs.New(errs.KindCorruption, "unframe", v.path+": truncated compressed frame")
	}
	var decompressedLen uint64
	for i := 0; i < 8; i++ {
		decompressedLen |= uint64(raw[1+i]) << (8 * i)
	}
	if v.decoder == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errs.Wrap(errs.KindCodec, "unframe", v.path, err)
		}
		v.decoder = dec
	}
	out, err := v.decoder.DecodeAll(raw[9:], make([]byte, 0, decompressedLen))
	if err != nil {
		return nil, errs.Wrap(errs.KindCodec, "unframe", v.path, err)
	}
	return out, nil
}

// Get reads back record idx, decompressing it if the record was written
// with compression enabled, whatever the table's current setting.
func (v *Variable) Get(idx int) ([]byte, error) {
	if idx < 0 || idx >= v.Len() {
		return nil, errs.New(errs.KindIndexOutOfRange, "Get", v.path)
	}
	if idx >= v.offsets.Len()-1 {
		// Pending payloads are stored unframed until Flush.
		return append([]byte(nil), v.pending[idx-(v.offsets.Len()-1)]...), nil
	}
	start := v.offsets.Get(idx)
	end := v.offsets.Get(idx + 1)
	buf := make([]byte, end-start)
	if _, err := v.dataFile.ReadAt(buf, int64(start)); err != nil {
		return nil, errs.Wrap(errs.KindIO, "Get", v.path, err)
	}
	return v.unframe(buf)
}

// Flush writes every pending record's framed bytes to the data file
// and records the resulting offsets, then flushes the offset table.
func (v *Variable) Flush() error {
	if len(v.pending) == 0 {
		return v.offsets.Flush()
	}
	for _, payload := range v.pending {
		framed := v.frame(payload)
		if _, err := v.dataFile.WriteAt(framed, v.dataSize); err != nil {
			return errs.Wrap(errs.KindIO, "Flush", v.path, err)
		}
		v.dataSize += int64(len(framed))
		v.offsets.Append(uint64(v.dataSize))
	}
	if err := v.dataFile.Sync(); err != nil {
		return errs.Wrap(errs.KindIO, "Flush", v.path, err)
	}
	v.pending = nil
	return v.offsets.Flush()
}

// VerifyFraming stats the data file on disk and compares its size
// against the end of the last flushed record, independent of any
// decode path: the offset table is itself the framing index, so a
// mismatch here means bytes were appended or truncated outside of
// Flush (a crash mid-write, or a sibling process writing without the
// lock held). It reports the data file's actual size and the size the
// offset table expects.
func (v *Variable) VerifyFraming() (actual, expected int64, err error) {
	info, statErr := v.dataFile.Stat()
	if statErr != nil {
		return 0, 0, errs.Wrap(errs.KindIO, "VerifyFraming", v.path, statErr)
	}
	n := v.offsets.Len()
	if n == 0 {
		return info.Size(), 0, nil
	}
	return info.Size(), int64(v.offsets.Get(n - 1)), nil
}

// Truncate drops every record at index >= n, rolling both the offset
// table and the data file back to the byte boundary of record n. Any
// unflushed pending records beyond n are simply discarded. Used by
// Repair to roll a variable-length table back to its last
// fully-formed record after a crash.
func (v *Variable) Truncate(n int) error {
	if n >= v.Len() {
		return nil
	}
	if n < v.offsets.Len()-1 {
		if err := v.offsets.Truncate(n + 1); err != nil {
			return err
		}
		v.pending = nil
	} else {
		v.pending = v.pending[:n-(v.offsets.Len()-1)]
	}
	v.dataSize = int64(v.offsets.Get(v.offsets.Len() - 1))
	if err := v.dataFile.Truncate(v.dataSize); err != nil {
		return errs.Wrap(errs.KindIO, "Truncate", v.path, err)
	}
	return nil
}

// Close flushes pending records and closes both backing files.
func (v *Variable) Close() error {
	if err := v.Flush(); err != nil {
		return err
	}
	if v.decoder != nil {
		v.decoder.Close()
	}
	if v.encoder != nil {
		v.encoder.Close()
	}
	if err := v.dataFile.Close(); err != nil {
		return errs.Wrap(errs.KindIO, "Close", v.path, err)
	}
	return v.offsets.Close()
}
