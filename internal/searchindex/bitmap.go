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

package searchindex

import (
	"bytes"
	"os"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/PRL-PRG/sxpdb/internal/errs"
)

func readBitmap(path string) (*roaring64.Bitmap, error) {
	bm := roaring64.New()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return bm, nil
		}
		return nil, errs.Wrap(errs.KindIO, "readBitmap", path, err)
	}
	if len(data) == 0 {
		return bm, nil
	}
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, errs.Wrap(errs.KindCorruption, "readBitmap", path, err)
	}
	return bm, nil
}

func writeBitmap(path string, bm *roaring64.Bitmap) error {
	bm.RunOptimize()
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.KindIO, "writeBitmap", path, err)
	}
	if _, err := bm.WriteTo(f); err != nil {
		f.Close()
		return errs.Wrap(errs.KindIO, "writeBitmap", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.Wrap(errs.KindIO, "writeBitmap", path, err)
	}
	return f.Close()
}

// complement returns the flip of bm over [lo, hi).
func complement(bm *roaring64.Bitmap, lo, hi uint64) *roaring64.Bitmap {
	if lo >= hi {
		return roaring64.New()
	}
	full := roaring64.New()
	full.AddRange(lo, hi)
	full.AndNot(bm)
	return full
}
