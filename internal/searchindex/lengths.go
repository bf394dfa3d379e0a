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

// Package searchindex builds and queries compressed bitmap indexes:
// fixed per-type/NA/class/vector/attribute/length/ndims bitmaps, plus
// bucketed reverse indexes for high-cardinality keys (class names,
// packages, functions).
package searchindex

// NbIntervals is the number of length buckets: {0..100} fine-grained,
// then 10 logarithmically-spaced buckets per decade up to 10^11.
const NbIntervals = 200

// NbSexpTypes is the number of distinct value type tags indexed.
const NbSexpTypes = 26

// lengthIntervals[i] is the lower bound (inclusive) of length bucket i.
var lengthIntervals = computeLengthIntervals()

func computeLengthIntervals() [NbIntervals]uint64 {
	var intervals [NbIntervals]uint64
	for i := 0; i <= 100; i++ {
		intervals[i] = uint64(i)
	}
	// Each decade from 100 up to 10^11 is split into 10 buckets whose
	// lower bounds grow by a constant factor of 10^(1/10).
	i, bound := 101, 100.0
	for ; i <= 190; i++ {
		bound *= 1.2589254117941673
		intervals[i] = uint64(bound + 0.5)
	}
	// The unused trailing slots sit above every length, keeping the
	// array sorted for LengthBucket's binary search.
	for ; i < NbIntervals; i++ {
		intervals[i] = ^uint64(0)
	}
	return intervals
}

// LengthBucket returns the index of the bucket length falls into: the
// last bucket i such that lengthIntervals[i] <= length.
func LengthBucket(length uint64) int {
	lo, hi := 0, NbIntervals-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if lengthIntervals[mid] <= length {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// BucketIsExact reports whether bucket i covers exactly one length
// value (no linear refinement needed after an index hit).
func BucketIsExact(i int) bool {
	if i+1 >= NbIntervals {
		return false
	}
	return lengthIntervals[i+1]-lengthIntervals[i] <= 1
}

// NDimsBucket maps a dimensionality count to one of the 6 ndims
// buckets: {0,1,2,3,4,>4}.
func NDimsBucket(ndims uint32) int {
	if ndims > 4 {
		return 5
	}
	return int(ndims)
}
