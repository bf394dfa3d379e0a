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

import lru "github.com/hashicorp/golang-lru/v2"

const defaultIdentityCacheSize = 4096

// identityCache short-circuits hashing on a value the host has already
// told us about: a host-assigned identity (an opaque pointer-sized
// token from the embedding runtime) that maps straight to a value's
// id, skipping serialize+hash+probe entirely for values the host
// marks "possibly shared". It is purely advisory - a miss always
// falls back to the normal add path, never an error.
type identityCache struct {
	lru *lru.Cache[uintptr, uint64]
}

func newIdentityCache(size int) *identityCache {
	if size <= 0 {
		size = defaultIdentityCacheSize
	}
	c, _ := lru.New[uintptr, uint64](size)
	return &identityCache{lru: c}
}

func (c *identityCache) lookup(identity uintptr) (uint64, bool) {
	return c.lru.Get(identity)
}

func (c *identityCache) record(identity uintptr, id uint64) {
	c.lru.Add(identity, id)
}
