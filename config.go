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

// Package sxpdb is the database façade: lifecycle, configuration,
// locking, the query engine, integrity checking and merge, all built
// on the internal/{table,intern,provenance,searchindex,codec,valuehash}
// layers.
package sxpdb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/PRL-PRG/sxpdb/internal/errs"
)

// FormatVersion is the on-disk major.minor.patch triple this build
// writes and requires on open. A mismatch on the major component is
// rejected outright; minor/patch mismatches are accepted, and Close
// rewrites all three with this build's values (see checkVersion).
const (
	FormatVersionMajor = 1
	FormatVersionMinor = 0
	FormatVersionPatch = 0
)

// config is the key=value config.conf reader/writer. This package
// writes only "major", "minor", "patch" and "nb_values"; table paths are
// fixed file names and the search index keeps its watermark in its own
// meta.conf. Unknown keys are preserved verbatim on rewrite, so a newer
// writer's extra keys survive being opened and rewritten by an older
// build.
type config struct {
	path   string
	order  []string
	values map[string]string
}

func newConfig(path string) *config {
	return &config{path: path, values: map[string]string{}}
}

func openConfig(path string) (*config, error) {
	c := newConfig(path)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, errs.Wrap(errs.KindIO, "openConfig", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		i := strings.IndexByte(trimmed, '=')
		if i < 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:i])
		value := strings.TrimSpace(trimmed[i+1:])
		if _, exists := c.values[key]; !exists {
			c.order = append(c.order, key)
		}
		c.values[key] = value
	}
	if err := sc.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCorruption, "openConfig", path, err)
	}
	return c, nil
}

func (c *config) get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *config) getUint64(key string, def uint64) uint64 {
	v, ok := c.values[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func (c *config) set(key, value string) {
	if _, exists := c.values[key]; !exists {
		c.order = append(c.order, key)
	}
	c.values[key] = value
}

func (c *config) setUint64(key string, v uint64) { c.set(key, strconv.FormatUint(v, 10)) }

// write rewrites config.conf through a tmp-file-then-rename so a crash
// mid-write never leaves a half-written config behind.
func (c *config) write() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.Wrap(err, "sxpdb: mkdir")
	}
	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.KindIO, "write", tmp, err)
	}
	for _, key := range c.order {
		if _, err := fmt.Fprintf(f, "%s=%s\n", key, c.values[key]); err != nil {
			f.Close()
			return errs.Wrap(errs.KindIO, "write", tmp, err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.Wrap(errs.KindIO, "write", tmp, err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.KindIO, "write", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return errs.Wrap(errs.KindIO, "write", c.path, err)
	}
	return nil
}

// checkVersion rejects a database whose on-disk major version differs
// from this build's; minor and patch differences are tolerated
// (forward-compatible reads are not guaranteed, but are not refused
// either).
func (c *config) checkVersion() error {
	major := c.getUint64("major", FormatVersionMajor)
	if major != FormatVersionMajor {
		return errs.New(errs.KindVersionMismatch, "checkVersion",
			fmt.Sprintf("database major version %d is incompatible with this build's %d", major, FormatVersionMajor))
	}
	return nil
}
