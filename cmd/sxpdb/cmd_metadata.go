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

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/PRL-PRG/sxpdb"
)

var metadataCmd = &cobra.Command{
	Use:   "metadata <path> <id>",
	Short: "Print a stored value's static/runtime metadata and provenance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return err
		}
		db, err := openDB(args[0], sxpdb.ReadOnly)
		if err != nil {
			return err
		}
		defer db.Close()

		static, runtime, err := db.GetMetadata(id)
		if err != nil {
			return err
		}
		fmt.Printf("type=%s size_bytes=%d length=%d nattrs=%d ndims=%d nrows=%d\n",
			static.Type, static.SizeBytes, static.Length, static.NAttributes, static.NDims, static.NRows)
		fmt.Printf("ncalls=%d nmerges=%d\n", runtime.NCalls, runtime.NMerges)

		for _, loc := range db.SourceLocations(id) {
			fmt.Printf("origin: package=%q function=%q param=%q\n", loc.Package, loc.Function, loc.Param)
		}
		return nil
	},
}
