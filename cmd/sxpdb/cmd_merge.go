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

	"github.com/spf13/cobra"

	"github.com/PRL-PRG/sxpdb"
)

var (
	mergeParallel bool
	mergeMinChunk int
)

var mergeCmd = &cobra.Command{
	Use:   "merge <dest> <src>...",
	Short: "Merge one or more source databases into dest",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, err := openDB(args[0], sxpdb.ReadWrite)
		if err != nil {
			return err
		}
		defer dest.Close()

		srcs := make([]*sxpdb.Database, 0, len(args)-1)
		for _, path := range args[1:] {
			src, err := openDB(path, sxpdb.ReadOnly)
			if err != nil {
				return err
			}
			defer src.Close()
			srcs = append(srcs, src)
		}

		var result sxpdb.MergeResult
		for _, src := range srcs {
			var r sxpdb.MergeResult
			if mergeParallel {
				r, err = dest.ParallelMergeIn(src, mergeMinChunk)
			} else {
				r, err = dest.MergeIn(src)
			}
			if err != nil {
				break
			}
			result.Added += r.Added
			result.Deduped += r.Deduped
		}
		if err != nil {
			return err
		}
		fmt.Printf("added=%d deduped=%d\n", result.Added, result.Deduped)
		return nil
	},
}

func init() {
	mergeCmd.Flags().BoolVar(&mergeParallel, "parallel", false, "shard each source's decode pass across goroutines before reducing")
	mergeCmd.Flags().IntVar(&mergeMinChunk, "min-chunk", 0, "minimum ids per decode shard with --parallel (0 selects a built-in default)")
}
