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
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/PRL-PRG/sxpdb"
)

var sampleN int

var sampleCmd = &cobra.Command{
	Use:   "sample <path>",
	Short: "Print up to --n uniformly sampled ids",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(args[0], sxpdb.ReadOnly)
		if err != nil {
			return err
		}
		defer db.Close()

		rng := rand.New(rand.NewSource(1))
		if sampleN <= 1 {
			id, err := db.SampleIndex(rng)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		}

		q := sxpdb.NewQuery(db)
		ids, err := q.SampleN(sampleN, rng)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	sampleCmd.Flags().IntVar(&sampleN, "n", 1, "number of ids to sample")
}
