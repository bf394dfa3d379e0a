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
	checkSlow   bool
	checkRepair bool
)

var checkCmd = &cobra.Command{
	Use:   "check <path>",
	Short: "Verify every stored value against its recorded metadata (fast) or content hash (--slow)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if checkRepair {
			if err := sxpdb.Repair(args[0]); err != nil {
				return fmt.Errorf("repair: %w", err)
			}
			fmt.Println("repaired: truncated the value, hash and metadata tables to their last fully-formed id")
		}

		db, err := openDB(args[0], sxpdb.ReadOnly)
		if err != nil {
			return err
		}
		defer db.Close()

		var report sxpdb.CheckReport
		if checkSlow {
			report, err = db.CheckSlow()
		} else {
			report, err = db.CheckFast()
		}
		if err != nil {
			return err
		}

		fmt.Printf("checked %d values, %d mismatches\n", report.ValuesChecked, len(report.Mismatches))
		for _, m := range report.Mismatches {
			fmt.Printf("  id=%d %s\n", m.ID, m.Reason)
		}
		if len(report.Mismatches) > 0 {
			return fmt.Errorf("integrity check failed")
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkSlow, "slow", false, "re-hash and re-serialize every value instead of just its shape")
	checkCmd.Flags().BoolVar(&checkRepair, "repair", false, "truncate the value, hash and metadata tables to their last fully-formed id before checking")
}
