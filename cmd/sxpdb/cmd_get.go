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
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/PRL-PRG/sxpdb"
)

var getOut string

var getCmd = &cobra.Command{
	Use:   "get <path> <id>",
	Short: "Print a stored value's shape, or write its raw payload to a file with --out",
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

		v, err := db.GetValue(id)
		if err != nil {
			return err
		}
		if getOut == "" {
			fmt.Printf("type=%s length=%d nattrs=%d ndims=%d\n", v.Type, v.Length(), v.NAttributes(), v.NDims())
			return nil
		}
		return os.WriteFile(getOut, v.Raw, 0o644)
	},
}

func init() {
	getCmd.Flags().StringVarP(&getOut, "out", "o", "", "write the value's raw payload to this file instead of printing a summary")
}
