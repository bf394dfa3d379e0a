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

	"github.com/spf13/cobra"

	"github.com/PRL-PRG/sxpdb"
	"github.com/PRL-PRG/sxpdb/internal/codec"
)

var (
	addPackage  string
	addFunction string
	addParam    string
)

var addCmd = &cobra.Command{
	Use:   "add <path> <file>",
	Short: "Add the contents of file as a raw value, printing its id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		db, err := openDB(args[0], sxpdb.ReadWrite)
		if err != nil {
			return err
		}
		defer db.Close()

		v := &codec.Value{Type: codec.TypeRaw, Raw: data}
		id, isNew, err := db.Add(v, sxpdb.AddOptions{
			Package:  addPackage,
			Function: addFunction,
			Param:    addParam,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%d new=%t\n", id, isNew)
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addPackage, "package", "", "originating package name")
	addCmd.Flags().StringVar(&addFunction, "function", "", "originating function name")
	addCmd.Flags().StringVar(&addParam, "param", "", "originating parameter name (or argument_return)")
}
