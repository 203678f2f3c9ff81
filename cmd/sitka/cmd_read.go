// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var readPretty bool // --pretty: indent the output

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read a structured data file, recovering or restoring it if corrupted",
}

var readJSONCmd = &cobra.Command{
	Use:   "json [path]",
	Short: "Read a JSON or JSON-Lines file and print it to stdout",
	Long: `Reads the file and prints its content as JSON. A corrupted file is
salvaged from its parseable parts when possible, otherwise repaired from
the newest backup. Exits non-zero only when nothing could be read.`,
	Args: cobra.ExactArgs(1),
	RunE: runReadJSON,
}

var readCSVCmd = &cobra.Command{
	Use:   "csv [path]",
	Short: "Read a CSV file and print its rows as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runReadCSV,
}

func init() {
	readCmd.PersistentFlags().BoolVar(&readPretty, "pretty", false,
		"Indent the JSON output")
	readCmd.AddCommand(readJSONCmd)
	readCmd.AddCommand(readCSVCmd)
	rootCmd.AddCommand(readCmd)
}

func runReadJSON(cmd *cobra.Command, args []string) error {
	value, ok := handler.ReadJSON(cmd.Context(), args[0])
	if !ok {
		return fmt.Errorf("%s could not be read, recovered, or restored", args[0])
	}
	return printJSON(value)
}

func runReadCSV(cmd *cobra.Command, args []string) error {
	rows, ok := handler.ReadCSV(cmd.Context(), args[0])
	if !ok {
		return fmt.Errorf("%s could not be read, recovered, or restored", args[0])
	}
	return printJSON(rows)
}

func printJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	if readPretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(value)
}
