// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var statsClear bool // --clear: empty the caches before reporting

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache and lock-registry statistics",
	Long: `Prints diagnostic counters for the persistence layer: entries in the
sanitization, corruption-verdict, and recovery caches, and the number of
path locks registered in this process.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsClear, "clear", false,
		"Empty all caches before reporting")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	if statsClear {
		handler.ClearCaches()
		logger.Info("caches cleared")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(handler.Stats())
}
