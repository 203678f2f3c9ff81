// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/SitkaData/sitka/pkg/logging"
	"github.com/SitkaData/sitka/store"
)

// =============================================================================
// GLOBAL STATE
// =============================================================================

var (
	configPath string // --config: optional YAML config file
	verbose    bool   // --verbose: debug-level logging
	jsonLogs   bool   // --json-logs: force JSON log output

	cfg     store.Config
	logger  *logging.Logger
	handler *store.Handler
)

var rootCmd = &cobra.Command{
	Use:   "sitka",
	Short: "Resilient structured-data persistence for JSON, JSON-Lines, and CSV files",
	Long: `Sitka writes and reads structured data files with crash safety built in:
every write is atomic, existing files are backed up first, corrupted files
are detected and repaired from partial content or the newest backup.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if handler != nil {
			_ = handler.Close()
		}
		if logger != nil {
			_ = logger.Close()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to a YAML config file (defaults apply when omitted)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug-level logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false,
		"Emit logs as JSON (the default when stderr is not a terminal)")
}

// setup loads the config and builds the shared logger and handler before
// any subcommand runs.
func setup(cmd *cobra.Command, args []string) error {
	cfg = store.DefaultConfig()
	if configPath != "" {
		loaded, err := store.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	logger = logging.New(logging.Config{
		Level:   level,
		Service: "sitka",
		JSON:    jsonLogs || !isatty.IsTerminal(os.Stderr.Fd()),
	})
	cfg.Logger = logger

	h, err := store.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	handler = h
	return nil
}
