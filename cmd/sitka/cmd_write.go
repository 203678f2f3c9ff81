// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var writeInput string // --input: read the payload from a file instead of stdin

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Atomically write structured data to a file, backing up any existing file first",
}

var writeJSONCmd = &cobra.Command{
	Use:   "json [destination]",
	Short: "Write a JSON document",
	Long: `Reads a JSON value from stdin (or --input) and writes it atomically to
the destination. An existing destination is backed up before the write.

Examples:
  echo '{"run": 42}' | sitka write json results.json
  sitka write json results.json --input payload.json`,
	Args: cobra.ExactArgs(1),
	RunE: runWriteJSON,
}

var writeJSONLinesCmd = &cobra.Command{
	Use:   "jsonl [destination]",
	Short: "Write JSON-Lines records",
	Long: `Reads records from stdin (or --input) and writes one JSON object per
line. The input may be a JSON array or already line-delimited JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runWriteJSONLines,
}

var writeCSVCmd = &cobra.Command{
	Use:   "csv [destination]",
	Short: "Write CSV rows from a JSON array of objects",
	Long: `Reads a JSON array of objects from stdin (or --input) and writes them
as CSV with a header row from the first object's keys. Nested values are
embedded as JSON strings.`,
	Args: cobra.ExactArgs(1),
	RunE: runWriteCSV,
}

func init() {
	writeCmd.PersistentFlags().StringVarP(&writeInput, "input", "i", "",
		"Read the payload from this file instead of stdin")
	writeCmd.AddCommand(writeJSONCmd)
	writeCmd.AddCommand(writeJSONLinesCmd)
	writeCmd.AddCommand(writeCSVCmd)
	rootCmd.AddCommand(writeCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runWriteJSON(cmd *cobra.Command, args []string) error {
	data, err := readPayload()
	if err != nil {
		return err
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if !handler.WriteJSON(cmd.Context(), value, args[0]) {
		return fmt.Errorf("write to %s failed", args[0])
	}
	logger.Info("wrote JSON", "path", args[0])
	return nil
}

func runWriteJSONLines(cmd *cobra.Command, args []string) error {
	data, err := readPayload()
	if err != nil {
		return err
	}
	records, err := parseRecords(data)
	if err != nil {
		return err
	}
	if !handler.WriteJSONLines(cmd.Context(), records, args[0]) {
		return fmt.Errorf("write to %s failed", args[0])
	}
	logger.Info("wrote JSON-Lines", "path", args[0], "records", len(records))
	return nil
}

func runWriteCSV(cmd *cobra.Command, args []string) error {
	data, err := readPayload()
	if err != nil {
		return err
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("payload is not a JSON array of objects: %w", err)
	}
	if !handler.WriteCSV(cmd.Context(), rows, args[0]) {
		return fmt.Errorf("write to %s failed", args[0])
	}
	logger.Info("wrote CSV", "path", args[0], "rows", len(rows))
	return nil
}

// readPayload returns the full payload from --input or stdin.
func readPayload() ([]byte, error) {
	if writeInput != "" {
		return os.ReadFile(writeInput)
	}
	return io.ReadAll(os.Stdin)
}

// parseRecords accepts either a JSON array or line-delimited JSON.
func parseRecords(data []byte) ([]any, error) {
	var records []any
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("payload is neither a JSON array nor JSON-Lines: %w", err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
