// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package atomicfile writes files so that a reader opening the target path
// at any instant sees either the previous complete contents or the new
// complete contents, never a mixture. Data is written to a temporary
// sibling in the same directory, synced, closed, and renamed over the
// target; the rename is the only operation that touches the final name.
// Any failure before the rename removes the temporary file and leaves the
// target untouched.
package atomicfile

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// WriteJSON serializes v and atomically writes it to path. indent > 0
// selects pretty-printing with that many spaces per level.
func WriteJSON(v any, path string, indent int) error {
	var data []byte
	var err error
	if indent > 0 {
		data, err = json.MarshalIndent(v, "", strings.Repeat(" ", indent))
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return WriteBytes(data, path)
}

// WriteJSONLines atomically writes one JSON value per line to path.
func WriteJSONLines(records []any, path string) error {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	for i, record := range records {
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("marshal record %d: %w", i, err)
		}
	}
	return WriteBytes([]byte(sb.String()), path)
}

// WriteCSV atomically writes records to path with a header row taken from
// the first record's keys, sorted for deterministic output. Values must
// already be flattened to strings; rows are filled with the empty string
// for keys a record lacks.
func WriteCSV(records []map[string]string, path string) error {
	if len(records) == 0 {
		return WriteBytes(nil, path)
	}

	header := make([]string, 0, len(records[0]))
	for key := range records[0] {
		header = append(header, key)
	}
	sort.Strings(header)

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(header))
	for _, record := range records {
		for i, key := range header {
			row[i] = record[key]
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return WriteBytes([]byte(sb.String()), path)
}

// WriteBytes atomically writes raw data to path via a temporary sibling
// file and a single rename.
func WriteBytes(data []byte, path string) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tempFile, err := os.CreateTemp(dir, "."+base+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}
