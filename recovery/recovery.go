// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package recovery reconstructs the maximum recoverable subset of records
// from files that fail structural validation. Recovery is best-effort:
// it never guarantees completeness, only that everything returned parsed
// cleanly.
package recovery

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/SitkaData/sitka/pkg/logging"
)

// DefaultCacheEntries is the default bound on the recovery cache.
const DefaultCacheEntries = 64

// Recoverer runs format-specific best-effort parsers and caches
// successful recoveries per path. The cache must be invalidated when a
// path is rewritten (the store handler does this on every successful
// write) so recovered data never shadows fresh contents.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Recoverer struct {
	log        *logging.Logger
	maxEntries int

	mu    sync.Mutex
	json  map[string][]any
	csv   map[string][]map[string]string
	order []string
}

// New creates a Recoverer with a bounded cache. maxEntries <= 0 selects
// DefaultCacheEntries.
func New(maxEntries int, log *logging.Logger) *Recoverer {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	if log == nil {
		log = logging.Default()
	}
	return &Recoverer{
		log:        log,
		maxEntries: maxEntries,
		json:       make(map[string][]any),
		csv:        make(map[string][]map[string]string),
	}
}

// JSONFile attempts to reconstruct records from a damaged JSON or
// JSON-Lines file. Two stages, first match wins:
//
//  1. Line-oriented pass: every non-blank line is parsed independently;
//     lines that fail are skipped. If at least one line parsed, the
//     collected records are returned.
//  2. Brace-balanced scan: the raw text is scanned for balanced {...}
//     regions, each attempted as a JSON object. The scanner tracks string
//     literals and backslash escapes, so braces inside string values do
//     not desynchronize the depth counter.
//
// Returns false when zero records were recovered.
func (r *Recoverer) JSONFile(path string) ([]any, bool) {
	abs := canonical(path)

	r.mu.Lock()
	if cached, ok := r.json[abs]; ok {
		r.mu.Unlock()
		return cached, true
	}
	r.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		r.log.Debug("recovery read failed", "path", path, "error", err)
		return nil, false
	}

	records := recoverLines(data)
	if len(records) == 0 {
		records = recoverBraceScan(data)
	}
	if len(records) == 0 {
		r.log.Debug("recovery exhausted", "path", path)
		return nil, false
	}

	r.log.Info("recovered records from damaged file",
		"path", path,
		"records", len(records))
	r.storeJSON(abs, records)
	return records, true
}

// CSVFile attempts to reconstruct rows from a damaged CSV file using a
// permissive reader. Rows that do not align with the header are dropped
// silently. Returns false only when zero rows were recovered.
func (r *Recoverer) CSVFile(path string) ([]map[string]string, bool) {
	abs := canonical(path)

	r.mu.Lock()
	if cached, ok := r.csv[abs]; ok {
		r.mu.Unlock()
		return cached, true
	}
	r.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		r.log.Debug("recovery open failed", "path", path, "error", err)
		return nil, false
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, false
	}

	var rows []map[string]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Parse errors on individual rows are skipped; anything
			// else ends the scan with whatever was collected.
			if _, ok := err.(*csv.ParseError); ok {
				continue
			}
			break
		}
		if len(row) != len(header) {
			continue
		}
		record := make(map[string]string, len(header))
		for i, key := range header {
			record[key] = row[i]
		}
		rows = append(rows, record)
	}

	if len(rows) == 0 {
		return nil, false
	}

	r.log.Info("recovered rows from damaged csv",
		"path", path,
		"rows", len(rows))
	r.storeCSV(abs, rows)
	return rows, true
}

// Invalidate drops cached recoveries for path.
func (r *Recoverer) Invalidate(path string) {
	abs := canonical(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.json, abs)
	delete(r.csv, abs)
	kept := r.order[:0]
	for _, key := range r.order {
		if key != abs {
			kept = append(kept, key)
		}
	}
	r.order = kept
}

// Clear empties the recovery cache.
func (r *Recoverer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.json = make(map[string][]any)
	r.csv = make(map[string][]map[string]string)
	r.order = nil
}

// CacheSize returns the number of cached recoveries.
func (r *Recoverer) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.json) + len(r.csv)
}

func (r *Recoverer) storeJSON(key string, records []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	if _, ok := r.json[key]; !ok {
		if _, ok := r.csv[key]; !ok {
			r.order = append(r.order, key)
		}
	}
	r.json[key] = records
}

func (r *Recoverer) storeCSV(key string, rows []map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	if _, ok := r.csv[key]; !ok {
		if _, ok := r.json[key]; !ok {
			r.order = append(r.order, key)
		}
	}
	r.csv[key] = rows
}

// evictLocked removes oldest-inserted paths until under the bound.
func (r *Recoverer) evictLocked() {
	for len(r.json)+len(r.csv) >= r.maxEntries && len(r.order) > 0 {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.json, oldest)
		delete(r.csv, oldest)
	}
}

// recoverLines treats data as JSON-Lines, keeping every line that parses.
func recoverLines(data []byte) []any {
	var records []any
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			continue
		}
		records = append(records, v)
	}
	return records
}

// recoverBraceScan walks raw text tracking {} depth, attempting a parse
// every time the depth returns to zero. String literals and their escape
// sequences are honored, so a brace inside a quoted value is not counted.
func recoverBraceScan(data []byte) []any {
	var records []any
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(data); i++ {
		c := data[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			// Quotes only matter inside a candidate object; stray
			// quotes in surrounding garbage are ignored.
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				var v any
				if err := json.Unmarshal(data[start:i+1], &v); err == nil {
					records = append(records, v)
				}
				start = -1
				inString = false
				escaped = false
			}
		}
	}
	return records
}

func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
