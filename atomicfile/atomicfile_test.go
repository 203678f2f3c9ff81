// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package atomicfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteJSON_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")

	in := map[string]any{"name": "sitka", "count": float64(3)}
	if err := WriteJSON(in, path, 0); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("output not valid JSON: %v", err)
	}
	if out["name"] != "sitka" || out["count"] != float64(3) {
		t.Errorf("round-trip mismatch: %v", out)
	}
}

func TestWriteJSON_Indent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pretty.json")

	if err := WriteJSON(map[string]any{"a": 1}, path, 2); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "\n  \"a\"") {
		t.Errorf("expected indented output, got %q", data)
	}
}

func TestWriteJSON_FailureLeavesTargetUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")

	if err := WriteJSON(map[string]any{"v": 1}, path, 0); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	// Channels cannot be marshaled; the write must fail before any
	// temp file is created, leaving the previous contents intact.
	if err := WriteJSON(map[string]any{"ch": make(chan int)}, path, 0); err == nil {
		t.Fatal("expected marshal failure")
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("failed write modified the target")
	}
	assertNoTempFiles(t, dir)
}

func TestWriteBytes_FailurePreRenameCleansTemp(t *testing.T) {
	dir := t.TempDir()
	// A missing parent directory fails the write; nothing may be left
	// behind in or around the target location.
	missing := filepath.Join(dir, "sub") // never created

	err := WriteBytes([]byte("x"), filepath.Join(missing, "data.json"))
	if err == nil {
		t.Fatal("expected failure for missing parent directory")
	}
	assertNoTempFiles(t, dir)
}

func TestWriteJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.jsonl")

	records := []any{
		map[string]any{"a": 1},
		map[string]any{"b": 2},
	}
	if err := WriteJSONLines(records, path); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}
	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Errorf("line is not valid JSON: %q", line)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")

	records := []map[string]string{
		{"name": "a", "value": "1"},
		{"name": "quoted,comma", "value": "2"},
	}
	if err := WriteCSV(records, path); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.HasPrefix(content, "name,value\n") {
		t.Errorf("expected sorted header, got %q", content)
	}
	if !strings.Contains(content, `"quoted,comma"`) {
		t.Errorf("expected quoted field, got %q", content)
	}
}

func TestWriteCSV_Empty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.csv")

	if err := WriteCSV(nil, path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("expected empty file, got %d bytes", info.Size())
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}
