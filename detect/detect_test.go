// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package detect

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestValidJSON(t *testing.T) {
	d := New(Config{})
	defer d.Close()
	dir := t.TempDir()

	t.Run("valid object", func(t *testing.T) {
		path := writeFile(t, dir, "good.json", `{"a": 1, "b": [true, null]}`)
		if !d.ValidJSON(path) {
			t.Error("expected valid JSON")
		}
	})

	t.Run("truncated object", func(t *testing.T) {
		path := writeFile(t, dir, "bad.json", `{"a": 1,`)
		if d.ValidJSON(path) {
			t.Error("expected invalid JSON")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if d.ValidJSON(filepath.Join(dir, "nope.json")) {
			t.Error("missing file must be invalid")
		}
	})
}

func TestValidJSONLines(t *testing.T) {
	d := New(Config{})
	defer d.Close()
	dir := t.TempDir()

	t.Run("all lines valid", func(t *testing.T) {
		path := writeFile(t, dir, "good.jsonl", "{\"a\":1}\n\n{\"b\":2}\n")
		if !d.ValidJSONLines(path) {
			t.Error("expected valid JSON-Lines")
		}
	})

	t.Run("one bad line invalidates file", func(t *testing.T) {
		path := writeFile(t, dir, "bad.jsonl", "{\"a\":1}\n{not json}\n{\"b\":2}\n")
		if d.ValidJSONLines(path) {
			t.Error("expected invalid JSON-Lines")
		}
	})
}

func TestValidCSV(t *testing.T) {
	d := New(Config{})
	defer d.Close()
	dir := t.TempDir()

	t.Run("ragged rows tolerated", func(t *testing.T) {
		path := writeFile(t, dir, "ragged.csv", "a,b\n1,2\n3\n")
		if !d.ValidCSV(path) {
			t.Error("row-length mismatch must not invalidate CSV")
		}
	})

	t.Run("unreadable file invalid", func(t *testing.T) {
		if d.ValidCSV(filepath.Join(dir, "nope.csv")) {
			t.Error("missing file must be invalid")
		}
	})

	t.Run("bare quote invalid", func(t *testing.T) {
		path := writeFile(t, dir, "broken.csv", "a,b\n\"unterminated\n")
		if d.ValidCSV(path) {
			t.Error("hard parse failure must invalidate CSV")
		}
	})
}

func TestDetect_Dispatch(t *testing.T) {
	d := New(Config{})
	defer d.Close()
	dir := t.TempDir()

	jsonl := writeFile(t, dir, "data.jsonl", "{\"a\":1}\n")
	if d.Detect(jsonl, FormatJSONLines) {
		t.Error("valid JSON-Lines flagged corrupted")
	}

	// Appending a garbage line makes the same file corrupted.
	f, err := os.OpenFile(jsonl, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("%%% not json %%%\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	d.Invalidate(jsonl)

	if !d.Detect(jsonl, FormatJSONLines) {
		t.Error("garbage line not detected as corruption")
	}

	t.Run("unknown format checks readability only", func(t *testing.T) {
		path := writeFile(t, dir, "blob.bin", "opaque bytes")
		if d.Detect(path, Format("unknown")) {
			t.Error("readable file flagged corrupted for unknown format")
		}
		if !d.Detect(filepath.Join(dir, "gone.bin"), Format("unknown")) {
			t.Error("missing file must be corrupted for unknown format")
		}
	})
}

func TestCache_TTLExpiry(t *testing.T) {
	d := New(Config{TTL: 20 * time.Millisecond})
	defer d.Close()
	dir := t.TempDir()

	path := writeFile(t, dir, "flip.json", `{"ok":true}`)
	if !d.ValidJSON(path) {
		t.Fatal("expected valid")
	}

	// Corrupt the file behind the cache. Before TTL expiry the stale
	// verdict may be served; after expiry it must be recomputed.
	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	if d.ValidJSON(path) {
		t.Error("stale verdict served past TTL")
	}
}

func TestCache_InvalidateAndClear(t *testing.T) {
	d := New(Config{})
	defer d.Close()
	dir := t.TempDir()

	path := writeFile(t, dir, "a.json", `{}`)
	d.ValidJSON(path)
	if d.CacheSize() != 1 {
		t.Fatalf("expected 1 cached verdict, got %d", d.CacheSize())
	}

	d.Invalidate(path)
	if d.CacheSize() != 0 {
		t.Errorf("Invalidate left %d entries", d.CacheSize())
	}

	d.ValidJSON(path)
	d.Clear()
	if d.CacheSize() != 0 {
		t.Errorf("Clear left %d entries", d.CacheSize())
	}
}

func TestCache_Bounded(t *testing.T) {
	d := New(Config{MaxEntries: 2})
	defer d.Close()
	dir := t.TempDir()

	for _, name := range []string{"a.json", "b.json", "c.json"} {
		d.ValidJSON(writeFile(t, dir, name, `{}`))
	}
	if d.CacheSize() > 2 {
		t.Errorf("cache exceeded bound: %d", d.CacheSize())
	}
}

func TestWatch_ExternalChangeInvalidates(t *testing.T) {
	d := New(Config{Watch: true, TTL: time.Hour})
	defer d.Close()
	dir := t.TempDir()

	path := writeFile(t, dir, "watched.json", `{"v":1}`)
	if !d.ValidJSON(path) {
		t.Fatal("expected valid")
	}

	// External corruption; the hour-long TTL would hide it without the watcher.
	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !d.ValidJSON(path) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("watcher did not invalidate verdict after external write")
}
