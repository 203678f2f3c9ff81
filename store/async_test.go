// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestAsync_WriteAndRead(t *testing.T) {
	h := testHandler(t)
	a := NewAsync(h, 2)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "async.json")

	if ok := <-a.WriteJSON(ctx, map[string]any{"id": 7}, path); !ok {
		t.Fatal("async WriteJSON failed")
	}

	res := <-a.ReadJSON(ctx, path)
	if !res.OK {
		t.Fatal("async ReadJSON failed")
	}
	m, ok := res.Value.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", res.Value)
	}
	if m["id"] != float64(7) {
		t.Errorf("id = %v, want 7", m["id"])
	}
	a.Wait()
}

func TestAsync_ReadCSV(t *testing.T) {
	h := testHandler(t)
	a := NewAsync(h, 2)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "async.csv")

	records := []map[string]any{{"k": "v"}}
	if ok := <-a.WriteCSV(ctx, records, path); !ok {
		t.Fatal("async WriteCSV failed")
	}

	res := <-a.ReadCSV(ctx, path)
	if !res.OK {
		t.Fatal("async ReadCSV failed")
	}
	if len(res.Rows) != 1 || res.Rows[0]["k"] != "v" {
		t.Errorf("rows = %v", res.Rows)
	}
	a.Wait()
}

func TestAsync_CanceledContext(t *testing.T) {
	h := testHandler(t)
	a := NewAsync(h, 1)
	path := filepath.Join(t.TempDir(), "never.json")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	select {
	case ok := <-a.WriteJSON(ctx, map[string]any{"x": 1}, path):
		if ok {
			t.Error("write reported success under a canceled context")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("canceled submission never resolved")
	}
	a.Wait()
}

func TestAsync_WriteJSONBatch(t *testing.T) {
	h := testHandler(t)
	a := NewAsync(h, 4)
	ctx := context.Background()
	dir := t.TempDir()

	items := make(map[string]any, 8)
	for i := 0; i < 8; i++ {
		items[filepath.Join(dir, fmt.Sprintf("item-%d.json", i))] = map[string]any{"n": i}
	}
	// One unwritable destination should not sink the rest.
	items[filepath.Join(dir, "missing", "sub", "item.json")] = map[string]any{"n": -1}

	written := a.WriteJSONBatch(ctx, items)
	if written != 8 {
		t.Fatalf("written = %d, want 8", written)
	}

	for i := 0; i < 8; i++ {
		res := <-a.ReadJSON(ctx, filepath.Join(dir, fmt.Sprintf("item-%d.json", i)))
		if !res.OK {
			t.Fatalf("item-%d unreadable after batch write", i)
		}
	}
	a.Wait()
}

func TestAsync_ManyConcurrentWrites(t *testing.T) {
	h := testHandler(t)
	a := NewAsync(h, 3)
	ctx := context.Background()
	dir := t.TempDir()

	results := make([]<-chan bool, 0, 20)
	for i := 0; i < 20; i++ {
		p := filepath.Join(dir, fmt.Sprintf("f-%d.json", i))
		results = append(results, a.WriteJSON(ctx, map[string]any{"i": i}, p))
	}
	for i, ch := range results {
		if !<-ch {
			t.Errorf("write %d failed", i)
		}
	}
	a.Wait()
}
