// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sanitize

import (
	"reflect"
	"testing"
)

func TestForJSON_Primitives(t *testing.T) {
	s := New(0)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"string", "hello", "hello"},
		{"bool", true, true},
		{"int", 42, 42},
		{"float", 3.5, 3.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.ForJSON(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ForJSON(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestForJSON_NestedComposite(t *testing.T) {
	s := New(0)

	in := map[string]any{
		"name":  "run-7",
		"tags":  []any{"a", "b", 3},
		"inner": map[string]any{"ok": true},
	}

	got := s.ForJSON(in)
	if !reflect.DeepEqual(got, in) {
		t.Errorf("ForJSON changed an already-sanitized tree: %v", got)
	}
}

func TestForJSON_NonStringMapKeys(t *testing.T) {
	s := New(0)

	in := map[int]string{1: "one", 2: "two"}
	got, ok := s.ForJSON(in).(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", s.ForJSON(in))
	}
	if got["1"] != "one" || got["2"] != "two" {
		t.Errorf("keys not coerced to strings: %v", got)
	}
}

func TestForJSON_OpaqueTypesDegradeToString(t *testing.T) {
	s := New(0)

	type opaque struct{ A int }
	got := s.ForJSON(map[string]any{
		"fn":     func() {},
		"ch":     make(chan int),
		"struct": opaque{A: 1},
		"bytes":  []byte("raw"),
	})

	m := got.(map[string]any)
	for _, key := range []string{"fn", "ch", "struct"} {
		if _, isStr := m[key].(string); !isStr {
			t.Errorf("expected %s to degrade to string, got %T", key, m[key])
		}
	}
	if m["bytes"] != "raw" {
		t.Errorf("expected bytes to become string %q, got %v", "raw", m["bytes"])
	}
}

func TestForCSV(t *testing.T) {
	s := New(0)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "x", "x"},
		{"bool", false, "false"},
		{"int", 7, "7"},
		{"map", map[string]any{"a": 1}, `{"a":1}`},
		{"slice", []any{1, 2}, `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.ForCSV(tt.in); got != tt.want {
				t.Errorf("ForCSV(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMapForCSV(t *testing.T) {
	s := New(0)

	got := s.MapForCSV(map[string]any{"n": 1, "tags": []any{"a"}})
	want := map[string]string{"n": "1", "tags": `["a"]`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MapForCSV = %v, want %v", got, want)
	}
}

func TestCache_BoundedAndClearable(t *testing.T) {
	s := New(2)

	s.ForJSON(map[string]any{"a": 1})
	s.ForJSON(map[string]any{"b": 2})
	s.ForJSON(map[string]any{"c": 3})

	if size := s.CacheSize(); size > 2 {
		t.Errorf("cache exceeded bound: %d", size)
	}

	s.Clear()
	if size := s.CacheSize(); size != 0 {
		t.Errorf("cache not cleared: %d", size)
	}
}

func TestCache_EncodingCollisionNotShared(t *testing.T) {
	s := New(4)

	// []byte("x") and the string "eA==" share a JSON encoding but
	// sanitize differently; the first must not poison a lookup for
	// the second.
	if got := s.ForJSON([]byte("x")); got != "x" {
		t.Fatalf(`ForJSON([]byte("x")) = %v, want "x"`, got)
	}
	if got := s.ForJSON("eA=="); got != "eA==" {
		t.Errorf(`ForJSON("eA==") = %v, want "eA=="`, got)
	}
}

func TestCache_NestedByteSliceBypasses(t *testing.T) {
	s := New(4)

	// The collision exists at any depth, so a tree containing a byte
	// slice must bypass the cache entirely.
	got := s.ForJSON(map[string]any{"b": []byte("x")}).(map[string]any)
	if got["b"] != "x" {
		t.Fatalf("nested bytes = %v, want %q", got["b"], "x")
	}
	if size := s.CacheSize(); size != 0 {
		t.Errorf("tree with byte slice should bypass cache, size = %d", size)
	}

	after := s.ForJSON(map[string]any{"b": "eA=="}).(map[string]any)
	if after["b"] != "eA==" {
		t.Errorf("nested string = %v, want %q", after["b"], "eA==")
	}
}

func TestCache_UnmarshalableBypasses(t *testing.T) {
	s := New(4)

	s.ForJSON(map[string]any{"fn": func() {}})
	if size := s.CacheSize(); size != 0 {
		t.Errorf("unmarshalable input should bypass cache, size = %d", size)
	}
}
