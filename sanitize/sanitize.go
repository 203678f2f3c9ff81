// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sanitize converts arbitrary in-memory values into representations
// safe to serialize: JSON-compatible trees for JSON targets, flat strings
// for CSV cells. Sanitization is pure and never fails; values that have no
// JSON representation degrade to their string form instead of erroring.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"sync"
)

// maxDepth bounds recursion so cyclic or pathologically nested values
// degrade to a string form instead of overflowing the stack.
const maxDepth = 64

// DefaultCacheEntries is the default bound on the sanitization cache.
const DefaultCacheEntries = 256

// Sanitizer sanitizes values for JSON and CSV serialization.
//
// Successful JSON sanitizations are cached, keyed by a content hash of the
// input's JSON encoding. Only inputs that are already JSON-native trees
// (string-keyed maps, []any, primitives) are cached: for those,
// sanitization preserves structure, so equal encodings imply equal
// results. Everything else bypasses the cache — two inputs can share a
// JSON encoding yet sanitize differently ([]byte("x") and the string
// "eA==" both encode to "eA==").
//
// # Thread Safety
//
// Sanitizer is safe for concurrent use.
type Sanitizer struct {
	mu         sync.Mutex
	cache      map[string]any
	order      []string
	maxEntries int
}

// New creates a Sanitizer with a bounded cache. maxEntries <= 0 selects
// DefaultCacheEntries.
func New(maxEntries int) *Sanitizer {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	return &Sanitizer{
		cache:      make(map[string]any),
		maxEntries: maxEntries,
	}
}

// ForJSON returns a copy of v in which every leaf is a string, number,
// boolean, or nil. Maps keep their keys (coerced to strings), sequences
// keep their order, and anything without a JSON shape becomes its string
// representation. Never fails.
func (s *Sanitizer) ForJSON(v any) any {
	if key, ok := contentKey(v); ok {
		s.mu.Lock()
		if cached, hit := s.cache[key]; hit {
			s.mu.Unlock()
			return cached
		}
		s.mu.Unlock()

		sanitized := sanitizeValue(v, 0)
		s.store(key, sanitized)
		return sanitized
	}
	return sanitizeValue(v, 0)
}

// ForCSV flattens v to a single CSV cell: nil becomes the empty string,
// maps and sequences become their JSON encoding, and everything else
// becomes its string representation.
func (s *Sanitizer) ForCSV(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		if data, err := json.Marshal(sanitizeValue(v, 0)); err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}

// MapForCSV sanitizes every value of m to a string, preserving keys.
func (s *Sanitizer) MapForCSV(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = s.ForCSV(v)
	}
	return out
}

// Clear empties the sanitization cache.
func (s *Sanitizer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]any)
	s.order = nil
}

// CacheSize returns the number of cached sanitizations.
func (s *Sanitizer) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// store inserts a cache entry, evicting the oldest-inserted entry when
// the bound is exceeded.
func (s *Sanitizer) store(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cache[key]; exists {
		return
	}
	for len(s.cache) >= s.maxEntries && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.cache, oldest)
	}
	s.cache[key] = value
	s.order = append(s.order, key)
}

// contentKey derives a cache key from the input's JSON encoding.
// Returns false when the input must not be cached: values that are not
// JSON-native trees can share an encoding with a value that sanitizes
// differently, so only native trees are keyed.
func contentKey(v any) (string, bool) {
	if !jsonNative(v, 0) {
		return "", false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), true
}

// jsonNative reports whether v is built entirely from string-keyed maps,
// []any sequences, and JSON primitives — the inputs whose sanitization
// is structure-preserving.
func jsonNative(v any, depth int) bool {
	if depth > maxDepth {
		return false
	}
	switch val := v.(type) {
	case nil:
		return true
	case bool, string, float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		return true
	case map[string]any:
		for _, inner := range val {
			if !jsonNative(inner, depth+1) {
				return false
			}
		}
		return true
	case []any:
		for _, inner := range val {
			if !jsonNative(inner, depth+1) {
				return false
			}
		}
		return true
	}
	return false
}

func sanitizeValue(v any, depth int) any {
	if depth > maxDepth {
		return fmt.Sprint(v)
	}

	switch val := v.(type) {
	case nil:
		return nil
	case bool, string, float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val
	case json.Number:
		return val
	case []byte:
		return string(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = sanitizeValue(inner, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = sanitizeValue(inner, depth+1)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			out[key] = sanitizeValue(iter.Value().Interface(), depth+1)
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = sanitizeValue(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitizeValue(rv.Elem().Interface(), depth+1)
	}

	// Structs, channels, funcs, complex numbers: string fallback.
	return fmt.Sprint(v)
}
