// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package detect decides whether a file's contents are syntactically valid
// for a declared format. Verdicts are cached per path with a TTL so hot
// files are not re-parsed on every check, and cache entries are invalidated
// when the underlying file changes externally.
package detect

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/SitkaData/sitka/pkg/logging"
)

// Format declares the expected structure of a file.
type Format string

const (
	// FormatJSON is a single serialized JSON value.
	FormatJSON Format = "json"

	// FormatJSONLines is one JSON value per newline-terminated line.
	FormatJSONLines Format = "json_lines"

	// FormatCSV is a header row plus data rows.
	FormatCSV Format = "csv"
)

// DefaultTTL is how long a cached verdict is trusted.
const DefaultTTL = 60 * time.Second

// DefaultCacheEntries is the default bound on the verdict cache.
const DefaultCacheEntries = 256

// maxLineBytes is the scanner buffer limit for JSON-Lines validation.
const maxLineBytes = 16 * 1024 * 1024

// Config configures a Detector.
type Config struct {
	// TTL is how long a cached verdict is trusted. Default: DefaultTTL.
	TTL time.Duration

	// MaxEntries bounds the verdict cache. Default: DefaultCacheEntries.
	MaxEntries int

	// Watch enables fsnotify-based invalidation: a cached verdict is
	// dropped as soon as the file is written, removed, or renamed by
	// anyone, instead of waiting out the TTL.
	Watch bool

	// Logger for watcher diagnostics. Default: logging.Default().
	Logger *logging.Logger
}

// Detector validates file contents against a declared format.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Detector struct {
	ttl        time.Duration
	maxEntries int
	log        *logging.Logger

	mu      sync.Mutex
	entries map[string]verdict
	order   []string

	watcherMu sync.Mutex
	watcher   *fsnotify.Watcher
	watched   map[string]struct{}
}

type verdict struct {
	valid     bool
	checkedAt time.Time
}

// New creates a Detector. When cfg.Watch is set and the platform watcher
// cannot be created, the Detector still works with TTL-only invalidation.
func New(cfg Config) *Detector {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheEntries
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	d := &Detector{
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		log:        cfg.Logger,
		entries:    make(map[string]verdict),
		watched:    make(map[string]struct{}),
	}

	if cfg.Watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			cfg.Logger.Warn("file watcher unavailable, falling back to TTL-only invalidation",
				"error", err)
		} else {
			d.watcher = watcher
			go d.watchLoop()
		}
	}

	return d
}

// ValidJSON reports whether the file parses as a single JSON value.
// Any I/O or parse failure is treated as invalid.
func (d *Detector) ValidJSON(path string) bool {
	return d.cached(path, FormatJSON, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		var v any
		return json.Unmarshal(data, &v) == nil
	})
}

// ValidJSONLines reports whether every non-blank line parses as JSON.
// One bad line invalidates the whole file.
func (d *Detector) ValidJSONLines(path string) bool {
	return d.cached(path, FormatJSONLines, func() bool {
		f, err := os.Open(path)
		if err != nil {
			return false
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !json.Valid([]byte(line)) {
				return false
			}
		}
		return scanner.Err() == nil
	})
}

// ValidCSV reports whether the file is readable and tokenizable as CSV.
// Row-length mismatches are tolerated; only I/O or hard parse failure
// invalidates.
func (d *Detector) ValidCSV(path string) bool {
	return d.cached(path, FormatCSV, func() bool {
		f, err := os.Open(path)
		if err != nil {
			return false
		}
		defer f.Close()

		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		for {
			_, err := reader.Read()
			if err == io.EOF {
				return true
			}
			if err != nil {
				return false
			}
		}
	})
}

// Detect reports whether the file at path is corrupted for the declared
// format. Unknown formats fall back to a readability check.
func (d *Detector) Detect(path string, format Format) bool {
	switch format {
	case FormatJSON:
		return !d.ValidJSON(path)
	case FormatJSONLines:
		return !d.ValidJSONLines(path)
	case FormatCSV:
		return !d.ValidCSV(path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return true
		}
		defer f.Close()
		_, err = io.CopyN(io.Discard, f, 1)
		return err != nil && err != io.EOF
	}
}

// Invalidate drops all cached verdicts for path.
func (d *Detector) Invalidate(path string) {
	abs := canonical(path)

	d.mu.Lock()
	kept := d.order[:0]
	for _, key := range d.order {
		if strings.HasPrefix(key, abs+"\x00") {
			delete(d.entries, key)
		} else {
			kept = append(kept, key)
		}
	}
	d.order = kept
	d.mu.Unlock()

	d.unwatch(abs)
}

// Clear empties the verdict cache.
func (d *Detector) Clear() {
	d.mu.Lock()
	d.entries = make(map[string]verdict)
	d.order = nil
	d.mu.Unlock()
}

// CacheSize returns the number of cached verdicts.
func (d *Detector) CacheSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Close stops the file watcher, if one is running.
func (d *Detector) Close() error {
	if d.watcher == nil {
		return nil
	}
	return d.watcher.Close()
}

// cached returns the cached verdict for (path, format) when fresh,
// recomputing via check otherwise.
func (d *Detector) cached(path string, format Format, check func() bool) bool {
	abs := canonical(path)
	key := fmt.Sprintf("%s\x00%s", abs, format)

	d.mu.Lock()
	if v, ok := d.entries[key]; ok && time.Since(v.checkedAt) < d.ttl {
		d.mu.Unlock()
		return v.valid
	}
	d.mu.Unlock()

	valid := check()

	d.mu.Lock()
	if _, exists := d.entries[key]; !exists {
		for len(d.entries) >= d.maxEntries && len(d.order) > 0 {
			oldest := d.order[0]
			d.order = d.order[1:]
			delete(d.entries, oldest)
		}
		d.order = append(d.order, key)
	}
	d.entries[key] = verdict{valid: valid, checkedAt: time.Now()}
	d.mu.Unlock()

	d.watch(abs)
	return valid
}

func (d *Detector) watch(abs string) {
	if d.watcher == nil {
		return
	}
	d.watcherMu.Lock()
	defer d.watcherMu.Unlock()

	if _, ok := d.watched[abs]; ok {
		return
	}
	if err := d.watcher.Add(abs); err != nil {
		d.log.Debug("cannot watch file", "path", abs, "error", err)
		return
	}
	d.watched[abs] = struct{}{}
}

func (d *Detector) unwatch(abs string) {
	if d.watcher == nil {
		return
	}
	d.watcherMu.Lock()
	defer d.watcherMu.Unlock()

	if _, ok := d.watched[abs]; !ok {
		return
	}
	_ = d.watcher.Remove(abs)
	delete(d.watched, abs)
}

// watchLoop drops cached verdicts when a watched file changes on disk.
func (d *Detector) watchLoop() {
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			d.log.Debug("external change detected, invalidating verdict",
				"path", event.Name,
				"op", event.Op.String())
			d.Invalidate(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Warn("file watcher error", "error", err)
		}
	}
}

func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
