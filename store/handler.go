// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store is the public entry point of the resilient persistence
// subsystem. A Handler composes sanitization, corruption detection,
// atomic writes, backups, and best-effort recovery into write and read
// protocols with a boolean/optional contract: internal failures are
// absorbed and logged, never propagated to callers.
//
// Operations on the same file path are strictly serialized by a per-path
// lock; operations on different paths proceed independently.
//
// Construct one Handler at process startup and pass it by reference.
package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SitkaData/sitka/atomicfile"
	"github.com/SitkaData/sitka/backup"
	"github.com/SitkaData/sitka/detect"
	"github.com/SitkaData/sitka/pkg/logging"
	"github.com/SitkaData/sitka/recovery"
	"github.com/SitkaData/sitka/sanitize"
)

var tracer = otel.Tracer("sitka.store")

// Handler orchestrates the durability protocol.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The per-path lock registry
// guarantees at most one in-flight operation per path; the registry's
// own mutex is held only for lookup and insert, never across I/O.
type Handler struct {
	cfg       Config
	log       *logging.Logger
	sanitizer *sanitize.Sanitizer
	detector  *detect.Detector
	backups   *backup.Manager
	recov     *recovery.Recoverer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Handler from config. Callers should Close it on shutdown
// to release the file watcher.
func New(cfg Config) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = DefaultConfig().CacheMaxEntries
	}

	return &Handler{
		cfg:       cfg,
		log:       cfg.Logger,
		sanitizer: sanitize.New(cfg.CacheMaxEntries),
		detector: detect.New(detect.Config{
			TTL:        cfg.DetectTTL,
			MaxEntries: cfg.CacheMaxEntries,
			Watch:      cfg.WatchFiles,
			Logger:     cfg.Logger,
		}),
		backups: backup.NewManager(cfg.Backup, cfg.Logger),
		recov:   recovery.New(cfg.CacheMaxEntries, cfg.Logger),
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// WriteJSON sanitizes value and atomically writes it to path, backing up
// any existing file first. Reports success; failures are logged, never
// raised.
func (h *Handler) WriteJSON(ctx context.Context, value any, path string) bool {
	return h.write(ctx, path, detect.FormatJSON, func() error {
		return atomicfile.WriteJSON(h.sanitizer.ForJSON(value), path, h.cfg.Indent)
	})
}

// WriteJSONIndent is WriteJSON with an explicit indentation width for
// this call, overriding the configured default.
func (h *Handler) WriteJSONIndent(ctx context.Context, value any, path string, indent int) bool {
	return h.write(ctx, path, detect.FormatJSON, func() error {
		return atomicfile.WriteJSON(h.sanitizer.ForJSON(value), path, indent)
	})
}

// WriteJSONLines sanitizes records and atomically writes one JSON object
// per line to path.
func (h *Handler) WriteJSONLines(ctx context.Context, records []any, path string) bool {
	return h.write(ctx, path, detect.FormatJSONLines, func() error {
		sanitized := make([]any, len(records))
		for i, record := range records {
			sanitized[i] = h.sanitizer.ForJSON(record)
		}
		return atomicfile.WriteJSONLines(sanitized, path)
	})
}

// WriteCSV flattens records to strings and atomically writes them to path
// with a header row from the first record's keys.
func (h *Handler) WriteCSV(ctx context.Context, records []map[string]any, path string) bool {
	return h.write(ctx, path, detect.FormatCSV, func() error {
		sanitized := make([]map[string]string, len(records))
		for i, record := range records {
			sanitized[i] = h.sanitizer.MapForCSV(record)
		}
		return atomicfile.WriteCSV(sanitized, path)
	})
}

// write runs the write protocol under the path lock: backup if the file
// exists (best effort), write atomically, and on failure fall back to the
// newest backup if the target was left corrupted.
func (h *Handler) write(ctx context.Context, path string, format detect.Format, writeFn func() error) bool {
	start := time.Now()
	_, span := tracer.Start(ctx, "store.write",
		trace.WithAttributes(
			attribute.String("file.path", path),
			attribute.String("file.format", string(format)),
		),
	)
	defer span.End()
	defer func() {
		writeDuration.WithLabelValues(string(format)).Observe(time.Since(start).Seconds())
	}()

	log := h.log.With("op_id", uuid.NewString()[:8], "path", path, "format", string(format))

	lock := h.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(path); err == nil {
		if _, err := h.backups.Create(path); err != nil {
			// Best effort: a failed backup does not abort the write.
			log.Warn("pre-write backup failed", "error", err)
		}
	}

	if err := writeFn(); err != nil {
		log.Error("write failed", "error", err)
		span.SetStatus(codes.Error, err.Error())

		if h.detector.Detect(path, format) {
			if restored := h.restoreLatest(path, log); restored {
				writesTotal.WithLabelValues(string(format), statusRestored).Inc()
				return true
			}
		}
		writesTotal.WithLabelValues(string(format), statusFailed).Inc()
		return false
	}

	// Fresh contents on disk: stale verdicts and recoveries must not
	// shadow them.
	h.detector.Invalidate(path)
	h.recov.Invalidate(path)

	log.Debug("write completed")
	writesTotal.WithLabelValues(string(format), statusOK).Inc()
	return true
}

// ReadJSON reads and parses the JSON file at path. Returns (nil, false)
// when the file is absent or nothing could be read, recovered, or
// restored.
func (h *Handler) ReadJSON(ctx context.Context, path string) (any, bool) {
	_, span := tracer.Start(ctx, "store.read",
		trace.WithAttributes(
			attribute.String("file.path", path),
			attribute.String("file.format", string(detect.FormatJSON)),
		),
	)
	defer span.End()

	log := h.log.With("op_id", uuid.NewString()[:8], "path", path)

	lock := h.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		readsTotal.WithLabelValues(string(detect.FormatJSON), statusMissing).Inc()
		return nil, false
	}

	if h.detector.Detect(path, detect.FormatJSON) {
		log.Warn("corruption detected")
		span.AddEvent("corruption detected")

		if records, ok := h.recov.JSONFile(path); ok {
			recoveriesTotal.WithLabelValues(string(detect.FormatJSON), statusOK).Inc()
			readsTotal.WithLabelValues(string(detect.FormatJSON), statusRecovered).Inc()
			return records, true
		}
		recoveriesTotal.WithLabelValues(string(detect.FormatJSON), statusFailed).Inc()

		if !h.restoreLatest(path, log) {
			span.SetStatus(codes.Error, "recovery exhausted")
			readsTotal.WithLabelValues(string(detect.FormatJSON), statusFailed).Inc()
			return nil, false
		}
		readsTotal.WithLabelValues(string(detect.FormatJSON), statusRestored).Inc()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Error("read failed", "error", err)
		span.SetStatus(codes.Error, err.Error())
		readsTotal.WithLabelValues(string(detect.FormatJSON), statusFailed).Inc()
		return nil, false
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		log.Error("parse failed", "error", err)
		span.SetStatus(codes.Error, err.Error())
		readsTotal.WithLabelValues(string(detect.FormatJSON), statusFailed).Inc()
		return nil, false
	}

	readsTotal.WithLabelValues(string(detect.FormatJSON), statusOK).Inc()
	return value, true
}

// ReadCSV reads the CSV file at path into one map per row, keyed by the
// header. Returns (nil, false) when the file is absent or nothing could
// be read, recovered, or restored.
func (h *Handler) ReadCSV(ctx context.Context, path string) ([]map[string]string, bool) {
	_, span := tracer.Start(ctx, "store.read",
		trace.WithAttributes(
			attribute.String("file.path", path),
			attribute.String("file.format", string(detect.FormatCSV)),
		),
	)
	defer span.End()

	log := h.log.With("op_id", uuid.NewString()[:8], "path", path)

	lock := h.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		readsTotal.WithLabelValues(string(detect.FormatCSV), statusMissing).Inc()
		return nil, false
	}

	if h.detector.Detect(path, detect.FormatCSV) {
		log.Warn("corruption detected")
		span.AddEvent("corruption detected")

		if rows, ok := h.recov.CSVFile(path); ok {
			recoveriesTotal.WithLabelValues(string(detect.FormatCSV), statusOK).Inc()
			readsTotal.WithLabelValues(string(detect.FormatCSV), statusRecovered).Inc()
			return rows, true
		}
		recoveriesTotal.WithLabelValues(string(detect.FormatCSV), statusFailed).Inc()

		if !h.restoreLatest(path, log) {
			span.SetStatus(codes.Error, "recovery exhausted")
			readsTotal.WithLabelValues(string(detect.FormatCSV), statusFailed).Inc()
			return nil, false
		}
		readsTotal.WithLabelValues(string(detect.FormatCSV), statusRestored).Inc()
	}

	rows, err := readCSVFile(path)
	if err != nil {
		log.Error("parse failed", "error", err)
		span.SetStatus(codes.Error, err.Error())
		readsTotal.WithLabelValues(string(detect.FormatCSV), statusFailed).Inc()
		return nil, false
	}

	readsTotal.WithLabelValues(string(detect.FormatCSV), statusOK).Inc()
	return rows, true
}

// ClearCaches empties the sanitization, corruption, and recovery caches.
func (h *Handler) ClearCaches() {
	h.sanitizer.Clear()
	h.detector.Clear()
	h.recov.Clear()
}

// Stats reports cache sizes and the lock-registry size. Diagnostic only.
func (h *Handler) Stats() map[string]int {
	h.mu.Lock()
	lockCount := len(h.locks)
	h.mu.Unlock()

	return map[string]int{
		"sanitize_cache_entries": h.sanitizer.CacheSize(),
		"detect_cache_entries":   h.detector.CacheSize(),
		"recovery_cache_entries": h.recov.CacheSize(),
		"path_locks":             lockCount,
	}
}

// Close releases the file watcher held by the corruption detector.
func (h *Handler) Close() error {
	return h.detector.Close()
}

// restoreLatest copies the newest backup over path and drops stale
// verdicts for it. Must be called with the path lock held.
func (h *Handler) restoreLatest(path string, log *logging.Logger) bool {
	backupPath, ok := h.backups.Latest(path)
	if !ok {
		log.Warn("no backup available")
		restoresTotal.WithLabelValues(statusMissing).Inc()
		return false
	}
	if !h.backups.Restore(path, backupPath) {
		restoresTotal.WithLabelValues(statusFailed).Inc()
		return false
	}
	h.detector.Invalidate(path)
	h.recov.Invalidate(path)
	restoresTotal.WithLabelValues(statusOK).Inc()
	return true
}

// pathLock returns the mutex for path's canonical form, creating it on
// first use. Locks are retained for the process lifetime.
func (h *Handler) pathLock(path string) *sync.Mutex {
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	lock, ok := h.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		h.locks[key] = lock
	}
	return lock
}

// readCSVFile is the strict parse used when a file passed validation:
// consistent field counts enforced, first row as header.
func readCSVFile(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	all, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	header := all[0]
	rows := make([]map[string]string, 0, len(all)-1)
	for _, row := range all[1:] {
		record := make(map[string]string, len(header))
		for i, key := range header {
			record[key] = row[i]
		}
		rows = append(rows, record)
	}
	return rows, nil
}
