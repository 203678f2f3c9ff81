// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backup copies files to timestamped backup locations before they
// are overwritten, and copies a backup back over a damaged file. Multiple
// backups for the same target may coexist; restoration selects the newest
// by modification time.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/SitkaData/sitka/atomicfile"
	"github.com/SitkaData/sitka/pkg/logging"
)

// Config controls backup naming, location, and retention.
type Config struct {
	// MaxBackups is the number of backups retained per path after
	// rotation. Default: 5.
	MaxBackups int `yaml:"max_backups"`

	// Suffix is appended to the original name before the timestamp.
	// Default: ".backup".
	Suffix string `yaml:"suffix"`

	// TimeFormat is the timestamp layout in backup names. The default
	// carries nanoseconds so rapid successive backups never collide.
	TimeFormat string `yaml:"time_format"`

	// Dir overrides the backup location. Empty places backups beside
	// the original file.
	Dir string `yaml:"dir"`
}

// DefaultConfig returns the standard retention and naming settings.
func DefaultConfig() Config {
	return Config{
		MaxBackups: 5,
		Suffix:     ".backup",
		TimeFormat: "2006-01-02_150405.000000000",
	}
}

// Info describes one backup on disk.
type Info struct {
	// Path is the full path to the backup file.
	Path string

	// OriginalPath is the file that was backed up.
	OriginalPath string

	// ModTime is the backup file's modification time. Restoration
	// selects the newest ModTime.
	ModTime time.Time

	// Size is the backup size in bytes.
	Size int64
}

// Manager creates, lists, restores, and rotates backups.
//
// # Thread Safety
//
// Manager is stateless; methods are safe for concurrent use on
// different paths. Callers serializing operations per path (as the
// store handler does) get consistent rotation.
type Manager struct {
	config Config
	log    *logging.Logger
}

// NewManager creates a Manager, filling zero config fields with defaults.
func NewManager(config Config, log *logging.Logger) *Manager {
	defaults := DefaultConfig()
	if config.MaxBackups <= 0 {
		config.MaxBackups = defaults.MaxBackups
	}
	if config.Suffix == "" {
		config.Suffix = defaults.Suffix
	}
	if config.TimeFormat == "" {
		config.TimeFormat = defaults.TimeFormat
	}
	if log == nil {
		log = logging.Default()
	}
	return &Manager{config: config, log: log}
}

// Create copies path to a timestamped backup location. Returns "" with a
// nil error when path does not exist (nothing to back up). Copy failures
// are logged and returned; callers typically treat them as best-effort.
func (m *Manager) Create(path string) (string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("cannot back up directory %s", path)
	}

	backupPath := m.backupPath(path)
	if m.config.Dir != "" {
		if err := os.MkdirAll(m.config.Dir, 0750); err != nil {
			m.log.Warn("cannot create backup directory", "dir", m.config.Dir, "error", err)
			return "", fmt.Errorf("create backup dir: %w", err)
		}
	}

	if err := copyFile(path, backupPath, info.Mode()); err != nil {
		m.log.Warn("backup copy failed", "path", path, "backup", backupPath, "error", err)
		return "", err
	}

	if err := m.rotate(path); err != nil {
		// Rotation failure does not undo a successful backup.
		m.log.Warn("backup rotation failed", "path", path, "error", err)
	}

	m.log.Debug("backup created", "path", path, "backup", backupPath)
	return backupPath, nil
}

// List returns all backups for path, newest modification time first.
func (m *Manager) List(path string) ([]Info, error) {
	dir := filepath.Dir(path)
	if m.config.Dir != "" {
		dir = m.config.Dir
	}
	prefix := filepath.Base(path) + m.config.Suffix + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Path:         filepath.Join(dir, entry.Name()),
			OriginalPath: path,
			ModTime:      info.ModTime(),
			Size:         info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime.After(backups[j].ModTime)
	})
	return backups, nil
}

// Latest returns the newest backup for path by modification time.
func (m *Manager) Latest(path string) (string, bool) {
	backups, err := m.List(path)
	if err != nil || len(backups) == 0 {
		return "", false
	}
	return backups[0].Path, true
}

// Restore copies backupPath over path, atomically, and reports success.
func (m *Manager) Restore(path, backupPath string) bool {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		m.log.Error("cannot read backup", "backup", backupPath, "error", err)
		return false
	}
	if err := atomicfile.WriteBytes(data, path); err != nil {
		m.log.Error("restore write failed", "path", path, "backup", backupPath, "error", err)
		return false
	}
	m.log.Info("restored from backup", "path", path, "backup", backupPath)
	return true
}

// CleanOld removes backups for path older than maxAge and returns the
// number removed.
func (m *Manager) CleanOld(path string, maxAge time.Duration) (int, error) {
	backups, err := m.List(path)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, b := range backups {
		if b.ModTime.Before(cutoff) {
			if err := os.Remove(b.Path); err != nil {
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// rotate removes the oldest backups beyond MaxBackups.
func (m *Manager) rotate(path string) error {
	backups, err := m.List(path)
	if err != nil {
		return err
	}
	for i := m.config.MaxBackups; i < len(backups); i++ {
		if err := os.Remove(backups[i].Path); err != nil {
			m.log.Warn("cannot remove rotated backup", "backup", backups[i].Path, "error", err)
		}
	}
	return nil
}

// backupPath builds <base><suffix>.<timestamp> beside the original or in
// the configured backup directory.
func (m *Manager) backupPath(path string) string {
	dir := filepath.Dir(path)
	if m.config.Dir != "" {
		dir = m.config.Dir
	}
	timestamp := time.Now().Format(m.config.TimeFormat)
	return filepath.Join(dir, filepath.Base(path)+m.config.Suffix+"."+timestamp)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("sync backup: %w", err)
	}
	return out.Close()
}
