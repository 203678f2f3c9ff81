// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/SitkaData/sitka/backup"
	"github.com/SitkaData/sitka/pkg/logging"
)

// Config configures a Handler. The zero value is usable; New fills
// defaults for unset fields.
type Config struct {
	// Backup controls backup naming, location, and retention.
	Backup backup.Config `yaml:"backup"`

	// DetectTTL is how long a corruption verdict is trusted.
	// Default: detect.DefaultTTL (60s).
	DetectTTL time.Duration `yaml:"detect_ttl" validate:"gte=0"`

	// CacheMaxEntries bounds each of the sanitization, corruption, and
	// recovery caches. Default: 256.
	CacheMaxEntries int `yaml:"cache_max_entries" validate:"gte=0"`

	// Indent selects pretty-printed JSON output when > 0.
	Indent int `yaml:"indent" validate:"gte=0,lte=8"`

	// WatchFiles enables fsnotify-based invalidation of corruption
	// verdicts when files change externally.
	WatchFiles bool `yaml:"watch_files"`

	// Logger for protocol events. Default: logging.Default().
	Logger *logging.Logger `yaml:"-"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Backup:          backup.DefaultConfig(),
		CacheMaxEntries: 256,
		WatchFiles:      true,
	}
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML config file and validates it. Fields absent
// from the file keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
