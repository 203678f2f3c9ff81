// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitka_store_writes_total",
		Help: "Write-protocol outcomes by format and status",
	}, []string{"format", "status"})

	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitka_store_reads_total",
		Help: "Read-protocol outcomes by format and status",
	}, []string{"format", "status"})

	recoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitka_store_recoveries_total",
		Help: "Best-effort recovery attempts by format and status",
	}, []string{"format", "status"})

	restoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitka_store_backup_restores_total",
		Help: "Backup restore attempts by status",
	}, []string{"status"})

	writeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitka_store_write_duration_seconds",
		Help:    "Time spent in the write protocol, lock wait included",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"format"})
)

const (
	statusOK        = "ok"
	statusFailed    = "failed"
	statusMissing   = "missing"
	statusRecovered = "recovered"
	statusRestored  = "restored"
)
