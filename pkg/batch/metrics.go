/*
Copyright © contributors to dbshrink.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

package batch

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
)

const namespace = "dbshrink"

// Metrics contains the Prometheus metrics of a shrink run
type Metrics struct {
	FilesTotal         *prometheus.CounterVec
	ReclaimedMegabytes *prometheus.CounterVec
	ShrinkDuration     *prometheus.HistogramVec
	Fragmentation      *prometheus.GaugeVec
	ServerFailures     *prometheus.CounterVec
	LastRunTimestamp   prometheus.Gauge
}

// NewMetrics creates the shrink metrics
func NewMetrics() *Metrics {
	return &Metrics{
		FilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_total",
				Help:      "Number of storage files processed, by outcome",
			},
			[]string{"instance", "file_type", "outcome"},
		),
		ReclaimedMegabytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reclaimed_megabytes_total",
				Help:      "Allocated space released by shrink operations, in MB",
			},
			[]string{"instance", "database"},
		),
		ShrinkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "shrink_duration_seconds",
				Help:      "Wall clock time spent shrinking a single file, all steps included",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"instance", "file_type"},
		),
		Fragmentation: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "index_fragmentation_percent",
				Help:      "Index fragmentation of the database before and after the shrink",
			},
			[]string{"instance", "database", "phase", "stat"},
		),
		ServerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "server_failures_total",
				Help:      "Number of servers that could not be processed",
			},
			[]string{"instance"},
		),
		LastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the end of the last run",
			},
		),
	}
}

// Register registers all the metrics with the given registerer
func (m *Metrics) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.FilesTotal,
		m.ReclaimedMegabytes,
		m.ShrinkDuration,
		m.Fragmentation,
		m.ServerFailures,
		m.LastRunTimestamp,
	}

	var errs []error
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ObserveResult records a file result
func (m *Metrics) ObserveResult(result apiv1.ShrinkResult) {
	if m == nil {
		return
	}

	m.FilesTotal.WithLabelValues(result.SQLInstance, result.FileType, string(result.Outcome)).Inc()

	if reclaimed := result.ReclaimedMB(); reclaimed > 0 {
		m.ReclaimedMegabytes.WithLabelValues(result.SQLInstance, result.Database).Add(reclaimed)
	}

	if result.StepsCompleted > 0 {
		m.ShrinkDuration.WithLabelValues(result.SQLInstance, result.FileType).Observe(result.Elapsed.Seconds())
	}

	m.setFragmentation(result.SQLInstance, result.Database, "before", result.FragmentationBefore)
	m.setFragmentation(result.SQLInstance, result.Database, "after", result.FragmentationAfter)
}

// ObserveServerFailure records a server that could not be processed
func (m *Metrics) ObserveServerFailure(instance string) {
	if m == nil {
		return
	}
	m.ServerFailures.WithLabelValues(instance).Inc()
}

func (m *Metrics) setFragmentation(instance, database, phase string, sample *apiv1.FragmentationSample) {
	if sample == nil || !sample.Valid {
		return
	}
	m.Fragmentation.WithLabelValues(instance, database, phase, "avg").Set(sample.AveragePercent)
	m.Fragmentation.WithLabelValues(instance, database, phase, "max").Set(sample.MaximumPercent)
}
