// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry owns the process-wide Prometheus registry: the full
// counter/histogram/gauge inventory, the HTTP timing middleware, and the
// periodic host-resource sampler. Counters are lock-free on the hot path;
// /metrics readers observe a consistent snapshot through the registry.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the collector exposes, registered on a
// private registry so tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP surface.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.SummaryVec
	HTTPResponseSize    *prometheus.SummaryVec

	// Redis stream and cache.
	StreamMessagesTotal *prometheus.CounterVec
	StreamSize          prometheus.Gauge
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	RedisOpDuration     *prometheus.HistogramVec

	// Ingest business metrics.
	LogsReceivedTotal     *prometheus.CounterVec
	ProcessingErrorsTotal *prometheus.CounterVec
	BatchDuration         *prometheus.HistogramVec

	// Worker.
	WorkerProcessedTotal *prometheus.CounterVec
	WorkerBatchSize      prometheus.Histogram

	// Host resources.
	SystemCPU    prometheus.Gauge
	SystemMemory *prometheus.GaugeVec
	SystemDisk   *prometheus.GaugeVec
}

// New builds a registry with the full metric inventory plus the standard Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"method", "endpoint"}),
		HTTPRequestSize: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name: "http_request_size_bytes",
			Help: "HTTP request size in bytes",
		}, []string{"method", "endpoint"}),
		HTTPResponseSize: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name: "http_response_size_bytes",
			Help: "HTTP response size in bytes",
		}, []string{"method", "endpoint"}),

		StreamMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redis_stream_messages_total",
			Help: "Total messages written to the Redis stream",
		}, []string{"status"}),
		StreamSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "redis_stream_size",
			Help: "Current approximate length of the Redis stream",
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redis_cache_hits_total",
			Help: "Total Redis cache hits",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redis_cache_misses_total",
			Help: "Total Redis cache misses",
		}),
		RedisOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"operation"}),

		LogsReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logs_received_total",
			Help: "Total logs received",
		}, []string{"device_id", "log_level"}),
		ProcessingErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logs_processing_errors_total",
			Help: "Total log processing errors",
		}, []string{"error_type"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_processing_duration_seconds",
			Help:    "Batch enqueue duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"batch_size"}),

		WorkerProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_processed_logs_total",
			Help: "Total logs processed by a worker",
		}, []string{"worker_id", "status"}),
		WorkerBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_batch_size",
			Help:    "Worker batch size distribution",
			Buckets: []float64{10, 25, 50, 100, 200, 500, 1000},
		}),

		SystemCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "system_cpu_usage_percent",
			Help: "System CPU usage percentage",
		}),
		SystemMemory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "system_memory_usage_bytes",
			Help: "System memory usage in bytes",
		}, []string{"type"}),
		SystemDisk: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "system_disk_usage_bytes",
			Help: "System disk usage in bytes",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal, m.HTTPRequestDuration, m.HTTPRequestSize, m.HTTPResponseSize,
		m.StreamMessagesTotal, m.StreamSize, m.CacheHitsTotal, m.CacheMissesTotal, m.RedisOpDuration,
		m.LogsReceivedTotal, m.ProcessingErrorsTotal, m.BatchDuration,
		m.WorkerProcessedTotal, m.WorkerBatchSize,
		m.SystemCPU, m.SystemMemory, m.SystemDisk,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
