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

// Package api implements the public HTTP surface of the pipeline: the ingest
// endpoints that enqueue records onto the stream, and the query endpoints
// that read through the cache to the database. Handlers acknowledge enqueues
// before persistence; durability past the ack belongs to the stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"logpipe/internal/collector/cache"
	"logpipe/internal/collector/model"
	"logpipe/internal/collector/store"
	"logpipe/internal/collector/stream"
	"logpipe/internal/collector/telemetry"
)

const serviceVersion = "1.0.0"

// Options configures the server beyond its collaborators.
type Options struct {
	Instance       string
	Location       *time.Location // zone applied to enqueue timestamps
	LogsTTL        time.Duration  // cache TTL for per-device log lists
	StatsTTL       time.Duration  // cache TTL for the stats object
	RequestTimeout time.Duration  // per-request context deadline
}

// Server handles the HTTP requests for the log pipeline.
type Server struct {
	stream  *stream.Client
	cache   *cache.Client
	reader  *store.Reader
	metrics *telemetry.Metrics
	opts    Options
	log     *logrus.Entry
}

// NewServer creates and configures an API server.
func NewServer(st *stream.Client, ca *cache.Client, rd *store.Reader, metrics *telemetry.Metrics, opts Options, log *logrus.Entry) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LogsTTL <= 0 {
		opts.LogsTTL = 5 * time.Minute
	}
	if opts.StatsTTL <= 0 {
		opts.StatsTTL = time.Minute
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{stream: st, cache: ca, reader: rd, metrics: metrics, opts: opts, log: log}
}

// Handler assembles the routes and the middleware chain: panic recovery on
// the outside, then request metrics, then the per-request deadline.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/log", s.handleCreateLog)
	mux.HandleFunc("POST /api/logs/batch", s.handleCreateBatch)
	mux.HandleFunc("GET /api/logs/{device_id}", s.handleGetLogs)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return s.recoverFaults(s.metrics.Middleware(s.withDeadline(mux)))
}

// handleCreateLog accepts one record, stamps it, and appends it to the
// stream. The "queued" ack deliberately precedes persistence so that burst
// absorption is decoupled from database write throughput.
func (s *Server) handleCreateLog(w http.ResponseWriter, r *http.Request) {
	var req model.LogRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.metrics.LogsReceivedTotal.WithLabelValues(req.DeviceID, req.LogLevel).Inc()

	entry := model.StreamEntry{
		DeviceID:  req.DeviceID,
		LogLevel:  req.LogLevel,
		Message:   req.Message,
		LogData:   req.CanonicalData(),
		Timestamp: time.Now().In(s.opts.Location),
	}
	id, err := s.stream.Append(r.Context(), entry)
	if err != nil {
		s.metrics.StreamMessagesTotal.WithLabelValues("failed").Inc()
		s.metrics.ProcessingErrorsTotal.WithLabelValues("redis_write").Inc()
		s.log.WithError(err).Error("stream append failed")
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to queue log: %v", err))
		return
	}
	s.metrics.StreamMessagesTotal.WithLabelValues("success").Inc()

	s.writeJSON(w, http.StatusOK, model.EnqueueResponse{
		Status:     "queued",
		MessageID:  id,
		ReceivedAt: time.Now().In(s.opts.Location),
	})
}

// handleCreateBatch accepts 1..1000 records, stamps the whole batch with one
// timestamp, and appends everything through a single pipeline round-trip.
// A failed pipeline fails the whole batch; no partial success is reported.
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req model.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	start := time.Now()
	now := time.Now().In(s.opts.Location)
	entries := make([]model.StreamEntry, 0, len(req.Logs))
	for i := range req.Logs {
		rec := &req.Logs[i]
		s.metrics.LogsReceivedTotal.WithLabelValues(rec.DeviceID, rec.LogLevel).Inc()
		entries = append(entries, model.StreamEntry{
			DeviceID:  rec.DeviceID,
			LogLevel:  rec.LogLevel,
			Message:   rec.Message,
			LogData:   rec.CanonicalData(),
			Timestamp: now,
		})
	}

	ids, err := s.stream.AppendBatch(r.Context(), entries)
	if err != nil {
		s.metrics.StreamMessagesTotal.WithLabelValues("failed").Inc()
		s.metrics.ProcessingErrorsTotal.WithLabelValues("batch_redis_write").Inc()
		s.log.WithError(err).WithField("batch_size", len(entries)).Error("stream batch append failed")
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to queue batch logs: %v", err))
		return
	}
	s.metrics.StreamMessagesTotal.WithLabelValues("success").Inc()
	s.metrics.BatchDuration.WithLabelValues(strconv.Itoa(len(entries))).Observe(time.Since(start).Seconds())

	s.writeJSON(w, http.StatusOK, model.BatchEnqueueResponse{
		Status:     "queued",
		Count:      len(ids),
		MessageIDs: ids,
		ReceivedAt: time.Now().In(s.opts.Location),
	})
}

// handleGetLogs serves recent logs for a device, cache-first. A cache miss
// or error falls through to the database, and the result repopulates the
// cache best-effort.
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			s.writeError(w, http.StatusUnprocessableEntity, "limit must be an integer in [1, 1000]")
			return
		}
		limit = n
	}

	key := cache.LogsKey(deviceID, limit)
	if payload, ok, err := s.cache.Get(r.Context(), key); err != nil {
		s.log.WithError(err).Warn("cache read failed")
	} else if ok {
		s.metrics.CacheHitsTotal.Inc()
		s.writeJSON(w, http.StatusOK, model.QueryResponse{
			Total:  countJSONArray(payload),
			Source: "cache",
			Data:   payload,
		})
		return
	} else {
		s.metrics.CacheMissesTotal.Inc()
	}

	logs, err := s.reader.RecentByDevice(r.Context(), deviceID, limit)
	if err != nil {
		s.log.WithError(err).Error("log query failed")
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query logs: %v", err))
		return
	}
	payload, err := json.Marshal(logs)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to serialize logs: %v", err))
		return
	}
	if err := s.cache.Set(r.Context(), key, payload, s.opts.LogsTTL); err != nil {
		s.log.WithError(err).Warn("cache write failed")
	}

	s.writeJSON(w, http.StatusOK, model.QueryResponse{
		Total:  len(logs),
		Source: "database",
		Data:   payload,
	})
}

// handleStats composes the summary statistics, cached for a short TTL.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	key := cache.StatsKey()
	if payload, ok, err := s.cache.Get(r.Context(), key); err != nil {
		s.log.WithError(err).Warn("stats cache read failed")
	} else if ok {
		s.metrics.CacheHitsTotal.Inc()
		s.writeRaw(w, http.StatusOK, payload)
		return
	} else {
		s.metrics.CacheMissesTotal.Inc()
	}

	total, err := s.reader.CountTotal(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get stats: %v", err))
		return
	}
	byLevel, err := s.reader.CountByLevel(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get stats: %v", err))
		return
	}
	devices, err := s.reader.RecentDevices(r.Context(), 10)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get stats: %v", err))
		return
	}

	stats := model.Stats{TotalLogs: total, LogsByLevel: byLevel, RecentDevices: devices}
	payload, err := json.Marshal(stats)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to serialize stats: %v", err))
		return
	}
	if err := s.cache.Set(r.Context(), key, payload, s.opts.StatsTTL); err != nil {
		s.log.WithError(err).Warn("stats cache write failed")
	}
	s.writeRaw(w, http.StatusOK, payload)
}

// handleHealth pings both backing services. The response is healthy only
// when both checks pass; the status code stays 200 either way so that the
// check results remain readable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]bool{"redis": false, "postgres": false}
	if err := s.stream.Ping(ctx); err != nil {
		s.log.WithError(err).Warn("redis health check failed")
	} else {
		checks["redis"] = true
	}
	if err := s.reader.Ping(ctx); err != nil {
		s.log.WithError(err).Warn("postgres health check failed")
	} else {
		checks["postgres"] = true
	}

	status := "healthy"
	if !checks["redis"] || !checks["postgres"] {
		status = "unhealthy"
	}
	s.writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:    status,
		Instance:  s.opts.Instance,
		Checks:    checks,
		Timestamp: time.Now().In(s.opts.Location),
	})
}

// handleRoot serves the service descriptor.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service":  "logpipe",
		"version":  serviceVersion,
		"instance": s.opts.Instance,
		"endpoints": map[string]string{
			"health":     "/health",
			"create_log": "POST /api/log",
			"get_logs":   "GET /api/logs/{device_id}",
			"stats":      "/api/stats",
			"metrics":    "/metrics",
		},
	})
}

// withDeadline bounds every request with the configured timeout. Stream,
// cache, and database operations all honour the request context.
func (s *Server) withDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverFaults converts an otherwise-uncaught panic into a 500 with a
// diagnostic body. Validation failures keep their 422 status; only
// unexpected faults land here.
func (s *Server) recoverFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.metrics.ProcessingErrorsTotal.WithLabelValues("unhandled").Inc()
				s.log.WithField("panic", rec).Error("unhandled fault in request handler")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":    "Internal Server Error",
					"detail":   fmt.Sprint(rec),
					"instance": s.opts.Instance,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Warn("response encode failed")
	}
}

func (s *Server) writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.log.WithError(err).Warn("response write failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, model.ErrorResponse{Detail: detail})
}

// countJSONArray reports the element count of a serialized JSON array
// without materialising the elements.
func countJSONArray(payload []byte) int {
	var elems []json.RawMessage
	if err := json.Unmarshal(payload, &elems); err != nil {
		return 0
	}
	return len(elems)
}
