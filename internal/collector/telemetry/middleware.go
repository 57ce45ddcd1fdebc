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

package telemetry

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// knownSegments are static path segments that must never be collapsed into
// the {param} placeholder, regardless of their length.
var knownSegments = map[string]struct{}{
	"api": {}, "log": {}, "logs": {}, "health": {}, "stats": {},
	"metrics": {}, "docs": {}, "openapi.json": {},
}

// RouteTemplate collapses dynamic path segments to {param} so that route
// labels stay low-cardinality. A segment is dynamic when it contains a digit,
// or when it is longer than 10 characters and not in the known-static set.
func RouteTemplate(path string) string {
	parts := strings.Split(path, "/")
	changed := false
	for i, part := range parts {
		if part == "" {
			continue
		}
		if _, ok := knownSegments[part]; ok {
			continue
		}
		if containsDigit(part) || len(part) > 10 {
			parts[i] = "{param}"
			changed = true
		}
	}
	if !changed {
		return path
	}
	return strings.Join(parts, "/")
}

func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// statusRecorder captures the response status and body size written by the
// wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// countingReader counts request body bytes as the handler consumes them.
type countingReader struct {
	io.ReadCloser
	bytes int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.bytes += int64(n)
	return n, err
}

// Middleware wraps every request with method/route/status counting, duration
// timing, and request/response size observation. Route labels go through
// RouteTemplate to avoid cardinality explosions from device IDs in paths.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		body := &countingReader{ReadCloser: r.Body}
		r.Body = body

		next.ServeHTTP(rec, r)

		endpoint := RouteTemplate(r.URL.Path)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		m.HTTPRequestSize.WithLabelValues(r.Method, endpoint).Observe(float64(body.bytes))
		m.HTTPResponseSize.WithLabelValues(r.Method, endpoint).Observe(float64(rec.bytes))
	})
}
