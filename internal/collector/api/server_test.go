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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/collector/cache"
	"logpipe/internal/collector/model"
	"logpipe/internal/collector/store"
	"logpipe/internal/collector/stream"
	"logpipe/internal/collector/telemetry"
)

type harness struct {
	handler http.Handler
	stream  *stream.Client
	cache   *cache.Client
	db      *sqlx.DB
	mock    sqlmock.Sqlmock
	rdb     *redis.Client
	mr      *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := sqlx.NewDb(mockDB, "sqlmock")

	metrics := telemetry.New()
	st := stream.New(rdb, stream.Options{}, metrics)
	ca := cache.New(rdb, metrics)
	rd := store.NewReader(db)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv := NewServer(st, ca, rd, metrics, Options{
		Instance: "test-instance",
		Location: time.UTC,
	}, logger.WithField("instance", "test-instance"))
	return &harness{handler: srv.Handler(), stream: st, cache: ca, db: db, mock: mock, rdb: rdb, mr: mr}
}

func (h *harness) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func validBody() model.LogRecordRequest {
	return model.LogRecordRequest{
		DeviceID: "device_001",
		LogLevel: model.LevelError,
		Message:  "Database connection failed",
		LogData:  map[string]any{"error_code": "DB_CONN_001"},
	}
}

func TestCreateLogQueued(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/log", validBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp model.EnqueueResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "queued", resp.Status)
	assert.Regexp(t, `^\d+-\d+$`, resp.MessageID)
	assert.False(t, resp.ReceivedAt.IsZero())

	n, err := h.stream.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "the record must be on the stream, not in the database")
}

func TestCreateLogRejectsInvalidRecord(t *testing.T) {
	h := newHarness(t)

	body := validBody()
	body.Message = ""
	rec := h.do(t, http.MethodPost, "/api/log", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp model.ErrorResponse
	decodeInto(t, rec, &resp)
	assert.NotEmpty(t, resp.Detail)

	n, err := h.stream.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "rejected records must not reach the stream")
}

func TestCreateLogRejectsMalformedJSON(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/api/log", bytes.NewReader([]byte(`{"device_id": `)))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateLogStreamDown(t *testing.T) {
	h := newHarness(t)
	h.mr.Close()

	rec := h.do(t, http.MethodPost, "/api/log", validBody())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCreateBatchQueued(t *testing.T) {
	h := newHarness(t)

	batch := model.BatchRequest{Logs: make([]model.LogRecordRequest, 100)}
	for i := range batch.Logs {
		batch.Logs[i] = validBody()
		batch.Logs[i].DeviceID = fmt.Sprintf("device_%03d", i%10)
	}
	rec := h.do(t, http.MethodPost, "/api/logs/batch", batch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp model.BatchEnqueueResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, 100, resp.Count)
	assert.Len(t, resp.MessageIDs, 100)

	n, err := h.stream.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}

func TestCreateBatchBounds(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/logs/batch", model.BatchRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "empty batch")

	oversized := model.BatchRequest{Logs: make([]model.LogRecordRequest, 1001)}
	for i := range oversized.Logs {
		oversized.Logs[i] = validBody()
	}
	rec = h.do(t, http.MethodPost, "/api/logs/batch", oversized)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "oversized batch")

	n, err := h.stream.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestGetLogsReadThrough(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()

	h.mock.ExpectQuery(`SELECT id, device_id`).
		WithArgs("device_001", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "device_id", "log_level", "message", "log_data", "created_at"}).
			AddRow(1, "device_001", "ERROR", "boom", []byte(`{"k":"v"}`), now))

	// First read misses the cache and hits the database.
	rec := h.do(t, http.MethodGet, "/api/logs/device_001", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp model.QueryResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "database", resp.Source)

	// Second read is served verbatim from the cache; no second query is
	// registered on the mock, so a fall-through would fail the test.
	rec = h.do(t, http.MethodGet, "/api/logs/device_001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cached model.QueryResponse
	decodeInto(t, rec, &cached)
	assert.Equal(t, "cache", cached.Source)
	assert.Equal(t, 1, cached.Total)
	assert.JSONEq(t, string(resp.Data), string(cached.Data))

	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestGetLogsLimitValidation(t *testing.T) {
	h := newHarness(t)
	for _, limit := range []string{"0", "1001", "-1", "abc"} {
		rec := h.do(t, http.MethodGet, "/api/logs/device_001?limit="+limit, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "limit=%s", limit)
	}
}

func TestGetLogsCacheDownFallsThrough(t *testing.T) {
	h := newHarness(t)

	// Replace the cache with one backed by a dead server; the stream client
	// keeps its live connection.
	deadMR := miniredis.RunT(t)
	deadRdb := redis.NewClient(&redis.Options{Addr: deadMR.Addr()})
	t.Cleanup(func() { _ = deadRdb.Close() })
	deadMR.Close()

	metrics := telemetry.New()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	srv := NewServer(h.stream, cache.New(deadRdb, metrics), store.NewReader(h.db), metrics,
		Options{Instance: "test-instance", Location: time.UTC},
		logger.WithField("instance", "test-instance"))
	handler := srv.Handler()

	h.mock.ExpectQuery(`SELECT id, device_id`).
		WithArgs("device_001", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "device_id", "log_level", "message", "log_data", "created_at"}))

	req := httptest.NewRequest(http.MethodGet, "/api/logs/device_001", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "cache failures must not fail the read path")
	var resp model.QueryResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "database", resp.Source)
	assert.Equal(t, 0, resp.Total)
}

func TestStatsComposedAndCached(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery(`SELECT COUNT\(id\) FROM logs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))
	h.mock.ExpectQuery(`SELECT log_level, COUNT\(id\)`).
		WillReturnRows(sqlmock.NewRows([]string{"log_level", "count"}).
			AddRow("ERROR", 30).
			AddRow("INFO", 12))
	h.mock.ExpectQuery(`(?s)SELECT device_id.*GROUP BY device_id`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"device_id"}).
			AddRow("device_009").
			AddRow("device_001"))

	rec := h.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats model.Stats
	decodeInto(t, rec, &stats)
	assert.Equal(t, int64(42), stats.TotalLogs)
	assert.Equal(t, map[string]int64{"ERROR": 30, "INFO": 12}, stats.LogsByLevel)
	assert.Equal(t, []string{"device_009", "device_001"}, stats.RecentDevices)

	// Cached on the second call: the mock has no further expectations.
	rec = h.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cached model.Stats
	decodeInto(t, rec, &cached)
	assert.Equal(t, stats, cached)

	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestHealthHealthy(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.HealthResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test-instance", resp.Instance)
	assert.True(t, resp.Checks["redis"])
	assert.True(t, resp.Checks["postgres"])
}

func TestHealthReportsRedisDown(t *testing.T) {
	h := newHarness(t)
	h.mr.Close()

	rec := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code, "health stays readable when a check fails")
	var resp model.HealthResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.False(t, resp.Checks["redis"])
	assert.True(t, resp.Checks["postgres"])
}

func TestRootDescriptor(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeInto(t, rec, &resp)
	assert.Equal(t, "logpipe", resp["service"])
	assert.Equal(t, "test-instance", resp["instance"])
}

func TestMetricsExposition(t *testing.T) {
	h := newHarness(t)

	// Generate one observation so the request counter has a sample.
	_ = h.do(t, http.MethodGet, "/health", nil)

	rec := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
