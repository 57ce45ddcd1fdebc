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

// Package model defines the canonical log record shapes that cross every
// component boundary: the API request/response DTOs, the stream entry wire
// form, and the relational row. It also owns request validation and the
// stable error kinds the other packages translate into.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Known log levels. The validator deliberately does not enforce membership:
// unknown levels are accepted at the boundary and must not break the worker.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// Stable error kinds. Components wrap their failures with one of these so
// that callers can branch with errors.Is without depending on driver errors.
var (
	ErrValidation        = errors.New("validation failed")
	ErrStreamUnavailable = errors.New("stream unavailable")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrCacheUnavailable  = errors.New("cache unavailable")
	ErrDecode            = errors.New("malformed stream entry")
)

// Wrap attaches a stable error kind to an underlying failure while keeping
// the cause text. errors.Is(err, kind) holds for the result.
func Wrap(kind error, op string, err error) error {
	return fmt.Errorf("%w: %s: %v", kind, op, err)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LogRecordRequest is the body of POST /api/log.
type LogRecordRequest struct {
	DeviceID string         `json:"device_id" validate:"required,min=1,max=50"`
	LogLevel string         `json:"log_level" validate:"required,min=1,max=20"`
	Message  string         `json:"message" validate:"required,min=1,max=5000"`
	LogData  map[string]any `json:"log_data"`
}

// Validate checks the request bounds. Failures are ErrValidation.
func (r *LogRecordRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return Wrap(ErrValidation, "log record", err)
	}
	return nil
}

// CanonicalData returns the log_data payload as its canonical JSON object
// string, "{}" when absent.
func (r *LogRecordRequest) CanonicalData() string {
	if len(r.LogData) == 0 {
		return "{}"
	}
	b, err := json.Marshal(r.LogData)
	if err != nil {
		// map[string]any from a JSON decode always marshals back.
		return "{}"
	}
	return string(b)
}

// BatchRequest is the body of POST /api/logs/batch.
type BatchRequest struct {
	Logs []LogRecordRequest `json:"logs" validate:"required,min=1,max=1000,dive"`
}

// Validate checks the batch bounds and every record within it.
func (b *BatchRequest) Validate() error {
	if err := validate.Struct(b); err != nil {
		return Wrap(ErrValidation, "log batch", err)
	}
	return nil
}

// StreamEntry is the wire form of one record on the durable stream. LogData
// is carried as a JSON object string so the entry stays a flat string map.
type StreamEntry struct {
	DeviceID  string
	LogLevel  string
	Message   string
	LogData   string
	Timestamp time.Time
}

// Stream field names.
const (
	fieldDeviceID  = "device_id"
	fieldLogLevel  = "log_level"
	fieldMessage   = "message"
	fieldLogData   = "log_data"
	fieldTimestamp = "timestamp"
)

// Values renders the entry as the string-keyed field map XADD expects.
func (e StreamEntry) Values() map[string]any {
	data := e.LogData
	if data == "" {
		data = "{}"
	}
	return map[string]any{
		fieldDeviceID:  e.DeviceID,
		fieldLogLevel:  e.LogLevel,
		fieldMessage:   e.Message,
		fieldLogData:   data,
		fieldTimestamp: e.Timestamp.Format(time.RFC3339Nano),
	}
}

// EntryFromValues decodes a delivered field map back into a StreamEntry.
// A missing required field yields ErrDecode. A missing or unparseable
// timestamp leaves Timestamp zero; the consumer stamps its own time then.
func EntryFromValues(values map[string]any) (StreamEntry, error) {
	var e StreamEntry
	var ok bool
	if e.DeviceID, ok = stringField(values, fieldDeviceID); !ok {
		return e, Wrap(ErrDecode, fieldDeviceID, errors.New("missing field"))
	}
	if e.LogLevel, ok = stringField(values, fieldLogLevel); !ok {
		return e, Wrap(ErrDecode, fieldLogLevel, errors.New("missing field"))
	}
	if e.Message, ok = stringField(values, fieldMessage); !ok {
		return e, Wrap(ErrDecode, fieldMessage, errors.New("missing field"))
	}
	if e.LogData, ok = stringField(values, fieldLogData); !ok || e.LogData == "" {
		e.LogData = "{}"
	}
	if ts, ok := stringField(values, fieldTimestamp); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed
		}
	}
	return e, nil
}

func stringField(values map[string]any, name string) (string, bool) {
	v, ok := values[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return s, true
}

// LogRow is one relational row bound for the logs table.
type LogRow struct {
	DeviceID  string
	LogLevel  string
	Message   string
	LogData   string // JSON object text, bound with an explicit jsonb cast
	CreatedAt time.Time
}

// StoredLog is a persisted row as returned by the reader and serialized into
// query responses and cache entries.
type StoredLog struct {
	ID        int64           `db:"id" json:"id"`
	DeviceID  string          `db:"device_id" json:"device_id"`
	LogLevel  string          `db:"log_level" json:"log_level"`
	Message   string          `db:"message" json:"message"`
	LogData   json.RawMessage `db:"log_data" json:"log_data"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// EnqueueResponse is the body of a successful POST /api/log.
type EnqueueResponse struct {
	Status     string    `json:"status"`
	MessageID  string    `json:"message_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// BatchEnqueueResponse is the body of a successful POST /api/logs/batch.
type BatchEnqueueResponse struct {
	Status     string    `json:"status"`
	Count      int       `json:"count"`
	MessageIDs []string  `json:"message_ids"`
	ReceivedAt time.Time `json:"received_at"`
}

// QueryResponse is the body of GET /api/logs/{device_id}. Data carries the
// serialized StoredLog array, verbatim from cache on a hit.
type QueryResponse struct {
	Total  int             `json:"total"`
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

// Stats is the body of GET /api/stats and the cache:stats payload.
type Stats struct {
	TotalLogs     int64            `json:"total_logs"`
	LogsByLevel   map[string]int64 `json:"logs_by_level"`
	RecentDevices []string         `json:"recent_devices"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Instance  string          `json:"instance"`
	Checks    map[string]bool `json:"checks"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorResponse carries a diagnostic detail for 4xx/5xx responses.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
