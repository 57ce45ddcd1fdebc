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

package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"logpipe/internal/collector/model"
)

// Reader serves the parameterised queries behind the query front-end.
type Reader struct {
	db *sqlx.DB
}

// NewReader creates a reader over the given pool.
func NewReader(db *sqlx.DB) *Reader {
	return &Reader{db: db}
}

// RecentByDevice returns the newest rows for a device, newest first. The
// limit is clamped to [1, 1000].
func (r *Reader) RecentByDevice(ctx context.Context, deviceID string, limit int) ([]model.StoredLog, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}
	logs := []model.StoredLog{}
	err := r.db.SelectContext(ctx, &logs,
		`SELECT id, device_id, log_level, message, log_data, created_at
		   FROM logs
		  WHERE device_id = $1
		  ORDER BY created_at DESC
		  LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, model.Wrap(model.ErrStoreUnavailable, "recent by device", err)
	}
	return logs, nil
}

// CountTotal returns the total number of stored rows.
func (r *Reader) CountTotal(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(id) FROM logs`); err != nil {
		return 0, model.Wrap(model.ErrStoreUnavailable, "count total", err)
	}
	return total, nil
}

// CountByLevel returns row counts grouped by log level.
func (r *Reader) CountByLevel(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		LogLevel string `db:"log_level"`
		Count    int64  `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT log_level, COUNT(id) AS count FROM logs GROUP BY log_level`)
	if err != nil {
		return nil, model.Wrap(model.ErrStoreUnavailable, "count by level", err)
	}
	byLevel := make(map[string]int64, len(rows))
	for _, row := range rows {
		byLevel[row.LogLevel] = row.Count
	}
	return byLevel, nil
}

// RecentDevices returns the k devices with the greatest last activity,
// ordered by that activity, newest first. A plain SELECT DISTINCT with an
// ORDER BY on created_at is invalid here; the GROUP BY over MAX(created_at)
// is the correct form.
func (r *Reader) RecentDevices(ctx context.Context, k int) ([]string, error) {
	devices := []string{}
	err := r.db.SelectContext(ctx, &devices,
		`SELECT device_id
		   FROM logs
		  GROUP BY device_id
		  ORDER BY MAX(created_at) DESC
		  LIMIT $1`, k)
	if err != nil {
		return nil, model.Wrap(model.ErrStoreUnavailable, "recent devices", err)
	}
	return devices, nil
}

// Ping checks database reachability, used by /health and startup probes.
func (r *Reader) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return model.Wrap(model.ErrStoreUnavailable, "ping", err)
	}
	return nil
}
