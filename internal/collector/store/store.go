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

// Package store persists and queries log rows in Postgres.
//
// Schema (reference; migrations are managed outside this repo):
//
//	CREATE TABLE IF NOT EXISTS logs (
//	  id          BIGSERIAL PRIMARY KEY,
//	  device_id   VARCHAR(50)  NOT NULL,
//	  log_level   VARCHAR(20)  NOT NULL,
//	  message     TEXT,
//	  log_data    JSONB,
//	  created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
//	  indexed_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
//	);
//	CREATE INDEX IF NOT EXISTS idx_logs_device_id  ON logs(device_id);
//	CREATE INDEX IF NOT EXISTS idx_logs_log_level  ON logs(log_level);
//	CREATE INDEX IF NOT EXISTS idx_device_created  ON logs(device_id, created_at);
//	CREATE INDEX IF NOT EXISTS idx_created_desc    ON logs(created_at DESC);
package store

import (
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"
)

// PoolOptions shapes the connection pool. Both processes use the same shape
// but hold separate pools; the worker never shares a connection across
// iterations mid-transaction.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open opens a pgx-backed pool with the given shape. It does not ping; use
// Reader.Ping (or sqlx's own) for the startup probe so that callers decide
// whether unreachability is fatal.
func Open(dsn string, opts PoolOptions) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return db, nil
}
