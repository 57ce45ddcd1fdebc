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

// Package config loads the runtime configuration for the collector binaries
// from the environment. The same set of variables drives both the API
// front-end and the worker, so one container image can play either role.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable the collector reads at startup. Defaults are
// development-only: localhost services and pedestrian credentials.
type Config struct {
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"loguser"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"logpass"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"logsdb"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`

	InstanceName string `env:"INSTANCE_NAME" envDefault:"logpipe-unknown"`
	WorkerName   string `env:"WORKER_NAME"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8000"`

	StreamName   string `env:"STREAM_NAME" envDefault:"logs:stream"`
	StreamGroup  string `env:"STREAM_GROUP" envDefault:"log_workers"`
	StreamMaxLen int64  `env:"STREAM_MAX_LEN" envDefault:"100000"`

	// Worker loop tunables. The invariants around them (no ack without a
	// committed insert, backoff on failure, abort at the error threshold)
	// hold regardless of the values chosen here.
	WorkerBatchSize      int           `env:"WORKER_BATCH_SIZE" envDefault:"100"`
	WorkerBlock          time.Duration `env:"WORKER_BLOCK" envDefault:"5s"`
	WorkerBackoff        time.Duration `env:"WORKER_BACKOFF" envDefault:"5s"`
	WorkerErrorThreshold int           `env:"WORKER_ERROR_THRESHOLD" envDefault:"10"`
	WorkerMetricsAddr    string        `env:"WORKER_METRICS_ADDR"`

	CacheLogsTTL  time.Duration `env:"CACHE_LOGS_TTL" envDefault:"5m"`
	CacheStatsTTL time.Duration `env:"CACHE_STATS_TTL" envDefault:"1m"`

	// StampTimezone is the zone applied to enqueue timestamps. The column in
	// Postgres is timezone-aware, so this only affects the offset records
	// carry for display.
	StampTimezone string `env:"STAMP_TIMEZONE" envDefault:"Asia/Taipei"`

	APIRedisPoolSize    int `env:"API_REDIS_POOL_SIZE" envDefault:"200"`
	WorkerRedisPoolSize int `env:"WORKER_REDIS_POOL_SIZE" envDefault:"10"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"15"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`

	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	SamplerInterval time.Duration `env:"SAMPLER_INTERVAL" envDefault:"15s"`
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.WorkerName == "" {
		cfg.WorkerName = fmt.Sprintf("worker-%d", time.Now().Unix())
	}
	return cfg, nil
}

// RedisAddr returns the host:port address of the Redis server.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresDSN returns a keyword/value DSN accepted by the pgx stdlib driver.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB)
}

// Location resolves the configured stamp timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.StampTimezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.StampTimezone, err)
	}
	return loc, nil
}
