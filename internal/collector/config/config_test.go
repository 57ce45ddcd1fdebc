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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
	assert.Equal(t, "host=localhost port=5432 user=loguser password=logpass dbname=logsdb sslmode=disable", cfg.PostgresDSN())
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, "logs:stream", cfg.StreamName)
	assert.Equal(t, "log_workers", cfg.StreamGroup)
	assert.Equal(t, int64(100000), cfg.StreamMaxLen)
	assert.Equal(t, 100, cfg.WorkerBatchSize)
	assert.Equal(t, 5*time.Second, cfg.WorkerBlock)
	assert.Equal(t, 5*time.Second, cfg.WorkerBackoff)
	assert.Equal(t, 10, cfg.WorkerErrorThreshold)
	assert.Equal(t, 5*time.Minute, cfg.CacheLogsTTL)
	assert.Equal(t, time.Minute, cfg.CacheStatsTTL)
	assert.Equal(t, 200, cfg.APIRedisPoolSize)
	assert.Equal(t, 10, cfg.WorkerRedisPoolSize)
	assert.NotEmpty(t, cfg.WorkerName, "worker name must get a generated default")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("POSTGRES_HOST", "pg.internal")
	t.Setenv("WORKER_NAME", "worker-7")
	t.Setenv("WORKER_BLOCK", "250ms")
	t.Setenv("STREAM_MAX_LEN", "5000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr())
	assert.Contains(t, cfg.PostgresDSN(), "host=pg.internal")
	assert.Equal(t, "worker-7", cfg.WorkerName)
	assert.Equal(t, 250*time.Millisecond, cfg.WorkerBlock)
	assert.Equal(t, int64(5000), cfg.StreamMaxLen)
}

func TestLocation(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Taipei", loc.String())

	cfg.StampTimezone = "Not/AZone"
	_, err = cfg.Location()
	assert.Error(t, err)
}
