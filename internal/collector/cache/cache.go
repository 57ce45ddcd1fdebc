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

// Package cache wraps the Redis key-value cache used by the query path.
// Entries are best-effort: absence, staleness, and errors are all tolerated
// by callers, and the database stays the source of truth.
package cache

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"logpipe/internal/collector/model"
	"logpipe/internal/collector/telemetry"
)

// Key layout helpers.
func LogsKey(deviceID string, limit int) string {
	return fmt.Sprintf("cache:logs:%s:%d", deviceID, limit)
}

func StatsKey() string { return "cache:stats" }

// Client is a typed get/set-with-TTL wrapper. No atomicity, no transactions.
type Client struct {
	rdb     *redis.Client
	metrics *telemetry.Metrics
}

// New wraps an existing Redis client; the caller owns its lifecycle.
func New(rdb *redis.Client, metrics *telemetry.Metrics) *Client {
	return &Client{rdb: rdb, metrics: metrics}
}

// Get fetches a cached value. A miss is (nil, false, nil); errors are
// reported but callers treat them the same as a miss.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, err := c.rdb.Get(ctx, key).Bytes()
	c.observe("get", start)
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, model.Wrap(model.ErrCacheUnavailable, "get", err)
	}
	return value, true, nil
}

// Set stores a value with the given TTL.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, value, ttl).Err()
	c.observe("set", start)
	if err != nil {
		return model.Wrap(model.ErrCacheUnavailable, "set", err)
	}
	return nil
}

func (c *Client) observe(op string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RedisOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
