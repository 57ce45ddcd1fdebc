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

// Package stream wraps the durable append-only Redis stream that decouples
// the ingest front-end from persistence. Appends trim the stream to an
// approximate maximum length; when consumers fall behind for long enough the
// oldest entries are discarded, which is the pipeline's explicit loss policy.
package stream

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"logpipe/internal/collector/model"
	"logpipe/internal/collector/telemetry"
)

// Options configures a stream client.
type Options struct {
	Stream string // stream key, e.g. "logs:stream"
	Group  string // consumer group, e.g. "log_workers"
	MaxLen int64  // approximate trim bound, e.g. 100000
}

// Message is one delivered stream entry: the broker-assigned ID plus the raw
// field map. Decoding into a model.StreamEntry is the consumer's business so
// that malformed entries can still be acknowledged by ID.
type Message struct {
	ID     string
	Values map[string]any
}

// Client is a typed wrapper over the Redis stream commands the pipeline
// needs: append (single and pipelined), consumer-group read, ack, length.
type Client struct {
	rdb     *redis.Client
	opts    Options
	metrics *telemetry.Metrics
}

// New wraps an existing Redis client. The caller owns the client's lifecycle;
// the API process shares one connection pool between stream and cache.
func New(rdb *redis.Client, opts Options, metrics *telemetry.Metrics) *Client {
	if opts.Stream == "" {
		opts.Stream = "logs:stream"
	}
	if opts.Group == "" {
		opts.Group = "log_workers"
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = 100000
	}
	return &Client{rdb: rdb, opts: opts, metrics: metrics}
}

// Append adds one entry and returns the assigned stream ID. The stream is
// trimmed to roughly MaxLen on every append.
func (c *Client) Append(ctx context.Context, entry model.StreamEntry) (string, error) {
	start := time.Now()
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.opts.Stream,
		MaxLen: c.opts.MaxLen,
		Approx: true,
		Values: entry.Values(),
	}).Result()
	c.observe("xadd", start)
	if err != nil {
		return "", model.Wrap(model.ErrStreamUnavailable, "xadd", err)
	}
	return id, nil
}

// AppendBatch adds all entries through a single pipeline round-trip and
// returns their IDs in order. Any failed command fails the whole batch.
func (c *Client) AppendBatch(ctx context.Context, entries []model.StreamEntry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	start := time.Now()
	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(entries))
	for _, entry := range entries {
		cmds = append(cmds, pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: c.opts.Stream,
			MaxLen: c.opts.MaxLen,
			Approx: true,
			Values: entry.Values(),
		}))
	}
	_, err := pipe.Exec(ctx)
	c.observe("pipeline_xadd", start)
	if err != nil {
		return nil, model.Wrap(model.ErrStreamUnavailable, "pipeline xadd", err)
	}
	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}
	return ids, nil
}

// EnsureGroup creates the consumer group from the start of the stream,
// creating the stream itself when absent. An existing group is success.
func (c *Client) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return model.Wrap(model.ErrStreamUnavailable, "xgroup create", err)
	}
	return nil
}

// ReadGroup delivers up to count entries never seen by the group, blocking up
// to block for arrivals. No traffic within the window returns (nil, nil).
// Delivered entries stay pending for this consumer until acknowledged.
func (c *Client) ReadGroup(ctx context.Context, consumer string, count int64, block time.Duration) ([]Message, error) {
	start := time.Now()
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: consumer,
		Streams:  []string{c.opts.Stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	c.observe("xreadgroup", start)
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, model.Wrap(model.ErrStreamUnavailable, "xreadgroup", err)
	}
	var messages []Message
	for _, s := range streams {
		for _, msg := range s.Messages {
			messages = append(messages, Message{ID: msg.ID, Values: msg.Values})
		}
	}
	return messages, nil
}

// Ack marks delivered entries as completed for the group.
func (c *Client) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.rdb.XAck(ctx, c.opts.Stream, c.opts.Group, ids...).Err(); err != nil {
		return model.Wrap(model.ErrStreamUnavailable, "xack", err)
	}
	return nil
}

// Len reports the current approximate stream length.
func (c *Client) Len(ctx context.Context) (int64, error) {
	n, err := c.rdb.XLen(ctx, c.opts.Stream).Result()
	if err != nil {
		return 0, model.Wrap(model.ErrStreamUnavailable, "xlen", err)
	}
	return n, nil
}

// Ping checks broker reachability, used by /health and startup probes.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return model.Wrap(model.ErrStreamUnavailable, "ping", err)
	}
	return nil
}

func (c *Client) observe(op string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RedisOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
