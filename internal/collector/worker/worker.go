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

// Package worker implements the long-lived stream consumer: consumer-group
// batch reads, one transactional insert per batch, and acknowledgement only
// after the insert has committed. Acknowledging before the commit would lose
// records on a crash; the reverse order merely risks duplicates, which the
// store tolerates.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"logpipe/internal/collector/model"
	"logpipe/internal/collector/store"
	"logpipe/internal/collector/stream"
	"logpipe/internal/collector/telemetry"
)

// ErrTooManyFailures is returned by Run when the consecutive-error count
// reaches the configured threshold.
var ErrTooManyFailures = errors.New("worker: consecutive error threshold reached")

// Options configures a worker.
type Options struct {
	Name           string
	BatchSize      int64
	Block          time.Duration
	Backoff        time.Duration
	ErrorThreshold int
	Location       *time.Location // fallback zone for entries without a timestamp
}

// Worker consumes the stream and persists batches. One Worker runs per
// process; the fleet coordinates only through the stream's consumer group.
type Worker struct {
	stream   *stream.Client
	writer   *store.Writer
	metrics  *telemetry.Metrics
	opts     Options
	log      *logrus.Entry
	draining atomic.Bool
}

// New creates a worker. Defaults: batch 100, block 5 s, backoff 5 s,
// threshold 10.
func New(st *stream.Client, wr *store.Writer, metrics *telemetry.Metrics, opts Options, log *logrus.Entry) *Worker {
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("worker-%d", time.Now().Unix())
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	if opts.ErrorThreshold <= 0 {
		opts.ErrorThreshold = 10
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Worker{stream: st, writer: wr, metrics: metrics, opts: opts, log: log}
}

// RequestDrain asks the worker to stop after the current iteration. No new
// reads are issued once draining; in-flight work completes first.
func (w *Worker) RequestDrain() {
	if w.draining.CompareAndSwap(false, true) {
		w.log.WithField("state", "draining").Info("drain requested")
	}
}

// Run executes the consume loop until a drain request, context cancellation,
// or the error threshold. It returns nil on a clean drain and
// ErrTooManyFailures when consecutive errors reach the threshold.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.stream.EnsureGroup(ctx); err != nil {
		return err
	}
	w.log.WithFields(logrus.Fields{
		"state":      "running",
		"batch_size": w.opts.BatchSize,
		"block":      w.opts.Block.String(),
	}).Info("worker started")

	errorCount := 0
	for !w.draining.Load() {
		if ctx.Err() != nil {
			break
		}
		processed, err := w.iterate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			errorCount++
			w.log.WithError(err).WithFields(logrus.Fields{
				"state":       "backoff",
				"error_count": errorCount,
			}).Warn("iteration failed")
			if errorCount >= w.opts.ErrorThreshold {
				w.log.WithField("error_count", errorCount).Error("too many consecutive failures, stopping")
				return ErrTooManyFailures
			}
			w.sleep(ctx)
			continue
		}
		if processed > 0 {
			errorCount = 0
		}
	}
	w.log.WithField("state", "stopped").Info("worker stopped")
	return nil
}

// iterate performs one read-insert-ack cycle and reports how many entries it
// handled. Entries whose decode fails are skipped but still acknowledged so
// they cannot loop through re-delivery forever.
func (w *Worker) iterate(ctx context.Context) (int, error) {
	messages, err := w.stream.ReadGroup(ctx, w.opts.Name, w.opts.BatchSize, w.opts.Block)
	if err != nil {
		w.metrics.ProcessingErrorsTotal.WithLabelValues("stream_read").Inc()
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	rows := make([]model.LogRow, 0, len(messages))
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
		entry, err := model.EntryFromValues(msg.Values)
		if err != nil {
			w.metrics.ProcessingErrorsTotal.WithLabelValues("decode").Inc()
			w.log.WithError(err).WithField("message_id", msg.ID).Warn("skipping malformed entry")
			continue
		}
		createdAt := entry.Timestamp
		if createdAt.IsZero() {
			createdAt = time.Now().In(w.opts.Location)
		}
		rows = append(rows, model.LogRow{
			DeviceID:  entry.DeviceID,
			LogLevel:  entry.LogLevel,
			Message:   entry.Message,
			LogData:   entry.LogData,
			CreatedAt: createdAt,
		})
	}

	if len(rows) > 0 {
		if err := w.writer.InsertBatch(ctx, rows); err != nil {
			w.metrics.ProcessingErrorsTotal.WithLabelValues("db_write").Inc()
			w.metrics.WorkerProcessedTotal.WithLabelValues(w.opts.Name, "failed").Add(float64(len(rows)))
			// No ack: the whole batch stays pending and will be re-delivered.
			return 0, err
		}
	}

	// Commit succeeded (or there was nothing valid to insert): acknowledge
	// every delivered ID, including the malformed ones.
	for _, id := range ids {
		if err := w.stream.Ack(ctx, id); err != nil {
			// The entry will be re-delivered; the store may gain a duplicate.
			w.metrics.ProcessingErrorsTotal.WithLabelValues("ack").Inc()
			w.log.WithError(err).WithField("message_id", id).Warn("ack failed")
		}
	}

	w.metrics.WorkerProcessedTotal.WithLabelValues(w.opts.Name, "success").Add(float64(len(rows)))
	w.metrics.WorkerBatchSize.Observe(float64(len(messages)))
	w.log.WithFields(logrus.Fields{
		"batch":    len(messages),
		"inserted": len(rows),
	}).Debug("batch processed")
	return len(messages), nil
}

// sleep waits out the backoff interval, returning early on drain or
// cancellation.
func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.opts.Backoff)
	defer timer.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.draining.Load() {
				return
			}
		}
	}
}
