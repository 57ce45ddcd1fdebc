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

// Package main provides the entry point for the logpipe worker: the stream
// consumer that drains the Redis stream in batches and persists rows into
// Postgres. The worker exits 1 when either backing service is unreachable at
// startup or when the consecutive-error threshold trips, and 0 on a clean
// signal-driven drain.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"

	"logpipe/internal/collector/config"
	"logpipe/internal/collector/store"
	"logpipe/internal/collector/stream"
	"logpipe/internal/collector/telemetry"
	"logpipe/internal/collector/worker"
)

func main() {
	// 1. Configuration.
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("configuration load failed")
	}
	logger := logrus.New()
	log := logger.WithField("worker", cfg.WorkerName)
	log.Info("starting logpipe worker")

	loc, err := cfg.Location()
	if err != nil {
		log.WithError(err).Fatal("timezone load failed")
	}

	metrics := telemetry.New()

	// 2. Clients: a small keep-alive Redis pool of our own, and a Postgres
	// pool separate from the front-end's.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		PoolSize: cfg.WorkerRedisPoolSize,
	})
	streamClient := stream.New(rdb, stream.Options{
		Stream: cfg.StreamName,
		Group:  cfg.StreamGroup,
		MaxLen: cfg.StreamMaxLen,
	}, metrics)

	db, err := store.Open(cfg.PostgresDSN(), store.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.WithError(err).Error("database open failed")
		os.Exit(1)
	}
	writer := store.NewWriter(db)

	// 3. Startup probes: the worker is useless without both services.
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := streamClient.Ping(probeCtx); err != nil {
		log.WithError(err).Error("redis unreachable, cannot start")
		os.Exit(1)
	}
	log.Info("redis connection ok")
	if err := db.PingContext(probeCtx); err != nil {
		log.WithError(err).Error("postgres unreachable, cannot start")
		os.Exit(1)
	}
	log.Info("postgres connection ok")
	probeCancel()

	// 4. Optional metrics endpoint for scraping worker counters.
	if cfg.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			srv := &http.Server{
				Addr:              cfg.WorkerMetricsAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			_ = srv.ListenAndServe()
		}()
	}

	// 5. Consume until a signal requests a drain. The in-flight iteration
	// completes before the loop exits, so nothing already read is dropped.
	w := worker.New(streamClient, writer, metrics, worker.Options{
		Name:           cfg.WorkerName,
		BatchSize:      int64(cfg.WorkerBatchSize),
		Block:          cfg.WorkerBlock,
		Backoff:        cfg.WorkerBackoff,
		ErrorThreshold: cfg.WorkerErrorThreshold,
		Location:       loc,
	}, log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		w.RequestDrain()
	}()

	runErr := w.Run(context.Background())

	if err := rdb.Close(); err != nil {
		log.WithError(err).Warn("redis close failed")
	}
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("database close failed")
	}
	if runErr != nil {
		if errors.Is(runErr, worker.ErrTooManyFailures) {
			log.WithError(runErr).Error("worker aborted")
		} else {
			log.WithError(runErr).Error("worker failed")
		}
		os.Exit(1)
	}
	log.Info("worker drained cleanly")
}
