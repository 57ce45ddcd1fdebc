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

// Package main provides the entry point for the logpipe API instance: the
// ingest front-end that enqueues device logs onto the Redis stream, and the
// query front-end that reads through the cache to Postgres.
//
// This file is responsible for orchestrating the process:
// 1. Loading configuration from the environment.
// 2. Initializing the shared clients (Redis, Postgres, telemetry).
// 3. Starting the host-resource sampler and the HTTP server.
// 4. Managing graceful shutdown so in-flight requests drain cleanly.
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

	"logpipe/internal/collector/api"
	"logpipe/internal/collector/cache"
	"logpipe/internal/collector/config"
	"logpipe/internal/collector/store"
	"logpipe/internal/collector/stream"
	"logpipe/internal/collector/telemetry"
)

func main() {
	// 1. Configuration. A local .env is a development convenience only.
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("configuration load failed")
	}
	logger := logrus.New()
	log := logger.WithField("instance", cfg.InstanceName)
	log.Info("starting logpipe API instance")

	loc, err := cfg.Location()
	if err != nil {
		log.WithError(err).Fatal("timezone load failed")
	}

	// 2. Telemetry registry, shared by every component in the process.
	metrics := telemetry.New()

	// 3. Redis: one pool shared by the stream and cache clients.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		PoolSize: cfg.APIRedisPoolSize,
	})
	streamClient := stream.New(rdb, stream.Options{
		Stream: cfg.StreamName,
		Group:  cfg.StreamGroup,
		MaxLen: cfg.StreamMaxLen,
	}, metrics)
	cacheClient := cache.New(rdb, metrics)

	// 4. Postgres pool and reader.
	db, err := store.Open(cfg.PostgresDSN(), store.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.WithError(err).Fatal("database open failed")
	}
	reader := store.NewReader(db)

	// 5. Startup probes. The API keeps serving when a dependency is down
	// (health reports it); only complete misconfiguration is fatal.
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := streamClient.Ping(probeCtx); err != nil {
		log.WithError(err).Warn("redis unreachable at startup")
	} else {
		log.Info("redis connection ok")
		if err := streamClient.EnsureGroup(probeCtx); err != nil {
			log.WithError(err).Warn("consumer group create failed")
		}
	}
	if err := reader.Ping(probeCtx); err != nil {
		log.WithError(err).Warn("postgres unreachable at startup")
	} else {
		log.Info("postgres connection ok")
	}
	probeCancel()

	// 6. Periodic host-resource and stream-depth sampler.
	sampler := telemetry.NewSampler(metrics, streamClient, cfg.SamplerInterval, log)
	sampler.Start()

	// 7. HTTP server.
	server := api.NewServer(streamClient, cacheClient, reader, metrics, api.Options{
		Instance:       cfg.InstanceName,
		Location:       loc,
		LogsTTL:        cfg.CacheLogsTTL,
		StatsTTL:       cfg.CacheStatsTTL,
		RequestTimeout: cfg.RequestTimeout,
	}, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// 8. Wait for a signal, then drain in-flight requests and close the
	// shared clients.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	sampler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	if err := rdb.Close(); err != nil {
		log.WithError(err).Warn("redis close failed")
	}
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("database close failed")
	}
	log.Info("stopped")
}
