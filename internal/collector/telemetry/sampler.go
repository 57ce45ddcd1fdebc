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

package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// StreamLener reports the current approximate stream length. Implemented by
// the stream client; kept as an interface here to avoid a package cycle.
type StreamLener interface {
	Len(ctx context.Context) (int64, error)
}

// Sampler periodically refreshes the host-resource gauges and the stream
// length gauge. One sampler runs per API process.
type Sampler struct {
	metrics  *Metrics
	stream   StreamLener
	interval time.Duration
	log      *logrus.Entry
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// NewSampler creates a sampler. stream may be nil when no stream gauge is
// wanted (the worker exposes its own metrics without one).
func NewSampler(metrics *Metrics, stream StreamLener, interval time.Duration, log *logrus.Entry) *Sampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sampler{
		metrics:  metrics,
		stream:   stream,
		interval: interval,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background sampling goroutine.
func (s *Sampler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.sample()
		for {
			select {
			case <-ticker.C:
				s.sample()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Stop halts sampling. Safe to call more than once.
func (s *Sampler) Stop() {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return
	}
	close(s.stopChan)
	s.wg.Wait()
}

func (s *Sampler) sample() {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		s.metrics.SystemCPU.Set(percents[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.metrics.SystemMemory.WithLabelValues("used").Set(float64(vm.Used))
		s.metrics.SystemMemory.WithLabelValues("available").Set(float64(vm.Available))
		s.metrics.SystemMemory.WithLabelValues("total").Set(float64(vm.Total))
	}
	if du, err := disk.Usage("/"); err == nil {
		s.metrics.SystemDisk.WithLabelValues("used").Set(float64(du.Used))
		s.metrics.SystemDisk.WithLabelValues("free").Set(float64(du.Free))
		s.metrics.SystemDisk.WithLabelValues("total").Set(float64(du.Total))
	}
	if s.stream != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if n, err := s.stream.Len(ctx); err == nil {
			s.metrics.StreamSize.Set(float64(n))
		} else if s.log != nil {
			s.log.WithError(err).Debug("stream length sample failed")
		}
	}
}
