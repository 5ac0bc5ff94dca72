// Copyright 2025 Tom Barlow
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

// Package metrics exposes pipeline execution metrics in Prometheus
// format for long-lived watch-mode processes.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/foundry/pkg/pipeline"
)

// Collector aggregates run and stage outcomes.
type Collector struct {
	registry      *prometheus.Registry
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry so tests never
// collide on the global one.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foundry_runs_total",
			Help: "Completed pipeline runs by verdict.",
		}, []string{"pipeline", "verdict"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "foundry_stage_duration_seconds",
			Help:    "Stage wall-clock duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"pipeline", "stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foundry_stage_failures_total",
			Help: "Stage failures by policy classification.",
		}, []string{"pipeline", "stage", "policy"}),
	}
	c.registry.MustRegister(c.runs, c.stageDuration, c.stageFailures)
	return c
}

// Observe records one finished run.
func (c *Collector) Observe(report *pipeline.RunReport) {
	c.runs.WithLabelValues(report.Pipeline, string(report.Verdict)).Inc()
	for _, s := range report.Stages {
		if s.Status == pipeline.StatusSkipped {
			continue
		}
		c.stageDuration.WithLabelValues(report.Pipeline, s.Name).Observe(s.Duration.Seconds())
		if s.Status == pipeline.StatusFailed {
			c.stageFailures.WithLabelValues(report.Pipeline, s.Name, string(s.Policy)).Inc()
		}
	}
}

// Handler returns the scrape endpoint handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve runs the scrape endpoint on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	logger.Info("metrics endpoint listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
