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

package container

import (
	"context"
	"time"
)

// Monitor polls a container's state until a running condition is
// confirmed or a bounded wait elapses. It reports fact, not verdict:
// interpreting a failed wait is the caller's business, because a smoke
// test and a strict gating run disagree about severity.
type Monitor struct {
	rt       Runtime
	interval time.Duration
	maxWait  time.Duration
}

// NewMonitor creates a health monitor with the given poll interval and
// bounded wait. Zero values fall back to 2s / 60s.
func NewMonitor(rt Runtime, interval, maxWait time.Duration) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 60 * time.Second
	}
	return &Monitor{rt: rt, interval: interval, maxWait: maxWait}
}

// WaitHealthy polls until the container is running (and, if the image
// declares a health check, healthy) or the bounded wait elapses. It
// never returns an error: a timed-out or unreachable wait comes back as
// a report with Healthy=false and the last observation attached.
func (m *Monitor) WaitHealthy(ctx context.Context, name string) HealthReport {
	report := HealthReport{
		Container: name,
		State:     StateAbsent,
		Health:    HealthNone,
	}

	deadline := time.Now().Add(m.maxWait)
	start := time.Now()

	for {
		report.Attempts++

		res, err := m.rt.Inspect(ctx, name)
		if err != nil {
			report.LastError = err.Error()
		} else {
			report.State = res.State
			report.Health = res.Health
			report.LastError = ""

			if res.State == StateRunning && (res.Health == HealthNone || res.Health == HealthHealthy) {
				report.Healthy = true
				report.Elapsed = time.Since(start)
				return report
			}
		}

		if time.Now().Add(m.interval).After(deadline) {
			report.Elapsed = time.Since(start)
			return report
		}

		select {
		case <-ctx.Done():
			report.LastError = ctx.Err().Error()
			report.Elapsed = time.Since(start)
			return report
		case <-time.After(m.interval):
		}
	}
}
