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
	"fmt"
	"log/slog"
	"time"
)

// DefaultRestartPolicy is applied when a deploy unit does not name one.
const DefaultRestartPolicy = "unless-stopped"

// Manager drives the lifecycle of the pipeline's deployment container.
// It is the only component allowed to mutate the named container, and
// every destructive operation is idempotent with respect to pre-existing
// state.
type Manager struct {
	rt     Runtime
	logger *slog.Logger
}

// NewManager creates a lifecycle manager over the given runtime.
func NewManager(rt Runtime) *Manager {
	return &Manager{rt: rt, logger: slog.Default()}
}

// WithLogger sets a custom logger for the manager.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// Build builds contextDir into an image tagged imageRef.
func (m *Manager) Build(ctx context.Context, imageRef, contextDir, dockerfile string) error {
	m.logger.Info("building image", "image", imageRef, "context", contextDir)
	return m.rt.BuildImage(ctx, contextDir, dockerfile, imageRef)
}

// Deploy replaces any pre-existing container of the same name with a
// fresh one created from imageRef and starts it. Absence of a previous
// container is not an error; calling Deploy twice with the same name
// yields exactly one running container.
func (m *Manager) Deploy(ctx context.Context, name, imageRef, restartPolicy string) (Handle, error) {
	if restartPolicy == "" {
		restartPolicy = DefaultRestartPolicy
	}

	m.logger.Info("deploying container", "container", name, "image", imageRef)

	if err := m.rt.StopContainer(ctx, name); err != nil {
		return Handle{Name: name, ImageRef: imageRef, State: StateAbsent, Health: HealthNone},
			fmt.Errorf("stopping previous container: %w", err)
	}
	if err := m.rt.RemoveContainer(ctx, name); err != nil {
		return Handle{Name: name, ImageRef: imageRef, State: StateAbsent, Health: HealthNone},
			fmt.Errorf("removing previous container: %w", err)
	}

	if err := m.rt.CreateContainer(ctx, name, imageRef, restartPolicy); err != nil {
		return Handle{Name: name, ImageRef: imageRef, State: StateAbsent, Health: HealthNone}, err
	}
	if err := m.rt.StartContainer(ctx, name); err != nil {
		return Handle{Name: name, ImageRef: imageRef, State: StateCreated, Health: HealthNone}, err
	}

	return Handle{Name: name, ImageRef: imageRef, State: StateRunning, Health: HealthNone}, nil
}

// Stop stops the named container. A no-op on an absent target.
func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.rt.StopContainer(ctx, name)
}

// Remove removes the named container. A no-op on an absent target.
func (m *Manager) Remove(ctx context.Context, name string) error {
	return m.rt.RemoveContainer(ctx, name)
}

// InspectState returns the container's current state and health signal.
// Absent containers are reported, not errored.
func (m *Manager) InspectState(ctx context.Context, name string) (InspectResult, error) {
	return m.rt.Inspect(ctx, name)
}

// Logs fetches the last tail lines of the container's output for
// diagnostics. Failures here are reported to the caller but are always
// best-effort territory.
func (m *Manager) Logs(ctx context.Context, name string, tail int) (string, error) {
	return m.rt.Logs(ctx, name, tail)
}

// Stats captures a one-shot resource usage snapshot.
func (m *Manager) Stats(ctx context.Context, name string) (StatsSnapshot, error) {
	return m.rt.Stats(ctx, name)
}

// WaitHealthy blocks until the named container settles into a running,
// healthy state or the bounded wait elapses. See Monitor.WaitHealthy.
func (m *Manager) WaitHealthy(ctx context.Context, name string, interval, maxWait time.Duration) HealthReport {
	return NewMonitor(m.rt, interval, maxWait).WaitHealthy(ctx, name)
}
