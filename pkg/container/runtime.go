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

// Package container manages the lifecycle of the pipeline's deployment
// container through a narrow runtime capability interface. The engine
// never talks to the full container API; it only needs build, run, stop,
// remove, inspect, logs, and a stats snapshot.
package container

import (
	"context"
	"time"
)

// State is the coarse lifecycle state of a named container.
type State string

const (
	// StateAbsent means no container with the requested name exists.
	// Inspecting an absent container is not an error.
	StateAbsent State = "absent"
	// StateCreated means the container exists but has not been started.
	StateCreated State = "created"
	// StateRunning means the container process is running.
	StateRunning State = "running"
	// StatePaused means the container process exists but is frozen; a
	// paused container is not serving and never satisfies a health wait.
	StatePaused State = "paused"
	// StateStopped means the container exited or was stopped.
	StateStopped State = "stopped"
	// StateRemoved means the container was removed during this run.
	StateRemoved State = "removed"
)

// HealthState is the runtime-reported health signal, distinct from the
// raw running/stopped state. HealthNone means the image declares no
// health check.
type HealthState string

const (
	// HealthNone means the image declares no health check.
	HealthNone HealthState = "none"
	// HealthStarting means the health check has not yet settled.
	HealthStarting HealthState = "starting"
	// HealthHealthy means the last health check passed.
	HealthHealthy HealthState = "healthy"
	// HealthUnhealthy means the last health check failed.
	HealthUnhealthy HealthState = "unhealthy"
)

// Handle identifies a deployed container and its last observed state.
type Handle struct {
	// Name is the container name (a singleton external resource)
	Name string `json:"name"`

	// ImageRef is the image the container was created from
	ImageRef string `json:"image_ref"`

	// State is the last observed lifecycle state
	State State `json:"state"`

	// Health is the last observed health signal
	Health HealthState `json:"health"`
}

// InspectResult is a point-in-time observation of a named container.
type InspectResult struct {
	// State is the lifecycle state; StateAbsent when the name is unknown
	State State

	// Health is the health signal; HealthNone without a declared check
	Health HealthState

	// Address is the container's network address, if running
	Address string
}

// StatsSnapshot is a single resource usage observation, captured for
// diagnostics in the run report.
type StatsSnapshot struct {
	// CPUTotalUsage is cumulative CPU time consumed, in nanoseconds
	CPUTotalUsage uint64 `json:"cpu_total_usage"`

	// MemoryUsage is current memory usage in bytes
	MemoryUsage uint64 `json:"memory_usage"`

	// MemoryLimit is the memory limit in bytes
	MemoryLimit uint64 `json:"memory_limit"`

	// PIDs is the current process count
	PIDs uint64 `json:"pids"`

	// RxBytes and TxBytes are network counters for the first interface
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}

// Runtime is the narrow capability boundary to the container runtime.
// Implementations must make StopContainer and RemoveContainer idempotent
// (a no-op on an absent target) and Inspect must report StateAbsent
// rather than erroring for unknown names.
type Runtime interface {
	// BuildImage builds contextDir into an image tagged tag. dockerfile
	// is the path of the Dockerfile relative to contextDir; empty means
	// the default "Dockerfile".
	BuildImage(ctx context.Context, contextDir, dockerfile, tag string) error

	// CreateContainer creates (but does not start) a named container.
	CreateContainer(ctx context.Context, name, image, restartPolicy string) error

	// StartContainer starts a created container.
	StartContainer(ctx context.Context, name string) error

	// StopContainer stops a running container. Absent targets are a no-op.
	StopContainer(ctx context.Context, name string) error

	// RemoveContainer removes a container. Absent targets are a no-op.
	RemoveContainer(ctx context.Context, name string) error

	// Inspect observes a container's state and health signal.
	Inspect(ctx context.Context, name string) (InspectResult, error)

	// Logs returns the last tail lines of the container's output.
	Logs(ctx context.Context, name string, tail int) (string, error)

	// Stats captures a one-shot resource usage snapshot.
	Stats(ctx context.Context, name string) (StatsSnapshot, error)
}

// HealthReport is the health monitor's factual observation. The monitor
// reports fact, not verdict: the owning stage's policy decides whether a
// failed wait is fatal or tolerant.
type HealthReport struct {
	// Container is the observed container name
	Container string `json:"container"`

	// State is the final observed lifecycle state
	State State `json:"state"`

	// Health is the final observed health signal
	Health HealthState `json:"health"`

	// Healthy is true when the running condition was confirmed: state
	// running and, if the image declares a health check, signal healthy
	Healthy bool `json:"healthy"`

	// Attempts is the number of polls performed
	Attempts int `json:"attempts"`

	// Elapsed is how long the monitor waited
	Elapsed time.Duration `json:"elapsed"`

	// LastError records the most recent inspect failure, if any
	LastError string `json:"last_error,omitempty"`
}
