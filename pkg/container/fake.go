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
	"sync"
)

// FakeRuntime is an in-memory Runtime for tests. It tracks container
// state transitions and records every operation for assertions.
type FakeRuntime struct {
	mu sync.Mutex

	containers map[string]*fakeContainer
	images     map[string]bool

	// Calls records operations in order, e.g. "stop:webapp".
	Calls []string

	// BuildErr, when set, is returned from BuildImage.
	BuildErr error

	// InspectErr, when set, is returned from Inspect (simulating an
	// unreachable runtime).
	InspectErr error

	// HealthSequence, when non-empty, is consumed one entry per Inspect
	// call to simulate a container whose health signal settles over time.
	HealthSequence []HealthState

	// DeclaresHealth marks created containers as having a health check.
	DeclaresHealth bool

	// LogLines is returned from Logs.
	LogLines string
}

type fakeContainer struct {
	image   string
	state   State
	health  HealthState
	address string
}

// NewFakeRuntime creates an empty fake runtime.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		containers: make(map[string]*fakeContainer),
		images:     make(map[string]bool),
	}
}

func (f *FakeRuntime) record(op, name string) {
	f.Calls = append(f.Calls, op+":"+name)
}

// BuildImage records the build and registers the tag.
func (f *FakeRuntime) BuildImage(ctx context.Context, contextDir, dockerfile, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("build", tag)
	if f.BuildErr != nil {
		return f.BuildErr
	}
	f.images[tag] = true
	return nil
}

// CreateContainer creates a container in StateCreated.
func (f *FakeRuntime) CreateContainer(ctx context.Context, name, image, restartPolicy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create", name)
	if _, exists := f.containers[name]; exists {
		return fmt.Errorf("container name %q already in use", name)
	}
	health := HealthNone
	if f.DeclaresHealth {
		health = HealthStarting
	}
	f.containers[name] = &fakeContainer{image: image, state: StateCreated, health: health, address: "172.17.0.2"}
	return nil
}

// StartContainer transitions a created container to StateRunning.
func (f *FakeRuntime) StartContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start", name)
	c, ok := f.containers[name]
	if !ok {
		return fmt.Errorf("no such container: %s", name)
	}
	c.state = StateRunning
	return nil
}

// StopContainer is an idempotent no-op for absent containers.
func (f *FakeRuntime) StopContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop", name)
	if c, ok := f.containers[name]; ok {
		c.state = StateStopped
	}
	return nil
}

// RemoveContainer is an idempotent no-op for absent containers.
func (f *FakeRuntime) RemoveContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove", name)
	delete(f.containers, name)
	return nil
}

// Inspect reports StateAbsent for unknown names, consuming
// HealthSequence entries when configured.
func (f *FakeRuntime) Inspect(ctx context.Context, name string) (InspectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("inspect", name)
	if f.InspectErr != nil {
		return InspectResult{}, f.InspectErr
	}
	c, ok := f.containers[name]
	if !ok {
		return InspectResult{State: StateAbsent, Health: HealthNone}, nil
	}
	if len(f.HealthSequence) > 0 {
		c.health = f.HealthSequence[0]
		f.HealthSequence = f.HealthSequence[1:]
	}
	return InspectResult{State: c.state, Health: c.health, Address: c.address}, nil
}

// Logs returns the configured log lines.
func (f *FakeRuntime) Logs(ctx context.Context, name string, tail int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("logs", name)
	return f.LogLines, nil
}

// Stats returns a fixed snapshot.
func (f *FakeRuntime) Stats(ctx context.Context, name string) (StatsSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stats", name)
	if _, ok := f.containers[name]; !ok {
		return StatsSnapshot{}, fmt.Errorf("no such container: %s", name)
	}
	return StatsSnapshot{CPUTotalUsage: 1_000_000, MemoryUsage: 16 << 20, MemoryLimit: 512 << 20, PIDs: 3}, nil
}

// SetState forces a container into the given lifecycle state, for tests
// simulating transitions the engine never performs itself (e.g. pause).
func (f *FakeRuntime) SetState(name string, state State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		c.state = state
	}
}

// Running returns the names of containers currently in StateRunning.
func (f *FakeRuntime) Running() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name, c := range f.containers {
		if c.state == StateRunning {
			out = append(out, name)
		}
	}
	return out
}
