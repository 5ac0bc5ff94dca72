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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types"
	typescontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/tombee/foundry/pkg/errors"
)

// DockerRuntime implements Runtime against the local Docker daemon.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime creates a runtime client from the environment
// (DOCKER_HOST et al.) with API version negotiation.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &errors.ContainerUnreachableError{Operation: "connect", Cause: err}
	}
	return &DockerRuntime{cli: cli}, nil
}

// Ping verifies the daemon is reachable. Callers use this to distinguish
// infrastructure errors from pipeline failures before a deploy unit runs.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return &errors.ContainerUnreachableError{Operation: "ping", Cause: err}
	}
	return nil
}

// Close releases the underlying client.
func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

// BuildImage tars contextDir and builds it into an image tagged tag.
func (d *DockerRuntime) BuildImage(ctx context.Context, contextDir, dockerfile, tag string) error {
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("taring build context %s: %w", contextDir, err)
	}
	defer buildCtx.Close()

	resp, err := d.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return &errors.ContainerUnreachableError{Operation: "build", Cause: err}
	}
	defer resp.Body.Close()

	// The build result arrives as a JSON message stream; an error message
	// anywhere in the stream means the build failed.
	dec := json.NewDecoder(resp.Body)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&msg); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("reading build output: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("image build failed: %s", msg.Error)
		}
	}
	return nil
}

// CreateContainer creates a named container without starting it.
func (d *DockerRuntime) CreateContainer(ctx context.Context, name, image, restartPolicy string) error {
	hostConfig := &typescontainer.HostConfig{}
	if restartPolicy != "" {
		hostConfig.RestartPolicy = typescontainer.RestartPolicy{
			Name: typescontainer.RestartPolicyMode(restartPolicy),
		}
	}

	_, err := d.cli.ContainerCreate(ctx, &typescontainer.Config{Image: image}, hostConfig, nil, nil, name)
	if err != nil {
		return fmt.Errorf("creating container %s: %w", name, err)
	}
	return nil
}

// StartContainer starts a created container.
func (d *DockerRuntime) StartContainer(ctx context.Context, name string) error {
	if err := d.cli.ContainerStart(ctx, name, typescontainer.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", name, err)
	}
	return nil
}

// StopContainer stops a running container. Absent targets are a no-op.
func (d *DockerRuntime) StopContainer(ctx context.Context, name string) error {
	err := d.cli.ContainerStop(ctx, name, typescontainer.StopOptions{})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("stopping container %s: %w", name, err)
	}
	return nil
}

// RemoveContainer force-removes a container. Absent targets are a no-op.
func (d *DockerRuntime) RemoveContainer(ctx context.Context, name string) error {
	err := d.cli.ContainerRemove(ctx, name, typescontainer.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("removing container %s: %w", name, err)
	}
	return nil
}

// Inspect observes state, health signal, and address. Unknown names
// report StateAbsent instead of an error.
func (d *DockerRuntime) Inspect(ctx context.Context, name string) (InspectResult, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return InspectResult{State: StateAbsent, Health: HealthNone}, nil
		}
		return InspectResult{}, &errors.ContainerUnreachableError{Operation: "inspect", Container: name, Cause: err}
	}

	res := InspectResult{State: mapState(info.State.Status), Health: HealthNone}
	if info.State.Health != nil {
		res.Health = mapHealth(info.State.Health.Status)
	}
	if info.NetworkSettings != nil {
		res.Address = info.NetworkSettings.IPAddress
		if res.Address == "" {
			for _, nw := range info.NetworkSettings.Networks {
				if nw.IPAddress != "" {
					res.Address = nw.IPAddress
					break
				}
			}
		}
	}
	return res, nil
}

// Logs returns the last tail lines of combined container output.
func (d *DockerRuntime) Logs(ctx context.Context, name string, tail int) (string, error) {
	rc, err := d.cli.ContainerLogs(ctx, name, typescontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", nil
		}
		return "", &errors.ContainerUnreachableError{Operation: "logs", Container: name, Cause: err}
	}
	defer rc.Close()

	// Docker multiplexes stdout/stderr in one stream; demultiplex into a
	// single combined buffer.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return buf.String(), fmt.Errorf("reading logs for %s: %w", name, err)
	}
	return buf.String(), nil
}

// dockerStats is the slice of the stats payload the engine cares about.
type dockerStats struct {
	PidsStats struct {
		Current uint64 `json:"current"`
	} `json:"pids_stats"`
	CPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
	} `json:"cpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
		Limit uint64 `json:"limit"`
	} `json:"memory_stats"`
	Networks map[string]struct {
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
	} `json:"networks"`
}

// Stats captures a one-shot resource usage snapshot.
func (d *DockerRuntime) Stats(ctx context.Context, name string) (StatsSnapshot, error) {
	resp, err := d.cli.ContainerStats(ctx, name, false)
	if err != nil {
		return StatsSnapshot{}, &errors.ContainerUnreachableError{Operation: "stats", Container: name, Cause: err}
	}
	defer resp.Body.Close()

	var raw dockerStats
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return StatsSnapshot{}, fmt.Errorf("decoding stats for %s: %w", name, err)
	}

	snap := StatsSnapshot{
		CPUTotalUsage: raw.CPUStats.CPUUsage.TotalUsage,
		MemoryUsage:   raw.MemoryStats.Usage,
		MemoryLimit:   raw.MemoryStats.Limit,
		PIDs:          raw.PidsStats.Current,
	}
	for _, nw := range raw.Networks {
		snap.RxBytes = nw.RxBytes
		snap.TxBytes = nw.TxBytes
		break
	}
	return snap, nil
}

// mapState converts a Docker status string to the engine's State.
func mapState(status string) State {
	switch status {
	case "created":
		return StateCreated
	case "running", "restarting":
		return StateRunning
	case "paused":
		return StatePaused
	case "exited", "dead", "removing":
		return StateStopped
	default:
		return StateStopped
	}
}

// mapHealth converts a Docker health status string to HealthState.
func mapHealth(status string) HealthState {
	switch status {
	case "starting":
		return HealthStarting
	case "healthy":
		return HealthHealthy
	case "unhealthy":
		return HealthUnhealthy
	default:
		return HealthNone
	}
}
