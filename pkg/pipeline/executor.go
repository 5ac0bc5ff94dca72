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

package pipeline

import (
	"context"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/foundry/internal/log"
	"github.com/tombee/foundry/pkg/container"
	"github.com/tombee/foundry/pkg/errors"
)

// logTailLines is how many container log lines are dumped on a fatal
// failure for diagnosis.
const logTailLines = 100

// RunConfig is the immutable per-run configuration threaded through the
// executor and passed to each command invocation.
type RunConfig struct {
	// RunID identifies the run; generated when empty
	RunID string

	// WorkDir is the pipeline working directory (default ".")
	WorkDir string

	// ArtifactDir is the flat artifact output directory
	// (default WorkDir/artifacts)
	ArtifactDir string

	// Inputs are the resolved pipeline inputs for conditions/templates
	Inputs map[string]any

	// DefaultTimeout bounds commands without their own timeout
	DefaultTimeout time.Duration
}

// Executor walks the ordered unit list, running each unit to completion
// before the next and applying failure policy after each.
//
// State machine: NotStarted -> Running -> {Succeeded, Failed}. A fatal
// stage failure stops processing further units; tolerant failures are
// recorded and the walk continues. The run succeeds despite tolerant
// failures: a red quality scan must not block a deployable build, but
// stays visible in the report.
type Executor struct {
	cfg       RunConfig
	runner    *Runner
	collector *Collector
	manager   *container.Manager
	logger    *slog.Logger

	onSuccess func(*RunReport)
	onFailure func(*RunReport)

	// env is the fully resolved command environment, built once per run
	env []string

	mu       sync.Mutex
	statuses map[string]string
	deployed []string
}

// NewExecutor creates an executor for one pipeline run.
func NewExecutor(cfg RunConfig) *Executor {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = filepath.Join(cfg.WorkDir, "artifacts")
	}
	return &Executor{
		cfg:       cfg,
		runner:    NewRunner(),
		collector: NewCollector(cfg.WorkDir, cfg.ArtifactDir),
		logger:    slog.Default(),
		statuses:  make(map[string]string),
	}
}

// WithRunner sets a custom command runner.
func (e *Executor) WithRunner(r *Runner) *Executor {
	e.runner = r
	return e
}

// WithManager sets the container lifecycle manager. Pipelines without
// deploy stages never need one.
func (e *Executor) WithManager(m *container.Manager) *Executor {
	e.manager = m
	return e
}

// WithLogger sets a custom logger for the executor.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// WithHooks registers the success and failure hooks invoked once the
// run reaches a terminal state.
func (e *Executor) WithHooks(onSuccess, onFailure func(*RunReport)) *Executor {
	e.onSuccess = onSuccess
	e.onFailure = onFailure
	return e
}

// Run executes the definition and returns the complete report. A failed
// run still produces a full report; the error return is reserved for
// infrastructure problems that prevent execution entirely.
//
// Cancelling ctx halts further unit scheduling but never kills in-flight
// commands: they finish up to their individual timeout first.
func (e *Executor) Run(ctx context.Context, def *Definition) (*RunReport, error) {
	report := &RunReport{
		RunID:     e.cfg.RunID,
		Pipeline:  def.Name,
		StartedAt: time.Now(),
	}
	e.env = BuildEnv(def.Env, def.Path)

	logger := log.WithRunContext(e.logger, report.RunID, def.Name)
	logger.Info("pipeline started", log.EventKey, "run_started", "units", len(def.Units))

	fatal := false
	for _, unit := range def.Units {
		if ctx.Err() != nil {
			report.Cancelled = true
			logger.Warn("run cancelled, halting unit scheduling")
			break
		}

		switch {
		case unit.Stage != nil:
			res := e.executeStage(ctx, unit.Stage, "")
			e.recordStatus(res)
			report.Stages = append(report.Stages, res)
			if res.Fatal {
				fatal = true
			}
		case unit.Group != nil:
			results := e.executeGroup(ctx, unit.Group)
			for _, res := range results {
				e.recordStatus(res)
				report.Stages = append(report.Stages, res)
				if res.Fatal {
					fatal = true
				}
			}
		}

		if fatal {
			logger.Error("fatal stage failure, halting pipeline", log.EventKey, "run_halted")
			break
		}
	}

	// A cancellation that interrupted a stage makes that stage fatal and
	// breaks the loop before the per-unit check runs; record it here.
	if ctx.Err() != nil {
		report.Cancelled = true
	}

	report.CompletedAt = time.Now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)

	if fatal || report.Cancelled {
		report.Verdict = StatusFailed
		e.dumpContainerLogs(ctx, logger)
		if e.onFailure != nil {
			e.onFailure(report)
		}
	} else {
		report.Verdict = StatusSucceeded
		if e.onSuccess != nil {
			e.onSuccess(report)
		}
	}

	logger.Info("pipeline finished",
		log.EventKey, "run_finished",
		"verdict", string(report.Verdict),
		log.DurationKey, report.Duration.Milliseconds(),
	)
	return report, nil
}

// recordStatus publishes a terminal stage status for later
// when-conditions.
func (e *Executor) recordStatus(res StageResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses[res.Name] = string(res.Status)
}

// snapshotStatuses copies the visible statuses for condition evaluation.
func (e *Executor) snapshotStatuses() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.statuses))
	for k, v := range e.statuses {
		out[k] = v
	}
	return out
}

// executeStage runs one stage to a terminal status. Commands run
// strictly in order; the first hard failure skips the rest. Artifacts
// are collected unconditionally afterwards because diagnostic reports
// are most valuable on failure.
func (e *Executor) executeStage(ctx context.Context, st *StageDefinition, group string) StageResult {
	res := StageResult{
		Name:      st.Name,
		Group:     group,
		Policy:    st.Policy,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	logger := log.WithStageContext(e.logger, e.cfg.RunID, st.Name)

	finish := func() StageResult {
		res.CompletedAt = time.Now()
		res.Duration = res.CompletedAt.Sub(res.StartedAt)
		logger.Info("stage finished",
			"status", string(res.Status),
			"fatal", res.Fatal,
			log.DurationKey, res.Duration.Milliseconds(),
		)
		return res
	}

	// Condition gate.
	ok, err := evaluateWhen(st.When, e.cfg.Inputs, e.snapshotStatuses())
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		res.Fatal = st.Policy == PolicyFatal
		return finish()
	}
	if !ok {
		logger.Info("stage skipped by condition", "when", st.When)
		res.Status = StatusSkipped
		return finish()
	}

	logger.Info("stage started", log.EventKey, "stage_started")

	e.provisionTools(ctx, st, &res, logger)

	hardFailed := false
	interrupted := false
	for _, cmd := range st.Commands {
		if hardFailed || interrupted {
			res.Commands = append(res.Commands, CommandResult{Command: cmd.Run, Skipped: true})
			continue
		}
		if ctx.Err() != nil {
			// Cancellation arrived mid-stage: the remaining commands are
			// skipped and the stage must not read as green.
			interrupted = true
			res.Commands = append(res.Commands, CommandResult{Command: cmd.Run, Skipped: true})
			continue
		}

		timeout := time.Duration(cmd.Timeout) * time.Second
		if timeout <= 0 {
			timeout = e.cfg.DefaultTimeout
		}
		dir := e.cfg.WorkDir
		if st.Dir != "" {
			dir = filepath.Join(e.cfg.WorkDir, st.Dir)
		}
		if cmd.Dir != "" {
			dir = filepath.Join(e.cfg.WorkDir, cmd.Dir)
		}

		result, err := e.runner.Run(ctx, CommandSpec{
			Line:       cmd.Run,
			Dir:        dir,
			Env:        e.env,
			Timeout:    timeout,
			BestEffort: cmd.BestEffort,
		})
		if err != nil {
			// The process never spawned: record and terminate the stage.
			result.ExitCode = 127
			res.Commands = append(res.Commands, result)
			res.Error = errors.Wrapf(err, "spawning %q", cmd.Run).Error()
			hardFailed = true
			continue
		}

		res.Commands = append(res.Commands, result)
		if result.HardFailure() {
			hardFailed = true
			if result.TimedOut {
				res.Error = (&errors.TimeoutError{Operation: "command", Duration: result.Duration}).Error()
			} else {
				res.Error = (&errors.CommandFailedError{Command: cmd.Run, Stage: st.Name, ExitCode: result.ExitCode}).Error()
			}
		}
	}

	if !hardFailed && !interrupted && st.Render != nil {
		if err := renderTemplate(e.cfg.WorkDir, st.Render, e.cfg.Inputs); err != nil {
			hardFailed = true
			res.Error = err.Error()
		}
	}

	healthFatal := false
	healthFailed := false
	if !hardFailed && !interrupted && st.Deploy != nil {
		hardFailed, healthFailed, healthFatal = e.executeDeploy(ctx, st, &res, logger)
	}

	// Artifact collection runs even for failed stages.
	arts, artErr := e.collector.Collect(st.Name, st.Artifacts)
	res.Artifacts = arts

	switch {
	case artErr != nil:
		res.Status = StatusFailed
		if res.Error == "" {
			res.Error = artErr.Error()
		}
		// A required artifact miss is fatal regardless of stage policy.
		var missing *errors.ArtifactMissingError
		if errors.As(artErr, &missing) {
			res.Fatal = true
		} else {
			res.Fatal = res.Fatal || st.Policy == PolicyFatal
		}
		if hardFailed && st.Policy == PolicyFatal {
			res.Fatal = true
		}
	case hardFailed:
		res.Status = StatusFailed
		res.Fatal = st.Policy == PolicyFatal
	case interrupted:
		res.Status = StatusFailed
		res.Fatal = st.Policy == PolicyFatal
		res.Error = "run cancelled before all commands ran"
	case healthFailed:
		res.Status = StatusFailed
		res.Fatal = healthFatal
	default:
		res.Status = StatusSucceeded
	}

	return finish()
}

// executeDeploy builds (optionally), replaces the named container, and
// waits on its health signal. The returned flags are (hardFailed,
// healthFailed, healthFatal): infrastructure and deploy errors are hard
// failures classified by stage policy, while a failed health wait is
// classified by the health block's own policy.
func (e *Executor) executeDeploy(ctx context.Context, st *StageDefinition, res *StageResult, logger *slog.Logger) (bool, bool, bool) {
	d := st.Deploy

	if e.manager == nil {
		res.Error = "container runtime unavailable for deploy stage " + st.Name
		return true, false, false
	}

	if d.Context != "" {
		buildCtx := d.Context
		if !filepath.IsAbs(buildCtx) {
			buildCtx = filepath.Join(e.cfg.WorkDir, buildCtx)
		}
		if err := e.manager.Build(ctx, d.Image, buildCtx, d.Dockerfile); err != nil {
			res.Error = err.Error()
			return true, false, false
		}
	}

	handle, err := e.manager.Deploy(ctx, d.Container, d.Image, d.RestartPolicy)
	if err != nil {
		res.Error = err.Error()
		return true, false, false
	}
	e.mu.Lock()
	e.deployed = append(e.deployed, handle.Name)
	e.mu.Unlock()

	if d.Health != nil {
		interval := time.Duration(d.Health.Interval) * time.Second
		maxWait := time.Duration(d.Health.MaxWait) * time.Second
		hr := e.manager.WaitHealthy(ctx, d.Container, interval, maxWait)
		res.Health = &hr

		if !hr.Healthy {
			logger.Warn("container did not become healthy",
				log.ContainerKey, d.Container,
				"state", string(hr.State),
				"health", string(hr.Health),
			)
			res.Error = "container " + d.Container + " not healthy after " + hr.Elapsed.Round(time.Millisecond).String()
			return false, true, d.Health.Policy == PolicyFatal
		}

		// Diagnostics only; a stats failure never affects the verdict.
		if snap, err := e.manager.Stats(ctx, d.Container); err == nil {
			res.Stats = &snap
		}
	}

	return false, false, false
}

// provisionTools probes each declared tool and runs its best-effort
// install when missing. Absence degrades the stage's output but is never
// a failure by itself.
func (e *Executor) provisionTools(ctx context.Context, st *StageDefinition, res *StageResult, logger *slog.Logger) {
	for _, tool := range st.Tools {
		if _, err := exec.LookPath(tool.Name); err == nil {
			continue
		}
		if tool.Install != "" {
			logger.Info("provisioning missing tool", "tool", tool.Name)
			if _, err := e.runner.Run(ctx, CommandSpec{
				Line:       tool.Install,
				Dir:        e.cfg.WorkDir,
				Env:        e.env,
				BestEffort: true,
			}); err != nil {
				logger.Warn("tool provisioning failed", "tool", tool.Name, "error", err)
			}
		}
		if _, err := exec.LookPath(tool.Name); err != nil {
			warn := (&errors.ToolUnavailableError{Tool: tool.Name, Stage: st.Name, Cause: err}).Error()
			res.Warnings = append(res.Warnings, warn)
			logger.Warn("tool unavailable, stage output degraded", "tool", tool.Name)
		}
	}
}

// dumpContainerLogs streams the tail of every deployed container's logs
// on a fatal failure. Strictly best-effort.
func (e *Executor) dumpContainerLogs(ctx context.Context, logger *slog.Logger) {
	if e.manager == nil {
		return
	}
	e.mu.Lock()
	deployed := append([]string(nil), e.deployed...)
	e.mu.Unlock()

	for _, name := range deployed {
		logs, err := e.manager.Logs(context.WithoutCancel(ctx), name, logTailLines)
		if err != nil {
			logger.Warn("could not capture container logs", log.ContainerKey, name, "error", err)
			continue
		}
		logger.Error("container logs on failure", log.ContainerKey, name, "logs", logs)
	}
}
