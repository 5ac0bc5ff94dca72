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

// Package run implements the foundry run command.
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tombee/foundry/internal/commands/shared"
	"github.com/tombee/foundry/internal/log"
	"github.com/tombee/foundry/internal/metrics"
	"github.com/tombee/foundry/internal/store"
	"github.com/tombee/foundry/internal/watcher"
	"github.com/tombee/foundry/pkg/container"
	"github.com/tombee/foundry/pkg/pipeline"
)

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var (
		inputs      []string
		workDir     string
		artifactDir string
		timeout     time.Duration
		watch       bool
		debounce    time.Duration
		metricsAddr string
		noHistory   bool
		historyDB   string
	)

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Execute a pipeline",
		Long: `Run executes a pipeline definition from top to bottom: each unit (a
stage or a parallel group) finishes before the next starts. A fatal
stage failure halts the run; tolerant failures are recorded and the run
continues. Artifacts are collected into a flat directory even from
failed stages, and the run report is written there in both text and
JSON form.

Cancellation (Ctrl-C) stops scheduling further work but lets in-flight
commands finish up to their own timeout.

Watch mode re-runs the pipeline after the working tree settles:
  --watch            Re-run on file changes (ignores artifacts/, .git/)
  --metrics-addr     Expose Prometheus metrics while watching`,
		Example: `  # Run a pipeline
  foundry run pipeline.yml

  # Pass inputs referenced by when-conditions and templates
  foundry run pipeline.yml -i environment=production -i skip_scans=true

  # Re-run on changes with a metrics endpoint
  foundry run pipeline.yml --watch --metrics-addr :9090`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runOptions{
				pipelinePath: args[0],
				inputs:       inputs,
				workDir:      workDir,
				artifactDir:  artifactDir,
				timeout:      timeout,
				watch:        watch,
				debounce:     debounce,
				metricsAddr:  metricsAddr,
				noHistory:    noHistory,
				historyDB:    historyDB,
			}
			return runPipeline(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&inputs, "input", "i", nil, "Pipeline input in key=value format")
	cmd.Flags().StringVarP(&workDir, "workdir", "C", ".", "Pipeline working directory")
	cmd.Flags().StringVar(&artifactDir, "artifact-dir", "", "Artifact output directory (default <workdir>/artifacts)")
	cmd.Flags().DurationVar(&timeout, "timeout", pipeline.DefaultCommandTimeout, "Default per-command timeout")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Re-run the pipeline when files change")
	cmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultDebounce, "Quiet period before a watch-mode re-run")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Don't record the run in the history database")
	cmd.Flags().StringVar(&historyDB, "history-db", "", "History database path (default ~/.foundry/history.db)")

	return cmd
}

type runOptions struct {
	pipelinePath string
	inputs       []string
	workDir      string
	artifactDir  string
	timeout      time.Duration
	watch        bool
	debounce     time.Duration
	metricsAddr  string
	noHistory    bool
	historyDB    string
}

func runPipeline(cmd *cobra.Command, opts runOptions) error {
	logger := log.New(loggerConfig())

	def, err := pipeline.Load(opts.pipelinePath)
	if err != nil {
		return shared.NewInvalidPipelineError(fmt.Sprintf("loading %s", opts.pipelinePath), err)
	}

	provided, err := parseInputs(opts.inputs)
	if err != nil {
		return shared.NewMissingInputError("parsing inputs", err)
	}
	resolved, err := def.ResolveInputs(provided)
	if err != nil {
		return shared.NewMissingInputError("resolving inputs", err)
	}

	if opts.artifactDir == "" {
		opts.artifactDir = filepath.Join(opts.workDir, "artifacts")
	}

	// The container runtime is only required when the definition deploys.
	var manager *container.Manager
	if hasDeploy(def) {
		rt, err := container.NewDockerRuntime()
		if err != nil {
			return shared.NewRuntimeUnreachableError("connecting to container runtime", err)
		}
		manager = container.NewManager(rt).WithLogger(log.WithComponent(logger, "container"))
	}

	var hist *store.Store
	if !opts.noHistory {
		path := opts.historyDB
		if path == "" {
			path = store.DefaultPath()
		}
		hist, err = store.Open(path)
		if err != nil {
			// History is a convenience, never a reason to refuse a run.
			logger.Warn("run history unavailable", "error", err)
		} else {
			defer hist.Close()
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	if opts.metricsAddr != "" {
		go func() {
			if err := collector.Serve(ctx, opts.metricsAddr, logger); err != nil {
				logger.Warn("metrics endpoint stopped", "error", err)
			}
		}()
	}

	runOnce := func(ctx context.Context, def *pipeline.Definition, resolved map[string]any) (*pipeline.RunReport, error) {
		exec := pipeline.NewExecutor(pipeline.RunConfig{
			RunID:          uuid.NewString(),
			WorkDir:        opts.workDir,
			ArtifactDir:    opts.artifactDir,
			Inputs:         resolved,
			DefaultTimeout: opts.timeout,
		}).WithLogger(logger)
		if manager != nil {
			exec = exec.WithManager(manager)
		}
		if shared.GetQuiet() {
			exec = exec.WithRunner(pipeline.NewRunner().WithSink(nil).WithLogger(logger))
		}

		report, err := exec.Run(ctx, def)
		if err != nil {
			return nil, shared.NewPipelineFailedError("executing pipeline", err)
		}

		collector.Observe(report)
		if hist != nil {
			if err := hist.SaveRun(context.WithoutCancel(ctx), report); err != nil {
				logger.Warn("could not record run history", "error", err)
			}
		}

		if _, _, err := report.WriteFiles(opts.artifactDir); err != nil {
			logger.Warn("could not write report files", "error", err)
		}
		printReport(cmd, report)
		return report, nil
	}

	report, err := runOnce(ctx, def, resolved)
	if err != nil {
		return err
	}

	if opts.watch {
		w := watcher.New(opts.workDir).
			WithDebounce(opts.debounce).
			WithLogger(log.WithComponent(logger, "watcher"))
		err := w.Watch(ctx, func(ctx context.Context) {
			// The definition file may be what changed: re-read it so the
			// re-run executes the edited pipeline, not the one loaded at
			// startup.
			def, resolved = reloadDefinition(opts.pipelinePath, provided, def, resolved, logger)
			if manager == nil && hasDeploy(def) {
				if rt, rerr := container.NewDockerRuntime(); rerr == nil {
					manager = container.NewManager(rt).WithLogger(log.WithComponent(logger, "container"))
				} else {
					logger.Warn("container runtime unavailable for new deploy stage", "error", rerr)
				}
			}
			if _, err := runOnce(ctx, def, resolved); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), shared.RenderError(err.Error()))
			}
		})
		if err != nil && ctx.Err() == nil {
			return shared.NewPipelineFailedError("watching for changes", err)
		}
		return nil
	}

	if report.Verdict != pipeline.StatusSucceeded {
		return &shared.ExitError{Code: shared.ExitPipelineFailed, Message: "pipeline failed"}
	}
	return nil
}

// printReport writes the run summary to the command's output stream.
func printReport(cmd *cobra.Command, report *pipeline.RunReport) {
	if shared.GetJSON() {
		data, err := json.MarshalIndent(report, "", "  ")
		if err == nil {
			cmd.Println(string(data))
		}
		return
	}
	if shared.GetQuiet() && report.Verdict == pipeline.StatusSucceeded {
		return
	}
	_ = report.RenderText(cmd.OutOrStdout())
}

// loggerConfig derives the logging configuration from the environment,
// with --verbose forcing debug level over whatever the env says.
func loggerConfig() *log.Config {
	cfg := log.FromEnv()
	if shared.GetVerbose() {
		cfg.Level = "debug"
	}
	return cfg
}

// reloadDefinition re-reads and re-validates the pipeline between
// watch-mode runs. An invalid edit keeps the last good definition
// running instead of stopping the watch: the user sees the warning,
// fixes the file, and the next trigger picks it up.
func reloadDefinition(path string, provided map[string]any, lastDef *pipeline.Definition, lastInputs map[string]any, logger *slog.Logger) (*pipeline.Definition, map[string]any) {
	def, err := pipeline.Load(path)
	if err != nil {
		logger.Warn("pipeline definition invalid, keeping previous", "error", err)
		return lastDef, lastInputs
	}
	resolved, err := def.ResolveInputs(provided)
	if err != nil {
		logger.Warn("pipeline inputs unresolvable, keeping previous", "error", err)
		return lastDef, lastInputs
	}
	return def, resolved
}

// hasDeploy reports whether any stage in the definition deploys.
func hasDeploy(def *pipeline.Definition) bool {
	for _, u := range def.Units {
		if u.Stage != nil && u.Stage.Deploy != nil {
			return true
		}
		if u.Group != nil {
			for i := range u.Group.Stages {
				if u.Group.Stages[i].Deploy != nil {
					return true
				}
			}
		}
	}
	return false
}
