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
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tombee/foundry/internal/log"
)

// NonInteractiveMarker is set in every command's environment so package
// managers and installers never block on a prompt.
const NonInteractiveMarker = "DEBIAN_FRONTEND=noninteractive"

// DefaultCommandTimeout bounds commands that declare no timeout.
const DefaultCommandTimeout = 30 * time.Minute

// CommandSpec describes one external command invocation.
type CommandSpec struct {
	// Line is the command line, run via the shell
	Line string

	// Dir is the working directory
	Dir string

	// Env is the fully resolved environment for the process
	Env []string

	// Timeout bounds execution; zero means DefaultCommandTimeout
	Timeout time.Duration

	// BestEffort is carried through to the result for classification
	BestEffort bool
}

// Runner executes external commands. It never returns an error for a
// non-zero exit: callers interpret the exit code. The returned error is
// reserved for infrastructure problems (the process could not be
// spawned at all).
type Runner struct {
	sink   io.Writer
	logger *slog.Logger
}

// NewRunner creates a runner that streams combined output to stdout.
func NewRunner() *Runner {
	return &Runner{sink: os.Stdout, logger: slog.Default()}
}

// WithSink sets the writer receiving live combined command output.
func (r *Runner) WithSink(w io.Writer) *Runner {
	r.sink = w
	return r
}

// WithLogger sets a custom logger for the runner.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// Run executes one command and captures its result. Output is streamed
// to the sink while the command runs, so very large outputs never block
// on buffering. On timeout the process is killed and the result carries
// the ExitTimedOut marker code.
func (r *Runner) Run(ctx context.Context, spec CommandSpec) (CommandResult, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	// The command context carries only the timeout, never an external
	// cancellation: a cancelled run lets in-flight commands finish up to
	// their own deadline instead of killing them mid-write.
	cmdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", spec.Line)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if spec.Env != nil {
		cmd.Env = spec.Env
	}

	var stdout, stderr bytes.Buffer
	if r.sink != nil {
		cmd.Stdout = io.MultiWriter(r.sink, &stdout)
		cmd.Stderr = io.MultiWriter(r.sink, &stderr)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	r.logger.Debug("running command", "command", spec.Line, "dir", spec.Dir, "timeout", timeout)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := CommandResult{
		Command:    spec.Line,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Duration:   duration,
		BestEffort: spec.BestEffort,
	}

	log.Trace(r.logger, "command transcript",
		slog.String("command", spec.Line),
		slog.String("stdout", result.Stdout),
		slog.String("stderr", result.Stderr),
	)

	if cmdCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = ExitTimedOut
		r.logger.Warn("command timed out", "command", spec.Line, "timeout", timeout)
		return result, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// The process never started: an infrastructure error, not a
		// command failure.
		return result, err
	}

	result.ExitCode = 0
	return result, nil
}

// BuildEnv produces the environment for command invocations: the host
// environment, the pipeline's immutable overlay, the non-interactive
// marker, and an augmented search path. No process-wide state is
// mutated.
func BuildEnv(overlay map[string]string, pathPrepend []string) []string {
	env := os.Environ()

	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	env = append(env, NonInteractiveMarker)

	if len(pathPrepend) > 0 {
		path := os.Getenv("PATH")
		env = append(env, "PATH="+strings.Join(pathPrepend, string(os.PathListSeparator))+string(os.PathListSeparator)+path)
	}
	return env
}
