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
	"time"

	"github.com/tombee/foundry/pkg/container"
)

// Status represents the execution status of a stage or the whole run.
type Status string

const (
	// StatusPending indicates the stage has not started yet.
	StatusPending Status = "pending"
	// StatusRunning indicates the stage is currently executing.
	StatusRunning Status = "running"
	// StatusSucceeded indicates the stage completed successfully.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the stage failed.
	StatusFailed Status = "failed"
	// StatusSkipped indicates the stage was skipped (condition false or
	// an earlier fatal failure halted the run before it started).
	StatusSkipped Status = "skipped"
)

// Policy classifies how a stage failure affects the rest of the run.
type Policy string

const (
	// PolicyFatal halts the pipeline when the stage fails.
	PolicyFatal Policy = "fatal"
	// PolicyTolerant records the failure and lets the pipeline continue.
	PolicyTolerant Policy = "tolerant"
)

// ExitTimedOut is the marker exit code for commands terminated by their
// timeout. Real process exits are always >= 0, so the marker cannot
// collide with one.
const ExitTimedOut = -1

// CommandResult is the immutable outcome of one external command.
type CommandResult struct {
	// Command is the command line (or argv joined) that was executed
	Command string `json:"command"`

	// ExitCode is the process exit code, or ExitTimedOut on timeout
	ExitCode int `json:"exit_code"`

	// Stdout is the captured standard output
	Stdout string `json:"stdout,omitempty"`

	// Stderr is the captured standard error
	Stderr string `json:"stderr,omitempty"`

	// Duration is the wall-clock execution time
	Duration time.Duration `json:"duration"`

	// TimedOut is set when the command was terminated by its timeout
	TimedOut bool `json:"timed_out,omitempty"`

	// BestEffort marks commands whose failure is never classified hard
	BestEffort bool `json:"best_effort,omitempty"`

	// Skipped is set for commands that never ran because an earlier
	// command in the stage failed hard
	Skipped bool `json:"skipped,omitempty"`
}

// HardFailure reports whether this result terminates its stage: a
// non-zero exit (including timeout) on a command not marked best-effort.
func (r CommandResult) HardFailure() bool {
	return !r.Skipped && !r.BestEffort && r.ExitCode != 0
}

// Artifact is a file produced by a stage and retained for the report.
type Artifact struct {
	// Path is the collected file's path inside the artifact directory
	Path string `json:"path"`

	// SizeBytes is the file size at collection time
	SizeBytes int64 `json:"size_bytes"`

	// ProducedBy is the name of the stage that declared the artifact
	ProducedBy string `json:"produced_by"`
}

// StageResult is the terminal record of one stage. Mutated only by the
// executor while the stage runs; immutable once Status is terminal.
type StageResult struct {
	// Name is the stage name, unique within the run
	Name string `json:"name"`

	// Group is the owning parallel group name, empty for top-level stages
	Group string `json:"group,omitempty"`

	// Status is the terminal stage status
	Status Status `json:"status"`

	// Policy is the stage's failure policy, echoed for the report
	Policy Policy `json:"policy"`

	// Fatal marks a failure that halts the pipeline. Set for failed
	// fatal-policy stages and for required-artifact misses regardless
	// of policy.
	Fatal bool `json:"fatal,omitempty"`

	// Commands holds one result per configured command, in order
	Commands []CommandResult `json:"commands,omitempty"`

	// Artifacts lists the files collected for this stage
	Artifacts []Artifact `json:"artifacts,omitempty"`

	// Health is the health monitor's report for deploy stages
	Health *container.HealthReport `json:"health,omitempty"`

	// Stats is a one-shot resource snapshot of a healthy deployment
	Stats *container.StatsSnapshot `json:"stats,omitempty"`

	// Warnings records recoverable degradations (e.g., unavailable tools)
	Warnings []string `json:"warnings,omitempty"`

	// Error is the failure description when Status is failed
	Error string `json:"error,omitempty"`

	// StartedAt is when the stage began executing
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the stage reached a terminal status
	CompletedAt time.Time `json:"completed_at"`

	// Duration is CompletedAt - StartedAt
	Duration time.Duration `json:"duration"`
}

// RunReport aggregates stage outcomes into the final delivery summary.
// It always contains every stage that was considered, regardless of
// outcome, plus the overall verdict.
type RunReport struct {
	// RunID uniquely identifies this run
	RunID string `json:"run_id"`

	// Pipeline is the pipeline definition name
	Pipeline string `json:"pipeline"`

	// Verdict is StatusSucceeded unless a fatal failure occurred.
	// Tolerant failures do not flip the verdict but stay listed.
	Verdict Status `json:"verdict"`

	// Stages is the ordered list of stage results
	Stages []StageResult `json:"stages"`

	// Cancelled is set when the run was halted by external cancellation
	Cancelled bool `json:"cancelled,omitempty"`

	// StartedAt is when the run began
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total run time
	Duration time.Duration `json:"duration"`
}

// FatalStage returns the first fatal-failed stage, or nil.
func (r *RunReport) FatalStage() *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Fatal {
			return &r.Stages[i]
		}
	}
	return nil
}

// TolerantFailures returns the stages that failed without halting the run.
func (r *RunReport) TolerantFailures() []StageResult {
	var out []StageResult
	for _, s := range r.Stages {
		if s.Status == StatusFailed && !s.Fatal {
			out = append(out, s)
		}
	}
	return out
}
