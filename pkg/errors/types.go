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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents pipeline definition validation failures.
// Use this for malformed definitions, duplicate stage names, or
// constraint violations detected before execution starts.
type ValidationError struct {
	// Field identifies which definition field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Hint provides actionable guidance for fixing the error, surfaced
	// through the UserVisibleError interface
	Hint string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsUserVisible marks validation failures as user-facing: they describe
// the user's own definition file, never engine internals.
func (e *ValidationError) IsUserVisible() bool {
	return true
}

// UserMessage returns the failure description without the field prefix.
func (e *ValidationError) UserMessage() string {
	return e.Message
}

// Suggestion returns the actionable hint, if any.
func (e *ValidationError) Suggestion() string {
	return e.Hint
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource (pipeline file, run record,
// template) does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "pipeline", "run", "template")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ToolUnavailableError indicates an external tool was not found on the
// search path and best-effort provisioning did not produce it. This is
// recoverable: the owning stage proceeds with degraded output.
type ToolUnavailableError struct {
	// Tool is the executable name that could not be located
	Tool string

	// Stage is the stage that declared the tool requirement
	Stage string

	// Cause is the lookup or provisioning error, if any
	Cause error
}

// Error implements the error interface.
func (e *ToolUnavailableError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("tool %q unavailable for stage %s", e.Tool, e.Stage)
	}
	return fmt.Sprintf("tool %q unavailable", e.Tool)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ToolUnavailableError) Unwrap() error {
	return e.Cause
}

// CommandFailedError represents a command that exited non-zero.
// Severity (fatal vs tolerant) is decided by the owning stage's policy,
// not by this error.
type CommandFailedError struct {
	// Command is the command line or argv head that failed
	Command string

	// Stage is the stage the command belongs to
	Stage string

	// ExitCode is the process exit code
	ExitCode int
}

// Error implements the error interface.
func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command %q in stage %s exited with code %d", e.Command, e.Stage, e.ExitCode)
}

// TimeoutError represents operation timeouts.
// Use this when a command or health wait exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "command", "health wait")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ArtifactMissingError indicates a required artifact pattern matched
// nothing and the pattern did not allow empty matches. Always classified
// as a hard failure of the owning stage.
type ArtifactMissingError struct {
	// Pattern is the glob pattern that matched no files
	Pattern string

	// Stage is the stage that declared the artifact
	Stage string
}

// Error implements the error interface.
func (e *ArtifactMissingError) Error() string {
	return fmt.Sprintf("required artifact pattern %q matched no files in stage %s", e.Pattern, e.Stage)
}

// ContainerUnreachableError represents failures talking to the container
// runtime. Fatal for deploy and health units; tolerant-reported for
// best-effort diagnostics such as post-run log capture.
type ContainerUnreachableError struct {
	// Operation is the runtime operation that failed (e.g., "inspect", "deploy")
	Operation string

	// Container is the container name involved, if any
	Container string

	// Cause is the underlying runtime error
	Cause error
}

// Error implements the error interface.
func (e *ContainerUnreachableError) Error() string {
	if e.Container != "" {
		return fmt.Sprintf("container runtime %s failed for %s: %v", e.Operation, e.Container, e.Cause)
	}
	return fmt.Sprintf("container runtime %s failed: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ContainerUnreachableError) Unwrap() error {
	return e.Cause
}

// IsUserVisible marks runtime connectivity failures as user-facing: the
// usual cause is a stopped daemon, which only the user can fix.
func (e *ContainerUnreachableError) IsUserVisible() bool {
	return true
}

// UserMessage returns a description without the wrapped client error.
func (e *ContainerUnreachableError) UserMessage() string {
	if e.Container != "" {
		return fmt.Sprintf("could not %s container %s", e.Operation, e.Container)
	}
	return fmt.Sprintf("could not %s the container runtime", e.Operation)
}

// Suggestion returns guidance for restoring runtime connectivity.
func (e *ContainerUnreachableError) Suggestion() string {
	return "check that the Docker daemon is running and DOCKER_HOST points at it"
}

// ConfigError represents engine configuration problems.
// Use this for missing settings or invalid configuration values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "artifact_dir")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
