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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	pkgerrors "github.com/tombee/foundry/pkg/errors"
)

// Exit codes for the foundry run command
const (
	ExitSuccess            = 0
	ExitPipelineFailed     = 1
	ExitInvalidPipeline    = 2
	ExitMissingInput       = 3
	ExitRuntimeUnreachable = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewPipelineFailedError creates an error for pipeline execution failures
func NewPipelineFailedError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitPipelineFailed,
		Message: msg,
		Cause:   cause,
	}
}

// NewInvalidPipelineError creates an error for invalid pipeline files
func NewInvalidPipelineError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidPipeline,
		Message: msg,
		Cause:   cause,
	}
}

// NewMissingInputError creates an error for missing required inputs
func NewMissingInputError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitMissingInput,
		Message: msg,
		Cause:   cause,
	}
}

// NewRuntimeUnreachableError creates an error for container runtime failures
func NewRuntimeUnreachableError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitRuntimeUnreachable,
		Message: msg,
		Cause:   cause,
	}
}

// HandleExitError checks if an error is an ExitError and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		msg := exitErr.Error()
		if len(msg) > 0 {
			fmt.Fprintln(os.Stderr, "Error:", msg)
		}

		printUserVisibleSuggestion(os.Stderr, err)

		os.Exit(exitErr.Code)
	}

	// Default to pipeline failed
	fmt.Fprintln(os.Stderr, "Error:", err.Error())

	printUserVisibleSuggestion(os.Stderr, err)

	os.Exit(ExitPipelineFailed)
}

// printUserVisibleSuggestion walks the error chain for a UserVisibleError
// and prints its suggestion if available.
func printUserVisibleSuggestion(w io.Writer, err error) {
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				suggestion := userErr.Suggestion()
				if suggestion != "" {
					fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
				}
			}
			return
		}

		err = errors.Unwrap(err)
	}
}
