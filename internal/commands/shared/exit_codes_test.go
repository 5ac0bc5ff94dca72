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
	"bytes"
	"errors"
	"strings"
	"testing"

	pkgerrors "github.com/tombee/foundry/pkg/errors"
)

func TestExitError_Error(t *testing.T) {
	err := &ExitError{Code: ExitInvalidPipeline, Message: "loading pipeline.yml"}
	if err.Error() != "loading pipeline.yml" {
		t.Errorf("Error() = %q, want %q", err.Error(), "loading pipeline.yml")
	}

	withCause := &ExitError{Code: ExitMissingInput, Message: "resolving inputs", Cause: errors.New("boom")}
	if withCause.Error() != "resolving inputs: boom" {
		t.Errorf("Error() = %q, want %q", withCause.Error(), "resolving inputs: boom")
	}
	if !errors.Is(withCause, withCause.Cause) {
		t.Error("ExitError should unwrap to its cause")
	}
}

func TestPrintUserVisibleSuggestion_ValidationError(t *testing.T) {
	err := NewInvalidPipelineError("invalid pipeline ci.yml", &pkgerrors.ValidationError{
		Field:   "units[0].stage.policy",
		Message: `unknown policy "lenient"`,
		Hint:    "use fatal or tolerant",
	})

	var buf bytes.Buffer
	printUserVisibleSuggestion(&buf, err)

	if !strings.Contains(buf.String(), "Suggestion: use fatal or tolerant") {
		t.Errorf("suggestion not printed, got %q", buf.String())
	}
}

func TestPrintUserVisibleSuggestion_WrappedError(t *testing.T) {
	// The suggestion must survive wrapping: the chain walk unwraps until
	// it finds a UserVisibleError.
	inner := &pkgerrors.ContainerUnreachableError{Operation: "connect", Cause: errors.New("connection refused")}
	err := NewRuntimeUnreachableError("connecting to container runtime", inner)

	var buf bytes.Buffer
	printUserVisibleSuggestion(&buf, err)

	if !strings.Contains(buf.String(), "Docker daemon") {
		t.Errorf("expected daemon suggestion from wrapped error, got %q", buf.String())
	}
}

func TestPrintUserVisibleSuggestion_NoSuggestion(t *testing.T) {
	err := NewInvalidPipelineError("invalid pipeline", &pkgerrors.ValidationError{
		Field:   "name",
		Message: "pipeline name is required",
	})

	var buf bytes.Buffer
	printUserVisibleSuggestion(&buf, err)

	if buf.Len() != 0 {
		t.Errorf("expected no output for an empty suggestion, got %q", buf.String())
	}
}

func TestPrintUserVisibleSuggestion_NonUserVisibleError(t *testing.T) {
	err := NewPipelineFailedError("executing pipeline", errors.New("plain error"))

	var buf bytes.Buffer
	printUserVisibleSuggestion(&buf, err)

	if buf.Len() != 0 {
		t.Errorf("expected no output for a plain error chain, got %q", buf.String())
	}
}
