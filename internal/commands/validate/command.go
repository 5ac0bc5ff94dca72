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

// Package validate implements the foundry validate command.
package validate

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/foundry/internal/commands/shared"
	"github.com/tombee/foundry/pkg/pipeline"
)

// result is the JSON shape emitted with --json.
type result struct {
	Valid    bool   `json:"valid"`
	Pipeline string `json:"pipeline,omitempty"`
	Stages   int    `json:"stages,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <pipeline>",
		Short: "Validate pipeline YAML syntax and structure",
		Long: `Validate checks that a pipeline file parses, rejects unknown fields,
and satisfies the structural rules: unique stage names across the whole
run, known failure policies, and at least one action per stage. No
commands are executed and no container runtime is needed.`,
		Example: `  # Validate a pipeline
  foundry validate pipeline.yml

  # Machine-readable result
  foundry validate pipeline.yml --json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runValidate,
	}

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	def, err := pipeline.Load(args[0])
	if err != nil {
		if shared.GetJSON() {
			emit(cmd, result{Valid: false, Error: err.Error()})
			return &shared.ExitError{Code: shared.ExitInvalidPipeline, Message: ""}
		}
		return shared.NewInvalidPipelineError(fmt.Sprintf("invalid pipeline %s", args[0]), err)
	}

	if shared.GetJSON() {
		emit(cmd, result{Valid: true, Pipeline: def.Name, Stages: def.StageCount()})
		return nil
	}

	cmd.Println(shared.RenderOK(fmt.Sprintf("%s is valid (%d stages)", args[0], def.StageCount())))
	return nil
}

func emit(cmd *cobra.Command, r result) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return
	}
	cmd.Println(string(data))
}
