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

// Package history implements the foundry history command for browsing
// recorded runs.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/tombee/foundry/internal/commands/shared"
	"github.com/tombee/foundry/internal/store"
	"github.com/tombee/foundry/pkg/pipeline"
)

// NewCommand creates the history command with its subcommands
func NewCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse recorded pipeline runs",
		Long: `History lists and inspects runs recorded in the local run database.
Every completed run is stored with its full report unless it was
started with --no-history.`,
	}

	cmd.PersistentFlags().StringVar(&dbPath, "history-db", "", "History database path (default ~/.foundry/history.db)")

	cmd.AddCommand(newListCommand(&dbPath))
	cmd.AddCommand(newShowCommand(&dbPath))

	return cmd
}

func openStore(dbPath string) (*store.Store, error) {
	if dbPath == "" {
		dbPath = store.DefaultPath()
	}
	return store.Open(dbPath)
}

func newListCommand(dbPath *string) *cobra.Command {
	var (
		pipelineName string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Example: `  # Last 20 runs across all pipelines
  foundry history list

  # Last 5 runs of one pipeline
  foundry history list --pipeline webapp-delivery --limit 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(*dbPath)
			if err != nil {
				return shared.NewPipelineFailedError("opening history", err)
			}
			defer s.Close()

			runs, err := s.ListRuns(cmd.Context(), pipelineName, limit)
			if err != nil {
				return shared.NewPipelineFailedError("listing runs", err)
			}

			if shared.GetJSON() {
				data, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}

			if len(runs) == 0 {
				cmd.Println("No recorded runs.")
				return nil
			}
			for _, r := range runs {
				mark := shared.StatusOK.Render(shared.SymbolOK)
				if r.Verdict != pipeline.StatusSucceeded {
					mark = shared.StatusError.Render(shared.SymbolError)
				}
				cmd.Printf("%s %-36s %-20s %-10s %s (%s)\n",
					mark,
					r.RunID,
					r.Pipeline,
					string(r.Verdict),
					r.StartedAt.Local().Format(time.DateTime),
					r.Duration.Round(time.Millisecond),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelineName, "pipeline", "", "Only list runs of this pipeline")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")

	return cmd
}

func newShowCommand(dbPath *string) *cobra.Command {
	var jqExpr string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the full report of one run",
		Example: `  # Full report as JSON
  foundry history show 1b6452dc-7c4d-4b8e-9f1a-2f0c9d3e8a77

  # Just the failed stages
  foundry history show <run-id> --jq '.stages[] | select(.status == "failed")'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(*dbPath)
			if err != nil {
				return shared.NewPipelineFailedError("opening history", err)
			}
			defer s.Close()

			report, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return shared.NewPipelineFailedError(fmt.Sprintf("loading run %s", args[0]), err)
			}

			if jqExpr != "" {
				return renderJQ(cmd, report, jqExpr)
			}

			if shared.GetJSON() {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}

			return report.RenderText(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&jqExpr, "jq", "", "Filter the JSON report with a jq expression")

	return cmd
}

// renderJQ runs a jq filter over the report's JSON form and prints each
// resulting value on its own line.
func renderJQ(cmd *cobra.Command, report *pipeline.RunReport, expr string) error {
	query, err := gojq.Parse(expr)
	if err != nil {
		return shared.NewPipelineFailedError(fmt.Sprintf("invalid jq expression %q", expr), err)
	}

	// Round-trip through JSON so gojq sees plain maps and slices.
	raw, err := json.Marshal(report)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	iter := query.Run(doc)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return shared.NewPipelineFailedError("evaluating jq expression", err)
		}
		out, err := gojq.Marshal(v)
		if err != nil {
			return err
		}
		cmd.Println(string(out))
	}
	return nil
}
