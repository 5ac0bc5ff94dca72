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

// Package cli wires the root Cobra command for the foundry binary.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/foundry/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for Foundry
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foundry",
		Short: "Foundry - build, test, scan, and deploy pipelines",
		Long: `Foundry is a command-line pipeline engine. It runs a YAML-defined
sequence of build, test, scan, and deploy stages against your working
tree, collects the artifacts each stage produces, and replaces the
delivery container when everything needed for a deploy went green.

Run 'foundry run pipeline.yml' to execute a pipeline.
Run 'foundry validate pipeline.yml' to check a definition without running it.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	addGlobalFlags(cmd.PersistentFlags())

	return cmd
}

// addGlobalFlags binds the shared flag variables onto the given flag set.
func addGlobalFlags(fs *pflag.FlagSet) {
	verbose, quiet, json := shared.RegisterFlagPointers()

	fs.BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	fs.BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	fs.BoolVar(json, "json", false, "Output in JSON format")
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
