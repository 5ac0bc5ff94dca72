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

// Package examples implements the foundry examples command.
package examples

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/foundry/internal/commands/shared"
	"github.com/tombee/foundry/internal/examples"
)

// NewCommand creates the examples command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "examples",
		Short: "List and copy embedded example pipelines",
		Long: `Examples lists the pipelines embedded in the binary. Copy one into
your project as a starting point:

  foundry examples copy quickstart pipeline.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := examples.List()
			if err != nil {
				return err
			}
			for _, e := range list {
				cmd.Printf("%-12s %s\n", e.Name, shared.Muted.Render(e.Description))
			}
			return nil
		},
	}

	cmd.AddCommand(newCopyCommand())

	return cmd
}

func newCopyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "copy <name> [dest]",
		Short: "Copy an embedded example pipeline to a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			dest := name + ".yml"
			if len(args) == 2 {
				dest = args[1]
			}
			if !examples.Exists(name) {
				return fmt.Errorf("example %q not found, run 'foundry examples' to list", name)
			}
			if err := examples.CopyTo(name, dest); err != nil {
				return err
			}
			cmd.Println(shared.RenderOK(fmt.Sprintf("wrote %s", dest)))
			return nil
		},
	}
}
