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
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/tombee/foundry/pkg/errors"
)

// evaluateWhen decides whether a stage runs. The expression sees the
// resolved pipeline inputs as `inputs` and the statuses of previously
// finished stages as `stages` (stage name -> status string).
//
// Examples:
//
//	inputs.skip_scans != true
//	stages.build == "succeeded"
func evaluateWhen(code string, inputs map[string]any, statuses map[string]string) (bool, error) {
	if code == "" {
		return true, nil
	}

	env := map[string]any{
		"inputs": inputs,
		"stages": statuses,
	}

	program, err := expr.Compile(code, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, &errors.ValidationError{
			Field:      "when",
			Message:    fmt.Sprintf("invalid condition %q: %v", code, err),
			Hint: "conditions must evaluate to a boolean",
		}
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, &errors.ValidationError{
			Field:   "when",
			Message: fmt.Sprintf("evaluating condition %q: %v", code, err),
		}
	}

	result, ok := out.(bool)
	if !ok {
		return false, &errors.ValidationError{
			Field:   "when",
			Message: fmt.Sprintf("condition %q did not produce a boolean", code),
		}
	}
	return result, nil
}
