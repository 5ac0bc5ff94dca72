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
	"os"
	"path/filepath"
	"text/template"

	"github.com/tombee/foundry/pkg/errors"
)

// renderTemplate generates a file from a Go text template as a distinct
// stage action. This replaces inline heredoc file generation (e.g.,
// producing a Dockerfile at runtime) with a testable step whose output
// is a normal file artifact.
//
// The template data is the render definition's Data map with the
// resolved pipeline inputs available under "inputs". Paths are resolved
// relative to workDir.
func renderTemplate(workDir string, def *RenderDefinition, inputs map[string]any) error {
	src := def.Template
	if !filepath.IsAbs(src) {
		src = filepath.Join(workDir, src)
	}

	tmpl, err := template.ParseFiles(src)
	if err != nil {
		if os.IsNotExist(err) {
			return &errors.NotFoundError{Resource: "template", ID: def.Template}
		}
		return errors.Wrapf(err, "parsing template %s", def.Template)
	}

	data := make(map[string]any, len(def.Data)+1)
	for k, v := range def.Data {
		data[k] = v
	}
	data["inputs"] = inputs

	dst := def.Output
	if !filepath.IsAbs(dst) {
		dst = filepath.Join(workDir, dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "creating %s", def.Output)
	}
	defer out.Close()

	if err := tmpl.Execute(out, data); err != nil {
		return errors.Wrapf(err, "rendering %s", def.Template)
	}
	return nil
}
