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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/foundry/pkg/errors"
)

func TestRenderTemplate(t *testing.T) {
	work := t.TempDir()
	writeFile(t, work, "Dockerfile.tmpl", "FROM {{.base}}\nENV TARGET={{.inputs.environment}}\n")

	def := &RenderDefinition{
		Template: "Dockerfile.tmpl",
		Output:   "build/Dockerfile",
		Data:     map[string]interface{}{"base": "alpine:3.20"},
	}
	err := renderTemplate(work, def, map[string]any{"environment": "staging"})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(work, "build", "Dockerfile"))
	require.NoError(t, err)
	assert.Equal(t, "FROM alpine:3.20\nENV TARGET=staging\n", string(got))
}

func TestRenderTemplateMissingSource(t *testing.T) {
	def := &RenderDefinition{Template: "nope.tmpl", Output: "out"}
	err := renderTemplate(t.TempDir(), def, nil)
	require.Error(t, err)

	var nferr *errors.NotFoundError
	assert.True(t, errors.As(err, &nferr))
}

func TestRenderTemplateBadSyntax(t *testing.T) {
	work := t.TempDir()
	writeFile(t, work, "bad.tmpl", "{{.unclosed")

	def := &RenderDefinition{Template: "bad.tmpl", Output: "out"}
	err := renderTemplate(work, def, nil)
	assert.Error(t, err)
}
