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

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCollectGlobPatterns(t *testing.T) {
	work := t.TempDir()
	out := t.TempDir()
	writeFile(t, work, "reports/unit/junit.xml", "<testsuite/>")
	writeFile(t, work, "reports/integration/junit.xml", "<testsuite/>")
	writeFile(t, work, "reports/readme.txt", "not matched")

	c := NewCollector(work, out)
	// Directories matched by the pattern must be ignored.
	arts, err := c.Collect("test", []ArtifactSpec{{Pattern: "reports/**/*.xml"}})
	require.NoError(t, err)

	require.Len(t, arts, 2)
	for _, a := range arts {
		assert.Equal(t, "test", a.ProducedBy)
		assert.Equal(t, int64(12), a.SizeBytes)
		assert.Equal(t, out, filepath.Dir(a.Path))
	}
}

func TestCollectMissingRequiredArtifact(t *testing.T) {
	c := NewCollector(t.TempDir(), t.TempDir())

	_, err := c.Collect("package", []ArtifactSpec{{Pattern: "dist/*.tar.gz"}})
	require.Error(t, err)

	var missing *errors.ArtifactMissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "dist/*.tar.gz", missing.Pattern)
	assert.Equal(t, "package", missing.Stage)
}

func TestCollectAllowEmptyIsNoOp(t *testing.T) {
	c := NewCollector(t.TempDir(), t.TempDir())

	arts, err := c.Collect("scan", []ArtifactSpec{{Pattern: "*.sarif", AllowEmpty: true}})
	require.NoError(t, err)
	assert.Empty(t, arts)
}

func TestCollectIsIdempotent(t *testing.T) {
	work := t.TempDir()
	out := t.TempDir()
	writeFile(t, work, "app.bin", "binary")

	c := NewCollector(work, out)
	first, err := c.Collect("build", []ArtifactSpec{{Pattern: "app.bin"}})
	require.NoError(t, err)
	second, err := c.Collect("build", []ArtifactSpec{{Pattern: "app.bin"}})
	require.NoError(t, err)

	assert.Equal(t, first, second)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1, "repeat collection must not leave staging files behind")
}

func TestCollectSortedOutput(t *testing.T) {
	work := t.TempDir()
	writeFile(t, work, "b.txt", "b")
	writeFile(t, work, "a.txt", "a")
	writeFile(t, work, "c.txt", "c")

	c := NewCollector(work, t.TempDir())
	arts, err := c.Collect("build", []ArtifactSpec{{Pattern: "*.txt"}})
	require.NoError(t, err)

	require.Len(t, arts, 3)
	assert.Equal(t, "a.txt", filepath.Base(arts[0].Path))
	assert.Equal(t, "b.txt", filepath.Base(arts[1].Path))
	assert.Equal(t, "c.txt", filepath.Base(arts[2].Path))
}

func TestCollectInvalidPattern(t *testing.T) {
	c := NewCollector(t.TempDir(), t.TempDir())

	_, err := c.Collect("build", []ArtifactSpec{{Pattern: "[unclosed"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[unclosed")
}

func TestCollectNoSpecs(t *testing.T) {
	c := NewCollector(t.TempDir(), filepath.Join(t.TempDir(), "never-created"))

	arts, err := c.Collect("build", nil)
	require.NoError(t, err)
	assert.Nil(t, arts)
}
