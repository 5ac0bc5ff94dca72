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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/foundry/pkg/errors"
)

// Collector gathers files matching glob patterns into the run's flat
// artifact directory. Collection is idempotent: collecting twice from an
// unchanged tree yields an identical artifact list. Concurrent sibling
// stages must produce non-colliding filenames by construction; the
// collector does not arbitrate.
type Collector struct {
	workDir string
	outDir  string
	logger  *slog.Logger
}

// NewCollector creates a collector rooted at workDir writing into outDir.
func NewCollector(workDir, outDir string) *Collector {
	return &Collector{workDir: workDir, outDir: outDir, logger: slog.Default()}
}

// WithLogger sets a custom logger for the collector.
func (c *Collector) WithLogger(logger *slog.Logger) *Collector {
	c.logger = logger
	return c
}

// Collect gathers every spec's matches for the named stage. A pattern
// with zero matches is a no-op when AllowEmpty is set, and an
// ArtifactMissingError otherwise. The returned list is sorted by path
// for deterministic reports.
func (c *Collector) Collect(stage string, specs []ArtifactSpec) ([]Artifact, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(c.outDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating artifact directory")
	}

	var out []Artifact
	for _, spec := range specs {
		matches, err := doublestar.Glob(os.DirFS(c.workDir), spec.Pattern)
		if err != nil {
			return out, &errors.ValidationError{
				Field:   "artifacts.pattern",
				Message: "invalid glob pattern " + spec.Pattern,
			}
		}

		// Keep only regular files; a pattern may match directories.
		var files []string
		for _, m := range matches {
			info, err := os.Stat(filepath.Join(c.workDir, m))
			if err != nil || info.IsDir() {
				continue
			}
			files = append(files, m)
		}

		if len(files) == 0 {
			if spec.AllowEmpty {
				c.logger.Debug("artifact pattern matched nothing", "stage", stage, "pattern", spec.Pattern)
				continue
			}
			return out, &errors.ArtifactMissingError{Pattern: spec.Pattern, Stage: stage}
		}

		for _, rel := range files {
			art, err := c.copyOne(stage, rel)
			if err != nil {
				return out, err
			}
			out = append(out, art)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// copyOne copies a matched file into the flat artifact directory,
// overwriting any previous copy so repeat collection stays idempotent.
func (c *Collector) copyOne(stage, rel string) (Artifact, error) {
	src := filepath.Join(c.workDir, rel)
	dst := filepath.Join(c.outDir, filepath.Base(rel))

	in, err := os.Open(src)
	if err != nil {
		return Artifact{}, errors.Wrapf(err, "opening artifact %s", rel)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(c.outDir, ".artifact-*")
	if err != nil {
		return Artifact{}, errors.Wrap(err, "staging artifact")
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		return Artifact{}, errors.Wrapf(err, "copying artifact %s", rel)
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, errors.Wrapf(err, "copying artifact %s", rel)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Artifact{}, errors.Wrapf(err, "placing artifact %s", rel)
	}

	return Artifact{Path: dst, SizeBytes: size, ProducedBy: stage}, nil
}
