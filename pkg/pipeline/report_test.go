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
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *RunReport {
	return &RunReport{
		RunID:    "abc-123",
		Pipeline: "webapp-delivery",
		Verdict:  StatusSucceeded,
		Stages: []StageResult{
			{
				Name:     "build",
				Status:   StatusSucceeded,
				Policy:   PolicyFatal,
				Duration: 2 * time.Second,
				Artifacts: []Artifact{
					{Path: "/artifacts/app.bin", SizeBytes: 2048, ProducedBy: "build"},
				},
			},
			{
				Name:     "lint",
				Group:    "verify",
				Status:   StatusFailed,
				Policy:   PolicyTolerant,
				Duration: time.Second,
				Commands: []CommandResult{
					{Command: "make lint", ExitCode: 1},
				},
			},
			{
				Name:   "scan",
				Status: StatusSkipped,
				Policy: PolicyTolerant,
			},
		},
		StartedAt:   time.Now().Add(-5 * time.Second),
		CompletedAt: time.Now(),
		Duration:    5 * time.Second,
	}
}

func TestRenderTextListsEveryStage(t *testing.T) {
	var b strings.Builder
	require.NoError(t, sampleReport().RenderText(&b))
	out := b.String()

	assert.Contains(t, out, "webapp-delivery")
	assert.Contains(t, out, "SUCCEEDED")
	assert.Contains(t, out, "build")
	assert.Contains(t, out, "verify/lint")
	assert.Contains(t, out, "scan")
	assert.Contains(t, out, "tolerated")
	assert.Contains(t, out, "Tolerated failures:")
	assert.Contains(t, out, "app.bin")
	assert.Contains(t, out, "2.0 KiB")
}

func TestRenderTextFatalFailure(t *testing.T) {
	r := sampleReport()
	r.Verdict = StatusFailed
	r.Stages[0].Status = StatusFailed
	r.Stages[0].Fatal = true
	r.Stages[0].Error = "command \"make\" exited 2"

	var b strings.Builder
	require.NoError(t, r.RenderText(&b))
	out := b.String()

	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "Fatal stage:")
	assert.Contains(t, out, "exited 2")
}

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()

	textPath, jsonPath, err := sampleReport().WriteFiles(dir)
	require.NoError(t, err)

	text, err := os.ReadFile(textPath)
	require.NoError(t, err)
	assert.Contains(t, string(text), "webapp-delivery")

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)

	var decoded RunReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "abc-123", decoded.RunID)
	require.Len(t, decoded.Stages, 3)
	assert.Equal(t, StatusFailed, decoded.Stages[1].Status)
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "2.0 KiB", humanSize(2048))
	assert.Equal(t, "3.0 MiB", humanSize(3<<20))
}
