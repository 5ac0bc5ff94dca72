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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tombee/foundry/pkg/errors"
)

// Report file names written into the artifact directory.
const (
	ReportTextFile = "run-report.txt"
	ReportJSONFile = "run-report.json"
)

var (
	verdictOKStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	verdictFailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	stageOKStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	stageFailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	stageSkipStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle      = lipgloss.NewStyle().Bold(true)
	dimStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderText writes the human-readable run summary. Every stage that
// was considered appears, including skipped and tolerant-failed ones, so
// a green verdict with red scan lines reads exactly as intended.
func (r *RunReport) RenderText(w io.Writer) error {
	var b strings.Builder

	verdict := verdictOKStyle.Render("SUCCEEDED")
	if r.Verdict == StatusFailed {
		verdict = verdictFailStyle.Render("FAILED")
	}
	fmt.Fprintf(&b, "%s %s  %s  %s\n",
		headerStyle.Render("Pipeline"),
		r.Pipeline,
		verdict,
		dimStyle.Render(fmt.Sprintf("run %s, started %s, took %s",
			r.RunID,
			r.StartedAt.Format(time.RFC3339),
			r.Duration.Round(time.Millisecond))),
	)
	if r.Cancelled {
		fmt.Fprintf(&b, "%s\n", stageFailStyle.Render("Run cancelled before all units were scheduled."))
	}
	b.WriteString("\n")

	for _, s := range r.Stages {
		b.WriteString(renderStageLine(s))
	}

	if tf := r.TolerantFailures(); len(tf) > 0 {
		names := make([]string, len(tf))
		for i, s := range tf {
			names[i] = s.Name
		}
		fmt.Fprintf(&b, "\n%s %s\n",
			headerStyle.Render("Tolerated failures:"),
			strings.Join(names, ", "),
		)
	}
	if fs := r.FatalStage(); fs != nil {
		fmt.Fprintf(&b, "\n%s %s\n", headerStyle.Render("Fatal stage:"), fs.Name)
		if fs.Error != "" {
			fmt.Fprintf(&b, "  %s\n", fs.Error)
		}
	}

	total := 0
	for _, s := range r.Stages {
		total += len(s.Artifacts)
	}
	if total > 0 {
		fmt.Fprintf(&b, "\n%s %d file(s)\n", headerStyle.Render("Artifacts:"), total)
		for _, s := range r.Stages {
			for _, a := range s.Artifacts {
				fmt.Fprintf(&b, "  %s  %s\n", a.Path, dimStyle.Render(humanSize(a.SizeBytes)))
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// renderStageLine formats one stage row of the summary table.
func renderStageLine(s StageResult) string {
	var mark, status string
	switch s.Status {
	case StatusSucceeded:
		mark = stageOKStyle.Render("✓")
		status = stageOKStyle.Render(string(s.Status))
	case StatusFailed:
		mark = stageFailStyle.Render("✗")
		status = stageFailStyle.Render(string(s.Status))
		if !s.Fatal {
			status += dimStyle.Render(" (tolerated)")
		}
	case StatusSkipped:
		mark = stageSkipStyle.Render("-")
		status = stageSkipStyle.Render(string(s.Status))
	default:
		mark = " "
		status = string(s.Status)
	}

	name := s.Name
	if s.Group != "" {
		name = s.Group + "/" + s.Name
	}

	line := fmt.Sprintf("  %s %-28s %s", mark, name, status)
	if s.Status != StatusSkipped {
		line += dimStyle.Render(fmt.Sprintf("  %s", s.Duration.Round(time.Millisecond)))
	}
	if n := len(s.Artifacts); n > 0 {
		line += dimStyle.Render(fmt.Sprintf("  %d artifact(s)", n))
	}
	if s.Health != nil {
		if s.Health.Healthy {
			line += stageOKStyle.Render("  healthy")
		} else {
			line += stageFailStyle.Render("  unhealthy")
		}
	}
	line += "\n"

	for _, w := range s.Warnings {
		line += dimStyle.Render(fmt.Sprintf("      warning: %s", w)) + "\n"
	}
	for _, c := range s.Commands {
		switch {
		case c.Skipped:
			line += dimStyle.Render(fmt.Sprintf("      skipped: %s", c.Command)) + "\n"
		case c.TimedOut:
			line += stageFailStyle.Render(fmt.Sprintf("      timed out: %s", c.Command)) + "\n"
		case c.ExitCode != 0:
			detail := fmt.Sprintf("      exit %d: %s", c.ExitCode, c.Command)
			if c.BestEffort {
				line += dimStyle.Render(detail+" (best effort)") + "\n"
			} else {
				line += stageFailStyle.Render(detail) + "\n"
			}
		}
	}
	return line
}

// WriteFiles persists the report in both text and JSON form into dir and
// returns the written paths. The JSON twin carries the same data for
// machine consumers; the text file is what a human opens first.
func (r *RunReport) WriteFiles(dir string) (textPath, jsonPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", errors.Wrap(err, "creating report directory")
	}

	textPath = filepath.Join(dir, ReportTextFile)
	f, err := os.Create(textPath)
	if err != nil {
		return "", "", errors.Wrap(err, "writing text report")
	}
	if err := r.RenderText(f); err != nil {
		f.Close()
		return "", "", errors.Wrap(err, "writing text report")
	}
	if err := f.Close(); err != nil {
		return "", "", errors.Wrap(err, "writing text report")
	}

	jsonPath = filepath.Join(dir, ReportJSONFile)
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", "", errors.Wrap(err, "encoding JSON report")
	}
	if err := os.WriteFile(jsonPath, append(data, '\n'), 0o644); err != nil {
		return "", "", errors.Wrap(err, "writing JSON report")
	}

	return textPath, jsonPath, nil
}

// humanSize renders a byte count for the report.
func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
